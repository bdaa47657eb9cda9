package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/modoterra/cmdlog/pkg/core"
)

const (
	defaultShell     = "/bin/sh"
	defaultKillGrace = 5 * time.Second
)

// Runner executes shell commands for remote clients. It implements
// core.Executor.
type Runner struct {
	Shell     string
	Dir       string
	Env       map[string]string
	KillGrace time.Duration
	logger    *slog.Logger
}

// NewRunner creates a runner using /bin/sh and a 5s kill grace.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Shell:     defaultShell,
		KillGrace: defaultKillGrace,
		logger:    logger,
	}
}

// Run starts `shell -c command` in its own process group and blocks until
// it exits. When ctx ends the group gets SIGTERM and, after KillGrace,
// SIGKILL; Run then returns ctx.Err(). A non-zero exit is not an error.
func (r *Runner) Run(ctx context.Context, command string, emit func(core.Output)) (int, error) {
	shell := r.Shell
	if shell == "" {
		shell = defaultShell
	}
	grace := r.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = r.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for k, v := range r.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var (
		killMu sync.Mutex
		killer *time.Timer
	)
	cmd.Cancel = func() error {
		pgid := cmd.Process.Pid
		r.logger.Debug("terminating process group", "pgid", pgid)
		if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
			return err
		}
		killMu.Lock()
		killer = time.AfterFunc(grace, func() {
			r.logger.Warn("process group ignored SIGTERM, killing", "pgid", pgid)
			syscall.Kill(-pgid, syscall.SIGKILL)
		})
		killMu.Unlock()
		return nil
	}
	cmd.WaitDelay = grace + time.Second

	// Output from both pipes reaches emit one piece at a time.
	var emitMu sync.Mutex
	stdout := utf8Writer(&outputWriter{stream: "stdout", mu: &emitMu, emit: emit})
	stderr := utf8Writer(&outputWriter{stream: "stderr", mu: &emitMu, emit: emit})
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start %q: %w", command, err)
	}
	r.logger.Debug("process started", "pid", cmd.Process.Pid, "command", command)

	err := cmd.Wait()
	killMu.Lock()
	if killer != nil {
		killer.Stop()
	}
	killMu.Unlock()

	// Flush any incomplete trailing sequence as a replacement character.
	stdout.Close()
	stderr.Close()

	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, fmt.Errorf("wait %q: %w", command, err)
	}
	return 0, nil
}

// utf8Writer holds back incomplete multi-byte sequences so every piece
// handed to the underlying writer is valid UTF-8.
func utf8Writer(w io.Writer) io.WriteCloser {
	return transform.NewWriter(w, unicode.UTF8.NewDecoder())
}

type outputWriter struct {
	stream string
	mu     *sync.Mutex
	emit   func(core.Output)
}

func (w *outputWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.mu.Lock()
	w.emit(core.Output{Stream: w.stream, Content: string(p)})
	w.mu.Unlock()
	return len(p), nil
}
