package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	sddaemon "github.com/coreos/go-systemd/v22/daemon"

	"github.com/modoterra/cmdlog/pkg/core"
	"github.com/modoterra/cmdlog/pkg/transport/sse"
	"github.com/modoterra/cmdlog/pkg/transport/uds"
)

const shutdownTimeout = 5 * time.Second

// Options configures the daemon's listeners.
type Options struct {
	SocketPath string
	// ListenAddr is the HTTP address. A socket-activated listener takes
	// precedence; with neither, only the socket is served.
	ListenAddr string
}

// Daemon is the cmdlogd process: it runs commands for clients over the
// HTTP stream and the Unix socket fallback.
type Daemon struct {
	opts    Options
	exec    core.Executor
	server  *uds.Server
	mux     *http.ServeMux
	running map[string]context.CancelFunc
	mu      sync.Mutex
	logger  *slog.Logger
}

// New creates a new daemon instance.
func New(opts Options, exec core.Executor, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		opts:    opts,
		exec:    exec,
		server:  uds.NewServer(opts.SocketPath, logger),
		mux:     http.NewServeMux(),
		running: make(map[string]context.CancelFunc),
		logger:  logger,
	}
	d.registerHandlers()
	return d
}

// Handler returns the HTTP handler serving the command stream.
func (d *Daemon) Handler() http.Handler {
	return d.mux
}

// Running reports how many socket executions are in flight.
func (d *Daemon) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}

// Run serves until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := d.httpListener()
	if err != nil {
		return err
	}
	if err := d.server.Listen(); err != nil {
		if ln != nil {
			ln.Close()
		}
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		if err := d.server.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("socket server: %w", err)
		}
	}()

	var httpSrv *http.Server
	if ln != nil {
		httpSrv = &http.Server{Handler: d.mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
		d.logger.Info("http listening", "addr", ln.Addr().String())
	}

	if ok, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
		d.logger.Warn("sd_notify ready", "err", err)
	} else if ok {
		d.logger.Debug("notified systemd")
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
	cancel()
	if httpSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("http shutdown", "err", err)
		}
		done()
	}
	d.Shutdown()
	return runErr
}

// Shutdown stops the socket server and cancels socket executions.
func (d *Daemon) Shutdown() {
	d.server.Shutdown()
	d.mu.Lock()
	for id, cancel := range d.running {
		cancel()
		delete(d.running, id)
	}
	d.mu.Unlock()
}

func (d *Daemon) httpListener() (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("socket activation: %w", err)
	}
	for _, ln := range listeners {
		if ln != nil {
			d.logger.Info("using socket-activated listener", "addr", ln.Addr().String())
			return ln, nil
		}
	}
	if d.opts.ListenAddr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", d.opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", d.opts.ListenAddr, err)
	}
	return ln, nil
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.MethodPing, d.handlePing)
	d.server.Handle(uds.MethodExec, d.handleExec)
	d.server.Handle(uds.MethodCancel, d.handleCancel)

	d.mux.Handle(sse.ExecPath, sse.NewHandler(d.exec, d.logger))
	d.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok\n"))
	})
}

func (d *Daemon) handlePing(_ context.Context, _ uds.Message) (any, error) {
	return uds.PingResponse{Pong: true}, nil
}

// handleExec starts the command and returns at once; output follows as
// events on the requesting connection. The command stops when that
// connection closes.
func (d *Daemon) handleExec(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.ExecRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.ID == "" {
		return nil, errors.New("exec id is required")
	}
	if req.Command == "" {
		return nil, errors.New("command is required")
	}

	execCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	if _, exists := d.running[req.ID]; exists {
		d.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("exec %s: already running", req.ID)
	}
	d.running[req.ID] = cancel
	d.mu.Unlock()

	go d.runExec(execCtx, req)
	return uds.ExecResponse{Accepted: true}, nil
}

func (d *Daemon) runExec(ctx context.Context, req uds.ExecRequest) {
	defer func() {
		d.mu.Lock()
		if cancel, ok := d.running[req.ID]; ok {
			cancel()
			delete(d.running, req.ID)
		}
		d.mu.Unlock()
	}()

	push := func(content string, metadata map[string]any) {
		meta, err := encodeMetadata(metadata)
		if err != nil {
			d.logger.Error("encode metadata", "id", req.ID, "err", err)
			return
		}
		evt, err := uds.NewEvent(uds.EventExecOutput, uds.ExecOutputEvent{ID: req.ID, Content: content, Metadata: meta})
		if err != nil {
			d.logger.Error("encode event", "id", req.ID, "err", err)
			return
		}
		if err := uds.Push(ctx, evt); err != nil {
			d.logger.Debug("push event", "id", req.ID, "err", err)
		}
	}

	d.logger.Info("socket command started", "id", req.ID, "command", req.Command)
	code, err := d.exec.Run(ctx, req.Command, func(o core.Output) {
		push(o.Content, map[string]any{"stream": o.Stream})
	})

	final := map[string]any{"is_complete": true, "exit_code": code}
	switch {
	case ctx.Err() != nil:
		final["cancelled"] = true
	case err != nil:
		final["error"] = err.Error()
		d.logger.Warn("socket command error", "id", req.ID, "err", err)
	}
	push("", final)
	d.logger.Info("socket command finished", "id", req.ID, "exit_code", code)
}

func (d *Daemon) handleCancel(_ context.Context, msg uds.Message) (any, error) {
	var req uds.CancelRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	d.mu.Lock()
	cancel, ok := d.running[req.ID]
	d.mu.Unlock()
	if ok {
		cancel()
		d.logger.Info("socket command cancel requested", "id", req.ID)
	}
	return uds.CancelResponse{Found: ok}, nil
}

func encodeMetadata(m map[string]any) (core.Metadata, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return core.Metadata(b), nil
}
