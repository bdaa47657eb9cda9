package cmdlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modoterra/cmdlog/pkg/core"
	"github.com/modoterra/cmdlog/pkg/stream"
)

// ErrBusy is returned by Run while a previous command is still running.
var ErrBusy = errors.New("a command is already running")

// Session runs commands one at a time and streams their output into a Log.
type Session struct {
	log      *Log
	opener   core.StreamOpener
	fallback core.FallbackExecutor
	decoder  *stream.Decoder
	logger   *slog.Logger

	mu      sync.Mutex
	current *Execution
}

// Option configures a Session.
type Option func(*Session)

// WithFallback runs commands through f when the stream cannot be opened.
func WithFallback(f core.FallbackExecutor) Option {
	return func(s *Session) { s.fallback = f }
}

// NewSession creates a session writing into log.
func NewSession(log *Log, opener core.StreamOpener, logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		log:     log,
		opener:  opener,
		decoder: stream.NewDecoder(logger),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Log returns the log the session writes into.
func (s *Session) Log() *Log {
	return s.log
}

// Current returns the most recent execution, or nil.
func (s *Session) Current() *Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Run echoes command into the log as input and starts streaming its output
// into a fresh entry. The returned execution's Stop cancels it.
func (s *Session) Run(ctx context.Context, command string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && !s.current.Finished() {
		return nil, ErrBusy
	}

	id := core.NewStreamID()
	if err := s.log.beginCommand(command, id); err != nil {
		return nil, fmt.Errorf("run %q: %w", command, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	e := &Execution{
		id:      id,
		command: command,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.current = e

	go s.execute(ctx, e)
	return e, nil
}

func (s *Session) execute(ctx context.Context, e *Execution) {
	defer close(e.done)
	defer e.cancel()
	defer s.log.CompleteStream(e.id)

	body, err := s.opener.Open(ctx, e.command)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			e.cancelled = true
		case errors.Is(err, core.ErrStreamUnavailable) && s.fallback != nil:
			s.logger.Info("stream unavailable, using fallback", "stream_id", e.id, "err", err)
			s.runFallback(ctx, e)
		default:
			e.err = fmt.Errorf("open stream: %w", err)
			s.logger.Error("command failed", "stream_id", e.id, "err", e.err)
		}
		return
	}

	term, remote := drive(s.log, e.id, s.decoder.Open(ctx, body))
	e.cancelled = term.Outcome == stream.OutcomeCancelled
	e.err = term.Err()
	if e.err != nil {
		s.logger.Error("command stream failed", "stream_id", e.id, "err", e.err)
		return
	}
	if remote != nil && !e.cancelled {
		e.err = remote
		s.logger.Error("command failed", "stream_id", e.id, "err", e.err)
		return
	}
	s.logger.Debug("command stream ended", "stream_id", e.id, "outcome", term.Outcome)
}

func (s *Session) runFallback(ctx context.Context, e *Execution) {
	var remote error
	err := s.fallback.Exec(ctx, e.id, e.command, func(c core.Chunk) {
		if ctx.Err() != nil {
			return
		}
		if err := applyChunk(s.log, e.id, c); err != nil && remote == nil {
			remote = err
		}
	})
	if ctx.Err() != nil {
		e.cancelled = true
		return
	}
	switch {
	case err != nil:
		e.err = fmt.Errorf("fallback exec: %w", err)
	case remote != nil:
		e.err = remote
	default:
		return
	}
	s.logger.Error("command failed", "stream_id", e.id, "err", e.err)
}

// Execution is one running or finished command.
type Execution struct {
	id      core.StreamID
	command string
	cancel  context.CancelFunc
	done    chan struct{}

	// Written before done is closed.
	err       error
	cancelled bool
}

// ID returns the stream id of the command's output entry.
func (e *Execution) ID() core.StreamID { return e.id }

// Command returns the command text.
func (e *Execution) Command() string { return e.command }

// Stop requests cancellation. It is safe to call at any time, repeatedly.
func (e *Execution) Stop() { e.cancel() }

// Done is closed once the output entry has been finalized.
func (e *Execution) Done() <-chan struct{} { return e.done }

// Finished reports whether the execution has ended.
func (e *Execution) Finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the execution ends and returns its transport error,
// or an ErrRemote the executing side reported. Cancellation is not an
// error.
func (e *Execution) Wait() error {
	<-e.done
	return e.err
}

// Cancelled reports whether the execution ended because it was stopped.
// It blocks until the execution ends.
func (e *Execution) Cancelled() bool {
	<-e.done
	return e.cancelled
}
