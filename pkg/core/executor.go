package core

import (
	"context"
	"errors"
	"io"
)

// ErrStreamUnavailable is wrapped by StreamOpener errors meaning the byte
// stream transport cannot serve the request at all, as opposed to the
// command failing.
var ErrStreamUnavailable = errors.New("command stream unavailable")

// Output is a piece of command output as produced by an Executor.
type Output struct {
	Stream  string // "stdout" or "stderr"
	Content string
}

// Executor runs commands on the daemon side.
type Executor interface {
	// Run executes command, calling emit for every output piece in order.
	// It returns the exit code once the command has ended.
	Run(ctx context.Context, command string, emit func(Output)) (int, error)
}

// StreamOpener opens the remote byte stream carrying a command's output.
type StreamOpener interface {
	// Open starts command remotely. Closing the returned body abandons
	// the stream.
	Open(ctx context.Context, command string) (io.ReadCloser, error)
}

// FallbackExecutor runs a command over a full-duplex transport when the
// byte stream cannot be opened.
type FallbackExecutor interface {
	// Exec runs command under id and calls emit for each chunk in order.
	// It returns once a chunk marks completion, the transport fails, or
	// ctx is done.
	Exec(ctx context.Context, id StreamID, command string, emit func(Chunk)) error
}
