package cmdlog

import (
	"errors"
	"fmt"

	"github.com/modoterra/cmdlog/pkg/core"
	"github.com/modoterra/cmdlog/pkg/stream"
)

// ErrRemote wraps a failure the executing side reported in a chunk's
// "error" metadata, such as a command that could not be started.
var ErrRemote = errors.New("remote command failed")

// Drive applies every chunk of s to the stream entry id, which the caller
// must already have begun, and finalizes the entry once s terminates,
// however it terminates.
func Drive(l *Log, id core.StreamID, s *stream.Stream) stream.Termination {
	term, _ := drive(l, id, s)
	return term
}

// drive is Drive that also returns the first remote error carried by a
// chunk.
func drive(l *Log, id core.StreamID, s *stream.Stream) (stream.Termination, error) {
	defer l.CompleteStream(id)
	var remote error
	for s.Next() {
		if err := applyChunk(l, id, s.Chunk()); err != nil && remote == nil {
			remote = err
		}
	}
	return s.Termination(), remote
}

// applyChunk appends content and honours an explicit completion marker,
// which may arrive before the transport itself ends. A non-empty "error"
// metadata string is returned as ErrRemote.
func applyChunk(l *Log, id core.StreamID, c core.Chunk) error {
	l.AppendToStream(id, c.Content)
	if c.Metadata.IsComplete() {
		l.CompleteStream(id)
	}
	if msg := c.Metadata.Get("error").String(); msg != "" {
		return fmt.Errorf("%w: %s", ErrRemote, msg)
	}
	return nil
}
