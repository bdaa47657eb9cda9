package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/modoterra/cmdlog/pkg/core"
)

const defaultReadSize = 32 * 1024

// Outcome describes how a stream ended.
type Outcome int

const (
	OutcomeRunning Outcome = iota
	OutcomeNormal
	OutcomeError
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRunning:
		return "running"
	case OutcomeNormal:
		return "normal"
	case OutcomeError:
		return "error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Termination is the terminal status of a Stream.
type Termination struct {
	Outcome Outcome
	Cause   error
}

// Err returns the transport failure, or nil for normal and cancelled ends.
func (t Termination) Err() error {
	if t.Outcome == OutcomeError {
		return t.Cause
	}
	return nil
}

// Decoder turns byte sources into chunk streams.
type Decoder struct {
	logger   *slog.Logger
	readSize int
}

// NewDecoder creates a decoder that reports dropped records to logger.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger, readSize: defaultReadSize}
}

// Open starts decoding src. Cancelling ctx closes src, which abandons any
// blocked read; the stream then ends as cancelled.
func (d *Decoder) Open(ctx context.Context, src io.ReadCloser) *Stream {
	s := &Stream{
		ctx:    ctx,
		src:    src,
		reader: transform.NewReader(src, unicode.UTF8.NewDecoder()),
		buf:    make([]byte, d.readSize),
		logger: d.logger,
	}
	s.stopWatch = context.AfterFunc(ctx, s.closeSource)
	return s
}

// Stream is a pull iterator over the chunks of one byte source.
//
//	s := dec.Open(ctx, body)
//	for s.Next() {
//	    chunk := s.Chunk()
//	}
//	term := s.Termination()
//
// A Stream is not safe for concurrent use, except that the context it was
// opened with may be cancelled from anywhere.
type Stream struct {
	ctx       context.Context
	src       io.ReadCloser
	reader    io.Reader
	buf       []byte
	framer    Framer
	pending   []string
	readErr   error
	current   core.Chunk
	term      Termination
	logger    *slog.Logger
	stopWatch func() bool
	closeOnce sync.Once
}

// Next advances to the next chunk. It returns false once the stream has
// terminated; Termination then reports why.
func (s *Stream) Next() bool {
	if s.term.Outcome != OutcomeRunning {
		return false
	}
	for {
		if s.ctx.Err() != nil {
			s.finish(OutcomeCancelled, s.ctx.Err())
			return false
		}

		if len(s.pending) > 0 {
			record := s.pending[0]
			s.pending = s.pending[1:]
			chunk, err := ParseRecord(record)
			if err != nil {
				s.drop(record, err)
				continue
			}
			s.current = chunk
			return true
		}

		if s.readErr != nil {
			if errors.Is(s.readErr, io.EOF) {
				s.finish(OutcomeNormal, nil)
			} else {
				s.finish(OutcomeError, s.readErr)
			}
			return false
		}

		n, err := s.reader.Read(s.buf)
		if n > 0 {
			s.pending = append(s.pending, s.framer.Feed(string(s.buf[:n]))...)
		}
		if err != nil {
			if s.ctx.Err() != nil {
				s.finish(OutcomeCancelled, s.ctx.Err())
				return false
			}
			if errors.Is(err, io.EOF) {
				if rest := s.framer.Flush(); rest != "" {
					s.pending = append(s.pending, rest)
				}
			}
			s.readErr = err
		}
	}
}

// Chunk returns the chunk produced by the last successful Next.
func (s *Stream) Chunk() core.Chunk {
	return s.current
}

// Termination reports how the stream ended. Before Next has returned
// false the outcome is OutcomeRunning.
func (s *Stream) Termination() Termination {
	return s.term
}

// Close abandons the stream. A stream closed before it terminated ends as
// cancelled.
func (s *Stream) Close() error {
	if s.term.Outcome == OutcomeRunning {
		s.finish(OutcomeCancelled, context.Canceled)
	}
	return nil
}

func (s *Stream) finish(outcome Outcome, cause error) {
	s.term = Termination{Outcome: outcome, Cause: cause}
	s.pending = nil
	s.current = core.Chunk{}
	s.stopWatch()
	s.closeSource()
}

func (s *Stream) closeSource() {
	s.closeOnce.Do(func() {
		if err := s.src.Close(); err != nil {
			s.logger.Debug("close stream source", "err", err)
		}
	})
}

func (s *Stream) drop(record string, err error) {
	switch {
	case errors.Is(err, ErrEmptyRecord):
		return
	case errors.Is(err, ErrNotData):
		s.logger.Debug("ignoring record", "err", err, "record", excerpt(record))
	default:
		s.logger.Warn("dropping record", "err", err, "record", excerpt(record))
	}
}

func excerpt(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
