package core

import "github.com/google/uuid"

// Kind identifies who produced a log entry.
type Kind string

const (
	KindInput  Kind = "input"
	KindOutput Kind = "output"
)

// StreamID correlates a sequence of stream chunks with one log entry.
// It is opaque and only ever compared by equality.
type StreamID string

// NewStreamID returns a fresh random stream identifier.
func NewStreamID() StreamID {
	return StreamID(uuid.NewString())
}

// LogEntry is one element of a command log.
type LogEntry struct {
	Content   string   `json:"content"`
	Kind      Kind     `json:"kind"`
	IsPartial bool     `json:"is_partial,omitempty"`
	ID        StreamID `json:"id,omitempty"`
}

// Streamed reports whether the entry was created through the streaming path.
func (e LogEntry) Streamed() bool {
	return e.ID != ""
}
