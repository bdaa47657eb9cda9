// Package cmdlog owns the command log and reconciles streamed command
// output into it.
package cmdlog

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modoterra/cmdlog/pkg/core"
)

// ErrStreamActive is returned by BeginStream while another stream is open.
var ErrStreamActive = errors.New("another stream is active")

// Log is an ordered, append-only command log with at most one open stream.
// Entries change only through its methods; readers get copies.
type Log struct {
	mu      sync.RWMutex
	entries []core.LogEntry
	index   map[core.StreamID]int
	active  core.StreamID
	changes chan struct{}
	logger  *slog.Logger
}

// NewLog creates an empty log.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		index:   make(map[core.StreamID]int),
		changes: make(chan struct{}, 1),
		logger:  logger,
	}
}

// AppendInput adds a finished input entry.
func (l *Log) AppendInput(text string) {
	l.appendEntry(core.LogEntry{Content: text, Kind: core.KindInput})
}

// AppendOutput adds a finished output entry.
func (l *Log) AppendOutput(text string) {
	l.appendEntry(core.LogEntry{Content: text, Kind: core.KindOutput})
}

func (l *Log) appendEntry(e core.LogEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	l.notify()
}

// BeginStream adds a partial output entry labelled id and makes it the
// active stream. Reusing an id already present in the log is a
// programming error and panics.
func (l *Log) BeginStream(id core.StreamID, initial string) error {
	return l.begin(nil, id, initial)
}

// beginCommand appends the input entry and the stream's partial entry
// under one lock. Neither is added while another stream is open.
func (l *Log) beginCommand(command string, id core.StreamID) error {
	return l.begin(&core.LogEntry{Content: command, Kind: core.KindInput}, id, "")
}

func (l *Log) begin(input *core.LogEntry, id core.StreamID, initial string) error {
	if id == "" {
		panic("cmdlog: BeginStream with empty stream id")
	}

	l.mu.Lock()
	if _, exists := l.index[id]; exists {
		l.mu.Unlock()
		panic(fmt.Sprintf("cmdlog: stream id %q already labels an entry", id))
	}
	if l.active != "" {
		active := l.active
		l.mu.Unlock()
		return fmt.Errorf("begin %s: %w (%s)", id, ErrStreamActive, active)
	}
	if input != nil {
		l.entries = append(l.entries, *input)
	}
	l.index[id] = len(l.entries)
	l.entries = append(l.entries, core.LogEntry{
		Content:   initial,
		Kind:      core.KindOutput,
		IsPartial: true,
		ID:        id,
	})
	l.active = id
	l.mu.Unlock()

	l.notify()
	return nil
}

// AppendToStream concatenates text onto the entry labelled id. Unknown ids
// and already finalized entries are left untouched.
func (l *Log) AppendToStream(id core.StreamID, text string) {
	l.mu.Lock()
	i, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		l.logger.Debug("append to unknown stream", "stream_id", id)
		return
	}
	if !l.entries[i].IsPartial {
		l.mu.Unlock()
		l.logger.Debug("append to finalized stream", "stream_id", id, "bytes", len(text))
		return
	}
	l.entries[i].Content += text
	l.mu.Unlock()

	l.notify()
}

// CompleteStream finalizes the entry labelled id. Calling it again, or
// with an unknown id, does nothing.
func (l *Log) CompleteStream(id core.StreamID) {
	l.mu.Lock()
	i, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		l.logger.Debug("complete unknown stream", "stream_id", id)
		return
	}
	changed := l.entries[i].IsPartial
	l.entries[i].IsPartial = false
	if l.active == id {
		l.active = ""
	}
	l.mu.Unlock()

	if changed {
		l.notify()
	}
}

// Clear drops every entry and the active stream at once.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.index = make(map[core.StreamID]int)
	l.active = ""
	l.mu.Unlock()

	l.notify()
}

// Snapshot returns a copy of the entries in log order.
func (l *Log) Snapshot() []core.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Entry returns a copy of the entry labelled id.
func (l *Log) Entry(id core.StreamID) (core.LogEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return core.LogEntry{}, false
	}
	return l.entries[i], true
}

// ActiveStream returns the id of the open stream, if any.
func (l *Log) ActiveStream() (core.StreamID, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active, l.active != ""
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Changes is signalled after mutations. Signals coalesce, so a reader must
// take a fresh Snapshot on every receive. Meant for a single reader.
func (l *Log) Changes() <-chan struct{} {
	return l.changes
}

func (l *Log) notify() {
	select {
	case l.changes <- struct{}{}:
	default:
	}
}
