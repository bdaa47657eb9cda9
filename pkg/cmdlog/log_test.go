package cmdlog

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/modoterra/cmdlog/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countPartial(entries []core.LogEntry) int {
	n := 0
	for _, e := range entries {
		if e.IsPartial {
			n++
		}
	}
	return n
}

func TestAppendInputOutput(t *testing.T) {
	l := NewLog(testLogger())
	l.AppendInput("ls")
	l.AppendOutput("a b c")

	want := []core.LogEntry{
		{Content: "ls", Kind: core.KindInput},
		{Content: "a b c", Kind: core.KindOutput},
	}
	if got := l.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("snapshot: got %+v, want %+v", got, want)
	}
}

func TestStreamLifecycle(t *testing.T) {
	l := NewLog(testLogger())
	if err := l.BeginStream("s1", ""); err != nil {
		t.Fatal(err)
	}
	if id, ok := l.ActiveStream(); !ok || id != "s1" {
		t.Fatalf("active: got %q, %v", id, ok)
	}

	l.AppendToStream("s1", "Hello")
	l.AppendToStream("s1", " World")
	l.CompleteStream("s1")

	e, ok := l.Entry("s1")
	if !ok {
		t.Fatal("entry s1 not found")
	}
	if e.Content != "Hello World" {
		t.Errorf("content: got %q", e.Content)
	}
	if e.IsPartial {
		t.Error("entry should be finalized")
	}
	if e.Kind != core.KindOutput {
		t.Errorf("kind: got %q", e.Kind)
	}
	if _, ok := l.ActiveStream(); ok {
		t.Error("active stream should be cleared")
	}
}

func TestBeginStreamInitialText(t *testing.T) {
	l := NewLog(testLogger())
	if err := l.BeginStream("s1", "$ "); err != nil {
		t.Fatal(err)
	}
	l.AppendToStream("s1", "ok")
	if e, _ := l.Entry("s1"); e.Content != "$ ok" {
		t.Errorf("content: got %q", e.Content)
	}
}

func TestCompleteStreamIdempotent(t *testing.T) {
	once := NewLog(testLogger())
	twice := NewLog(testLogger())
	for _, l := range []*Log{once, twice} {
		l.AppendInput("echo x")
		if err := l.BeginStream("s1", ""); err != nil {
			t.Fatal(err)
		}
		l.AppendToStream("s1", "x")
		l.CompleteStream("s1")
	}
	twice.CompleteStream("s1")

	if !reflect.DeepEqual(once.Snapshot(), twice.Snapshot()) {
		t.Errorf("double complete changed state: %+v vs %+v", once.Snapshot(), twice.Snapshot())
	}
	if _, ok := twice.ActiveStream(); ok {
		t.Error("active stream should stay cleared")
	}
}

func TestStaleReferencesAreNoOps(t *testing.T) {
	l := NewLog(testLogger())
	l.AppendToStream("unknown", "x")
	l.CompleteStream("unknown")
	if l.Len() != 0 {
		t.Fatalf("empty log changed: %+v", l.Snapshot())
	}

	l.AppendOutput("plain")
	if err := l.BeginStream("s1", "a"); err != nil {
		t.Fatal(err)
	}
	before := l.Snapshot()
	l.AppendToStream("s2", "x")
	l.CompleteStream("s2")
	if !reflect.DeepEqual(before, l.Snapshot()) {
		t.Errorf("unknown id altered entries: %+v", l.Snapshot())
	}
	if id, _ := l.ActiveStream(); id != "s1" {
		t.Errorf("active: got %q, want s1", id)
	}
}

func TestAppendAfterCompleteIgnored(t *testing.T) {
	l := NewLog(testLogger())
	if err := l.BeginStream("s1", ""); err != nil {
		t.Fatal(err)
	}
	l.AppendToStream("s1", "done")
	l.CompleteStream("s1")
	l.AppendToStream("s1", " late")

	if e, _ := l.Entry("s1"); e.Content != "done" {
		t.Errorf("finalized entry mutated: %q", e.Content)
	}
}

func TestBeginStreamWhileActive(t *testing.T) {
	l := NewLog(testLogger())
	if err := l.BeginStream("s1", ""); err != nil {
		t.Fatal(err)
	}
	err := l.BeginStream("s2", "")
	if !errors.Is(err, ErrStreamActive) {
		t.Fatalf("err: got %v, want ErrStreamActive", err)
	}
	if l.Len() != 1 {
		t.Errorf("rejected begin added an entry: %+v", l.Snapshot())
	}

	l.CompleteStream("s1")
	if err := l.BeginStream("s2", ""); err != nil {
		t.Errorf("begin after completion: %v", err)
	}
}

func TestBeginStreamDuplicateIDPanics(t *testing.T) {
	l := NewLog(testLogger())
	if err := l.BeginStream("s1", ""); err != nil {
		t.Fatal(err)
	}
	l.CompleteStream("s1")

	defer func() {
		if recover() == nil {
			t.Error("expected panic for reused stream id")
		}
	}()
	l.BeginStream("s1", "")
}

func TestBeginStreamEmptyIDPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for empty stream id")
		}
	}()
	NewLog(testLogger()).BeginStream("", "")
}

func TestClear(t *testing.T) {
	l := NewLog(testLogger())
	l.AppendInput("cmd")
	if err := l.BeginStream("s1", ""); err != nil {
		t.Fatal(err)
	}
	l.Clear()

	if l.Len() != 0 {
		t.Errorf("entries after clear: %d", l.Len())
	}
	if _, ok := l.ActiveStream(); ok {
		t.Error("active stream survived clear")
	}

	// Events for the cleared stream must not resurrect anything.
	l.AppendToStream("s1", "late")
	l.CompleteStream("s1")
	if l.Len() != 0 {
		t.Errorf("stale event after clear changed log: %+v", l.Snapshot())
	}
}

func TestAtMostOnePartial(t *testing.T) {
	l := NewLog(testLogger())
	ops := []func(){
		func() { l.AppendInput("a") },
		func() { l.BeginStream("s1", "") },
		func() { l.BeginStream("s2", "") },
		func() { l.AppendToStream("s1", "x") },
		func() { l.AppendOutput("plain") },
		func() { l.CompleteStream("s2") },
		func() { l.CompleteStream("s1") },
		func() { l.BeginStream("s2", "") },
		func() { l.BeginStream("s3", "") },
		func() { l.Clear() },
		func() { l.BeginStream("s3", "") },
		func() { l.CompleteStream("s3") },
	}
	for i, op := range ops {
		op()
		if n := countPartial(l.Snapshot()); n > 1 {
			t.Fatalf("after op %d: %d partial entries", i, n)
		}
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	l := NewLog(testLogger())
	l.AppendOutput("orig")
	snap := l.Snapshot()
	snap[0].Content = "mutated"
	if got := l.Snapshot()[0].Content; got != "orig" {
		t.Errorf("snapshot aliased log storage: %q", got)
	}
}

func TestChangesCoalesce(t *testing.T) {
	l := NewLog(testLogger())
	l.AppendInput("a")
	l.AppendInput("b")

	select {
	case <-l.Changes():
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-l.Changes():
		t.Fatal("signals should coalesce")
	default:
	}

	l.AppendToStream("missing", "x")
	select {
	case <-l.Changes():
		t.Error("no-op should not signal")
	default:
	}
}

func TestBeginCommandWhileActiveLeavesLog(t *testing.T) {
	l := NewLog(testLogger())
	begin(t, l, "s1")

	if err := l.beginCommand("ls", "s2"); !errors.Is(err, ErrStreamActive) {
		t.Fatalf("beginCommand: got %v, want ErrStreamActive", err)
	}
	if got := l.Len(); got != 1 {
		t.Errorf("entries: got %d, want 1: %+v", got, l.Snapshot())
	}
	if _, ok := l.Entry("s2"); ok {
		t.Error("rejected stream got an entry")
	}
}
