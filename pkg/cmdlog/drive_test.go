package cmdlog

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/modoterra/cmdlog/pkg/core"
	"github.com/modoterra/cmdlog/pkg/stream"
)

// failingReader yields data and then fails with err instead of io.EOF.
type failingReader struct {
	r   io.Reader
	err error
}

func (f *failingReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err == io.EOF {
		return n, f.err
	}
	return n, err
}

func (f *failingReader) Close() error { return nil }

func record(content, metadata string) string {
	return `data: {"content":` + quote(content) + `,"metadata":` + metadata + "}\n\n"
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}

func openStream(ctx context.Context, src io.ReadCloser) *stream.Stream {
	return stream.NewDecoder(testLogger()).Open(ctx, src)
}

func begin(t *testing.T, l *Log, id core.StreamID) {
	t.Helper()
	if err := l.BeginStream(id, ""); err != nil {
		t.Fatal(err)
	}
}

func TestDriveExplicitCompletion(t *testing.T) {
	l := NewLog(testLogger())
	begin(t, l, "s1")

	wire := record("Hello", "{}") + record(" World", `{"is_complete":true}`)
	term := Drive(l, "s1", openStream(context.Background(), io.NopCloser(strings.NewReader(wire))))

	if term.Outcome != stream.OutcomeNormal {
		t.Errorf("outcome: got %v", term.Outcome)
	}
	e, _ := l.Entry("s1")
	if e.Content != "Hello World" || e.IsPartial {
		t.Errorf("entry: got %+v", e)
	}
	if _, ok := l.ActiveStream(); ok {
		t.Error("active stream should be cleared")
	}
}

func TestDriveIgnoresContentAfterCompletion(t *testing.T) {
	l := NewLog(testLogger())
	begin(t, l, "s1")

	wire := record("done", `{"is_complete":true}`) + record(" extra", "{}")
	Drive(l, "s1", openStream(context.Background(), io.NopCloser(strings.NewReader(wire))))

	if e, _ := l.Entry("s1"); e.Content != "done" {
		t.Errorf("content: got %q, want %q", e.Content, "done")
	}
}

func TestDriveCompletionMarkerFinalizesBeforeEOF(t *testing.T) {
	l := NewLog(testLogger())
	begin(t, l, "s1")

	pr, pw := io.Pipe()
	done := make(chan stream.Termination, 1)
	go func() {
		done <- Drive(l, "s1", openStream(context.Background(), pr))
	}()

	if _, err := io.WriteString(pw, record("out", `{"is_complete":true}`)); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if e, _ := l.Entry("s1"); !e.IsPartial {
			break
		}
		select {
		case <-deadline:
			t.Fatal("entry not finalized by the completion marker")
		case <-time.After(5 * time.Millisecond):
		}
	}

	pw.Close()
	<-done
}

func TestDriveTransportErrorFinalizes(t *testing.T) {
	l := NewLog(testLogger())
	begin(t, l, "s1")

	broken := errors.New("broken pipe")
	src := &failingReader{r: strings.NewReader(record("partial", "{}")), err: broken}
	term := Drive(l, "s1", openStream(context.Background(), src))

	if !errors.Is(term.Err(), broken) {
		t.Errorf("err: got %v, want %v", term.Err(), broken)
	}
	e, _ := l.Entry("s1")
	if e.Content != "partial" || e.IsPartial {
		t.Errorf("entry: got %+v", e)
	}
}

func TestDriveCancelBeforeAnyEvent(t *testing.T) {
	l := NewLog(testLogger())
	if err := l.BeginStream("s1", "initial"); err != nil {
		t.Fatal(err)
	}

	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	term := Drive(l, "s1", openStream(ctx, pr))
	if term.Outcome != stream.OutcomeCancelled {
		t.Errorf("outcome: got %v, want cancelled", term.Outcome)
	}
	if term.Err() != nil {
		t.Errorf("cancellation reported as error: %v", term.Err())
	}
	e, _ := l.Entry("s1")
	if e.Content != "initial" || e.IsPartial {
		t.Errorf("entry: got %+v", e)
	}
}

func TestDriveChunkSplitsProduceSameLog(t *testing.T) {
	wire := record("naïve ", "{}") + record("日本語", "{}") + record("\n", `{"is_complete":1}`)

	reference := NewLog(testLogger())
	begin(t, reference, "s")
	Drive(reference, "s", openStream(context.Background(), io.NopCloser(strings.NewReader(wire))))
	want, _ := reference.Entry("s")

	for size := 1; size < len(wire); size += 3 {
		l := NewLog(testLogger())
		begin(t, l, "s")
		src := io.NopCloser(&smallReader{data: []byte(wire), size: size})
		Drive(l, "s", openStream(context.Background(), src))
		if got, _ := l.Entry("s"); got != want {
			t.Fatalf("read size %d: got %+v, want %+v", size, got, want)
		}
	}
}

// smallReader returns at most size bytes per Read.
type smallReader struct {
	data []byte
	size int
}

func (r *smallReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := min(r.size, len(p), len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}
