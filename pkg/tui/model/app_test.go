package model

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/cmdlog/pkg/cmdlog"
	"github.com/modoterra/cmdlog/pkg/core"
)

type openerFunc func(ctx context.Context, command string) (io.ReadCloser, error)

func (f openerFunc) Open(ctx context.Context, command string) (io.ReadCloser, error) {
	return f(ctx, command)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, opener openerFunc) App {
	t.Helper()
	log := cmdlog.NewLog(quietLogger())
	a := New(cmdlog.NewSession(log, opener, quietLogger()))
	m, _ := a.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return m.(App)
}

func echoOpener(body string) openerFunc {
	return func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

// submit types command, presses enter, and waits for the execution.
func submit(t *testing.T, a App, command string) (App, execDoneMsg) {
	t.Helper()
	a.input.SetValue(command)
	m, cmd := a.Update(tea.KeyMsg{Type: tea.KeyEnter})
	a = m.(App)
	if cmd == nil {
		t.Fatalf("enter produced no command; status %q", a.statusMsg)
	}
	done, ok := cmd().(execDoneMsg)
	if !ok {
		t.Fatal("expected execDoneMsg")
	}
	m, _ = a.Update(logChangedMsg{})
	a = m.(App)
	m, _ = a.Update(done)
	return m.(App), done
}

func TestRunCommandShowsOutput(t *testing.T) {
	a := newTestApp(t, echoOpener(`data: {"content":"hello world\n","metadata":{"is_complete":true}}`+"\n\n"))

	a, done := submit(t, a, "echo hello world")
	if done.err != nil || done.cancelled {
		t.Fatalf("done: %+v", done)
	}
	view := a.View()
	if !strings.Contains(view, "echo hello world") {
		t.Errorf("view missing input line:\n%s", view)
	}
	if !strings.Contains(view, "hello world") {
		t.Errorf("view missing output:\n%s", view)
	}
	if a.statusMsg != "done: echo hello world" {
		t.Errorf("status: got %q", a.statusMsg)
	}
	if a.input.Value() != "" {
		t.Errorf("input not reset: %q", a.input.Value())
	}
}

func TestRunCommandFailure(t *testing.T) {
	a := newTestApp(t, func(context.Context, string) (io.ReadCloser, error) {
		return nil, errors.New("connection refused")
	})

	a, done := submit(t, a, "ls")
	if done.err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(a.statusMsg, "command failed: ") {
		t.Errorf("status: got %q", a.statusMsg)
	}
}

func TestEmptyInputIgnored(t *testing.T) {
	a := newTestApp(t, echoOpener(""))
	a.input.SetValue("   ")
	m, cmd := a.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("blank input should not run")
	}
	if got := m.(App).log.Len(); got != 0 {
		t.Errorf("log len: got %d, want 0", got)
	}
}

func TestCtrlCStopsThenQuits(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	a := newTestApp(t, func(context.Context, string) (io.ReadCloser, error) { return pr, nil })

	a.input.SetValue("sleep 100")
	m, execCmd := a.Update(tea.KeyMsg{Type: tea.KeyEnter})
	a = m.(App)

	m, _ = a.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	a = m.(App)
	if a.statusMsg != "stopping..." {
		t.Errorf("status: got %q", a.statusMsg)
	}

	doneCh := make(chan tea.Msg, 1)
	go func() { doneCh <- execCmd() }()
	var done execDoneMsg
	select {
	case msg := <-doneCh:
		done = msg.(execDoneMsg)
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not stop")
	}
	m, _ = a.Update(done)
	a = m.(App)
	if a.statusMsg != "cancelled" {
		t.Errorf("status: got %q, want cancelled", a.statusMsg)
	}

	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c when idle should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestCtrlLClears(t *testing.T) {
	a := newTestApp(t, echoOpener(`data: {"content":"x","metadata":{"is_complete":true}}`+"\n\n"))
	a, _ = submit(t, a, "true")

	m, _ := a.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	a = m.(App)
	if a.log.Len() != 0 {
		t.Errorf("log len after clear: got %d", a.log.Len())
	}
	m, _ = a.Update(logChangedMsg{})
	if view := m.(App).View(); !strings.Contains(view, "no commands yet") {
		t.Errorf("view after clear:\n%s", view)
	}
}

func TestRenderEntries(t *testing.T) {
	entries := []core.LogEntry{
		{Kind: core.KindInput, Content: "ls"},
		{Kind: core.KindOutput, Content: "a\nb\n"},
		{Kind: core.KindInput, Content: "tail -f log"},
		{Kind: core.KindOutput, Content: "line", IsPartial: true, ID: "s2"},
	}
	got := renderEntries(entries, 80, "*")
	for _, want := range []string{"ls", "a\nb", "tail -f log", "line *"} {
		if !strings.Contains(got, want) {
			t.Errorf("render missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "b\n\n") {
		t.Errorf("trailing newline of output not trimmed:\n%s", got)
	}
}

func TestRenderEntriesWraps(t *testing.T) {
	long := strings.Repeat("x", 25)
	got := renderEntries([]core.LogEntry{{Kind: core.KindOutput, Content: long}}, 10, "")
	for _, line := range strings.Split(got, "\n") {
		if len(line) > 10 {
			t.Errorf("line exceeds width: %q", line)
		}
	}
}

func TestViewBeforeSize(t *testing.T) {
	log := cmdlog.NewLog(quietLogger())
	a := New(cmdlog.NewSession(log, echoOpener(""), quietLogger()))
	if got := a.View(); got != "loading..." {
		t.Errorf("View() = %q", got)
	}
}
