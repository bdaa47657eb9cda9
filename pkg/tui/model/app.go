package model

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/cmdlog/pkg/cmdlog"
	"github.com/modoterra/cmdlog/pkg/core"
)

// App is the root Bubble Tea model.
type App struct {
	// Backend
	session *cmdlog.Session
	log     *cmdlog.Log
	running *cmdlog.Execution

	// State
	entries []core.LogEntry

	// UI
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	ready    bool
	width    int
	height   int

	// Status display
	statusMsg string
}

// New creates a new TUI app model driving session.
func New(session *cmdlog.Session) App {
	ti := textinput.New()
	ti.Prompt = "$ "
	ti.Placeholder = "command"
	ti.CharLimit = 4096
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return App{
		session:   session,
		log:       session.Log(),
		input:     ti,
		spinner:   sp,
		statusMsg: "ready",
	}
}

// Init starts the cursor, the spinner, and the log watch.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.spinner.Tick,
		waitForChange(a.log),
		tea.SetWindowTitle("cmdlog"),
	)
}

// logChangedMsg signals that the log was mutated.
type logChangedMsg struct{}

// execDoneMsg carries the end of an execution.
type execDoneMsg struct {
	command   string
	err       error
	cancelled bool
}

func waitForChange(l *cmdlog.Log) tea.Cmd {
	ch := l.Changes()
	return func() tea.Msg {
		<-ch
		return logChangedMsg{}
	}
}

func waitForExec(e *cmdlog.Execution) tea.Cmd {
	return func() tea.Msg {
		err := e.Wait()
		return execDoneMsg{command: e.Command(), err: err, cancelled: e.Cancelled()}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		h := max(a.height-chromeHeight, 1)
		if !a.ready {
			a.viewport = viewport.New(a.width, h)
			a.ready = true
		} else {
			a.viewport.Width = a.width
			a.viewport.Height = h
		}
		a.input.Width = max(a.width-len(a.input.Prompt)-1, 1)
		a.refresh()
		return a, nil

	case logChangedMsg:
		a.entries = a.log.Snapshot()
		a.refresh()
		return a, waitForChange(a.log)

	case execDoneMsg:
		switch {
		case msg.cancelled:
			a.statusMsg = "cancelled"
		case msg.err != nil:
			a.statusMsg = "command failed: " + msg.err.Error()
		default:
			a.statusMsg = "done: " + msg.command
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		if a.streaming() {
			a.refresh()
		}
		return a, cmd

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if a.busy() {
			a.running.Stop()
			a.statusMsg = "stopping..."
			return a, nil
		}
		return a, tea.Quit

	case "ctrl+l":
		if a.busy() {
			a.statusMsg = "cannot clear while a command is running"
			return a, nil
		}
		a.log.Clear()
		a.statusMsg = "cleared"
		return a, nil

	case "enter":
		return a.submit()

	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a App) submit() (tea.Model, tea.Cmd) {
	command := strings.TrimSpace(a.input.Value())
	if command == "" {
		return a, nil
	}
	exec, err := a.session.Run(context.Background(), command)
	switch {
	case errors.Is(err, cmdlog.ErrBusy), errors.Is(err, cmdlog.ErrStreamActive):
		a.statusMsg = "a command is already running"
		return a, nil
	case err != nil:
		a.statusMsg = "error: " + err.Error()
		return a, nil
	}
	a.running = exec
	a.input.Reset()
	a.statusMsg = "running: " + command
	return a, waitForExec(exec)
}

func (a App) busy() bool {
	return a.running != nil && !a.running.Finished()
}

func (a App) streaming() bool {
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].IsPartial {
			return true
		}
	}
	return false
}

// refresh re-renders the log into the viewport, following the tail when
// the view was already at the bottom.
func (a *App) refresh() {
	if !a.ready {
		return
	}
	follow := a.viewport.AtBottom()
	a.viewport.SetContent(renderEntries(a.entries, a.width, a.spinner.View()))
	if follow {
		a.viewport.GotoBottom()
	}
}
