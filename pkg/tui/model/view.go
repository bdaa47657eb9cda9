package model

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"

	"github.com/modoterra/cmdlog/pkg/core"
)

// chromeHeight is the rows taken by the prompt and status bar.
const chromeHeight = 3

var (
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	inputStyle   = lipgloss.NewStyle().Bold(true)
	outputStyle  = lipgloss.NewStyle()
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	ruleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// View renders the TUI.
func (a App) View() string {
	if !a.ready {
		return "loading..."
	}
	rule := ruleStyle.Render(strings.Repeat("─", max(a.width, 1)))
	return lipgloss.JoinVertical(lipgloss.Left,
		a.viewport.View(),
		rule,
		a.input.View(),
		a.renderStatusBar(),
	)
}

// renderEntries lays out the log: inputs behind a "$ " prompt, outputs as
// written, the streaming entry followed by spin.
func renderEntries(entries []core.LogEntry, width int, spin string) string {
	if len(entries) == 0 {
		return dimStyle.Render("no commands yet")
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch e.Kind {
		case core.KindInput:
			b.WriteString(promptStyle.Render("$ ") + inputStyle.Render(fit(e.Content, width-2)))
		default:
			text := strings.TrimSuffix(e.Content, "\n")
			if text != "" {
				b.WriteString(outputStyle.Render(fit(text, width)))
			}
			if e.IsPartial {
				if text != "" {
					b.WriteByte(' ')
				}
				b.WriteString(spin)
			}
		}
	}
	return b.String()
}

// fit soft-wraps at word boundaries and hard-wraps words longer than width.
func fit(s string, width int) string {
	if width <= 0 {
		return s
	}
	return wrap.String(wordwrap.String(s, width), width)
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	right := "enter:run ctrl+c:stop/quit ctrl+l:clear pgup/pgdn:scroll"
	if a.busy() {
		right = "ctrl+c:stop pgup/pgdn:scroll"
	}

	gap := a.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}
