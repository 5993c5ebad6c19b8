package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/kwspace/kws/internal/vfs/schema"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// initColor turns styling off for pipes, NO_COLOR and --no-color.
func initColor(disabled bool) {
	if disabled || os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(os.Stdout.Fd())) {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func renderPass(s string) string   { return passStyle.Render(s) }
func renderWarn(s string) string   { return warnStyle.Render(s) }
func renderFail(s string) string   { return failStyle.Render(s) }
func renderAccent(s string) string { return accentStyle.Render(s) }
func renderMuted(s string) string  { return mutedStyle.Render(s) }

func renderStatus(status schema.SyncStatus) string {
	switch status {
	case schema.StatusSynced:
		return renderPass(string(status))
	case schema.StatusConflict:
		return renderFail(string(status))
	case schema.StatusDeleted:
		return renderMuted(string(status))
	default:
		return renderWarn(string(status))
	}
}

// terminalWidth returns the stdout width, or 0 when it is not a terminal.
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// truncatePath shortens p from the left to fit max columns.
func truncatePath(p string, max int) string {
	if max <= 3 || len(p) <= max {
		return p
	}
	return "..." + p[len(p)-max+3:]
}
