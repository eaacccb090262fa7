// Package ui holds the terminal styles and render helpers shared by the
// CLI commands. Color degrades automatically on dumb terminals via
// termenv detection inside lipgloss.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	Green  = lipgloss.Color("#10B981")
	Red    = lipgloss.Color("#EF4444")
	Amber  = lipgloss.Color("#F59E0B")
	Blue   = lipgloss.Color("#60A5FA")
	Muted  = lipgloss.Color("#6B7280")
	Purple = lipgloss.Color("#7C3AED")

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)

	Success = lipgloss.NewStyle().
		Foreground(Green).
		Bold(true)

	Warn = lipgloss.NewStyle().
		Foreground(Amber)

	Fail = lipgloss.NewStyle().
		Foreground(Red).
		Bold(true)

	Accent = lipgloss.NewStyle().
		Foreground(Blue)

	Dim = lipgloss.NewStyle().
		Foreground(Muted)
)

// Plain disables color output, used by the --no-color flag.
func Plain() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// Pass renders a success line with a leading check mark.
func Pass(format string, args ...any) string {
	return Success.Render("✓") + " " + fmt.Sprintf(format, args...)
}

// Cross renders a failure line with a leading cross.
func Cross(format string, args ...any) string {
	return Fail.Render("✗") + " " + fmt.Sprintf(format, args...)
}

// Bullet renders a dimmed list item.
func Bullet(format string, args ...any) string {
	return Dim.Render("•") + " " + fmt.Sprintf(format, args...)
}
