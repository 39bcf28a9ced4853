package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/reactive-notebook/cellsync/internal/notebook"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
)

func renderPass(s string) string   { return passStyle.Render(s) }
func renderWarn(s string) string   { return warnStyle.Render(s) }
func renderFail(s string) string   { return failStyle.Render(s) }
func renderAccent(s string) string { return accentStyle.Render(s) }
func renderMuted(s string) string  { return mutedStyle.Render(s) }

// statusIcon returns a styled glyph for a run status.
func statusIcon(s notebook.RunStatus) string {
	switch s {
	case notebook.StatusSuccess:
		return renderPass("✓")
	case notebook.StatusError:
		return renderFail("✗")
	case notebook.StatusRunning:
		return renderAccent("●")
	case notebook.StatusBlocked:
		return renderWarn("⊘")
	default:
		return renderMuted("○")
	}
}
