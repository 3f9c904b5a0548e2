package cli

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent  = lipgloss.Color("#7C5CFF")
	colorSuccess = lipgloss.Color("#2FBF71")
	colorWarn    = lipgloss.Color("#FFB020")
	colorError   = lipgloss.Color("#E23D2D")
	colorMuted   = lipgloss.Color("#8B8598")
	colorInfo    = lipgloss.Color("#5BA8FF")
)

var (
	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	styleAssistant = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	styleUser = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorInfo)

	styleSuccess = lipgloss.NewStyle().
			Foreground(colorSuccess)

	styleWarn = lipgloss.NewStyle().
			Foreground(colorWarn)

	styleError = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorError)

	styleMuted = lipgloss.NewStyle().
			Foreground(colorMuted)

	styleInfo = lipgloss.NewStyle().
			Foreground(colorInfo)
)
