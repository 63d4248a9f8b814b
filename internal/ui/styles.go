package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/curiosity/internal/model"
)

// Colors used in the application.
var (
	colorPrimary   = lipgloss.Color("62")  // Purple
	colorSecondary = lipgloss.Color("241") // Gray
	colorMuted     = lipgloss.Color("240") // Darker gray
	colorHighlight = lipgloss.Color("212") // Pink
	colorSuccess   = lipgloss.Color("78")  // Green
	colorError     = lipgloss.Color("196") // Red
)

// HeaderStyle for the title line of views and reports.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	Background(colorPrimary).
	Padding(0, 1)

// SectionStyle for section labels ("Signals", "Weird picks").
var SectionStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorHighlight).
	MarginTop(1)

// QuestionStyle for canonical questions.
var QuestionStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255"))

// MetaStyle for secondary figures under a question.
var MetaStyle = lipgloss.NewStyle().
	Foreground(colorSecondary)

// TriggerStyle for the news trigger line.
var TriggerStyle = lipgloss.NewStyle().
	Foreground(colorPrimary).
	Italic(true)

// StatusBar style for the bottom status bar.
var StatusBar = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("236")).
	Padding(0, 1)

// StatusBarKey style for key hints in status bar.
var StatusBarKey = lipgloss.NewStyle().
	Foreground(colorHighlight).
	Bold(true)

// StatusBarText style for descriptive text in status bar.
var StatusBarText = lipgloss.NewStyle().
	Foreground(colorSecondary)

// ErrorStyle for displaying errors.
var ErrorStyle = lipgloss.NewStyle().
	Foreground(colorError).
	Bold(true).
	Padding(0, 1)

// ProgressCheckmark style for completed stages.
var ProgressCheckmark = lipgloss.NewStyle().
	Foreground(colorSuccess).
	Bold(true)

// ProgressTitle style for stage names that are not active.
var ProgressTitle = lipgloss.NewStyle().
	Foreground(colorSecondary)

// ProgressActiveTitle style for the stage currently running.
var ProgressActiveTitle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255"))

// ProgressCount style for per-stage counters.
var ProgressCount = lipgloss.NewStyle().
	Foreground(colorMuted)

// EventsPanel frames the recent events list.
var EventsPanel = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorMuted).
	Padding(1, 2)

// EventsHeaderStyle for headings inside the events panel.
var EventsHeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorHighlight)

// tierStyles colour the tier badge.
var tierStyles = map[model.Tier]lipgloss.Style{
	model.TierBreakout: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255")).Background(colorHighlight).Padding(0, 1),
	model.TierStrong:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("16")).Background(colorSuccess).Padding(0, 1),
	model.TierSignal:   lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Background(colorPrimary).Padding(0, 1),
	model.TierNoise:    lipgloss.NewStyle().Foreground(colorSecondary).Background(lipgloss.Color("236")).Padding(0, 1),
}

func tierBadge(t model.Tier) string {
	style, ok := tierStyles[t]
	if !ok {
		style = tierStyles[model.TierNoise]
	}
	return style.Render(string(t))
}
