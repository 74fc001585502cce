package tui

import (
	"github.com/ashureev/goalcoach/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

var (
	Muted   = lipgloss.Color("#6B7280")
	Text    = lipgloss.Color("#E5E7EB")
	Danger  = lipgloss.Color("#EF4444")
	Success = lipgloss.Color("#10B981")

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			PaddingLeft(1).
			PaddingRight(1)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(Muted)

	HelpStyle = lipgloss.NewStyle().
			Foreground(Muted).
			PaddingLeft(1)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Danger).
			PaddingLeft(1)

	userMsgStyle = lipgloss.NewStyle().
			Foreground(Text).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(Muted).
			PaddingLeft(1)

	inputBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(Muted).
				Padding(0, 1)

	doneStepStyle = lipgloss.NewStyle().
			Foreground(Success).
			Strikethrough(true)
)

// accent is the persona's colour, or the default coach colour.
func accent(p domain.Persona) lipgloss.Color {
	if p.IsZero() {
		p = domain.Skyler
	}
	return lipgloss.Color(p.Style.Accent)
}

func coachMsgStyle(p domain.Persona) lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(Text).
		BorderLeft(true).
		BorderStyle(lipgloss.ThickBorder()).
		BorderForeground(accent(p)).
		PaddingLeft(1)
}

func coachNameStyle(p domain.Persona) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(accent(p))
}
