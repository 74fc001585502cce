package tui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/goalcoach/internal/domain"
	"github.com/ashureev/goalcoach/internal/flow"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

var stageTitles = map[flow.Stage]string{
	flow.StageIntro:            "Welcome",
	flow.StagePersonaSelection: "Choose your coach",
	flow.StageConversation:     "Conversation",
	flow.StagePlanReview:       "Your plan",
	flow.StageComplete:         "All set",
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.flow.Stage() {
	case flow.StageIntro:
		b.WriteString(m.renderIntro())
	case flow.StagePersonaSelection:
		b.WriteString(m.renderPersonas())
	case flow.StageConversation:
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
		b.WriteString(m.renderInput())
	case flow.StagePlanReview:
		b.WriteString(m.viewport.View())
	case flow.StageComplete:
		b.WriteString(m.renderComplete())
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render("Error: " + m.err.Error()))
	}
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render(m.help()))
	return b.String()
}

func (m Model) renderHeader() string {
	p := m.flow.Persona()
	title := TitleStyle.Foreground(accent(p)).Render("Goal Coach")
	sub := SubtitleStyle.Render(stageTitles[m.flow.Stage()])
	if !p.IsZero() {
		sub = SubtitleStyle.Render(stageTitles[m.flow.Stage()] + " with " + p.Name)
	}
	bar := m.progress.ViewAs(float64(m.flow.Progress()) / 100)
	return lipgloss.JoinHorizontal(lipgloss.Center, title, " ", sub) + "\n " + bar
}

func (m Model) renderIntro() string {
	text := "Turn a social skill you want to build into a step-by-step plan. " +
		"Pick a coach, answer a few questions, and review the plan they put together for you."
	return "\n" + lipgloss.NewStyle().PaddingLeft(1).Render(wordwrap.String(text, m.contentWidth())) + "\n"
}

func (m Model) renderPersonas() string {
	var b strings.Builder
	b.WriteString("\n")
	for i, p := range domain.Personas() {
		cursor := "  "
		if i == m.cursor {
			cursor = coachNameStyle(p).Render("> ")
		}
		fmt.Fprintf(&b, "%s%s\n", cursor, coachNameStyle(p).Render(fmt.Sprintf("%d. %s", i+1, p.Name)))
		if i == m.cursor {
			welcome := wordwrap.String(p.Welcome, m.contentWidth()-4)
			b.WriteString(lipgloss.NewStyle().PaddingLeft(4).Foreground(Muted).Render(welcome))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderMessages() string {
	p := m.flow.Persona()
	width := m.contentWidth() - 2
	var parts []string
	for _, msg := range m.flow.Messages() {
		if !msg.Visible() {
			continue
		}
		content := wordwrap.String(msg.Content, width)
		if msg.Role == domain.RoleUser {
			parts = append(parts, SubtitleStyle.Render("You"), userMsgStyle.Render(content))
			continue
		}
		parts = append(parts, coachNameStyle(p).Render(coachName(p)), coachMsgStyle(p).Render(content))
	}
	return strings.Join(parts, "\n") + "\n"
}

func (m Model) renderInput() string {
	if m.flow.Loading() {
		label := coachName(m.flow.Persona()) + " is thinking..."
		if m.status != "" {
			label = m.status
		}
		return inputBorderStyle.Width(max(m.width-2, 10)).Render(m.spinner.View() + " " + label)
	}
	var hint string
	if s := m.flow.Suggestions(); len(s) > 0 {
		hint = "\n" + SubtitleStyle.Render("Try: "+strings.Join(s, " | "))
	}
	return inputBorderStyle.Width(max(m.width-2, 10)).Render(m.input.View()) + hint
}

func coachName(p domain.Persona) string {
	if p.IsZero() {
		return domain.Skyler.Name
	}
	return p.Name
}

func (m Model) renderPlan() string {
	pl := m.flow.Plan()
	if pl == nil {
		return ""
	}
	p := m.flow.Persona()
	width := m.contentWidth()

	var b strings.Builder
	b.WriteString(coachNameStyle(p).Render(pl.Title))
	b.WriteString("\n")
	b.WriteString(wordwrap.String(pl.Description, width))
	b.WriteString("\n\n")
	b.WriteString(SubtitleStyle.Render(fmt.Sprintf("%d days, feasibility %d%%", pl.TotalDuration, pl.FeasibilityScore)))
	b.WriteString("\n\n")
	for i, s := range pl.Steps {
		head := fmt.Sprintf("Step %d: %s", i+1, s.Title)
		if s.Completed {
			b.WriteString(doneStepStyle.Render(head))
		} else {
			b.WriteString(lipgloss.NewStyle().Bold(true).Render(head))
		}
		b.WriteString(SubtitleStyle.Render(fmt.Sprintf("  (%d days, %s)", s.EstimatedDays, s.Difficulty)))
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().PaddingLeft(2).Render(wordwrap.String(s.Description, width-2)))
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m Model) renderComplete() string {
	p := m.flow.Persona()
	text := "Your plan is saved. Start with step one today, and come back any time to mark steps complete."
	if pl := m.flow.Plan(); pl != nil {
		text = fmt.Sprintf("%q is saved. Start with step one today, and come back any time to mark steps complete.", pl.Title)
	}
	return "\n" + coachMsgStyle(p).Render(wordwrap.String(text, m.contentWidth()-2)) + "\n"
}

func (m Model) help() string {
	switch m.flow.Stage() {
	case flow.StageIntro:
		return "enter start • q quit"
	case flow.StagePersonaSelection:
		return "↑/↓ choose • enter select • ctrl+c quit"
	case flow.StageConversation:
		return "enter send • tab suggestion • ctrl+c quit"
	case flow.StagePlanReview:
		return "r refine • a accept • ↑/↓ scroll • ctrl+c quit"
	case flow.StageComplete:
		return "enter quit"
	}
	return ""
}

func (m Model) contentWidth() int {
	return max(m.width-4, 20)
}

// PrintPlan writes a saved plan as styled text.
func PrintPlan(w io.Writer, rec *domain.PlanRecord) error {
	if rec == nil {
		return errors.New("nil plan record")
	}
	p := rec.Persona
	pl := rec.Plan

	var b strings.Builder
	b.WriteString(coachNameStyle(p).Render(pl.Title))
	b.WriteString("\n")
	b.WriteString(wordwrap.String(pl.Description, 76))
	b.WriteString("\n")
	done := 0
	for _, s := range pl.Steps {
		if s.Completed {
			done++
		}
	}
	status := fmt.Sprintf("%d of %d steps complete, coached by %s", done, len(pl.Steps), coachName(p))
	if rec.Accepted {
		status += ", accepted"
	}
	b.WriteString(SubtitleStyle.Render(status))
	b.WriteString("\n\n")
	for i, s := range pl.Steps {
		head := fmt.Sprintf("[ ] %d. %s (%d days)", i+1, s.Title, s.EstimatedDays)
		if s.Completed {
			head = doneStepStyle.Render(fmt.Sprintf("[x] %d. %s (%d days)", i+1, s.Title, s.EstimatedDays))
		}
		b.WriteString(head)
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
