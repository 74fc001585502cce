package coach

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/goalcoach/internal/domain"
	"github.com/ashureev/goalcoach/internal/plan"
)

// Scripted is the local deterministic delegate used when no model is
// configured. It builds plans from the user's own words.
type Scripted struct{}

var _ Planner = Scripted{}
var _ Advisor = Scripted{}

// GeneratePlan builds a plan titled after the goal. The answers to the
// three probing questions (challenge, success, blockers) are woven into
// the step descriptions.
func (Scripted) GeneratePlan(_ context.Context, req PlanRequest) (any, error) {
	goal := strings.TrimSpace(req.Goal)
	answers := req.Answers
	if len(answers) == 0 && len(req.History) > 0 {
		answers = domain.UserAnswers(req.History)
		// The first user turn of a conversation states the goal.
		if len(answers) > 0 {
			if goal == "" {
				goal = answers[0]
			}
			answers = answers[1:]
		}
	}

	p := plan.Default()
	p.ID = ""
	if goal != "" {
		p.Title = titleFor(goal)
		p.Description = fmt.Sprintf("A step-by-step plan to work on: %s", goal)
	}
	if len(answers) > 0 {
		p.Steps[0].Description += " Start from the challenge you described: " + quote(answers[0])
	}
	if len(answers) > 2 {
		p.Steps[1].Description += " Watch for the blocker you named: " + quote(answers[2])
	}
	if len(answers) > 1 {
		p.Steps[2].Description += " Keep the outcome you named in sight: " + quote(answers[1])
	}
	return p, nil
}

func titleFor(goal string) string {
	goal = strings.TrimRight(goal, ".!? ")
	const limit = 60
	if r := []rune(goal); len(r) > limit {
		goal = strings.TrimSpace(string(r[:limit])) + "..."
	}
	return "Plan: " + goal
}

func quote(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return "\"" + s + "\""
}

// Questions returns the three probing questions shared by every persona.
func (Scripted) Questions(_ context.Context, goal string) ([]string, error) {
	subject := "this"
	if g := strings.TrimSpace(goal); g != "" {
		subject = fmt.Sprintf("%q", g)
	}
	return []string{
		fmt.Sprintf("Where does %s show up in your life right now?", subject),
		"What would a successful outcome look like for you?",
		"What has held you back when you tried before?",
	}, nil
}

// Summary returns a fixed encouraging summary.
func (Scripted) Summary(_ context.Context, _, planText string) (string, error) {
	if strings.TrimSpace(planText) == "" {
		return "You showed up and took the first step. Keep going!", nil
	}
	return "You worked through every step of your plan and turned practice into habit. Pick the next skill you want to grow and keep the momentum going!", nil
}
