package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidPlan is returned when a plan does not have the canonical shape.
var ErrInvalidPlan = errors.New("invalid plan")

// Difficulty grades how demanding a plan step is.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is one of the known difficulties.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// PlanStep is one ordered phase of a plan.
type PlanStep struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	EstimatedDays int        `json:"estimatedDays"`
	Difficulty    Difficulty `json:"difficulty"`
	Completed     bool       `json:"completed"`
}

// MaxStepDays is the longest duration a single step may have.
const MaxStepDays = 36500

// Plan is the structured action plan produced at the end of a conversation.
// Steps are in execution order. TotalDuration is expected to equal the sum
// of step durations but this is not enforced.
type Plan struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	TotalDuration    int        `json:"totalDuration"`
	FeasibilityScore int        `json:"feasibilityScore"`
	Steps            []PlanStep `json:"steps"`
}

// Validate reports whether the plan has the canonical shape.
func (p Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidPlan)
	}
	if p.Title == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidPlan)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidPlan)
	}
	if p.FeasibilityScore < 0 || p.FeasibilityScore > 100 {
		return fmt.Errorf("%w: feasibility score %d out of range", ErrInvalidPlan, p.FeasibilityScore)
	}
	seen := make(map[string]struct{}, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID == "" || s.Title == "" {
			return fmt.Errorf("%w: step %d missing id or title", ErrInvalidPlan, i+1)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidPlan, s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.EstimatedDays <= 0 {
			return fmt.Errorf("%w: step %q has non-positive duration", ErrInvalidPlan, s.ID)
		}
		if s.EstimatedDays > MaxStepDays {
			return fmt.Errorf("%w: step %q lasts %d days", ErrInvalidPlan, s.ID, s.EstimatedDays)
		}
		if !s.Difficulty.Valid() {
			return fmt.Errorf("%w: step %q has difficulty %q", ErrInvalidPlan, s.ID, s.Difficulty)
		}
	}
	return nil
}

// StepDays returns the sum of step durations.
func (p Plan) StepDays() int {
	total := 0
	for _, s := range p.Steps {
		total += s.EstimatedDays
	}
	return total
}

// Progress returns the number of completed steps and the total step count.
func (p Plan) Progress() (completed, total int) {
	for _, s := range p.Steps {
		if s.Completed {
			completed++
		}
	}
	return completed, len(p.Steps)
}

// SetStepCompleted flips the completion flag of a step.
// Returns false if no step has the given ID.
func (p *Plan) SetStepCompleted(stepID string, completed bool) bool {
	for i := range p.Steps {
		if p.Steps[i].ID == stepID {
			p.Steps[i].Completed = completed
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the plan.
func (p Plan) Clone() Plan {
	out := p
	out.Steps = append([]PlanStep(nil), p.Steps...)
	return out
}
