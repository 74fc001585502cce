// Package conversation decides, turn by turn, whether the coach keeps
// probing the user or hands over to plan generation.
package conversation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/goalcoach/internal/domain"
)

// PlanThreshold is the number of user turns after which the coach stops
// asking questions and triggers plan generation.
const PlanThreshold = 4

// Apology replaces the coach's reply when the reply delegate fails.
const Apology = "I'm experiencing some technical difficulties, but I'm still here to help! What social skills would you like to work on?"

// RefinementPrompt is injected when the user goes back from plan review to refine the plan.
const RefinementPrompt = "Great choice! Let's refine your plan. What would you like to adjust? Perhaps the timeline, difficulty level, or specific focus areas?"

// Stage is the state of the probing conversation.
type Stage int

const (
	// StageElaborate asks the user to elaborate on the stated challenge.
	StageElaborate Stage = iota
	// StageSuccess asks what a successful outcome would look like.
	StageSuccess
	// StageBlockers asks what has historically blocked progress.
	StageBlockers
	// StageReady hands over to plan generation.
	StageReady
)

func (s Stage) String() string {
	switch s {
	case StageElaborate:
		return "elaborate"
	case StageSuccess:
		return "success"
	case StageBlockers:
		return "blockers"
	case StageReady:
		return "ready"
	}
	return "unknown"
}

// StageFor maps a user-turn count to its stage. Counts below one are
// treated as the first turn.
func StageFor(userTurns int) Stage {
	switch {
	case userTurns >= PlanThreshold:
		return StageReady
	case userTurns <= 1:
		return StageElaborate
	case userTurns == 2:
		return StageSuccess
	default:
		return StageBlockers
	}
}

// Decision is the coach's next move.
type Decision struct {
	NextUtterance      string `json:"message"`
	ShouldGeneratePlan bool   `json:"generatePlan"`
	Stage              Stage  `json:"-"`
	// Degraded is set when the reply delegate failed and Apology was used.
	Degraded bool `json:"-"`
}

// Decide is the pure decision rule. It depends only on the number of user
// turns in history and on the persona. A zero persona speaks as Skyler.
func Decide(history []domain.Message, persona domain.Persona) Decision {
	if persona.IsZero() {
		persona = domain.Skyler
	}
	stage := StageFor(domain.CountUserTurns(history))
	if stage == StageReady {
		return Decision{
			NextUtterance:      persona.Transition,
			ShouldGeneratePlan: true,
			Stage:              stage,
		}
	}
	return Decision{
		NextUtterance: persona.Question(int(stage)),
		Stage:         stage,
	}
}

// Instruction is appended to the persona system prompt when the reply is
// produced by a delegate.
func Instruction(stage Stage) string {
	switch stage {
	case StageElaborate:
		return "Ask the user to elaborate on the challenge they just described. Ask one or two warm, specific follow-up questions."
	case StageSuccess:
		return "Ask the user what a successful outcome would look like for them. Keep it engaging and personal."
	case StageBlockers:
		return "Ask the user what has historically blocked their progress on this goal."
	case StageReady:
		return "Based on this conversation, you now have enough information to create a personalized plan. Respond with a short message indicating you're ready to create their plan. Do not ask further questions."
	}
	return ""
}

// Replier produces conversational replies. It is an opaque delegate such as
// a hosted LLM or a remote coaching service.
type Replier interface {
	GenerateReply(ctx context.Context, history []domain.Message, persona domain.Persona, instruction string) (string, error)
}

// Controller runs the decision rule and, when configured, asks a delegate
// for the wording of the reply.
type Controller struct {
	replier Replier
	logger  *slog.Logger
}

// NewController creates a controller. A nil replier makes the controller
// answer with the persona's scripted questions.
func NewController(replier Replier, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{replier: replier, logger: logger}
}

// Next decides the coach's next move for history, whose last element is the
// newest user turn. Delegate failures never escape: they yield Apology and
// never trigger plan generation.
func (c *Controller) Next(ctx context.Context, history []domain.Message, persona domain.Persona) Decision {
	decision := Decide(history, persona)
	if c.replier == nil {
		return decision
	}
	if persona.IsZero() {
		persona = domain.Skyler
	}

	reply, err := c.replier.GenerateReply(ctx, history, persona, Instruction(decision.Stage))
	if err == nil {
		reply = strings.TrimSpace(reply)
	}
	if err != nil || reply == "" {
		c.logger.Warn("reply delegate failed, using apology",
			"persona", persona.Name,
			"stage", decision.Stage.String(),
			"error", err,
		)
		return Decision{NextUtterance: Apology, Stage: decision.Stage, Degraded: true}
	}

	decision.NextUtterance = reply
	return decision
}
