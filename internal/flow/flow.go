// Package flow sequences the user-visible stages of a coaching session:
// intro, persona selection, conversation, plan review and completion.
//
// A Flow holds no I/O. Drivers (the terminal UI, the browser client) call
// the transition methods as the user acts and as delegate calls finish.
package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/goalcoach/internal/conversation"
	"github.com/ashureev/goalcoach/internal/domain"
)

var (
	// ErrInvalidTransition is returned when an action is not allowed in
	// the current stage.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrBusy is returned when input arrives while a request is outstanding.
	ErrBusy = errors.New("request in progress")
)

// Stage is a user-visible stage of the session.
type Stage int

const (
	StageIntro Stage = iota
	StagePersonaSelection
	StageConversation
	StagePlanReview
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageIntro:
		return "intro"
	case StagePersonaSelection:
		return "persona_selection"
	case StageConversation:
		return "conversation"
	case StagePlanReview:
		return "plan_review"
	case StageComplete:
		return "complete"
	}
	return "unknown"
}

// Flow is the session state machine. It is not safe for concurrent use;
// a driver owns one Flow per session.
type Flow struct {
	stage    Stage
	persona  domain.Persona
	messages []domain.Message
	loading  bool
	// planPending is set between a turn that asked for a plan and the
	// plan arriving.
	planPending bool
	plan        *domain.Plan
}

// New returns a flow at the intro stage.
func New() *Flow {
	return &Flow{stage: StageIntro}
}

func (f *Flow) Stage() Stage            { return f.stage }
func (f *Flow) Persona() domain.Persona { return f.persona }
func (f *Flow) Loading() bool           { return f.loading }
func (f *Flow) PlanPending() bool       { return f.planPending }
func (f *Flow) Plan() *domain.Plan      { return f.plan }

// Messages returns a copy of the visible conversation.
func (f *Flow) Messages() []domain.Message {
	out := make([]domain.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *Flow) require(stage Stage, action string) error {
	if f.stage != stage {
		return fmt.Errorf("%w: %s during %s", ErrInvalidTransition, action, f.stage)
	}
	return nil
}

// Start moves from the intro to persona selection.
func (f *Flow) Start() error {
	if err := f.require(StageIntro, "start"); err != nil {
		return err
	}
	f.stage = StagePersonaSelection
	return nil
}

// SelectPersona chooses the coach. It may be called repeatedly until the
// conversation is entered.
func (f *Flow) SelectPersona(p domain.Persona) error {
	if err := f.require(StagePersonaSelection, "select persona"); err != nil {
		return err
	}
	if p.IsZero() {
		return fmt.Errorf("%w: persona is required", ErrInvalidTransition)
	}
	f.persona = p
	return nil
}

// EnterConversation starts the conversation with the persona's welcome.
func (f *Flow) EnterConversation() error {
	if err := f.require(StagePersonaSelection, "enter conversation"); err != nil {
		return err
	}
	if f.persona.IsZero() {
		return fmt.Errorf("%w: no persona selected", ErrInvalidTransition)
	}
	f.stage = StageConversation
	f.messages = []domain.Message{domain.NewMessage(domain.RoleAssistant, f.persona.Welcome)}
	return nil
}

// BeginTurn records a user message and marks a request outstanding.
func (f *Flow) BeginTurn(text string) (domain.Message, error) {
	if err := f.require(StageConversation, "send message"); err != nil {
		return domain.Message{}, err
	}
	if f.loading || f.planPending {
		return domain.Message{}, ErrBusy
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, fmt.Errorf("%w: empty message", ErrInvalidTransition)
	}
	msg := domain.NewMessage(domain.RoleUser, text)
	f.messages = append(f.messages, msg)
	f.loading = true
	return msg, nil
}

// CompleteTurn records the coach's reply. When the decision asks for a
// plan the flow stays loading until PlanReady or PlanFailed.
func (f *Flow) CompleteTurn(d conversation.Decision) error {
	if err := f.require(StageConversation, "complete turn"); err != nil {
		return err
	}
	if !f.loading || f.planPending {
		return fmt.Errorf("%w: no turn outstanding", ErrInvalidTransition)
	}
	f.messages = append(f.messages, domain.NewMessage(domain.RoleAssistant, d.NextUtterance))
	if d.ShouldGeneratePlan {
		f.planPending = true
		return nil
	}
	f.loading = false
	return nil
}

// FailTurn ends an outstanding turn whose request failed, answering with
// the apology.
func (f *Flow) FailTurn() error {
	if err := f.require(StageConversation, "fail turn"); err != nil {
		return err
	}
	if !f.loading || f.planPending {
		return fmt.Errorf("%w: no turn outstanding", ErrInvalidTransition)
	}
	f.messages = append(f.messages, domain.NewMessage(domain.RoleAssistant, conversation.Apology))
	f.loading = false
	return nil
}

// PlanReady moves to plan review with p.
func (f *Flow) PlanReady(p domain.Plan) error {
	if err := f.require(StageConversation, "plan ready"); err != nil {
		return err
	}
	if !f.planPending {
		return fmt.Errorf("%w: no plan requested", ErrInvalidTransition)
	}
	cp := p.Clone()
	f.plan = &cp
	f.planPending = false
	f.loading = false
	f.stage = StagePlanReview
	return nil
}

// PlanFailed abandons a pending plan request and returns control to the
// user in the conversation.
func (f *Flow) PlanFailed() error {
	if err := f.require(StageConversation, "plan failed"); err != nil {
		return err
	}
	if !f.planPending {
		return fmt.Errorf("%w: no plan requested", ErrInvalidTransition)
	}
	f.messages = append(f.messages, domain.NewMessage(domain.RoleAssistant, conversation.Apology))
	f.planPending = false
	f.loading = false
	return nil
}

// Refine returns from plan review to the conversation. Turn counting
// continues, so the next user turn asks for a new plan.
func (f *Flow) Refine() error {
	if err := f.require(StagePlanReview, "refine"); err != nil {
		return err
	}
	f.stage = StageConversation
	f.messages = append(f.messages, domain.NewMessage(domain.RoleAssistant, conversation.RefinementPrompt))
	return nil
}

// Accept completes the session. The plan is not changed afterwards.
func (f *Flow) Accept() error {
	if err := f.require(StagePlanReview, "accept"); err != nil {
		return err
	}
	f.stage = StageComplete
	return nil
}

// Progress is the overall completion percentage shown to the user.
func (f *Flow) Progress() int {
	switch f.stage {
	case StageIntro:
		return 0
	case StagePersonaSelection:
		return 20
	case StageConversation:
		return min(40+5*len(f.messages), 75)
	case StagePlanReview:
		return 80
	case StageComplete:
		return 100
	}
	return 0
}

// Suggestions are quick replies offered at the start of the conversation.
func (f *Flow) Suggestions() []string {
	if f.stage != StageConversation || len(f.messages) > 2 || f.persona.IsZero() {
		return nil
	}
	return f.persona.Suggestions[:]
}
