// Package store provides the persistence gateway for conversations and plans.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/goalcoach/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting conversations and plans.
type Repository interface {
	// AppendTurn adds msg to the user's conversation record, creating the
	// record if needed. Concurrent appends for one user are last-write-wins.
	AppendTurn(ctx context.Context, userID string, msg domain.Message) error

	// LoadHistory returns the user's messages in order; empty if none.
	LoadHistory(ctx context.Context, userID string) ([]domain.Message, error)

	// LoadConversation returns the full conversation record or ErrNotFound.
	LoadConversation(ctx context.Context, userID string) (*domain.ConversationRecord, error)

	// SetGoal records the user's goal text and chosen persona.
	SetGoal(ctx context.Context, userID, goal string, persona domain.Persona) error

	// ResetConversation deletes the user's conversation record.
	ResetConversation(ctx context.Context, userID string) error

	// SavePlan appends a new plan document for the user.
	SavePlan(ctx context.Context, userID string, plan domain.Plan, persona domain.Persona, generatedAt time.Time) (*domain.PlanRecord, error)

	// LoadLatestPlan returns the most recently created plan or ErrNotFound.
	LoadLatestPlan(ctx context.Context, userID string) (*domain.PlanRecord, error)

	// ListPlans returns every plan of the user, newest first; empty if none.
	ListPlans(ctx context.Context, userID string) ([]domain.PlanRecord, error)

	// SetStepCompleted flips the completion flag of one step of a stored
	// plan. Returns ErrNotFound if the plan or step does not exist.
	SetStepCompleted(ctx context.Context, userID, planID, stepID string, completed bool) (*domain.PlanRecord, error)

	// AcceptPlan marks a stored plan as accepted.
	AcceptPlan(ctx context.Context, userID, planID string) (*domain.PlanRecord, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
