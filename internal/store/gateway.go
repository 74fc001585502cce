package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/goalcoach/internal/docstore"
	"github.com/ashureev/goalcoach/internal/domain"
	"github.com/google/uuid"
)

const conversationsCollection = "conversations"

func plansCollection(userID string) string {
	return "plans/" + userID + "/items"
}

// Gateway implements Repository on top of a document store. Each user has
// one conversation document, rewritten in full on every turn, and an
// append-only collection of plan documents.
type Gateway struct {
	docs docstore.Store
	now  func() time.Time
}

// New creates a gateway over docs.
func New(docs docstore.Store) *Gateway {
	return &Gateway{
		docs: docs,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

var _ Repository = (*Gateway)(nil)

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	return nil
}

// LoadConversation returns the user's conversation record.
func (g *Gateway) LoadConversation(ctx context.Context, userID string) (*domain.ConversationRecord, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	doc, err := g.docs.Get(ctx, conversationsCollection, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation for %s: %w", userID, err)
	}
	var rec domain.ConversationRecord
	if err := json.Unmarshal(doc.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode conversation for %s: %w", userID, err)
	}
	return &rec, nil
}

// loadOrNew returns the stored record or an empty one for userID.
func (g *Gateway) loadOrNew(ctx context.Context, userID string) (*domain.ConversationRecord, error) {
	rec, err := g.LoadConversation(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &domain.ConversationRecord{UserID: userID, Messages: []domain.Message{}}, nil
	}
	return rec, err
}

func (g *Gateway) saveConversation(ctx context.Context, rec *domain.ConversationRecord) error {
	rec.UpdatedAt = g.now()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if err := g.docs.Set(ctx, conversationsCollection, rec.UserID, data, rec.UpdatedAt); err != nil {
		return fmt.Errorf("save conversation for %s: %w", rec.UserID, err)
	}
	return nil
}

// AppendTurn reads the conversation, appends msg and writes the whole
// record back. There is no transaction: two concurrent appends for the
// same user may lose one of the messages.
func (g *Gateway) AppendTurn(ctx context.Context, userID string, msg domain.Message) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = g.now()
	}

	rec, err := g.loadOrNew(ctx, userID)
	if err != nil {
		return err
	}
	rec.Messages = append(rec.Messages, msg)
	return g.saveConversation(ctx, rec)
}

// LoadHistory returns the user's messages. A user with no conversation has
// an empty history.
func (g *Gateway) LoadHistory(ctx context.Context, userID string) ([]domain.Message, error) {
	rec, err := g.LoadConversation(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return []domain.Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Messages == nil {
		return []domain.Message{}, nil
	}
	return rec.Messages, nil
}

// SetGoal records the goal and persona on the conversation record.
func (g *Gateway) SetGoal(ctx context.Context, userID, goal string, persona domain.Persona) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	rec, err := g.loadOrNew(ctx, userID)
	if err != nil {
		return err
	}
	rec.Goal = goal
	if !persona.IsZero() {
		rec.Persona = persona
	}
	return g.saveConversation(ctx, rec)
}

// ResetConversation deletes the conversation record. Plans are kept.
func (g *Gateway) ResetConversation(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if err := g.docs.Delete(ctx, conversationsCollection, userID); err != nil {
		return fmt.Errorf("reset conversation for %s: %w", userID, err)
	}
	return nil
}

// SavePlan appends a plan document. The plan must be canonical.
func (g *Gateway) SavePlan(ctx context.Context, userID string, plan domain.Plan, persona domain.Persona, generatedAt time.Time) (*domain.PlanRecord, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	now := g.now()
	if generatedAt.IsZero() {
		generatedAt = now
	}

	// The goal is copied from the conversation when there is one.
	var goal string
	if rec, err := g.LoadConversation(ctx, userID); err == nil {
		goal = rec.Goal
		if persona.IsZero() {
			persona = rec.Persona
		}
	}

	record := &domain.PlanRecord{
		UserID:      userID,
		Plan:        plan.Clone(),
		Persona:     persona,
		Goal:        goal,
		GeneratedAt: generatedAt.UTC(),
		CreatedAt:   now,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	key, err := g.docs.Add(ctx, plansCollection(userID), data, now)
	if err != nil {
		return nil, fmt.Errorf("save plan for %s: %w", userID, err)
	}
	record.ID = key
	return record, nil
}

func decodePlan(doc docstore.Document) (*domain.PlanRecord, error) {
	var rec domain.PlanRecord
	if err := json.Unmarshal(doc.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", doc.Key, err)
	}
	rec.ID = doc.Key
	return &rec, nil
}

// LoadLatestPlan returns the most recently created plan document.
func (g *Gateway) LoadLatestPlan(ctx context.Context, userID string) (*domain.PlanRecord, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	docs, err := g.docs.Query(ctx, plansCollection(userID), docstore.Query{Descending: true, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("load latest plan for %s: %w", userID, err)
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return decodePlan(docs[0])
}

// ListPlans returns all of the user's plans, newest first.
func (g *Gateway) ListPlans(ctx context.Context, userID string) ([]domain.PlanRecord, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	docs, err := g.docs.Query(ctx, plansCollection(userID), docstore.Query{Descending: true})
	if err != nil {
		return nil, fmt.Errorf("list plans for %s: %w", userID, err)
	}
	plans := make([]domain.PlanRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := decodePlan(doc)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *rec)
	}
	return plans, nil
}

// modifyPlan applies fn to a stored plan document and writes it back in place.
func (g *Gateway) modifyPlan(ctx context.Context, userID, planID string, fn func(*domain.PlanRecord) error) (*domain.PlanRecord, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	collection := plansCollection(userID)
	doc, err := g.docs.Get(ctx, collection, planID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", planID, err)
	}
	rec, err := decodePlan(doc)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	if err := g.docs.Update(ctx, collection, planID, data); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update plan %s: %w", planID, err)
	}
	return rec, nil
}

// SetStepCompleted flips one step's completion flag.
func (g *Gateway) SetStepCompleted(ctx context.Context, userID, planID, stepID string, completed bool) (*domain.PlanRecord, error) {
	return g.modifyPlan(ctx, userID, planID, func(rec *domain.PlanRecord) error {
		if !rec.Plan.SetStepCompleted(stepID, completed) {
			return fmt.Errorf("step %s: %w", stepID, ErrNotFound)
		}
		return nil
	})
}

// AcceptPlan marks the plan accepted. Accepting twice keeps the first
// acceptance time.
func (g *Gateway) AcceptPlan(ctx context.Context, userID, planID string) (*domain.PlanRecord, error) {
	return g.modifyPlan(ctx, userID, planID, func(rec *domain.PlanRecord) error {
		if rec.Accepted {
			return nil
		}
		at := g.now()
		rec.Accepted = true
		rec.AcceptedAt = &at
		return nil
	})
}

// Ping verifies backend connectivity.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.docs.Ping(ctx)
}

// Close closes the underlying document store.
func (g *Gateway) Close() error {
	return g.docs.Close()
}
