package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/goalcoach/internal/conversation"
	"github.com/ashureev/goalcoach/internal/domain"
	"github.com/ashureev/goalcoach/internal/store"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	UserID   string         `json:"user_id"`
	Message  string         `json:"message"`
	GoalName string         `json:"goal_name,omitempty"`
	Persona  domain.Persona `json:"avatar,omitempty"`
}

// HandleChat runs one persisted turn: the user message is appended to the
// stored history, the stage controller decides the reply and the reply is
// appended too.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decode(w, r, &req); err != nil {
		h.logger.Warn("Invalid chat request", "error", err)
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}
	userID, err := resolveUserID(r, req.UserID)
	if err != nil {
		h.logger.Warn("Invalid chat request", "error", err)
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}
	content := strings.TrimSpace(req.Message)
	if content == "" {
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}
	if !h.allow(userID) {
		Error(w, http.StatusInternalServerError, errRateLimited)
		return
	}

	decision, err := h.runTurn(r.Context(), userID, content, req.GoalName, req.Persona)
	if err != nil {
		h.logger.Error("Failed to append user turn", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to process message")
		return
	}

	OK(w, map[string]interface{}{
		"reply":        decision.NextUtterance,
		"generatePlan": decision.ShouldGeneratePlan,
	})
}

// runTurn appends content to the stored conversation, decides the reply
// and appends it too. Only a failure to record the user turn is an error:
// read failures degrade to an empty history.
func (h *Handler) runTurn(ctx context.Context, userID, content, goalName string, requested domain.Persona) (conversation.Decision, error) {
	rec, err := h.repo.LoadConversation(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = &domain.ConversationRecord{UserID: userID}
	case err != nil:
		h.logger.Warn("Failed to load conversation, continuing with empty history", "user_id", userID, "error", err)
		rec = &domain.ConversationRecord{UserID: userID}
	}

	persona := requested
	if persona.IsZero() {
		persona = rec.Persona
	}
	goal := strings.TrimSpace(goalName)
	if goal == "" {
		goal = rec.Goal
	}
	// Clients that never name a goal have it taken from their opening turn.
	if goal == "" && domain.CountUserTurns(rec.Messages) == 0 {
		goal = content
	}
	if goal != rec.Goal || (!requested.IsZero() && requested != rec.Persona) {
		if err := h.repo.SetGoal(ctx, userID, goal, requested); err != nil {
			h.logger.Warn("Failed to record goal", "user_id", userID, "error", err)
		}
	}

	userMsg := domain.NewMessage(domain.RoleUser, content)
	if err := h.repo.AppendTurn(ctx, userID, userMsg); err != nil {
		return conversation.Decision{}, err
	}
	history := append(rec.Messages, userMsg)

	decision := h.decideTurn(ctx, history, persona)

	if err := h.repo.AppendTurn(ctx, userID, domain.NewMessage(domain.RoleAssistant, decision.NextUtterance)); err != nil {
		h.logger.Warn("Failed to append assistant turn", "user_id", userID, "error", err)
	}

	h.logger.Info("Chat turn",
		"user_id", userID,
		"persona", persona.Name,
		"stage", decision.Stage.String(),
		"generate_plan", decision.ShouldGeneratePlan,
	)
	return decision, nil
}

// ConversationRequest is the body of POST /api/conversation.
type ConversationRequest struct {
	Messages []domain.Message `json:"messages"`
	Persona  domain.Persona   `json:"avatar"`
}

// HandleConversation runs one stateless turn over client-supplied history.
func (h *Handler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if err := decode(w, r, &req); err != nil {
		h.logger.Warn("Invalid conversation request", "error", err)
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}
	for _, m := range req.Messages {
		if !m.Role.Valid() {
			h.logger.Warn("Invalid conversation request", "role", m.Role)
			Error(w, http.StatusInternalServerError, errInvalidRequest)
			return
		}
	}
	if !h.allow(rateKey(r)) {
		Error(w, http.StatusInternalServerError, errRateLimited)
		return
	}

	decision := h.decideTurn(r.Context(), req.Messages, req.Persona)
	OK(w, map[string]interface{}{
		"data": decision,
	})
}

// AskQuestionsRequest is the body of POST /ask-questions.
type AskQuestionsRequest struct {
	GoalName string `json:"goal_name"`
}

// HandleAskQuestions returns warm-up questions for a goal, newline-joined.
func (h *Handler) HandleAskQuestions(w http.ResponseWriter, r *http.Request) {
	var req AskQuestionsRequest
	if err := decode(w, r, &req); err != nil || strings.TrimSpace(req.GoalName) == "" {
		h.logger.Warn("Invalid questions request", "error", err)
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}
	if !h.allow(rateKey(r)) {
		Error(w, http.StatusInternalServerError, errRateLimited)
		return
	}

	questions, err := h.advisor.Questions(r.Context(), req.GoalName)
	if err != nil {
		h.metrics.DelegateFailure("questions")
		h.logger.Error("Questions generation failed", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to generate questions")
		return
	}
	OK(w, map[string]interface{}{"questions": strings.Join(questions, "\n")})
}
