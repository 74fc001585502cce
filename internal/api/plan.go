package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/goalcoach/internal/coach"
	"github.com/ashureev/goalcoach/internal/domain"
	"github.com/ashureev/goalcoach/internal/events"
	"github.com/ashureev/goalcoach/internal/plan"
	"github.com/ashureev/goalcoach/internal/store"
	"github.com/ashureev/goalcoach/web"
	"github.com/go-chi/chi/v5"
)

// GeneratePlanRequest is the body of POST /final-plan and
// POST /api/generate-plan. When UserAnswers is empty and a user id is
// known, the stored conversation is used instead.
type GeneratePlanRequest struct {
	UserID      string         `json:"user_id,omitempty"`
	GoalName    string         `json:"goal_name"`
	UserAnswers []string       `json:"user_answers"`
	Persona     domain.Persona `json:"avatar"`
}

// HandleGeneratePlan synthesizes a normalized plan.
func (h *Handler) HandleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	var req GeneratePlanRequest
	if err := decode(w, r, &req); err != nil {
		h.logger.Warn("Invalid plan request", "error", err)
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}
	userID := optionalUserID(r, req.UserID)
	if !h.allow(rateKey(r)) {
		Error(w, http.StatusInternalServerError, errRateLimited)
		return
	}

	ctx := r.Context()
	pr := coach.PlanRequest{
		Goal:    strings.TrimSpace(req.GoalName),
		Answers: req.UserAnswers,
		Persona: req.Persona,
	}
	if len(pr.Answers) == 0 && userID != "" {
		rec, err := h.repo.LoadConversation(ctx, userID)
		switch {
		case err == nil:
			pr.History = rec.Messages
			if pr.Goal == "" {
				pr.Goal = rec.Goal
			}
			if pr.Persona.IsZero() {
				pr.Persona = rec.Persona
			}
		case !errors.Is(err, store.ErrNotFound):
			h.logger.Warn("Failed to load conversation for plan, using request only", "user_id", userID, "error", err)
		}
	}
	if pr.Goal == "" && len(pr.Answers) == 0 && len(pr.History) == 0 {
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}

	p := h.generatePlan(ctx, userID, pr)
	OK(w, map[string]interface{}{"plan": p})
}

// SavePlanRequest is the body of POST /api/save-plan. Plan is passed
// through the normalizer, so any plan-like payload is accepted.
type SavePlanRequest struct {
	UserID    string         `json:"userId"`
	Plan      any            `json:"plan"`
	Persona   domain.Persona `json:"avatar"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

// HandleSavePlan appends a plan document for the user.
func (h *Handler) HandleSavePlan(w http.ResponseWriter, r *http.Request) {
	var req SavePlanRequest
	if err := decode(w, r, &req); err != nil {
		h.logger.Warn("Invalid save plan request", "error", err)
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}
	userID, err := resolveUserID(r, req.UserID)
	if err != nil || req.Plan == nil {
		h.logger.Warn("Invalid save plan request", "error", err)
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}

	generatedAt := time.Now().UTC()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		generatedAt = req.Timestamp.UTC()
	}
	p, source := plan.NormalizeWithSource(req.Plan)
	if source == plan.SourceFallback {
		h.logger.Warn("Saved plan was unusable, storing default plan", "user_id", userID)
	}

	rec, err := h.repo.SavePlan(r.Context(), userID, p, req.Persona, generatedAt)
	if err != nil {
		h.logger.Error("Failed to save plan", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to save plan")
		return
	}
	h.logger.Info("Plan saved", "user_id", userID, "record_id", rec.ID, "plan_id", rec.Plan.ID)
	OK(w, map[string]interface{}{"id": rec.ID})
}

// HandleGetPlan returns the latest plan of a user.
func (h *Handler) HandleGetPlan(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.latestPlan(w, r)
	if !ok {
		return
	}
	OK(w, map[string]interface{}{"data": rec})
}

// HandleListPlans returns every saved plan of a user, newest first.
func (h *Handler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		h.logger.Warn("Invalid plan listing", "error", err)
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}
	plans, err := h.repo.ListPlans(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list plans", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to load plans")
		return
	}
	OK(w, map[string]interface{}{"data": plans})
}

// HandleGetPlanHTML renders the latest plan of a user as HTML.
func (h *Handler) HandleGetPlanHTML(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.latestPlan(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := web.RenderPlan(w, rec); err != nil {
		h.logger.Error("Failed to render plan", "user_id", rec.UserID, "error", err)
	}
}

// latestPlan loads the latest plan for the {userId} parameter, writing the
// error response itself when there is none.
func (h *Handler) latestPlan(w http.ResponseWriter, r *http.Request) (*domain.PlanRecord, bool) {
	userID, err := userIDParam(r)
	if err != nil {
		h.logger.Warn("Invalid plan lookup", "error", err)
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return nil, false
	}
	rec, err := h.repo.LoadLatestPlan(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, errPlanNotFound)
		return nil, false
	}
	if err != nil {
		// Read failures degrade to "not found".
		h.logger.Error("Failed to load plan", "user_id", userID, "error", err)
		Error(w, http.StatusNotFound, errPlanNotFound)
		return nil, false
	}
	return rec, true
}

// StepUpdateRequest is the body of PATCH /api/plan/{userId}/steps/{stepId}.
type StepUpdateRequest struct {
	RecordID  string `json:"record_id,omitempty"`
	Completed bool   `json:"completed"`
}

// HandleSetStepCompleted flips the completion flag of a step of the
// latest plan, or of the record named by RecordID.
func (h *Handler) HandleSetStepCompleted(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	stepID := strings.TrimSpace(chi.URLParam(r, "stepId"))
	var req StepUpdateRequest
	if err == nil {
		err = decode(w, r, &req)
	}
	if err != nil || stepID == "" {
		h.logger.Warn("Invalid step update", "error", err)
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}

	ctx := r.Context()
	planID := req.RecordID
	if planID == "" {
		latest, err := h.repo.LoadLatestPlan(ctx, userID)
		if err != nil {
			h.logger.Warn("No plan to update", "user_id", userID, "error", err)
			Error(w, http.StatusInternalServerError, "Failed to update step")
			return
		}
		planID = latest.ID
	}

	rec, err := h.repo.SetStepCompleted(ctx, userID, planID, stepID, req.Completed)
	if err != nil {
		h.logger.Error("Failed to update step", "user_id", userID, "plan_id", planID, "step_id", stepID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to update step")
		return
	}
	completed := req.Completed
	h.publish(ctx, events.SubjectStepCompleted, events.Event{
		UserID:    userID,
		PlanID:    rec.Plan.ID,
		StepID:    stepID,
		Completed: &completed,
		Persona:   rec.Persona.Name,
	})
	OK(w, map[string]interface{}{"data": rec})
}

// AcceptPlanRequest is the optional body of POST /api/plan/{userId}/accept.
type AcceptPlanRequest struct {
	RecordID string `json:"record_id,omitempty"`
}

// HandleAcceptPlan marks the latest plan, or the record named by RecordID, as accepted.
func (h *Handler) HandleAcceptPlan(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		h.logger.Warn("Invalid accept request", "error", err)
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}
	var req AcceptPlanRequest
	if r.ContentLength > 0 {
		if err := decode(w, r, &req); err != nil {
			h.logger.Warn("Invalid accept request", "error", err)
			Error(w, http.StatusInternalServerError, errInvalidRequest)
			return
		}
	}

	ctx := r.Context()
	planID := req.RecordID
	if planID == "" {
		latest, err := h.repo.LoadLatestPlan(ctx, userID)
		if err != nil {
			h.logger.Warn("No plan to accept", "user_id", userID, "error", err)
			Error(w, http.StatusInternalServerError, "Failed to accept plan")
			return
		}
		planID = latest.ID
	}

	rec, err := h.repo.AcceptPlan(ctx, userID, planID)
	if err != nil {
		h.logger.Error("Failed to accept plan", "user_id", userID, "plan_id", planID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to accept plan")
		return
	}
	h.publish(ctx, events.SubjectPlanAccepted, events.Event{
		UserID:  userID,
		PlanID:  rec.Plan.ID,
		Persona: rec.Persona.Name,
	})
	OK(w, map[string]interface{}{"data": rec})
}

// SummaryRequest is the body of POST /achievement-summary.
type SummaryRequest struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan"`
}

// HandleAchievementSummary returns an encouraging summary of a plan.
func (h *Handler) HandleAchievementSummary(w http.ResponseWriter, r *http.Request) {
	var req SummaryRequest
	if err := decode(w, r, &req); err != nil || strings.TrimSpace(req.Plan) == "" {
		h.logger.Warn("Invalid summary request", "error", err)
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}
	if !h.allow(rateKey(r)) {
		Error(w, http.StatusInternalServerError, errRateLimited)
		return
	}

	summary, err := h.advisor.Summary(r.Context(), req.UserID, req.Plan)
	if err != nil {
		h.metrics.DelegateFailure("summary")
		h.logger.Error("Summary generation failed", "user_id", req.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to generate summary")
		return
	}
	OK(w, map[string]interface{}{"summary": summary})
}
