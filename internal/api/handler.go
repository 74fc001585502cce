// Package api provides HTTP handlers for the goalcoach API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/goalcoach/internal/coach"
	"github.com/ashureev/goalcoach/internal/conversation"
	"github.com/ashureev/goalcoach/internal/domain"
	"github.com/ashureev/goalcoach/internal/events"
	"github.com/ashureev/goalcoach/internal/identity"
	"github.com/ashureev/goalcoach/internal/metrics"
	"github.com/ashureev/goalcoach/internal/plan"
	"github.com/ashureev/goalcoach/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxRequestBodySize bounds every JSON request body (1MB).
const maxRequestBodySize = 1 << 20

// Generic client-facing error messages. Internal details are only logged.
const (
	errInvalidRequest = "Invalid request"
	errRateLimited    = "Rate limit exceeded, please slow down"
	errPlanNotFound   = "plan not found"
)

// Deps are the collaborators of the API handlers.
type Deps struct {
	Repo       store.Repository
	Controller *conversation.Controller
	Planner    coach.Planner
	Advisor    coach.Advisor
	Limiter    *coach.RateLimiter
	Metrics    *metrics.Metrics
	Events     events.Publisher
	Logger     *slog.Logger
	// TransitionDelay is the pause before plan generation on the
	// websocket, so the transition utterance can be read.
	TransitionDelay time.Duration
	AllowedOrigin   string
	IsDev           bool
}

// Handler serves the goalcoach HTTP surface.
type Handler struct {
	repo            store.Repository
	controller      *conversation.Controller
	planner         coach.Planner
	advisor         coach.Advisor
	limiter         *coach.RateLimiter
	metrics         *metrics.Metrics
	events          events.Publisher
	logger          *slog.Logger
	transitionDelay time.Duration
	allowedOrigin   string
	isDev           bool
}

// NewHandler creates a Handler. Planner and Advisor default to the
// scripted delegate and Events to a no-op publisher.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		repo:            d.Repo,
		controller:      d.Controller,
		planner:         d.Planner,
		advisor:         d.Advisor,
		limiter:         d.Limiter,
		metrics:         d.Metrics,
		events:          d.Events,
		logger:          d.Logger,
		transitionDelay: d.TransitionDelay,
		allowedOrigin:   d.AllowedOrigin,
		isDev:           d.IsDev,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.controller == nil {
		h.controller = conversation.NewController(nil, h.logger)
	}
	if h.planner == nil {
		h.planner = coach.Scripted{}
	}
	if h.advisor == nil {
		h.advisor = coach.Scripted{}
	}
	if h.events == nil {
		h.events = events.Noop{}
	}
	return h
}

// RegisterRoutes registers every goalcoach route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.HandleChat)
	r.Post("/ask-questions", h.HandleAskQuestions)
	r.Post("/final-plan", h.HandleGeneratePlan)
	r.Post("/achievement-summary", h.HandleAchievementSummary)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealth)
		r.Get("/personas", h.HandlePersonas)
		r.Post("/conversation", h.HandleConversation)
		r.Get("/conversation/{userId}", h.HandleGetConversation)
		r.Delete("/conversation/{userId}", h.HandleResetConversation)
		r.Post("/generate-plan", h.HandleGeneratePlan)
		r.Post("/save-plan", h.HandleSavePlan)
		r.Get("/plan/{userId}", h.HandleGetPlan)
		r.Get("/plans/{userId}", h.HandleListPlans)
		r.Get("/plan/{userId}/html", h.HandleGetPlanHTML)
		r.Patch("/plan/{userId}/steps/{stepId}", h.HandleSetStepCompleted)
		r.Post("/plan/{userId}/accept", h.HandleAcceptPlan)
	})

	r.Get("/ws/conversation", h.ServeWebSocket)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes the failure envelope.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]interface{}{"success": false, "error": message})
}

// OK writes the success envelope with the given extra fields.
func OK(w http.ResponseWriter, fields map[string]interface{}) {
	body := map[string]interface{}{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	JSON(w, http.StatusOK, body)
}

// decode reads a size-limited JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body too large: %w", err)
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// userIDParam returns the validated {userId} path parameter.
func userIDParam(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "userId"))
	if !identity.ValidUserID(id) {
		return "", fmt.Errorf("invalid user id %q", id)
	}
	return id, nil
}

// resolveUserID picks the explicit id or the anonymous cookie id.
func resolveUserID(r *http.Request, explicit string) (string, error) {
	id := identity.Resolve(r.Context(), explicit)
	if !identity.ValidUserID(id) {
		return "", fmt.Errorf("invalid user id %q", id)
	}
	return id, nil
}

// optionalUserID is like resolveUserID but yields "" when no valid id
// is available.
func optionalUserID(r *http.Request, explicit string) string {
	id, err := resolveUserID(r, explicit)
	if err != nil {
		return ""
	}
	return id
}

// rateKey identifies the caller of endpoints that carry no user id.
func rateKey(r *http.Request) string {
	if id := identity.UserIDFromContext(r.Context()); id != "" {
		return id
	}
	return identity.IPFromRequest(r)
}

// allow applies the per-user rate limit.
func (h *Handler) allow(userID string) bool {
	if h.limiter.Allow(userID) {
		return true
	}
	h.metrics.RateLimited()
	h.logger.Warn("Rate limit exceeded", "user_id", userID)
	return false
}

// decideTurn runs the stage controller over history and records metrics.
func (h *Handler) decideTurn(ctx context.Context, history []domain.Message, persona domain.Persona) conversation.Decision {
	decision := h.controller.Next(ctx, history, persona)
	if decision.Degraded {
		h.metrics.DelegateFailure("reply")
	}
	name := persona.Name
	if persona.IsZero() {
		name = domain.Skyler.Name
	}
	h.metrics.Turn(name, decision.Stage.String())
	return decision
}

// generatePlan asks the planner for a plan. Delegate failures and unusable
// payloads both yield the default plan.
func (h *Handler) generatePlan(ctx context.Context, userID string, req coach.PlanRequest) domain.Plan {
	raw, err := h.planner.GeneratePlan(ctx, req)
	if err != nil {
		h.metrics.DelegateFailure("plan")
		h.logger.Warn("Plan delegate failed, using default plan", "user_id", userID, "persona", req.Persona.Name, "error", err)
		raw = nil
	}
	p, source := plan.NormalizeWithSource(raw)
	h.metrics.PlanGenerated(source.String())
	h.logger.Info("Plan generated", "user_id", userID, "plan_id", p.ID, "source", source.String(), "steps", len(p.Steps))
	if userID != "" {
		h.publish(ctx, events.SubjectPlanGenerated, events.Event{
			UserID:  userID,
			PlanID:  p.ID,
			Persona: req.Persona.Name,
			Source:  source.String(),
		})
	}
	return p
}

// publish emits an event without failing the request.
func (h *Handler) publish(ctx context.Context, subject string, ev events.Event) {
	if err := h.events.Publish(ctx, subject, ev); err != nil {
		h.logger.Warn("Failed to publish event", "subject", subject, "user_id", ev.UserID, "error", err)
	}
}

// HandleHealth reports whether the store is reachable.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		Error(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	OK(w, map[string]interface{}{"status": "ok"})
}

type personaView struct {
	Name        string       `json:"name"`
	Style       domain.Style `json:"style"`
	Welcome     string       `json:"welcome"`
	Suggestions [4]string    `json:"suggestions"`
}

// HandlePersonas returns the persona catalogue for clients.
func (h *Handler) HandlePersonas(w http.ResponseWriter, r *http.Request) {
	all := domain.Personas()
	views := make([]personaView, 0, len(all))
	for _, p := range all {
		views = append(views, personaView{
			Name:        p.Name,
			Style:       p.Style,
			Welcome:     p.Welcome,
			Suggestions: p.Suggestions,
		})
	}
	OK(w, map[string]interface{}{"data": views})
}
