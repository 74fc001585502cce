package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ashureev/goalcoach/internal/coach"
	"github.com/ashureev/goalcoach/internal/conversation"
	"github.com/ashureev/goalcoach/internal/domain"
	"github.com/coder/websocket"
)

// wsInbound is a client frame on /ws/conversation.
type wsInbound struct {
	Type    string         `json:"type"`
	UserID  string         `json:"user_id,omitempty"`
	Content string         `json:"content,omitempty"`
	Goal    string         `json:"goal,omitempty"`
	Persona domain.Persona `json:"persona,omitempty"`
}

// wsOutbound is a server frame on /ws/conversation.
type wsOutbound struct {
	Type         string       `json:"type"`
	Message      string       `json:"message,omitempty"`
	GeneratePlan bool         `json:"generatePlan,omitempty"`
	Stage        string       `json:"stage,omitempty"`
	Plan         *domain.Plan `json:"plan,omitempty"`
	RecordID     string       `json:"record_id,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// wsSession is the per-connection state. Only one plan generation may be
// outstanding; turns are refused while it runs.
type wsSession struct {
	ws         *websocket.Conn
	userID     string
	persona    domain.Persona
	generating atomic.Bool
}

func (s *wsSession) send(ctx context.Context, msg wsOutbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.ws.Write(writeCtx, websocket.MessageText, data)
}

// ServeWebSocket carries the persisted turn protocol over a websocket.
// When a reply signals plan generation the plan is generated after the
// transition delay, saved and pushed as a "plan" frame.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		Error(w, http.StatusForbidden, "origin not allowed")
		return
	}
	userID := optionalUserID(r, r.URL.Query().Get("user_id"))
	if userID == "" {
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	ws.SetReadLimit(maxRequestBodySize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &wsSession{ws: ws, userID: userID}
	h.logger.Info("Conversation socket opened", "user_id", userID)
	h.readLoop(ctx, sess)
	h.logger.Info("Conversation socket closed", "user_id", userID)
}

func (h *Handler) readLoop(ctx context.Context, sess *wsSession) {
	for {
		_, data, err := sess.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "user_id", sess.userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", sess.userID)
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(ctx, sess, errInvalidRequest)
			continue
		}

		switch msg.Type {
		case "start":
			h.handleSocketStart(ctx, sess, msg)
		case "message":
			h.handleSocketTurn(ctx, sess, msg)
		case "ping":
			if err := sess.send(ctx, wsOutbound{Type: "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		default:
			h.sendError(ctx, sess, errInvalidRequest)
		}
	}
}

// handleSocketStart begins a new conversation for the socket's user. Any
// stored history is cleared so the opening question is asked again.
func (h *Handler) handleSocketStart(ctx context.Context, sess *wsSession, msg wsInbound) {
	if sess.generating.Load() {
		h.sendError(ctx, sess, "A plan is being generated, please wait")
		return
	}
	if err := h.repo.ResetConversation(ctx, sess.userID); err != nil {
		h.logger.Error("Failed to reset conversation", "user_id", sess.userID, "error", err)
		h.sendError(ctx, sess, "Failed to start conversation")
		return
	}
	sess.persona = msg.Persona
	goal := strings.TrimSpace(msg.Goal)
	if goal != "" || !msg.Persona.IsZero() {
		if err := h.repo.SetGoal(ctx, sess.userID, goal, msg.Persona); err != nil {
			h.logger.Warn("Failed to record goal", "user_id", sess.userID, "error", err)
		}
	}
	h.logger.Info("Conversation started", "user_id", sess.userID, "persona", msg.Persona.Name)
	if err := sess.send(ctx, wsOutbound{Type: "started", Stage: conversation.StageElaborate.String()}); err != nil {
		h.logger.Debug("Failed to send start acknowledgement", "error", err, "user_id", sess.userID)
	}
}

func (h *Handler) handleSocketTurn(ctx context.Context, sess *wsSession, msg wsInbound) {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		h.sendError(ctx, sess, errInvalidRequest)
		return
	}
	if sess.generating.Load() {
		h.sendError(ctx, sess, "A plan is being generated, please wait")
		return
	}
	if !h.allow(sess.userID) {
		h.sendError(ctx, sess, errRateLimited)
		return
	}
	if !msg.Persona.IsZero() {
		sess.persona = msg.Persona
	}

	decision, err := h.runTurn(ctx, sess.userID, content, msg.Goal, sess.persona)
	if err != nil {
		h.logger.Error("Failed to append user turn", "user_id", sess.userID, "error", err)
		h.sendError(ctx, sess, "Failed to process message")
		return
	}
	if err := sess.send(ctx, wsOutbound{
		Type:         "reply",
		Message:      decision.NextUtterance,
		GeneratePlan: decision.ShouldGeneratePlan,
		Stage:        decision.Stage.String(),
	}); err != nil {
		h.logger.Debug("Failed to send reply", "error", err, "user_id", sess.userID)
		return
	}

	if decision.ShouldGeneratePlan && sess.generating.CompareAndSwap(false, true) {
		go h.deliverPlan(ctx, sess)
	}
}

// deliverPlan waits out the transition delay, then generates, saves and
// pushes the plan.
func (h *Handler) deliverPlan(ctx context.Context, sess *wsSession) {
	defer sess.generating.Store(false)

	if h.transitionDelay > 0 {
		timer := time.NewTimer(h.transitionDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
	if err := sess.send(ctx, wsOutbound{Type: "generating"}); err != nil {
		return
	}

	req := coach.PlanRequest{Persona: sess.persona}
	if rec, err := h.repo.LoadConversation(ctx, sess.userID); err == nil {
		req.History = rec.Messages
		req.Goal = rec.Goal
		if req.Persona.IsZero() {
			req.Persona = rec.Persona
		}
	} else {
		h.logger.Warn("Failed to load conversation for plan", "user_id", sess.userID, "error", err)
	}

	p := h.generatePlan(ctx, sess.userID, req)
	out := wsOutbound{Type: "plan", Plan: &p}
	if rec, err := h.repo.SavePlan(ctx, sess.userID, p, req.Persona, time.Now().UTC()); err != nil {
		h.logger.Error("Failed to save generated plan", "user_id", sess.userID, "error", err)
	} else {
		out.RecordID = rec.ID
	}
	if err := sess.send(ctx, out); err != nil {
		h.logger.Debug("Failed to send plan", "error", err, "user_id", sess.userID)
	}
}

func (h *Handler) sendError(ctx context.Context, sess *wsSession, message string) {
	if err := sess.send(ctx, wsOutbound{Type: "error", Error: message}); err != nil {
		h.logger.Debug("Failed to send error frame", "error", err, "user_id", sess.userID)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
