package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/goalcoach/internal/domain"
	"github.com/ashureev/goalcoach/internal/store"
)

// HandleGetConversation returns the stored conversation so a client can
// resume it. A user with no conversation gets an empty record.
func (h *Handler) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		h.logger.Warn("Invalid conversation lookup", "error", err)
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}

	rec, err := h.repo.LoadConversation(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.logger.Warn("Failed to load conversation, returning empty history", "user_id", userID, "error", err)
		}
		rec = &domain.ConversationRecord{UserID: userID, Messages: []domain.Message{}}
	}
	OK(w, map[string]interface{}{"data": rec})
}

// HandleResetConversation deletes the stored conversation. Saved plans
// are kept.
func (h *Handler) HandleResetConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		h.logger.Warn("Invalid conversation reset", "error", err)
		Error(w, http.StatusInternalServerError, errInvalidRequest)
		return
	}
	if err := h.repo.ResetConversation(r.Context(), userID); err != nil {
		h.logger.Error("Failed to reset conversation", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to reset conversation")
		return
	}
	h.logger.Info("Conversation reset", "user_id", userID)
	OK(w, nil)
}
