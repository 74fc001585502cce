package domain

import (
	"time"
)

// ConversationRecord is the persisted conversation of a user. There is
// exactly one per user; it is rewritten in full on every turn.
type ConversationRecord struct {
	UserID    string    `json:"user_id"`
	Persona   Persona   `json:"avatar"`
	Goal      string    `json:"goal"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserTurns returns the number of user turns in the record.
func (c *ConversationRecord) UserTurns() int {
	return CountUserTurns(c.Messages)
}

// PlanRecord is one persisted plan document. A user may have many; the
// most recently created one is the current plan.
type PlanRecord struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Plan        Plan       `json:"plan"`
	Persona     Persona    `json:"avatar"`
	Goal        string     `json:"goal,omitempty"`
	GeneratedAt time.Time  `json:"generated_at"`
	CreatedAt   time.Time  `json:"created_at"`
	Accepted    bool       `json:"accepted"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
}
