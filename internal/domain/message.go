// Package domain contains core domain types for the goal coaching application.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem is a hidden priming turn. It is forwarded to delegates but
	// never counted as a user turn and never rendered.
	RoleSystem Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single turn in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh ID stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Visible reports whether the message is shown to the user.
func (m Message) Visible() bool {
	return m.Role != RoleSystem
}

// CountUserTurns returns the number of messages authored by the user.
func CountUserTurns(history []Message) int {
	n := 0
	for _, m := range history {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// UserAnswers returns the content of every user turn in order.
func UserAnswers(history []Message) []string {
	answers := make([]string, 0, len(history))
	for _, m := range history {
		if m.Role == RoleUser {
			answers = append(answers, m.Content)
		}
	}
	return answers
}
