package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeTurn       EventType = "turn"
	EventTypeHandoff    EventType = "handoff"
	EventTypeEscalation EventType = "escalation"
)

// ConversationEvent is published after a turn completes or the
// escalation state of a conversation changes.
type ConversationEvent struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Platform       string          `json:"platform"`
	PlatformUserID string          `json:"platform_unique_id"`
	Type           EventType       `json:"type"`
	From           EscalationState `json:"from,omitempty"`
	To             EscalationState `json:"to,omitempty"`
	Route          string          `json:"route,omitempty"`
	QuestionID     int64           `json:"question_id,omitempty"`
	AnswerID       int64           `json:"answer_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Sequence       uint64          `json:"sequence,omitempty"`
}
