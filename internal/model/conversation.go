// Package model defines data structures for the helpdesk assistant.
package model

import (
	"time"
)

// EscalationState is the helpdesk escalation state of a conversation.
type EscalationState string

const (
	StateNormal               EscalationState = "normal"
	StateAwaitingConfirmation EscalationState = "awaiting_helpdesk_confirmation"
	StateInHelpdesk           EscalationState = "in_helpdesk"
)

// Conversation represents a conversation thread with one end user.
type Conversation struct {
	ID             string     `json:"id"`
	Platform       string     `json:"platform"`
	PlatformUserID string     `json:"platform_unique_id"`
	Title          string     `json:"title,omitempty"`
	IsHelpdesk     bool       `json:"is_helpdesk"`
	IsAskHelpdesk  bool       `json:"is_ask_helpdesk"`
	HelpdeskCount  int        `json:"helpdesk_count"`
	StartedAt      time.Time  `json:"start_timestamp"`
	EndedAt        *time.Time `json:"end_timestamp,omitempty"`
}

// State derives the escalation state from the stored flags. The terminal
// helpdesk flag always wins over a stale confirmation flag.
func (c *Conversation) State() EscalationState {
	if c == nil {
		return StateNormal
	}
	if c.IsHelpdesk {
		return StateInHelpdesk
	}
	if c.IsAskHelpdesk {
		return StateAwaitingConfirmation
	}
	return StateNormal
}

// Flags returns the stored flag pair that represents a state.
func (s EscalationState) Flags() (isHelpdesk, isAskHelpdesk bool) {
	switch s {
	case StateInHelpdesk:
		return true, false
	case StateAwaitingConfirmation:
		return false, true
	default:
		return false, false
	}
}
