package model

import (
	"time"
)

// ChatRequest is one inbound user turn.
type ChatRequest struct {
	PlatformUserID string    `json:"platform_unique_id"`
	Query          string    `json:"query"`
	ConversationID string    `json:"conversation_id"`
	Platform       string    `json:"platform"`
	StartTimestamp time.Time `json:"start_timestamp"`
}

// ChatResponse is the structured result of a turn.
type ChatResponse struct {
	User             string         `json:"user"`
	ConversationID   string         `json:"conversation_id"`
	Query            string         `json:"query"`
	RewrittenQuery   string         `json:"rewritten_query"`
	Answer           string         `json:"answer"`
	Citations        []Citation     `json:"citations"`
	Category         Category       `json:"category"`
	QuestionCategory *QuestionClass `json:"question_category,omitempty"`
	QuestionID       int64          `json:"question_id"`
	AnswerID         int64          `json:"answer_id"`
	IsHelpdesk       bool           `json:"is_helpdesk"`
	IsAnswered       *bool          `json:"is_answered"`
	IsAskHelpdesk    bool           `json:"is_ask_helpdesk"`
	IsFAQ            bool           `json:"is_faq"`
	IsFeedback       bool           `json:"is_feedback"`
}

// FeedbackRequest records whether an answer resolved the user's question.
type FeedbackRequest struct {
	IsAnswered *bool `json:"is_answered"`
}

// ListTurnsResponse is the response for a conversation transcript.
type ListTurnsResponse struct {
	Turns []Turn `json:"turns"`
	Total int    `json:"total"`
}

// HelpdeskStatus is the operating status of the human desk.
type HelpdeskStatus struct {
	IsActive *bool `json:"is_active"`
}
