// Package store persists conversations, turns and helpdesk settings.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dokuprime/helpdesk-assistant/internal/model"
)

var (
	// ErrNotFound is returned when a conversation, turn or revision does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUnavailable is returned when the database cannot serve the request
	// in time. Callers may retry.
	ErrUnavailable = errors.New("store: unavailable")
	// ErrConflict is returned when a compare-and-set does not apply.
	ErrConflict = errors.New("store: conflict")
)

// Store is the conversation store used by the chat flow. Implementations
// must be safe for concurrent use.
type Store interface {
	// CreateConversation inserts the conversation unless a row with the
	// same id exists; an existing row is left untouched.
	CreateConversation(ctx context.Context, c *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)

	// TransitionEscalation moves a conversation from one escalation state to
	// another in one statement. It returns ErrConflict when the stored
	// state is not from. Entering the helpdesk increments helpdesk_count.
	TransitionEscalation(ctx context.Context, id string, from, to model.EscalationState) error
	SetTitleOnce(ctx context.Context, id, title string) error
	EndConversation(ctx context.Context, id string, at time.Time) error

	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, id string, limit int) ([]model.Message, error)
	// HumanQueries returns every stored human message of the conversation.
	HumanQueries(ctx context.Context, id string) ([]string, error)
	// FailStreak reports whether exactly window human turns exist among the
	// most recent ones and all of them are flagged cannot-answer.
	FailStreak(ctx context.Context, id string, window int) (bool, error)

	// InsertTurnPair stores the human message and its answer atomically.
	InsertTurnPair(ctx context.Context, pair model.TurnPair) (model.TurnIDs, error)
	UpdateTurnCategory(ctx context.Context, questionID int64, category model.Category) error
	UpdateQuestionClass(ctx context.Context, questionID int64, class model.QuestionClass) error
	UpdateCitations(ctx context.Context, questionID int64, citations []model.Citation) error
	UpdateDurations(ctx context.Context, questionID int64, d model.Durations) error
	FlagCannotAnswer(ctx context.Context, questionID int64) error
	SetAnswered(ctx context.Context, questionID int64, answered bool) error
	ListTurns(ctx context.Context, id string) ([]model.Turn, error)

	// HelpdeskStaffed reads the current operating status of the human desk.
	HelpdeskStaffed(ctx context.Context) (bool, error)
	SetHelpdeskStaffed(ctx context.Context, staffed bool) error
	// Revision returns the latest human reviewed answer for a turn.
	Revision(ctx context.Context, turnID int64) (string, error)
	QuestionVocabulary(ctx context.Context) (map[string][]string, error)

	Ping(ctx context.Context) error
}
