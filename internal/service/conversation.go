// Package service implements the helpdesk chat flow.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dokuprime/helpdesk-assistant/internal/model"
	"github.com/dokuprime/helpdesk-assistant/internal/store"
	"github.com/dokuprime/helpdesk-assistant/pkg/logger"
	"github.com/dokuprime/helpdesk-assistant/pkg/metrics"
)

// EventPublisher publishes conversation events. Publishing is best effort.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error)
}

// ConversationService handles conversation state: creation, escalation
// transitions, transcripts and feedback.
type ConversationService struct {
	store  store.Store
	events EventPublisher
	logger *logger.Logger
	now    func() time.Time
}

// NewConversationService creates a new conversation service. events may be
// nil when no broker is configured.
func NewConversationService(st store.Store, events EventPublisher, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:  st,
		events: events,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ensure loads the conversation of a request, creating it when it does not
// exist yet. An empty id gets a fresh one. created reports whether this
// call started the conversation.
func (s *ConversationService) Ensure(ctx context.Context, req *model.ChatRequest) (conv *model.Conversation, created bool, err error) {
	if req.ConversationID == "" {
		req.ConversationID = uuid.Must(uuid.NewV7()).String()
	}

	conv, err = s.store.GetConversation(ctx, req.ConversationID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("load conversation: %w", err)
	}

	started := req.StartTimestamp
	if started.IsZero() {
		started = s.now()
	}
	conv = &model.Conversation{
		ID:             req.ConversationID,
		Platform:       req.Platform,
		PlatformUserID: req.PlatformUserID,
		StartedAt:      started,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}

	// Re-read so a concurrent creator's row wins.
	conv, err = s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, false, fmt.Errorf("load conversation: %w", err)
	}

	metrics.ConversationsTotal.WithLabelValues(conv.Platform).Inc()
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("platform", conv.Platform),
	)
	return conv, true, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	return s.store.GetConversation(ctx, conversationID)
}

// Turns returns the transcript of a conversation, oldest first.
func (s *ConversationService) Turns(ctx context.Context, conversationID string) (*model.ListTurnsResponse, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	turns, err := s.store.ListTurns(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	return &model.ListTurnsResponse{Turns: turns, Total: len(turns)}, nil
}

// Feedback records whether an answer resolved the user's question.
func (s *ConversationService) Feedback(ctx context.Context, questionID int64, answered bool) error {
	return s.store.SetAnswered(ctx, questionID, answered)
}

// Transition moves the conversation between escalation states and updates
// conv on success.
func (s *ConversationService) Transition(ctx context.Context, conv *model.Conversation, to model.EscalationState) error {
	from := conv.State()
	if err := s.store.TransitionEscalation(ctx, conv.ID, from, to); err != nil {
		return err
	}

	conv.IsHelpdesk, conv.IsAskHelpdesk = to.Flags()
	if to == model.StateInHelpdesk {
		conv.HelpdeskCount++
	}
	metrics.EscalationTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Info("escalation state changed",
		zap.String("conversation_id", conv.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	eventType := model.EventTypeEscalation
	if to == model.StateInHelpdesk {
		eventType = model.EventTypeHandoff
	}
	s.publish(ctx, &model.ConversationEvent{
		ConversationID: conv.ID,
		Platform:       conv.Platform,
		PlatformUserID: conv.PlatformUserID,
		Type:           eventType,
		From:           from,
		To:             to,
	})
	return nil
}

func (s *ConversationService) publish(ctx context.Context, event *model.ConversationEvent) {
	if s.events == nil {
		return
	}
	event.ID = uuid.Must(uuid.NewV7()).String()
	event.CreatedAt = s.now()

	seq, err := s.events.PublishEvent(context.WithoutCancel(ctx), event)
	if err != nil {
		s.logger.Warn("failed to publish conversation event",
			zap.String("conversation_id", event.ConversationID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
		return
	}
	event.Sequence = seq
}
