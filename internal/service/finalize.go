package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dokuprime/helpdesk-assistant/internal/generate"
	"github.com/dokuprime/helpdesk-assistant/internal/model"
	"github.com/dokuprime/helpdesk-assistant/internal/store"
	"github.com/dokuprime/helpdesk-assistant/pkg/metrics"
)

// finalize composes the final answer and persists the turn:
//
//  1. the human message and the answer are inserted as one pair
//  2. coarse category
//  3. fine-grained question category of the rewritten query
//  4. citations
//  5. failure flag and the escalation transition
//
// Only a failed pair insert aborts the turn. Later failures are logged and
// do not change the answer. Writes ignore client cancellation so a
// disconnect cannot leave a half-finished turn behind.
func (s *ChatflowService) finalize(ctx context.Context, t *turn) (*model.ChatResponse, error) {
	ctx = context.WithoutCancel(ctx)
	done := s.stage(ctx, "persist")
	defer done()

	if offerHelpdesk(t) {
		if t.outcome == generate.OutcomeFallback {
			t.answer += "\n\n" + s.policy.Messages.OfferSuffix
		}
		t.moveTo(model.StateAwaitingConfirmation)
	}

	answer := t.answer
	if t.route == routeFAQ || t.route == routeCodeLookup || (t.route == routeGenerated && !t.failed()) {
		answer += s.policy.Messages.Disclaimer
	}
	if t.greet {
		if g := greeting(s.policy.Greetings, s.now()); g != "" {
			answer = g + "\n\n" + answer
		}
	}

	ids, err := s.store.InsertTurnPair(ctx, model.TurnPair{
		ConversationID: t.conv.ID,
		Query:          t.req.Query,
		RewrittenQuery: t.rewritten,
		Answer:         answer,
		StartedAt:      t.started,
	})
	if err != nil {
		t.log.Stage("persist").Error("failed to store turn", zap.Error(err))
		return nil, fmt.Errorf("store turn: %w", err)
	}
	log := t.log.With(zap.Int64("question_id", ids.QuestionID))

	if t.rewritten != "" {
		if err := s.store.SetTitleOnce(ctx, t.conv.ID, t.rewritten); err != nil {
			log.Warn("failed to set conversation title", zap.Error(err))
		}
	}

	if t.category != model.CategoryNone {
		if err := s.store.UpdateTurnCategory(ctx, ids.QuestionID, t.category); err != nil {
			log.Warn("failed to store category", zap.Error(err))
		}
	}

	var questionClass *model.QuestionClass
	switch {
	case t.classifyQuestion:
		qc, err := s.classifier.QuestionClass(ctx, t.rewritten)
		if err != nil {
			log.Stage("classify_question").Warn("question classification failed", zap.Error(err))
		}
		questionClass = &qc
	case t.skipped:
		questionClass = &model.QuestionClass{
			Category:    s.policy.Messages.SkippedCategory,
			SubCategory: s.policy.Messages.SkippedCategory,
		}
	}
	if questionClass != nil {
		if err := s.store.UpdateQuestionClass(ctx, ids.QuestionID, *questionClass); err != nil {
			log.Warn("failed to store question category", zap.Error(err))
		}
	}

	if len(t.citations) > 0 {
		if err := s.store.UpdateCitations(ctx, ids.QuestionID, t.citations); err != nil {
			log.Warn("failed to store citations", zap.Error(err))
		}
	}

	if t.failed() {
		if err := s.store.FlagCannotAnswer(ctx, ids.QuestionID); err != nil {
			log.Warn("failed to flag unanswered turn", zap.Error(err))
		}
	}

	if t.transition != nil && *t.transition != t.conv.State() {
		if err := s.conversations.Transition(ctx, t.conv, *t.transition); err != nil {
			elog := log.Stage("escalation")
			lvl := elog.Error
			if errors.Is(err, store.ErrConflict) {
				lvl = elog.Warn
			}
			lvl("escalation transition failed",
				zap.String("to", string(*t.transition)),
				zap.Error(err),
			)
		}
	}

	if t.durations != (model.Durations{}) {
		if err := s.store.UpdateDurations(ctx, ids.QuestionID, t.durations); err != nil {
			log.Warn("failed to store durations", zap.Error(err))
		}
	}

	metrics.TurnsTotal.WithLabelValues(t.route).Inc()
	s.conversations.publish(ctx, &model.ConversationEvent{
		ConversationID: t.conv.ID,
		Platform:       t.conv.Platform,
		PlatformUserID: t.conv.PlatformUserID,
		Type:           model.EventTypeTurn,
		Route:          t.route,
		QuestionID:     ids.QuestionID,
		AnswerID:       ids.AnswerID,
	})

	log.Info("turn handled",
		zap.String("route", t.route),
		zap.String("outcome", string(t.outcome)),
		zap.String("state", string(t.conv.State())),
	)

	citations := t.citations
	if citations == nil {
		citations = []model.Citation{}
	}
	return &model.ChatResponse{
		User:             t.req.PlatformUserID,
		ConversationID:   t.conv.ID,
		Query:            t.req.Query,
		RewrittenQuery:   t.rewritten,
		Answer:           answer,
		Citations:        citations,
		Category:         t.category,
		QuestionCategory: questionClass,
		QuestionID:       ids.QuestionID,
		AnswerID:         ids.AnswerID,
		IsHelpdesk:       t.conv.IsHelpdesk,
		IsAskHelpdesk:    t.conv.IsAskHelpdesk,
		IsFAQ:            t.isFAQ,
		IsFeedback:       t.outcome == generate.OutcomeAnswered,
	}, nil
}
