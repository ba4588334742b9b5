package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/dokuprime/helpdesk-assistant/internal/classify"
	"github.com/dokuprime/helpdesk-assistant/internal/model"
)

// Escalation state machine:
//
//	NORMAL --(fail streak full, turn failed, desk staffed)--> AWAITING
//	NORMAL --(helpdesk topic, desk staffed)-----------------> IN_HELPDESK
//	AWAITING --(affirm, desk staffed)-----------------------> IN_HELPDESK
//	AWAITING --(affirm unstaffed | reject)------------------> NORMAL
//	AWAITING --(unclear)------------------------------------> AWAITING
//	IN_HELPDESK is terminal.
//
// Transitions are recorded on the turn and applied after the turn pair is
// stored.

// confirm handles a reply to the helpdesk offer.
func (s *ChatflowService) confirm(ctx context.Context, t *turn) error {
	t.route = routeConfirmation
	m := s.policy.Messages

	done := s.stage(ctx, "classify_confirmation")
	reply, err := s.classifier.Confirmation(ctx, t.req.Query, t.history)
	done()
	if err != nil {
		t.log.Stage("classify_confirmation").Warn("confirmation classification failed", zap.Error(err))
	}

	switch reply {
	case classify.ConfirmAffirm:
		staffed, err := s.staffed(ctx)
		if err != nil {
			return err
		}
		if staffed {
			t.answer = m.HandoffAccepted
			t.moveTo(model.StateInHelpdesk)
		} else {
			t.answer = m.Unavailable
			t.moveTo(model.StateNormal)
		}
	case classify.ConfirmReject:
		t.answer = m.Rejected
		t.moveTo(model.StateNormal)
	default:
		t.answer = m.Reprompt
	}
	return nil
}

// requestHelpdesk handles a user asking for a human agent directly.
func (s *ChatflowService) requestHelpdesk(ctx context.Context, t *turn) error {
	t.route = routeEscalate
	t.greet = t.newConv

	staffed, err := s.staffed(ctx)
	if err != nil {
		return err
	}
	if !staffed {
		t.answer = s.policy.Messages.Unavailable
		return nil
	}
	t.answer = s.policy.Messages.HandoffAccepted
	t.moveTo(model.StateInHelpdesk)
	return nil
}

// offerHelpdesk reports whether a failed turn moves the conversation to
// AWAITING: only when the streak was already full before this turn and a
// human agent was on duty when the answer was produced.
func offerHelpdesk(t *turn) bool {
	return t.failed() && t.streak && t.staffed
}
