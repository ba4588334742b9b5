package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dokuprime/helpdesk-assistant/internal/model"
	"github.com/dokuprime/helpdesk-assistant/internal/store"
	"github.com/dokuprime/helpdesk-assistant/pkg/logger"
)

func TestConversationService_Ensure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := NewConversationService(st, nil, logger.NewNop())

	req := &model.ChatRequest{PlatformUserID: "user-1", Platform: "web"}
	conv, created, err := svc.Ensure(ctx, req)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Error("first Ensure should create")
	}
	if conv.ID == "" || req.ConversationID != conv.ID {
		t.Errorf("generated id not propagated: req=%q conv=%q", req.ConversationID, conv.ID)
	}

	again, created, err := svc.Ensure(ctx, req)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if created {
		t.Error("second Ensure should not create")
	}
	if again.ID != conv.ID {
		t.Errorf("id changed: %q -> %q", conv.ID, again.ID)
	}
}

func TestConversationService_Turns(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := NewConversationService(st, nil, logger.NewNop())

	if _, err := svc.Turns(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Turns(missing) err = %v, want ErrNotFound", err)
	}

	if err := st.CreateConversation(ctx, &model.Conversation{ID: "conv-1", Platform: "web"}); err != nil {
		t.Fatal(err)
	}
	resp, err := svc.Turns(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if resp.Turns == nil || resp.Total != 0 {
		t.Errorf("empty transcript = %+v, want non-nil empty list", resp)
	}

	ids, err := st.InsertTurnPair(ctx, model.TurnPair{ConversationID: "conv-1", Query: "q", Answer: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Feedback(ctx, ids.QuestionID, true); err != nil {
		t.Fatalf("Feedback: %v", err)
	}
	resp, err = svc.Turns(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Turns[0].IsAnswered == nil || !*resp.Turns[0].IsAnswered {
		t.Errorf("feedback not visible in transcript: %+v", resp.Turns)
	}

	if err := svc.Feedback(ctx, 999, false); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Feedback(unknown) err = %v, want ErrNotFound", err)
	}
}

func TestConversationService_TransitionConflict(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	events := &recordingPublisher{}
	svc := NewConversationService(st, events, logger.NewNop())

	if err := st.CreateConversation(ctx, &model.Conversation{ID: "conv-1", IsAskHelpdesk: true}); err != nil {
		t.Fatal(err)
	}
	// A stale copy still believes the conversation is in NORMAL.
	stale := &model.Conversation{ID: "conv-1"}

	err := svc.Transition(ctx, stale, model.StateInHelpdesk)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if stale.IsHelpdesk {
		t.Error("conv updated despite conflict")
	}
	if len(events.events) != 0 {
		t.Error("no event expected on conflict")
	}

	fresh, err := st.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Transition(ctx, fresh, model.StateInHelpdesk); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if fresh.HelpdeskCount != 1 || fresh.State() != model.StateInHelpdesk {
		t.Errorf("conv = %+v", fresh)
	}
	if events.ofType(model.EventTypeHandoff) != 1 {
		t.Error("expected a handoff event")
	}
}
