package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dokuprime/helpdesk-assistant/internal/classify"
	"github.com/dokuprime/helpdesk-assistant/internal/generate"
	"github.com/dokuprime/helpdesk-assistant/internal/model"
	"github.com/dokuprime/helpdesk-assistant/internal/retrieval"
)

func TestHandleTurn_EmptyQuery(t *testing.T) {
	h := newHarness(t)
	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := h.svc.HandleTurn(context.Background(), model.ChatRequest{Query: q, Platform: "web"})
		if !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("query %q: err = %v, want ErrEmptyQuery", q, err)
		}
	}
}

func TestHandleTurn_NewConversationAnswer(t *testing.T) {
	h := newHarness(t, "KBLI adalah Klasifikasi Baku Lapangan Usaha Indonesia.")
	h.classifier.topic = classify.TopicRegulation
	h.classifier.category = model.CategoryUraian
	h.classifier.questionClass = model.QuestionClass{Category: "KBLI", SubCategory: "Definisi"}
	h.retriever.results[retrieval.PartitionRegulation] = regulationPassages()

	resp := h.turn(t, "", "Apa itu KBLI?")

	if _, err := uuid.Parse(resp.ConversationID); err != nil {
		t.Fatalf("ConversationID %q is not a uuid: %v", resp.ConversationID, err)
	}
	if !strings.HasPrefix(resp.Answer, h.policy.Greetings.Morning+"\n\n") {
		t.Errorf("answer %q does not start with the morning greeting", resp.Answer)
	}
	if !strings.HasSuffix(resp.Answer, h.policy.Messages.Disclaimer) {
		t.Errorf("answer %q does not end with the disclaimer", resp.Answer)
	}
	if len(resp.Citations) == 0 {
		t.Error("expected citations")
	}
	if resp.IsHelpdesk || resp.IsAskHelpdesk {
		t.Errorf("helpdesk flags = %v/%v, want false/false", resp.IsHelpdesk, resp.IsAskHelpdesk)
	}
	if !resp.IsFeedback {
		t.Error("IsFeedback should be true for an answered turn")
	}
	if resp.Category != model.CategoryUraian {
		t.Errorf("Category = %q, want %q", resp.Category, model.CategoryUraian)
	}
	if h.reranker.calls != 1 {
		t.Errorf("rerank calls = %d, want 1", h.reranker.calls)
	}
	if h.llm.Calls() != 1 {
		t.Errorf("llm calls = %d, want 1", h.llm.Calls())
	}

	prompt := h.llm.Requests[0].Messages[0].Content
	if !strings.Contains(prompt, "Menurut PP 5 2021, KBLI adalah") {
		t.Errorf("regulation passage not attributed in prompt:\n%s", prompt)
	}

	stored, ok := h.store.Turn(resp.QuestionID)
	if !ok {
		t.Fatal("turn not stored")
	}
	if stored.QuestionCategory != "KBLI" || stored.QuestionSubCategory != "Definisi" {
		t.Errorf("question class = %q/%q", stored.QuestionCategory, stored.QuestionSubCategory)
	}
	if stored.IsCannotAnswer {
		t.Error("answered turn flagged as cannot answer")
	}
	if len(stored.Citations) != len(resp.Citations) {
		t.Errorf("stored %d citations, response has %d", len(stored.Citations), len(resp.Citations))
	}

	conv := h.state(t, resp.ConversationID)
	if conv.Title != "Apa itu KBLI?" {
		t.Errorf("Title = %q", conv.Title)
	}
	if h.events.ofType(model.EventTypeTurn) != 1 {
		t.Errorf("turn events = %d, want 1", h.events.ofType(model.EventTypeTurn))
	}
}

func TestHandleTurn_SmallTalk(t *testing.T) {
	tests := []struct {
		name   string
		topic  classify.Topic
		answer func(h *harness) string
		ended  bool
	}{
		{"greeting", classify.TopicGreeting, func(h *harness) string { return h.policy.Messages.Greeting }, false},
		{"thank you", classify.TopicThankYou, func(h *harness) string { return h.policy.Messages.ThankYou }, true},
		{"classified", classify.TopicClassified, func(h *harness) string { return h.policy.Messages.Classified }, false},
		{"out of scope", classify.TopicOutOfScope, func(h *harness) string { return h.policy.Messages.OutOfScope }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.classifier.topic = tt.topic

			resp := h.turn(t, "", "halo")

			if resp.Answer != tt.answer(h) {
				t.Errorf("Answer = %q, want %q", resp.Answer, tt.answer(h))
			}
			if len(h.retriever.calls) != 0 || h.reranker.calls != 0 || h.llm.Calls() != 0 {
				t.Errorf("small talk touched retrieval=%d rerank=%d llm=%d",
					len(h.retriever.calls), h.reranker.calls, h.llm.Calls())
			}
			if h.classifier.Calls("question_class") != 0 {
				t.Error("question classifier should not run for small talk")
			}

			stored, ok := h.store.Turn(resp.QuestionID)
			if !ok {
				t.Fatal("turn not stored")
			}
			if stored.QuestionCategory != h.policy.Messages.SkippedCategory {
				t.Errorf("QuestionCategory = %q, want %q", stored.QuestionCategory, h.policy.Messages.SkippedCategory)
			}

			conv := h.state(t, resp.ConversationID)
			if (conv.EndedAt != nil) != tt.ended {
				t.Errorf("EndedAt set = %v, want %v", conv.EndedAt != nil, tt.ended)
			}
		})
	}
}

func TestHandleTurn_InHelpdeskIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.seedConversation(t, "conv-1", model.StateInHelpdesk)

	for i := 0; i < 3; i++ {
		resp := h.turn(t, "conv-1", "masih ada pertanyaan")
		if resp.Answer != h.policy.Messages.Handoff {
			t.Errorf("Answer = %q, want handoff notice", resp.Answer)
		}
		if !resp.IsHelpdesk {
			t.Error("IsHelpdesk should stay true")
		}
	}

	if h.classifier.Calls("topic") != 0 || h.rewriter.calls != 0 || h.llm.Calls() != 0 {
		t.Error("in-helpdesk turns must not classify, rewrite or generate")
	}
	turns, err := h.store.ListTurns(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Errorf("stored turns = %d, want 3", len(turns))
	}
}

func TestHandleTurn_FailStreak(t *testing.T) {
	tests := []struct {
		name      string
		prior     int
		staffed   bool
		answer    func(h *harness) string
		wantState model.EscalationState
	}{
		{
			name:      "streak not full",
			prior:     3,
			staffed:   true,
			answer:    func(h *harness) string { return h.policy.Messages.AskForDetail },
			wantState: model.StateNormal,
		},
		{
			name:      "streak full and staffed",
			prior:     4,
			staffed:   true,
			answer:    func(h *harness) string { return h.policy.Messages.HelpdeskOffer },
			wantState: model.StateAwaitingConfirmation,
		},
		{
			name:      "streak full and unstaffed",
			prior:     4,
			staffed:   false,
			answer:    func(h *harness) string { return h.policy.Messages.Unavailable },
			wantState: model.StateNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, generate.DeclineMarker)
			h.classifier.topic = classify.TopicProcedure
			h.retriever.results[retrieval.PartitionProcedure] = regulationPassages()
			if err := h.store.SetHelpdeskStaffed(context.Background(), tt.staffed); err != nil {
				t.Fatal(err)
			}
			h.seedConversation(t, "conv-1", model.StateNormal)
			h.seedFailures(t, "conv-1", tt.prior)

			resp := h.turn(t, "conv-1", "bagaimana cara mengurus izin?")

			if resp.Answer != tt.answer(h) {
				t.Errorf("Answer = %q, want %q", resp.Answer, tt.answer(h))
			}
			if len(resp.Citations) != 0 {
				t.Errorf("declined answer has %d citations", len(resp.Citations))
			}
			if resp.IsFeedback {
				t.Error("declined answer should not ask for feedback")
			}
			if got := h.state(t, "conv-1").State(); got != tt.wantState {
				t.Errorf("state = %q, want %q", got, tt.wantState)
			}
			stored, _ := h.store.Turn(resp.QuestionID)
			if !stored.IsCannotAnswer {
				t.Error("declined turn should be flagged")
			}
		})
	}
}

func TestHandleTurn_FallbackOffersHelpdesk(t *testing.T) {
	h := newHarness(t)
	h.llm.Always("")
	h.classifier.topic = classify.TopicProcedure
	h.retriever.results[retrieval.PartitionProcedure] = regulationPassages()
	if err := h.store.SetHelpdeskStaffed(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	h.seedConversation(t, "conv-1", model.StateNormal)
	h.seedFailures(t, "conv-1", 4)

	resp := h.turn(t, "conv-1", "bagaimana cara mengurus izin?")

	want := h.policy.Messages.Apology + "\n\n" + h.policy.Messages.OfferSuffix
	if resp.Answer != want {
		t.Errorf("Answer = %q, want %q", resp.Answer, want)
	}
	if h.llm.Calls() != 3 {
		t.Errorf("llm calls = %d, want 3 attempts", h.llm.Calls())
	}
	if got := h.state(t, "conv-1").State(); got != model.StateAwaitingConfirmation {
		t.Errorf("state = %q, want awaiting", got)
	}
}

func TestHandleTurn_NoCandidatesDeclines(t *testing.T) {
	h := newHarness(t)
	h.classifier.topic = classify.TopicRegulation
	h.seedConversation(t, "conv-1", model.StateNormal)

	resp := h.turn(t, "conv-1", "pasal tentang sesuatu yang tidak ada")

	if resp.Answer != h.policy.Messages.AskForDetail {
		t.Errorf("Answer = %q, want ask for detail", resp.Answer)
	}
	if h.llm.Calls() != 0 || h.reranker.calls != 0 {
		t.Error("empty retrieval should skip rerank and generation")
	}
	stored, _ := h.store.Turn(resp.QuestionID)
	if !stored.IsCannotAnswer {
		t.Error("turn should be flagged")
	}
}

func TestHandleTurn_Confirmation(t *testing.T) {
	tests := []struct {
		name      string
		reply     classify.Confirmation
		staffed   bool
		answer    func(h *harness) string
		wantState model.EscalationState
		handoffs  int
	}{
		{"affirm staffed", classify.ConfirmAffirm, true, func(h *harness) string { return h.policy.Messages.HandoffAccepted }, model.StateInHelpdesk, 1},
		{"affirm unstaffed", classify.ConfirmAffirm, false, func(h *harness) string { return h.policy.Messages.Unavailable }, model.StateNormal, 0},
		{"reject", classify.ConfirmReject, true, func(h *harness) string { return h.policy.Messages.Rejected }, model.StateNormal, 0},
		{"unclear", classify.ConfirmUnclear, true, func(h *harness) string { return h.policy.Messages.Reprompt }, model.StateAwaitingConfirmation, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.classifier.confirmation = tt.reply
			if err := h.store.SetHelpdeskStaffed(context.Background(), tt.staffed); err != nil {
				t.Fatal(err)
			}
			h.seedConversation(t, "conv-1", model.StateAwaitingConfirmation)

			resp := h.turn(t, "conv-1", "ya")

			if resp.Answer != tt.answer(h) {
				t.Errorf("Answer = %q, want %q", resp.Answer, tt.answer(h))
			}
			conv := h.state(t, "conv-1")
			if conv.State() != tt.wantState {
				t.Errorf("state = %q, want %q", conv.State(), tt.wantState)
			}
			if conv.HelpdeskCount != tt.handoffs {
				t.Errorf("HelpdeskCount = %d, want %d", conv.HelpdeskCount, tt.handoffs)
			}
			if h.events.ofType(model.EventTypeHandoff) != tt.handoffs {
				t.Errorf("handoff events = %d, want %d", h.events.ofType(model.EventTypeHandoff), tt.handoffs)
			}
			if h.classifier.Calls("topic") != 0 || len(h.retriever.calls) != 0 {
				t.Error("confirmation turns must not classify topic or retrieve")
			}
		})
	}
}

func TestHandleTurn_HelpdeskRequest(t *testing.T) {
	tests := []struct {
		name      string
		staffed   bool
		wantState model.EscalationState
	}{
		{"staffed", true, model.StateInHelpdesk},
		{"unstaffed", false, model.StateNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.classifier.topic = classify.TopicHelpdesk
			if err := h.store.SetHelpdeskStaffed(context.Background(), tt.staffed); err != nil {
				t.Fatal(err)
			}
			h.seedConversation(t, "conv-1", model.StateNormal)

			resp := h.turn(t, "conv-1", "saya mau bicara dengan petugas")

			want := h.policy.Messages.Unavailable
			if tt.staffed {
				want = h.policy.Messages.HandoffAccepted
			}
			if resp.Answer != want {
				t.Errorf("Answer = %q, want %q", resp.Answer, want)
			}
			if got := h.state(t, "conv-1").State(); got != tt.wantState {
				t.Errorf("state = %q, want %q", got, tt.wantState)
			}
			if resp.IsHelpdesk != tt.staffed {
				t.Errorf("IsHelpdesk = %v, want %v", resp.IsHelpdesk, tt.staffed)
			}
		})
	}
}

func TestHandleTurn_InsertFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	h.classifier.topic = classify.TopicHelpdesk
	if err := h.store.SetHelpdeskStaffed(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	h.seedConversation(t, "conv-1", model.StateNormal)
	h.store.FailInsert = errors.New("disk full")

	_, err := h.svc.HandleTurn(context.Background(), model.ChatRequest{
		ConversationID: "conv-1",
		Query:          "hubungkan ke petugas",
		Platform:       "web",
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := h.state(t, "conv-1").State(); got != model.StateNormal {
		t.Errorf("state = %q, want normal after failed insert", got)
	}
	if h.events.ofType(model.EventTypeHandoff) != 0 {
		t.Error("no handoff event expected")
	}
}

func TestHandleTurn_RetryAfterFailedFirstInsertIsGreeted(t *testing.T) {
	h := newHarness(t, "KBLI adalah klasifikasi.", "KBLI adalah klasifikasi.")
	h.classifier.topic = classify.TopicRegulation
	h.retriever.results[retrieval.PartitionRegulation] = regulationPassages()
	h.store.FailInsert = errors.New("connection reset")

	req := model.ChatRequest{ConversationID: "wa-62812", Query: "Apa itu KBLI?", Platform: "web"}
	if _, err := h.svc.HandleTurn(context.Background(), req); err == nil {
		t.Fatal("expected the first attempt to fail")
	}
	h.state(t, "wa-62812")

	h.store.FailInsert = nil
	resp := h.turn(t, "wa-62812", "Apa itu KBLI?")
	if !strings.HasPrefix(resp.Answer, h.policy.Greetings.Morning+"\n\n") {
		t.Errorf("retry answer %q is not greeted", resp.Answer)
	}

	h.llm.Always("KBLI adalah klasifikasi.")
	again := h.turn(t, "wa-62812", "Apa itu KBLI?")
	if strings.HasPrefix(again.Answer, h.policy.Greetings.Morning) {
		t.Errorf("follow-up answer %q greeted again", again.Answer)
	}
}

func TestHandleTurn_FAQThreshold(t *testing.T) {
	tests := []struct {
		name    string
		score   float32
		wantFAQ bool
	}{
		{"at threshold", 0.75, true},
		{"just below", 0.7499, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "NIB adalah identitas pelaku usaha.")
			h.classifier.topic = classify.TopicProcedure
			h.retriever.results[retrieval.PartitionFAQ] = []retrieval.Passage{
				{Text: "Apa itu NIB?", Answer: "NIB adalah Nomor Induk Berusaha.", SourceID: "faq-1", SourceName: "faq.xlsx", Score: tt.score},
			}
			h.retriever.results[retrieval.PartitionProcedure] = regulationPassages()

			resp := h.turn(t, "", "apa itu NIB")

			if resp.IsFAQ != tt.wantFAQ {
				t.Errorf("IsFAQ = %v, want %v", resp.IsFAQ, tt.wantFAQ)
			}
			if tt.wantFAQ {
				if !strings.Contains(resp.Answer, "NIB adalah Nomor Induk Berusaha.") {
					t.Errorf("Answer = %q, want the FAQ answer", resp.Answer)
				}
				if h.llm.Calls() != 0 {
					t.Errorf("llm calls = %d, FAQ answers never generate", h.llm.Calls())
				}
				if resp.Category != model.CategoryFAQ {
					t.Errorf("Category = %q, want faq", resp.Category)
				}
				if h.retriever.searched(retrieval.PartitionProcedure) != 0 {
					t.Error("document retrieval should be skipped on a FAQ hit")
				}
			} else if h.llm.Calls() != 1 {
				t.Errorf("llm calls = %d, want 1", h.llm.Calls())
			}
		})
	}
}

func TestHandleTurn_ReviewedFAQUsesRevision(t *testing.T) {
	h := newHarness(t)
	h.classifier.topic = classify.TopicProcedure
	h.store.AddRevision(7, "Jawaban yang sudah direvisi.")
	h.retriever.results[retrieval.PartitionFAQ] = []retrieval.Passage{
		{Text: "cara ubah data NIB", Answer: "jawaban lama", SourceID: "validation-7", Score: 0.9},
	}

	resp := h.turn(t, "", "cara ubah data NIB")

	if !strings.Contains(resp.Answer, "Jawaban yang sudah direvisi.") {
		t.Errorf("Answer = %q, want the revised answer", resp.Answer)
	}
	if strings.Contains(resp.Answer, "jawaban lama") {
		t.Error("stale FAQ answer leaked")
	}
	if len(resp.Citations) != 0 {
		t.Errorf("reviewed entries are not cited, got %v", resp.Citations)
	}
}

func TestHandleTurn_CodeLookup(t *testing.T) {
	h := newHarness(t, "62010 mencakup kegiatan pemrograman komputer.")
	h.classifier.topic = classify.TopicRegulation
	h.retriever.results[retrieval.PartitionRegulation] = []retrieval.Passage{
		{Text: "62020 Aktivitas konsultasi komputer.", SourceID: "kbli-2", SourceName: "KBLI 2020.pdf", Score: 0.71},
		{Text: "62010 Aktivitas pemrograman komputer.", SourceID: "kbli-1", SourceName: "KBLI 2020.pdf", Score: 0.93},
	}

	first := h.turn(t, "", "apa itu KBLI 62010?")

	if !strings.Contains(first.Answer, "62010 Aktivitas pemrograman komputer.") {
		t.Errorf("Answer = %q, want the top passage verbatim", first.Answer)
	}
	if h.llm.Calls() != 0 || h.reranker.calls != 0 {
		t.Errorf("code lookup should skip rerank and generation, got rerank=%d llm=%d", h.reranker.calls, h.llm.Calls())
	}
	if h.classifier.Calls("question_class") != 1 {
		t.Error("question classifier should still run")
	}

	second := h.turn(t, first.ConversationID, "apa itu KBLI 62010?")

	if h.llm.Calls() != 1 || h.reranker.calls != 1 {
		t.Errorf("repeated code should generate, got rerank=%d llm=%d", h.reranker.calls, h.llm.Calls())
	}
	if !strings.Contains(second.Answer, "pemrograman komputer") {
		t.Errorf("Answer = %q", second.Answer)
	}
	if strings.HasPrefix(second.Answer, h.policy.Greetings.Morning) {
		t.Error("greeting should only appear on the first turn")
	}
}

func TestHandleTurn_ProcedureSkipsCodeLookup(t *testing.T) {
	h := newHarness(t, "Langkah pendaftaran untuk 62010 adalah sebagai berikut.")
	h.classifier.topic = classify.TopicProcedure
	h.retriever.results[retrieval.PartitionProcedure] = []retrieval.Passage{
		{Text: "62010 panduan pendaftaran.", SourceID: "p1", SourceName: "Panduan.pdf", Score: 0.9},
	}

	h.turn(t, "", "cara daftar 62010")

	if h.llm.Calls() != 1 {
		t.Errorf("llm calls = %d, want 1", h.llm.Calls())
	}
	if h.classifier.Calls("kbli") != 0 {
		t.Error("procedure questions skip KBLI refinement")
	}
	if strings.Contains(h.llm.Requests[0].Messages[0].Content, "Menurut") {
		t.Error("procedure passages are not attributed")
	}
}

func TestHandleTurn_GeneralKBLIDedupe(t *testing.T) {
	h := newHarness(t, "Beberapa KBLI terkait perangkat lunak.")
	h.classifier.topic = classify.TopicRegulation
	h.classifier.kbli = classify.KBLIRelated
	h.classifier.specificity = classify.General
	h.retriever.results[retrieval.PartitionRegulation] = []retrieval.Passage{
		{Text: "62010 pemrograman komputer.", SourceID: "a", Score: 0.9},
		{Text: "62010 pemrograman komputer (lanjutan).", SourceID: "b", Score: 0.8},
		{Text: "62020 konsultasi komputer.", SourceID: "c", Score: 0.7},
	}

	h.turn(t, "", "KBLI apa saja untuk perusahaan perangkat lunak?")

	if len(h.reranker.got) != 2 {
		t.Errorf("rerank input = %d passages, want 2 after dedupe", len(h.reranker.got))
	}
}

func TestHandleTurn_SameConversationSerialized(t *testing.T) {
	h := newHarness(t)
	h.classifier.topic = classify.TopicGreeting
	h.seedConversation(t, "conv-1", model.StateNormal)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.HandleTurn(context.Background(), model.ChatRequest{
				ConversationID: "conv-1",
				Query:          fmt.Sprintf("halo %d", i),
				Platform:       "web",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("HandleTurn: %v", err)
		}
	}

	turns, err := h.store.ListTurns(context.Background(), "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != n {
		t.Fatalf("stored turns = %d, want %d", len(turns), n)
	}
	for _, tr := range turns {
		if tr.AnswerID != tr.QuestionID+1 {
			t.Errorf("turn %d answered by row %d; pairs interleaved", tr.QuestionID, tr.AnswerID)
		}
	}
}

func TestGreeting(t *testing.T) {
	h := newHarness(t)
	g := h.policy.Greetings
	jakarta := time.FixedZone("WIB", 7*3600)

	tests := []struct {
		hour int
		want string
	}{
		{4, g.Morning},
		{10, g.Morning},
		{11, g.Midday},
		{14, g.Midday},
		{15, g.Afternoon},
		{17, g.Afternoon},
		{18, g.Evening},
		{2, g.Evening},
	}
	for _, tt := range tests {
		now := time.Date(2024, 5, 1, tt.hour, 30, 0, 0, jakarta)
		if got := greeting(g, now); got != tt.want {
			t.Errorf("hour %d: greeting = %q, want %q", tt.hour, got, tt.want)
		}
	}
}
