package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dokuprime/helpdesk-assistant/internal/classify"
	"github.com/dokuprime/helpdesk-assistant/internal/config"
	"github.com/dokuprime/helpdesk-assistant/internal/generate"
	"github.com/dokuprime/helpdesk-assistant/internal/llm/llmtest"
	"github.com/dokuprime/helpdesk-assistant/internal/model"
	"github.com/dokuprime/helpdesk-assistant/internal/retrieval"
	"github.com/dokuprime/helpdesk-assistant/internal/rewrite"
	"github.com/dokuprime/helpdesk-assistant/internal/store"
	"github.com/dokuprime/helpdesk-assistant/pkg/logger"
)

type fakeClassifier struct {
	mu sync.Mutex

	topic         classify.Topic
	category      model.Category
	confirmation  classify.Confirmation
	kbli          classify.KBLIKind
	specificity   classify.Specificity
	questionClass model.QuestionClass

	calls map[string]int
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{
		topic:         classify.TopicOutOfScope,
		confirmation:  classify.ConfirmUnclear,
		kbli:          classify.KBLIOther,
		specificity:   classify.Specific,
		questionClass: model.UnknownQuestionClass,
		calls:         make(map[string]int),
	}
}

func (f *fakeClassifier) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeClassifier) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeClassifier) Topic(ctx context.Context, query, history string) (classify.Topic, model.Category, error) {
	f.count("topic")
	return f.topic, f.category, nil
}

func (f *fakeClassifier) Confirmation(ctx context.Context, query, history string) (classify.Confirmation, error) {
	f.count("confirmation")
	return f.confirmation, nil
}

func (f *fakeClassifier) KBLI(ctx context.Context, query string) (classify.KBLIKind, error) {
	f.count("kbli")
	return f.kbli, nil
}

func (f *fakeClassifier) Specificity(ctx context.Context, query, history string) (classify.Specificity, error) {
	f.count("specificity")
	return f.specificity, nil
}

func (f *fakeClassifier) QuestionClass(ctx context.Context, query string) (model.QuestionClass, error) {
	f.count("question_class")
	return f.questionClass, nil
}

// echoRewriter returns the query unchanged.
type echoRewriter struct {
	calls int
}

func (r *echoRewriter) Rewrite(ctx context.Context, query, history string) (rewrite.Result, error) {
	r.calls++
	return rewrite.Result{Query: query}, nil
}

type fakeRetriever struct {
	mu      sync.Mutex
	results map[retrieval.Partition][]retrieval.Passage
	calls   []retrieval.Partition
}

func (f *fakeRetriever) Search(ctx context.Context, query string, partition retrieval.Partition, topK int) ([]retrieval.Passage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, partition)
	return retrieval.Truncate(f.results[partition], topK), nil
}

func (f *fakeRetriever) searched(p retrieval.Partition) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == p {
			n++
		}
	}
	return n
}

type fakeReranker struct {
	calls int
	got   []retrieval.Passage
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, in []retrieval.Passage, topK int) []retrieval.Passage {
	f.calls++
	f.got = in
	return retrieval.Truncate(in, topK)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ConversationEvent
}

func (p *recordingPublisher) PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return uint64(len(p.events)), nil
}

func (p *recordingPublisher) ofType(t model.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// fixedNow is 09:00 in Asia/Jakarta.
var fixedNow = time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)

type harness struct {
	store      *store.MemoryStore
	classifier *fakeClassifier
	rewriter   *echoRewriter
	retriever  *fakeRetriever
	reranker   *fakeReranker
	llm        *llmtest.Fake
	events     *recordingPublisher
	policy     *config.Policy
	svc        *ChatflowService
}

func newHarness(t *testing.T, replies ...string) *harness {
	t.Helper()

	h := &harness{
		store:      store.NewMemoryStore(),
		classifier: newFakeClassifier(),
		rewriter:   &echoRewriter{},
		retriever:  &fakeRetriever{results: make(map[retrieval.Partition][]retrieval.Passage)},
		reranker:   &fakeReranker{},
		llm:        llmtest.New(replies...),
		events:     &recordingPublisher{},
		policy:     config.DefaultPolicy(),
	}

	log := logger.NewNop()
	gen := generate.New(h.llm, h.policy, generate.Options{
		MaxAttempts:      3,
		InitialBackoff:   time.Millisecond,
		RepetitionStreak: 5,
	}, log)

	h.svc = NewChatflowService(ChatflowDeps{
		Store:         h.store,
		Conversations: NewConversationService(h.store, h.events, log),
		Classifier:    h.classifier,
		Rewriter:      h.rewriter,
		Retriever:     h.retriever,
		Reranker:      h.reranker,
		Generator:     gen,
		Policy:        h.policy,
		Logger:        log,
	}, ChatflowConfig{
		HistoryLimit:     5,
		FailStreakWindow: 4,
		FAQTopK:          3,
		FAQThreshold:     0.75,
		RetrievalTopK:    20,
		RerankTopK:       3,
	})
	h.svc.now = func() time.Time { return fixedNow }
	return h
}

// seedConversation stores a conversation in the given state.
func (h *harness) seedConversation(t *testing.T, id string, state model.EscalationState) {
	t.Helper()
	isHelpdesk, isAsk := state.Flags()
	err := h.store.CreateConversation(context.Background(), &model.Conversation{
		ID:             id,
		Platform:       "web",
		PlatformUserID: "user-1",
		IsHelpdesk:     isHelpdesk,
		IsAskHelpdesk:  isAsk,
		StartedAt:      fixedNow,
	})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
}

// seedFailures appends n answered-with-failure turns.
func (h *harness) seedFailures(t *testing.T, id string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		ids, err := h.store.InsertTurnPair(ctx, model.TurnPair{ConversationID: id, Query: "pertanyaan sulit", Answer: "maaf"})
		if err != nil {
			t.Fatalf("seed turn: %v", err)
		}
		if err := h.store.FlagCannotAnswer(ctx, ids.QuestionID); err != nil {
			t.Fatalf("flag turn: %v", err)
		}
	}
}

func (h *harness) state(t *testing.T, id string) *model.Conversation {
	t.Helper()
	c, err := h.store.GetConversation(context.Background(), id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	return c
}

func (h *harness) turn(t *testing.T, convID, query string) *model.ChatResponse {
	t.Helper()
	resp, err := h.svc.HandleTurn(context.Background(), model.ChatRequest{
		PlatformUserID: "user-1",
		ConversationID: convID,
		Query:          query,
		Platform:       "web",
	})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	return resp
}

func regulationPassages() []retrieval.Passage {
	return []retrieval.Passage{
		{Text: "KBLI adalah Klasifikasi Baku Lapangan Usaha Indonesia.", SourceID: "f1", SourceName: "PP 5 2021.pdf", Score: 0.82},
		{Text: "Perizinan berusaha berbasis risiko.", SourceID: "f2", SourceName: "PP 28 2025.pdf", Score: 0.61},
	}
}
