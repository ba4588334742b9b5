package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/dokuprime/helpdesk-assistant/internal/classify"
	"github.com/dokuprime/helpdesk-assistant/internal/config"
	"github.com/dokuprime/helpdesk-assistant/internal/generate"
	"github.com/dokuprime/helpdesk-assistant/internal/lock"
	"github.com/dokuprime/helpdesk-assistant/internal/model"
	"github.com/dokuprime/helpdesk-assistant/internal/rerank"
	"github.com/dokuprime/helpdesk-assistant/internal/retrieval"
	"github.com/dokuprime/helpdesk-assistant/internal/rewrite"
	"github.com/dokuprime/helpdesk-assistant/internal/store"
	"github.com/dokuprime/helpdesk-assistant/pkg/logger"
	"github.com/dokuprime/helpdesk-assistant/pkg/metrics"
	"github.com/dokuprime/helpdesk-assistant/pkg/tracing"
)

// ErrEmptyQuery is returned for a turn without text.
var ErrEmptyQuery = errors.New("query cannot be empty")

// Classifier is the set of closed-label classifiers consulted by the chat
// flow. Every method returns a usable label even when it fails.
type Classifier interface {
	Topic(ctx context.Context, query, history string) (classify.Topic, model.Category, error)
	Confirmation(ctx context.Context, query, history string) (classify.Confirmation, error)
	KBLI(ctx context.Context, query string) (classify.KBLIKind, error)
	Specificity(ctx context.Context, query, history string) (classify.Specificity, error)
	QuestionClass(ctx context.Context, query string) (model.QuestionClass, error)
}

// QueryRewriter turns a follow-up into a standalone query.
type QueryRewriter interface {
	Rewrite(ctx context.Context, query, history string) (rewrite.Result, error)
}

// AnswerGenerator answers from passages.
type AnswerGenerator interface {
	Generate(ctx context.Context, req generate.Request) generate.Result
	FailMessage(streak, staffed bool) string
}

// ChatflowConfig tunes the chat flow.
type ChatflowConfig struct {
	HistoryLimit     int
	FailStreakWindow int
	FAQTopK          int
	FAQThreshold     float64
	RetrievalTopK    int
	RetrievalTimeout time.Duration
	RerankTopK       int
	// LockWait bounds how long a turn waits for an earlier turn of the
	// same conversation.
	LockWait time.Duration
}

// ChatflowDeps are the collaborators of the chat flow.
type ChatflowDeps struct {
	Store         store.Store
	Conversations *ConversationService
	Locker        lock.Locker
	Classifier    Classifier
	Rewriter      QueryRewriter
	Retriever     retrieval.Retriever
	Reranker      rerank.Reranker
	Generator     AnswerGenerator
	Policy        *config.Policy
	Logger        *logger.Logger
}

// ChatflowService decides, for every user turn, whether to answer from the
// FAQ cache, answer from retrieved documents, hand over to a human agent or
// decline, and keeps the escalation state of the conversation.
type ChatflowService struct {
	store         store.Store
	conversations *ConversationService
	locker        lock.Locker
	classifier    Classifier
	rewriter      QueryRewriter
	retriever     retrieval.Retriever
	reranker      rerank.Reranker
	generator     AnswerGenerator
	policy        *config.Policy
	cfg           ChatflowConfig
	logger        *logger.Logger
	now           func() time.Time
}

// NewChatflowService creates the chat flow.
func NewChatflowService(deps ChatflowDeps, cfg ChatflowConfig) *ChatflowService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 5
	}
	if cfg.FailStreakWindow <= 0 {
		cfg.FailStreakWindow = 4
	}
	if cfg.FAQTopK <= 0 {
		cfg.FAQTopK = 3
	}
	if cfg.RetrievalTopK <= 0 {
		cfg.RetrievalTopK = 20
	}
	if cfg.RerankTopK <= 0 {
		cfg.RerankTopK = 3
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &ChatflowService{
		store:         deps.Store,
		conversations: deps.Conversations,
		locker:        locker,
		classifier:    deps.Classifier,
		rewriter:      deps.Rewriter,
		retriever:     deps.Retriever,
		reranker:      deps.Reranker,
		generator:     deps.Generator,
		policy:        deps.Policy,
		cfg:           cfg,
		logger:        deps.Logger,
		now:           time.Now,
	}
}

// Routes a turn can take, used for metrics and events.
const (
	routeInHelpdesk   = "in_helpdesk"
	routeConfirmation = "helpdesk_confirmation"
	routeEscalate     = "helpdesk_request"
	routeFAQ          = "faq"
	routeCodeLookup   = "code_lookup"
	routeGenerated    = "generated"
)

// turn carries the state of one HandleTurn call.
type turn struct {
	req     model.ChatRequest
	conv    *model.Conversation
	log     *logger.Logger
	started time.Time
	newConv bool

	history   string
	streak    bool
	staffed   bool
	rewritten string
	category  model.Category
	route     string

	answer    string
	citations []model.Citation
	outcome   generate.Outcome
	isFAQ     bool

	// greet prepends the time-of-day greeting on the first turn.
	greet bool
	// classifyQuestion runs the fine-grained classifier after insert.
	classifyQuestion bool
	// skipped marks small-talk turns stored under the skipped category.
	skipped bool
	// transition is applied after the turn pair is stored.
	transition *model.EscalationState

	durations model.Durations
}

func (t *turn) failed() bool {
	return t.outcome != "" && t.outcome.Failed()
}

func (t *turn) moveTo(s model.EscalationState) {
	t.transition = &s
}

// HandleTurn processes one user turn end to end. Turns of the same
// conversation are serialized; different conversations run concurrently.
func (s *ChatflowService) HandleTurn(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.Must(uuid.NewV7()).String()
	}
	started := req.StartTimestamp
	if started.IsZero() {
		started = s.now().UTC()
	}

	ctx, span := tracing.Start(ctx, "chatflow.turn",
		attribute.String("conversation_id", req.ConversationID),
		attribute.String("platform", req.Platform),
	)
	defer span.End()

	resp, err := s.handle(ctx, req, started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}

func (s *ChatflowService) handle(ctx context.Context, req model.ChatRequest, started time.Time) (*model.ChatResponse, error) {
	lockCtx := ctx
	if s.cfg.LockWait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.cfg.LockWait)
		defer cancel()
	}
	release, err := s.locker.Lock(lockCtx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("lock conversation: %w", err)
	}
	defer release()

	conv, created, err := s.conversations.Ensure(ctx, &req)
	if err != nil {
		return nil, err
	}

	t := &turn{
		req:     req,
		conv:    conv,
		started: started,
		newConv: created,
		log:     s.logger.WithConversation(logger.CorrelationID(ctx), conv.ID, req.Platform),
	}

	if conv.State() == model.StateInHelpdesk {
		// Terminal: no classification, retrieval or generation.
		t.route = routeInHelpdesk
		t.answer = s.policy.Messages.Handoff
		return s.finalize(ctx, t)
	}

	recent, err := s.store.RecentMessages(ctx, conv.ID, s.cfg.HistoryLimit*2)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	t.history = model.Transcript(model.OldestFirst(recent))
	// A retry after a failed first insert finds the row but no history.
	t.newConv = created || len(recent) == 0

	if conv.State() == model.StateAwaitingConfirmation {
		if err := s.confirm(ctx, t); err != nil {
			return nil, err
		}
		return s.finalize(ctx, t)
	}

	if err := s.answer(ctx, t); err != nil {
		return nil, err
	}
	return s.finalize(ctx, t)
}

// answer runs the normal state: rewrite, topic routing and the knowledge
// flow.
func (s *ChatflowService) answer(ctx context.Context, t *turn) error {
	streak, err := s.store.FailStreak(ctx, t.conv.ID, s.cfg.FailStreakWindow)
	if err != nil {
		return fmt.Errorf("read fail streak: %w", err)
	}
	t.streak = streak

	done := s.stage(ctx, "rewrite")
	rw, err := s.rewriter.Rewrite(ctx, t.req.Query, t.history)
	done()
	if err != nil {
		t.log.Stage("rewrite").Warn("rewrite failed, using raw query", zap.Error(err))
	}
	t.rewritten = rw.Query
	if t.rewritten == "" {
		t.rewritten = t.req.Query
	}

	done = s.stage(ctx, "classify_topic")
	topic, category, err := s.classifier.Topic(ctx, t.req.Query, t.history)
	done()
	if err != nil {
		t.log.Stage("classify_topic").Warn("topic classification failed", zap.Error(err))
	}
	t.category = category

	if topic.Retrieves() {
		return s.answerFromKnowledge(ctx, t, topic)
	}

	m := s.policy.Messages
	switch topic {
	case classify.TopicHelpdesk:
		return s.requestHelpdesk(ctx, t)
	case classify.TopicGreeting:
		t.route, t.answer, t.skipped = string(topic), m.Greeting, true
	case classify.TopicThankYou:
		t.route, t.answer, t.skipped = string(topic), m.ThankYou, true
		if err := s.store.EndConversation(context.WithoutCancel(ctx), t.conv.ID, s.now().UTC()); err != nil {
			t.log.Warn("failed to set end timestamp", zap.Error(err))
		}
	case classify.TopicClassified:
		t.route, t.answer, t.skipped = string(topic), m.Classified, true
	default:
		t.route, t.answer, t.skipped = string(classify.TopicOutOfScope), m.OutOfScope, true
	}
	return nil
}

// staffed re-reads the operating status of the human desk.
func (s *ChatflowService) staffed(ctx context.Context) (bool, error) {
	staffed, err := s.store.HelpdeskStaffed(ctx)
	if err != nil {
		return false, fmt.Errorf("read helpdesk status: %w", err)
	}
	return staffed, nil
}

// stage starts a span and returns a func that ends it and records the
// stage duration.
func (s *ChatflowService) stage(ctx context.Context, name string) func() time.Duration {
	_, span := tracing.Start(ctx, "chatflow."+name)
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		metrics.RecordStage(name, d.Seconds())
		span.End()
		return d
	}
}

// greeting returns the time-of-day salutation for now in the configured
// zone.
func greeting(g config.Greetings, now time.Time) string {
	if loc, err := time.LoadLocation(g.Timezone); err == nil {
		now = now.In(loc)
	}
	switch h := now.Hour(); {
	case h >= 4 && h < 11:
		return g.Morning
	case h >= 11 && h < 15:
		return g.Midday
	case h >= 15 && h < 18:
		return g.Afternoon
	default:
		return g.Evening
	}
}
