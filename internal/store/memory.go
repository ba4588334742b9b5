package store

import (
	"context"
	"sync"
	"time"

	"github.com/dokuprime/helpdesk-assistant/internal/model"
)

type memoryRow struct {
	model.Message
	turn model.Turn
}

// MemoryStore keeps everything in process. It backs local development and
// the orchestrator tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	rows          []*memoryRow
	nextID        int64
	staffed       bool
	revisions     map[int64]string
	vocabulary    []model.QuestionClass

	// FailInsert makes InsertTurnPair fail; used to exercise error paths.
	FailInsert error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
		revisions:     make(map[int64]string),
	}
}

// CreateConversation implements Store.
func (s *MemoryStore) CreateConversation(ctx context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[c.ID]; ok {
		return nil
	}
	cp := *c
	s.conversations[c.ID] = &cp
	return nil
}

// GetConversation implements Store.
func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// TransitionEscalation implements Store.
func (s *MemoryStore) TransitionEscalation(ctx context.Context, id string, from, to model.EscalationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	fh, fa := from.Flags()
	if c.IsHelpdesk != fh || c.IsAskHelpdesk != fa {
		return ErrConflict
	}
	c.IsHelpdesk, c.IsAskHelpdesk = to.Flags()
	if to == model.StateInHelpdesk {
		c.HelpdeskCount++
	}
	return nil
}

// SetTitleOnce implements Store.
func (s *MemoryStore) SetTitleOnce(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if c.Title == "" {
		c.Title = title
	}
	return nil
}

// EndConversation implements Store.
func (s *MemoryStore) EndConversation(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.EndedAt = &at
	return nil
}

// RecentMessages implements Store.
func (s *MemoryStore) RecentMessages(ctx context.Context, id string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Message
	for i := len(s.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if s.rows[i].ConversationID == id {
			out = append(out, s.rows[i].Message)
		}
	}
	return out, nil
}

// HumanQueries implements Store.
func (s *MemoryStore) HumanQueries(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, r := range s.rows {
		if r.ConversationID == id && r.Role == model.RoleHuman {
			out = append(out, r.Content)
		}
	}
	return out, nil
}

// FailStreak implements Store.
func (s *MemoryStore) FailStreak(ctx context.Context, id string, window int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if window <= 0 {
		return false, nil
	}
	seen := 0
	for i := len(s.rows) - 1; i >= 0 && seen < window; i-- {
		r := s.rows[i]
		if r.ConversationID != id || r.Role != model.RoleHuman {
			continue
		}
		if !r.turn.IsCannotAnswer {
			return false, nil
		}
		seen++
	}
	return seen == window, nil
}

// InsertTurnPair implements Store.
func (s *MemoryStore) InsertTurnPair(ctx context.Context, pair model.TurnPair) (model.TurnIDs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsert != nil {
		return model.TurnIDs{}, s.FailInsert
	}
	now := time.Now().UTC()
	s.nextID++
	q := &memoryRow{
		Message: model.Message{ID: s.nextID, ConversationID: pair.ConversationID, Role: model.RoleHuman, Content: pair.Query, CreatedAt: now},
		turn:    model.Turn{RewrittenQuery: pair.RewrittenQuery, StartedAt: pair.StartedAt},
	}
	s.nextID++
	a := &memoryRow{
		Message: model.Message{ID: s.nextID, ConversationID: pair.ConversationID, Role: model.RoleAI, Content: pair.Answer, CreatedAt: now},
	}
	s.rows = append(s.rows, q, a)
	return model.TurnIDs{QuestionID: q.ID, AnswerID: a.ID}, nil
}

func (s *MemoryStore) updateQuestion(id int64, fn func(t *model.Turn)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == id && r.Role == model.RoleHuman {
			fn(&r.turn)
			return nil
		}
	}
	return ErrNotFound
}

// UpdateTurnCategory implements Store.
func (s *MemoryStore) UpdateTurnCategory(ctx context.Context, questionID int64, category model.Category) error {
	return s.updateQuestion(questionID, func(t *model.Turn) { t.Category = category })
}

// UpdateQuestionClass implements Store.
func (s *MemoryStore) UpdateQuestionClass(ctx context.Context, questionID int64, class model.QuestionClass) error {
	return s.updateQuestion(questionID, func(t *model.Turn) {
		t.QuestionCategory = class.Category
		t.QuestionSubCategory = class.SubCategory
	})
}

// UpdateCitations implements Store.
func (s *MemoryStore) UpdateCitations(ctx context.Context, questionID int64, citations []model.Citation) error {
	cp := append([]model.Citation(nil), citations...)
	return s.updateQuestion(questionID, func(t *model.Turn) { t.Citations = cp })
}

// UpdateDurations implements Store.
func (s *MemoryStore) UpdateDurations(ctx context.Context, questionID int64, d model.Durations) error {
	return s.updateQuestion(questionID, func(t *model.Turn) { t.Durations = d })
}

// FlagCannotAnswer implements Store.
func (s *MemoryStore) FlagCannotAnswer(ctx context.Context, questionID int64) error {
	return s.updateQuestion(questionID, func(t *model.Turn) { t.IsCannotAnswer = true })
}

// SetAnswered implements Store.
func (s *MemoryStore) SetAnswered(ctx context.Context, questionID int64, answered bool) error {
	return s.updateQuestion(questionID, func(t *model.Turn) { t.IsAnswered = &answered })
}

// ListTurns implements Store.
func (s *MemoryStore) ListTurns(ctx context.Context, id string) ([]model.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var turns []model.Turn
	for i, r := range s.rows {
		if r.ConversationID != id || r.Role != model.RoleHuman {
			continue
		}
		t := r.turn
		t.QuestionID = r.ID
		t.ConversationID = id
		t.Query = r.Content
		t.CreatedAt = r.CreatedAt
		if i+1 < len(s.rows) && s.rows[i+1].Role == model.RoleAI {
			t.AnswerID = s.rows[i+1].ID
			t.Answer = s.rows[i+1].Content
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// HelpdeskStaffed implements Store.
func (s *MemoryStore) HelpdeskStaffed(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.staffed, nil
}

// SetHelpdeskStaffed implements Store.
func (s *MemoryStore) SetHelpdeskStaffed(ctx context.Context, staffed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staffed = staffed
	return nil
}

// Revision implements Store.
func (s *MemoryStore) Revision(ctx context.Context, turnID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.revisions[turnID]
	if !ok {
		return "", ErrNotFound
	}
	return r, nil
}

// AddRevision records a human reviewed answer.
func (s *MemoryStore) AddRevision(turnID int64, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revisions[turnID] = answer
}

// QuestionVocabulary implements Store.
func (s *MemoryStore) QuestionVocabulary(ctx context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Vocabulary(s.vocabulary), nil
}

// AddQuestionClasses extends the controlled vocabulary.
func (s *MemoryStore) AddQuestionClasses(classes ...model.QuestionClass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vocabulary = append(s.vocabulary, classes...)
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Turn returns one stored turn by question id; used by tests.
func (s *MemoryStore) Turn(questionID int64) (model.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, r := range s.rows {
		if r.ID == questionID && r.Role == model.RoleHuman {
			t := r.turn
			t.QuestionID = r.ID
			t.ConversationID = r.ConversationID
			t.Query = r.Content
			if i+1 < len(s.rows) {
				t.AnswerID = s.rows[i+1].ID
				t.Answer = s.rows[i+1].Content
			}
			return t, true
		}
	}
	return model.Turn{}, false
}

var _ Store = (*MemoryStore)(nil)
