package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dokuprime/helpdesk-assistant/internal/model"
)

type conversationRecord struct {
	ID               string    `gorm:"primaryKey;size:64"`
	Platform         string    `gorm:"size:32"`
	PlatformUniqueID string    `gorm:"size:128;index"`
	Context          string    `gorm:"type:text"`
	IsHelpdesk       bool      `gorm:"not null;default:false"`
	IsAskHelpdesk    bool      `gorm:"not null;default:false"`
	HelpdeskCount    int       `gorm:"not null;default:0"`
	StartTimestamp   time.Time `gorm:"not null"`
	EndTimestamp     *time.Time
}

func (conversationRecord) TableName() string { return "conversations" }

type chatHistoryRecord struct {
	ID                  int64            `gorm:"primaryKey;autoIncrement"`
	SessionID           string           `gorm:"size:64;not null;index"`
	Type                string           `gorm:"size:8;not null"`
	Content             string           `gorm:"type:text"`
	RewrittenQuery      string           `gorm:"type:text"`
	Category            string           `gorm:"size:32"`
	QuestionCategory    string           `gorm:"size:128"`
	QuestionSubCategory string           `gorm:"size:128"`
	Citations           []model.Citation `gorm:"type:text;serializer:json"`
	IsAnswered          *bool
	IsCannotAnswer      bool `gorm:"not null;default:false"`
	RetrievalMs         int64
	RerankMs            int64
	GenerationMs        int64
	StartTimestamp      *time.Time
	CreatedAt           time.Time
}

func (chatHistoryRecord) TableName() string { return "chat_history" }

type revisionRecord struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	ChatHistoryID int64  `gorm:"not null;index"`
	RevisedAnswer string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (revisionRecord) TableName() string { return "revisions" }

type helpdeskSettingRecord struct {
	ID        int  `gorm:"primaryKey"`
	IsActive  bool `gorm:"not null;default:false"`
	UpdatedAt time.Time
}

func (helpdeskSettingRecord) TableName() string { return "helpdesk_settings" }

type questionClassRecord struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Category    string `gorm:"size:128;not null"`
	SubCategory string `gorm:"size:128;not null"`
	Detail      string `gorm:"type:text"`
}

func (questionClassRecord) TableName() string { return "user_query_classifications" }

const (
	roleHuman = string(model.RoleHuman)
	roleAI    = string(model.RoleAI)

	helpdeskSettingID = 1
)

// SQLStore implements Store on gorm. Postgres serves production, SQLite
// serves tests and single-node setups.
type SQLStore struct {
	db      *gorm.DB
	timeout time.Duration
}

// SQLOptions configures the connection pool.
type SQLOptions struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	QueryTimeout time.Duration
}

// OpenSQL opens the database and configures its pool.
func OpenSQL(opts SQLOptions) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "postgres":
		dialector = postgres.Open(opts.DSN)
	case "sqlite":
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, wrap("open database", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		sqlDB.SetMaxIdleConns(opts.MaxOpenConns)
	}

	return NewSQLStore(db, opts.QueryTimeout), nil
}

// NewSQLStore wraps an open gorm handle. A zero timeout disables the
// per-query deadline.
func NewSQLStore(db *gorm.DB, timeout time.Duration) *SQLStore {
	return &SQLStore{db: db, timeout: timeout}
}

// Migrate creates or updates the tables.
func (s *SQLStore) Migrate() error {
	return s.db.AutoMigrate(
		&conversationRecord{},
		&chatHistoryRecord{},
		&revisionRecord{},
		&helpdeskSettingRecord{},
		&questionClassRecord{},
	)
}

// Close closes the underlying pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if s.timeout <= 0 {
		return s.db.WithContext(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(ctx), cancel
}

// CreateConversation implements Store.
func (s *SQLStore) CreateConversation(ctx context.Context, c *model.Conversation) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	rec := conversationRecord{
		ID:               c.ID,
		Platform:         c.Platform,
		PlatformUniqueID: c.PlatformUserID,
		StartTimestamp:   c.StartedAt,
	}
	err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	if isDuplicate(err) {
		return nil
	}
	return wrap("create conversation", err)
}

// GetConversation implements Store.
func (s *SQLStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var rec conversationRecord
	if err := db.Where("id = ?", id).Take(&rec).Error; err != nil {
		return nil, wrap("get conversation", err)
	}
	return &model.Conversation{
		ID:             rec.ID,
		Platform:       rec.Platform,
		PlatformUserID: rec.PlatformUniqueID,
		Title:          rec.Context,
		IsHelpdesk:     rec.IsHelpdesk,
		IsAskHelpdesk:  rec.IsAskHelpdesk,
		HelpdeskCount:  rec.HelpdeskCount,
		StartedAt:      rec.StartTimestamp,
		EndedAt:        rec.EndTimestamp,
	}, nil
}

// TransitionEscalation implements Store.
func (s *SQLStore) TransitionEscalation(ctx context.Context, id string, from, to model.EscalationState) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	fromHelpdesk, fromAsk := from.Flags()
	toHelpdesk, toAsk := to.Flags()
	updates := map[string]any{
		"is_helpdesk":     toHelpdesk,
		"is_ask_helpdesk": toAsk,
	}
	if to == model.StateInHelpdesk {
		updates["helpdesk_count"] = gorm.Expr("helpdesk_count + 1")
	}

	res := db.Model(&conversationRecord{}).
		Where("id = ? AND is_helpdesk = ? AND is_ask_helpdesk = ?", id, fromHelpdesk, fromAsk).
		Updates(updates)
	if res.Error != nil {
		return wrap("transition escalation", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transition escalation %s -> %s: %w", from, to, ErrConflict)
	}
	return nil
}

// SetTitleOnce implements Store.
func (s *SQLStore) SetTitleOnce(ctx context.Context, id, title string) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	err := db.Model(&conversationRecord{}).
		Where("id = ? AND (context IS NULL OR context = '')", id).
		Update("context", title).Error
	return wrap("set title", err)
}

// EndConversation implements Store.
func (s *SQLStore) EndConversation(ctx context.Context, id string, at time.Time) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	err := db.Model(&conversationRecord{}).Where("id = ?", id).Update("end_timestamp", at).Error
	return wrap("end conversation", err)
}

// RecentMessages implements Store.
func (s *SQLStore) RecentMessages(ctx context.Context, id string, limit int) ([]model.Message, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var recs []chatHistoryRecord
	err := db.Select("id", "session_id", "type", "content", "created_at").
		Where("session_id = ?", id).
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, wrap("recent messages", err)
	}

	out := make([]model.Message, len(recs))
	for i, r := range recs {
		out[i] = model.Message{
			ID:             r.ID,
			ConversationID: r.SessionID,
			Role:           model.Role(r.Type),
			Content:        r.Content,
			CreatedAt:      r.CreatedAt,
		}
	}
	return out, nil
}

// HumanQueries implements Store.
func (s *SQLStore) HumanQueries(ctx context.Context, id string) ([]string, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var out []string
	err := db.Model(&chatHistoryRecord{}).
		Where("session_id = ? AND type = ?", id, roleHuman).
		Order("id").
		Pluck("content", &out).Error
	return out, wrap("human queries", err)
}

// FailStreak implements Store.
func (s *SQLStore) FailStreak(ctx context.Context, id string, window int) (bool, error) {
	if window <= 0 {
		return false, nil
	}
	db, cancel := s.conn(ctx)
	defer cancel()

	var flags []bool
	err := db.Model(&chatHistoryRecord{}).
		Where("session_id = ? AND type = ?", id, roleHuman).
		Order("id DESC").
		Limit(window).
		Pluck("is_cannot_answer", &flags).Error
	if err != nil {
		return false, wrap("fail streak", err)
	}
	if len(flags) != window {
		return false, nil
	}
	for _, f := range flags {
		if !f {
			return false, nil
		}
	}
	return true, nil
}

// InsertTurnPair implements Store.
func (s *SQLStore) InsertTurnPair(ctx context.Context, pair model.TurnPair) (model.TurnIDs, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var ids model.TurnIDs
	err := db.Transaction(func(tx *gorm.DB) error {
		q := chatHistoryRecord{
			SessionID:      pair.ConversationID,
			Type:           roleHuman,
			Content:        pair.Query,
			RewrittenQuery: pair.RewrittenQuery,
		}
		if !pair.StartedAt.IsZero() {
			started := pair.StartedAt
			q.StartTimestamp = &started
		}
		if err := tx.Create(&q).Error; err != nil {
			return err
		}
		a := chatHistoryRecord{
			SessionID: pair.ConversationID,
			Type:      roleAI,
			Content:   pair.Answer,
		}
		if err := tx.Create(&a).Error; err != nil {
			return err
		}
		ids = model.TurnIDs{QuestionID: q.ID, AnswerID: a.ID}
		return nil
	})
	if err != nil {
		return model.TurnIDs{}, wrap("insert turn pair", err)
	}
	return ids, nil
}

func (s *SQLStore) updateQuestion(ctx context.Context, op string, questionID int64, updates map[string]any) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	res := db.Model(&chatHistoryRecord{}).
		Where("id = ? AND type = ?", questionID, roleHuman).
		Updates(updates)
	if res.Error != nil {
		return wrap(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", op, questionID, ErrNotFound)
	}
	return nil
}

// UpdateTurnCategory implements Store.
func (s *SQLStore) UpdateTurnCategory(ctx context.Context, questionID int64, category model.Category) error {
	return s.updateQuestion(ctx, "update category", questionID, map[string]any{"category": string(category)})
}

// UpdateQuestionClass implements Store.
func (s *SQLStore) UpdateQuestionClass(ctx context.Context, questionID int64, class model.QuestionClass) error {
	return s.updateQuestion(ctx, "update question class", questionID, map[string]any{
		"question_category":     class.Category,
		"question_sub_category": class.SubCategory,
	})
}

// UpdateCitations implements Store.
func (s *SQLStore) UpdateCitations(ctx context.Context, questionID int64, citations []model.Citation) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	// Updates with a struct runs the json serializer of the field.
	res := db.Model(&chatHistoryRecord{ID: questionID}).
		Where("type = ?", roleHuman).
		Select("citations").
		Updates(&chatHistoryRecord{Citations: citations})
	if res.Error != nil {
		return wrap("update citations", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update citations %d: %w", questionID, ErrNotFound)
	}
	return nil
}

// UpdateDurations implements Store.
func (s *SQLStore) UpdateDurations(ctx context.Context, questionID int64, d model.Durations) error {
	return s.updateQuestion(ctx, "update durations", questionID, map[string]any{
		"retrieval_ms":  d.Retrieval.Milliseconds(),
		"rerank_ms":     d.Rerank.Milliseconds(),
		"generation_ms": d.Generation.Milliseconds(),
	})
}

// FlagCannotAnswer implements Store.
func (s *SQLStore) FlagCannotAnswer(ctx context.Context, questionID int64) error {
	return s.updateQuestion(ctx, "flag cannot answer", questionID, map[string]any{"is_cannot_answer": true})
}

// SetAnswered implements Store.
func (s *SQLStore) SetAnswered(ctx context.Context, questionID int64, answered bool) error {
	return s.updateQuestion(ctx, "set answered", questionID, map[string]any{"is_answered": answered})
}

// ListTurns implements Store.
func (s *SQLStore) ListTurns(ctx context.Context, id string) ([]model.Turn, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var recs []chatHistoryRecord
	if err := db.Where("session_id = ?", id).Order("id").Find(&recs).Error; err != nil {
		return nil, wrap("list turns", err)
	}

	var turns []model.Turn
	for i, r := range recs {
		if r.Type != roleHuman {
			continue
		}
		t := model.Turn{
			QuestionID:          r.ID,
			ConversationID:      r.SessionID,
			Query:               r.Content,
			RewrittenQuery:      r.RewrittenQuery,
			Category:            model.Category(r.Category),
			QuestionCategory:    r.QuestionCategory,
			QuestionSubCategory: r.QuestionSubCategory,
			Citations:           r.Citations,
			IsAnswered:          r.IsAnswered,
			IsCannotAnswer:      r.IsCannotAnswer,
			Durations: model.Durations{
				Retrieval:  time.Duration(r.RetrievalMs) * time.Millisecond,
				Rerank:     time.Duration(r.RerankMs) * time.Millisecond,
				Generation: time.Duration(r.GenerationMs) * time.Millisecond,
			},
			CreatedAt: r.CreatedAt,
		}
		if r.StartTimestamp != nil {
			t.StartedAt = *r.StartTimestamp
		}
		if i+1 < len(recs) && recs[i+1].Type == roleAI {
			t.AnswerID = recs[i+1].ID
			t.Answer = recs[i+1].Content
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// HelpdeskStaffed implements Store. A missing settings row means the desk
// is closed.
func (s *SQLStore) HelpdeskStaffed(ctx context.Context) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var rec helpdeskSettingRecord
	err := db.Where("id = ?", helpdeskSettingID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrap("helpdesk status", err)
	}
	return rec.IsActive, nil
}

// SetHelpdeskStaffed implements Store.
func (s *SQLStore) SetHelpdeskStaffed(ctx context.Context, staffed bool) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	rec := helpdeskSettingRecord{ID: helpdeskSettingID, IsActive: staffed, UpdatedAt: time.Now().UTC()}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_active", "updated_at"}),
	}).Create(&rec).Error
	return wrap("set helpdesk status", err)
}

// Revision implements Store.
func (s *SQLStore) Revision(ctx context.Context, turnID int64) (string, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var rec revisionRecord
	err := db.Where("chat_history_id = ?", turnID).Order("id DESC").Take(&rec).Error
	if err != nil {
		return "", wrap("revision", err)
	}
	return rec.RevisedAnswer, nil
}

// QuestionVocabulary implements Store.
func (s *SQLStore) QuestionVocabulary(ctx context.Context) (map[string][]string, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var recs []questionClassRecord
	if err := db.Order("category, sub_category").Find(&recs).Error; err != nil {
		return nil, wrap("question vocabulary", err)
	}
	rows := make([]model.QuestionClass, len(recs))
	for i, r := range recs {
		rows[i] = model.QuestionClass{Category: r.Category, SubCategory: r.SubCategory}
	}
	return model.Vocabulary(rows), nil
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return wrap("ping", sqlDB.PingContext(ctx))
}

var _ Store = (*SQLStore)(nil)
