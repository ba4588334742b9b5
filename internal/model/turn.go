package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Role represents the author of a stored message.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// Category is the coarse topic tag persisted on a turn.
type Category string

const (
	CategoryNone      Category = ""
	CategoryPanduan   Category = "panduan"
	CategoryPeraturan Category = "peraturan"
	CategoryUraian    Category = "uraian"
	CategoryFAQ       Category = "faq"
)

// Citation is one source attributed to an answer.
type Citation struct {
	SourceID   string `json:"source_id"`
	SourceName string `json:"source_name"`
}

// Durations is the timing breakdown of a turn.
type Durations struct {
	Retrieval  time.Duration `json:"retrieval"`
	Rerank     time.Duration `json:"rerank"`
	Generation time.Duration `json:"generation"`
}

// Message is one stored row of the conversation history.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"type"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Turn is a human message together with its paired answer.
type Turn struct {
	// Identity
	QuestionID     int64  `json:"question_id"`
	AnswerID       int64  `json:"answer_id"`
	ConversationID string `json:"conversation_id"`

	// Content
	Query          string `json:"query"`
	RewrittenQuery string `json:"rewritten_query,omitempty"`
	Answer         string `json:"answer"`

	// Classification
	Category            Category `json:"category,omitempty"`
	QuestionCategory    string   `json:"question_category,omitempty"`
	QuestionSubCategory string   `json:"question_sub_category,omitempty"`

	Citations []Citation `json:"citations,omitempty"`

	// Flags
	IsAnswered     *bool `json:"is_answered,omitempty"`
	IsCannotAnswer bool  `json:"is_cannot_answer"`

	Durations Durations `json:"durations"`

	StartedAt time.Time `json:"start_timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnPair is the input of an atomic human+answer insert.
type TurnPair struct {
	ConversationID string
	Query          string
	RewrittenQuery string
	Answer         string
	StartedAt      time.Time
}

// TurnIDs identifies the two rows created by a pair insert.
type TurnIDs struct {
	QuestionID int64
	AnswerID   int64
}

// QuestionClass is a fine-grained category/sub-category pair.
type QuestionClass struct {
	Category    string `json:"category"`
	SubCategory string `json:"sub_category"`
}

// UnknownQuestionClass is used when the classifier output cannot be trusted.
var UnknownQuestionClass = QuestionClass{Category: "Unknown", SubCategory: "Unknown"}

// OldestFirst returns a reversed copy of messages read newest-first.
func OldestFirst(newestFirst []Message) []Message {
	out := make([]Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out
}

// Transcript renders oldest-first messages as prompt context. No messages
// renders as an empty string.
func Transcript(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s: %s", i+1, m.Role, m.Content)
	}
	return b.String()
}

// Vocabulary groups category rows by category, dropping duplicates. Sub
// categories are sorted.
func Vocabulary(rows []QuestionClass) map[string][]string {
	vocab := make(map[string][]string)
	seen := make(map[QuestionClass]bool)
	for _, r := range rows {
		if seen[r] {
			continue
		}
		seen[r] = true
		vocab[r.Category] = append(vocab[r.Category], r.SubCategory)
	}
	for _, subs := range vocab {
		sort.Strings(subs)
	}
	return vocab
}
