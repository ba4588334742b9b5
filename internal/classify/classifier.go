package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dokuprime/helpdesk-assistant/internal/config"
	"github.com/dokuprime/helpdesk-assistant/internal/llm"
	"github.com/dokuprime/helpdesk-assistant/internal/model"
)

// VocabularySource provides the controlled question category vocabulary,
// keyed by category with its allowed sub-categories.
type VocabularySource interface {
	QuestionVocabulary(ctx context.Context) (map[string][]string, error)
}

// Classifier runs the classification prompts against a shared backend.
// Every method returns a valid label even when it also returns an error;
// the label is then the safe default of its set.
type Classifier struct {
	client  llm.Client
	prompts config.Prompts
	vocab   VocabularySource
}

// New creates a classifier.
func New(client llm.Client, prompts config.Prompts, vocab VocabularySource) *Classifier {
	return &Classifier{client: client, prompts: prompts, vocab: vocab}
}

func (c *Classifier) ask(ctx context.Context, system, query, history string) (string, error) {
	var b strings.Builder
	b.WriteString("<context>\n")
	b.WriteString(SanitizeInput(history))
	b.WriteString("\n</context>\n<query>\n")
	b.WriteString(SanitizeInput(query))
	b.WriteString("\n</query>")
	return llm.Ask(ctx, c.client, system, b.String())
}

// Topic classifies the routing bucket of a query.
func (c *Classifier) Topic(ctx context.Context, query, history string) (Topic, model.Category, error) {
	label, err := c.ask(ctx, c.prompts.Topic, query, history)
	if err != nil {
		return TopicOutOfScope, model.CategoryNone, fmt.Errorf("classify topic: %w", err)
	}
	topic, category := ParseTopic(label)
	return topic, category, nil
}

// Confirmation classifies the reply to a helpdesk offer.
func (c *Classifier) Confirmation(ctx context.Context, query, history string) (Confirmation, error) {
	label, err := c.ask(ctx, c.prompts.Confirmation, query, history)
	if err != nil {
		return ConfirmUnclear, fmt.Errorf("classify confirmation: %w", err)
	}
	return ParseConfirmation(label), nil
}

// KBLI decides whether a query concerns business activity codes.
func (c *Classifier) KBLI(ctx context.Context, query string) (KBLIKind, error) {
	label, err := c.ask(ctx, c.prompts.KBLI, query, "")
	if err != nil {
		return KBLIOther, fmt.Errorf("classify kbli: %w", err)
	}
	return ParseKBLI(label), nil
}

// Specificity decides whether a KBLI query pins a single code.
func (c *Classifier) Specificity(ctx context.Context, query, history string) (Specificity, error) {
	label, err := c.ask(ctx, c.prompts.Specificity, query, history)
	if err != nil {
		return Specific, fmt.Errorf("classify specificity: %w", err)
	}
	return ParseSpecificity(label), nil
}

// Relatedness decides whether a query continues the conversation history.
// An empty history is always unrelated and makes no backend call.
func (c *Classifier) Relatedness(ctx context.Context, query, history string) (Relatedness, error) {
	if strings.TrimSpace(history) == "" {
		return Unrelated, nil
	}
	label, err := c.ask(ctx, c.prompts.Relatedness, query, history)
	if err != nil {
		return Unrelated, fmt.Errorf("classify relatedness: %w", err)
	}
	return ParseRelatedness(label), nil
}

// QuestionClass assigns a fine-grained category pair from the controlled
// vocabulary. Output outside the vocabulary becomes Unknown/Unknown.
func (c *Classifier) QuestionClass(ctx context.Context, query string) (model.QuestionClass, error) {
	vocab, err := c.vocab.QuestionVocabulary(ctx)
	if err != nil {
		return model.UnknownQuestionClass, fmt.Errorf("loading question vocabulary: %w", err)
	}
	if len(vocab) == 0 {
		return model.UnknownQuestionClass, nil
	}

	listing, err := json.MarshalIndent(vocab, "", "  ")
	if err != nil {
		return model.UnknownQuestionClass, err
	}
	system := fmt.Sprintf(c.prompts.QuestionClass, listing)

	out, err := llm.Ask(ctx, c.client, system, fmt.Sprintf("User query: %q", SanitizeInput(query)))
	if err != nil {
		return model.UnknownQuestionClass, fmt.Errorf("classify question: %w", err)
	}

	class, ok := parseQuestionClass(out)
	if !ok || !inVocabulary(vocab, class) {
		return model.UnknownQuestionClass, nil
	}
	return class, nil
}

// parseQuestionClass extracts the first JSON object of the output and
// accepts either {"category": ..., "sub_category": ...} or a single
// {"<category>": "<sub_category>"} pair.
func parseQuestionClass(out string) (model.QuestionClass, bool) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return model.QuestionClass{}, false
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(out[start:end+1]), &raw); err != nil {
		return model.QuestionClass{}, false
	}

	cat, catOK := raw["category"].(string)
	sub, subOK := raw["sub_category"].(string)
	if catOK && subOK {
		return model.QuestionClass{Category: cat, SubCategory: sub}, true
	}

	if len(raw) == 1 {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				return model.QuestionClass{Category: k, SubCategory: s}, true
			}
		}
	}
	return model.QuestionClass{}, false
}

func inVocabulary(vocab map[string][]string, class model.QuestionClass) bool {
	subs, ok := vocab[class.Category]
	if !ok {
		return false
	}
	for _, s := range subs {
		if s == class.SubCategory {
			return true
		}
	}
	return false
}
