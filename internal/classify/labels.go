// Package classify wraps the single-shot generative classifiers used by the
// chat flow. Every label is checked against a closed set before it leaves
// this package.
package classify

import (
	"strings"

	"github.com/dokuprime/helpdesk-assistant/internal/model"
)

// Topic is the coarse routing bucket of a query.
type Topic string

const (
	TopicRegulation Topic = "regulation"
	TopicProcedure  Topic = "procedure"
	TopicHelpdesk   Topic = "helpdesk"
	TopicGreeting   Topic = "greeting"
	TopicThankYou   Topic = "thank_you"
	TopicClassified Topic = "classified"
	TopicOutOfScope Topic = "out_of_scope"
)

// Retrieves reports whether the topic routes to document retrieval.
func (t Topic) Retrieves() bool {
	return t == TopicRegulation || t == TopicProcedure
}

// ParseTopic maps a raw classifier label to a topic and the coarse category
// persisted on the turn. Unknown labels become out of scope.
func ParseTopic(label string) (Topic, model.Category) {
	switch normalize(label) {
	case "peraturan_collection":
		return TopicRegulation, model.CategoryPeraturan
	case "uraian_collection":
		return TopicRegulation, model.CategoryUraian
	case "panduan_collection":
		return TopicProcedure, model.CategoryPanduan
	case "helpdesk":
		return TopicHelpdesk, model.CategoryNone
	case "greeting_query":
		return TopicGreeting, model.CategoryNone
	case "thank_you":
		return TopicThankYou, model.CategoryNone
	case "classified_information":
		return TopicClassified, model.CategoryNone
	default:
		return TopicOutOfScope, model.CategoryNone
	}
}

// Confirmation is the answer to a helpdesk handoff offer.
type Confirmation string

const (
	ConfirmAffirm  Confirmation = "affirm"
	ConfirmReject  Confirmation = "reject"
	ConfirmUnclear Confirmation = "unclear"
)

// ParseConfirmation maps a raw label; anything unexpected is unclear.
func ParseConfirmation(label string) Confirmation {
	switch normalize(label) {
	case "ya", "affirm", "yes":
		return ConfirmAffirm
	case "tidak", "reject", "no":
		return ConfirmReject
	default:
		return ConfirmUnclear
	}
}

// KBLIKind tells whether a query is about business activity codes.
type KBLIKind string

const (
	KBLIRelated KBLIKind = "kbli"
	KBLIOther   KBLIKind = "non_kbli"
)

// ParseKBLI maps a raw label; anything unexpected is non_kbli.
func ParseKBLI(label string) KBLIKind {
	if normalize(label) == "kbli" {
		return KBLIRelated
	}
	return KBLIOther
}

// Specificity tells whether a KBLI query pins one activity code.
type Specificity string

const (
	Specific Specificity = "specific"
	General  Specificity = "general"
)

// ParseSpecificity maps a raw label. Only an explicit "general" enables
// code deduplication downstream.
func ParseSpecificity(label string) Specificity {
	if normalize(label) == "general" {
		return General
	}
	return Specific
}

// Relatedness tells whether a query continues the conversation.
type Relatedness string

const (
	Related   Relatedness = "related"
	Unrelated Relatedness = "unrelated"
)

// ParseRelatedness maps a raw label; anything unexpected is unrelated so
// that stale context never leaks into a rewrite.
func ParseRelatedness(label string) Relatedness {
	if normalize(label) == "related" {
		return Related
	}
	return Unrelated
}

func normalize(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.Trim(l, "\"'`.*")
	l = strings.ReplaceAll(l, "-", "_")
	l = strings.ReplaceAll(l, " ", "_")
	return l
}
