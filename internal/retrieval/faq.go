package retrieval

import (
	"strconv"
	"strings"

	"github.com/dokuprime/helpdesk-assistant/internal/model"
)

const validationPrefix = "validation-"

// FAQMatch is the outcome of an FAQ lookup.
type FAQMatch struct {
	Best  Passage
	Hits  []Passage
	Score float32
}

// MatchFAQ reports whether the best hit clears the threshold. The
// boundary is inclusive: a score equal to the threshold matches.
func MatchFAQ(hits []Passage, threshold float64) (FAQMatch, bool) {
	if len(hits) == 0 {
		return FAQMatch{}, false
	}
	best := hits[0]
	for _, h := range hits[1:] {
		if h.Score > best.Score {
			best = h
		}
	}
	if float64(best.Score) < threshold {
		return FAQMatch{Best: best, Score: best.Score}, false
	}
	return FAQMatch{Best: best, Hits: hits, Score: best.Score}, true
}

// ReviewedTurnID returns the turn id of a human reviewed FAQ entry, whose
// source id has the form "validation-<id>".
func ReviewedTurnID(sourceID string) (int64, bool) {
	if !strings.HasPrefix(sourceID, validationPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(sourceID, validationPrefix)), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Citations builds ordered citations, one per source id, skipping human
// reviewed entries.
func Citations(passages []Passage) []model.Citation {
	seen := make(map[string]bool)
	out := make([]model.Citation, 0, len(passages))
	for _, p := range passages {
		if _, reviewed := ReviewedTurnID(p.SourceID); reviewed {
			continue
		}
		if seen[p.SourceID] {
			continue
		}
		seen[p.SourceID] = true
		out = append(out, model.Citation{SourceID: p.SourceID, SourceName: p.SourceName})
	}
	return out
}
