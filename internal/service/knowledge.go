package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dokuprime/helpdesk-assistant/internal/classify"
	"github.com/dokuprime/helpdesk-assistant/internal/generate"
	"github.com/dokuprime/helpdesk-assistant/internal/model"
	"github.com/dokuprime/helpdesk-assistant/internal/retrieval"
	"github.com/dokuprime/helpdesk-assistant/internal/store"
)

// answerFromKnowledge answers a regulation or procedure question: FAQ
// first, then document retrieval, filtering, rerank and generation.
func (s *ChatflowService) answerFromKnowledge(ctx context.Context, t *turn, topic classify.Topic) error {
	t.greet = t.newConv
	t.classifyQuestion = true

	if t.streak {
		staffed, err := s.staffed(ctx)
		if err != nil {
			return err
		}
		t.staffed = staffed
	}

	retrieveStart := time.Now()
	if s.answerFromFAQ(ctx, t) {
		t.durations.Retrieval = time.Since(retrieveStart)
		return nil
	}

	partition := retrieval.PartitionProcedure
	if topic == classify.TopicRegulation {
		partition = retrieval.PartitionRegulation
	}

	done := s.stage(ctx, "retrieve")
	candidates := s.search(ctx, t, partition, s.cfg.RetrievalTopK)
	done()
	if partition == retrieval.PartitionRegulation {
		candidates = retrieval.DropPlaceholders(candidates, s.policy.LegalPlaceholders)
	}
	t.durations.Retrieval = time.Since(retrieveStart)

	if len(candidates) == 0 {
		t.route = routeGenerated
		t.outcome = generate.OutcomeDeclined
		t.answer = s.generator.FailMessage(t.streak, t.staffed)
		return nil
	}

	if partition != retrieval.PartitionProcedure {
		if s.lookupCode(ctx, t, candidates) {
			return nil
		}
		candidates = s.refineKBLI(ctx, t, candidates)
	}

	done = s.stage(ctx, "rerank")
	ranked := s.reranker.Rerank(ctx, t.rewritten, candidates, s.cfg.RerankTopK)
	t.durations.Rerank = done()

	if partition == retrieval.PartitionRegulation {
		ranked = retrieval.Attribute(ranked, s.policy.Messages.LegalAttribution)
	}

	passages := make([]string, len(ranked))
	for i, p := range ranked {
		passages[i] = p.Text
	}

	done = s.stage(ctx, "generate")
	res := s.generator.Generate(ctx, generate.Request{
		Query:           t.req.Query,
		History:         t.history,
		Platform:        t.req.Platform,
		FailStreak:      t.streak,
		HelpdeskStaffed: t.staffed,
		Passages:        passages,
		Sources:         sourceTitles(ranked),
	})
	t.durations.Generation = done()

	t.route = routeGenerated
	t.outcome = res.Outcome
	t.answer = res.Text
	if !res.Outcome.Failed() {
		t.citations = retrieval.Citations(ranked)
	}
	return nil
}

// answerFromFAQ answers from the FAQ partition when its best hit clears
// the threshold. It never calls the generator.
func (s *ChatflowService) answerFromFAQ(ctx context.Context, t *turn) bool {
	done := s.stage(ctx, "faq")
	hits := s.search(ctx, t, retrieval.PartitionFAQ, s.cfg.FAQTopK)
	done()

	match, ok := retrieval.MatchFAQ(hits, s.cfg.FAQThreshold)
	if !ok {
		return false
	}

	answer := match.Best.Answer
	if turnID, reviewed := retrieval.ReviewedTurnID(match.Best.SourceID); reviewed {
		revised, err := s.store.Revision(ctx, turnID)
		switch {
		case err == nil:
			answer = revised
		case errors.Is(err, store.ErrNotFound):
			t.log.Stage("faq").Warn("reviewed FAQ entry has no revision", zap.Int64("turn_id", turnID))
		default:
			t.log.Stage("faq").Warn("failed to load revision", zap.Int64("turn_id", turnID), zap.Error(err))
		}
	}
	if strings.TrimSpace(answer) == "" {
		return false
	}

	var cited []retrieval.Passage
	for _, h := range match.Hits {
		if float64(h.Score) >= s.cfg.FAQThreshold {
			cited = append(cited, h)
		}
	}

	t.route = routeFAQ
	t.isFAQ = true
	t.category = model.CategoryFAQ
	t.outcome = generate.OutcomeAnswered
	t.answer = answer
	t.citations = retrieval.Citations(cited)
	return true
}

// lookupCode answers a query that names a 5-digit activity code not seen
// earlier in the conversation with the top candidate as is.
func (s *ChatflowService) lookupCode(ctx context.Context, t *turn, candidates []retrieval.Passage) bool {
	code, ok := retrieval.FirstCode(t.req.Query)
	if !ok {
		return false
	}

	prior, err := s.store.HumanQueries(ctx, t.conv.ID)
	if err != nil {
		t.log.Stage("code_lookup").Warn("cannot check earlier codes", zap.Error(err))
		return false
	}
	for _, q := range prior {
		for _, c := range retrieval.Codes(q) {
			if c == code {
				return false
			}
		}
	}

	top := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > top.Score {
			top = c
		}
	}

	t.route = routeCodeLookup
	t.outcome = generate.OutcomeAnswered
	t.answer = top.Text
	t.citations = retrieval.Citations([]retrieval.Passage{top})
	return true
}

// refineKBLI collapses candidates to one per activity code for general
// KBLI questions.
func (s *ChatflowService) refineKBLI(ctx context.Context, t *turn, candidates []retrieval.Passage) []retrieval.Passage {
	kind, err := s.classifier.KBLI(ctx, t.rewritten)
	if err != nil {
		t.log.Stage("classify_kbli").Warn("kbli classification failed", zap.Error(err))
	}
	if kind != classify.KBLIRelated {
		return candidates
	}

	spec, err := s.classifier.Specificity(ctx, t.rewritten, t.history)
	if err != nil {
		t.log.Stage("classify_specificity").Warn("specificity classification failed", zap.Error(err))
	}
	if spec != classify.General {
		return candidates
	}
	return retrieval.DedupeByCode(candidates)
}

// search queries one partition under the retrieval timeout. Failures are
// logged and yield no candidates.
func (s *ChatflowService) search(ctx context.Context, t *turn, partition retrieval.Partition, topK int) []retrieval.Passage {
	if s.cfg.RetrievalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RetrievalTimeout)
		defer cancel()
	}
	hits, err := s.retriever.Search(ctx, t.rewritten, partition, topK)
	if err != nil {
		t.log.Stage("retrieve").Warn("retrieval failed",
			zap.String("partition", string(partition)),
			zap.Error(err),
		)
		return nil
	}
	return hits
}

// sourceTitles lists the distinct source titles in order.
func sourceTitles(passages []retrieval.Passage) string {
	seen := make(map[string]bool)
	var titles []string
	for _, p := range passages {
		title := retrieval.SourceTitle(p.SourceName)
		if title == "" || seen[title] {
			continue
		}
		seen[title] = true
		titles = append(titles, title)
	}
	return strings.Join(titles, ", ")
}
