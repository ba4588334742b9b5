// Package rerank reorders retrieved candidates through an external
// cross-encoder service.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dokuprime/helpdesk-assistant/internal/retrieval"
	"github.com/dokuprime/helpdesk-assistant/pkg/logger"
	"github.com/dokuprime/helpdesk-assistant/pkg/metrics"
)

// Reranker reorders candidates and returns at most topK of them.
type Reranker interface {
	Rerank(ctx context.Context, query string, in []retrieval.Passage, topK int) []retrieval.Passage
}

// HTTPReranker posts the candidates as parallel arrays:
//
//	{"query": "...", "docs": [...], "fileids": [...], "filenames": [...]}
//
// and expects the reordered arrays back as [docs, fileids, filenames].
// Any failure degrades to the unreranked top-K.
type HTTPReranker struct {
	endpoint string
	client   *http.Client
	log      *logger.Logger
}

type rerankReq struct {
	Query     string   `json:"query"`
	Docs      []string `json:"docs"`
	FileIDs   []string `json:"fileids"`
	FileNames []string `json:"filenames"`
}

// NewHTTPReranker creates a reranker with the given request timeout.
func NewHTTPReranker(endpoint string, timeout time.Duration, log *logger.Logger) *HTTPReranker {
	return &HTTPReranker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      log.Stage("rerank"),
	}
}

// Rerank never fails; on any error it returns the first topK candidates.
func (h *HTTPReranker) Rerank(ctx context.Context, query string, in []retrieval.Passage, topK int) []retrieval.Passage {
	if h.endpoint == "" || len(in) == 0 {
		return retrieval.Truncate(in, topK)
	}

	out, err := h.call(ctx, query, in)
	if err != nil {
		metrics.RerankFallbacks.Inc()
		h.log.Warn("rerank failed, using unreranked candidates",
			zap.Int("candidates", len(in)),
			zap.Error(err),
		)
		return retrieval.Truncate(in, topK)
	}
	return retrieval.Truncate(out, topK)
}

func (h *HTTPReranker) call(ctx context.Context, query string, in []retrieval.Passage) ([]retrieval.Passage, error) {
	req := rerankReq{
		Query:     query,
		Docs:      make([]string, len(in)),
		FileIDs:   make([]string, len(in)),
		FileNames: make([]string, len(in)),
	}
	for i, p := range in {
		req.Docs[i] = p.Text
		req.FileIDs[i] = p.SourceID
		req.FileNames[i] = p.SourceName
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank service returned %d", resp.StatusCode)
	}

	var arrays [][]string
	if err := json.NewDecoder(resp.Body).Decode(&arrays); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}
	if len(arrays) != 3 {
		return nil, fmt.Errorf("rerank response has %d arrays, want 3", len(arrays))
	}
	docs, ids, names := arrays[0], arrays[1], arrays[2]
	if len(docs) == 0 || len(docs) != len(ids) || len(docs) != len(names) {
		return nil, fmt.Errorf("rerank response arrays are not parallel (%d/%d/%d)", len(docs), len(ids), len(names))
	}

	out := make([]retrieval.Passage, len(docs))
	for i := range docs {
		out[i] = retrieval.Passage{Text: docs[i], SourceID: ids[i], SourceName: names[i]}
	}
	return out, nil
}
