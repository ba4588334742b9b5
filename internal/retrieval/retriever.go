// Package retrieval searches the knowledge partitions and applies the
// partition specific filtering rules to the candidates.
package retrieval

import (
	"context"
)

// Partition is a topic scoped subset of the document index.
type Partition string

const (
	PartitionRegulation Partition = "regulation"
	PartitionProcedure  Partition = "procedure"
	PartitionFAQ        Partition = "faq"
)

// Passage is one retrieved candidate.
type Passage struct {
	Text       string  `json:"text"`
	SourceID   string  `json:"source_id"`
	SourceName string  `json:"source_name"`
	Score      float32 `json:"score"`

	// Answer is set on FAQ hits that carry their answer in metadata.
	Answer string `json:"answer,omitempty"`
}

// Retriever defines a unified search interface across partitions. Results
// are ordered by descending score.
type Retriever interface {
	Search(ctx context.Context, query string, partition Partition, topK int) ([]Passage, error)
}

// Embedder turns a query into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const unknownSource = "unknown_source"
