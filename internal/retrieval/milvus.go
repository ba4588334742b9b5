package retrieval

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	fieldVector   = "vector"
	fieldText     = "text"
	fieldFileID   = "file_id"
	fieldFileName = "filename"
	fieldAnswer   = "answer"

	hnswEf = 64
)

// MilvusConfig configures the vector index connection.
type MilvusConfig struct {
	Address     string
	Username    string
	Password    string
	Collections map[Partition]string
}

// MilvusRetriever implements Retriever with one Milvus collection per
// partition. It is safe for concurrent use.
type MilvusRetriever struct {
	client      client.Client
	embed       Embedder
	collections map[Partition]string
	param       entity.SearchParam
}

// NewMilvusRetriever connects to Milvus.
func NewMilvusRetriever(ctx context.Context, cfg MilvusConfig, embed Embedder) (*MilvusRetriever, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to milvus: %w", err)
	}

	param, err := entity.NewIndexHNSWSearchParam(hnswEf)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("building search param: %w", err)
	}

	return &MilvusRetriever{
		client:      c,
		embed:       embed,
		collections: cfg.Collections,
		param:       param,
	}, nil
}

// Search embeds the query and searches the partition's collection.
func (m *MilvusRetriever) Search(ctx context.Context, query string, partition Partition, topK int) ([]Passage, error) {
	coll, ok := m.collections[partition]
	if !ok {
		return nil, fmt.Errorf("no collection configured for partition %q", partition)
	}

	vec, err := m.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	outputFields := []string{fieldText, fieldFileID, fieldFileName}
	if partition == PartitionFAQ {
		outputFields = append(outputFields, fieldAnswer)
	}

	results, err := m.client.Search(ctx, coll, nil, "", outputFields,
		[]entity.Vector{entity.FloatVector(vec)}, fieldVector, entity.COSINE, topK, m.param)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", coll, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	r := results[0]
	passages := make([]Passage, 0, r.ResultCount)
	for i := 0; i < r.ResultCount; i++ {
		p := Passage{
			Text:       columnString(r.Fields, fieldText, i),
			SourceID:   columnString(r.Fields, fieldFileID, i),
			SourceName: columnString(r.Fields, fieldFileName, i),
			Answer:     columnString(r.Fields, fieldAnswer, i),
		}
		if i < len(r.Scores) {
			p.Score = r.Scores[i]
		}
		if p.SourceID == "" {
			p.SourceID = unknownSource
		}
		if p.SourceName == "" {
			p.SourceName = unknownSource
		}
		passages = append(passages, p)
	}
	return passages, nil
}

// Close releases the Milvus connection.
func (m *MilvusRetriever) Close() error {
	return m.client.Close()
}

func columnString(fields client.ResultSet, name string, i int) string {
	col := fields.GetColumn(name)
	if col == nil {
		return ""
	}
	s, err := col.GetAsString(i)
	if err != nil {
		return ""
	}
	return s
}
