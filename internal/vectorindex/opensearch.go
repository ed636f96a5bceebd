package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ca-srg/cravings/internal/opensearch"
)

type openSearchAPI interface {
	SearchKNN(ctx context.Context, indexName string, vector []float32, k int) ([]opensearch.VectorSearchResult, error)
	BulkIndex(ctx context.Context, indexName string, docs []opensearch.Document) error
	BulkDelete(ctx context.Context, indexName string, ids []string) error
	ExistingIDs(ctx context.Context, indexName string, ids []string) (map[string]bool, error)
	ListIDs(ctx context.Context, indexName string) ([]string, error)
}

// OpenSearch stores menu item vectors in an OpenSearch knn index.
type OpenSearch struct {
	client    openSearchAPI
	indexName string
	logger    zerolog.Logger
}

func NewOpenSearch(client openSearchAPI, indexName string, logger zerolog.Logger) *OpenSearch {
	return &OpenSearch{
		client:    client,
		indexName: indexName,
		logger:    logger.With().Str("component", "opensearch-index").Logger(),
	}
}

// Query returns the topK nearest items. The lucene cosinesimil score is
// (1 + cos) / 2; it is mapped back to the cosine similarity.
func (o *OpenSearch) Query(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	results, err := o.client.SearchKNN(ctx, o.indexName, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("opensearch knn query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		meta := map[string]interface{}{}
		if len(r.Source) > 0 {
			if err := json.Unmarshal(r.Source, &meta); err != nil {
				o.logger.Warn().Err(err).Str("id", r.ID).Msg("failed to decode document source")
				meta = map[string]interface{}{}
			}
		}
		hits = append(hits, Hit{
			ID:    r.ID,
			Score: 2*r.Score - 1,
			Item:  ViewFromMetadata(r.ID, meta),
		})
	}
	return hits, nil
}

func (o *OpenSearch) Upsert(ctx context.Context, records []Record) error {
	docs := make([]opensearch.Document, 0, len(records))
	for _, rec := range records {
		docs = append(docs, opensearch.Document{
			ID:     rec.ID,
			Vector: rec.Vector,
			Body:   Metadata(rec.Item),
		})
	}
	if err := o.client.BulkIndex(ctx, o.indexName, docs); err != nil {
		return fmt.Errorf("opensearch upsert: %w", err)
	}
	return nil
}

func (o *OpenSearch) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	return o.client.ExistingIDs(ctx, o.indexName, ids)
}

func (o *OpenSearch) Delete(ctx context.Context, ids []string) error {
	return o.client.BulkDelete(ctx, o.indexName, ids)
}

func (o *OpenSearch) ListIDs(ctx context.Context) ([]string, error) {
	return o.client.ListIDs(ctx, o.indexName)
}
