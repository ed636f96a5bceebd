package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
)

// VectorField is the knn_vector field holding item embeddings.
const VectorField = "embedding"

// maxResultWindow is the OpenSearch default cap on size for a single search.
const maxResultWindow = 10000

type VectorSearchResult struct {
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

// Document is one indexed record. Body must not contain VectorField; the
// vector is passed separately.
type Document struct {
	ID     string
	Vector []float32
	Body   map[string]interface{}
}

// SearchKNN runs an approximate k-NN query against VectorField.
func (c *Client) SearchKNN(ctx context.Context, indexName string, vector []float32, k int) ([]VectorSearchResult, error) {
	if len(vector) == 0 {
		return nil, NewSearchError(ErrorTypeValidation, "vector cannot be empty")
	}
	if k <= 0 {
		k = 10
	}
	if k > maxResultWindow {
		k = maxResultWindow
	}

	body, err := json.Marshal(buildKNNBody(vector, k))
	if err != nil {
		return nil, NewSearchError(ErrorTypeValidation, fmt.Sprintf("failed to marshal search body: %v", err))
	}

	start := time.Now()
	var results []VectorSearchResult
	err = c.do(ctx, "VectorSearch", func(ctx context.Context) error {
		resp, err := c.client.Search(ctx, &opensearchapi.SearchReq{
			Indices: []string{indexName},
			Body:    bytes.NewReader(body),
		})
		if err != nil {
			return ClassifyConnectionError(err)
		}
		if resp == nil {
			return NewSearchError(ErrorTypeResponse, "received nil response from OpenSearch")
		}
		results = make([]VectorSearchResult, len(resp.Hits.Hits))
		for i, hit := range resp.Hits.Hits {
			results[i] = VectorSearchResult{
				ID:     hit.ID,
				Score:  float64(hit.Score),
				Source: hit.Source,
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	c.logger.Debug().Dur("took", time.Since(start)).Int("hits", len(results)).Msg("vector search completed")
	return results, nil
}

func buildKNNBody(vector []float32, k int) map[string]interface{} {
	return map[string]interface{}{
		"size": k,
		"_source": map[string]interface{}{
			"excludes": []string{VectorField},
		},
		"query": map[string]interface{}{
			"knn": map[string]interface{}{
				VectorField: map[string]interface{}{
					"vector": vector,
					"k":      k,
				},
			},
		},
	}
}

// ExistingIDs returns the subset of ids present in the index.
func (c *Client) ExistingIDs(ctx context.Context, indexName string, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	hits, err := c.searchIDs(ctx, indexName, map[string]interface{}{
		"ids": map[string]interface{}{"values": ids},
	}, len(ids), "ExistingIDs")
	if err != nil {
		return nil, err
	}
	for _, id := range hits {
		found[id] = true
	}
	return found, nil
}

// ListIDs returns every document id in the index, up to the result window.
func (c *Client) ListIDs(ctx context.Context, indexName string) ([]string, error) {
	return c.searchIDs(ctx, indexName, map[string]interface{}{
		"match_all": map[string]interface{}{},
	}, maxResultWindow, "ListIDs")
}

func (c *Client) searchIDs(ctx context.Context, indexName string, query map[string]interface{}, size int, opName string) ([]string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"size":    size,
		"_source": false,
		"query":   query,
	})
	if err != nil {
		return nil, NewSearchError(ErrorTypeValidation, fmt.Sprintf("failed to marshal query: %v", err))
	}

	var ids []string
	err = c.do(ctx, opName, func(ctx context.Context) error {
		resp, err := c.client.Search(ctx, &opensearchapi.SearchReq{
			Indices: []string{indexName},
			Body:    bytes.NewReader(body),
		})
		if err != nil {
			return ClassifyConnectionError(err)
		}
		if resp == nil {
			return NewSearchError(ErrorTypeResponse, "received nil response from OpenSearch")
		}
		ids = ids[:0]
		for _, hit := range resp.Hits.Hits {
			ids = append(ids, hit.ID)
		}
		return nil
	})
	return ids, err
}

// BulkIndex writes docs with their ids, replacing existing documents.
func (c *Client) BulkIndex(ctx context.Context, indexName string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	body, err := buildBulkIndexBody(indexName, docs)
	if err != nil {
		return err
	}
	return c.bulk(ctx, body, fmt.Sprintf("BulkIndex[%d docs]", len(docs)))
}

// BulkDelete removes the given ids. Missing ids are not an error.
func (c *Client) BulkDelete(ctx context.Context, indexName string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var b strings.Builder
	for _, id := range ids {
		action, err := json.Marshal(map[string]interface{}{
			"delete": map[string]interface{}{"_index": indexName, "_id": id},
		})
		if err != nil {
			return fmt.Errorf("failed to marshal bulk action: %w", err)
		}
		b.Write(action)
		b.WriteString("\n")
	}
	return c.bulk(ctx, b.String(), fmt.Sprintf("BulkDelete[%d docs]", len(ids)))
}

func (c *Client) bulk(ctx context.Context, body, opName string) error {
	return c.do(ctx, opName, func(ctx context.Context) error {
		resp, err := c.client.Bulk(ctx, opensearchapi.BulkReq{
			Body: strings.NewReader(body),
		})
		if err != nil {
			return ClassifyConnectionError(err)
		}
		if resp != nil && resp.Errors {
			return NewSearchError(ErrorTypeBulk, "bulk request reported item failures")
		}
		return nil
	})
}

func buildBulkIndexBody(indexName string, docs []Document) (string, error) {
	var b strings.Builder
	b.Grow(len(docs) * 256)

	for _, doc := range docs {
		if doc.ID == "" {
			return "", NewSearchError(ErrorTypeValidation, "document id cannot be empty")
		}
		action, err := json.Marshal(map[string]interface{}{
			"index": map[string]interface{}{"_index": indexName, "_id": doc.ID},
		})
		if err != nil {
			return "", fmt.Errorf("failed to marshal bulk action: %w", err)
		}

		source := make(map[string]interface{}, len(doc.Body)+1)
		for k, v := range doc.Body {
			source[k] = v
		}
		source[VectorField] = doc.Vector

		docJSON, err := json.Marshal(source)
		if err != nil {
			return "", fmt.Errorf("failed to marshal document: %w", err)
		}

		b.Write(action)
		b.WriteString("\n")
		b.Write(docJSON)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// CreateVectorIndex creates a cosine-similarity knn index for menu items. An
// index that already exists is left untouched.
func (c *Client) CreateVectorIndex(ctx context.Context, indexName string, dimension int) error {
	if dimension <= 0 {
		return NewSearchError(ErrorTypeValidation, "dimension must be positive")
	}
	bodyJSON, err := json.Marshal(vectorIndexSettings(dimension))
	if err != nil {
		return fmt.Errorf("failed to marshal index settings: %w", err)
	}

	created := false
	err = c.do(ctx, "CreateIndex", func(ctx context.Context) error {
		_, err := c.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
			Index: indexName,
			Body:  bytes.NewReader(bodyJSON),
		})
		if err != nil {
			if strings.Contains(err.Error(), "resource_already_exists_exception") {
				return nil
			}
			return ClassifyConnectionError(err)
		}
		created = true
		return nil
	})
	if err != nil || !created {
		return err
	}
	c.logger.Info().Str("index", indexName).Int("dimension", dimension).Msg("created vector index")
	return nil
}

func vectorIndexSettings(dimension int) map[string]interface{} {
	keyword := map[string]interface{}{"type": "keyword"}
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"index": map[string]interface{}{"knn": true},
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"id":            map[string]interface{}{"type": "long"},
				"name":          map[string]interface{}{"type": "text"},
				"description":   map[string]interface{}{"type": "text"},
				"image_url":     map[string]interface{}{"type": "keyword", "index": false},
				"price":         map[string]interface{}{"type": "float"},
				"is_veg":        map[string]interface{}{"type": "boolean"},
				"is_bestseller": map[string]interface{}{"type": "boolean"},
				"is_available":  map[string]interface{}{"type": "boolean"},
				"category_id":   map[string]interface{}{"type": "integer"},
				"tags":          keyword,
				VectorField: map[string]interface{}{
					"type":      "knn_vector",
					"dimension": dimension,
					"method": map[string]interface{}{
						"engine":     "lucene",
						"space_type": "cosinesimil",
						"name":       "hnsw",
					},
				},
			},
		},
	}
}
