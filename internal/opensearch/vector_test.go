package opensearch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(&Config{
		Endpoint:   srv.URL,
		RateLimit:  1000,
		RateBurst:  1000,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())

	cfg = &Config{Endpoint: "http://localhost:9200", RateLimit: 5000, RequestTimeout: time.Hour, MaxRetries: -1}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000.0, cfg.RateLimit)
	assert.Equal(t, 20, cfg.RateBurst)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, 64, cfg.MaxConns)
}

func TestBuildKNNBody(t *testing.T) {
	body := buildKNNBody([]float32{0.1, 0.2}, 20)

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"size": 20,
		"_source": {"excludes": ["embedding"]},
		"query": {"knn": {"embedding": {"vector": [0.1, 0.2], "k": 20}}}
	}`, string(raw))
}

func TestBuildBulkIndexBody(t *testing.T) {
	body, err := buildBulkIndexBody("menu", []Document{
		{ID: "7", Vector: []float32{1, 0}, Body: map[string]interface{}{"name": "Iced Mocha"}},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"index":{"_index":"menu","_id":"7"}}`, lines[0])
	assert.JSONEq(t, `{"name":"Iced Mocha","embedding":[1,0]}`, lines[1])

	_, err = buildBulkIndexBody("menu", []Document{{Vector: []float32{1}}})
	require.Error(t, err)
}

func TestClassifyConnectionError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		errType   ErrorType
		retryable bool
	}{
		{"timeout", errors.New("dial tcp: i/o timeout"), ErrorTypeNetworkTimeout, true},
		{"refused", errors.New("dial tcp 127.0.0.1:9200: connection refused"), ErrorTypeValidation, false},
		{"no host", errors.New("dial tcp: lookup nowhere: no such host"), ErrorTypeValidation, false},
		{"throttled", errors.New("status: 429 Too Many Requests"), ErrorTypeRateLimit, true},
		{"missing index", errors.New("index_not_found_exception"), ErrorTypeValidation, false},
		{"cancelled", context.Canceled, ErrorTypeNetworkTimeout, false},
		{"other", errors.New("weird"), ErrorTypeUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyConnectionError(tt.err)
			assert.Equal(t, tt.errType, got.Type)
			assert.Equal(t, tt.retryable, got.IsRetryable())
		})
	}
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	c := &Client{config: &Config{MaxRetries: 3, RetryDelay: time.Millisecond}, logger: zerolog.Nop()}

	calls := 0
	err := c.do(context.Background(), "op", func(context.Context) error {
		calls++
		return NewSearchError(ErrorTypeValidation, "bad")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	c := &Client{config: &Config{MaxRetries: 3, RetryDelay: time.Millisecond}, logger: zerolog.Nop()}

	calls := 0
	err := c.do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return NewRetryableSearchError(ErrorTypeServer, "busy", 0)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestSearchKNN(t *testing.T) {
	var gotBody map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/menu/_search", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"took": 2, "timed_out": false,
			"_shards": {"total": 1, "successful": 1, "skipped": 0, "failed": 0},
			"hits": {"total": {"value": 1, "relation": "eq"}, "max_score": 0.9,
				"hits": [{"_index": "menu", "_id": "7", "_score": 0.9, "_source": {"name": "Iced Mocha"}}]}
		}`)
	})

	hits, err := c.SearchKNN(context.Background(), "menu", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "7", hits[0].ID)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-6)
	assert.JSONEq(t, `{"name":"Iced Mocha"}`, string(hits[0].Source))
	assert.EqualValues(t, 5, gotBody["size"])
}

func TestBulkIndexAndDelete(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_bulk", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(raw))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"took": 1, "errors": false, "items": []}`)
	})

	ctx := context.Background()
	require.NoError(t, c.BulkIndex(ctx, "menu", []Document{{ID: "1", Vector: []float32{1}}}))
	require.NoError(t, c.BulkDelete(ctx, "menu", []string{"1", "2"}))

	require.Len(t, bodies, 2)
	assert.Contains(t, bodies[0], `"_id":"1"`)
	assert.Equal(t, 2, strings.Count(bodies[1], `"delete"`))
}

func TestBulkIndex_ReportsItemFailures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"took": 1, "errors": true, "items": []}`)
	})

	err := c.BulkIndex(context.Background(), "menu", []Document{{ID: "1", Vector: []float32{1}}})
	require.Error(t, err)
	var searchErr *SearchError
	require.True(t, errors.As(err, &searchErr))
	assert.Equal(t, ErrorTypeBulk, searchErr.Type)
}

func TestPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_cluster/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"cluster_name": "menu", "status": "green", "number_of_nodes": 1}`)
	})
	require.NoError(t, c.Ping(context.Background()))
}
