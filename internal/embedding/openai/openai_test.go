package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		if n <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": []float32{3, 4}}},
			"model":  "text-embedding-3-small",
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestEmbedNormalizesAndRecordsDimension(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "test-key")
	srv, _ := embeddingServer(t, 0)

	c, err := NewClient(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_OPENAI_KEY"}, nil)
	require.NoError(t, err)
	assert.Zero(t, c.Dimension())

	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, v, 1e-6)
	assert.Equal(t, 2, c.Dimension())
	assert.Equal(t, "openai:text-embedding-3-small", c.Name())
}

func TestEmbedRetriesServerErrors(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "test-key")
	srv, calls := embeddingServer(t, 2)

	c, err := NewClient(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_OPENAI_KEY", MaxRetries: 3}, nil)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestMissingKey(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "TEST_OPENAI_KEY"}, nil)
	assert.Error(t, err)
}

func TestRetryDelayIsCapped(t *testing.T) {
	assert.Less(t, retryDelay(0), retryDelay(1))
	assert.Equal(t, retryDelay(10), retryDelay(20))
}
