package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", normalize(":8080"))
	assert.Equal(t, "http://127.0.0.1:9000", normalize("127.0.0.1:9000/"))
	assert.Equal(t, "https://gw.internal", normalize("https://gw.internal"))
}

func TestCacheEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method + " " + r.URL.Path {
		case "GET /api/cache/stats":
			_, _ = w.Write([]byte(`{"entries":3,"bytes":120,"hits":7,"misses":3,"hit_rate":0.7}`))
		case "POST /api/cache/clear":
			_, _ = w.Write([]byte(`{"entries_removed":3,"bytes_freed":120}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	stats, err := c.CacheStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)
	assert.InDelta(t, 0.7, stats.HitRate, 1e-9)

	res, err := c.ClearCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.CacheClearResult{EntriesRemoved: 3, BytesFreed: 120}, res)
}

func TestMetrics(t *testing.T) {
	var gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		_, _ = w.Write([]byte(`{"total_requests":2,"hits":1,"misses":1,"hit_rate":0.5,"total_cost":52.5,
			"by_tier":{"opus":{"requests":2,"cost":52.5}},
			"recent":[{"id":"b","outcome":"hit"},{"id":"a","outcome":"miss"}]}`))
	}))
	defer srv.Close()

	m, err := New(srv.URL).Metrics(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "5", gotLimit)
	assert.EqualValues(t, 2, m.TotalRequests)
	assert.Equal(t, models.NanosFromUSD(52.5), m.TotalCost)
	assert.Equal(t, models.NanosFromUSD(52.5), m.ByTier["opus"].Cost)
	require.Len(t, m.Recent, 2)
	assert.Equal(t, models.OutcomeHit, m.Recent[0].Outcome)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"audit log is disabled","type":"gatecache_error","code":503,"kind":"internal"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).CacheStats(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "audit log is disabled", apiErr.Message)
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).CacheStats(context.Background())
	assert.Error(t, err)
}
