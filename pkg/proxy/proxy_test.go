package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pario-ai/gatecache/pkg/auth"
	"github.com/pario-ai/gatecache/pkg/budget"
	"github.com/pario-ai/gatecache/pkg/cache"
	"github.com/pario-ai/gatecache/pkg/config"
	"github.com/pario-ai/gatecache/pkg/metrics"
	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/pario-ai/gatecache/pkg/pricing"
	"github.com/pario-ai/gatecache/pkg/provider"
	"github.com/pario-ai/gatecache/pkg/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const testKey = "sk-ant-REDACTED"

// upstream is a fake provider that counts inference calls.
type upstream struct {
	*httptest.Server
	calls atomic.Int64
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusOK)
			return
		}
		u.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func anthropicReply(in, out int64) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-opus-4-1",
			"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn",
			"usage":{"input_tokens":%d,"output_tokens":%d}}`, in, out)
	}
}

func anthropicProvider(name, url string) config.ProviderConfig {
	return config.ProviderConfig{
		Name:      name,
		Type:      config.TypeAnthropic,
		URL:       url,
		APIKeyEnv: "TEST_ANTHROPIC_KEY",
		Timeout:   5 * time.Second,
	}
}

func testConfig(providers ...config.ProviderConfig) *config.Config {
	cfg := config.Default()
	cfg.Providers = providers
	cfg.Routing.DefaultProvider = providers[0].Name
	return cfg
}

type testServer struct {
	*Server
	store *cache.Store
}

func newTestServer(t *testing.T, cfg *config.Config, env auth.MapSource, deps func(*Deps)) *testServer {
	t.Helper()
	rt, err := router.New(cfg, pricing.NewTable(nil))
	require.NoError(t, err)
	reg, err := provider.NewRegistry(cfg.Providers)
	require.NoError(t, err)

	d := Deps{
		Config:    cfg,
		Router:    rt,
		Providers: reg,
		Resolver:  auth.NewResolver(env, nil),
	}
	if cfg.Cache.Enabled {
		d.Store = cache.New(cache.Options{
			MaxEntries: cfg.Cache.MaxEntries,
			MaxBytes:   cfg.Cache.MaxBytes,
			TTL:        cfg.Cache.TTL,
		})
	}
	if deps != nil {
		deps(&d)
	}
	srv, err := New(d)
	require.NoError(t, err)
	return &testServer{Server: srv, store: d.Store}
}

func defaultEnv() auth.MapSource {
	return auth.MapSource{"TEST_ANTHROPIC_KEY": testKey}
}

func post(h http.Handler, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func opusBody(text string) string {
	return fmt.Sprintf(`{"model":"claude-opus-4-1","max_tokens":1024,"messages":[{"role":"user","content":%q}]}`, text)
}

func TestCacheHitCostsNothingAndSavesFullPrice(t *testing.T) {
	up := newUpstream(t, anthropicReply(1_000_000, 500_000))
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), defaultEnv(), nil)

	first := post(srv, "/v1/messages", opusBody("design a cache"))
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, "miss", first.Header().Get(headerCache))

	second := post(srv, "/v1/messages", opusBody("design a cache"))
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "hit", second.Header().Get(headerCache))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.EqualValues(t, 1, up.calls.Load())

	recent := srv.Analytics().Recent(0)
	require.Len(t, recent, 2)
	hit, miss := recent[0], recent[1]

	want := models.NanosFromUSD(52.50)
	assert.Equal(t, models.OutcomeMiss, miss.Outcome)
	assert.Equal(t, want, miss.Cost)
	assert.Equal(t, want, miss.WouldBeCost)
	assert.Zero(t, miss.Savings)

	assert.Equal(t, models.OutcomeHit, hit.Outcome)
	assert.Zero(t, hit.Cost)
	assert.Equal(t, want, hit.WouldBeCost)
	assert.Equal(t, want, hit.Savings)
	assert.True(t, hit.Usage.IsZero())
	assert.Equal(t, "primary", hit.Provider)
	assert.Equal(t, "opus", hit.Tier)

	sum := srv.Analytics().Summary()
	assert.Equal(t, want, sum.TotalCost)
	assert.Equal(t, want, sum.TotalSavings)
	assert.InDelta(t, 0.5, sum.HitRate, 1e-9)
}

func TestHitRateOverTenRequests(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), defaultEnv(), nil)

	for _, q := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusOK, post(srv, "/v1/messages", opusBody(q)).Code)
	}
	for i := 0; i < 7; i++ {
		w := post(srv, "/v1/messages", opusBody("a"))
		require.Equal(t, "hit", w.Header().Get(headerCache))
	}

	w := get(srv, "/gateway/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.Bytes()
	assert.EqualValues(t, 7, gjson.GetBytes(body, "hits").Int())
	assert.EqualValues(t, 3, gjson.GetBytes(body, "misses").Int())
	assert.InDelta(t, 0.70, gjson.GetBytes(body, "hit_rate").Float(), 1e-9)
	assert.Len(t, gjson.GetBytes(body, "recent").Array(), 10)
	assert.EqualValues(t, 10, gjson.GetBytes(body, "by_tier.opus.requests").Int())

	w = get(srv, "/gateway/metrics?limit=3")
	assert.Len(t, gjson.GetBytes(w.Body.Bytes(), "recent").Array(), 3)
}

func TestUnknownModelIsRejected(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), defaultEnv(), nil)

	w := post(srv, "/v1/messages", `{"model":"mystery-9000","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "gatecache_error", gjson.Get(w.Body.String(), "error.type").String())
	assert.Equal(t, KindUnknownModel, gjson.Get(w.Body.String(), "error.kind").String())
	assert.EqualValues(t, http.StatusBadRequest, gjson.Get(w.Body.String(), "error.code").Int())
	assert.Zero(t, up.calls.Load())

	sum := srv.Analytics().Summary()
	assert.EqualValues(t, 1, sum.Failures)
	assert.Zero(t, sum.Hits)
	assert.Zero(t, sum.Misses)
	assert.Zero(t, sum.HitRate)
	assert.Zero(t, sum.TotalCost)
}

func TestInvalidRequests(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	cfg := testConfig(anthropicProvider("primary", up.URL))
	cfg.Server.MaxBodyBytes = 256
	srv := newTestServer(t, cfg, defaultEnv(), nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"not json", `not json`, http.StatusBadRequest},
		{"array", `[1,2]`, http.StatusBadRequest},
		{"missing model", `{"messages":[]}`, http.StatusBadRequest},
		{"too large", `{"model":"claude-opus-4-1","pad":"` + strings.Repeat("x", 512) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(srv, "/v1/messages", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, KindInvalidRequest, gjson.Get(w.Body.String(), "error.kind").String())
		})
	}
	assert.Zero(t, up.calls.Load())
	assert.EqualValues(t, len(tests), srv.Analytics().Summary().Failures)
}

func TestRequestIDHeader(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), defaultEnv(), nil)

	w := post(srv, "/v1/messages", opusBody("hi"))
	id := w.Header().Get(headerRequestID)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, srv.Analytics().Recent(1)[0].ID)
}

func TestNoCredential(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), auth.MapSource{}, nil)

	w := post(srv, "/v1/messages", opusBody("hi"))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, KindNoCredential, gjson.Get(w.Body.String(), "error.kind").String())
	assert.Zero(t, up.calls.Load())
	assert.EqualValues(t, 1, srv.Analytics().Summary().Failures)
}

func TestPassthroughCredentialWins(t *testing.T) {
	var gotKey atomic.Value
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("x-api-key"))
		anthropicReply(10, 5)(w, r)
	})
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), defaultEnv(), nil)

	w := post(srv, "/v1/messages", opusBody("hi"), "x-api-key", "sk-ant-REDACTED")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sk-ant-REDACTED", gotKey.Load())
}

func TestFallbackOnUpstreamFailure(t *testing.T) {
	broken := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	backup := newUpstream(t, anthropicReply(10, 5))

	cfg := testConfig(anthropicProvider("primary", broken.URL), anthropicProvider("backup", backup.URL))
	cfg.Routing.FallbackChain = []string{"primary", "backup"}
	srv := newTestServer(t, cfg, defaultEnv(), nil)

	w := post(srv, "/v1/messages", opusBody("hi"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, broken.calls.Load())
	assert.EqualValues(t, 1, backup.calls.Load())

	rec := srv.Analytics().Recent(1)[0]
	assert.Equal(t, "backup", rec.Provider)
	assert.Equal(t, models.OutcomeMiss, rec.Outcome)
}

func TestExhaustedChainIsBadGateway(t *testing.T) {
	broken := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := newTestServer(t, testConfig(anthropicProvider("primary", broken.URL)), defaultEnv(), nil)

	w := post(srv, "/v1/messages", opusBody("hi"))
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, KindUpstreamError, gjson.Get(w.Body.String(), "error.kind").String())

	rec := srv.Analytics().Recent(1)[0]
	assert.Equal(t, models.OutcomeFailed, rec.Outcome)
	assert.Zero(t, rec.Cost)
	assert.Zero(t, srv.store.Stats().Entries)
}

func TestClientErrorPassesThrough(t *testing.T) {
	const upstreamBody = `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens: required"}}`
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, upstreamBody)
	})
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), defaultEnv(), nil)

	w := post(srv, "/v1/messages", opusBody("hi"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, upstreamBody, w.Body.String())
	assert.Equal(t, models.OutcomeFailed, srv.Analytics().Recent(1)[0].Outcome)
}

func TestUpstreamTimeout(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	p := anthropicProvider("primary", up.URL)
	p.Timeout = 50 * time.Millisecond
	srv := newTestServer(t, testConfig(p), defaultEnv(), nil)

	w := post(srv, "/v1/messages", opusBody("hi"))
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, KindUpstreamTimeout, gjson.Get(w.Body.String(), "error.kind").String())
}

func TestOversizedResponseServedUncached(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	cfg := testConfig(anthropicProvider("primary", up.URL))
	cfg.Cache.MaxBytes = 16
	srv := newTestServer(t, cfg, defaultEnv(), nil)

	for i := 0; i < 2; i++ {
		w := post(srv, "/v1/messages", opusBody("hi"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "miss", w.Header().Get(headerCache))
	}
	assert.EqualValues(t, 2, up.calls.Load())
	assert.Zero(t, srv.store.Stats().Entries)
}

func TestCacheDisabled(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	cfg := testConfig(anthropicProvider("primary", up.URL))
	cfg.Cache.Enabled = false
	srv := newTestServer(t, cfg, defaultEnv(), nil)

	post(srv, "/v1/messages", opusBody("hi"))
	post(srv, "/v1/messages", opusBody("hi"))
	assert.EqualValues(t, 2, up.calls.Load())

	w := get(srv, "/api/cache/stats")
	assert.Equal(t, "disabled", gjson.Get(w.Body.String(), "tier").String())
}

type rejectingBudget struct{}

func (rejectingBudget) Check(_ context.Context, project, _ string) error {
	return fmt.Errorf("%w: project %s spent $10.00 of $10.00 daily", budget.ErrBudgetExceeded, project)
}

func TestBudgetExceeded(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), defaultEnv(), func(d *Deps) {
		d.Budget = rejectingBudget{}
	})

	w := post(srv, "/v1/messages", opusBody("hi"), headerProject, "alpha")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, KindBudgetExceeded, gjson.Get(w.Body.String(), "error.kind").String())
	assert.Zero(t, up.calls.Load())
	assert.Equal(t, "alpha", srv.Analytics().Recent(1)[0].Project)
}

func TestLocalProviderSavings(t *testing.T) {
	local := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","model":"qwen2.5-coder",
			"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":1000000,"completion_tokens":500000,"total_tokens":1500000}}`)
	})
	paid := newUpstream(t, anthropicReply(10, 5))

	cfg := testConfig(
		anthropicProvider("primary", paid.URL),
		config.ProviderConfig{Name: "ollama", Type: config.TypeOllama, URL: local.URL, DefaultModel: "qwen2.5-coder", Models: []string{"qwen2.5-coder"}},
	)
	cfg.Routing.AgentRules = map[string]string{"reviewer": "ollama"}
	cfg.Routing.WouldHaveUsed = config.Counterfactual{Provider: "primary", Model: "claude-opus-4-1"}
	srv := newTestServer(t, cfg, defaultEnv(), nil)

	w := post(srv, "/v1/messages", opusBody("review this"), headerAgent, "reviewer")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "message", gjson.Get(w.Body.String(), "type").String())
	assert.EqualValues(t, 1, local.calls.Load())
	assert.Zero(t, paid.calls.Load())

	rec := srv.Analytics().Recent(1)[0]
	assert.Equal(t, "ollama", rec.Provider)
	assert.Equal(t, "reviewer", rec.Agent)
	assert.Zero(t, rec.Cost)
	assert.Equal(t, models.NanosFromUSD(52.50), rec.Savings)
}

func TestCacheClearTwice(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), defaultEnv(), nil)

	post(srv, "/v1/messages", opusBody("one"))
	post(srv, "/v1/messages", opusBody("two"))
	held := srv.store.Stats().Bytes
	require.Positive(t, held)

	w := post(srv, "/api/cache/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, gjson.Get(w.Body.String(), "entries_removed").Int())
	assert.Equal(t, held, gjson.Get(w.Body.String(), "bytes_freed").Int())

	w = post(srv, "/api/cache/clear", "")
	assert.JSONEq(t, `{"entries_removed":0,"bytes_freed":0}`, w.Body.String())

	w = post(srv, "/v1/messages", opusBody("one"))
	assert.Equal(t, "miss", w.Header().Get(headerCache))
}

func TestCacheStatsEndpoint(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), defaultEnv(), nil)

	post(srv, "/v1/messages", opusBody("one"))
	post(srv, "/v1/messages", opusBody("one"))

	w := get(srv, "/api/cache/stats")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.EqualValues(t, 1, gjson.Get(body, "entries").Int())
	assert.EqualValues(t, 1, gjson.Get(body, "hits").Int())
	assert.EqualValues(t, 1, gjson.Get(body, "misses").Int())
	assert.InDelta(t, 0.5, gjson.Get(body, "hit_rate").Float(), 1e-9)
}

func TestMetricsReset(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), defaultEnv(), nil)

	post(srv, "/v1/messages", opusBody("one"))
	require.EqualValues(t, 1, srv.Analytics().Summary().TotalRequests)

	w := post(srv, "/gateway/metrics/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, srv.Analytics().Summary().TotalRequests)
	assert.Empty(t, srv.Analytics().Recent(0))

	// The cache survives a metrics reset.
	w = post(srv, "/v1/messages", opusBody("one"))
	assert.Equal(t, "hit", w.Header().Get(headerCache))
}

func TestHealthAndProviders(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	cfg := testConfig(anthropicProvider("primary", up.URL))
	cfg.Routing.FallbackChain = []string{"primary"}
	srv := newTestServer(t, cfg, defaultEnv(), nil)

	w := get(srv, "/gateway/health")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, "healthy", gjson.Get(body, "status").String())
	assert.True(t, gjson.Get(body, "providers.primary").Bool())
	assert.Equal(t, "primary", gjson.Get(body, "routing.default_provider").String())
	assert.True(t, gjson.Get(body, "cache").Exists())

	w = get(srv, "/gateway/providers")
	require.Equal(t, http.StatusOK, w.Code)
	list := gjson.Get(w.Body.String(), "providers").Array()
	require.Len(t, list, 1)
	assert.Equal(t, "anthropic", list[0].Get("type").String())
	assert.True(t, list[0].Get("healthy").Bool())
	assert.False(t, list[0].Get("local").Bool())
}

func TestAuditEndpointDisabled(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), defaultEnv(), nil)

	w := get(srv, "/gateway/audit")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type memoryAudit struct {
	entries chan models.AuditEntry
}

func (m *memoryAudit) Log(_ context.Context, e models.AuditEntry) error {
	m.entries <- e
	return nil
}

func (m *memoryAudit) Query(_ context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	for {
		select {
		case e := <-m.entries:
			if opts.Model == "" || e.Model == opts.Model {
				out = append(out, e)
			}
		default:
			return out, nil
		}
	}
}

type memoryTracker struct {
	records chan models.RequestRecord
}

func (m *memoryTracker) Record(_ context.Context, rec models.RequestRecord) error {
	m.records <- rec
	return nil
}

func TestSideEffectsRunOncePerRequest(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	aud := &memoryAudit{entries: make(chan models.AuditEntry, 10)}
	tr := &memoryTracker{records: make(chan models.RequestRecord, 10)}
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), defaultEnv(), func(d *Deps) {
		d.Audit = aud
		d.AuditLog = aud
		d.Tracker = tr
	})

	post(srv, "/v1/messages", opusBody("one"))
	post(srv, "/v1/messages", opusBody("one"))
	post(srv, "/v1/messages", `{"model":"mystery"}`)
	srv.Wait()

	assert.Len(t, tr.records, 3)
	require.Len(t, aud.entries, 3)

	w := get(srv, "/gateway/audit?model=claude-opus-4-1&since=1h")
	require.Equal(t, http.StatusOK, w.Code)
	entries := gjson.Get(w.Body.String(), "entries").Array()
	require.Len(t, entries, 2)
	prefixed := 0
	for _, e := range entries {
		assert.NotContains(t, e.Raw, testKey)
		if e.Get("credential_prefix").String() == testKey[:8] {
			prefixed++
		}
	}
	// Only the miss resolved a credential; the hit never went upstream.
	assert.Equal(t, 1, prefixed)
}

func TestAuditEndpointBadSince(t *testing.T) {
	aud := &memoryAudit{entries: make(chan models.AuditEntry, 1)}
	up := newUpstream(t, anthropicReply(10, 5))
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), defaultEnv(), func(d *Deps) {
		d.AuditLog = aud
	})
	w := get(srv, "/gateway/audit?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	up := newUpstream(t, anthropicReply(10, 5))
	cfg := testConfig(anthropicProvider("primary", up.URL))
	srv := newTestServer(t, cfg, defaultEnv(), func(d *Deps) {
		d.Metrics = metrics.NewCollector(nil, d.Store.Stats)
	})

	post(srv, "/v1/messages", opusBody("one"))
	post(srv, "/v1/messages", opusBody("one"))

	w := get(srv, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `gatecache_requests_total{outcome="hit",provider="primary",tier="opus"} 1`)
	assert.Contains(t, body, `gatecache_requests_total{outcome="miss",provider="primary",tier="opus"} 1`)
	assert.Contains(t, body, "gatecache_cache_entries 1")
}

func TestOpenAIEndpointTranslatesToAnthropic(t *testing.T) {
	var gotPath atomic.Value
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		anthropicReply(20, 10)(w, r)
	})
	srv := newTestServer(t, testConfig(anthropicProvider("primary", up.URL)), defaultEnv(), nil)

	body := `{"model":"claude-opus-4-1","messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}]}`
	w := post(srv, "/v1/chat/completions", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "/v1/messages", gotPath.Load())
	assert.Equal(t, "chat.completion", gjson.Get(w.Body.String(), "object").String())

	// The same body on the other endpoint is a different cache entry.
	w = post(srv, "/v1/messages", body)
	assert.Equal(t, "miss", w.Header().Get(headerCache))
}
