// Package proxy implements the gateway HTTP surface: the inference
// endpoints with caching, routing and fallback, plus the analytics, cache
// and live-stream endpoints.
package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pario-ai/gatecache/pkg/analytics"
	"github.com/pario-ai/gatecache/pkg/audit"
	"github.com/pario-ai/gatecache/pkg/auth"
	"github.com/pario-ai/gatecache/pkg/cache"
	"github.com/pario-ai/gatecache/pkg/config"
	"github.com/pario-ai/gatecache/pkg/metrics"
	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/pario-ai/gatecache/pkg/provider"
	"github.com/pario-ai/gatecache/pkg/router"
	"github.com/rs/zerolog/log"
)

// RecordWriter persists request records. tracker.Tracker satisfies it.
type RecordWriter interface {
	Record(ctx context.Context, rec models.RequestRecord) error
}

// BudgetChecker rejects requests over a spend limit with an error
// wrapping budget.ErrBudgetExceeded.
type BudgetChecker interface {
	Check(ctx context.Context, project, model string) error
}

// AuditQuerier searches the audit log.
type AuditQuerier interface {
	Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error)
}

// Deps are the collaborators of a Server. Config, Router, Providers and
// Resolver are required; the rest are optional.
type Deps struct {
	Config    *config.Config
	Router    *router.Router
	Providers *provider.Registry
	Resolver  *auth.Resolver

	// Store is nil when caching is disabled.
	Store     *cache.Store
	Analytics *analytics.Engine
	Metrics   *metrics.Collector
	Tracker   RecordWriter
	Budget    BudgetChecker
	Audit     audit.Sink
	AuditLog  AuditQuerier
	Events    *Broadcaster
}

// Server is the gatecache gateway.
type Server struct {
	cfg       *config.Config
	router    *router.Router
	providers *provider.Registry
	resolver  *auth.Resolver
	store     *cache.Store
	analytics *analytics.Engine
	metrics   *metrics.Collector
	tracker   RecordWriter
	budget    BudgetChecker
	audit     audit.Sink
	auditLog  AuditQuerier
	events    *Broadcaster

	mux     *http.ServeMux
	pending sync.WaitGroup
	now     func() time.Time
}

// New creates a Server wired with all dependencies.
func New(d Deps) (*Server, error) {
	if d.Config == nil || d.Router == nil || d.Providers == nil || d.Resolver == nil {
		return nil, errors.New("proxy: config, router, providers and resolver are required")
	}
	s := &Server{
		cfg:       d.Config,
		router:    d.Router,
		providers: d.Providers,
		resolver:  d.Resolver,
		store:     d.Store,
		analytics: d.Analytics,
		metrics:   d.Metrics,
		tracker:   d.Tracker,
		budget:    d.Budget,
		audit:     d.Audit,
		auditLog:  d.AuditLog,
		events:    d.Events,
		mux:       http.NewServeMux(),
		now:       time.Now,
	}
	if s.analytics == nil {
		s.analytics = analytics.New(d.Config.Analytics.RecentCapacity)
	}
	if s.events == nil {
		s.events = NewBroadcaster(defaultSubscriberBuffer)
	}

	s.mux.HandleFunc("POST /v1/messages", s.inference(provider.FormatAnthropic))
	s.mux.HandleFunc("POST /v1/chat/completions", s.inference(provider.FormatOpenAI))

	s.mux.HandleFunc("GET /gateway/health", s.handleHealth)
	s.mux.HandleFunc("GET /gateway/metrics", s.handleMetrics)
	s.mux.HandleFunc("POST /gateway/metrics/reset", s.handleMetricsReset)
	s.mux.HandleFunc("GET /gateway/providers", s.handleProviders)
	s.mux.HandleFunc("GET /gateway/audit", s.handleAudit)

	s.mux.HandleFunc("POST /api/cache/clear", s.handleCacheClear)
	s.mux.HandleFunc("GET /api/cache/stats", s.handleCacheStats)
	s.mux.HandleFunc("GET /api/streams/subscribe", s.events.ServeSSE)
	s.mux.HandleFunc("GET /api/streams/ws", s.events.ServeWS)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return s, nil
}

// Analytics returns the engine the server records into.
func (s *Server) Analytics() *analytics.Engine { return s.analytics }

// Events returns the live event broadcaster.
func (s *Server) Events() *Broadcaster { return s.events }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Wait blocks until queued history and audit writes have finished.
func (s *Server) Wait() { s.pending.Wait() }

// ListenAndServe starts the gateway with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. Live-stream subscribers are closed as shutdown begins, and
// pending side effects are awaited once every handler has returned.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.events.Close)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("gatecache listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			// Handlers may still be running and scheduling work.
			return err
		}
		s.Wait()
		return nil
	case err := <-errCh:
		return err
	}
}

// apiError is the JSON error body of every gateway-generated failure.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeJSONError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, apiError{Error: apiErrorBody{
		Message: message,
		Type:    "gatecache_error",
		Code:    code,
		Kind:    kind,
	}})
}
