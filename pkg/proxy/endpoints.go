package proxy

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pario-ai/gatecache/pkg/analytics"
	"github.com/pario-ai/gatecache/pkg/models"
)

const healthCheckTimeout = 5 * time.Second

type healthResponse struct {
	Status    string            `json:"status"`
	Providers map[string]bool   `json:"providers"`
	Routing   routingInfo       `json:"routing"`
	Cache     models.CacheStats `json:"cache"`
	Streams   streamsInfo       `json:"streams"`
}

type routingInfo struct {
	DefaultProvider string   `json:"default_provider,omitempty"`
	FallbackChain   []string `json:"fallback_chain,omitempty"`
}

type streamsInfo struct {
	Subscribers int   `json:"subscribers"`
	Dropped     int64 `json:"dropped"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	up := s.providers.Health(ctx)
	status := "healthy"
	for _, ok := range up {
		if !ok {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    status,
		Providers: up,
		Routing: routingInfo{
			DefaultProvider: s.cfg.Routing.DefaultProvider,
			FallbackChain:   s.cfg.Routing.FallbackChain,
		},
		Cache: s.cacheStats(),
		Streams: streamsInfo{
			Subscribers: s.events.Subscribers(),
			Dropped:     s.events.Dropped(),
		},
	})
}

type metricsResponse struct {
	analytics.Summary
	Recent []models.RequestRecord `json:"recent"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, KindInvalidRequest, "limit must be an integer")
		return
	}
	recent := s.analytics.Recent(limit)
	if recent == nil {
		recent = []models.RequestRecord{}
	}
	writeJSON(w, http.StatusOK, metricsResponse{
		Summary: s.analytics.Summary(),
		Recent:  recent,
	})
}

func (s *Server) handleMetricsReset(w http.ResponseWriter, _ *http.Request) {
	s.analytics.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type providerInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	URL     string `json:"url"`
	Local   bool   `json:"local"`
	Streams bool   `json:"streams"`
	Healthy bool   `json:"healthy"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()
	up := s.providers.Health(ctx)

	out := make([]providerInfo, 0, len(s.cfg.Providers))
	for _, p := range s.cfg.Providers {
		out = append(out, providerInfo{
			Name:    p.Name,
			Type:    p.Type,
			URL:     p.URL,
			Local:   p.Local(),
			Streams: p.Streams(),
			Healthy: up[p.Name],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		writeJSONError(w, http.StatusServiceUnavailable, KindInternal, "audit log is disabled")
		return
	}
	q := r.URL.Query()
	opts := models.AuditQueryOpts{
		RequestID: q.Get("request_id"),
		Model:     q.Get("model"),
		Provider:  q.Get("provider"),
		Project:   q.Get("project"),
		Outcome:   models.Outcome(q.Get("outcome")),
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, KindInvalidRequest, "limit must be an integer")
		return
	}
	opts.Limit = limit
	if v := q.Get("since"); v != "" {
		since, err := parseSince(v, s.now())
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, KindInvalidRequest, "since must be RFC3339 or a duration")
			return
		}
		opts.Since = since
	}

	entries, err := s.auditLog.Query(r.Context(), opts)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, KindInternal, "audit query failed")
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	var res models.CacheClearResult
	if s.store != nil {
		res.EntriesRemoved, res.BytesFreed = s.store.Clear(r.Context())
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cacheStats())
}

func (s *Server) cacheStats() models.CacheStats {
	if s.store == nil {
		return models.CacheStats{Tier: "disabled"}
	}
	return s.store.Stats()
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// parseSince accepts an RFC3339 timestamp or a duration such as "24h"
// measured back from now.
func parseSince(v string, now time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-d), nil
}
