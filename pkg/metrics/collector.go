// Package metrics exposes gateway telemetry in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gatecache"

// StatsFunc reports the current cache state.
type StatsFunc func() models.CacheStats

// Collector records request outcomes and cache state on its own
// registry, so several gateways can live in one process (tests).
type Collector struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	costUSD       *prometheus.CounterVec
	savingsUSD    *prometheus.CounterVec
	promptSavings *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// NewCollector registers every metric on registry, or on a new registry
// when nil. stats, when set, backs the cache gauges.
func NewCollector(registry *prometheus.Registry, stats StatsFunc) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Inference requests by outcome, provider and tier.",
		}, []string{"outcome", "provider", "tier"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens billed upstream by class.",
		}, []string{"provider", "class"}),
		costUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Upstream spend in USD.",
		}, []string{"provider", "tier"}),
		savingsUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "savings_usd_total",
			Help:      "Spend avoided by cache hits and local routing, in USD.",
		}, []string{"provider", "tier"}),
		promptSavings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_cache_savings_usd_total",
			Help:      "Savings from upstream prompt caching, in USD.",
		}, []string{"provider"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency.",
			Buckets:   []float64{0.005, 0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome", "stream"}),
	}
	registry.MustRegister(c.requests, c.tokens, c.costUSD, c.savingsUSD, c.promptSavings, c.latency)

	if stats != nil {
		gauge := func(name, help string, v func(models.CacheStats) float64) prometheus.Collector {
			return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      name,
				Help:      help,
			}, func() float64 { return v(stats()) })
		}
		registry.MustRegister(
			gauge("entries", "Entries held in memory.", func(s models.CacheStats) float64 { return float64(s.Entries) }),
			gauge("bytes", "Payload bytes held in memory.", func(s models.CacheStats) float64 { return float64(s.Bytes) }),
			gauge("hits", "Lookups served from cache.", func(s models.CacheStats) float64 { return float64(s.Hits) }),
			gauge("misses", "Lookups not served from cache.", func(s models.CacheStats) float64 { return float64(s.Misses) }),
			gauge("evictions", "Entries evicted to honor bounds.", func(s models.CacheStats) float64 { return float64(s.Evictions) }),
			gauge("hit_rate", "hits/(hits+misses).", func(s models.CacheStats) float64 { return s.HitRate }),
		)
	}
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Record observes one request record.
func (c *Collector) Record(r models.RequestRecord) {
	provider := r.Provider
	if provider == "" {
		provider = "none"
	}
	tier := r.Tier
	if tier == "" {
		tier = "unknown"
	}

	c.requests.WithLabelValues(string(r.Outcome), provider, tier).Inc()
	stream := "false"
	if r.Stream {
		stream = "true"
	}
	c.latency.WithLabelValues(string(r.Outcome), stream).
		Observe((time.Duration(r.LatencyMs) * time.Millisecond).Seconds())

	if r.Outcome == models.OutcomeFailed {
		return
	}
	if r.Outcome == models.OutcomeMiss {
		for class, n := range map[string]int64{
			"input":       r.Usage.InputTokens,
			"output":      r.Usage.OutputTokens,
			"cache_write": r.Usage.CacheWriteTokens,
			"cache_read":  r.Usage.CacheReadTokens,
		} {
			if n > 0 {
				c.tokens.WithLabelValues(provider, class).Add(float64(n))
			}
		}
	}
	if r.Cost > 0 {
		c.costUSD.WithLabelValues(provider, tier).Add(r.Cost.USD())
	}
	if r.Savings > 0 {
		c.savingsUSD.WithLabelValues(provider, tier).Add(r.Savings.USD())
	}
	if r.PromptCacheSavings > 0 {
		c.promptSavings.WithLabelValues(provider).Add(r.PromptCacheSavings.USD())
	}
}

// Handler serves the registry in the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
