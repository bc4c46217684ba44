// Package analytics folds request records into running totals and
// keeps a bounded ring of the most recent records.
package analytics

import (
	"sync"
	"time"

	"github.com/pario-ai/gatecache/pkg/models"
)

const (
	DefaultRecentCapacity = 100
	MaxRecentCapacity     = 1000
)

// Aggregate holds running totals for one breakdown key.
type Aggregate struct {
	Requests           int64        `json:"requests"`
	Hits               int64        `json:"hits"`
	Misses             int64        `json:"misses"`
	Failures           int64        `json:"failures"`
	Usage              models.Usage `json:"tokens"`
	Cost               models.Nanos `json:"cost"`
	WouldBeCost        models.Nanos `json:"would_be_cost"`
	Savings            models.Nanos `json:"savings"`
	PromptCacheSavings models.Nanos `json:"prompt_cache_savings"`

	// Derived on read.
	HitRate   float64 `json:"hit_rate"`
	CostShare float64 `json:"cost_share"`
}

func (a *Aggregate) fold(r models.RequestRecord) {
	a.Requests++
	switch r.Outcome {
	case models.OutcomeHit:
		a.Hits++
	case models.OutcomeMiss:
		a.Misses++
	default:
		a.Failures++
		return
	}
	a.Usage = a.Usage.Add(r.Usage)
	a.Cost += r.Cost
	a.WouldBeCost += r.WouldBeCost
	a.Savings += r.Savings
	a.PromptCacheSavings += r.PromptCacheSavings
}

func (a Aggregate) derive(totalCost models.Nanos) Aggregate {
	a.HitRate = hitRate(a.Hits, a.Misses)
	if totalCost > 0 {
		a.CostShare = float64(a.Cost) / float64(totalCost)
	}
	return a
}

// hitRate excludes failures from the denominator.
func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Summary is a point-in-time snapshot of the engine.
type Summary struct {
	Since         time.Time `json:"since"`
	TotalRequests int64     `json:"total_requests"`
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	Failures      int64     `json:"failures"`
	HitRate       float64   `json:"hit_rate"`

	TotalCost          models.Nanos `json:"total_cost"`
	TotalWouldBeCost   models.Nanos `json:"total_would_be_cost"`
	TotalSavings       models.Nanos `json:"total_savings"`
	PromptCacheSavings models.Nanos `json:"prompt_cache_savings"`

	TotalCostNanos    int64 `json:"total_cost_nanos"`
	TotalSavingsNanos int64 `json:"total_savings_nanos"`

	Tokens models.Usage `json:"tokens"`

	ByTier     map[string]Aggregate `json:"by_tier"`
	ByModel    map[string]Aggregate `json:"by_model"`
	ByProvider map[string]Aggregate `json:"by_provider"`
}

// Engine is safe for concurrent use. Record is O(1).
type Engine struct {
	mu         sync.Mutex
	since      time.Time
	total      Aggregate
	byTier     map[string]*Aggregate
	byModel    map[string]*Aggregate
	byProvider map[string]*Aggregate

	ring  []models.RequestRecord
	next  int
	count int

	now func() time.Time
}

// New creates an engine keeping up to capacity recent records. A
// non-positive capacity selects the default; larger values are clamped.
func New(capacity int) *Engine {
	switch {
	case capacity <= 0:
		capacity = DefaultRecentCapacity
	case capacity > MaxRecentCapacity:
		capacity = MaxRecentCapacity
	}
	e := &Engine{ring: make([]models.RequestRecord, capacity), now: time.Now}
	e.resetLocked()
	return e
}

// Capacity returns the size of the recent ring.
func (e *Engine) Capacity() int { return len(e.ring) }

// Record folds one request record.
func (e *Engine) Record(r models.RequestRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.total.fold(r)
	bucket(e.byTier, keyOr(r.Tier, "unknown")).fold(r)
	bucket(e.byModel, keyOr(r.Model, "unknown")).fold(r)
	bucket(e.byProvider, keyOr(r.Provider, "none")).fold(r)

	e.ring[e.next] = r
	e.next = (e.next + 1) % len(e.ring)
	if e.count < len(e.ring) {
		e.count++
	}
}

func bucket(m map[string]*Aggregate, key string) *Aggregate {
	a, ok := m[key]
	if !ok {
		a = &Aggregate{}
		m[key] = a
	}
	return a
}

func keyOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Summary returns totals and breakdowns.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.total
	return Summary{
		Since:              e.since,
		TotalRequests:      t.Requests,
		Hits:               t.Hits,
		Misses:             t.Misses,
		Failures:           t.Failures,
		HitRate:            hitRate(t.Hits, t.Misses),
		TotalCost:          t.Cost,
		TotalWouldBeCost:   t.WouldBeCost,
		TotalSavings:       t.Savings,
		PromptCacheSavings: t.PromptCacheSavings,
		TotalCostNanos:     int64(t.Cost),
		TotalSavingsNanos:  int64(t.Savings),
		Tokens:             t.Usage,
		ByTier:             snapshot(e.byTier, t.Cost),
		ByModel:            snapshot(e.byModel, t.Cost),
		ByProvider:         snapshot(e.byProvider, t.Cost),
	}
}

func snapshot(m map[string]*Aggregate, totalCost models.Nanos) map[string]Aggregate {
	out := make(map[string]Aggregate, len(m))
	for k, a := range m {
		out[k] = a.derive(totalCost)
	}
	return out
}

// Recent returns up to limit records, newest first. A non-positive
// limit returns everything held.
func (e *Engine) Recent(limit int) []models.RequestRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.RequestRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (e.next - i + len(e.ring)) % len(e.ring)
		out = append(out, e.ring[idx])
	}
	return out
}

// Reset zeroes every total and empties the ring.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.since = e.now()
	e.total = Aggregate{}
	e.byTier = make(map[string]*Aggregate)
	e.byModel = make(map[string]*Aggregate)
	e.byProvider = make(map[string]*Aggregate)
	clear(e.ring)
	e.next = 0
	e.count = 0
}
