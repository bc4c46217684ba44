package models

import (
	"math"
	"strconv"
	"time"
)

// Usage holds the four token classes an upstream can bill for.
type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheWriteTokens int64 `json:"cache_write_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens"`
}

// Total returns the sum of all token classes.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheWriteTokens + u.CacheReadTokens
}

// Add returns the class-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
	}
}

// IsZero reports whether no tokens were counted.
func (u Usage) IsZero() bool { return u == Usage{} }

// Nanos is an amount of US dollars in billionths. Money is summed in
// Nanos so that breakdowns add up to totals exactly.
type Nanos int64

// NanosFromUSD rounds a dollar amount to the nearest nano-dollar.
func NanosFromUSD(usd float64) Nanos {
	return Nanos(math.Round(usd * 1e9))
}

// USD returns the amount in dollars.
func (n Nanos) USD() float64 { return float64(n) / 1e9 }

// MarshalJSON encodes the amount as a dollar number.
func (n Nanos) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, n.USD(), 'f', -1, 64), nil
}

// UnmarshalJSON decodes a dollar number.
func (n *Nanos) UnmarshalJSON(b []byte) error {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*n = NanosFromUSD(f)
	return nil
}

// Outcome classifies how a request was served.
type Outcome string

const (
	OutcomeHit    Outcome = "hit"
	OutcomeMiss   Outcome = "miss"
	OutcomeFailed Outcome = "failed"
)

// RequestRecord is the immutable telemetry record written exactly once per
// inference call, whatever the outcome.
type RequestRecord struct {
	ID            string    `json:"id"`
	Time          time.Time `json:"time"`
	Tier          string    `json:"tier"`
	Provider      string    `json:"provider,omitempty"`
	Model         string    `json:"model"`
	UpstreamModel string    `json:"upstream_model,omitempty"`
	Agent         string    `json:"agent,omitempty"`
	Project       string    `json:"project,omitempty"`
	Route         string    `json:"route,omitempty"`

	Usage Usage `json:"usage"`

	Cost               Nanos `json:"cost"`
	WouldBeCost        Nanos `json:"would_be_cost"`
	Savings            Nanos `json:"savings"`
	PromptCacheSavings Nanos `json:"prompt_cache_savings"`

	Outcome    Outcome `json:"outcome"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	Stream     bool    `json:"stream"`
	StatusCode int     `json:"status_code"`
	LatencyMs  int64   `json:"latency_ms"`
}

// UsageSummary aggregates persisted records for one grouping key.
type UsageSummary struct {
	Key          string `json:"key"`
	RequestCount int    `json:"request_count"`
	Hits         int    `json:"hits"`
	Failures     int    `json:"failures"`
	Usage        Usage  `json:"usage"`
	Cost         Nanos  `json:"cost"`
	Savings      Nanos  `json:"savings"`
}
