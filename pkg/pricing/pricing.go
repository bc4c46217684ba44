// Package pricing holds the static per-model price table and the cost
// formula shared by routing, analytics and the CLI.
package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pario-ai/gatecache/pkg/models"
)

// ErrUnknownModel is returned when a model has no price entry.
var ErrUnknownModel = errors.New("unknown model")

// Entry is the price of one model in USD per million tokens.
type Entry struct {
	Model      string  `json:"model" yaml:"model"`
	Provider   string  `json:"provider" yaml:"provider"`
	Input      float64 `json:"input" yaml:"input"`
	Output     float64 `json:"output" yaml:"output"`
	CacheWrite float64 `json:"cache_write" yaml:"cache_write"`
	CacheRead  float64 `json:"cache_read" yaml:"cache_read"`
}

// Free returns a zero-priced entry for the model, used for local providers.
func Free(model, provider string) Entry {
	return Entry{Model: model, Provider: provider}
}

// defaultEntries is the built-in table. Names double as family prefixes so
// dated releases such as claude-sonnet-4-5-20250929 resolve too.
var defaultEntries = []Entry{
	{Model: "claude-opus-4-1", Provider: "anthropic", Input: 15, Output: 75, CacheWrite: 18.75, CacheRead: 1.50},
	{Model: "claude-opus-4-0", Provider: "anthropic", Input: 15, Output: 75, CacheWrite: 18.75, CacheRead: 1.50},
	{Model: "claude-opus", Provider: "anthropic", Input: 15, Output: 75, CacheWrite: 18.75, CacheRead: 1.50},
	{Model: "claude-sonnet-4-5", Provider: "anthropic", Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.30},
	{Model: "claude-sonnet-4-0", Provider: "anthropic", Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.30},
	{Model: "claude-3-5-sonnet", Provider: "anthropic", Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.30},
	{Model: "claude-sonnet", Provider: "anthropic", Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.30},
	{Model: "claude-haiku-4-5", Provider: "anthropic", Input: 0.80, Output: 4, CacheWrite: 1.00, CacheRead: 0.08},
	{Model: "claude-3-5-haiku", Provider: "anthropic", Input: 0.80, Output: 4, CacheWrite: 1.00, CacheRead: 0.08},
	{Model: "claude-3-haiku", Provider: "anthropic", Input: 0.25, Output: 1.25, CacheWrite: 0.30, CacheRead: 0.03},
	{Model: "claude-haiku", Provider: "anthropic", Input: 0.80, Output: 4, CacheWrite: 1.00, CacheRead: 0.08},
	{Model: "gpt-5.1-codex-mini", Provider: "openai", Input: 2, Output: 6},
	{Model: "gpt-4o-mini", Provider: "openai", Input: 0.15, Output: 0.60, CacheRead: 0.075},
	{Model: "gpt-4o", Provider: "openai", Input: 2.5, Output: 10, CacheRead: 1.25},
	{Model: "gpt-4", Provider: "openai", Input: 30, Output: 60},
	{Model: "gpt-3.5-turbo", Provider: "openai", Input: 0.5, Output: 1.5},
	{Model: "deepseek-chat", Provider: "deepseek", Input: 0.27, Output: 1.10, CacheRead: 0.07},
	{Model: "deepseek-coder", Provider: "deepseek", Input: 0.14, Output: 0.28, CacheRead: 0.014},
}

// tierModels resolves bare tier names such as "opus" to a representative
// entry.
var tierModels = []struct{ keyword, model string }{
	{"opus", "claude-opus-4-1"},
	{"sonnet", "claude-sonnet-4-5"},
	{"haiku", "claude-haiku-4-5"},
}

// Table is an immutable model price table.
type Table struct {
	exact    map[string]Entry
	prefixes []string // longest first
}

// NewTable returns the built-in table with overrides applied on top.
func NewTable(overrides []Entry) *Table {
	t := &Table{exact: make(map[string]Entry, len(defaultEntries)+len(overrides))}
	for _, e := range defaultEntries {
		t.exact[e.Model] = e
	}
	for _, e := range overrides {
		e.Model = normalize(e.Model)
		if e.Model == "" {
			continue
		}
		t.exact[e.Model] = e
	}
	for name := range t.exact {
		t.prefixes = append(t.prefixes, name)
	}
	sort.Slice(t.prefixes, func(i, j int) bool {
		if len(t.prefixes[i]) != len(t.prefixes[j]) {
			return len(t.prefixes[i]) > len(t.prefixes[j])
		}
		return t.prefixes[i] < t.prefixes[j]
	})
	return t
}

func normalize(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}

// Lookup returns the entry for a model. It tries an exact match, then the
// longest family prefix, then a tier keyword contained in the name.
func (t *Table) Lookup(model string) (Entry, error) {
	name := normalize(model)
	if name == "" {
		return Entry{}, fmt.Errorf("%w: empty model name", ErrUnknownModel)
	}
	if e, ok := t.exact[name]; ok {
		return e, nil
	}
	for _, p := range t.prefixes {
		if strings.HasPrefix(name, p) {
			return t.exact[p], nil
		}
	}
	for _, tm := range tierModels {
		if strings.Contains(name, tm.keyword) {
			if e, ok := t.exact[tm.model]; ok {
				return e, nil
			}
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrUnknownModel, model)
}

// Entries returns every entry sorted by model name.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.exact))
	for _, e := range t.exact {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Cost applies the four-class formula:
//
//	in/1e6*input + out/1e6*output + cw/1e6*cache_write + cr/1e6*cache_read
func Cost(u models.Usage, e Entry) float64 {
	return float64(u.InputTokens)/1_000_000*e.Input +
		float64(u.OutputTokens)/1_000_000*e.Output +
		float64(u.CacheWriteTokens)/1_000_000*e.CacheWrite +
		float64(u.CacheReadTokens)/1_000_000*e.CacheRead
}

// CostNanos is Cost rounded to nano-dollars.
func CostNanos(u models.Usage, e Entry) models.Nanos {
	return models.NanosFromUSD(Cost(u, e))
}

// PromptCacheSavings is what upstream prompt caching saved relative to
// paying full input price for the cache-read tokens. It is reported
// separately from gateway cache savings.
func PromptCacheSavings(u models.Usage, e Entry) models.Nanos {
	if u.CacheReadTokens == 0 || e.Input <= e.CacheRead {
		return 0
	}
	return models.NanosFromUSD(float64(u.CacheReadTokens) / 1_000_000 * (e.Input - e.CacheRead))
}
