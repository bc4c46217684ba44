package pricing

import (
	"testing"

	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	table := NewTable(nil)

	tests := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-5", "claude-sonnet-4-5"},
		{"Claude-Sonnet-4-5 ", "claude-sonnet-4-5"},
		{"claude-sonnet-4-5-20250929", "claude-sonnet-4-5"},
		{"claude-opus-4-1-20250805", "claude-opus-4-1"},
		{"claude-opus-9", "claude-opus"},
		{"gpt-4o-mini-2024-07-18", "gpt-4o-mini"},
		{"gpt-4o-2024-11-20", "gpt-4o"},
		{"gpt-4-turbo", "gpt-4"},
		{"opus", "claude-opus-4-1"},
		{"my-sonnet-finetune", "claude-sonnet-4-5"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			e, err := table.Lookup(tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Model)
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	table := NewTable(nil)
	for _, m := range []string{"", "mystery-model", "llama3"} {
		_, err := table.Lookup(m)
		assert.ErrorIs(t, err, ErrUnknownModel, m)
	}
}

func TestOverrides(t *testing.T) {
	table := NewTable([]Entry{
		{Model: "Claude-Sonnet-4-5", Provider: "anthropic", Input: 1, Output: 2},
		{Model: "llama3", Provider: "ollama"},
	})

	e, err := table.Lookup("claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, 1.0, e.Input)

	_, err = table.Lookup("llama3:8b")
	assert.NoError(t, err)
}

func TestCostOpusScenario(t *testing.T) {
	table := NewTable(nil)
	e, err := table.Lookup("opus")
	require.NoError(t, err)

	u := models.Usage{InputTokens: 1_000_000, OutputTokens: 500_000}
	assert.InDelta(t, 52.50, Cost(u, e), 1e-9)
	assert.Equal(t, models.Nanos(52_500_000_000), CostNanos(u, e))
}

func TestCostAllClasses(t *testing.T) {
	e := Entry{Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.30}
	u := models.Usage{
		InputTokens:      2_000_000,
		OutputTokens:     100_000,
		CacheWriteTokens: 400_000,
		CacheReadTokens:  1_000_000,
	}
	// 6 + 1.5 + 1.5 + 0.3
	assert.InDelta(t, 9.3, Cost(u, e), 1e-9)
	assert.Zero(t, Cost(u, Free("llama3", "ollama")))
}

func TestPromptCacheSavings(t *testing.T) {
	e := Entry{Input: 3, CacheRead: 0.30}
	got := PromptCacheSavings(models.Usage{CacheReadTokens: 1_000_000}, e)
	assert.Equal(t, models.NanosFromUSD(2.7), got)
	assert.Zero(t, PromptCacheSavings(models.Usage{InputTokens: 10}, e))
}

func TestEntriesSorted(t *testing.T) {
	entries := NewTable(nil).Entries()
	require.NotEmpty(t, entries)
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].Model, entries[i].Model)
	}
}
