package tracker

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/gatecache/pkg/models"
)

func newTestTracker(t *testing.T) *SQLiteTracker {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	tr, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func record(id, project, model string, outcome models.Outcome, cost models.Nanos, at time.Time) models.RequestRecord {
	return models.RequestRecord{
		ID:       id,
		Time:     at,
		Tier:     "sonnet",
		Provider: "anthropic",
		Model:    model,
		Agent:    "reviewer",
		Project:  project,
		Usage:    models.Usage{InputTokens: 100, OutputTokens: 50},
		Cost:     cost,
		Outcome:  outcome,
	}
}

func TestRecordAndRecent(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := record("r1", "alpha", "claude-sonnet-4-5", models.OutcomeMiss, models.NanosFromUSD(0.25), now)
	rec.Stream = true
	rec.Savings = 7
	if err := tr.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}

	records, err := tr.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.Cost != rec.Cost || got.Savings != 7 {
		t.Errorf("expected cost %d savings 7, got %d %d", rec.Cost, got.Cost, got.Savings)
	}
	if !got.Stream || got.Outcome != models.OutcomeMiss {
		t.Errorf("unexpected record %+v", got)
	}
	if got.Usage.Total() != 150 {
		t.Errorf("expected 150 tokens, got %d", got.Usage.Total())
	}
	if !got.Time.Equal(now) {
		t.Errorf("expected time %v, got %v", now, got.Time)
	}
}

func TestSpendSince(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := range 3 {
		_ = tr.Record(ctx, record(fmt.Sprintf("a%d", i), "alpha", "claude-opus-4-1", models.OutcomeMiss, 100, now.Add(time.Duration(i)*time.Second)))
	}
	_ = tr.Record(ctx, record("b1", "beta", "gpt-4o", models.OutcomeMiss, 1000, now))
	_ = tr.Record(ctx, record("old", "alpha", "claude-opus-4-1", models.OutcomeMiss, 5000, now.Add(-48*time.Hour)))

	tests := []struct {
		project, model string
		want           models.Nanos
	}{
		{"alpha", "", 300},
		{"alpha", "claude-opus-4-1", 300},
		{"beta", "", 1000},
		{"*", "", 1300},
		{"*", "gpt-4o", 1000},
		{"", "", 0},
	}
	for _, tt := range tests {
		got, err := tr.SpendSince(ctx, tt.project, tt.model, now.Add(-time.Minute))
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("SpendSince(%q, %q) = %d, expected %d", tt.project, tt.model, got, tt.want)
		}
	}
}

func TestSummary(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = tr.Record(ctx, record("1", "alpha", "gpt-4o", models.OutcomeMiss, 10, now))
	_ = tr.Record(ctx, record("2", "alpha", "gpt-4o", models.OutcomeHit, 0, now))
	_ = tr.Record(ctx, record("3", "alpha", "claude-opus-4-1", models.OutcomeFailed, 0, now))
	_ = tr.Record(ctx, record("4", "beta", "claude-opus-4-1", models.OutcomeMiss, 40, now))

	summaries, err := tr.Summary(ctx, GroupByModel, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].Key != "claude-opus-4-1" || summaries[0].Cost != 40 || summaries[0].Failures != 1 {
		t.Errorf("unexpected first summary %+v", summaries[0])
	}
	if summaries[1].Hits != 1 || summaries[1].RequestCount != 2 {
		t.Errorf("unexpected second summary %+v", summaries[1])
	}

	byProject, err := tr.Summary(ctx, GroupByProject, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(byProject) != 2 {
		t.Errorf("expected 2 projects, got %d", len(byProject))
	}

	if _, err := tr.Summary(ctx, "api_key; DROP TABLE request_records", time.Time{}); err == nil {
		t.Error("expected error for unknown grouping")
	}
}

func TestCostReport(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = tr.Record(ctx, record("1", "alpha", "gpt-4o", models.OutcomeMiss, 10, now))
	_ = tr.Record(ctx, record("2", "alpha", "gpt-4o", models.OutcomeMiss, 15, now))
	_ = tr.Record(ctx, record("3", "beta", "gpt-4o", models.OutcomeHit, 0, now))

	reports, err := tr.CostReport(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(reports))
	}
	if reports[0].Project != "alpha" || reports[0].Cost != 25 || reports[0].TotalTokens != 300 {
		t.Errorf("unexpected alpha row %+v", reports[0])
	}
	if reports[1].Hits != 1 {
		t.Errorf("expected 1 hit for beta, got %d", reports[1].Hits)
	}
}
