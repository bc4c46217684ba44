package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/gatecache/pkg/config"
	"github.com/pario-ai/gatecache/pkg/models"
)

func tempCfg(t *testing.T) config.AuditConfig {
	t.Helper()
	return config.AuditConfig{
		Enabled:       true,
		DBPath:        filepath.Join(t.TempDir(), "audit_test.db"),
		RetentionDays: 90,
		MaxBodySize:   1024,
		Include:       []string{"prompts", "responses", "metadata"},
	}
}

func mustNew(t *testing.T, cfg config.AuditConfig) *Logger {
	t.Helper()
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleEntry() models.AuditEntry {
	hash, prefix := HashCredential("sk-test-abc123xyz")
	return models.AuditEntry{
		RequestID:        "req-001",
		CredentialHash:   hash,
		CredentialPrefix: prefix,
		CredentialOrigin: "api_key_env",
		Model:            "gpt-4",
		Provider:         "openai",
		Tier:             "gpt4",
		Project:          "alpha",
		Outcome:          models.OutcomeMiss,
		RequestBody:      `{"model":"gpt-4","messages":[]}`,
		ResponseBody:     `{"choices":[]}`,
		RequestHeaders:   map[string]string{"content-type": "application/json"},
		StatusCode:       200,
		Usage:            models.Usage{InputTokens: 10, OutputTokens: 20},
		Cost:             models.NanosFromUSD(0.0012),
		LatencyMs:        150,
		CreatedAt:        time.Now(),
	}
}

func TestLogAndQuery(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	entry := sampleEntry()
	if err := l.Log(ctx, entry); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{Model: "gpt-4"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.RequestID != "req-001" {
		t.Errorf("expected req-001, got %s", got.RequestID)
	}
	if got.Cost != entry.Cost {
		t.Errorf("expected cost %d, got %d", entry.Cost, got.Cost)
	}
	if got.Usage != entry.Usage {
		t.Errorf("expected usage %+v, got %+v", entry.Usage, got.Usage)
	}
	if got.Outcome != models.OutcomeMiss {
		t.Errorf("expected miss, got %s", got.Outcome)
	}
	if got.RequestHeaders["content-type"] != "application/json" {
		t.Errorf("expected headers kept, got %v", got.RequestHeaders)
	}
	if !got.CreatedAt.Equal(time.Unix(0, entry.CreatedAt.UnixNano())) {
		t.Errorf("expected created_at %v, got %v", entry.CreatedAt, got.CreatedAt)
	}
}

func TestQueryFilters(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	failed := sampleEntry()
	failed.RequestID = "req-002"
	failed.Provider = "anthropic"
	failed.Outcome = models.OutcomeFailed
	failed.Project = "beta"
	_ = l.Log(ctx, failed)

	tests := []struct {
		name string
		opts models.AuditQueryOpts
		want int
	}{
		{"request id", models.AuditQueryOpts{RequestID: "req-001"}, 1},
		{"provider", models.AuditQueryOpts{Provider: "anthropic"}, 1},
		{"project", models.AuditQueryOpts{Project: "alpha"}, 1},
		{"outcome", models.AuditQueryOpts{Outcome: models.OutcomeFailed}, 1},
		{"since future", models.AuditQueryOpts{Since: time.Now().Add(time.Hour)}, 0},
		{"limit", models.AuditQueryOpts{Limit: 1}, 1},
		{"all", models.AuditQueryOpts{}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := l.Query(ctx, tt.opts)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("expected %d entries, got %d", tt.want, len(entries))
			}
		})
	}
}

func TestExcludeModels(t *testing.T) {
	cfg := tempCfg(t)
	cfg.ExcludeModels = []string{"gpt-4"}
	l := mustNew(t, cfg)
	ctx := context.Background()

	if err := l.Log(ctx, sampleEntry()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected 0 entries for excluded model, got %d", len(entries))
	}
}

func TestBodyTruncation(t *testing.T) {
	cfg := tempCfg(t)
	cfg.MaxBodySize = 16
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.RequestBody = strings.Repeat("x", 100)
	if err := l.Log(ctx, entry); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries[0].RequestBody) != 16 {
		t.Errorf("expected truncated body len 16, got %d", len(entries[0].RequestBody))
	}
}

func TestIncludeFiltering(t *testing.T) {
	cfg := tempCfg(t)
	cfg.Include = []string{"metadata"} // no prompts or responses
	l := mustNew(t, cfg)
	ctx := context.Background()

	if err := l.Log(ctx, sampleEntry()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if entries[0].RequestBody != "" {
		t.Errorf("expected empty request body, got %q", entries[0].RequestBody)
	}
	if entries[0].ResponseBody != "" {
		t.Errorf("expected empty response body, got %q", entries[0].ResponseBody)
	}
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 0 // everything is old
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.CreatedAt = time.Now().AddDate(0, 0, -1)
	_ = l.Log(ctx, entry)

	deleted, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestStats(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	e2 := sampleEntry()
	e2.RequestID = "req-002"
	_ = l.Log(ctx, e2)

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) == 0 {
		t.Fatal("expected stats")
	}
	if stats[0].Count != 2 {
		t.Errorf("expected count 2, got %d", stats[0].Count)
	}
	if stats[0].Cost != 2*sampleEntry().Cost {
		t.Errorf("expected summed cost, got %d", stats[0].Cost)
	}
	if stats[0].Day != time.Now().UTC().Format("2006-01-02") {
		t.Errorf("expected today's day, got %q", stats[0].Day)
	}
}

func TestHashCredential(t *testing.T) {
	hash, prefix := HashCredential("sk-test-abc123xyz")
	if len(hash) != 64 {
		t.Errorf("expected 64-char hash, got %d", len(hash))
	}
	if prefix != "sk-test-" {
		t.Errorf("expected prefix sk-test-, got %s", prefix)
	}
	if h, p := HashCredential(""); h != "" || p != "" {
		t.Errorf("expected empty hash for empty credential, got %q %q", h, p)
	}
}

func TestNilLoggerSafe(t *testing.T) {
	var l *Logger
	if err := l.Log(context.Background(), sampleEntry()); err != nil {
		t.Errorf("nil logger should be safe: %v", err)
	}
}

func TestNewInvalidPath(t *testing.T) {
	cfg := config.AuditConfig{
		Enabled: true,
		DBPath:  filepath.Join(os.TempDir(), "nonexistent", "deep", "path", "audit.db"),
		Include: []string{"prompts"},
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for invalid path")
	}
}
