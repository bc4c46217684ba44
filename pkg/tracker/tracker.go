package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/gatecache/pkg/models"
)

// Tracker persists request records and answers spend queries.
type Tracker interface {
	// Record stores a request record.
	Record(ctx context.Context, rec models.RequestRecord) error
	// SpendSince returns upstream spend since a given time. Project "*"
	// and an empty model match everything.
	SpendSince(ctx context.Context, project, model string, since time.Time) (models.Nanos, error)
	// Summary returns aggregates grouped by one of GroupBy*.
	Summary(ctx context.Context, groupBy string, since time.Time) ([]models.UsageSummary, error)
	// CostReport returns cost rows grouped by project, agent and model.
	CostReport(ctx context.Context, since time.Time) ([]models.CostReport, error)
	// Recent returns the newest records first.
	Recent(ctx context.Context, limit int) ([]models.RequestRecord, error)
	// Close releases resources.
	Close() error
}

// Summary groupings.
const (
	GroupByModel    = "model"
	GroupByProvider = "provider"
	GroupByProject  = "project"
	GroupByTier     = "tier"
	GroupByAgent    = "agent"
)

var groupColumns = map[string]string{
	GroupByModel:    "model",
	GroupByProvider: "provider",
	GroupByProject:  "project",
	GroupByTier:     "tier",
	GroupByAgent:    "agent",
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS request_records (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	tier TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	upstream_model TEXT NOT NULL DEFAULT '',
	agent TEXT NOT NULL DEFAULT '',
	project TEXT NOT NULL DEFAULT '',
	route TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cache_write_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens INTEGER NOT NULL DEFAULT 0,
	cost_nanos INTEGER NOT NULL DEFAULT 0,
	would_be_nanos INTEGER NOT NULL DEFAULT 0,
	savings_nanos INTEGER NOT NULL DEFAULT 0,
	prompt_cache_savings_nanos INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	stream INTEGER NOT NULL DEFAULT 0,
	status_code INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_records_project_time ON request_records(project, created_at);
CREATE INDEX IF NOT EXISTS idx_records_time ON request_records(created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a request record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.RequestRecord) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO request_records (id, created_at, tier, provider, model, upstream_model,
		 agent, project, route, input_tokens, output_tokens, cache_write_tokens, cache_read_tokens,
		 cost_nanos, would_be_nanos, savings_nanos, prompt_cache_savings_nanos,
		 outcome, error_kind, stream, status_code, latency_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Time.UnixNano(), rec.Tier, rec.Provider, rec.Model, rec.UpstreamModel,
		rec.Agent, rec.Project, rec.Route,
		rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.CacheWriteTokens, rec.Usage.CacheReadTokens,
		int64(rec.Cost), int64(rec.WouldBeCost), int64(rec.Savings), int64(rec.PromptCacheSavings),
		string(rec.Outcome), rec.ErrorKind, rec.Stream, rec.StatusCode, rec.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("record request: %w", err)
	}
	return nil
}

// SpendSince returns upstream spend since a given time.
func (t *SQLiteTracker) SpendSince(ctx context.Context, project, model string, since time.Time) (models.Nanos, error) {
	query := `SELECT COALESCE(SUM(cost_nanos), 0) FROM request_records WHERE created_at >= ?`
	args := []any{since.UnixNano()}
	if project != "*" {
		query += ` AND project = ?`
		args = append(args, project)
	}
	if model != "" {
		query += ` AND model = ?`
		args = append(args, model)
	}

	var total int64
	if err := t.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("spend since: %w", err)
	}
	return models.Nanos(total), nil
}

// Summary returns aggregated usage grouped by groupBy.
func (t *SQLiteTracker) Summary(ctx context.Context, groupBy string, since time.Time) ([]models.UsageSummary, error) {
	col, ok := groupColumns[groupBy]
	if !ok {
		return nil, fmt.Errorf("summary: unknown grouping %q", groupBy)
	}
	query := fmt.Sprintf(`SELECT %s, COUNT(*),
		SUM(CASE WHEN outcome = 'hit' THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END),
		SUM(input_tokens), SUM(output_tokens), SUM(cache_write_tokens), SUM(cache_read_tokens),
		SUM(cost_nanos), SUM(savings_nanos)
		FROM request_records WHERE created_at >= ? GROUP BY %s ORDER BY SUM(cost_nanos) DESC, %s`, col, col, col)

	rows, err := t.db.QueryContext(ctx, query, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		var cost, savings int64
		if err := rows.Scan(&s.Key, &s.RequestCount, &s.Hits, &s.Failures,
			&s.Usage.InputTokens, &s.Usage.OutputTokens, &s.Usage.CacheWriteTokens, &s.Usage.CacheReadTokens,
			&cost, &savings); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Cost = models.Nanos(cost)
		s.Savings = models.Nanos(savings)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// CostReport returns cost rows grouped by project, agent and model.
func (t *SQLiteTracker) CostReport(ctx context.Context, since time.Time) ([]models.CostReport, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT project, agent, model, COUNT(*),
		 SUM(CASE WHEN outcome = 'hit' THEN 1 ELSE 0 END),
		 SUM(input_tokens + output_tokens + cache_write_tokens + cache_read_tokens),
		 SUM(cost_nanos), SUM(savings_nanos)
		 FROM request_records WHERE created_at >= ?
		 GROUP BY project, agent, model ORDER BY project, agent, model`,
		since.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("cost report: %w", err)
	}
	defer rows.Close()

	var reports []models.CostReport
	for rows.Next() {
		var r models.CostReport
		var cost, savings int64
		if err := rows.Scan(&r.Project, &r.Agent, &r.Model, &r.RequestCount, &r.Hits, &r.TotalTokens, &cost, &savings); err != nil {
			return nil, fmt.Errorf("scan cost report: %w", err)
		}
		r.Cost = models.Nanos(cost)
		r.Savings = models.Nanos(savings)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Recent returns the newest records first.
func (t *SQLiteTracker) Recent(ctx context.Context, limit int) ([]models.RequestRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, created_at, tier, provider, model, upstream_model, agent, project, route,
		 input_tokens, output_tokens, cache_write_tokens, cache_read_tokens,
		 cost_nanos, would_be_nanos, savings_nanos, prompt_cache_savings_nanos,
		 outcome, error_kind, stream, status_code, latency_ms
		 FROM request_records ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent requests: %w", err)
	}
	defer rows.Close()

	var records []models.RequestRecord
	for rows.Next() {
		var r models.RequestRecord
		var created, cost, wouldBe, savings, promptSavings int64
		var outcome string
		if err := rows.Scan(&r.ID, &created, &r.Tier, &r.Provider, &r.Model, &r.UpstreamModel,
			&r.Agent, &r.Project, &r.Route,
			&r.Usage.InputTokens, &r.Usage.OutputTokens, &r.Usage.CacheWriteTokens, &r.Usage.CacheReadTokens,
			&cost, &wouldBe, &savings, &promptSavings,
			&outcome, &r.ErrorKind, &r.Stream, &r.StatusCode, &r.LatencyMs); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		r.Time = time.Unix(0, created)
		r.Cost = models.Nanos(cost)
		r.WouldBeCost = models.Nanos(wouldBe)
		r.Savings = models.Nanos(savings)
		r.PromptCacheSavings = models.Nanos(promptSavings)
		r.Outcome = models.Outcome(outcome)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
