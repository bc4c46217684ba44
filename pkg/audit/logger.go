package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pario-ai/gatecache/pkg/config"
	"github.com/pario-ai/gatecache/pkg/models"
	_ "modernc.org/sqlite"
)

// Logger writes and queries audit entries in a dedicated SQLite database.
type Logger struct {
	db      *sql.DB
	cfg     config.AuditConfig
	include map[string]bool
	exclude map[string]bool
	now     func() time.Time
}

// New opens the audit SQLite database and creates the schema.
func New(cfg config.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	inc := make(map[string]bool)
	for _, v := range cfg.Include {
		inc[v] = true
	}
	exc := make(map[string]bool)
	for _, v := range cfg.ExcludeModels {
		exc[v] = true
	}

	return &Logger{
		db:      db,
		cfg:     cfg,
		include: inc,
		exclude: exc,
		now:     time.Now,
	}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_log (
		request_id        TEXT PRIMARY KEY,
		credential_hash   TEXT NOT NULL DEFAULT '',
		credential_prefix TEXT NOT NULL DEFAULT '',
		credential_origin TEXT NOT NULL DEFAULT '',
		model             TEXT NOT NULL,
		provider          TEXT,
		tier              TEXT,
		agent             TEXT,
		project           TEXT,
		outcome           TEXT NOT NULL,
		error_kind        TEXT,
		stream            INTEGER NOT NULL DEFAULT 0,
		request_body      TEXT,
		response_body     TEXT,
		request_headers   TEXT,
		status_code       INTEGER,
		input_tokens      INTEGER,
		output_tokens     INTEGER,
		cache_write_tokens INTEGER,
		cache_read_tokens INTEGER,
		cost_nanos        INTEGER,
		savings_nanos     INTEGER,
		latency_ms        INTEGER,
		created_at        INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS idx_audit_model ON audit_log(model)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_prefix ON audit_log(credential_prefix)`,
	} {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}

// Log inserts an audit entry, respecting include/exclude configuration.
func (l *Logger) Log(ctx context.Context, entry models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	if l.exclude[entry.Model] {
		return nil
	}

	reqBody := entry.RequestBody
	respBody := entry.ResponseBody
	var headersJSON string

	if !l.include["prompts"] {
		reqBody = ""
	}
	if !l.include["responses"] {
		respBody = ""
	}
	if l.include["metadata"] && entry.RequestHeaders != nil {
		b, _ := json.Marshal(entry.RequestHeaders)
		headersJSON = string(b)
	}

	if l.cfg.MaxBodySize > 0 {
		if len(reqBody) > l.cfg.MaxBodySize {
			reqBody = reqBody[:l.cfg.MaxBodySize]
		}
		if len(respBody) > l.cfg.MaxBodySize {
			respBody = respBody[:l.cfg.MaxBodySize]
		}
	}

	created := entry.CreatedAt
	if created.IsZero() {
		created = l.now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO audit_log
		(request_id, credential_hash, credential_prefix, credential_origin,
		 model, provider, tier, agent, project, outcome, error_kind, stream,
		 request_body, response_body, request_headers, status_code,
		 input_tokens, output_tokens, cache_write_tokens, cache_read_tokens,
		 cost_nanos, savings_nanos, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.CredentialHash, entry.CredentialPrefix, entry.CredentialOrigin,
		entry.Model, entry.Provider, entry.Tier, entry.Agent, entry.Project,
		string(entry.Outcome), entry.ErrorKind, entry.Stream,
		reqBody, respBody, headersJSON, entry.StatusCode,
		entry.Usage.InputTokens, entry.Usage.OutputTokens,
		entry.Usage.CacheWriteTokens, entry.Usage.CacheReadTokens,
		int64(entry.Cost), int64(entry.Savings), entry.LatencyMs, created.UnixNano(),
	)
	return err
}

// Query returns audit entries matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	q := `SELECT request_id, credential_hash, credential_prefix, credential_origin,
		model, provider, tier, agent, project, outcome, error_kind, stream,
		request_body, response_body, request_headers, status_code,
		input_tokens, output_tokens, cache_write_tokens, cache_read_tokens,
		cost_nanos, savings_nanos, latency_ms, created_at
		FROM audit_log WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Model != "" {
		q += " AND model = ?"
		args = append(args, opts.Model)
	}
	if opts.Provider != "" {
		q += " AND provider = ?"
		args = append(args, opts.Provider)
	}
	if opts.Project != "" {
		q += " AND project = ?"
		args = append(args, opts.Project)
	}
	if opts.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, string(opts.Outcome))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UnixNano())
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var provider, tier, agent, project, errorKind, reqBody, respBody, headers sql.NullString
		var outcome string
		var cost, savings, created int64
		if err := rows.Scan(
			&e.RequestID, &e.CredentialHash, &e.CredentialPrefix, &e.CredentialOrigin,
			&e.Model, &provider, &tier, &agent, &project, &outcome, &errorKind, &e.Stream,
			&reqBody, &respBody, &headers, &e.StatusCode,
			&e.Usage.InputTokens, &e.Usage.OutputTokens,
			&e.Usage.CacheWriteTokens, &e.Usage.CacheReadTokens,
			&cost, &savings, &e.LatencyMs, &created,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Provider = provider.String
		e.Tier = tier.String
		e.Agent = agent.String
		e.Project = project.String
		e.Outcome = models.Outcome(outcome)
		e.ErrorKind = errorKind.String
		e.RequestBody = reqBody.String
		e.ResponseBody = respBody.String
		e.Cost = models.Nanos(cost)
		e.Savings = models.Nanos(savings)
		e.CreatedAt = time.Unix(0, created)
		if headers.Valid && headers.String != "" {
			_ = json.Unmarshal([]byte(headers.String), &e.RequestHeaders)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns aggregate counts and spend grouped by model and UTC day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT model, date(created_at / 1000000000, 'unixepoch') AS day,
		        count(*) AS cnt, COALESCE(SUM(cost_nanos), 0)
		 FROM audit_log GROUP BY model, day ORDER BY day DESC, model`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var day sql.NullString
		var cost int64
		if err := rows.Scan(&s.Model, &day, &s.Count, &cost); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Day = day.String
		s.Cost = models.Nanos(cost)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := l.now().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (l *Logger) Close() error {
	return l.db.Close()
}

// HashCredential returns the SHA-256 hex hash and 8-char prefix of a
// credential value. Empty values hash to empty strings.
func HashCredential(value string) (hash, prefix string) {
	if value == "" {
		return "", ""
	}
	h := sha256.Sum256([]byte(value))
	hash = hex.EncodeToString(h[:])
	if len(value) > 8 {
		prefix = value[:8]
	} else {
		prefix = value
	}
	return hash, prefix
}
