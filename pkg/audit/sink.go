// Package audit records one audit entry per gateway request: a
// structured log line and, when enabled, a row in a SQLite audit log.
package audit

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/rs/zerolog"
)

// Sink receives audit entries.
type Sink interface {
	Log(ctx context.Context, entry models.AuditEntry) error
}

// Multi fans an entry out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Log(ctx context.Context, entry models.AuditEntry) error {
	var errs []error
	for _, s := range m {
		if err := s.Log(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LineSink writes one structured line per entry. Bodies and credentials
// never reach the line.
type LineSink struct {
	logger zerolog.Logger
}

// NewLineSink writes through logger.
func NewLineSink(logger zerolog.Logger) *LineSink {
	return &LineSink{logger: logger.With().Str("component", "audit").Logger()}
}

func (s *LineSink) Log(_ context.Context, e models.AuditEntry) error {
	ev := s.logger.Info()
	if e.Outcome == models.OutcomeFailed {
		ev = s.logger.Warn().Str("error_kind", e.ErrorKind)
	}
	ev.Str("request_id", e.RequestID).
		Str("outcome", string(e.Outcome)).
		Str("model", e.Model).
		Str("provider", e.Provider).
		Str("tier", e.Tier).
		Str("agent", e.Agent).
		Str("project", e.Project).
		Str("credential", e.CredentialPrefix).
		Str("credential_origin", e.CredentialOrigin).
		Bool("stream", e.Stream).
		Int("status", e.StatusCode).
		Int64("input_tokens", e.Usage.InputTokens).
		Int64("output_tokens", e.Usage.OutputTokens).
		Float64("cost_usd", e.Cost.USD()).
		Float64("savings_usd", e.Savings.USD()).
		Int64("latency_ms", e.LatencyMs).
		Msg("request")
	return nil
}

// auditedHeaders are the inbound headers kept as metadata.
var auditedHeaders = []string{
	"User-Agent", "Content-Type", "Anthropic-Version", "Anthropic-Beta",
	"X-Agent-Type", "X-Project-Id",
}

// Credential is the part of a resolved credential the audit log keeps.
type Credential struct {
	Value  string
	Origin string
}

// NewEntry builds an audit entry from a finished request record.
func NewEntry(r models.RequestRecord, cred Credential, header http.Header, reqBody, respBody []byte) models.AuditEntry {
	hash, prefix := HashCredential(cred.Value)
	e := models.AuditEntry{
		RequestID:        r.ID,
		CredentialHash:   hash,
		CredentialPrefix: prefix,
		CredentialOrigin: cred.Origin,
		Model:            r.Model,
		Provider:         r.Provider,
		Tier:             r.Tier,
		Agent:            r.Agent,
		Project:          r.Project,
		Outcome:          r.Outcome,
		ErrorKind:        r.ErrorKind,
		Stream:           r.Stream,
		RequestBody:      string(reqBody),
		ResponseBody:     string(respBody),
		StatusCode:       r.StatusCode,
		Usage:            r.Usage,
		Cost:             r.Cost,
		Savings:          r.Savings,
		LatencyMs:        r.LatencyMs,
		CreatedAt:        r.Time,
	}
	for _, h := range auditedHeaders {
		if v := header.Get(h); v != "" {
			if e.RequestHeaders == nil {
				e.RequestHeaders = make(map[string]string)
			}
			e.RequestHeaders[strings.ToLower(h)] = v
		}
	}
	return e
}
