package models

import "time"

// AuditEntry represents a single audited gateway request.
type AuditEntry struct {
	RequestID        string            `json:"request_id"`
	CredentialHash   string            `json:"credential_hash,omitempty"`
	CredentialPrefix string            `json:"credential_prefix,omitempty"`
	CredentialOrigin string            `json:"credential_origin,omitempty"`
	Model            string            `json:"model"`
	Provider         string            `json:"provider"`
	Tier             string            `json:"tier"`
	Agent            string            `json:"agent,omitempty"`
	Project          string            `json:"project,omitempty"`
	Outcome          Outcome           `json:"outcome"`
	ErrorKind        string            `json:"error_kind,omitempty"`
	Stream           bool              `json:"stream"`
	RequestBody      string            `json:"request_body,omitempty"`
	ResponseBody     string            `json:"response_body,omitempty"`
	RequestHeaders   map[string]string `json:"request_headers,omitempty"`
	StatusCode       int               `json:"status_code"`
	Usage            Usage             `json:"usage"`
	Cost             Nanos             `json:"cost"`
	Savings          Nanos             `json:"savings"`
	LatencyMs        int64             `json:"latency_ms"`
	CreatedAt        time.Time         `json:"created_at"`
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	Model     string
	Provider  string
	Project   string
	Outcome   Outcome
	Since     time.Time
	RequestID string
	Limit     int
}

// AuditStat holds aggregate audit counts for a model/day combination.
type AuditStat struct {
	Model string `json:"model"`
	Day   string `json:"day"`
	Count int    `json:"count"`
	Cost  Nanos  `json:"cost"`
}
