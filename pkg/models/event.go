package models

import "time"

// StreamEventType names a live gateway event.
type StreamEventType string

const (
	EventStarted   StreamEventType = "started"
	EventTextDelta StreamEventType = "text_delta"
	EventCompleted StreamEventType = "completed"
	EventError     StreamEventType = "error"
	EventCacheHit  StreamEventType = "cache_hit"
)

// StreamEvent is published to live subscribers while requests are served.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	RequestID string          `json:"request_id"`
	Provider  string          `json:"provider,omitempty"`
	Model     string          `json:"model,omitempty"`
	Agent     string          `json:"agent,omitempty"`
	Text      string          `json:"text,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`
	Cost      Nanos           `json:"cost,omitempty"`
	Error     string          `json:"error,omitempty"`
	Time      time.Time       `json:"time"`
}
