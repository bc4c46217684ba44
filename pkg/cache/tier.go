package cache

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// Tier is a slower second cache level behind the in-memory store, such as
// a SQLite file or a shared Redis.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry, ttl time.Duration) error
	Clear(ctx context.Context) error
	Close() error
}

// EncodeEntry serializes an entry for a second tier.
func EncodeEntry(e Entry) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEntry is the inverse of EncodeEntry.
func DecodeEntry(b []byte) (Entry, error) {
	var e Entry
	err := json.Unmarshal(b, &e)
	return e, err
}
