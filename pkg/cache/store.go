// Package cache implements the in-memory response cache: an LRU bounded by
// entry count and payload bytes, with lazy TTL expiry and an optional
// write-through second tier.
package cache

import (
	"bytes"
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrCapacityExceeded is returned by Insert when a single entry is larger
// than the byte bound. The response should still be served, uncached.
var ErrCapacityExceeded = errors.New("cache entry exceeds capacity")

// Entry is a cached upstream response with the metadata needed to price a
// later hit.
type Entry struct {
	Payload     []byte       `json:"payload"`
	ContentType string       `json:"content_type"`
	Stream      bool         `json:"stream"`
	Usage       models.Usage `json:"usage"`
	Provider    string       `json:"provider"`
	Model       string       `json:"model"`
	Tier        string       `json:"tier"`
	WouldBe     models.Nanos `json:"would_be"`
	CreatedAt   time.Time    `json:"created_at"`
	LastAccess  time.Time    `json:"last_access"`
	Hits        int64        `json:"hits"`
}

// Size is the number of payload bytes counted against the byte bound.
func (e Entry) Size() int64 { return int64(len(e.Payload)) }

func (e Entry) clone() Entry {
	e.Payload = bytes.Clone(e.Payload)
	return e
}

// Options configures a Store. Zero bounds are unbounded; a zero TTL never
// expires.
type Options struct {
	MaxEntries int
	MaxBytes   int64
	TTL        time.Duration
	Tier       Tier
	Now        func() time.Time
}

type item struct {
	key   string
	entry Entry
	lru   *list.Element // in Store.lru, front is most recent
	age   *list.Element // in Store.age, front is oldest insert
}

// Store is a concurrency-safe LRU cache.
type Store struct {
	opts Options

	mu    sync.Mutex
	items map[string]*item
	lru   *list.List
	age   *list.List
	bytes int64

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
}

// New creates an empty Store.
func New(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		opts:  opts,
		items: make(map[string]*item),
		lru:   list.New(),
		age:   list.New(),
	}
}

// Lookup returns a copy of the entry for key. Expired entries are removed
// and reported as absent. On a local miss the second tier is consulted and
// a hit there is promoted.
func (s *Store) Lookup(ctx context.Context, key string) (Entry, bool) {
	now := s.opts.Now()

	s.mu.Lock()
	if it, ok := s.items[key]; ok {
		if s.expired(it.entry, now) {
			s.remove(it)
			s.expirations.Add(1)
		} else {
			it.entry.LastAccess = now
			it.entry.Hits++
			s.lru.MoveToFront(it.lru)
			e := it.entry
			s.mu.Unlock()
			s.hits.Add(1)
			// Stored payloads are never written after Insert, so the
			// copy can happen outside the lock.
			return e.clone(), true
		}
	}
	s.mu.Unlock()

	if s.opts.Tier != nil {
		e, ok, err := s.opts.Tier.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("tier", s.opts.Tier.Name()).Msg("cache tier lookup failed")
		} else if ok && !s.expired(e, now) && s.fits(e) {
			e.LastAccess = now
			e.Hits++
			s.mu.Lock()
			s.put(key, e, now)
			s.mu.Unlock()
			s.hits.Add(1)
			return e.clone(), true
		}
	}

	s.misses.Add(1)
	return Entry{}, false
}

// Insert stores e under key, replacing any previous entry, and evicts
// expired then least recently used entries until both bounds hold.
func (s *Store) Insert(ctx context.Context, key string, e Entry) error {
	if !s.fits(e) {
		return ErrCapacityExceeded
	}
	now := s.opts.Now()
	e = e.clone()
	e.CreatedAt = now
	e.LastAccess = now
	e.Hits = 0

	s.mu.Lock()
	s.put(key, e, now)
	s.mu.Unlock()

	if s.opts.Tier != nil {
		if err := s.opts.Tier.Set(ctx, key, e, s.opts.TTL); err != nil {
			log.Warn().Err(err).Str("tier", s.opts.Tier.Name()).Msg("cache tier write failed")
		}
	}
	return nil
}

// Clear drops every entry and reports how many entries and payload bytes
// were held locally. Hit and miss counters are not reset.
func (s *Store) Clear(ctx context.Context) (int, int64) {
	s.mu.Lock()
	n, b := len(s.items), s.bytes
	s.items = make(map[string]*item)
	s.lru.Init()
	s.age.Init()
	s.bytes = 0
	s.mu.Unlock()

	if s.opts.Tier != nil {
		if err := s.opts.Tier.Clear(ctx); err != nil {
			log.Warn().Err(err).Str("tier", s.opts.Tier.Name()).Msg("cache tier clear failed")
		}
	}
	return n, b
}

// Stats reports occupancy and counters.
func (s *Store) Stats() models.CacheStats {
	s.mu.Lock()
	entries, b := len(s.items), s.bytes
	s.mu.Unlock()

	hits, misses := s.hits.Load(), s.misses.Load()
	st := models.CacheStats{
		Entries:       entries,
		Bytes:         b,
		MaxEntries:    s.opts.MaxEntries,
		CapacityBytes: s.opts.MaxBytes,
		Hits:          hits,
		Misses:        misses,
		Evictions:     s.evictions.Load(),
		Expirations:   s.expirations.Load(),
	}
	if hits+misses > 0 {
		st.HitRate = float64(hits) / float64(hits+misses)
	}
	if s.opts.Tier != nil {
		st.Tier = s.opts.Tier.Name()
	}
	return st
}

// Close releases the second tier, if any.
func (s *Store) Close() error {
	if s.opts.Tier != nil {
		return s.opts.Tier.Close()
	}
	return nil
}

func (s *Store) fits(e Entry) bool {
	return s.opts.MaxBytes <= 0 || e.Size() <= s.opts.MaxBytes
}

func (s *Store) expired(e Entry, now time.Time) bool {
	return s.opts.TTL > 0 && now.Sub(e.CreatedAt) > s.opts.TTL
}

// put must be called with mu held.
func (s *Store) put(key string, e Entry, now time.Time) {
	if old, ok := s.items[key]; ok {
		s.remove(old)
	}
	it := &item{key: key, entry: e}
	it.lru = s.lru.PushFront(it)
	it.age = s.age.PushBack(it)
	s.items[key] = it
	s.bytes += e.Size()

	if !s.overBounds() {
		return
	}
	// Entries share one TTL, so the expired ones are a prefix of the age
	// list.
	for el := s.age.Front(); el != nil && s.overBounds(); el = s.age.Front() {
		old := el.Value.(*item)
		if old == it || !s.expired(old.entry, now) {
			break
		}
		s.remove(old)
		s.expirations.Add(1)
	}
	for el := s.lru.Back(); el != nil && s.overBounds(); el = s.lru.Back() {
		old := el.Value.(*item)
		if old == it {
			break
		}
		s.remove(old)
		s.evictions.Add(1)
	}
}

func (s *Store) overBounds() bool {
	if s.opts.MaxEntries > 0 && len(s.items) > s.opts.MaxEntries {
		return true
	}
	return s.opts.MaxBytes > 0 && s.bytes > s.opts.MaxBytes
}

func (s *Store) remove(it *item) {
	s.lru.Remove(it.lru)
	s.age.Remove(it.age)
	delete(s.items, it.key)
	s.bytes -= it.entry.Size()
}
