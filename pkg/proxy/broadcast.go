package proxy

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/goccy/go-json"
	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	defaultSubscriberBuffer = 64
	pingInterval            = 15 * time.Second
	wsWriteTimeout          = 5 * time.Second
)

// Broadcaster fans live request events out to subscribers. Publishing
// never blocks: a subscriber whose buffer is full misses the event.
type Broadcaster struct {
	buffer int

	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool

	dropped atomic.Int64
	now     func() time.Time
}

// NewBroadcaster creates a Broadcaster with a per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broadcaster{
		buffer: buffer,
		subs:   make(map[int]*subscriber),
		now:    time.Now,
	}
}

type subscriber struct {
	ch   chan models.StreamEvent
	once sync.Once
}

// stop closes the channel. Callers hold b.mu for writing.
func (sub *subscriber) stop() {
	sub.once.Do(func() { close(sub.ch) })
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; it is safe to call more than once. After Close the
// channel is returned already closed.
func (b *Broadcaster) Subscribe() (<-chan models.StreamEvent, func()) {
	sub := &subscriber{ch: make(chan models.StreamEvent, b.buffer)}
	b.mu.Lock()
	if b.closed {
		sub.stop()
		b.mu.Unlock()
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		sub.stop()
		b.mu.Unlock()
	}
}

// Close ends every subscription so SSE and WebSocket handlers return, and
// refuses new ones. It is safe to call more than once.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		sub.stop()
		delete(b.subs, id)
	}
}

// Publish delivers ev to every subscriber with room for it.
func (b *Broadcaster) Publish(ev models.StreamEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.subs) == 0 {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many events were discarded for slow subscribers.
func (b *Broadcaster) Dropped() int64 { return b.dropped.Load() }

// ServeSSE streams events as server-sent events until the client leaves.
func (b *Broadcaster) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, KindInternal, "streaming unsupported")
		return
	}

	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Msg("encode stream event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ServeWS streams events as JSON WebSocket messages until the client
// leaves. Inbound messages are ignored.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}
