package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/pario-ai/gatecache/pkg/auth"
	"github.com/pario-ai/gatecache/pkg/cache"
	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/pario-ai/gatecache/pkg/provider"
	"github.com/rs/zerolog/log"
)

const (
	streamChunkSize = 32 << 10
	// defaultTranscriptLimit bounds the buffered transcript when the cache
	// has no byte bound of its own.
	defaultTranscriptLimit = 64 << 20
)

// serveStream opens the first streaming target that accepts the request
// and relays it. Fallback only applies before any byte reaches the client.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, x *exchange) {
	upstreamCtx := context.WithoutCancel(r.Context())

	var lastErr error
	for _, t := range x.decision.Targets {
		if !t.Provider.Streams() {
			lastErr = &provider.UpstreamError{Provider: t.Provider.Name, Err: errStreamingDisabled}
			continue
		}
		client, req, err := s.attempt(r.Context(), x, t)
		if errors.Is(err, auth.ErrNoCredential) {
			s.fail(w, x, http.StatusUnauthorized, KindNoCredential, err)
			return
		}
		if err != nil {
			lastErr = err
			continue
		}

		st, err := client.CompleteStream(upstreamCtx, req)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("request_id", x.id).Str("provider", t.Provider.Name).Msg("upstream stream failed, trying next")
			continue
		}
		s.relay(w, r, x, st)
		return
	}
	s.failUpstream(w, x, lastErr)
}

// transcript accumulates relayed bytes up to a limit.
type transcript struct {
	buf      []byte
	limit    int64
	overflow bool
}

func (t *transcript) Write(p []byte) {
	if t.overflow {
		return
	}
	if int64(len(t.buf)+len(p)) > t.limit {
		t.overflow = true
		t.buf = nil
		return
	}
	t.buf = append(t.buf, p...)
}

// relay copies the upstream stream to the client chunk by chunk, flushing
// each one. The transcript is cached only when the stream reached its
// terminal event.
func (s *Server) relay(w http.ResponseWriter, r *http.Request, x *exchange, st *provider.Stream) {
	defer st.Body.Close()

	t := *x.target
	parser := provider.NewStreamParser(st.Format)
	parser.OnText = func(text string) {
		s.events.Publish(models.StreamEvent{
			Type:      models.EventTextDelta,
			RequestID: x.id,
			Provider:  t.Provider.Name,
			Model:     x.model,
			Agent:     x.agent,
			Text:      text,
		})
	}

	limit := int64(defaultTranscriptLimit)
	if s.store != nil && s.cfg.Cache.MaxBytes > 0 {
		limit = s.cfg.Cache.MaxBytes
	}
	acc := &transcript{limit: limit}

	contentType := st.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/event-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(headerCache, "miss")
	w.WriteHeader(st.StatusCode)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	s.events.Publish(models.StreamEvent{
		Type:      models.EventStarted,
		RequestID: x.id,
		Provider:  t.Provider.Name,
		Model:     x.model,
		Agent:     x.agent,
	})

	var (
		clientGone bool
		drained    int64
		readErr    error
	)
	buf := make([]byte, streamChunkSize)
	for {
		n, err := st.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			parser.Feed(chunk)
			acc.Write(chunk)
			if clientGone {
				drained += int64(n)
			} else if _, werr := w.Write(chunk); werr != nil || r.Context().Err() != nil {
				clientGone = true
				log.Debug().Str("request_id", x.id).Msg("client went away mid-stream, draining upstream")
			} else if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
		if parser.Done() {
			continue
		}
		if clientGone && s.cfg.Server.DrainLimit > 0 && drained >= s.cfg.Server.DrainLimit {
			readErr = errors.New("drain limit reached")
			break
		}
	}
	parser.Flush()

	cost := price(t, parser.Usage())
	status := st.StatusCode

	switch {
	case clientGone:
		// The caller never saw the full answer, so it is not cached.
		outcome, kind := models.OutcomeFailed, KindClientClosed
		if parser.Done() {
			outcome, kind = models.OutcomeMiss, ""
		}
		rec := s.baseRecord(x, outcome, status)
		rec.ErrorKind = kind
		cost.apply(&rec, parser.Usage())
		x.errMsg = kind
		s.emit(x, rec, nil)

	case !parser.Done() || parser.Err() != "":
		msg := "upstream stream ended before completion"
		switch {
		case parser.Err() != "":
			msg = parser.Err()
		case readErr != nil:
			msg = fmt.Sprintf("upstream stream interrupted: %v", readErr)
		}
		if !parser.Done() {
			writeStreamError(w, st.Format, msg)
			if flusher != nil {
				flusher.Flush()
			}
		}
		log.Warn().Str("request_id", x.id).Str("provider", t.Provider.Name).Str("error", msg).Msg("stream not cached")
		rec := s.baseRecord(x, models.OutcomeFailed, status)
		rec.ErrorKind = KindStreamInterrupted
		cost.apply(&rec, parser.Usage())
		x.errMsg = msg
		s.emit(x, rec, nil)

	default:
		if acc.overflow {
			log.Warn().Str("request_id", x.id).Int64("limit", acc.limit).Msg("stream transcript too large to cache")
		} else {
			s.insert(r.Context(), x, cache.Entry{
				Payload:     acc.buf,
				ContentType: contentType,
				Stream:      true,
				Usage:       parser.Usage(),
				Provider:    t.Provider.Name,
				Model:       t.Model,
				Tier:        x.decision.Tier,
				WouldBe:     cost.wouldBe,
			})
		}
		rec := s.baseRecord(x, models.OutcomeMiss, status)
		cost.apply(&rec, parser.Usage())
		if m := parser.Model(); m != "" {
			rec.UpstreamModel = m
		}
		s.emit(x, rec, acc.buf)
	}
}

// writeStreamError terminates a broken stream with an error event in the
// client's wire format.
func writeStreamError(w io.Writer, format provider.Format, message string) {
	var payload any
	if format == provider.FormatAnthropic {
		payload = map[string]any{
			"type":  "error",
			"error": map[string]string{"type": "api_error", "message": message},
		}
	} else {
		payload = map[string]any{
			"error": map[string]string{"type": "gatecache_error", "message": message, "code": KindStreamInterrupted},
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if format == provider.FormatAnthropic {
		_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}
