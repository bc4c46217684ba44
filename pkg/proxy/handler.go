package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pario-ai/gatecache/pkg/auth"
	"github.com/pario-ai/gatecache/pkg/budget"
	"github.com/pario-ai/gatecache/pkg/cache"
	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/pario-ai/gatecache/pkg/pricing"
	"github.com/pario-ai/gatecache/pkg/provider"
	"github.com/pario-ai/gatecache/pkg/router"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const (
	headerCache     = "X-Gatecache-Cache"
	headerRequestID = "X-Request-ID"
	headerAgent     = "X-Agent-Type"
	headerProject   = "X-Project-ID"
)

// Error kinds reported in error bodies and request records.
const (
	KindInvalidRequest    = "invalid_request"
	KindUnknownModel      = "unknown_model"
	KindNoCredential      = "no_credential"
	KindBudgetExceeded    = "budget_exceeded"
	KindUpstreamTimeout   = "upstream_timeout"
	KindUpstreamError     = "upstream_error"
	KindStreamInterrupted = "stream_interrupted"
	KindClientClosed      = "client_closed"
	KindInternal          = "internal"
)

var errStreamingDisabled = errors.New("streaming disabled for provider")

// exchange carries one inference call through the pipeline.
type exchange struct {
	id      string
	start   time.Time
	format  provider.Format
	header  http.Header
	body    []byte
	model   string
	agent   string
	project string
	stream  bool
	key     string

	decision router.Decision
	target   *router.Target
	cred     auth.Credential
	errMsg   string
}

func (s *Server) inference(format provider.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		x := &exchange{
			id:     uuid.NewString(),
			start:  s.now(),
			format: format,
			header: r.Header,
		}
		w.Header().Set(headerRequestID, x.id)

		if !s.readRequest(w, r, x) {
			return
		}

		if entry, ok := s.lookup(r.Context(), x.key); ok {
			s.serveHit(w, x, entry)
			return
		}

		decision, err := s.router.Route(router.MetadataFromBody(x.body, x.agent))
		x.decision = decision
		if err != nil {
			s.fail(w, x, http.StatusBadRequest, KindUnknownModel, err)
			return
		}

		if s.budget != nil {
			if err := s.budget.Check(r.Context(), x.project, x.model); err != nil {
				if errors.Is(err, budget.ErrBudgetExceeded) {
					s.fail(w, x, http.StatusTooManyRequests, KindBudgetExceeded, err)
					return
				}
				log.Error().Err(err).Str("request_id", x.id).Msg("budget check failed")
				s.fail(w, x, http.StatusInternalServerError, KindInternal, errors.New("budget check failed"))
				return
			}
		}

		if x.stream {
			s.serveStream(w, r, x)
			return
		}
		s.serveUnary(w, r, x)
	}
}

// readRequest reads and validates the body and derives the cache key.
func (s *Server) readRequest(w http.ResponseWriter, r *http.Request, x *exchange) bool {
	reader := io.Reader(r.Body)
	if max := s.cfg.Server.MaxBodyBytes; max > 0 {
		reader = http.MaxBytesReader(w, r.Body, max)
	}
	body, err := io.ReadAll(reader)
	r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, x, http.StatusRequestEntityTooLarge, KindInvalidRequest, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		s.fail(w, x, http.StatusBadRequest, KindInvalidRequest, errors.New("failed to read request body"))
		return false
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		s.fail(w, x, http.StatusBadRequest, KindInvalidRequest, errors.New("request body must be a JSON object"))
		return false
	}

	x.body = body
	x.model = strings.TrimSpace(gjson.GetBytes(body, "model").String())
	x.stream = gjson.GetBytes(body, "stream").Bool()
	x.agent = firstNonEmpty(r.Header.Get(headerAgent), gjson.GetBytes(body, "agent_type").String())
	x.project = firstNonEmpty(r.Header.Get(headerProject), gjson.GetBytes(body, "project_id").String())
	if x.model == "" {
		s.fail(w, x, http.StatusBadRequest, KindInvalidRequest, errors.New("model is required"))
		return false
	}
	x.key = cache.ScopedKey(string(x.format), body, x.agent)
	return true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) lookup(ctx context.Context, key string) (cache.Entry, bool) {
	if s.store == nil {
		return cache.Entry{}, false
	}
	return s.store.Lookup(ctx, key)
}

// serveHit replays a stored payload. A hit costs nothing and saves what
// the original miss would have cost.
func (s *Server) serveHit(w http.ResponseWriter, x *exchange, e cache.Entry) {
	w.Header().Set("Content-Type", e.ContentType)
	w.Header().Set(headerCache, "hit")
	if e.Stream {
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(e.Payload); err != nil {
		log.Debug().Err(err).Str("request_id", x.id).Msg("client went away during cache replay")
	}

	x.decision.Tier = e.Tier
	x.decision.Reason = "cache"
	rec := s.baseRecord(x, models.OutcomeHit, http.StatusOK)
	rec.Provider = e.Provider
	rec.UpstreamModel = e.Model
	rec.WouldBeCost = e.WouldBe
	rec.Savings = e.WouldBe

	s.emit(x, rec, e.Payload)
}

// attempt prepares the call to one target. An error wrapping
// auth.ErrNoCredential is terminal for the whole chain.
func (s *Server) attempt(ctx context.Context, x *exchange, t router.Target) (provider.Client, *provider.Request, error) {
	client, ok := s.providers.Get(t.Provider.Name)
	if !ok {
		return nil, nil, &provider.UpstreamError{Provider: t.Provider.Name, Err: errors.New("provider not registered")}
	}

	var supplied *auth.Credential
	if x.format == client.Format() {
		supplied = auth.FromRequest(x.header)
	}
	cred, err := s.resolver.Resolve(ctx, t.Provider, supplied)
	if err != nil {
		return nil, nil, err
	}

	target := t
	x.target = &target
	x.cred = cred
	log.Debug().
		Str("request_id", x.id).
		Str("provider", t.Provider.Name).
		Str("model", t.Model).
		Str("credential", cred.Masked()).
		Str("origin", string(cred.Origin)).
		Msg("calling upstream")

	return client, &provider.Request{
		Body:       x.body,
		Format:     x.format,
		Model:      t.Model,
		Credential: cred,
		Header:     x.header,
	}, nil
}

func (s *Server) serveUnary(w http.ResponseWriter, r *http.Request, x *exchange) {
	upstreamCtx := context.WithoutCancel(r.Context())

	var lastErr error
	for _, t := range x.decision.Targets {
		client, req, err := s.attempt(r.Context(), x, t)
		if errors.Is(err, auth.ErrNoCredential) {
			s.fail(w, x, http.StatusUnauthorized, KindNoCredential, err)
			return
		}
		if err != nil {
			lastErr = err
			continue
		}

		resp, err := client.Complete(upstreamCtx, req)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("request_id", x.id).Str("provider", t.Provider.Name).Msg("upstream failed, trying next")
			continue
		}

		cost := price(t, resp.Usage)
		s.insert(r.Context(), x, cache.Entry{
			Payload:     resp.Body,
			ContentType: "application/json",
			Usage:       resp.Usage,
			Provider:    t.Provider.Name,
			Model:       t.Model,
			Tier:        x.decision.Tier,
			WouldBe:     cost.wouldBe,
		})

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(headerCache, "miss")
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(resp.Body)

		rec := s.baseRecord(x, models.OutcomeMiss, resp.StatusCode)
		cost.apply(&rec, resp.Usage)
		if resp.Model != "" {
			rec.UpstreamModel = resp.Model
		}
		s.emit(x, rec, resp.Body)
		return
	}
	s.failUpstream(w, x, lastErr)
}

// insert stores a response, logging rather than failing when it cannot.
func (s *Server) insert(ctx context.Context, x *exchange, e cache.Entry) {
	if s.store == nil {
		return
	}
	if err := s.store.Insert(ctx, x.key, e); err != nil {
		log.Warn().Err(err).Str("request_id", x.id).Int64("size", e.Size()).Msg("response not cached")
	}
}

// costs is the pricing of one upstream answer.
type costs struct {
	cost, wouldBe, savings, promptCache models.Nanos
}

// price computes what a response cost and, for local providers, what
// the counterfactual paid provider would have charged.
func price(t router.Target, u models.Usage) costs {
	c := costs{
		cost:        pricing.CostNanos(u, t.Price),
		wouldBe:     pricing.CostNanos(u, t.WouldBe),
		promptCache: pricing.PromptCacheSavings(u, t.Price),
	}
	if t.Local() {
		c.cost = 0
		c.savings = c.wouldBe
	} else {
		c.wouldBe = c.cost
	}
	return c
}

// apply sets usage and money on rec. Failed records keep the usage that
// was observed but carry no cost, would-be cost or savings.
func (c costs) apply(rec *models.RequestRecord, u models.Usage) {
	rec.Usage = u
	if rec.Outcome == models.OutcomeFailed {
		rec.Cost, rec.WouldBeCost, rec.Savings, rec.PromptCacheSavings = 0, 0, 0, 0
		return
	}
	rec.Cost = c.cost
	rec.WouldBeCost = c.wouldBe
	rec.Savings = c.savings
	rec.PromptCacheSavings = c.promptCache
}

// failUpstream surfaces the last error of an exhausted fallback chain.
func (s *Server) failUpstream(w http.ResponseWriter, x *exchange, err error) {
	if err == nil {
		err = &provider.UpstreamError{Err: errors.New("no provider available")}
	}

	var ue *provider.UpstreamError
	switch {
	case errors.Is(err, provider.ErrUpstreamTimeout):
		s.fail(w, x, http.StatusGatewayTimeout, KindUpstreamTimeout, err)
	case errors.As(err, &ue) && ue.ClientError() && len(ue.Body) > 0:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(ue.Status)
		_, _ = w.Write(ue.Body)
		x.errMsg = ue.Error()
		rec := s.baseRecord(x, models.OutcomeFailed, ue.Status)
		rec.ErrorKind = KindUpstreamError
		s.emit(x, rec, ue.Body)
	default:
		s.fail(w, x, http.StatusBadGateway, KindUpstreamError, err)
	}
}

// fail writes a gateway error and records the failure.
func (s *Server) fail(w http.ResponseWriter, x *exchange, status int, kind string, err error) {
	x.errMsg = err.Error()
	writeJSONError(w, status, kind, x.errMsg)
	rec := s.baseRecord(x, models.OutcomeFailed, status)
	rec.ErrorKind = kind
	s.emit(x, rec, nil)
}
