package proxy

import (
	"context"
	"time"

	"github.com/pario-ai/gatecache/pkg/audit"
	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/rs/zerolog/log"
)

const sideEffectTimeout = 5 * time.Second

// baseRecord fills the fields every record shares.
func (s *Server) baseRecord(x *exchange, outcome models.Outcome, status int) models.RequestRecord {
	rec := models.RequestRecord{
		ID:         x.id,
		Time:       x.start,
		Tier:       x.decision.Tier,
		Model:      x.model,
		Agent:      x.agent,
		Project:    x.project,
		Route:      x.decision.Reason,
		Outcome:    outcome,
		Stream:     x.stream,
		StatusCode: status,
		LatencyMs:  s.now().Sub(x.start).Milliseconds(),
	}
	if x.target != nil {
		rec.Provider = x.target.Provider.Name
		rec.UpstreamModel = x.target.Model
	}
	return rec
}

// emit delivers the single record of a call. Analytics, metrics and the
// live terminal event are updated before the handler returns; history and
// audit writes run in the background and are awaited by Wait.
func (s *Server) emit(x *exchange, rec models.RequestRecord, respBody []byte) {
	s.analytics.Record(rec)
	if s.metrics != nil {
		s.metrics.Record(rec)
	}
	s.events.Publish(terminalEvent(x, rec))

	if s.tracker == nil && s.audit == nil {
		return
	}
	entry := audit.NewEntry(rec, audit.Credential{Value: x.cred.Value, Origin: string(x.cred.Origin)}, x.header, x.body, respBody)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()

		if s.tracker != nil {
			if err := s.tracker.Record(ctx, rec); err != nil {
				log.Error().Err(err).Str("request_id", rec.ID).Msg("failed to record request")
			}
		}
		if s.audit != nil {
			if err := s.audit.Log(ctx, entry); err != nil {
				log.Error().Err(err).Str("request_id", rec.ID).Msg("failed to write audit entry")
			}
		}
	}()
}

func terminalEvent(x *exchange, rec models.RequestRecord) models.StreamEvent {
	ev := models.StreamEvent{
		Type:      models.EventCompleted,
		RequestID: rec.ID,
		Provider:  rec.Provider,
		Model:     rec.Model,
		Agent:     rec.Agent,
		Cost:      rec.Cost,
	}
	switch rec.Outcome {
	case models.OutcomeHit:
		ev.Type = models.EventCacheHit
		ev.Cost = rec.WouldBeCost
	case models.OutcomeFailed:
		ev.Type = models.EventError
		ev.Error = x.errMsg
		if ev.Error == "" {
			ev.Error = rec.ErrorKind
		}
	}
	if rec.Outcome != models.OutcomeFailed || !rec.Usage.IsZero() {
		usage := rec.Usage
		ev.Usage = &usage
	}
	return ev
}
