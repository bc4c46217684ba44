package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Cleaner deletes expired audit rows.
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Retention runs Cleanup on a standard five-field cron schedule.
type Retention struct {
	cleaner  Cleaner
	schedule string
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewRetention validates schedule and prepares the scheduler.
func NewRetention(cleaner Cleaner, schedule string) (*Retention, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return &Retention{cleaner: cleaner, schedule: schedule, cron: cron.New()}, nil
}

// Start schedules pruning until ctx is cancelled or Stop is called.
func (r *Retention) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	if _, err := r.cron.AddFunc(r.schedule, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule audit pruning: %w", err)
	}
	r.cron.Start()
	r.running = true
	log.Info().Str("schedule", r.schedule).Msg("audit retention started")

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// RunOnce prunes immediately and logs the result.
func (r *Retention) RunOnce(ctx context.Context) {
	deleted, err := r.cleaner.Cleanup(ctx)
	if err != nil {
		log.Error().Err(err).Msg("audit pruning failed")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("audit pruning completed")
	}
}

// Stop halts the scheduler and waits for a running prune to finish.
func (r *Retention) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
}

// Running reports whether the scheduler is active.
func (r *Retention) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
