package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meikuraledutech/flow"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultClaimBatch   = 50
)

// Scheduler is the resume side of suspend/resume: it polls the
// execution store for suspended executions whose resume_after has
// elapsed, claims them, and re-enters the engine. Claiming is atomic in
// the store, so any number of scheduler instances can run against the
// same database without double-resuming an execution.
type Scheduler struct {
	engine     *Engine
	executions flow.ExecutionStore
	interval   time.Duration
	batch      int
	log        zerolog.Logger
	clock      Clock
}

// NewScheduler builds a scheduler over the same store the engine
// persists to. Zero interval and batch take the defaults.
func NewScheduler(e *Engine, interval time.Duration, batch int, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if batch <= 0 {
		batch = DefaultClaimBatch
	}
	return &Scheduler{
		engine:     e,
		executions: e.executions,
		interval:   interval,
		batch:      batch,
		log:        logger,
		clock:      e.clock,
	}
}

// Run polls until the context is cancelled. Blocks; callers start it in
// its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick claims every due execution and resumes each on its own
// goroutine. Different executions share no state, so they run fully in
// parallel; one execution is never claimed twice. Returns the number of
// executions claimed.
func (s *Scheduler) Tick(ctx context.Context) int {
	due, err := s.executions.ClaimDue(ctx, s.clock.Now(), s.batch)
	if err != nil {
		s.log.Error().Err(err).Msg("claim due executions failed")
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for i := range due {
		exec := due[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.engine.Resume(ctx, exec.ID); err != nil {
				s.log.Error().Err(err).Str("execution_id", exec.ID).Msg("resume failed")
			}
		}()
	}
	wg.Wait()
	return len(due)
}
