package rollup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TaskFunc is the unit of work the scheduler triggers. It returns the
// number of days aggregated.
type TaskFunc func(ctx context.Context) (int, error)

// Scheduler triggers the rollup task on a fixed interval, plus once
// at startup. It is started deliberately by the composition root;
// there is no implicit side effect on import.
//
// Triggers are fire-and-forget: the scheduler never waits for a run
// to finish, and a run that outlives the interval causes the next
// trigger to be dropped by the aggregator's run guard. Task errors
// are logged, never retried; the next tick is the de facto retry.
type Scheduler struct {
	task       TaskFunc
	interval   time.Duration
	runOnStart bool
	logger     *slog.Logger

	ticks <-chan time.Time // non-nil overrides the interval ticker (tests)

	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewScheduler creates a Scheduler for the given task.
func NewScheduler(task TaskFunc, interval time.Duration, runOnStart bool, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		task:       task,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     logger.With("component", "rollup.scheduler"),
	}
}

// SetTicks overrides the interval ticker with an external tick
// source, so tests can fire ticks manually instead of waiting on
// wall-clock time.
func (s *Scheduler) SetTicks(ticks <-chan time.Time) {
	s.ticks = ticks
}

// Run starts the trigger loop. Blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.done = make(chan struct{})
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	defer close(s.done)

	ticks := s.ticks
	if ticks == nil {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	s.logger.Info("rollup scheduler started",
		"interval", s.interval.String(),
		"run_on_start", s.runOnStart,
	)

	if s.runOnStart {
		s.trigger(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("rollup scheduler stopping")
			s.wg.Wait()
			return ctx.Err()
		case <-ticks:
			s.trigger(ctx)
		}
	}
}

// trigger launches one task run without waiting for it.
func (s *Scheduler) trigger(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		days, err := s.task(ctx)
		switch {
		case errors.Is(err, ErrRunInProgress):
			s.logger.Debug("trigger dropped, previous run still executing")
		case errors.Is(err, context.Canceled):
		case err != nil:
			s.logger.Error("rollup run failed", "error", err)
		default:
			s.logger.Debug("rollup trigger complete", "days_aggregated", days)
		}
	}()
}

// Shutdown stops the scheduler and waits for any in-flight run.
// It implements server.ShutdownFunc for integration with graceful shutdown.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if done != nil {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
		}
	}
	return nil
}
