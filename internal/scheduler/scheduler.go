// Package scheduler triggers poll cycles on a fixed interval or a cron
// expression.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"wgwatch/internal/runner"
)

// Scheduler periodically computes the ready account set and dispatches it
// to the runner. One batch runs at a time; a trigger that fires while the
// previous batch is still running is skipped. Without that guard an
// overlapping check would re-select accounts whose cycle has not stamped
// last_updated_at yet and run the same account twice.
type Scheduler struct {
	runner   *runner.Runner
	log      *slog.Logger
	tick     time.Duration
	cronExpr string
	busy     atomic.Bool
}

// New creates a Scheduler with the default 1-minute check interval.
func New(r *runner.Runner, log *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: r,
		log:    log,
		tick:   1 * time.Minute,
	}
}

// SetTickInterval overrides the default check interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	if d > 0 {
		s.tick = d
	}
}

// SetCron switches the scheduler to a cron expression instead of a fixed
// interval.
func (s *Scheduler) SetCron(expr string) {
	s.cronExpr = expr
}

// Run starts the trigger loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cronExpr != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.cronExpr, func() { s.checkAll(ctx) }); err != nil {
			return err
		}
		s.log.Info("scheduler started", "cron", s.cronExpr)
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	}

	s.log.Info("scheduler started", "interval", s.tick)
	s.checkAll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

func (s *Scheduler) checkAll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.log.Warn("previous batch still running, skipping check")
		return
	}
	defer s.busy.Store(false)

	s.runner.Stats().MarkCheck(time.Now())

	ready, err := s.runner.ReadyAccounts(ctx)
	if err != nil {
		s.log.Error("list ready accounts", "error", err)
		return
	}
	if len(ready) == 0 {
		s.log.Debug("no accounts ready")
		return
	}

	s.log.Info("dispatching batch", "accounts", len(ready))
	s.runner.RunBatch(ctx, ready)
}
