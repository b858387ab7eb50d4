package governor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// sweepParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var sweepParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// RunningLister enumerates sessions still subject to governance.
type RunningLister interface {
	RunningSessions(ctx context.Context) ([]string, error)
}

// Sweeper periodically evaluates every running session on a cron schedule.
type Sweeper struct {
	gov      *Governor
	sessions RunningLister
	schedule cronlib.Schedule
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper builds a sweeper from a 5-field cron expression.
func NewSweeper(gov *Governor, sessions RunningLister, schedule string, logger *slog.Logger) (*Sweeper, error) {
	sched, err := sweepParser.Parse(schedule)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{gov: gov, sessions: sessions, schedule: sched, logger: logger}, nil
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("governor sweeper started")
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("governor sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	// Sweep immediately on startup, then on the schedule.
	s.Sweep(ctx)
	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep evaluates every running session once. Per-session failures are
// logged and skipped; one bad session never blocks the rest.
func (s *Sweeper) Sweep(ctx context.Context) {
	ids, err := s.sessions.RunningSessions(ctx)
	if err != nil {
		s.logger.Error("sweep: list running sessions", "error", err)
		return
	}
	for _, id := range ids {
		conf, err := s.gov.Evaluate(ctx, id)
		if err != nil {
			s.logger.Error("sweep: evaluate session", "task_id", id, "error", err)
			continue
		}
		if conf != nil {
			s.logger.Info("sweep: session terminated",
				"task_id", id, "classification", conf.Trigger.Classification)
		}
	}
}
