package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/routerfleet/internal/config"
	"github.com/leozw/routerfleet/internal/fleet"
)

type FleetRunner interface {
	RunFleet(ctx context.Context, op fleet.Operation) ([]fleet.Outcome, error)
}

// Scheduler periodically probes and syncs every router of every tenant.
// Each operation has its own loop; a run that outlasts its interval delays
// the next one instead of overlapping it.
type Scheduler struct {
	runner FleetRunner
	config config.SchedulerConfig
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewScheduler(runner FleetRunner, cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		config: cfg,
		logger: logger.With(zap.String("component", "scheduler")),
	}
}

// Start blocks until ctx is cancelled and the running loops have returned.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler",
		zap.Duration("probe_interval", s.config.ProbeInterval),
		zap.Duration("sync_interval", s.config.SyncInterval),
	)

	s.schedule(ctx, fleet.OpProbe, s.config.ProbeInterval)
	s.schedule(ctx, fleet.OpSync, s.config.SyncInterval)

	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) schedule(ctx context.Context, op fleet.Operation, every time.Duration) {
	if every <= 0 {
		s.logger.Info("Periodic run disabled", zap.String("operation", string(op)))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.run(ctx, op)

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.run(ctx, op)
			}
		}
	}()
}

func (s *Scheduler) run(ctx context.Context, op fleet.Operation) {
	start := time.Now()
	outcomes, err := s.runner.RunFleet(ctx, op)
	if err != nil {
		s.logger.Error("Fleet run failed", zap.String("operation", string(op)), zap.Error(err))
		return
	}

	failed := 0
	for _, o := range outcomes {
		if !o.Result.Success {
			failed++
		}
	}
	s.logger.Info("Fleet run finished",
		zap.String("operation", string(op)),
		zap.Int("routers", len(outcomes)),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)),
	)
}
