package orchestrator

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/mireles/canonry/internal/domain/scoring"
	"github.com/mireles/canonry/pkg/logger"
)

// ActiveResolver looks up the configuration a scheduled sweep should use.
type ActiveResolver interface {
	ActiveConfig(ctx context.Context, family string) (scoring.Config, error)
}

// Scheduler fires periodic sweeps for one family. The active configuration
// is resolved at fire time, not at schedule time, so an activation takes
// effect on the next tick without a restart.
type Scheduler struct {
	cron     *cron.Cron
	orch     *Orchestrator
	resolver ActiveResolver
	family   string
	spec     string

	logger logger.Logger
}

// NewScheduler arms a cron entry that orchestrates the family on the given
// 5-field schedule, e.g. "0 4 * * *" for daily at 4am.
func NewScheduler(orch *Orchestrator, resolver ActiveResolver, family, spec string) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(),
		orch:     orch,
		resolver: resolver,
		family:   family,
		spec:     spec,
		logger:   logger.Get().Named("scheduler"),
	}
	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.logger.Info(context.Background(), "refresh schedule armed",
		logger.String("family", s.family),
		logger.String("schedule", s.spec),
	)
	s.cron.Start()
}

// Stop halts the schedule and waits for an in-flight fire to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fire resolves the active configuration and schedules one sweep. Without an
// active configuration the tick is skipped, not failed.
func (s *Scheduler) fire() {
	ctx := context.Background()

	cfg, err := s.resolver.ActiveConfig(ctx, s.family)
	if err != nil {
		s.logger.Warn(ctx, "scheduled sweep skipped",
			logger.String("family", s.family),
			logger.Error(err),
		)
		return
	}

	run, err := s.orch.Orchestrate(ctx, s.family, cfg.ID)
	if err != nil {
		s.logger.Error(ctx, "scheduled sweep failed",
			logger.String("family", s.family),
			logger.Error(err),
		)
		return
	}

	s.logger.Info(ctx, "scheduled sweep started",
		logger.String("run", run.ID),
		logger.String("family", s.family),
		logger.Int64("config", cfg.ID),
		logger.Int("units", run.UnitsQueued),
	)
}
