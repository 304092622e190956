package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Scheduler runs the periodic full resync that covers notifications lost
// without the listener noticing.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

func NewScheduler(ctx context.Context, syncer *Syncer, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := syncer.Refresh(ctx); err != nil {
				logger.Warn("periodic resync failed", zap.Error(err))
			}
		}),
		gocron.WithName("project-resync"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("register resync job: %w", err)
	}
	return &Scheduler{scheduler: s, logger: logger}, nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("resync scheduler started")
}

func (s *Scheduler) Stop() {
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error("failed to shutdown scheduler", zap.Error(err))
	}
}
