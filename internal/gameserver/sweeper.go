package gameserver

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/pkg/clock"
)

// Sweeper periodically evicts sessions idle for longer than the idle
// timeout. Evicted sessions are rebuilt from storage on next access.
type Sweeper struct {
	registry  *session.Registry
	idle      time.Duration
	clock     clock.Clock
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

// NewSweeper creates a Sweeper running every interval.
//
// Precondition: idle > 0 and interval > 0.
func NewSweeper(registry *session.Registry, idle, interval time.Duration, clk clock.Clock, logger *zap.Logger) (*Sweeper, error) {
	if idle <= 0 || interval <= 0 {
		return nil, fmt.Errorf("sweeper needs positive idle timeout and interval, got %s and %s", idle, interval)
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	s := &Sweeper{
		registry:  registry,
		idle:      idle,
		clock:     clk,
		scheduler: scheduler,
		logger:    logger,
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.Sweep() }),
		gocron.WithName("session-sweeper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("scheduling sweeper: %w", err)
	}
	return s, nil
}

// Sweep runs one eviction pass.
//
// Postcondition: Returns the ids of the evicted battles.
func (s *Sweeper) Sweep() []int64 {
	evicted := s.registry.Sweep(s.clock.Now().Add(-s.idle))
	if len(evicted) > 0 {
		s.logger.Info("evicted idle sessions",
			zap.Int64s("battle_ids", evicted),
			zap.Int("remaining", s.registry.Len()),
		)
	}
	return evicted
}

// Start runs the schedule until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.scheduler.Start()
	<-ctx.Done()
	return nil
}

// Stop shuts the scheduler down.
func (s *Sweeper) Stop(context.Context) {
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Warn("sweeper shutdown", zap.Error(err))
	}
}
