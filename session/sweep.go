package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MrEthical07/goIdentity/store"
)

// DefaultSweepSchedule runs the expiry sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

// Sweeper runs Manager.Sweep on a cron schedule.
type Sweeper struct {
	manager *Manager
	cron    *cron.Cron
	batch   int
	timeout time.Duration
	logger  *slog.Logger
	onSwept func([]*store.Session)
}

// NewSweeper schedules the sweep. schedule accepts standard cron expressions and
// descriptors such as "@every 5m". onSwept, if set, receives each batch of
// terminated sessions.
func NewSweeper(m *Manager, schedule string, batch int, logger *slog.Logger, onSwept func([]*store.Session)) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Sweeper{
		manager: m,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		batch:   batch,
		timeout: time.Minute,
		logger:  logger,
		onSwept: onSwept,
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the schedule in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	swept, err := s.manager.Sweep(ctx, s.batch)
	if err != nil {
		s.logger.Error("goIdentity: session sweep failed", "error", err, "terminated", len(swept))
	} else if len(swept) > 0 {
		s.logger.Info("goIdentity: session sweep", "terminated", len(swept))
	}
	if s.onSwept != nil && len(swept) > 0 {
		s.onSwept(swept)
	}
}
