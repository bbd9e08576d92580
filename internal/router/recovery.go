package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RecoveryScheduler periodically re-initializes UNREACHABLE providers,
// for example after an operator rotates a vendor key.
type RecoveryScheduler struct {
	manager  *Manager
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewRecoveryScheduler validates schedule, a standard cron expression or a
// descriptor such as "@every 5m".
func NewRecoveryScheduler(m *Manager, schedule string, timeout time.Duration, logger *slog.Logger) (*RecoveryScheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid recovery schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryScheduler{
		manager:  m,
		schedule: schedule,
		timeout:  timeout,
		cron:     cron.New(),
		logger:   logger.With("component", "router.recovery"),
	}, nil
}

// Start runs recovery on schedule until ctx is done or Stop is called.
func (s *RecoveryScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("schedule recovery: %w", err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("recovery scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *RecoveryScheduler) run(ctx context.Context) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if n := s.manager.RecoverUnreachable(ctx); n > 0 {
		s.logger.Info("recovered unreachable providers", "count", n)
	}
}

// Stop waits for a running recovery pass to finish.
func (s *RecoveryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("recovery scheduler stopped")
}

// NextRun reports when the next pass is due; zero when not running.
func (s *RecoveryScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
