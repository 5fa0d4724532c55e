// Package scheduler runs one independent refresh job per location.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-exporter/internal/lifecycle"
	"github.com/kjstillabower/weather-exporter/internal/location"
)

// DefaultInterval is the eligibility check cadence when none is configured.
const DefaultInterval = 5 * time.Minute

// ErrStopTimeout is returned by Stop when refreshes did not finish in time.
var ErrStopTimeout = errors.New("timed out waiting for in-flight refreshes")

// Runner refreshes one location. *location.Worker implements it.
type Runner interface {
	Name() string
	RunOnce(ctx context.Context) location.Outcome
}

// Scheduler ticks every Runner on its own gocron job. Jobs run in singleton
// mode, so a slow refresh delays only its own location's next tick.
type Scheduler struct {
	cron     *gocron.Scheduler
	runners  []Runner
	interval time.Duration
	logger   *zap.Logger

	inFlight lifecycle.InFlightTracker

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// New creates a scheduler. interval <= 0 uses DefaultInterval.
func New(runners []Runner, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		runners:  runners,
		interval: interval,
		logger:   logger,
	}
}

// Start registers one job per runner and starts them. Every job runs once
// immediately, so all locations are refreshed at startup. Refreshes run
// under a context derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	if len(s.runners) == 0 {
		s.logger.Warn("scheduler: no locations configured; nothing to schedule")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	for _, r := range s.runners {
		r := r
		_, err := s.cron.Every(s.interval).Tag(r.Name()).SingletonMode().Do(func() {
			s.run(runCtx, r)
		})
		if err != nil {
			cancel()
			s.cron.Clear()
			return fmt.Errorf("schedule %q: %w", r.Name(), err)
		}
	}

	s.cancel = cancel
	s.started = true
	s.cron.StartAsync()
	s.logger.Info("scheduler started",
		zap.Int("locations", len(s.runners)),
		zap.Duration("interval", s.interval),
	)
	return nil
}

func (s *Scheduler) run(ctx context.Context, r Runner) {
	if ctx.Err() != nil {
		return
	}
	s.inFlight.Begin()
	defer s.inFlight.End()

	start := time.Now()
	outcome := r.RunOnce(ctx)
	s.logger.Debug("refresh tick",
		zap.String("location", r.Name()),
		zap.Stringer("outcome", outcome),
		zap.Duration("duration", time.Since(start)),
	)
}

// InFlight returns the number of refreshes currently running.
func (s *Scheduler) InFlight() int64 {
	return s.inFlight.Count()
}

// Stop cancels running refreshes, stops future ticks and waits up to timeout
// for in-flight refreshes to return.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	ctx, done := context.WithTimeout(context.Background(), timeout)
	defer done()

	stopped := make(chan struct{})
	go func() {
		s.cron.Stop()
		close(stopped)
	}()

	if err := s.inFlight.WaitForZero(ctx, 10*time.Millisecond); err != nil {
		s.logger.Warn("scheduler: abandoning in-flight refreshes", zap.Int64("inFlight", s.InFlight()))
		return ErrStopTimeout
	}
	select {
	case <-stopped:
	case <-ctx.Done():
		return ErrStopTimeout
	}
	s.logger.Info("scheduler stopped")
	return nil
}
