package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/nodemon/internal/telemetry"
)

// Ticker runs one reconciliation pass. Implemented by Reconciler.
type Ticker interface {
	Tick(ctx context.Context) (TickReport, error)
}

// Scheduler serializes reconciliation ticks so that two passes never read
// the same stale last-notified status concurrently.
//
// Thread-safety: all methods are safe for concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	ticker Ticker
	logger *slog.Logger
}

// NewScheduler wraps t. A nil logger means slog.Default().
func NewScheduler(t Ticker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{ticker: t, logger: logger}
}

// Tick waits for any running tick to finish and then runs one.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticker.Tick(ctx)
}

// TryTick runs one tick unless another is in flight, in which case it
// returns ErrTickInProgress immediately.
func (s *Scheduler) TryTick(ctx context.Context) (TickReport, error) {
	if !s.mu.TryLock() {
		telemetry.TicksTotal.WithLabelValues("skipped").Inc()
		return TickReport{}, ErrTickInProgress
	}
	defer s.mu.Unlock()
	return s.ticker.Tick(ctx)
}

// Run ticks once immediately and then every interval until ctx is cancelled.
// Ticks that would overlap a running one (e.g. triggered via /cron) are
// skipped. Run returns after the in-flight tick has finished.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	s.logger.Info("scheduler starting", "interval", interval)

	s.runOnce(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	_, err := s.TryTick(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrTickInProgress):
		s.logger.Debug("tick skipped, previous tick still running")
	default:
		// Already logged by the reconciler; the next tick retries.
	}
}
