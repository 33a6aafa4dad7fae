package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Expirer completes bookings whose exit time has passed.
type Expirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// Sweeper completes overdue bookings. Failed sweeps are retried with the
// configured backoff; overlapping runs are skipped.
type Sweeper struct {
	ledger  Expirer
	retry   RetryPolicy
	logger  *zerolog.Logger
	now     func() time.Time
	running atomic.Bool
}

func NewSweeper(ledger Expirer, retry RetryPolicy, logger *zerolog.Logger) *Sweeper {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Sweeper{ledger: ledger, retry: retry, logger: logger, now: time.Now}
}

// Sweep runs one pass and returns the number of bookings completed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("sweep already running, skipping")
		return 0, nil
	}
	defer s.running.Store(false)

	var lastErr error
	for attempt := 1; ; attempt++ {
		n, err := s.ledger.ExpireDue(ctx, s.now())
		if err == nil {
			if n > 0 {
				s.logger.Info().Int("expired", n).Msg("overdue bookings completed")
			}
			return n, nil
		}
		lastErr = err
		if s.retry.Exhausted(attempt) {
			break
		}

		s.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", s.retry.NextDelay(attempt)).Msg("sweep failed")
		if err := s.retry.Sleep(ctx, attempt); err != nil {
			return 0, err
		}
	}

	s.logger.Error().Err(lastErr).Msg("sweep gave up")
	return 0, lastErr
}

// Run adapts Sweep to a scheduled job.
func (s *Sweeper) Run(ctx context.Context) {
	_, _ = s.Sweep(ctx)
}
