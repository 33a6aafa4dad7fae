package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"parkledger/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverLotLocker prefers the shared primary and drops to the local fallback
// while the primary is unreachable. Busy lots are not failures.
type FailoverLotLocker struct {
	primary  domain.Locker
	fallback domain.Locker
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
	recheck   time.Duration
}

func NewFailoverLotLocker(primary, fallback domain.Locker, logger *zerolog.Logger) *FailoverLotLocker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverLotLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		recheck:  time.Minute,
	}
}

func (f *FailoverLotLocker) shouldTryPrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Since(f.lastCheck) > f.recheck
}

func (f *FailoverLotLocker) markDown() {
	f.mu.Lock()
	f.lastCheck = time.Now()
	f.mu.Unlock()
	f.isDown.Store(true)
}

func (f *FailoverLotLocker) Lock(ctx context.Context, lotID int64) (func(), error) {
	if f.shouldTryPrimary() {
		unlock, err := f.primary.Lock(ctx, lotID)
		switch {
		case err == nil:
			if f.isDown.Swap(false) {
				f.logger.Info().Msg("Primary lot locker recovered")
			}
			return unlock, nil
		case errors.Is(err, domain.ErrLotBusy), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			f.logger.Error().Err(err).Int64("lot_id", lotID).Msg("Primary lot locker failed, falling back to memory")
			f.markDown()
		}
	}

	return f.fallback.Lock(ctx, lotID)
}
