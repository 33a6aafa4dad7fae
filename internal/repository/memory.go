package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"parkledger/internal/domain"
	"parkledger/internal/models"
)

// MemoryLotLocker serializes allocation per lot inside one process.
type MemoryLotLocker struct {
	mu   sync.Mutex
	lots map[int64]chan struct{}
	wait time.Duration
}

// NewMemoryLotLocker bounds each Lock by wait; a non-positive wait falls
// back to models.DefaultLockWait.
func NewMemoryLotLocker(wait time.Duration) *MemoryLotLocker {
	if wait <= 0 {
		wait = models.DefaultLockWait * time.Millisecond
	}
	return &MemoryLotLocker{
		lots: make(map[int64]chan struct{}),
		wait: wait,
	}
}

func (l *MemoryLotLocker) slot(lotID int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.lots[lotID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.lots[lotID] = ch
	}
	return ch
}

func (l *MemoryLotLocker) Lock(ctx context.Context, lotID int64) (func(), error) {
	ch := l.slot(lotID)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-timer.C:
		return nil, fmt.Errorf("lot %d: %w", lotID, domain.ErrLotBusy)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
