package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"parkledger/internal/config"
	"parkledger/internal/domain"
	"parkledger/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	t.Cleanup(func() { Close(client) })
	return s, client
}

func assertMutualExclusion(t *testing.T, locker domain.Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), 1)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestMemoryLotLocker(t *testing.T) {
	t.Run("MutualExclusion", func(t *testing.T) {
		assertMutualExclusion(t, NewMemoryLotLocker(5*time.Second))
	})

	t.Run("BusyAfterWait", func(t *testing.T) {
		locker := NewMemoryLotLocker(20 * time.Millisecond)
		unlock, err := locker.Lock(context.Background(), 7)
		require.NoError(t, err)
		defer unlock()

		_, err = locker.Lock(context.Background(), 7)
		assert.ErrorIs(t, err, domain.ErrLotBusy)

		other, err := locker.Lock(context.Background(), 8)
		require.NoError(t, err)
		other()
	})

	t.Run("UnlockIdempotent", func(t *testing.T) {
		locker := NewMemoryLotLocker(20 * time.Millisecond)
		unlock, err := locker.Lock(context.Background(), 1)
		require.NoError(t, err)
		unlock()
		unlock()

		again, err := locker.Lock(context.Background(), 1)
		require.NoError(t, err)
		again()
	})

	t.Run("NonPositiveWaitIsBounded", func(t *testing.T) {
		locker := NewMemoryLotLocker(-time.Second)
		assert.Equal(t, models.DefaultLockWait*time.Millisecond, locker.wait)

		unlock, err := locker.Lock(context.Background(), 3)
		require.NoError(t, err)
		defer unlock()

		start := time.Now()
		_, err = locker.Lock(context.Background(), 3)
		assert.ErrorIs(t, err, domain.ErrLotBusy)
		assert.Less(t, time.Since(start), 10*time.Second)
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		locker := NewMemoryLotLocker(0)
		unlock, err := locker.Lock(context.Background(), 1)
		require.NoError(t, err)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = locker.Lock(ctx, 1)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestRedisLotLocker(t *testing.T) {
	s, client := newMiniRedis(t)
	ctx := context.Background()

	t.Run("MutualExclusion", func(t *testing.T) {
		assertMutualExclusion(t, NewRedisLotLocker(client, 5*time.Second, 5*time.Second))
	})

	t.Run("BusyAndRelease", func(t *testing.T) {
		locker := NewRedisLotLocker(client, 5*time.Second, 30*time.Millisecond)
		unlock, err := locker.Lock(ctx, 3)
		require.NoError(t, err)
		assert.True(t, s.Exists("parkledger:lot_lock:3"))

		_, err = locker.Lock(ctx, 3)
		assert.ErrorIs(t, err, domain.ErrLotBusy)

		unlock()
		assert.False(t, s.Exists("parkledger:lot_lock:3"))
	})

	t.Run("StaleUnlockKeepsNewOwner", func(t *testing.T) {
		locker := NewRedisLotLocker(client, time.Second, 30*time.Millisecond)
		unlock, err := locker.Lock(ctx, 4)
		require.NoError(t, err)

		s.FastForward(2 * time.Second)
		second, err := locker.Lock(ctx, 4)
		require.NoError(t, err)

		unlock()
		assert.True(t, s.Exists("parkledger:lot_lock:4"))
		second()
		assert.False(t, s.Exists("parkledger:lot_lock:4"))
	})

	t.Run("NonPositiveLeaseStillExpires", func(t *testing.T) {
		locker := NewRedisLotLocker(client, 0, -time.Millisecond)
		assert.Equal(t, models.DefaultLockTTL*time.Second, locker.ttl)
		assert.Equal(t, models.DefaultLockWait*time.Millisecond, locker.wait)

		unlock, err := locker.Lock(ctx, 5)
		require.NoError(t, err)
		defer unlock()
		assert.Equal(t, models.DefaultLockTTL*time.Second, s.TTL("parkledger:lot_lock:5"))
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})
}

type brokenLocker struct{ calls int32 }

func (b *brokenLocker) Lock(context.Context, int64) (func(), error) {
	atomic.AddInt32(&b.calls, 1)
	return nil, errors.New("connection refused")
}

func TestFailoverLotLocker(t *testing.T) {
	t.Run("FallsBackWhenPrimaryDown", func(t *testing.T) {
		primary := &brokenLocker{}
		locker := NewFailoverLotLocker(primary, NewMemoryLotLocker(time.Second), nil)

		unlock, err := locker.Lock(context.Background(), 1)
		require.NoError(t, err)
		unlock()
		assert.True(t, locker.isDown.Load())

		unlock, err = locker.Lock(context.Background(), 1)
		require.NoError(t, err)
		unlock()
		assert.Equal(t, int32(1), atomic.LoadInt32(&primary.calls))
	})

	t.Run("BusyIsNotFailure", func(t *testing.T) {
		_, client := newMiniRedis(t)
		primary := NewRedisLotLocker(client, 5*time.Second, 20*time.Millisecond)
		locker := NewFailoverLotLocker(primary, NewMemoryLotLocker(time.Second), nil)

		unlock, err := locker.Lock(context.Background(), 9)
		require.NoError(t, err)
		defer unlock()

		_, err = locker.Lock(context.Background(), 9)
		assert.ErrorIs(t, err, domain.ErrLotBusy)
		assert.False(t, locker.isDown.Load())
	})

	t.Run("Recovers", func(t *testing.T) {
		_, client := newMiniRedis(t)
		locker := NewFailoverLotLocker(NewRedisLotLocker(client, time.Second, time.Second), NewMemoryLotLocker(time.Second), nil)
		locker.markDown()
		locker.recheck = 0

		unlock, err := locker.Lock(context.Background(), 1)
		require.NoError(t, err)
		unlock()
		assert.False(t, locker.isDown.Load())
	})
}
