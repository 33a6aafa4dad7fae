package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"parkledger/internal/config"
	"parkledger/internal/domain"
	"parkledger/internal/models"
	"parkledger/internal/worker"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLotLocker is a lease lock shared by every ledger process using the same Redis.
type RedisLotLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  worker.RetryPolicy
	prefix string
}

// NewRedisLotLocker falls back to the model defaults for a non-positive
// ttl or wait, so a lease always expires and a wait always ends.
func NewRedisLotLocker(client *redis.Client, ttl, wait time.Duration) *RedisLotLocker {
	if ttl <= 0 {
		ttl = models.DefaultLockTTL * time.Second
	}
	if wait <= 0 {
		wait = models.DefaultLockWait * time.Millisecond
	}
	return &RedisLotLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry: worker.RetryPolicy{
			InitialDelay:  5 * time.Millisecond,
			MaxDelay:      100 * time.Millisecond,
			BackoffFactor: 2,
		},
		prefix: "parkledger:lot_lock:",
	}
}

func (r *RedisLotLocker) key(lotID int64) string {
	return fmt.Sprintf("%s%d", r.prefix, lotID)
}

func (r *RedisLotLocker) Lock(ctx context.Context, lotID int64) (func(), error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	key := r.key(lotID)
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	for attempt := 1; ; attempt++ {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lot lock: %w", err)
		}
		if ok {
			break
		}

		if time.Now().Add(r.retry.NextDelay(attempt)).After(deadline) {
			return nil, fmt.Errorf("lot %d: %w", lotID, domain.ErrLotBusy)
		}
		if err := r.retry.Sleep(ctx, attempt); err != nil {
			return nil, err
		}
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			// On failure the lease expires on its own.
			_ = releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err()
		})
	}
	return unlock, nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
