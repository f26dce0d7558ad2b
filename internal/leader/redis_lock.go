package leader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// lockClient is the subset of redis commands the elector needs. Tests
// supply a fake.
type lockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisLockConfig configures redis lock-based election.
type RedisLockConfig struct {
	Key      string
	Identity string
	// LeaseDuration is the lock TTL. A crashed leader frees the lock
	// after at most this long.
	LeaseDuration time.Duration
	// RetryPeriod is the acquire/refresh cadence. Must be shorter than
	// LeaseDuration or the leader loses its own lock between refreshes.
	RetryPeriod time.Duration
}

// RedisLockElector elects a leader with a TTL lock key. The holder
// refreshes the TTL every retry period; everyone else polls for the key
// to expire.
type RedisLockElector struct {
	client        lockClient
	key           string
	identity      string
	leaseDuration time.Duration
	retryPeriod   time.Duration
}

// NewRedisLockElector creates a redis lock elector.
func NewRedisLockElector(client redis.UniversalClient, cfg RedisLockConfig) (*RedisLockElector, error) {
	return newRedisLockElectorFromClient(client, cfg)
}

func newRedisLockElectorFromClient(client lockClient, cfg RedisLockConfig) (*RedisLockElector, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, fmt.Errorf("lock key is required")
	}
	if strings.TrimSpace(cfg.Identity) == "" {
		return nil, fmt.Errorf("elector identity is required")
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 15 * time.Second
	}
	if cfg.RetryPeriod <= 0 || cfg.RetryPeriod >= cfg.LeaseDuration {
		cfg.RetryPeriod = cfg.LeaseDuration / 3
	}
	return &RedisLockElector{
		client:        client,
		key:           cfg.Key,
		identity:      cfg.Identity,
		leaseDuration: cfg.LeaseDuration,
		retryPeriod:   cfg.RetryPeriod,
	}, nil
}

// Run acquires and refreshes the lock until context cancellation,
// emitting leadership transitions. Redis unavailability demotes to
// follower rather than failing the elector.
func (e *RedisLockElector) Run(ctx context.Context, emit func(isLeader bool)) error {
	ticker := time.NewTicker(e.retryPeriod)
	defer ticker.Stop()

	emit(e.tryAcquire(ctx))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			emit(e.tryAcquire(ctx))
		}
	}
}

func (e *RedisLockElector) tryAcquire(ctx context.Context) bool {
	acquired, err := e.client.SetNX(ctx, e.key, e.identity, e.leaseDuration).Result()
	if err != nil {
		return false
	}
	if acquired {
		return true
	}

	holder, err := e.client.Get(ctx, e.key).Result()
	if err != nil {
		// The lock may have expired between SetNX and Get; the next
		// tick retries.
		if errors.Is(err, redis.Nil) {
			return false
		}
		return false
	}
	if holder != e.identity {
		return false
	}

	// Still the holder: refresh the TTL.
	refreshed, err := e.client.Expire(ctx, e.key, e.leaseDuration).Result()
	return err == nil && refreshed
}
