package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Ad1tya-007/prodlines/internal/config"
	"github.com/Ad1tya-007/prodlines/internal/store"
)

// newStoreBackend selects the persistence backend. A redis backend that
// cannot be reached at startup falls back to the in-memory store so the
// process still serves on-demand syncs. The redis client is also
// returned so the scheduler can share it for leader election; it is nil
// on the memory backend.
func newStoreBackend(cfg *config.Config, logger *zap.Logger) (store.Store, redis.UniversalClient) {
	if strings.EqualFold(strings.TrimSpace(cfg.Store.Backend), "redis") {
		redisStore, redisClient, err := newRedisStoreFromConfig(cfg)
		if err != nil {
			logger.Warn("failed to initialize redis store; falling back to in-memory store", zap.Error(err))
		} else {
			return redisStore, redisClient
		}
	}
	return store.NewMemoryStore(cfg.Notify.NotificationsCap), nil
}

func newRedisStoreFromConfig(cfg *config.Config) (*store.RedisStore, redis.UniversalClient, error) {
	var redisClient redis.UniversalClient
	if strings.EqualFold(cfg.Store.RedisMode, "sentinel") {
		redisClient = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.Store.RedisMasterSet,
			SentinelAddrs: cfg.Store.RedisSentinelAddrs,
			Password:      cfg.Store.RedisPassword,
			DB:            cfg.Store.RedisDB,
		})
	} else {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	return store.NewRedisStore(redisClient, store.RedisStoreConfig{
		Namespace:        cfg.Store.Namespace,
		NotificationsCap: cfg.Notify.NotificationsCap,
	}), redisClient, nil
}
