package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisCommander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	LSet(ctx context.Context, key string, index int64, value any) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisStoreConfig configures the Redis-backed store.
type RedisStoreConfig struct {
	Namespace        string
	NotificationsCap int
}

// RedisStore persists the sync engine's data model in Redis. Records are
// JSON values under namespaced keys; index sets support the trigger queries.
// Snapshot upsert is a single SET, so a tuple's row is replaced atomically
// and concurrent syncs resolve as last-write-wins.
type RedisStore struct {
	client           redisCommander
	closeFn          func() error
	namespace        string
	notificationsCap int
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	closeFn := func() error { return nil }
	if client != nil {
		closeFn = client.Close
	}
	return newRedisStoreFromCommander(client, closeFn, cfg)
}

func newRedisStoreFromCommander(client redisCommander, closeFn func() error, cfg RedisStoreConfig) *RedisStore {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "prodlines"
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}

	return &RedisStore{
		client:           client,
		closeFn:          closeFn,
		namespace:        namespace,
		notificationsCap: cfg.NotificationsCap,
	}
}

// Ping verifies connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// SaveRepository inserts or replaces a saved repository and maintains the
// user and full-name index sets.
func (s *RedisStore) SaveRepository(ctx context.Context, repo SavedRepository) error {
	if repo.ID == "" {
		return fmt.Errorf("repository id is required")
	}

	payload, err := json.Marshal(repo)
	if err != nil {
		return fmt.Errorf("marshal repository: %w", err)
	}

	if err := s.client.Set(ctx, s.key("repo", repo.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("set repository: %w", err)
	}
	if err := s.client.SAdd(ctx, s.key("user_repos", repo.UserID), repo.ID).Err(); err != nil {
		return fmt.Errorf("index repository by user: %w", err)
	}
	if err := s.client.SAdd(ctx, s.key("repos_by_name", repo.FullName()), repo.ID).Err(); err != nil {
		return fmt.Errorf("index repository by name: %w", err)
	}
	return nil
}

// ListActiveByUser returns the user's active repositories sorted by full name.
func (s *RedisStore) ListActiveByUser(ctx context.Context, userID string) ([]SavedRepository, error) {
	return s.loadActiveRepos(ctx, s.key("user_repos", userID), func(repo SavedRepository) bool {
		return repo.UserID == userID
	})
}

// ListActiveByFullName returns all active saved copies of owner/name across users.
func (s *RedisStore) ListActiveByFullName(ctx context.Context, fullName string) ([]SavedRepository, error) {
	return s.loadActiveRepos(ctx, s.key("repos_by_name", fullName), func(repo SavedRepository) bool {
		return repo.FullName() == fullName
	})
}

func (s *RedisStore) loadActiveRepos(ctx context.Context, indexKey string, match func(SavedRepository) bool) ([]SavedRepository, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read repository index: %w", err)
	}

	var result []SavedRepository
	for _, id := range ids {
		raw, getErr := s.client.Get(ctx, s.key("repo", id)).Result()
		if errors.Is(getErr, redis.Nil) {
			continue
		}
		if getErr != nil {
			return nil, fmt.Errorf("read repository %q: %w", id, getErr)
		}

		var repo SavedRepository
		if unmarshalErr := json.Unmarshal([]byte(raw), &repo); unmarshalErr != nil {
			return nil, fmt.Errorf("unmarshal repository %q: %w", id, unmarshalErr)
		}
		if repo.IsActive && match(repo) {
			result = append(result, repo)
		}
	}
	sortRepos(result)
	return result, nil
}

// SavePreferences inserts or replaces preferences and maintains the bucket index.
func (s *RedisStore) SavePreferences(ctx context.Context, prefs UserSyncPreferences) error {
	if prefs.UserID == "" {
		return fmt.Errorf("user id is required")
	}

	payload, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	if err := s.client.Set(ctx, s.key("prefs", prefs.UserID), payload, 0).Err(); err != nil {
		return fmt.Errorf("set preferences: %w", err)
	}

	for _, bucket := range []FrequencyBucket{BucketRealtime, BucketHourly, BucketDaily, BucketWeekly} {
		indexKey := s.key("prefs_bucket", string(bucket))
		if prefs.AutoSyncEnabled && prefs.FrequencyBucket == bucket {
			if err := s.client.SAdd(ctx, indexKey, prefs.UserID).Err(); err != nil {
				return fmt.Errorf("index preferences bucket: %w", err)
			}
			continue
		}
		if err := s.client.SRem(ctx, indexKey, prefs.UserID).Err(); err != nil {
			return fmt.Errorf("deindex preferences bucket: %w", err)
		}
	}
	return nil
}

// GetPreferences returns stored preferences or zero-valued defaults.
func (s *RedisStore) GetPreferences(ctx context.Context, userID string) (UserSyncPreferences, error) {
	raw, err := s.client.Get(ctx, s.key("prefs", userID)).Result()
	if errors.Is(err, redis.Nil) {
		return UserSyncPreferences{UserID: userID}, nil
	}
	if err != nil {
		return UserSyncPreferences{}, fmt.Errorf("read preferences: %w", err)
	}

	var prefs UserSyncPreferences
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return UserSyncPreferences{}, fmt.Errorf("unmarshal preferences: %w", err)
	}
	return prefs, nil
}

// ListUserIDsByBucket returns auto-sync users in a bucket. Stored
// preferences are re-checked because the index set can lag a write that
// crashed between SET and SADD.
func (s *RedisStore) ListUserIDsByBucket(ctx context.Context, bucket FrequencyBucket) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.key("prefs_bucket", string(bucket))).Result()
	if err != nil {
		return nil, fmt.Errorf("read bucket index: %w", err)
	}

	var result []string
	for _, userID := range members {
		prefs, getErr := s.GetPreferences(ctx, userID)
		if getErr != nil {
			return nil, getErr
		}
		if prefs.AutoSyncEnabled && prefs.FrequencyBucket == bucket {
			result = append(result, userID)
		}
	}
	sort.Strings(result)
	return result, nil
}

// UpsertSnapshot atomically replaces the snapshot for a tuple with one SET.
func (s *RedisStore) UpsertSnapshot(ctx context.Context, key SnapshotKey, snapshot *StatsSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key("snapshot", key.String()), payload, 0).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the stored snapshot, or nil when none exists.
func (s *RedisStore) GetSnapshot(ctx context.Context, key SnapshotKey) (*StatsSnapshot, error) {
	raw, err := s.client.Get(ctx, s.key("snapshot", key.String())).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot StatsSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// AppendNotification prepends a notification to the user's list, trimming
// to the configured cap.
func (s *RedisStore) AppendNotification(ctx context.Context, record NotificationRecord) error {
	if record.UserID == "" {
		return fmt.Errorf("notification user id is required")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	listKey := s.key("notifications", record.UserID)
	if err := s.client.LPush(ctx, listKey, payload).Err(); err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	if s.notificationsCap > 0 {
		if err := s.client.LTrim(ctx, listKey, 0, int64(s.notificationsCap)-1).Err(); err != nil {
			return fmt.Errorf("trim notifications: %w", err)
		}
	}
	return nil
}

// ListNotifications returns the most recent notifications, newest first.
func (s *RedisStore) ListNotifications(ctx context.Context, userID string, limit int) ([]NotificationRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raws, err := s.client.LRange(ctx, s.key("notifications", userID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read notifications: %w", err)
	}

	result := make([]NotificationRecord, 0, len(raws))
	for _, raw := range raws {
		var record NotificationRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("unmarshal notification: %w", err)
		}
		result = append(result, record)
	}
	return result, nil
}

// MarkSeen flips the seen flag on one notification in place.
func (s *RedisStore) MarkSeen(ctx context.Context, userID, notificationID string) error {
	listKey := s.key("notifications", userID)
	raws, err := s.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("read notifications: %w", err)
	}

	for index, raw := range raws {
		var record NotificationRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return fmt.Errorf("unmarshal notification: %w", err)
		}
		if record.ID != notificationID {
			continue
		}
		record.Seen = true
		payload, marshalErr := json.Marshal(record)
		if marshalErr != nil {
			return fmt.Errorf("marshal notification: %w", marshalErr)
		}
		if err := s.client.LSet(ctx, listKey, int64(index), payload).Err(); err != nil {
			return fmt.Errorf("update notification: %w", err)
		}
		return nil
	}
	return fmt.Errorf("notification %q not found for user %q", notificationID, userID)
}

func (s *RedisStore) key(parts ...string) string {
	key := s.namespace
	for _, part := range parts {
		key += ":" + part
	}
	return key
}
