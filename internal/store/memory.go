package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is a mutex-guarded in-memory store backend.
type MemoryStore struct {
	mu               sync.RWMutex
	notificationsCap int
	repos            map[string]SavedRepository
	prefs            map[string]UserSyncPreferences
	snapshots        map[string]*StatsSnapshot
	notifications    map[string][]NotificationRecord
}

// NewMemoryStore creates a memory store. notificationsCap bounds the
// per-user notification list; zero means unbounded.
func NewMemoryStore(notificationsCap int) *MemoryStore {
	return &MemoryStore{
		notificationsCap: notificationsCap,
		repos:            make(map[string]SavedRepository),
		prefs:            make(map[string]UserSyncPreferences),
		snapshots:        make(map[string]*StatsSnapshot),
		notifications:    make(map[string][]NotificationRecord),
	}
}

// SaveRepository inserts or replaces a saved repository by id.
func (s *MemoryStore) SaveRepository(_ context.Context, repo SavedRepository) error {
	if repo.ID == "" {
		return fmt.Errorf("repository id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[repo.ID] = repo
	return nil
}

// ListActiveByUser returns the user's active repositories sorted by full name.
func (s *MemoryStore) ListActiveByUser(_ context.Context, userID string) ([]SavedRepository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []SavedRepository
	for _, repo := range s.repos {
		if repo.UserID == userID && repo.IsActive {
			result = append(result, repo)
		}
	}
	sortRepos(result)
	return result, nil
}

// ListActiveByFullName returns all active saved copies of owner/name across users.
func (s *MemoryStore) ListActiveByFullName(_ context.Context, fullName string) ([]SavedRepository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []SavedRepository
	for _, repo := range s.repos {
		if repo.IsActive && repo.FullName() == fullName {
			result = append(result, repo)
		}
	}
	sortRepos(result)
	return result, nil
}

// SavePreferences inserts or replaces a user's preferences.
func (s *MemoryStore) SavePreferences(_ context.Context, prefs UserSyncPreferences) error {
	if prefs.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[prefs.UserID] = prefs
	return nil
}

// GetPreferences returns stored preferences or zero-valued defaults.
func (s *MemoryStore) GetPreferences(_ context.Context, userID string) (UserSyncPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefs, ok := s.prefs[userID]
	if !ok {
		return UserSyncPreferences{UserID: userID}, nil
	}
	return prefs, nil
}

// ListUserIDsByBucket returns auto-sync users in a bucket, sorted for determinism.
func (s *MemoryStore) ListUserIDsByBucket(_ context.Context, bucket FrequencyBucket) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []string
	for userID, prefs := range s.prefs {
		if prefs.AutoSyncEnabled && prefs.FrequencyBucket == bucket {
			result = append(result, userID)
		}
	}
	sort.Strings(result)
	return result, nil
}

// UpsertSnapshot atomically replaces the snapshot for a tuple.
func (s *MemoryStore) UpsertSnapshot(_ context.Context, key SnapshotKey, snapshot *StatsSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key.String()] = cloneSnapshot(snapshot)
	return nil
}

// GetSnapshot returns the stored snapshot, or nil when none exists.
func (s *MemoryStore) GetSnapshot(_ context.Context, key SnapshotKey) (*StatsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[key.String()]
	if !ok {
		return nil, nil
	}
	return cloneSnapshot(snapshot), nil
}

// AppendNotification prepends a notification, trimming to the configured cap.
func (s *MemoryStore) AppendNotification(_ context.Context, record NotificationRecord) error {
	if record.UserID == "" {
		return fmt.Errorf("notification user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append([]NotificationRecord{record}, s.notifications[record.UserID]...)
	if s.notificationsCap > 0 && len(list) > s.notificationsCap {
		list = list[:s.notificationsCap]
	}
	s.notifications[record.UserID] = list
	return nil
}

// ListNotifications returns the most recent notifications, newest first.
func (s *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.notifications[userID]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	result := make([]NotificationRecord, len(list))
	copy(result, list)
	return result, nil
}

// MarkSeen flips the seen flag on one notification.
func (s *MemoryStore) MarkSeen(_ context.Context, userID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.notifications[userID]
	for i := range list {
		if list[i].ID == notificationID {
			list[i].Seen = true
			return nil
		}
	}
	return fmt.Errorf("notification %q not found for user %q", notificationID, userID)
}

// Ping always succeeds for the in-memory backend.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error {
	return nil
}

func sortRepos(repos []SavedRepository) {
	sort.Slice(repos, func(i, j int) bool {
		if repos[i].FullName() != repos[j].FullName() {
			return repos[i].FullName() < repos[j].FullName()
		}
		return repos[i].ID < repos[j].ID
	})
}

func cloneSnapshot(snapshot *StatsSnapshot) *StatsSnapshot {
	clone := *snapshot
	clone.Contributors = make([]ContributorStat, len(snapshot.Contributors))
	copy(clone.Contributors, snapshot.Contributors)
	return &clone
}
