// Package store defines the persisted data model of the sync engine and the
// store interfaces its collaborators expose. Two implementations exist: an
// in-memory store for tests and development, and a Redis-backed store for
// production.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FrequencyBucket classifies how often a user wants automatic syncs.
type FrequencyBucket string

const (
	// BucketRealtime syncs on inbound push webhooks.
	BucketRealtime FrequencyBucket = "realtime"
	// BucketHourly syncs on the hourly batch.
	BucketHourly FrequencyBucket = "hourly"
	// BucketDaily syncs on the daily batch.
	BucketDaily FrequencyBucket = "daily"
	// BucketWeekly syncs on the weekly batch.
	BucketWeekly FrequencyBucket = "weekly"
)

// ParseBucket parses a frequency bucket name.
func ParseBucket(raw string) (FrequencyBucket, error) {
	switch FrequencyBucket(strings.ToLower(strings.TrimSpace(raw))) {
	case BucketRealtime:
		return BucketRealtime, nil
	case BucketHourly:
		return BucketHourly, nil
	case BucketDaily:
		return BucketDaily, nil
	case BucketWeekly:
		return BucketWeekly, nil
	default:
		return "", fmt.Errorf("unknown frequency bucket %q", raw)
	}
}

// BatchBuckets are the buckets served by the scheduled batch trigger.
// Realtime is excluded; it is served by the webhook trigger.
func BatchBuckets() []FrequencyBucket {
	return []FrequencyBucket{BucketHourly, BucketDaily, BucketWeekly}
}

// SavedRepository is one repository a user tracks. CRUD is owned by a
// collaborator; the sync engine only reads these records.
type SavedRepository struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	DefaultBranch string `json:"default_branch"`
	IsActive      bool   `json:"is_active"`
}

// FullName returns the owner/name form used by webhook payload lookups.
func (r SavedRepository) FullName() string {
	return r.Owner + "/" + r.Name
}

// UserSyncPreferences holds a user's sync and notification settings.
// Owned by the settings collaborator; read-only to the sync engine.
type UserSyncPreferences struct {
	UserID              string          `json:"user_id"`
	AutoSyncEnabled     bool            `json:"auto_sync_enabled"`
	FrequencyBucket     FrequencyBucket `json:"frequency_bucket"`
	WebhookSharedSecret string          `json:"webhook_shared_secret,omitempty"`
	EmailEnabled        bool            `json:"email_enabled"`
	EmailAddress        string          `json:"email_address,omitempty"`
	SlackEnabled        bool            `json:"slack_enabled"`
	SlackWebhookURL     string          `json:"slack_webhook_url,omitempty"`
	DiscordEnabled      bool            `json:"discord_enabled"`
	DiscordWebhookURL   string          `json:"discord_webhook_url,omitempty"`
}

// Trend classifies a contributor's ownership movement between syncs.
type Trend string

const (
	// TrendUp indicates the contributor's share grew.
	TrendUp Trend = "up"
	// TrendDown indicates the contributor's share shrank.
	TrendDown Trend = "down"
	// TrendNeutral indicates no meaningful movement.
	TrendNeutral Trend = "neutral"
)

// ContributorStat is one contributor's ownership entry inside a snapshot.
type ContributorStat struct {
	Username             string   `json:"username"`
	AvatarURL            string   `json:"avatar_url,omitempty"`
	ProductionLinesOwned int      `json:"production_lines_owned"`
	PercentShare         float64  `json:"percent_share"`
	Trend                Trend    `json:"trend"`
	TrendMagnitude       float64  `json:"trend_magnitude"`
	TopFiles             []string `json:"top_files,omitempty"`
	RecentMergedChanges  []string `json:"recent_merged_changes,omitempty"`
}

// StatsSnapshot is the point-in-time ownership snapshot for one
// (user, owner, repo, branch) tuple. It is replaced, never appended,
// on every successful sync.
type StatsSnapshot struct {
	TotalProductionLines   int               `json:"total_production_lines"`
	ActiveContributorCount int               `json:"active_contributor_count"`
	ExcludedLines          int               `json:"excluded_lines"`
	SyncedAt               time.Time         `json:"synced_at"`
	Contributors           []ContributorStat `json:"contributors"`
}

// SnapshotKey identifies the single snapshot row for a tuple.
type SnapshotKey struct {
	UserID string
	Owner  string
	Repo   string
	Branch string
}

// String renders the key in its canonical colon-joined form.
func (k SnapshotKey) String() string {
	return k.UserID + ":" + k.Owner + ":" + k.Repo + ":" + k.Branch
}

// NotificationRecord is one append-only in-app notification.
type NotificationRecord struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Seen      bool              `json:"seen"`
	CreatedAt time.Time         `json:"created_at"`
}

// KindStatsSynced is the notification kind appended once per successful sync.
const KindStatsSynced = "stats-synced"

// RepositoryStore reads and writes saved repositories.
type RepositoryStore interface {
	SaveRepository(ctx context.Context, repo SavedRepository) error
	ListActiveByUser(ctx context.Context, userID string) ([]SavedRepository, error)
	ListActiveByFullName(ctx context.Context, fullName string) ([]SavedRepository, error)
}

// PreferencesStore reads and writes user sync preferences.
type PreferencesStore interface {
	SavePreferences(ctx context.Context, prefs UserSyncPreferences) error
	// GetPreferences returns stored preferences, or zero-valued defaults
	// when the user has none.
	GetPreferences(ctx context.Context, userID string) (UserSyncPreferences, error)
	// ListUserIDsByBucket returns users with auto-sync enabled whose
	// frequency bucket matches.
	ListUserIDsByBucket(ctx context.Context, bucket FrequencyBucket) ([]string, error)
}

// SnapshotStore upserts and reads stats snapshots.
type SnapshotStore interface {
	// UpsertSnapshot atomically replaces the snapshot for a tuple.
	UpsertSnapshot(ctx context.Context, key SnapshotKey, snapshot *StatsSnapshot) error
	// GetSnapshot returns the stored snapshot, or nil when none exists.
	GetSnapshot(ctx context.Context, key SnapshotKey) (*StatsSnapshot, error)
}

// NotificationStore appends and reads in-app notifications.
type NotificationStore interface {
	AppendNotification(ctx context.Context, record NotificationRecord) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]NotificationRecord, error)
	// MarkSeen flips the seen flag on one notification. Called by the UI
	// collaborator, never by the sync engine itself.
	MarkSeen(ctx context.Context, userID, notificationID string) error
}

// Store bundles the four store facets behind one backend.
type Store interface {
	RepositoryStore
	PreferencesStore
	SnapshotStore
	NotificationStore
	Ping(ctx context.Context) error
	Close() error
}
