package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ad1tya-007/prodlines/internal/apperror"
	"github.com/Ad1tya-007/prodlines/internal/githubapi"
	"github.com/Ad1tya-007/prodlines/internal/notify"
	"github.com/Ad1tya-007/prodlines/internal/stats"
	"github.com/Ad1tya-007/prodlines/internal/store"
)

type stubDataClient struct {
	repository    githubapi.Repository
	repositoryErr error
}

func (c *stubDataClient) GetRepository(context.Context, string, string) (githubapi.Repository, error) {
	return c.repository, c.repositoryErr
}

func (c *stubDataClient) GetBranch(context.Context, string, string, string) error { return nil }

func (c *stubDataClient) ListContributors(context.Context, string, string, int) ([]githubapi.Contributor, error) {
	return nil, nil
}

func (c *stubDataClient) ListCommits(context.Context, string, string, string, int) ([]githubapi.Commit, error) {
	return nil, nil
}

func (c *stubDataClient) GetCommitDetail(context.Context, string, string, string) (githubapi.CommitDetail, error) {
	return githubapi.CommitDetail{}, nil
}

func (c *stubDataClient) ListMergedPullRequests(context.Context, string, string, string, int) ([]githubapi.PullRequest, error) {
	return nil, nil
}

type stubAggregator struct {
	snapshot *store.StatsSnapshot
	err      error
	gotPrev  *store.StatsSnapshot
	branch   string
}

func (a *stubAggregator) Aggregate(_ context.Context, _ githubapi.DataClient, _, _, branch string, prev *store.StatsSnapshot) (*store.StatsSnapshot, error) {
	a.gotPrev = prev
	a.branch = branch
	if a.err != nil {
		return nil, a.err
	}
	return a.snapshot, nil
}

type recordingMetrics struct {
	mu         sync.Mutex
	syncs      map[string]int
	dispatches map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{syncs: make(map[string]int), dispatches: make(map[string]int)}
}

func (m *recordingMetrics) SyncCompleted(trigger, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs[trigger+"/"+outcome]++
}

func (m *recordingMetrics) NotificationDispatched(channel, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches[channel+"/"+outcome]++
}

type fakeChannel struct {
	name  string
	valid bool
	err   error
	sends []string
	dests []string
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) ValidateDestination(string) bool { return c.valid }

func (c *fakeChannel) Send(_ context.Context, dest, text string) error {
	if c.err != nil {
		return c.err
	}
	c.sends = append(c.sends, text)
	c.dests = append(c.dests, dest)
	return nil
}

var _ notify.Channel = (*fakeChannel)(nil)

func testSnapshot() *store.StatsSnapshot {
	return &store.StatsSnapshot{
		TotalProductionLines:   400,
		ActiveContributorCount: 2,
		Contributors: []store.ContributorStat{
			{Username: "alice", ProductionLinesOwned: 300, PercentShare: 75.0},
			{Username: "bob", ProductionLinesOwned: 100, PercentShare: 25.0},
		},
	}
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	store        *store.MemoryStore
	aggregator   *stubAggregator
	metrics      *recordingMetrics
	slack        *fakeChannel
}

func newFixture(t *testing.T, mutate func(*Options)) *orchestratorFixture {
	t.Helper()

	memory := store.NewMemoryStore(50)
	aggregator := &stubAggregator{snapshot: testSnapshot()}
	metrics := newRecordingMetrics()
	slack := &fakeChannel{name: "slack", valid: true}

	opts := Options{
		Store:         memory,
		Aggregator:    aggregator,
		ServiceClient: &stubDataClient{repository: githubapi.Repository{DefaultBranch: "main"}},
		Channels:      []notify.Channel{slack},
		Metrics:       metrics,
		Now:           func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) },
		NewID: func() string { return "notif-1" },
	}
	if mutate != nil {
		mutate(&opts)
	}

	orchestrator, err := NewOrchestrator(opts)
	if err != nil {
		t.Fatalf("NewOrchestrator returned error: %v", err)
	}
	return &orchestratorFixture{orchestrator: orchestrator, store: memory, aggregator: aggregator, metrics: metrics, slack: slack}
}

func enableSlack(t *testing.T, s *store.MemoryStore, userID string) {
	t.Helper()
	err := s.SavePreferences(context.Background(), store.UserSyncPreferences{
		UserID:          userID,
		SlackEnabled:    true,
		SlackWebhookURL: "https://hooks.slack.com/services/T0/B0/tok",
	})
	if err != nil {
		t.Fatalf("SavePreferences returned error: %v", err)
	}
}

func TestSyncSuccessPersistsSnapshotAndNotifies(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, nil)
	enableSlack(t, fixture.store, "user-1")

	result := fixture.orchestrator.Sync(context.Background(), Request{
		UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main", Trigger: TriggerOnDemand,
	})
	if !result.OK {
		t.Fatalf("Sync failed: %v", result.Err)
	}

	key := store.SnapshotKey{UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main"}
	stored, err := fixture.store.GetSnapshot(context.Background(), key)
	if err != nil || stored == nil {
		t.Fatalf("GetSnapshot = (%v, %v), want persisted snapshot", stored, err)
	}
	if stored.TotalProductionLines != 400 {
		t.Fatalf("stored total = %d, want 400", stored.TotalProductionLines)
	}

	records, err := fixture.store.ListNotifications(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("ListNotifications returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("notification count = %d, want exactly 1", len(records))
	}
	record := records[0]
	if record.ID != "notif-1" || record.Kind != store.KindStatsSynced {
		t.Fatalf("record = %+v", record)
	}
	if record.Metadata["owner"] != "acme" || record.Metadata["branch"] != "main" {
		t.Fatalf("record metadata = %v", record.Metadata)
	}

	if len(fixture.slack.sends) != 1 {
		t.Fatalf("slack sends = %d, want 1", len(fixture.slack.sends))
	}
	if fixture.metrics.syncs["on_demand/success"] != 1 {
		t.Fatalf("sync metrics = %v", fixture.metrics.syncs)
	}
	if fixture.metrics.dispatches["slack/success"] != 1 || fixture.metrics.dispatches["in_app/success"] != 1 {
		t.Fatalf("dispatch metrics = %v", fixture.metrics.dispatches)
	}
}

type aggregationDataClient struct {
	stubDataClient
}

func (c *aggregationDataClient) ListContributors(context.Context, string, string, int) ([]githubapi.Contributor, error) {
	return []githubapi.Contributor{{Login: "alice"}, {Login: "bob"}}, nil
}

func (c *aggregationDataClient) ListCommits(context.Context, string, string, string, int) ([]githubapi.Commit, error) {
	return []githubapi.Commit{
		{SHA: "a1", AuthorLogin: "alice"},
		{SHA: "b1", AuthorLogin: "bob"},
		{SHA: "c1", AuthorLogin: "ci-bot"},
	}, nil
}

func (c *aggregationDataClient) GetCommitDetail(_ context.Context, _, _, sha string) (githubapi.CommitDetail, error) {
	switch sha {
	case "a1":
		return githubapi.CommitDetail{SHA: sha, Additions: 300}, nil
	case "b1":
		return githubapi.CommitDetail{SHA: sha, Additions: 100}, nil
	default:
		return githubapi.CommitDetail{SHA: sha, Additions: 9999}, nil
	}
}

func TestSyncWithRealAggregatorComputesShares(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, func(opts *Options) {
		opts.Aggregator = stats.NewAggregator(stats.Config{}, nil)
		opts.ServiceClient = &aggregationDataClient{
			stubDataClient: stubDataClient{repository: githubapi.Repository{DefaultBranch: "main"}},
		}
	})

	result := fixture.orchestrator.Sync(context.Background(), Request{
		UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main", Trigger: TriggerOnDemand,
	})
	if !result.OK {
		t.Fatalf("Sync failed: %v", result.Err)
	}

	snapshot := result.Snapshot
	if snapshot.TotalProductionLines != 400 {
		t.Fatalf("total = %d, want 400 with the bot commit excluded", snapshot.TotalProductionLines)
	}
	if len(snapshot.Contributors) != 2 {
		t.Fatalf("contributors = %d, want 2", len(snapshot.Contributors))
	}
	if snapshot.Contributors[0].Username != "alice" || snapshot.Contributors[0].PercentShare != 75.0 {
		t.Fatalf("top contributor = %+v, want alice at 75.0", snapshot.Contributors[0])
	}
	if snapshot.Contributors[1].Username != "bob" || snapshot.Contributors[1].PercentShare != 25.0 {
		t.Fatalf("second contributor = %+v, want bob at 25.0", snapshot.Contributors[1])
	}

	key := store.SnapshotKey{UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main"}
	if stored, _ := fixture.store.GetSnapshot(context.Background(), key); stored == nil {
		t.Fatal("snapshot not persisted")
	}
}

func TestSyncMissingCredentialFastFails(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, func(opts *Options) {
		opts.ServiceClient = nil
		opts.NewTokenClient = nil
	})

	result := fixture.orchestrator.Sync(context.Background(), Request{
		UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main", Trigger: TriggerBatch,
	})
	if result.OK {
		t.Fatal("Sync succeeded without any credential")
	}
	if !errors.Is(result.Err, apperror.ErrMissingCredential) {
		t.Fatalf("error = %v, want missing-credential kind", result.Err)
	}

	key := store.SnapshotKey{UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main"}
	if stored, _ := fixture.store.GetSnapshot(context.Background(), key); stored != nil {
		t.Fatal("snapshot written despite credential failure")
	}
	if fixture.metrics.syncs["batch/missing_credential"] != 1 {
		t.Fatalf("sync metrics = %v", fixture.metrics.syncs)
	}
}

func TestSyncPrefersDelegatedToken(t *testing.T) {
	t.Parallel()

	var gotToken string
	fixture := newFixture(t, func(opts *Options) {
		opts.NewTokenClient = func(token string) (githubapi.DataClient, error) {
			gotToken = token
			return &stubDataClient{}, nil
		}
	})

	result := fixture.orchestrator.Sync(context.Background(), Request{
		UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main",
		Token: "ghp_delegated", Trigger: TriggerOnDemand,
	})
	if !result.OK {
		t.Fatalf("Sync failed: %v", result.Err)
	}
	if gotToken != "ghp_delegated" {
		t.Fatalf("token client built with %q, want the delegated token", gotToken)
	}
}

func TestSyncResolvesDefaultBranch(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, nil)

	result := fixture.orchestrator.Sync(context.Background(), Request{
		UserID: "user-1", Owner: "acme", Repo: "widgets", Trigger: TriggerWebhook,
	})
	if !result.OK {
		t.Fatalf("Sync failed: %v", result.Err)
	}
	if fixture.aggregator.branch != "main" {
		t.Fatalf("aggregated branch = %q, want default branch main", fixture.aggregator.branch)
	}

	key := store.SnapshotKey{UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main"}
	if stored, _ := fixture.store.GetSnapshot(context.Background(), key); stored == nil {
		t.Fatal("snapshot not stored under resolved default branch")
	}
}

func TestSyncAggregateFailurePropagates(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, nil)
	fixture.aggregator.err = apperror.NotFound("repository acme/widgets")

	result := fixture.orchestrator.Sync(context.Background(), Request{
		UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main", Trigger: TriggerOnDemand,
	})
	if result.OK {
		t.Fatal("Sync succeeded despite aggregate failure")
	}
	if !errors.Is(result.Err, apperror.ErrNotFound) {
		t.Fatalf("error = %v, want not-found kind", result.Err)
	}
	if records, _ := fixture.store.ListNotifications(context.Background(), "user-1", 10); len(records) != 0 {
		t.Fatal("notification appended for a failed sync")
	}
}

func TestSyncPassesPreviousSnapshotToAggregator(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, nil)
	key := store.SnapshotKey{UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main"}
	previous := &store.StatsSnapshot{TotalProductionLines: 100}
	if err := fixture.store.UpsertSnapshot(context.Background(), key, previous); err != nil {
		t.Fatalf("UpsertSnapshot returned error: %v", err)
	}

	result := fixture.orchestrator.Sync(context.Background(), Request{
		UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main", Trigger: TriggerOnDemand,
	})
	if !result.OK {
		t.Fatalf("Sync failed: %v", result.Err)
	}
	if fixture.aggregator.gotPrev == nil || fixture.aggregator.gotPrev.TotalProductionLines != 100 {
		t.Fatalf("aggregator prev = %+v, want the stored previous snapshot", fixture.aggregator.gotPrev)
	}
}

func TestSyncChannelFailureDoesNotFailSync(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, nil)
	fixture.slack.err = errors.New("slack is down")
	enableSlack(t, fixture.store, "user-1")

	result := fixture.orchestrator.Sync(context.Background(), Request{
		UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main", Trigger: TriggerOnDemand,
	})
	if !result.OK {
		t.Fatalf("Sync failed: %v; channel errors must stay best-effort", result.Err)
	}
	if fixture.metrics.dispatches["slack/error"] != 1 {
		t.Fatalf("dispatch metrics = %v", fixture.metrics.dispatches)
	}
}

func TestSyncInvalidDestinationSkipped(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, nil)
	fixture.slack.valid = false
	enableSlack(t, fixture.store, "user-1")

	result := fixture.orchestrator.Sync(context.Background(), Request{
		UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main", Trigger: TriggerOnDemand,
	})
	if !result.OK {
		t.Fatalf("Sync failed: %v", result.Err)
	}
	if len(fixture.slack.sends) != 0 {
		t.Fatal("Send called despite failed destination validation")
	}
	if fixture.metrics.dispatches["slack/invalid_destination"] != 1 {
		t.Fatalf("dispatch metrics = %v", fixture.metrics.dispatches)
	}
}

func TestSyncEmailOverrideTakesPrecedence(t *testing.T) {
	t.Parallel()

	email := &fakeChannel{name: "email", valid: true}
	fixture := newFixture(t, func(opts *Options) {
		opts.Channels = []notify.Channel{email}
	})
	err := fixture.store.SavePreferences(context.Background(), store.UserSyncPreferences{
		UserID:       "user-1",
		EmailEnabled: true,
		EmailAddress: "stored@example.com",
	})
	if err != nil {
		t.Fatalf("SavePreferences returned error: %v", err)
	}

	result := fixture.orchestrator.Sync(context.Background(), Request{
		UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main",
		EmailOverride: "verified@example.com", Trigger: TriggerOnDemand,
	})
	if !result.OK {
		t.Fatalf("Sync failed: %v", result.Err)
	}
	if len(email.dests) != 1 || email.dests[0] != "verified@example.com" {
		t.Fatalf("email dests = %v, want the override address", email.dests)
	}

	result = fixture.orchestrator.Sync(context.Background(), Request{
		UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main", Trigger: TriggerOnDemand,
	})
	if !result.OK {
		t.Fatalf("Sync failed: %v", result.Err)
	}
	if len(email.dests) != 2 || email.dests[1] != "stored@example.com" {
		t.Fatalf("email dests = %v, want fallback to the stored address", email.dests)
	}
}

func TestSyncEmailWithoutAddressIsSilentNoOp(t *testing.T) {
	t.Parallel()

	email := &fakeChannel{name: "email", valid: true}
	fixture := newFixture(t, func(opts *Options) {
		opts.Channels = []notify.Channel{email}
	})
	err := fixture.store.SavePreferences(context.Background(), store.UserSyncPreferences{
		UserID:       "user-1",
		EmailEnabled: true,
	})
	if err != nil {
		t.Fatalf("SavePreferences returned error: %v", err)
	}

	result := fixture.orchestrator.Sync(context.Background(), Request{
		UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main", Trigger: TriggerOnDemand,
	})
	if !result.OK {
		t.Fatalf("Sync failed: %v", result.Err)
	}
	if len(email.sends) != 0 {
		t.Fatal("Send called with no resolvable address")
	}
	if fixture.metrics.dispatches["email/error"] != 0 {
		t.Fatalf("dispatch metrics = %v, unresolvable address must not count as an error", fixture.metrics.dispatches)
	}
}

func TestSyncDisabledChannelSkipped(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, nil)
	// No preferences saved: defaults disable every channel.

	result := fixture.orchestrator.Sync(context.Background(), Request{
		UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main", Trigger: TriggerOnDemand,
	})
	if !result.OK {
		t.Fatalf("Sync failed: %v", result.Err)
	}
	if len(fixture.slack.sends) != 0 {
		t.Fatal("Send called for a disabled channel")
	}
}
