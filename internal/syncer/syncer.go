// Package syncer runs one repository-stats sync end to end: credential
// selection, aggregation, snapshot persistence, and notification fan-out.
// All three triggers (on-demand, webhook, batch) funnel into the same
// Sync path.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ad1tya-007/prodlines/internal/apperror"
	"github.com/Ad1tya-007/prodlines/internal/githubapi"
	"github.com/Ad1tya-007/prodlines/internal/notify"
	"github.com/Ad1tya-007/prodlines/internal/store"
)

// Trigger names, used as metric labels and log fields.
const (
	TriggerOnDemand = "on_demand"
	TriggerWebhook  = "webhook"
	TriggerBatch    = "batch"
)

// Request identifies one sync unit of work.
type Request struct {
	UserID string
	Owner  string
	Repo   string
	// Branch may be empty; the repository default branch is used.
	Branch string
	// Token is a delegated hosting-API credential. When empty the
	// configured service credential is used instead.
	Token string
	// EmailOverride, when set, takes precedence over the stored profile
	// address for email delivery. Supplied by the on-demand trigger from
	// the caller's verified address.
	EmailOverride string
	Trigger       string
}

// Result reports a finished sync. Err is classified per the apperror
// taxonomy when OK is false.
type Result struct {
	OK       bool
	Snapshot *store.StatsSnapshot
	// Branch is the branch actually synced, after default-branch
	// resolution.
	Branch string
	Err    error
}

// Metrics receives sync and dispatch outcomes. The app layer backs it
// with prometheus counters.
type Metrics interface {
	SyncCompleted(trigger string, outcome string)
	NotificationDispatched(channel string, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) SyncCompleted(string, string) {}

func (nopMetrics) NotificationDispatched(string, string) {}

// Aggregating computes an ownership snapshot from hosting-API data.
type Aggregating interface {
	Aggregate(ctx context.Context, client githubapi.DataClient, owner, repo, branch string, prev *store.StatsSnapshot) (*store.StatsSnapshot, error)
}

// Options configures an Orchestrator.
type Options struct {
	Store      store.Store
	Aggregator Aggregating
	// NewTokenClient builds a hosting-API client bound to a delegated
	// token.
	NewTokenClient func(token string) (githubapi.DataClient, error)
	// ServiceClient holds the shared service credential. Nil when the
	// deployment configures none.
	ServiceClient githubapi.DataClient
	Channels      []notify.Channel
	Metrics       Metrics
	Logger        *zap.Logger
	// Now and NewID are injected for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

// Orchestrator executes syncs against a single store backend.
type Orchestrator struct {
	store          store.Store
	aggregator     Aggregating
	newTokenClient func(token string) (githubapi.DataClient, error)
	serviceClient  githubapi.DataClient
	channels       []notify.Channel
	metrics        Metrics
	logger         *zap.Logger
	now            func() time.Time
	newID          func() string
}

// NewOrchestrator creates an orchestrator. Store and Aggregator are
// required; everything else has a usable default.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("syncer: store is required")
	}
	if opts.Aggregator == nil {
		return nil, fmt.Errorf("syncer: aggregator is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Orchestrator{
		store:          opts.Store,
		aggregator:     opts.Aggregator,
		newTokenClient: opts.NewTokenClient,
		serviceClient:  opts.ServiceClient,
		channels:       opts.Channels,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		now:            opts.Now,
		newID:          opts.NewID,
	}, nil
}

// HasServiceCredential reports whether webhook and batch triggers can
// run without a delegated token.
func (o *Orchestrator) HasServiceCredential() bool {
	return o.serviceClient != nil
}

// Sync runs one sync. Aggregation and persistence failures fail the
// sync; notification fan-out failures never do.
func (o *Orchestrator) Sync(ctx context.Context, req Request) Result {
	result := o.sync(ctx, req)

	outcome := "success"
	if !result.OK {
		outcome = apperror.Reason(result.Err)
	}
	o.metrics.SyncCompleted(req.Trigger, outcome)

	if result.OK {
		o.logger.Info("sync finished",
			zap.String("trigger", req.Trigger),
			zap.String("user_id", req.UserID),
			zap.String("repo", req.Owner+"/"+req.Repo),
			zap.Int("total_production_lines", result.Snapshot.TotalProductionLines))
	} else {
		o.logger.Warn("sync failed",
			zap.String("trigger", req.Trigger),
			zap.String("user_id", req.UserID),
			zap.String("repo", req.Owner+"/"+req.Repo),
			zap.Error(result.Err))
	}
	return result
}

func (o *Orchestrator) sync(ctx context.Context, req Request) Result {
	client, err := o.clientFor(req.Token)
	if err != nil {
		return Result{Err: err}
	}

	branch := req.Branch
	if branch == "" {
		repository, metaErr := client.GetRepository(ctx, req.Owner, req.Repo)
		if metaErr != nil {
			return Result{Err: fmt.Errorf("resolving default branch for %s/%s: %w", req.Owner, req.Repo, metaErr)}
		}
		branch = repository.DefaultBranch
	}

	key := store.SnapshotKey{UserID: req.UserID, Owner: req.Owner, Repo: req.Repo, Branch: branch}
	prev, prevErr := o.store.GetSnapshot(ctx, key)
	if prevErr != nil {
		// A broken previous-snapshot read only costs trend data.
		o.logger.Warn("previous snapshot read failed, trends reset",
			zap.String("key", key.String()), zap.Error(prevErr))
		prev = nil
	}

	snapshot, err := o.aggregator.Aggregate(ctx, client, req.Owner, req.Repo, branch, prev)
	if err != nil {
		return Result{Err: err}
	}

	if err := o.store.UpsertSnapshot(ctx, key, snapshot); err != nil {
		return Result{Err: apperror.Persistence("storing snapshot "+key.String(), err)}
	}

	o.recordNotification(ctx, req, branch, snapshot)
	o.fanOut(ctx, req, branch, snapshot)

	return Result{OK: true, Snapshot: snapshot, Branch: branch}
}

func (o *Orchestrator) clientFor(token string) (githubapi.DataClient, error) {
	if token != "" {
		if o.newTokenClient == nil {
			return nil, apperror.MissingCredential()
		}
		client, err := o.newTokenClient(token)
		if err != nil {
			return nil, fmt.Errorf("building token client: %w", err)
		}
		return client, nil
	}
	if o.serviceClient == nil {
		return nil, apperror.MissingCredential()
	}
	return o.serviceClient, nil
}

// recordNotification appends the single in-app record for a successful
// sync. Append failures are logged and counted but never fail the sync;
// the snapshot is already persisted.
func (o *Orchestrator) recordNotification(ctx context.Context, req Request, branch string, snapshot *store.StatsSnapshot) {
	record := store.NotificationRecord{
		ID:      o.newID(),
		UserID:  req.UserID,
		Kind:    store.KindStatsSynced,
		Message: syncMessage(req.Owner, req.Repo, branch, snapshot),
		Metadata: map[string]string{
			"owner":  req.Owner,
			"repo":   req.Repo,
			"branch": branch,
		},
		CreatedAt: o.now().UTC(),
	}
	if err := o.store.AppendNotification(ctx, record); err != nil {
		o.metrics.NotificationDispatched("in_app", "error")
		o.logger.Warn("in-app notification append failed",
			zap.String("user_id", req.UserID), zap.Error(err))
		return
	}
	o.metrics.NotificationDispatched("in_app", "success")
}

// fanOut delivers to every enabled external channel. Channels are
// independent; one failure never blocks another and none fail the sync.
func (o *Orchestrator) fanOut(ctx context.Context, req Request, branch string, snapshot *store.StatsSnapshot) {
	if len(o.channels) == 0 {
		return
	}

	prefs, err := o.store.GetPreferences(ctx, req.UserID)
	if err != nil {
		o.logger.Warn("preferences read failed, skipping channel fan-out",
			zap.String("user_id", req.UserID), zap.Error(err))
		return
	}

	text := syncMessage(req.Owner, req.Repo, branch, snapshot)
	for _, channel := range o.channels {
		enabled, dest := channelDestination(channel.Name(), prefs)
		if channel.Name() == "email" && req.EmailOverride != "" {
			dest = req.EmailOverride
		}
		if !enabled {
			continue
		}
		if dest == "" {
			// Enabled with nothing to deliver to, e.g. email with no
			// resolvable address. Silent skip.
			continue
		}
		if !channel.ValidateDestination(dest) {
			o.metrics.NotificationDispatched(channel.Name(), "invalid_destination")
			o.logger.Warn("notification destination rejected",
				zap.String("channel", channel.Name()), zap.String("user_id", req.UserID))
			continue
		}
		if err := channel.Send(ctx, dest, text); err != nil {
			o.metrics.NotificationDispatched(channel.Name(), "error")
			o.logger.Warn("notification delivery failed",
				zap.String("channel", channel.Name()),
				zap.String("user_id", req.UserID),
				zap.Error(err))
			continue
		}
		o.metrics.NotificationDispatched(channel.Name(), "success")
	}
}

func channelDestination(name string, prefs store.UserSyncPreferences) (bool, string) {
	switch name {
	case "slack":
		return prefs.SlackEnabled, prefs.SlackWebhookURL
	case "discord":
		return prefs.DiscordEnabled, prefs.DiscordWebhookURL
	case "email":
		return prefs.EmailEnabled, prefs.EmailAddress
	default:
		return false, ""
	}
}

func syncMessage(owner, repo, branch string, snapshot *store.StatsSnapshot) string {
	return fmt.Sprintf("Stats synced for %s/%s@%s: %d production lines across %d contributors",
		owner, repo, branch, snapshot.TotalProductionLines, snapshot.ActiveContributorCount)
}
