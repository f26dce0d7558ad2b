// Package app wires configuration, storage, the sync orchestrator, and
// the HTTP surface into one runtime.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Ad1tya-007/prodlines/internal/config"
	"github.com/Ad1tya-007/prodlines/internal/githubapi"
	"github.com/Ad1tya-007/prodlines/internal/health"
	"github.com/Ad1tya-007/prodlines/internal/leader"
	"github.com/Ad1tya-007/prodlines/internal/notify"
	"github.com/Ad1tya-007/prodlines/internal/stats"
	"github.com/Ad1tya-007/prodlines/internal/store"
	"github.com/Ad1tya-007/prodlines/internal/syncer"
)

// Runtime owns the wired application.
type Runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     store.Store
	metrics   *Metrics
	api       *API
	scheduler *Scheduler
	evaluator *health.StatusEvaluator

	hasServiceCredential bool
}

// RuntimeOptions carries collaborator implementations injected from main.
type RuntimeOptions struct {
	// EmailSender is the outbound mail relay. Nil disables the email
	// channel.
	EmailSender notify.EmailSender
}

// NewRuntime builds the full application from configuration.
func NewRuntime(cfg *config.Config, logger *zap.Logger, opts RuntimeOptions) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	storeBackend, redisClient := newStoreBackend(cfg, logger)
	metrics := NewMetrics()

	serviceClient, err := newServiceClient(cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("build service github client: %w", err)
	}

	aggregator := stats.NewAggregator(stats.Config{
		CommitPageSize:   cfg.Sync.CommitPageSize,
		PullPageSize:     cfg.Sync.PullPageSize,
		MaxCommitDetails: cfg.Sync.MaxCommitDetails,
		TopContributors:  cfg.Sync.TopContributors,
	}, logger)

	channels := []notify.Channel{
		notify.NewSlackChannel(cfg.Notify.HTTPTimeout),
		notify.NewDiscordChannel(cfg.Notify.HTTPTimeout),
	}
	if opts.EmailSender != nil {
		channels = append(channels, notify.NewEmailChannel(opts.EmailSender))
	}

	orchestrator, err := syncer.NewOrchestrator(syncer.Options{
		Store:          storeBackend,
		Aggregator:     aggregator,
		NewTokenClient: newTokenClientFactory(cfg, metrics),
		ServiceClient:  serviceClient,
		Channels:       channels,
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	api := &API{
		orchestrator: orchestrator,
		store:        storeBackend,
		secrets:      cfg.Secrets,
		concurrency:  cfg.Sync.BatchConcurrency,
		metrics:      metrics,
		logger:       logger,
	}

	return &Runtime{
		cfg:                  cfg,
		logger:               logger,
		store:                storeBackend,
		metrics:              metrics,
		api:                  api,
		scheduler:            newScheduler(api, cfg.Scheduler, newSchedulerElector(cfg, redisClient, logger), logger),
		evaluator:            health.NewStatusEvaluator(),
		hasServiceCredential: serviceClient != nil,
	}, nil
}

// newSchedulerElector builds a redis lock elector on the redis backend so
// only one replica ticks the batch schedule. On the memory backend the
// scheduler always leads; there is nothing to coordinate across.
func newSchedulerElector(cfg *config.Config, redisClient redis.UniversalClient, logger *zap.Logger) leader.Elector {
	if redisClient == nil || !cfg.Scheduler.Enabled {
		return nil
	}

	hostname, _ := os.Hostname()
	elector, err := leader.NewRedisLockElector(redisClient, leader.RedisLockConfig{
		Key:      strings.TrimSpace(cfg.Store.Namespace) + ":scheduler:leader",
		Identity: hostname + "-" + uuid.NewString(),
	})
	if err != nil {
		logger.Warn("failed to build scheduler elector; running as static leader", zap.Error(err))
		return nil
	}
	return elector
}

// Handler returns the full HTTP surface.
func (rt *Runtime) Handler() http.Handler {
	return newRouter(rt.api, rt.metrics.Handler(), health.NewHandler(rt))
}

// StartScheduler launches the in-process batch scheduler when enabled.
func (rt *Runtime) StartScheduler(ctx context.Context) {
	rt.scheduler.Start(ctx)
}

// Shutdown stops background work and closes the store.
func (rt *Runtime) Shutdown() {
	rt.scheduler.Stop()
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("store close failed", zap.Error(err))
	}
}

// CurrentStatus implements health.Provider.
func (rt *Runtime) CurrentStatus(ctx context.Context) health.Status {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return rt.evaluator.Evaluate(health.Input{
		StoreHealthy:                rt.store.Ping(pingCtx) == nil,
		ServiceCredentialConfigured: rt.hasServiceCredential,
		SchedulerEnabled:            rt.cfg.Scheduler.Enabled,
		SchedulerHealthy:            rt.scheduler.Healthy(),
	})
}

func retryFromConfig(cfg *config.Config, metrics *Metrics) githubapi.RetryConfig {
	retry := githubapi.RetryConfig{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}
	if metrics != nil {
		retry.OnRateHeaders = func(headers githubapi.RateLimitHeaders) {
			// A response without rate headers parses to all zeroes; do
			// not clobber the gauges with it.
			if headers.ResetUnix == 0 && headers.Remaining == 0 {
				return
			}
			metrics.GitHubRateLimit(headers.Remaining, headers.ResetUnix)
		}
	}
	return retry
}

// newServiceClient builds the shared service credential client: a plain
// token when configured, otherwise a GitHub App installation. Nil when
// the deployment configures neither.
func newServiceClient(cfg *config.Config, metrics *Metrics) (githubapi.DataClient, error) {
	var httpClient *http.Client
	switch {
	case cfg.GitHub.ServiceToken != "":
		client, err := githubapi.NewTokenHTTPClient(cfg.GitHub.ServiceToken, cfg.GitHub.RequestTimeout, retryFromConfig(cfg, metrics))
		if err != nil {
			return nil, err
		}
		httpClient = client
	case cfg.GitHub.App.Enabled():
		client, err := githubapi.NewInstallationHTTPClient(githubapi.InstallationAuthConfig{
			AppID:          cfg.GitHub.App.AppID,
			InstallationID: cfg.GitHub.App.InstallationID,
			PrivateKeyPath: cfg.GitHub.App.PrivateKeyPath,
			Timeout:        cfg.GitHub.RequestTimeout,
			Retry:          retryFromConfig(cfg, metrics),
		})
		if err != nil {
			return nil, err
		}
		httpClient = client
	default:
		return nil, nil
	}

	rest, err := githubapi.NewRESTClient(httpClient, cfg.GitHub.APIBaseURL)
	if err != nil {
		return nil, err
	}
	return githubapi.NewClient(rest), nil
}

// newTokenClientFactory builds per-request clients for delegated tokens.
func newTokenClientFactory(cfg *config.Config, metrics *Metrics) func(token string) (githubapi.DataClient, error) {
	return func(token string) (githubapi.DataClient, error) {
		httpClient, err := githubapi.NewTokenHTTPClient(token, cfg.GitHub.RequestTimeout, retryFromConfig(cfg, metrics))
		if err != nil {
			return nil, err
		}
		rest, err := githubapi.NewRESTClient(httpClient, cfg.GitHub.APIBaseURL)
		if err != nil {
			return nil, err
		}
		return githubapi.NewClient(rest), nil
	}
}
