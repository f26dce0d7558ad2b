package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig
	GitHub    GitHubConfig
	Retry     RetryConfig
	Sync      SyncConfig
	Secrets   SecretsConfig
	Notify    NotifyConfig
	Store     StoreConfig
	Scheduler SchedulerConfig
	Telemetry TelemetryConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// GitHubConfig configures hosting-API access.
type GitHubConfig struct {
	APIBaseURL     string
	RequestTimeout time.Duration
	// ServiceToken is the shared fallback credential used by the webhook
	// and batch triggers, and by on-demand callers without a delegated token.
	ServiceToken string
	App          GitHubAppConfig
}

// GitHubAppConfig configures GitHub App installation authentication as an
// alternative shape for the shared service credential.
type GitHubAppConfig struct {
	AppID          int64  `yaml:"app_id"`
	InstallationID int64  `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// Enabled reports whether App-mode credentials are configured.
func (c GitHubAppConfig) Enabled() bool {
	return c.AppID > 0 && c.InstallationID > 0 && c.PrivateKeyPath != ""
}

// RetryConfig configures hosting-API retries.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// SyncConfig configures aggregation bounds.
type SyncConfig struct {
	CommitPageSize   int `yaml:"commit_page_size"`
	PullPageSize     int `yaml:"pull_page_size"`
	MaxCommitDetails int `yaml:"max_commit_details"`
	TopContributors  int `yaml:"top_contributors"`
	// BatchConcurrency bounds parallel syncs inside the webhook and batch
	// triggers so one batch cannot exhaust the hosting API rate budget.
	BatchConcurrency int `yaml:"batch_concurrency"`
}

// SecretsConfig carries the shared trigger secrets. Modeled as explicit
// configuration, not ambient environment state, so trigger adapters are
// testable with fakes.
type SecretsConfig struct {
	WebhookSharedSecret string `yaml:"webhook_shared_secret"`
	CronSharedSecret    string `yaml:"cron_shared_secret"`
}

// NotifyConfig configures notification dispatch behavior.
type NotifyConfig struct {
	HTTPTimeout      time.Duration
	NotificationsCap int
}

// StoreConfig configures persistence.
type StoreConfig struct {
	Backend            string
	Namespace          string
	RedisMode          string
	RedisAddr          string
	RedisMasterSet     string
	RedisSentinelAddrs []string
	RedisPassword      string
	RedisDB            int
}

// SchedulerConfig configures the optional in-process batch scheduler.
// Deployments driven by an external cron leave it disabled and call the
// batch endpoint instead.
type SchedulerConfig struct {
	Enabled        bool
	HourlyInterval time.Duration
	DailyInterval  time.Duration
	WeeklyInterval time.Duration
}

// TelemetryConfig configures OpenTelemetry behavior.
type TelemetryConfig struct {
	OTELEnabled          bool
	OTELTraceMode        string
	OTELTraceSampleRatio float64
}

// Load reads configuration from YAML and validates the result.
func Load(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("config reader is nil")
	}

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	var raw rawConfig
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg := raw.toConfig()
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates configuration values.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validLogLevels, c.Server.LogLevel) {
		errs = append(errs, "server.log_level must be one of debug|info|warn|error")
	}
	if c.Server.ListenAddr == "" {
		errs = append(errs, "server.listen_addr is required")
	}

	if c.GitHub.RequestTimeout <= 0 {
		errs = append(errs, "github.request_timeout must be > 0")
	}
	if c.GitHub.ServiceToken == "" && !c.GitHub.App.Enabled() {
		errs = append(errs, "github.service_token or a complete github.app block is required")
	}
	if c.GitHub.App.Enabled() && c.GitHub.ServiceToken != "" {
		errs = append(errs, "github.service_token and github.app are mutually exclusive")
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, "retry.max_attempts must be > 0")
	}

	if c.Sync.CommitPageSize <= 0 || c.Sync.CommitPageSize > 100 {
		errs = append(errs, "sync.commit_page_size must be in 1..100")
	}
	if c.Sync.PullPageSize <= 0 || c.Sync.PullPageSize > 100 {
		errs = append(errs, "sync.pull_page_size must be in 1..100")
	}
	if c.Sync.TopContributors <= 0 {
		errs = append(errs, "sync.top_contributors must be > 0")
	}
	if c.Sync.BatchConcurrency <= 0 {
		errs = append(errs, "sync.batch_concurrency must be > 0")
	}

	if c.Secrets.CronSharedSecret == "" {
		errs = append(errs, "secrets.cron_shared_secret is required")
	}

	if c.Store.Backend != "memory" && c.Store.Backend != "redis" {
		errs = append(errs, "store.backend must be memory or redis")
	}
	if c.Store.Backend == "redis" {
		if c.Store.RedisMode != "standalone" && c.Store.RedisMode != "sentinel" {
			errs = append(errs, "store.redis_mode must be standalone or sentinel")
		}
		if c.Store.RedisMode == "standalone" && c.Store.RedisAddr == "" {
			errs = append(errs, "store.redis_addr is required when store.redis_mode=standalone")
		}
		if c.Store.RedisMode == "sentinel" && len(c.Store.RedisSentinelAddrs) == 0 {
			errs = append(errs, "store.redis_sentinel_addrs is required when store.redis_mode=sentinel")
		}
	}

	if c.Scheduler.Enabled {
		if c.Scheduler.HourlyInterval <= 0 || c.Scheduler.DailyInterval <= 0 || c.Scheduler.WeeklyInterval <= 0 {
			errs = append(errs, "scheduler intervals must be > 0 when scheduler.enabled=true")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.GitHub.RequestTimeout <= 0 {
		cfg.GitHub.RequestTimeout = 20 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoff <= 0 {
		cfg.Retry.InitialBackoff = time.Second
	}
	if cfg.Sync.CommitPageSize <= 0 {
		cfg.Sync.CommitPageSize = 100
	}
	if cfg.Sync.PullPageSize <= 0 {
		cfg.Sync.PullPageSize = 50
	}
	if cfg.Sync.MaxCommitDetails <= 0 {
		cfg.Sync.MaxCommitDetails = 100
	}
	if cfg.Sync.TopContributors <= 0 {
		cfg.Sync.TopContributors = 12
	}
	if cfg.Sync.BatchConcurrency <= 0 {
		cfg.Sync.BatchConcurrency = 4
	}
	if cfg.Notify.HTTPTimeout <= 0 {
		cfg.Notify.HTTPTimeout = 10 * time.Second
	}
	if cfg.Notify.NotificationsCap <= 0 {
		cfg.Notify.NotificationsCap = 200
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "redis"
	}
	if cfg.Store.Namespace == "" {
		cfg.Store.Namespace = "prodlines"
	}
	if cfg.Store.RedisMode == "" {
		cfg.Store.RedisMode = "standalone"
	}
	if cfg.Scheduler.HourlyInterval <= 0 {
		cfg.Scheduler.HourlyInterval = time.Hour
	}
	if cfg.Scheduler.DailyInterval <= 0 {
		cfg.Scheduler.DailyInterval = 24 * time.Hour
	}
	if cfg.Scheduler.WeeklyInterval <= 0 {
		cfg.Scheduler.WeeklyInterval = 7 * 24 * time.Hour
	}
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 || strings.TrimSpace(value.Value) == "" {
		d.Duration = 0
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}

	parsed, err := parseFlexibleDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func parseFlexibleDuration(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	if standard, err := time.ParseDuration(trimmed); err == nil {
		return standard, nil
	}

	if strings.HasSuffix(trimmed, "d") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "d"), 24)
	}
	if strings.HasSuffix(trimmed, "w") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "w"), 24*7)
	}

	return 0, fmt.Errorf("parse duration %q: invalid unit", raw)
}

func parseDurationWithMultiplier(numeric string, multiplierHours float64) (time.Duration, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(numeric), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration value %q: %w", numeric, err)
	}

	nanos := value * multiplierHours * float64(time.Hour)
	if nanos > math.MaxInt64 || nanos < math.MinInt64 {
		return 0, fmt.Errorf("parse duration value %q: out of range", numeric)
	}
	return time.Duration(nanos), nil
}

type rawConfig struct {
	Server    ServerConfig  `yaml:"server"`
	GitHub    rawGitHub     `yaml:"github"`
	Retry     rawRetry      `yaml:"retry"`
	Sync      SyncConfig    `yaml:"sync"`
	Secrets   SecretsConfig `yaml:"secrets"`
	Notify    rawNotify     `yaml:"notify"`
	Store     rawStore      `yaml:"store"`
	Scheduler rawScheduler  `yaml:"scheduler"`
	Telemetry rawTelemetry  `yaml:"telemetry"`
}

type rawGitHub struct {
	APIBaseURL     string          `yaml:"api_base_url"`
	RequestTimeout duration        `yaml:"request_timeout"`
	ServiceToken   string          `yaml:"service_token"`
	App            GitHubAppConfig `yaml:"app"`
}

type rawRetry struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff duration `yaml:"initial_backoff"`
	MaxBackoff     duration `yaml:"max_backoff"`
}

type rawNotify struct {
	HTTPTimeout      duration `yaml:"http_timeout"`
	NotificationsCap int      `yaml:"notifications_cap"`
}

type rawStore struct {
	Backend            string   `yaml:"backend"`
	Namespace          string   `yaml:"namespace"`
	RedisMode          string   `yaml:"redis_mode"`
	RedisAddr          string   `yaml:"redis_addr"`
	RedisMasterSet     string   `yaml:"redis_master_set"`
	RedisSentinelAddrs []string `yaml:"redis_sentinel_addrs"`
	RedisPassword      string   `yaml:"redis_password"`
	RedisDB            int      `yaml:"redis_db"`
}

type rawScheduler struct {
	Enabled        bool     `yaml:"enabled"`
	HourlyInterval duration `yaml:"hourly_interval"`
	DailyInterval  duration `yaml:"daily_interval"`
	WeeklyInterval duration `yaml:"weekly_interval"`
}

type rawTelemetry struct {
	OTELEnabled          bool    `yaml:"otel_enabled"`
	OTELTraceMode        string  `yaml:"otel_trace_mode"`
	OTELTraceSampleRatio float64 `yaml:"otel_trace_sample_ratio"`
}

func (r rawConfig) toConfig() *Config {
	return &Config{
		Server: r.Server,
		GitHub: GitHubConfig{
			APIBaseURL:     r.GitHub.APIBaseURL,
			RequestTimeout: r.GitHub.RequestTimeout.Duration,
			ServiceToken:   r.GitHub.ServiceToken,
			App:            r.GitHub.App,
		},
		Retry: RetryConfig{
			MaxAttempts:    r.Retry.MaxAttempts,
			InitialBackoff: r.Retry.InitialBackoff.Duration,
			MaxBackoff:     r.Retry.MaxBackoff.Duration,
		},
		Sync:    r.Sync,
		Secrets: r.Secrets,
		Notify: NotifyConfig{
			HTTPTimeout:      r.Notify.HTTPTimeout.Duration,
			NotificationsCap: r.Notify.NotificationsCap,
		},
		Store: StoreConfig{
			Backend:            r.Store.Backend,
			Namespace:          r.Store.Namespace,
			RedisMode:          r.Store.RedisMode,
			RedisAddr:          r.Store.RedisAddr,
			RedisMasterSet:     r.Store.RedisMasterSet,
			RedisSentinelAddrs: r.Store.RedisSentinelAddrs,
			RedisPassword:      r.Store.RedisPassword,
			RedisDB:            r.Store.RedisDB,
		},
		Scheduler: SchedulerConfig{
			Enabled:        r.Scheduler.Enabled,
			HourlyInterval: r.Scheduler.HourlyInterval.Duration,
			DailyInterval:  r.Scheduler.DailyInterval.Duration,
			WeeklyInterval: r.Scheduler.WeeklyInterval.Duration,
		},
		Telemetry: TelemetryConfig{
			OTELEnabled:          r.Telemetry.OTELEnabled,
			OTELTraceMode:        r.Telemetry.OTELTraceMode,
			OTELTraceSampleRatio: r.Telemetry.OTELTraceSampleRatio,
		},
	}
}
