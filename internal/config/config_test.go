package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: "info"
github:
  api_base_url: "https://api.github.com"
  request_timeout: "20s"
  service_token: "ghp_service"
retry:
  max_attempts: 3
  initial_backoff: "1s"
  max_backoff: "30s"
sync:
  commit_page_size: 100
  pull_page_size: 50
  max_commit_details: 100
  top_contributors: 12
  batch_concurrency: 4
secrets:
  webhook_shared_secret: "hook-secret"
  cron_shared_secret: "cron-secret"
notify:
  http_timeout: "10s"
  notifications_cap: 200
store:
  backend: "redis"
  namespace: "prodlines"
  redis_mode: "standalone"
  redis_addr: "localhost:6379"
scheduler:
  enabled: true
  hourly_interval: "1h"
  daily_interval: "1d"
  weekly_interval: "1w"
telemetry:
  otel_enabled: false
`

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Load(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.GitHub.RequestTimeout != 20*time.Second {
		t.Fatalf("github.request_timeout = %v, want 20s", cfg.GitHub.RequestTimeout)
	}
	if cfg.Scheduler.DailyInterval != 24*time.Hour {
		t.Fatalf("scheduler.daily_interval = %v, want 24h", cfg.Scheduler.DailyInterval)
	}
	if cfg.Scheduler.WeeklyInterval != 7*24*time.Hour {
		t.Fatalf("scheduler.weekly_interval = %v, want 168h", cfg.Scheduler.WeeklyInterval)
	}
	if cfg.Sync.TopContributors != 12 {
		t.Fatalf("sync.top_contributors = %d, want 12", cfg.Sync.TopContributors)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	minimal := `
server:
  listen_addr: ":8080"
github:
  service_token: "ghp_service"
secrets:
  cron_shared_secret: "cron-secret"
store:
  backend: "memory"
`
	cfg, err := Load(strings.NewReader(minimal))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.LogLevel != "info" {
		t.Fatalf("server.log_level default = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Sync.CommitPageSize != 100 {
		t.Fatalf("sync.commit_page_size default = %d, want 100", cfg.Sync.CommitPageSize)
	}
	if cfg.Sync.BatchConcurrency != 4 {
		t.Fatalf("sync.batch_concurrency default = %d, want 4", cfg.Sync.BatchConcurrency)
	}
	if cfg.Notify.NotificationsCap != 200 {
		t.Fatalf("notify.notifications_cap default = %d, want 200", cfg.Notify.NotificationsCap)
	}
	if cfg.Store.Namespace != "prodlines" {
		t.Fatalf("store.namespace default = %q, want prodlines", cfg.Store.Namespace)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		yaml      string
		errSubstr string
	}{
		{
			name: "missing_credential",
			yaml: `
server:
  listen_addr: ":8080"
secrets:
  cron_shared_secret: "s"
store:
  backend: "memory"
`,
			errSubstr: "github.service_token or a complete github.app block is required",
		},
		{
			name: "token_and_app_both_set",
			yaml: `
server:
  listen_addr: ":8080"
github:
  service_token: "ghp_x"
  app:
    app_id: 1
    installation_id: 2
    private_key_path: "/etc/prodlines/key.pem"
secrets:
  cron_shared_secret: "s"
store:
  backend: "memory"
`,
			errSubstr: "mutually exclusive",
		},
		{
			name: "missing_cron_secret",
			yaml: `
server:
  listen_addr: ":8080"
github:
  service_token: "ghp_x"
store:
  backend: "memory"
`,
			errSubstr: "secrets.cron_shared_secret is required",
		},
		{
			name: "bad_store_backend",
			yaml: `
server:
  listen_addr: ":8080"
github:
  service_token: "ghp_x"
secrets:
  cron_shared_secret: "s"
store:
  backend: "postgres"
`,
			errSubstr: "store.backend must be memory or redis",
		},
		{
			name: "redis_without_addr",
			yaml: `
server:
  listen_addr: ":8080"
github:
  service_token: "ghp_x"
secrets:
  cron_shared_secret: "s"
store:
  backend: "redis"
  redis_mode: "standalone"
`,
			errSubstr: "store.redis_addr is required",
		},
		{
			name: "commit_page_size_too_large",
			yaml: `
server:
  listen_addr: ":8080"
github:
  service_token: "ghp_x"
secrets:
  cron_shared_secret: "s"
store:
  backend: "memory"
sync:
  commit_page_size: 250
`,
			errSubstr: "sync.commit_page_size must be in 1..100",
		},
		{
			name: "unknown_field",
			yaml: `
server:
  listen_addr: ":8080"
  unknown_field: true
`,
			errSubstr: "unmarshal yaml",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(strings.NewReader(testCase.yaml))
			if err == nil {
				t.Fatalf("Load succeeded, want error containing %q", testCase.errSubstr)
			}
			if !strings.Contains(err.Error(), testCase.errSubstr) {
				t.Fatalf("Load error = %q, want substring %q", err.Error(), testCase.errSubstr)
			}
		})
	}
}

func TestParseFlexibleDuration(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "30s", want: 30 * time.Second},
		{raw: "1d", want: 24 * time.Hour},
		{raw: "2w", want: 14 * 24 * time.Hour},
		{raw: "0.5d", want: 12 * time.Hour},
		{raw: "", want: 0},
		{raw: "5x", wantErr: true},
	}

	for _, testCase := range testCases {
		got, err := parseFlexibleDuration(testCase.raw)
		if testCase.wantErr {
			if err == nil {
				t.Fatalf("parseFlexibleDuration(%q) succeeded, want error", testCase.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseFlexibleDuration(%q) returned error: %v", testCase.raw, err)
		}
		if got != testCase.want {
			t.Fatalf("parseFlexibleDuration(%q) = %v, want %v", testCase.raw, got, testCase.want)
		}
	}
}
