//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Ad1tya-007/prodlines/internal/app"
	"github.com/Ad1tya-007/prodlines/internal/config"
	"github.com/Ad1tya-007/prodlines/internal/store"
)

// newGitHubFixture serves the hosting-API endpoints the aggregator
// touches, with deterministic data: alice owns 300 lines, bob 100.
func newGitHubFixture(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets", func(w http.ResponseWriter, _ *http.Request) {
		writeFixtureJSON(w, `{"full_name":"acme/widgets","default_branch":"main"}`)
	})
	mux.HandleFunc("GET /repos/acme/widgets/branches/main", func(w http.ResponseWriter, _ *http.Request) {
		writeFixtureJSON(w, `{"name":"main"}`)
	})
	mux.HandleFunc("GET /repos/acme/widgets/contributors", func(w http.ResponseWriter, _ *http.Request) {
		writeFixtureJSON(w, `[
			{"login":"alice","avatar_url":"https://avatars.test/alice","contributions":2},
			{"login":"bob","avatar_url":"https://avatars.test/bob","contributions":1}
		]`)
	})
	mux.HandleFunc("GET /repos/acme/widgets/commits", func(w http.ResponseWriter, _ *http.Request) {
		writeFixtureJSON(w, `[
			{"sha":"a1","author":{"login":"alice"},"commit":{"author":{"name":"Alice"}}},
			{"sha":"a2","author":{"login":"alice"},"commit":{"author":{"name":"Alice"}}},
			{"sha":"b1","author":{"login":"bob"},"commit":{"author":{"name":"Bob"}}}
		]`)
	})
	mux.HandleFunc("GET /repos/acme/widgets/commits/a1", func(w http.ResponseWriter, _ *http.Request) {
		writeFixtureJSON(w, `{"sha":"a1","stats":{"additions":200,"deletions":10},
			"files":[{"filename":"internal/core.go","additions":200}]}`)
	})
	mux.HandleFunc("GET /repos/acme/widgets/commits/a2", func(w http.ResponseWriter, _ *http.Request) {
		writeFixtureJSON(w, `{"sha":"a2","stats":{"additions":100,"deletions":5},
			"files":[{"filename":"internal/api.go","additions":100}]}`)
	})
	mux.HandleFunc("GET /repos/acme/widgets/commits/b1", func(w http.ResponseWriter, _ *http.Request) {
		writeFixtureJSON(w, `{"sha":"b1","stats":{"additions":100,"deletions":2},
			"files":[{"filename":"internal/api.go","additions":100}]}`)
	})
	mux.HandleFunc("GET /repos/acme/widgets/pulls", func(w http.ResponseWriter, _ *http.Request) {
		writeFixtureJSON(w, `[
			{"number":1,"title":"Add cache layer","user":{"login":"alice"},"merged_at":"2026-08-20T10:00:00Z","base":{"ref":"main"}}
		]`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func writeFixtureJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

type harness struct {
	baseURL    string
	httpClient *http.Client
	store      *store.RedisStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	redisServer := miniredis.RunT(t)
	githubServer := newGitHubFixture(t)

	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":0"},
		GitHub: config.GitHubConfig{
			APIBaseURL:     githubServer.URL + "/",
			RequestTimeout: 10 * time.Second,
			ServiceToken:   "ghp_service",
		},
		Sync: config.SyncConfig{
			CommitPageSize:   100,
			PullPageSize:     50,
			MaxCommitDetails: 100,
			TopContributors:  12,
			BatchConcurrency: 2,
		},
		Secrets: config.SecretsConfig{
			WebhookSharedSecret: "hook-secret",
			CronSharedSecret:    "cron-secret",
		},
		Notify: config.NotifyConfig{HTTPTimeout: 5 * time.Second, NotificationsCap: 50},
		Store: config.StoreConfig{
			Backend:   "redis",
			Namespace: "prodlines",
			RedisAddr: redisServer.Addr(),
		},
	}

	runtime, err := app.NewRuntime(cfg, zap.NewNop(), app.RuntimeOptions{})
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	t.Cleanup(runtime.Shutdown)

	apiServer := httptest.NewServer(runtime.Handler())
	t.Cleanup(apiServer.Close)

	seedStore := store.NewRedisStore(redis.NewClient(&redis.Options{Addr: redisServer.Addr()}), store.RedisStoreConfig{
		Namespace:        "prodlines",
		NotificationsCap: 50,
	})
	t.Cleanup(func() { _ = seedStore.Close() })

	return &harness{
		baseURL:    apiServer.URL,
		httpClient: apiServer.Client(),
		store:      seedStore,
	}
}

func (h *harness) getStats(t *testing.T, query string) (int, map[string]json.RawMessage) {
	t.Helper()

	request, err := http.NewRequest(http.MethodGet, h.baseURL+"/api/v1/repos/acme/widgets/stats"+query, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("X-User-ID", "user-1")

	response, err := h.httpClient.Do(request)
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	defer response.Body.Close()

	body, _ := io.ReadAll(response.Body)
	var fields map[string]json.RawMessage
	if response.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, &fields); err != nil {
			t.Fatalf("stats response decode: %v (body %s)", err, body)
		}
	}
	return response.StatusCode, fields
}

func TestOnDemandSyncFlow(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	status, fields := h.getStats(t, "?branch=main&refresh=true")
	if status != http.StatusOK {
		t.Fatalf("stats status = %d", status)
	}

	var snapshot store.StatsSnapshot
	if err := json.Unmarshal(fields["snapshot"], &snapshot); err != nil {
		t.Fatalf("snapshot decode: %v", err)
	}
	if snapshot.TotalProductionLines != 400 {
		t.Fatalf("total = %d, want 400", snapshot.TotalProductionLines)
	}
	if len(snapshot.Contributors) != 2 {
		t.Fatalf("contributors = %d, want 2", len(snapshot.Contributors))
	}
	alice := snapshot.Contributors[0]
	if alice.Username != "alice" || alice.PercentShare != 75.0 {
		t.Fatalf("top contributor = %+v, want alice at 75%%", alice)
	}

	// Second read without refresh hits the snapshot persisted in redis.
	status, fields = h.getStats(t, "?branch=main")
	if status != http.StatusOK {
		t.Fatalf("cached stats status = %d", status)
	}
	var cached bool
	if err := json.Unmarshal(fields["cached"], &cached); err != nil || !cached {
		t.Fatalf("cached = %v (err %v), want cache hit", cached, err)
	}

	// In-app notification recorded for the sync.
	records, err := h.store.ListNotifications(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("ListNotifications returned error: %v", err)
	}
	if len(records) != 1 || records[0].Kind != store.KindStatsSynced {
		t.Fatalf("notifications = %+v, want one stats-synced record", records)
	}
}

func TestWebhookAndBatchFlow(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	if err := h.store.SaveRepository(ctx, store.SavedRepository{
		ID: "repo-1", UserID: "user-1", Owner: "acme", Name: "widgets",
		DefaultBranch: "main", IsActive: true,
	}); err != nil {
		t.Fatalf("SaveRepository returned error: %v", err)
	}
	if err := h.store.SavePreferences(ctx, store.UserSyncPreferences{
		UserID: "user-1", AutoSyncEnabled: true, FrequencyBucket: store.BucketRealtime,
	}); err != nil {
		t.Fatalf("SavePreferences returned error: %v", err)
	}

	payload := []byte(`{"ref":"refs/heads/main","repository":{"full_name":"acme/widgets","default_branch":"main"}}`)
	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(payload)
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	request, _ := http.NewRequest(http.MethodPost, h.baseURL+"/webhooks/github", bytes.NewReader(payload))
	request.Header.Set("X-Hub-Signature-256", signature)
	response, err := h.httpClient.Do(request)
	if err != nil {
		t.Fatalf("webhook request failed: %v", err)
	}
	body, _ := io.ReadAll(response.Body)
	_ = response.Body.Close()
	if response.StatusCode != http.StatusAccepted {
		t.Fatalf("webhook status = %d, body = %s", response.StatusCode, body)
	}

	var webhookResult struct {
		Accepted    bool `json:"accepted"`
		SyncedCount int  `json:"synced_count"`
	}
	if err := json.Unmarshal(body, &webhookResult); err != nil {
		t.Fatalf("webhook response decode: %v", err)
	}
	if !webhookResult.Accepted || webhookResult.SyncedCount != 1 {
		t.Fatalf("webhook response = %+v", webhookResult)
	}

	key := store.SnapshotKey{UserID: "user-1", Owner: "acme", Repo: "widgets", Branch: "main"}
	snapshot, err := h.store.GetSnapshot(ctx, key)
	if err != nil || snapshot == nil {
		t.Fatalf("GetSnapshot = (%v, %v), want webhook-synced snapshot", snapshot, err)
	}

	// Move the user to the daily bucket and run the daily batch.
	if err := h.store.SavePreferences(ctx, store.UserSyncPreferences{
		UserID: "user-1", AutoSyncEnabled: true, FrequencyBucket: store.BucketDaily,
	}); err != nil {
		t.Fatalf("SavePreferences returned error: %v", err)
	}

	request, _ = http.NewRequest(http.MethodPost, h.baseURL+"/internal/sync/daily", nil)
	request.Header.Set("Authorization", "Bearer cron-secret")
	response, err = h.httpClient.Do(request)
	if err != nil {
		t.Fatalf("batch request failed: %v", err)
	}
	body, _ = io.ReadAll(response.Body)
	_ = response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("batch status = %d, body = %s", response.StatusCode, body)
	}

	var counts struct {
		ReposConsidered    int `json:"repos_considered"`
		UsersConsidered    int `json:"users_considered"`
		SyncedSuccessfully int `json:"synced_successfully"`
	}
	if err := json.Unmarshal(body, &counts); err != nil {
		t.Fatalf("batch response decode: %v", err)
	}
	if counts.UsersConsidered != 1 || counts.ReposConsidered != 1 || counts.SyncedSuccessfully != 1 {
		t.Fatalf("batch counts = %+v", counts)
	}
}

func TestMetricsExposedAfterSyncs(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if status, _ := h.getStats(t, "?branch=main&refresh=true"); status != http.StatusOK {
		t.Fatalf("stats status = %d", status)
	}

	response, err := h.httpClient.Get(h.baseURL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(response.Body)

	page := string(body)
	if !bytes.Contains(body, []byte("prodlines_syncs_total")) {
		t.Fatalf("metrics page missing sync counter:\n%s", truncate(page, 400))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("... (%d more bytes)", len(s)-n)
}
