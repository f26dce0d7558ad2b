package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Ad1tya-007/prodlines/internal/apperror"
	"github.com/Ad1tya-007/prodlines/internal/config"
	"github.com/Ad1tya-007/prodlines/internal/store"
	"github.com/Ad1tya-007/prodlines/internal/syncer"
)

// syncRunner is the orchestrator surface the handlers need.
type syncRunner interface {
	Sync(ctx context.Context, req syncer.Request) syncer.Result
}

// API exposes the three sync triggers over HTTP. Caller identity arrives
// as trusted headers from the fronting auth proxy.
type API struct {
	orchestrator syncRunner
	store        store.Store
	secrets      config.SecretsConfig
	concurrency  int
	metrics      *Metrics
	logger       *zap.Logger
}

type statsResponse struct {
	Owner    string               `json:"owner"`
	Repo     string               `json:"repo"`
	Branch   string               `json:"branch"`
	Cached   bool                 `json:"cached"`
	Snapshot *store.StatsSnapshot `json:"snapshot"`
}

// handleRepoStats serves the on-demand trigger. A cached snapshot is
// returned when one exists for the tuple, unless refresh=true forces a
// fresh sync.
func (api *API) handleRepoStats(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing_user", "X-User-ID header is required")
		return
	}

	owner := chi.URLParam(r, "owner")
	repo := chi.URLParam(r, "repo")
	branch := strings.TrimSpace(r.URL.Query().Get("branch"))
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	token := strings.TrimSpace(r.Header.Get("X-GitHub-Token"))
	email := strings.TrimSpace(r.Header.Get("X-User-Email"))

	if !refresh {
		cachedBranch := branch
		if cachedBranch == "" {
			cachedBranch = api.savedDefaultBranch(r, userID, owner, repo)
		}
		if cachedBranch != "" {
			key := store.SnapshotKey{UserID: userID, Owner: owner, Repo: repo, Branch: cachedBranch}
			snapshot, err := api.store.GetSnapshot(r.Context(), key)
			if err != nil {
				api.logger.Warn("cached snapshot read failed", zap.String("key", key.String()), zap.Error(err))
			}
			if snapshot != nil {
				writeJSON(w, http.StatusOK, statsResponse{
					Owner: owner, Repo: repo, Branch: cachedBranch, Cached: true, Snapshot: snapshot,
				})
				return
			}
		}
	}

	result := api.orchestrator.Sync(r.Context(), syncer.Request{
		UserID:        userID,
		Owner:         owner,
		Repo:          repo,
		Branch:        branch,
		Token:         token,
		EmailOverride: email,
		Trigger:       syncer.TriggerOnDemand,
	})
	if !result.OK {
		writeAppError(w, result.Err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Owner: owner, Repo: repo, Branch: result.Branch, Cached: false, Snapshot: result.Snapshot,
	})
}

// savedDefaultBranch resolves the default branch from the user's saved
// repository record, when one exists.
func (api *API) savedDefaultBranch(r *http.Request, userID, owner, repo string) string {
	saved, err := api.store.ListActiveByFullName(r.Context(), owner+"/"+repo)
	if err != nil {
		return ""
	}
	for _, record := range saved {
		if record.UserID == userID {
			return record.DefaultBranch
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, map[string]string{"error": reason, "message": message})
}

func writeAppError(w http.ResponseWriter, err error) {
	writeJSONError(w, apperror.HTTPStatus(err), apperror.Reason(err), err.Error())
}
