package app

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ad1tya-007/prodlines/internal/store"
	"github.com/Ad1tya-007/prodlines/internal/syncer"
)

type batchCounts struct {
	ReposConsidered    int `json:"repos_considered"`
	UsersConsidered    int `json:"users_considered"`
	SyncedSuccessfully int `json:"synced_successfully"`
}

// handleBatchSync serves the scheduled batch trigger. The cron caller
// authenticates with the shared bearer secret; an invalid bucket or
// secret is rejected before any store or hosting-API work.
func (api *API) handleBatchSync(w http.ResponseWriter, r *http.Request) {
	if !api.authorizeCron(r) {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "cron secret did not verify")
		return
	}

	bucket, err := store.ParseBucket(chi.URLParam(r, "bucket"))
	if err != nil || bucket == store.BucketRealtime {
		writeJSONError(w, http.StatusBadRequest, "invalid_bucket", "bucket must be hourly, daily, or weekly")
		return
	}

	counts := api.runBatch(r.Context(), bucket, "http")
	writeJSON(w, http.StatusOK, counts)
}

func (api *API) authorizeCron(r *http.Request) bool {
	secret := api.secrets.CronSharedSecret
	if secret == "" {
		return false
	}
	presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return secretEqual(presented, secret)
}

func secretEqual(presented, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// runBatch syncs every (user, active repo) pair in a bucket on the repo
// default branch with the service credential. Failures are counted by
// the orchestrator and never stop the batch.
func (api *API) runBatch(ctx context.Context, bucket store.FrequencyBucket, source string) batchCounts {
	api.metrics.BatchRun(string(bucket), source)

	userIDs, err := api.store.ListUserIDsByBucket(ctx, bucket)
	if err != nil {
		api.logger.Error("batch user selection failed",
			zap.String("bucket", string(bucket)), zap.Error(err))
		return batchCounts{}
	}

	counts := batchCounts{UsersConsidered: len(userIDs)}
	var synced atomic.Int64

	limit := api.concurrency
	if limit <= 0 {
		limit = 4
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	for _, userID := range userIDs {
		repos, err := api.store.ListActiveByUser(ctx, userID)
		if err != nil {
			api.logger.Warn("batch repository listing failed",
				zap.String("user_id", userID), zap.Error(err))
			continue
		}
		counts.ReposConsidered += len(repos)

		for _, repo := range repos {
			group.Go(func() error {
				result := api.orchestrator.Sync(groupCtx, syncer.Request{
					UserID:  repo.UserID,
					Owner:   repo.Owner,
					Repo:    repo.Name,
					Branch:  repo.DefaultBranch,
					Trigger: syncer.TriggerBatch,
				})
				if result.OK {
					synced.Add(1)
				}
				return nil
			})
		}
	}
	_ = group.Wait()

	counts.SyncedSuccessfully = int(synced.Load())
	api.logger.Info("batch run finished",
		zap.String("bucket", string(bucket)),
		zap.String("source", source),
		zap.Int("users_considered", counts.UsersConsidered),
		zap.Int("repos_considered", counts.ReposConsidered),
		zap.Int("synced_successfully", counts.SyncedSuccessfully))
	return counts
}
