package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Ad1tya-007/prodlines/internal/store"
	"github.com/Ad1tya-007/prodlines/internal/syncer"
)

const maxWebhookBodyBytes = 1 << 20

type webhookPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		FullName      string `json:"full_name"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`
}

type webhookResponse struct {
	Accepted    bool `json:"accepted"`
	SyncedCount int  `json:"synced_count"`
}

// handleWebhook serves push deliveries. The signature is verified against
// the deployment-wide secret first, then against the per-user secrets of
// users holding this repository active with realtime auto-sync. An
// unverifiable delivery does zero sync work.
func (api *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		api.metrics.WebhookDelivery("oversized")
		writeJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "webhook body exceeds limit")
		return
	}

	signature := strings.TrimSpace(r.Header.Get("X-Hub-Signature-256"))
	if signature == "" {
		api.metrics.WebhookDelivery("missing_signature")
		writeJSONError(w, http.StatusUnauthorized, "missing_signature", "X-Hub-Signature-256 header is required")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Repository.FullName == "" {
		api.metrics.WebhookDelivery("invalid_payload")
		writeJSONError(w, http.StatusBadRequest, "invalid_payload", "webhook payload is not a push event")
		return
	}

	// Repository resolution happens before verification so per-user
	// secrets can participate; no secret material leaves the process
	// either way.
	saved, err := api.store.ListActiveByFullName(r.Context(), payload.Repository.FullName)
	if err != nil {
		api.logger.Warn("webhook repository lookup failed",
			zap.String("full_name", payload.Repository.FullName), zap.Error(err))
		saved = nil
	}
	subscribers := api.realtimeSubscribers(r, saved)

	if !api.verifySignature(signature, body, subscribers) {
		api.metrics.WebhookDelivery("rejected")
		writeJSONError(w, http.StatusUnauthorized, "signature_mismatch", "webhook signature did not verify")
		return
	}

	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")
	if branch == payload.Ref || branch == "" {
		branch = payload.Repository.DefaultBranch
	}

	synced := 0
	for _, subscriber := range subscribers {
		result := api.orchestrator.Sync(r.Context(), syncer.Request{
			UserID:  subscriber.repo.UserID,
			Owner:   subscriber.repo.Owner,
			Repo:    subscriber.repo.Name,
			Branch:  branch,
			Trigger: syncer.TriggerWebhook,
		})
		if result.OK {
			synced++
		}
	}

	api.metrics.WebhookDelivery("accepted")
	writeJSON(w, http.StatusAccepted, webhookResponse{Accepted: true, SyncedCount: synced})
}

type realtimeSubscriber struct {
	repo   store.SavedRepository
	secret string
}

// realtimeSubscribers returns the users holding this repository active
// with realtime auto-sync, plus their webhook secrets.
func (api *API) realtimeSubscribers(r *http.Request, saved []store.SavedRepository) []realtimeSubscriber {
	subscribers := make([]realtimeSubscriber, 0, len(saved))
	for _, record := range saved {
		prefs, err := api.store.GetPreferences(r.Context(), record.UserID)
		if err != nil {
			api.logger.Warn("webhook preferences read failed",
				zap.String("user_id", record.UserID), zap.Error(err))
			continue
		}
		if !prefs.AutoSyncEnabled || prefs.FrequencyBucket != store.BucketRealtime {
			continue
		}
		subscribers = append(subscribers, realtimeSubscriber{repo: record, secret: prefs.WebhookSharedSecret})
	}
	return subscribers
}

func (api *API) verifySignature(signature string, body []byte, subscribers []realtimeSubscriber) bool {
	if secret := api.secrets.WebhookSharedSecret; secret != "" && signatureMatches(signature, body, secret) {
		return true
	}
	for _, subscriber := range subscribers {
		if subscriber.secret != "" && signatureMatches(signature, body, subscriber.secret) {
			return true
		}
	}
	return false
}

func signatureMatches(signature string, body []byte, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
