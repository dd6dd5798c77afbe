package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"calsync/internal/crypto"
	"calsync/internal/database"
	"calsync/internal/metrics"
	"calsync/internal/models"
)

// handleWebhook receives Google push notifications. It always answers 200:
// a non-2xx response would make Google retry and eventually kill the
// channel, and the notification carries no payload worth retrying for.
// Invalid notifications are counted and dropped.
func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get("X-Goog-Channel-Id")
	resourceID := r.Header.Get("X-Goog-Resource-Id")
	channelToken := r.Header.Get("X-Goog-Channel-Token")
	resourceState := r.Header.Get("X-Goog-Resource-State")

	if channelID == "" || resourceID == "" || resourceState == "" {
		metrics.IncWebhook("missing_headers")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	ctx := r.Context()
	secrets, err := s.store.GetSecretsByChannel(ctx, channelID, resourceID)
	if err != nil {
		metrics.IncWebhook("unknown_channel")
		s.logger.Debug().Str("channel_id", channelID).Msg("notification for unknown channel")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if secrets.ChannelTokenHash == nil ||
		subtle.ConstantTimeCompare(
			[]byte(crypto.HashToken(channelToken)),
			[]byte(*secrets.ChannelTokenHash)) != 1 {
		metrics.IncWebhook("invalid_token")
		s.logger.Warn().Str("channel_id", channelID).Msg("notification with bad channel token")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	// "sync" is the channel-created handshake; nothing changed yet.
	if resourceState == "sync" {
		metrics.IncWebhook("accepted")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	// Bursts of notifications within the same minute collapse into one
	// delta job via the dedupe key.
	bucket := time.Now().UTC().Truncate(models.WebhookDedupeBucket).Format("2006-01-02T15:04")
	job := &models.Job{
		UserID:    secrets.UserID,
		JobType:   models.JobInboundDelta,
		Priority:  models.PriorityHigh,
		DedupeKey: database.DedupeKey("webhook_delta", secrets.UserID, bucket),
	}
	if err := s.orch.EnqueueJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("user_id", secrets.UserID).Msg("failed to enqueue delta job")
	}

	metrics.IncWebhook("accepted")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
