package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"calsync/internal/database"
	"calsync/internal/export"
	"calsync/internal/models"
)

// cronAuthorized checks the shared scheduler secret. The secret travels in
// a header so it never lands in access logs.
func (s *HTTPServer) cronAuthorized(w http.ResponseWriter, r *http.Request) bool {
	secret := s.cfg.Security.CronSecret
	provided := r.Header.Get("X-Cron-Secret")
	if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

// handleCronSync sweeps the queue for due jobs. It backstops the webhook
// path: even with no notifications, every connected user converges.
func (s *HTTPServer) handleCronSync(w http.ResponseWriter, r *http.Request) {
	if !s.cronAuthorized(w, r) {
		return
	}
	ctx := r.Context()

	users, err := s.store.ConnectedUserIDs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list connected users")
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	bucket := time.Now().UTC().Truncate(models.WebhookDedupeBucket).Format("2006-01-02T15:04")
	for _, userID := range users {
		job := &models.Job{
			UserID:    userID,
			JobType:   models.JobInboundDelta,
			Priority:  models.PriorityLow,
			DedupeKey: database.DedupeKey("cron_delta", userID, bucket),
		}
		if err := s.orch.EnqueueJob(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to enqueue cron delta")
		}
	}

	processed, failed, err := s.orch.RunBatch(ctx, s.cfg.Sync.CronBatch)
	if err != nil {
		s.logger.Error().Err(err).Msg("cron batch failed")
		writeError(w, http.StatusInternalServerError, "cron batch failed")
		return
	}

	// Settled jobs past retention are purged on the same sweep.
	cutoff := time.Now().UTC().AddDate(0, 0, -models.JobRetentionDays)
	if purged, perr := s.store.PurgeJobs(ctx, cutoff); perr != nil {
		s.logger.Warn().Err(perr).Msg("queue purge failed")
	} else if purged > 0 {
		s.logger.Info().Int64("purged", purged).Msg("settled jobs purged")
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"users":     len(users),
		"processed": processed,
		"failed":    failed,
	})
}

// handleCronWatchRenew re-registers watch channels that expire soon.
func (s *HTTPServer) handleCronWatchRenew(w http.ResponseWriter, r *http.Request) {
	if !s.cronAuthorized(w, r) {
		return
	}
	enqueued, err := s.orch.RenewExpiringWatches(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("watch renewal sweep failed")
		writeError(w, http.StatusInternalServerError, "renewal sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"enqueued": enqueued})
}

// handleQueueExport streams an xlsx report of dead and failed jobs for
// operator triage.
func (s *HTTPServer) handleQueueExport(w http.ResponseWriter, r *http.Request, userID string) {
	ctx := r.Context()

	dead, err := s.store.DeadJobs(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load dead jobs")
		return
	}
	failed, err := s.store.FailedJobs(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load failed jobs")
		return
	}

	if r.URL.Query().Get("persist") == "1" {
		path, err := export.SaveQueueReport(s.cfg.Exports.Path, dead, failed)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to save queue report")
			writeError(w, http.StatusInternalServerError, "failed to save report")
			return
		}
		s.logger.Info().Str("user_id", userID).Str("path", path).Msg("queue report saved")
		writeJSON(w, http.StatusOK, map[string]string{"path": path})
		return
	}

	report, err := export.QueueReport(dead, failed)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to build queue report")
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	s.logger.Info().Str("user_id", userID).Int("dead", len(dead)).Int("failed", len(failed)).Msg("queue report requested")
	name := fmt.Sprintf("queue-report-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := report.Write(w); err != nil {
		s.logger.Error().Err(err).Msg("failed to write queue report")
	}
}
