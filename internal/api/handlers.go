package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"calsync/internal/database"
	"calsync/internal/domain"
	"calsync/internal/models"
)

// handleConnectURL returns the provider consent URL with a signed state.
func (s *HTTPServer) handleConnectURL(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	state, err := s.broker.CreateState(userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to create oauth state")
		writeError(w, http.StatusInternalServerError, "failed to create state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": s.broker.ConsentURL(state)})
}

// handleCallback completes the consent flow: it exchanges the code, stores
// encrypted tokens, ensures the dedicated calendar exists, and seeds the
// backfill and watch jobs. The browser is always redirected back to the
// frontend, with a reason on failure.
func (s *HTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		s.logger.Warn().Str("error", errParam).Msg("oauth consent denied")
		s.redirectFrontend(w, r, "error", "consent_denied")
		return
	}

	userID, err := s.broker.ParseState(q.Get("state"))
	if err != nil {
		s.logger.Warn().Err(err).Msg("invalid oauth state")
		s.redirectFrontend(w, r, "error", "invalid_state")
		return
	}

	token, err := s.broker.ExchangeCode(ctx, q.Get("code"))
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("code exchange failed")
		s.redirectFrontend(w, r, "error", "exchange_failed")
		return
	}

	// Google only returns a refresh token on the first consent. On a
	// reconnect we keep the one already stored, and the live watch channel
	// and delta cursor must survive the secrets rewrite.
	prior, perr := s.store.GetSecrets(ctx, userID)
	if perr != nil {
		prior = nil
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" && prior != nil {
		if decrypted, derr := s.vault.Decrypt(prior.RefreshTokenEnc); derr == nil {
			refreshToken = decrypted
		}
	}
	if refreshToken == "" {
		s.logger.Error().Str("user_id", userID).Msg("no refresh token available")
		s.redirectFrontend(w, r, "error", "no_refresh_token")
		return
	}

	refreshEnc, err := s.vault.Encrypt(refreshToken)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to encrypt refresh token")
		s.redirectFrontend(w, r, "error", "internal")
		return
	}
	accessEnc, err := s.vault.Encrypt(token.AccessToken)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to encrypt access token")
		s.redirectFrontend(w, r, "error", "internal")
		return
	}

	var email *string
	if addr, err := s.broker.FetchUserEmail(ctx, token); err == nil && addr != "" {
		email = &addr
	}

	client, err := s.newClient(ctx, token.AccessToken)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to build calendar client")
		s.redirectFrontend(w, r, "error", "internal")
		return
	}
	cal, err := client.EnsureNamedCalendar(ctx, s.cfg.Google.CalendarName)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to ensure calendar")
		s.redirectFrontend(w, r, "error", "calendar_setup_failed")
		return
	}

	conn := &models.Connection{
		UserID:          userID,
		Status:          models.ConnectionConnected,
		ProviderEmail:   email,
		CalendarID:      &cal.ID,
		CalendarSummary: &cal.Summary,
	}
	if err := s.store.UpsertConnection(ctx, conn); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to upsert connection")
		s.redirectFrontend(w, r, "error", "internal")
		return
	}

	expiry := token.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}
	secrets := &models.ConnectionSecrets{
		UserID:               userID,
		RefreshTokenEnc:      refreshEnc,
		AccessTokenEnc:       &accessEnc,
		AccessTokenExpiresAt: &expiry,
		CursorState:          models.CursorNone,
	}
	if prior != nil {
		secrets.SyncToken = prior.SyncToken
		secrets.CursorState = prior.CursorState
		secrets.ChannelID = prior.ChannelID
		secrets.ChannelResourceID = prior.ChannelResourceID
		secrets.ChannelTokenHash = prior.ChannelTokenHash
		secrets.ChannelExpiration = prior.ChannelExpiration
	}
	if err := s.store.UpsertSecrets(ctx, secrets); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to store secrets")
		s.redirectFrontend(w, r, "error", "internal")
		return
	}

	bucket := time.Now().UTC().Format("2006-01-02T15:04")
	backfill := &models.Job{
		UserID:    userID,
		JobType:   models.JobFullBackfill,
		Priority:  models.PriorityHigh,
		DedupeKey: database.DedupeKey("connect_backfill", userID, bucket),
	}
	if err := s.orch.EnqueueJob(ctx, backfill); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to enqueue backfill")
	}
	watch := &models.Job{
		UserID:    userID,
		JobType:   models.JobRenewWatch,
		Priority:  models.PriorityHigh,
		DedupeKey: database.DedupeKey("connect_watch", userID, bucket),
	}
	if err := s.orch.EnqueueJob(ctx, watch); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to enqueue watch setup")
	}

	s.logger.Info().Str("user_id", userID).Str("calendar_id", cal.ID).Msg("calendar connected")
	s.redirectFrontend(w, r, "connected", "")
}

func (s *HTTPServer) redirectFrontend(w http.ResponseWriter, r *http.Request, outcome, reason string) {
	target, err := url.Parse(s.cfg.App.FrontendURL)
	if err != nil || s.cfg.App.FrontendURL == "" {
		writeJSON(w, http.StatusOK, map[string]string{"calendar": outcome, "reason": reason})
		return
	}
	q := target.Query()
	q.Set("calendar", outcome)
	if reason != "" {
		q.Set("reason", reason)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

type statusResponse struct {
	Status                string                   `json:"status"`
	ProviderEmail         *string                  `json:"provider_email,omitempty"`
	CalendarID            *string                  `json:"selected_calendar_id,omitempty"`
	CalendarSummary       *string                  `json:"selected_calendar_summary,omitempty"`
	LastFullSyncAt        *time.Time               `json:"last_full_sync_at,omitempty"`
	LastIncrementalSyncAt *time.Time               `json:"last_incremental_sync_at,omitempty"`
	LastError             *string                  `json:"last_error,omitempty"`
	CursorState           string                   `json:"cursor_state,omitempty"`
	WatchExpiresAt        *time.Time               `json:"watch_expires_at,omitempty"`
	Lists                 []models.ListSyncSetting `json:"lists"`
}

// handleStatus reports connection health without exposing any secrets.
func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request, userID string) {
	ctx := r.Context()

	conn, err := s.store.GetConnection(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		writeJSON(w, http.StatusOK, statusResponse{Status: models.ConnectionDisconnected, Lists: []models.ListSyncSetting{}})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load connection")
		return
	}

	resp := statusResponse{
		Status:                conn.Status,
		ProviderEmail:         conn.ProviderEmail,
		CalendarID:            conn.CalendarID,
		CalendarSummary:       conn.CalendarSummary,
		LastFullSyncAt:        conn.LastFullSyncAt,
		LastIncrementalSyncAt: conn.LastIncrementalSyncAt,
		LastError:             conn.LastError,
		Lists:                 []models.ListSyncSetting{},
	}

	if secrets, err := s.store.GetSecrets(ctx, userID); err == nil {
		resp.CursorState = secrets.CursorState
		resp.WatchExpiresAt = secrets.ChannelExpiration
	}
	if lists, err := s.store.ListSyncSettings(ctx, userID); err == nil {
		resp.Lists = lists
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleListCalendars returns the calendars visible to the connected account.
func (s *HTTPServer) handleListCalendars(w http.ResponseWriter, r *http.Request, userID string) {
	client, err := s.userClient(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusConflict, "calendar is not connected")
		return
	}
	calendars, err := client.ListCalendars(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to list calendars")
		writeError(w, http.StatusBadGateway, "failed to list calendars")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calendars": calendars})
}

type selectCalendarRequest struct {
	CalendarID string `json:"calendar_id"`
	Summary    string `json:"summary"`
}

// handleSelectCalendar points the sync at a different target calendar and
// schedules a backfill into it.
func (s *HTTPServer) handleSelectCalendar(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req selectCalendarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CalendarID == "" {
		writeError(w, http.StatusBadRequest, "calendar_id is required")
		return
	}
	ctx := r.Context()

	summary := req.Summary
	if summary == "" {
		if client, err := s.userClient(ctx, userID); err == nil {
			if calendars, err := client.ListCalendars(ctx); err == nil {
				for _, c := range calendars {
					if c.ID == req.CalendarID {
						summary = c.Summary
						break
					}
				}
			}
		}
	}

	if err := s.store.SelectCalendar(ctx, userID, req.CalendarID, summary); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to select calendar")
		return
	}

	job := &models.Job{
		UserID:    userID,
		JobType:   models.JobFullBackfill,
		Priority:  models.PriorityHigh,
		DedupeKey: database.DedupeKey("select_backfill", userID, req.CalendarID, time.Now().UTC().Format("2006-01-02T15:04")),
	}
	if err := s.orch.EnqueueJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to enqueue backfill")
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleDisconnect stops the watch channel best-effort and deletes all
// stored credentials. The public connection record survives as history.
func (s *HTTPServer) handleDisconnect(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	if secrets, err := s.store.GetSecrets(ctx, userID); err == nil &&
		secrets.ChannelID != nil && secrets.ChannelResourceID != nil {
		if client, err := s.userClient(ctx, userID); err == nil {
			if err := client.StopWatchChannel(ctx, *secrets.ChannelID, *secrets.ChannelResourceID); err != nil {
				s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to stop watch channel")
			}
		}
	}

	if err := s.store.Disconnect(ctx, userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}
	s.logger.Info().Str("user_id", userID).Msg("calendar disconnected")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type listSyncRequest struct {
	ListID  string `json:"list_id"`
	Enabled bool   `json:"enabled"`
}

// handleListSync toggles the per-list opt-in. Enabling a list schedules a
// backfill scoped to it so existing tasks appear on the calendar.
func (s *HTTPServer) handleListSync(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req listSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ListID == "" {
		writeError(w, http.StatusBadRequest, "list_id is required")
		return
	}
	ctx := r.Context()

	if err := s.store.SetListSync(ctx, userID, req.ListID, req.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update list setting")
		return
	}

	if req.Enabled {
		job := &models.Job{
			UserID:    userID,
			ListID:    &req.ListID,
			JobType:   models.JobFullBackfill,
			Priority:  models.PriorityHigh,
			DedupeKey: database.DedupeKey("list_backfill", userID, req.ListID, time.Now().UTC().Format("2006-01-02T15:04")),
		}
		if err := s.orch.EnqueueJob(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Str("list_id", req.ListID).Msg("failed to enqueue list backfill")
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleSyncNow drains the user's pending jobs synchronously.
func (s *HTTPServer) handleSyncNow(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	processed, failed, err := s.orch.SyncNow(r.Context(), userID, models.SyncNowBatch)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("sync-now failed")
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed, "failed": failed})
}

// userClient builds a calendar client with a valid access token for the user.
func (s *HTTPServer) userClient(ctx context.Context, userID string) (domain.CalendarAPI, error) {
	token, err := s.orch.ValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	client, err := s.newClient(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to build calendar client: %w", err)
	}
	return client, nil
}
