package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"calsync/internal/config"
	"calsync/internal/domain"
	"calsync/internal/metrics"
	"calsync/internal/models"
	"calsync/internal/worker"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Orchestrator is the worker surface the HTTP layer drives.
type Orchestrator interface {
	EnqueueJob(ctx context.Context, job *models.Job) error
	SyncNow(ctx context.Context, userID string, batch int) (processed, failed int, err error)
	RunBatch(ctx context.Context, batch int) (processed, failed int, err error)
	RenewExpiringWatches(ctx context.Context) (int, error)
	ValidAccessToken(ctx context.Context, userID string) (string, error)
}

// OAuthBroker is the consent-flow surface the HTTP layer drives.
type OAuthBroker interface {
	CreateState(userID string) (string, error)
	ParseState(state string) (string, error)
	ConsentURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUserEmail(ctx context.Context, token *oauth2.Token) (string, error)
}

// Vault is the encryption surface the HTTP layer needs.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// HTTPServer exposes the sync engine's external surface: the connect flow,
// status and mutations, the webhook receiver and the cron endpoints.
type HTTPServer struct {
	cfg       *config.Config
	store     worker.Store
	orch      Orchestrator
	broker    OAuthBroker
	vault     Vault
	newClient domain.CalendarClientFactory
	auth      *Auth
	logger    zerolog.Logger
	server    *http.Server
}

func NewHTTPServer(cfg *config.Config, store worker.Store, orch Orchestrator,
	broker OAuthBroker, vault Vault, newClient domain.CalendarClientFactory,
	logger *zerolog.Logger) *HTTPServer {

	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http").Logger()
	}

	srv := &HTTPServer{
		cfg:       cfg,
		store:     store,
		orch:      orch,
		broker:    broker,
		vault:     vault,
		newClient: newClient,
		auth:      NewAuth(cfg.API),
		logger:    base,
	}

	mux := http.NewServeMux()

	// Provider-facing and operational endpoints carry their own auth.
	mux.HandleFunc("/api/v1/calendar/webhook", srv.handleWebhook)
	mux.HandleFunc("/api/v1/calendar/callback", srv.handleCallback)
	mux.HandleFunc("/api/v1/cron/calendar-sync", srv.handleCronSync)
	mux.HandleFunc("/api/v1/cron/calendar-watch-renew", srv.handleCronWatchRenew)
	mux.HandleFunc("/healthz", srv.handleHealth)

	// User-facing endpoints require a resolved user id.
	mux.HandleFunc("/api/v1/calendar/connect-url", srv.authenticated(srv.handleConnectURL))
	mux.HandleFunc("/api/v1/calendar/status", srv.authenticated(srv.handleStatus))
	mux.HandleFunc("/api/v1/calendar/calendars", srv.authenticated(srv.handleListCalendars))
	mux.HandleFunc("/api/v1/calendar/select-calendar", srv.authenticated(srv.handleSelectCalendar))
	mux.HandleFunc("/api/v1/calendar/disconnect", srv.authenticated(srv.handleDisconnect))
	mux.HandleFunc("/api/v1/calendar/list-sync", srv.authenticated(srv.handleListSync))
	mux.HandleFunc("/api/v1/calendar/sync-now", srv.authenticated(srv.handleSyncNow))
	mux.HandleFunc("/api/v1/admin/queue-export", srv.authenticated(srv.handleQueueExport))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

// authenticated resolves the bearer token to a user id and applies the
// per-token rate limit before invoking the handler.
func (s *HTTPServer) authenticated(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !s.auth.Allow(userID) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r, userID)
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.IncHTTP(r.URL.Path)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
