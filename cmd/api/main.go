package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"calsync/internal/api"
	"calsync/internal/config"
	"calsync/internal/crypto"
	"calsync/internal/database"
	"calsync/internal/domain"
	"calsync/internal/google"
	"calsync/internal/logging"
	"calsync/internal/metrics"
	"calsync/internal/oauth"
	"calsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	vault, err := crypto.NewVault(cfg.Security.EncryptionKey)
	if err != nil {
		logger.Error().Err(err).Msg("init vault")
		return err
	}

	broker := oauth.NewBroker(cfg.Google, cfg.Security.StateSecret)

	newClient := func(ctx context.Context, accessToken string) (domain.CalendarAPI, error) {
		return google.NewClient(ctx, accessToken)
	}

	syncWorker := worker.New(db, db, vault, broker, newClient, redisClient, worker.Options{
		Workers:      cfg.Sync.Workers,
		ClaimBatch:   cfg.Sync.ClaimBatch,
		PollInterval: time.Duration(cfg.Sync.PollInterval) * time.Second,
		MaxAttempts:  cfg.Sync.MaxAttempts,
		WebhookURL:   webhookURL(cfg),
	}, &logger)

	httpServer := api.NewHTTPServer(cfg, db, syncWorker, broker, vault, newClient, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		syncWorker.Start(ctx)
	}()

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()
	logger.Info().Int("http_port", cfg.API.Port).Int("workers", cfg.Sync.Workers).Msg("sync engine started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	// Workers exit once the context is cancelled; wait so in-flight jobs finish.
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
	}

	logger.Info().Msg("sync engine stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func webhookURL(cfg *config.Config) string {
	base := strings.TrimRight(cfg.Google.WebhookBaseURL, "/")
	if base == "" {
		return ""
	}
	return base + "/api/v1/calendar/webhook"
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
