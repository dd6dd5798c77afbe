package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"calsync/internal/domain"
	"calsync/internal/metrics"
	"calsync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	redisWakeKey       = "calsync:wake"
	redisDeadLetterKey = "calsync:deadletter"
)

// Store bundles the repositories the worker needs. *database.DB satisfies it.
type Store interface {
	domain.Queue
	domain.ConnectionRepository
	domain.EventLinkRepository
	domain.ListSettingsRepository
}

// Vault is the subset of the credential vault the worker uses.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// Worker is the sync orchestrator: a pool of claim loops routing jobs by
// type. The queue's atomic claim is the only concurrency-safety mechanism;
// races on the same task resolve last-write-wins at the event_links upsert.
type Worker struct {
	store      Store
	tasks      domain.TaskStore
	vault      Vault
	broker     Broker
	newClient  domain.CalendarClientFactory
	redis      *redis.Client
	retry      RetryPolicy
	logger     zerolog.Logger
	webhookURL string

	workers      int
	claimBatch   int
	pollInterval time.Duration
	maxAttempts  int
}

// Broker is the OAuth surface the worker needs for token refresh.
type Broker interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Options tune the worker pool.
type Options struct {
	Workers      int
	ClaimBatch   int
	PollInterval time.Duration
	MaxAttempts  int
	WebhookURL   string
}

func New(store Store, tasks domain.TaskStore, vault Vault, broker Broker,
	newClient domain.CalendarClientFactory, redisClient *redis.Client,
	opts Options, logger *zerolog.Logger) *Worker {

	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.ClaimBatch <= 0 {
		opts.ClaimBatch = models.DefaultClaimBatch
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = models.DefaultMaxAttempts
	}

	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "sync_worker").Logger()
	}

	return &Worker{
		store:        store,
		tasks:        tasks,
		vault:        vault,
		broker:       broker,
		newClient:    newClient,
		redis:        redisClient,
		retry:        DefaultRetryPolicy(),
		logger:       base,
		webhookURL:   opts.WebhookURL,
		workers:      opts.Workers,
		claimBatch:   opts.ClaimBatch,
		pollInterval: opts.PollInterval,
		maxAttempts:  opts.MaxAttempts,
	}
}

// EnqueueJob persists the job and nudges a sleeping worker via redis.
// The durable row is the source of truth; the redis hint is best effort.
func (w *Worker) EnqueueJob(ctx context.Context, job *models.Job) error {
	if job.MaxAttempts == 0 {
		job.MaxAttempts = w.maxAttempts
	}
	if err := w.store.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("persist job: %w", err)
	}
	metrics.IncJobEnqueued(job.JobType)

	if w.redis != nil && job.ID != 0 {
		if err := w.redis.LPush(ctx, redisWakeKey, strconv.FormatInt(job.ID, 10)).Err(); err != nil {
			w.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("redis wake push failed")
		}
	}
	return nil
}

// Start launches the worker pool; blocks until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Int("workers", w.workers).Msg("sync worker started")
	defer w.logger.Info().Msg("sync worker stopped")

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.loop(ctx, n)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, n int) {
	logger := w.logger.With().Int("worker", n).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobs, err := w.store.Claim(ctx, w.claimBatch, "")
		if err != nil {
			logger.Error().Err(err).Msg("claim failed")
			w.idle(ctx)
			continue
		}
		if len(jobs) == 0 {
			w.idle(ctx)
			continue
		}

		for i := range jobs {
			w.Process(ctx, &jobs[i])
		}
	}
}

// idle blocks on the redis wake list when available, otherwise sleeps.
func (w *Worker) idle(ctx context.Context) {
	if w.redis != nil {
		_, err := w.redis.BRPop(ctx, w.pollInterval, redisWakeKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) {
			w.logger.Warn().Err(err).Msg("redis wake pop failed")
		}
		return
	}

	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

// Process runs one claimed job to completion or failure.
func (w *Worker) Process(ctx context.Context, job *models.Job) {
	start := time.Now()
	err := w.dispatch(ctx, job)
	metrics.ObserveJobDuration(job.JobType, time.Since(start))

	if err == nil {
		if cerr := w.store.Complete(ctx, job.ID); cerr != nil {
			w.logger.Error().Err(cerr).Int64("job_id", job.ID).Msg("mark done failed")
		}
		metrics.IncJobProcessed(job.JobType)
		return
	}

	w.logger.Error().Err(err).
		Int64("job_id", job.ID).
		Str("job_type", job.JobType).
		Str("user_id", job.UserID).
		Int("attempt", job.AttemptCount).
		Msg("job handler failed")

	delay := w.retry.Backoff(job.AttemptCount)
	if ferr := w.store.Fail(ctx, job.ID, err.Error(), delay); ferr != nil {
		w.logger.Error().Err(ferr).Int64("job_id", job.ID).Msg("mark failed failed")
	}
	metrics.IncJobFailed(job.JobType)

	// Handler errors also surface on the connection health record.
	msg := err.Error()
	if herr := w.store.SetConnectionStatus(ctx, job.UserID, models.ConnectionError, &msg); herr != nil {
		w.logger.Warn().Err(herr).Str("user_id", job.UserID).Msg("update connection health failed")
	}

	if job.AttemptCount+1 >= job.MaxAttempts {
		metrics.IncJobDead(job.JobType)
		w.pushDeadLetter(ctx, job, err)
	}
}

func (w *Worker) dispatch(ctx context.Context, job *models.Job) error {
	switch job.JobType {
	case models.JobTaskUpsert:
		return w.handleTaskUpsert(ctx, job)
	case models.JobTaskDelete:
		return w.handleTaskDelete(ctx, job)
	case models.JobFullBackfill:
		return w.handleFullBackfill(ctx, job)
	case models.JobInboundDelta:
		return w.handleInboundDelta(ctx, job)
	case models.JobRenewWatch:
		return w.handleRenewWatch(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

// SyncNow claims and processes up to batch jobs for one user inline, so a
// user-triggered sync never touches other users' jobs.
func (w *Worker) SyncNow(ctx context.Context, userID string, batch int) (processed, failed int, err error) {
	if batch <= 0 || batch > models.SyncNowBatch {
		batch = models.SyncNowBatch
	}
	jobs, err := w.store.Claim(ctx, batch, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("claim user jobs: %w", err)
	}
	for i := range jobs {
		before := jobs[i].AttemptCount
		w.Process(ctx, &jobs[i])
		refreshed, gerr := w.store.GetJob(ctx, jobs[i].ID)
		if gerr == nil && refreshed.AttemptCount > before {
			failed++
		} else {
			processed++
		}
	}
	return processed, failed, nil
}

// RunBatch claims and processes up to batch due jobs across all users;
// invoked by the cron endpoint.
func (w *Worker) RunBatch(ctx context.Context, batch int) (processed, failed int, err error) {
	jobs, err := w.store.Claim(ctx, batch, "")
	if err != nil {
		return 0, 0, fmt.Errorf("claim jobs: %w", err)
	}
	for i := range jobs {
		before := jobs[i].AttemptCount
		w.Process(ctx, &jobs[i])
		refreshed, gerr := w.store.GetJob(ctx, jobs[i].ID)
		if gerr == nil && refreshed.AttemptCount > before {
			failed++
		} else {
			processed++
		}
	}
	return processed, failed, nil
}

// RenewExpiringWatches enqueues a renew_watch job for every connection whose
// channel expires within the renewal window.
func (w *Worker) RenewExpiringWatches(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(models.WatchRenewalWindow)
	userIDs, err := w.store.ExpiringWatchUserIDs(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, userID := range userIDs {
		job := &models.Job{
			UserID:    userID,
			JobType:   models.JobRenewWatch,
			Priority:  models.PriorityLow,
			DedupeKey: dedupeKey(models.JobRenewWatch, userID, time.Now().UTC().Format("2006-01-02")),
		}
		if err := w.EnqueueJob(ctx, job); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	return enqueued, nil
}

func (w *Worker) pushDeadLetter(ctx context.Context, job *models.Job, cause error) {
	if w.redis == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"job_id":   job.ID,
		"user_id":  job.UserID,
		"job_type": job.JobType,
		"error":    cause.Error(),
		"dead_at":  time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := w.redis.LPush(ctx, redisDeadLetterKey, payload).Err(); err != nil {
		w.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("deadletter push failed")
	}
}

func dedupeKey(parts ...string) *string {
	key := parts[0]
	for _, p := range parts[1:] {
		key += ":" + p
	}
	return &key
}
