package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/resellsync/crosslist/internal/marketplace"
	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/repository"
	"github.com/resellsync/crosslist/pkg/backoff"
	apperrors "github.com/resellsync/crosslist/pkg/errors"
	"github.com/resellsync/crosslist/pkg/logger"
	"github.com/resellsync/crosslist/pkg/metrics"
	"github.com/resellsync/crosslist/pkg/ratelimit"
)

// Config tunes the scheduler.
type Config struct {
	MaxConcurrentJobs int
	TickInterval      time.Duration
	JobTimeout        time.Duration
	MaxAttempts       int
	Backoff           backoff.Policy
	StuckJobTimeout   time.Duration
}

// Queue schedules listing jobs against marketplace adapters. It owns all of
// its state and is started/stopped explicitly, so independent instances can
// coexist.
type Queue struct {
	cfg      Config
	jobs     repository.ListingJobRepository
	listings repository.ListingRepository
	audit    repository.AuditLogRepository
	adapters *marketplace.Registry
	limiter  *ratelimit.Registry
	logger   *logger.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func New(
	cfg Config,
	jobs repository.ListingJobRepository,
	listings repository.ListingRepository,
	audit repository.AuditLogRepository,
	adapters *marketplace.Registry,
	limiter *ratelimit.Registry,
	log *logger.Logger,
	m *metrics.Metrics,
) *Queue {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 5
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 120 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.StuckJobTimeout <= 0 {
		cfg.StuckJobTimeout = 10 * time.Minute
	}
	return &Queue{
		cfg:      cfg,
		jobs:     jobs,
		listings: listings,
		audit:    audit,
		adapters: adapters,
		limiter:  limiter,
		logger:   log.WithComponent("listing-queue"),
		metrics:  m,
		inFlight: make(map[uuid.UUID]struct{}),
	}
}

// Start launches the scheduler tick and the stuck-job janitor.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)

	q.logger.Info("starting listing job queue",
		"max_concurrent", q.cfg.MaxConcurrentJobs,
		"tick_interval", q.cfg.TickInterval.String())

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.ProcessNext(ctx)
			}
		}
	}()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cfg.StuckJobTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := q.jobs.RequeueStuck(ctx, q.cfg.StuckJobTimeout)
				if err != nil {
					q.logger.Error(err, "failed to requeue stuck jobs")
				} else if n > 0 {
					q.logger.Warn("requeued stuck jobs", "count", n)
				}
			}
		}
	}()
}

// Stop cancels the scheduler and waits for in-flight executions to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	q.logger.Info("listing job queue stopped")
}

// Enqueue validates and persists a new job.
func (q *Queue) Enqueue(ctx context.Context, job *model.ListingJob) (uuid.UUID, error) {
	if job.Marketplace == "" {
		return uuid.Nil, apperrors.BadRequest("marketplace is required", nil)
	}
	if job.Payload.Title == "" {
		return uuid.Nil, apperrors.BadRequest("listing title is required", nil)
	}
	if job.Payload.Price <= 0 {
		return uuid.Nil, apperrors.BadRequest("listing price must be positive", nil)
	}

	job.ID = uuid.New()
	job.Status = model.ListingJobStatusPending
	job.Attempts = 0
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.cfg.MaxAttempts
	}

	if err := q.jobs.Create(ctx, job); err != nil {
		return uuid.Nil, err
	}

	if q.metrics != nil {
		q.metrics.JobsEnqueued.WithLabelValues(job.Marketplace).Inc()
	}
	q.logger.Debug("enqueued listing job", "job_id", job.ID.String(), "marketplace", job.Marketplace)
	return job.ID, nil
}

// GetStatus returns the current job row.
func (q *Queue) GetStatus(ctx context.Context, id uuid.UUID) (*model.ListingJob, error) {
	return q.jobs.GetByID(ctx, id)
}

// Cancel moves a pending or retrying job to failed with a cancellation
// reason. A job already processing is not preempted.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := q.jobs.Cancel(ctx, id, "cancelled by user")
	if err != nil {
		return false, err
	}
	if ok {
		q.auditJob(ctx, id, uuid.Nil, "listing_job.cancelled", nil)
	}
	return ok, nil
}

// Retry resets a failed job so the scheduler picks it up again.
func (q *Queue) Retry(ctx context.Context, id uuid.UUID) (bool, error) {
	return q.jobs.ResetForRetry(ctx, id)
}

// ProcessNext performs one admission pass: claim due jobs up to the free
// concurrency budget and launch them. Admission never blocks on execution;
// each claimed job runs in its own goroutine and reports back into the
// in-flight set.
func (q *Queue) ProcessNext(ctx context.Context) {
	q.mu.Lock()
	capacity := q.cfg.MaxConcurrentJobs - len(q.inFlight)
	q.mu.Unlock()
	if capacity <= 0 {
		return
	}

	claimed, err := q.jobs.ClaimDue(ctx, capacity)
	if err != nil {
		q.logger.Error(err, "failed to claim due jobs")
		return
	}

	for _, job := range claimed {
		q.mu.Lock()
		if _, running := q.inFlight[job.ID]; running {
			q.mu.Unlock()
			continue
		}
		q.inFlight[job.ID] = struct{}{}
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.JobsInFlight.Inc()
		}

		q.wg.Add(1)
		go func(job *model.ListingJob) {
			defer q.wg.Done()
			defer func() {
				q.mu.Lock()
				delete(q.inFlight, job.ID)
				q.mu.Unlock()
				if q.metrics != nil {
					q.metrics.JobsInFlight.Dec()
				}
			}()
			q.run(ctx, job)
		}(job)
	}
}

func (q *Queue) run(ctx context.Context, job *model.ListingJob) {
	log := q.logger.WithFields(map[string]interface{}{
		"job_id":      job.ID.String(),
		"marketplace": job.Marketplace,
		"attempt":     job.Attempts,
	})

	adapter, err := q.adapters.Resolve(job.Marketplace)
	if err != nil {
		log.Warn("no marketplace connection, failing job")
		q.fail(ctx, job, fmt.Sprintf("no active connection for %s", job.Marketplace))
		return
	}

	jctx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	defer cancel()

	var result *marketplace.CreateResult
	start := time.Now()
	err = q.limiter.Execute(jctx, job.Marketplace, job.UserID.String(), func() error {
		var cerr error
		result, cerr = adapter.CreateListing(jctx, job.Payload)
		return cerr
	})
	if q.metrics != nil {
		q.metrics.JobDuration.WithLabelValues(job.Marketplace).Observe(time.Since(start).Seconds())
	}

	if err == nil {
		q.complete(ctx, job, result)
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("marketplace call timed out after %s", q.cfg.JobTimeout)
	}

	permanent := marketplace.IsAuth(err) || marketplace.IsValidation(err)
	if !permanent && job.Attempts < job.MaxAttempts {
		delay := q.cfg.Backoff.DelayFor(job.Attempts)
		nextRun := time.Now().Add(delay)
		log.Warn("listing job attempt failed, retrying",
			"error", err.Error(), "next_run", nextRun.Format(time.RFC3339))
		if uerr := q.jobs.MarkRetrying(ctx, job.ID, nextRun, err.Error()); uerr != nil {
			q.logger.Error(uerr, "failed to mark job retrying", "job_id", job.ID.String())
		}
		if q.metrics != nil {
			q.metrics.JobsRetried.WithLabelValues(job.Marketplace).Inc()
		}
		return
	}

	log.Error(err, "listing job failed")
	q.fail(ctx, job, err.Error())
}

func (q *Queue) complete(ctx context.Context, job *model.ListingJob, res *marketplace.CreateResult) {
	result := model.ListingResult{
		ExternalID:  res.ExternalID,
		ExternalURL: res.ExternalURL,
		Status:      res.Status,
		Fees:        res.Fees,
	}

	if err := q.listings.ApplyResult(ctx, job.ListingID, result); err != nil {
		q.logger.Error(err, "failed to apply listing result", "job_id", job.ID.String())
	}
	if err := q.jobs.MarkCompleted(ctx, job.ID, result); err != nil {
		q.logger.Error(err, "failed to mark job completed", "job_id", job.ID.String())
		return
	}

	if q.metrics != nil {
		q.metrics.JobsCompleted.WithLabelValues(job.Marketplace).Inc()
	}
	q.auditJob(ctx, job.ID, job.UserID, "listing_job.completed", map[string]interface{}{
		"marketplace": job.Marketplace,
		"external_id": result.ExternalID,
		"attempts":    job.Attempts,
	})
}

func (q *Queue) fail(ctx context.Context, job *model.ListingJob, reason string) {
	if err := q.jobs.MarkFailed(ctx, job.ID, reason); err != nil {
		q.logger.Error(err, "failed to mark job failed", "job_id", job.ID.String())
		return
	}
	if err := q.listings.MarkRejected(ctx, job.ListingID, reason); err != nil {
		q.logger.Error(err, "failed to mark listing rejected", "listing_id", job.ListingID.String())
	}

	if q.metrics != nil {
		q.metrics.JobsFailed.WithLabelValues(job.Marketplace).Inc()
	}
	q.auditJob(ctx, job.ID, job.UserID, "listing_job.failed", map[string]interface{}{
		"marketplace": job.Marketplace,
		"reason":      reason,
		"attempts":    job.Attempts,
	})
}

func (q *Queue) auditJob(ctx context.Context, jobID, userID uuid.UUID, action string, detail map[string]interface{}) {
	var raw json.RawMessage
	if detail != nil {
		raw, _ = json.Marshal(detail)
	}
	entry := &model.AuditLog{
		UserID:     userID,
		EntityType: "listing_job",
		EntityID:   jobID,
		Action:     action,
		Detail:     raw,
	}
	if err := q.audit.Create(ctx, entry); err != nil {
		q.logger.Error(err, "failed to write audit log", "job_id", jobID.String())
	}
}
