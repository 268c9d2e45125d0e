package queue

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resellsync/crosslist/internal/marketplace"
	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/repository"
	"github.com/resellsync/crosslist/pkg/backoff"
	"github.com/resellsync/crosslist/pkg/logger"
	"github.com/resellsync/crosslist/pkg/ratelimit"
)

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*model.ListingJob
	// reclaimProcessing makes ClaimDue hand out processing jobs again,
	// simulating a store without claim semantics, to exercise the
	// in-flight guard.
	reclaimProcessing bool
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*model.ListingJob)}
}

func (r *fakeJobRepo) Create(_ context.Context, job *model.ListingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id uuid.UUID) (*model.ListingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *fakeJobRepo) ClaimDue(_ context.Context, limit int) ([]*model.ListingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var due []*model.ListingJob
	for _, job := range r.jobs {
		claimable := job.Status == model.ListingJobStatusPending || job.Status == model.ListingJobStatusRetrying
		if r.reclaimProcessing && job.Status == model.ListingJobStatusProcessing {
			claimable = true
		}
		if claimable && (job.ScheduledFor == nil || !job.ScheduledFor.After(now)) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*model.ListingJob, 0, len(due))
	for _, job := range due {
		if !(r.reclaimProcessing && job.Status == model.ListingJobStatusProcessing) {
			job.Status = model.ListingJobStatusProcessing
			job.Attempts++
		}
		cp := *job
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeJobRepo) MarkCompleted(_ context.Context, id uuid.UUID, result model.ListingResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job.Status != model.ListingJobStatusProcessing {
		return nil
	}
	job.Status = model.ListingJobStatusCompleted
	job.Result = &result
	now := time.Now()
	job.CompletedAt = &now
	return nil
}

func (r *fakeJobRepo) MarkRetrying(_ context.Context, id uuid.UUID, nextRun time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job.Status != model.ListingJobStatusProcessing {
		return nil
	}
	job.Status = model.ListingJobStatusRetrying
	job.ScheduledFor = &nextRun
	job.LastError = &reason
	return nil
}

func (r *fakeJobRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job.Status != model.ListingJobStatusProcessing {
		return nil
	}
	job.Status = model.ListingJobStatusFailed
	job.LastError = &reason
	now := time.Now()
	job.CompletedAt = &now
	return nil
}

func (r *fakeJobRepo) Cancel(_ context.Context, id uuid.UUID, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if job.Status != model.ListingJobStatusPending && job.Status != model.ListingJobStatusRetrying {
		return false, nil
	}
	job.Status = model.ListingJobStatusFailed
	job.LastError = &reason
	return true, nil
}

func (r *fakeJobRepo) ResetForRetry(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != model.ListingJobStatusFailed {
		return false, nil
	}
	job.Status = model.ListingJobStatusPending
	job.Attempts = 0
	job.LastError = nil
	job.ScheduledFor = nil
	return true, nil
}

func (r *fakeJobRepo) RequeueStuck(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

type fakeListingRepo struct {
	mu       sync.Mutex
	applied  map[uuid.UUID]model.ListingResult
	rejected map[uuid.UUID]string
}

func newFakeListingRepo() *fakeListingRepo {
	return &fakeListingRepo{
		applied:  make(map[uuid.UUID]model.ListingResult),
		rejected: make(map[uuid.UUID]string),
	}
}

func (r *fakeListingRepo) GetByID(context.Context, uuid.UUID) (*model.Listing, error) {
	return nil, repository.ErrNotFound
}
func (r *fakeListingRepo) GetByExternalID(context.Context, string, string) (*model.Listing, error) {
	return nil, repository.ErrNotFound
}
func (r *fakeListingRepo) ListLiveByItem(context.Context, uuid.UUID) ([]*model.Listing, error) {
	return nil, nil
}
func (r *fakeListingRepo) ApplyResult(_ context.Context, id uuid.UUID, result model.ListingResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied[id] = result
	return nil
}
func (r *fakeListingRepo) MarkRejected(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected[id] = reason
	return nil
}
func (r *fakeListingRepo) MarkSold(context.Context, uuid.UUID) error  { return nil }
func (r *fakeListingRepo) MarkEnded(context.Context, uuid.UUID) error { return nil }

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*model.AuditLog
}

func (r *fakeAuditRepo) Create(_ context.Context, entry *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeAuditRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

type fakeAdapter struct {
	name   string
	create func(ctx context.Context, payload model.ListingPayload) (*marketplace.CreateResult, error)
}

func (a *fakeAdapter) Marketplace() string { return a.name }
func (a *fakeAdapter) CreateListing(ctx context.Context, payload model.ListingPayload) (*marketplace.CreateResult, error) {
	return a.create(ctx, payload)
}
func (a *fakeAdapter) EndListing(context.Context, string, marketplace.EndOptions) (*marketplace.EndResult, error) {
	return &marketplace.EndResult{Success: true}, nil
}
func (a *fakeAdapter) GetListing(context.Context, string) (*marketplace.ListingRecord, error) {
	return nil, nil
}
func (a *fakeAdapter) ValidateCredentials(context.Context) (*marketplace.CredentialStatus, error) {
	return &marketplace.CredentialStatus{Success: true, Status: "ok"}, nil
}

func testQueue(t *testing.T, cfg Config, adapters map[string]marketplace.Adapter) (*Queue, *fakeJobRepo, *fakeListingRepo, *fakeAuditRepo) {
	t.Helper()
	jobs := newFakeJobRepo()
	listings := newFakeListingRepo()
	audit := &fakeAuditRepo{}
	if cfg.Backoff.InitialDelay == 0 {
		cfg.Backoff = backoff.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	}
	q := New(cfg, jobs, listings, audit,
		marketplace.NewRegistry(adapters),
		ratelimit.NewRegistry(nil, ratelimit.Config{Strategy: ratelimit.StrategyTokenBucket, Capacity: 1000, Window: time.Second}),
		logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, TimeFormat: time.RFC3339, Output: testWriter{t}}),
		nil)
	return q, jobs, listings, audit
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newJob(marketplaceName string) *model.ListingJob {
	return &model.ListingJob{
		UserID:          uuid.New(),
		InventoryItemID: uuid.New(),
		ListingID:       uuid.New(),
		Marketplace:     marketplaceName,
		Payload:         model.ListingPayload{Title: "Vintage denim jacket", Price: 45, Currency: "USD"},
	}
}

func driveUntil(t *testing.T, q *Queue, jobs *fakeJobRepo, id uuid.UUID, want model.ListingJobStatus) *model.ListingJob {
	t.Helper()
	ctx := context.Background()
	require.Eventually(t, func() bool {
		q.ProcessNext(ctx)
		job, err := jobs.GetByID(ctx, id)
		return err == nil && job.Status == want
	}, 2*time.Second, 2*time.Millisecond)
	job, err := jobs.GetByID(ctx, id)
	require.NoError(t, err)
	return job
}

func TestJobCompletesAfterTransientFailures(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	adapter := &fakeAdapter{name: "ebay", create: func(context.Context, model.ListingPayload) (*marketplace.CreateResult, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return nil, marketplace.NewError(marketplace.KindNetwork, "ebay", "connection reset", nil)
		}
		return &marketplace.CreateResult{ExternalID: "ext-1", ExternalURL: "https://ebay.example/1", Status: "active", Fees: 1.25}, nil
	}}

	q, jobs, listings, audit := testQueue(t, Config{MaxConcurrentJobs: 2, MaxAttempts: 3}, map[string]marketplace.Adapter{"ebay": adapter})

	job := newJob("ebay")
	id, err := q.Enqueue(context.Background(), job)
	require.NoError(t, err)

	final := driveUntil(t, q, jobs, id, model.ListingJobStatusCompleted)
	assert.Equal(t, 3, final.Attempts)
	require.NotNil(t, final.Result)
	assert.Equal(t, "ext-1", final.Result.ExternalID)

	listings.mu.Lock()
	applied := listings.applied[job.ListingID]
	listings.mu.Unlock()
	assert.Equal(t, "ext-1", applied.ExternalID)

	assert.Contains(t, audit.actions(), "listing_job.completed")
}

func TestJobFailsAfterMaxAttempts(t *testing.T) {
	adapter := &fakeAdapter{name: "ebay", create: func(context.Context, model.ListingPayload) (*marketplace.CreateResult, error) {
		return nil, marketplace.NewError(marketplace.KindNetwork, "ebay", "still down", nil)
	}}

	q, jobs, listings, audit := testQueue(t, Config{MaxConcurrentJobs: 2, MaxAttempts: 3}, map[string]marketplace.Adapter{"ebay": adapter})

	job := newJob("ebay")
	id, err := q.Enqueue(context.Background(), job)
	require.NoError(t, err)

	final := driveUntil(t, q, jobs, id, model.ListingJobStatusFailed)
	assert.Equal(t, 3, final.Attempts)
	assert.LessOrEqual(t, final.Attempts, final.MaxAttempts)
	require.NotNil(t, final.LastError)
	assert.Contains(t, *final.LastError, "still down")

	listings.mu.Lock()
	_, rejected := listings.rejected[job.ListingID]
	listings.mu.Unlock()
	assert.True(t, rejected, "listing should be flipped to rejected")

	assert.Contains(t, audit.actions(), "listing_job.failed")
}

func TestNoConnectionFailsWithoutRetry(t *testing.T) {
	q, jobs, _, _ := testQueue(t, Config{MaxConcurrentJobs: 2, MaxAttempts: 3}, nil)

	id, err := q.Enqueue(context.Background(), newJob("bonanza"))
	require.NoError(t, err)

	final := driveUntil(t, q, jobs, id, model.ListingJobStatusFailed)
	assert.Equal(t, 1, final.Attempts)
	assert.Contains(t, *final.LastError, "no active connection")
}

func TestAuthErrorIsNotRetried(t *testing.T) {
	adapter := &fakeAdapter{name: "etsy", create: func(context.Context, model.ListingPayload) (*marketplace.CreateResult, error) {
		return nil, marketplace.NewError(marketplace.KindAuth, "etsy", "token expired", nil)
	}}

	q, jobs, _, _ := testQueue(t, Config{MaxConcurrentJobs: 2, MaxAttempts: 3}, map[string]marketplace.Adapter{"etsy": adapter})

	id, err := q.Enqueue(context.Background(), newJob("etsy"))
	require.NoError(t, err)

	final := driveUntil(t, q, jobs, id, model.ListingJobStatusFailed)
	assert.Equal(t, 1, final.Attempts)
}

func TestAdapterTimeoutCountsTowardRetryBudget(t *testing.T) {
	adapter := &fakeAdapter{name: "ebay", create: func(ctx context.Context, _ model.ListingPayload) (*marketplace.CreateResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	q, jobs, _, _ := testQueue(t,
		Config{MaxConcurrentJobs: 2, MaxAttempts: 2, JobTimeout: 10 * time.Millisecond},
		map[string]marketplace.Adapter{"ebay": adapter})

	id, err := q.Enqueue(context.Background(), newJob("ebay"))
	require.NoError(t, err)

	final := driveUntil(t, q, jobs, id, model.ListingJobStatusFailed)
	assert.Equal(t, 2, final.Attempts)
	assert.Contains(t, *final.LastError, "timed out")
}

func TestCancelPendingJob(t *testing.T) {
	q, jobs, _, _ := testQueue(t, Config{MaxConcurrentJobs: 2}, nil)

	id, err := q.Enqueue(context.Background(), newJob("ebay"))
	require.NoError(t, err)

	ok, err := q.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	job, err := jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.ListingJobStatusFailed, job.Status)
	assert.Equal(t, "cancelled by user", *job.LastError)
}

func TestCancelDoesNotPreemptProcessing(t *testing.T) {
	release := make(chan struct{})
	adapter := &fakeAdapter{name: "ebay", create: func(context.Context, model.ListingPayload) (*marketplace.CreateResult, error) {
		<-release
		return &marketplace.CreateResult{ExternalID: "ext-2", Status: "active"}, nil
	}}

	q, jobs, _, _ := testQueue(t, Config{MaxConcurrentJobs: 2}, map[string]marketplace.Adapter{"ebay": adapter})

	id, err := q.Enqueue(context.Background(), newJob("ebay"))
	require.NoError(t, err)

	q.ProcessNext(context.Background())
	require.Eventually(t, func() bool {
		job, _ := jobs.GetByID(context.Background(), id)
		return job.Status == model.ListingJobStatusProcessing
	}, time.Second, time.Millisecond)

	ok, err := q.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok, "processing job must not be preempted")

	close(release)
	driveUntil(t, q, jobs, id, model.ListingJobStatusCompleted)
}

func TestAdmissionRespectsConcurrencyLimit(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0
	release := make(chan struct{})
	adapter := &fakeAdapter{name: "ebay", create: func(context.Context, model.ListingPayload) (*marketplace.CreateResult, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return &marketplace.CreateResult{ExternalID: "x", Status: "active"}, nil
	}}

	q, _, _, _ := testQueue(t, Config{MaxConcurrentJobs: 2}, map[string]marketplace.Adapter{"ebay": adapter})

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(context.Background(), newJob("ebay"))
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		q.ProcessNext(context.Background())
	}
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	assert.LessOrEqual(t, peak, 2)
	mu.Unlock()
	close(release)
	q.Stop()
}

func TestInFlightGuardPreventsDoubleExecution(t *testing.T) {
	var mu sync.Mutex
	executions := 0
	release := make(chan struct{})
	adapter := &fakeAdapter{name: "ebay", create: func(context.Context, model.ListingPayload) (*marketplace.CreateResult, error) {
		mu.Lock()
		executions++
		mu.Unlock()
		<-release
		return &marketplace.CreateResult{ExternalID: "x", Status: "active"}, nil
	}}

	q, jobs, _, _ := testQueue(t, Config{MaxConcurrentJobs: 5}, map[string]marketplace.Adapter{"ebay": adapter})
	jobs.reclaimProcessing = true

	_, err := q.Enqueue(context.Background(), newJob("ebay"))
	require.NoError(t, err)

	// The repo keeps re-offering the processing job; the in-flight set must
	// swallow the duplicates.
	for i := 0; i < 4; i++ {
		q.ProcessNext(context.Background())
		time.Sleep(2 * time.Millisecond)
	}

	mu.Lock()
	assert.Equal(t, 1, executions)
	mu.Unlock()
	close(release)
	q.Stop()
}

func TestRetryResetsFailedJob(t *testing.T) {
	adapter := &fakeAdapter{name: "ebay", create: func(context.Context, model.ListingPayload) (*marketplace.CreateResult, error) {
		return nil, marketplace.NewError(marketplace.KindNetwork, "ebay", "down", nil)
	}}

	q, jobs, _, _ := testQueue(t, Config{MaxConcurrentJobs: 2, MaxAttempts: 1}, map[string]marketplace.Adapter{"ebay": adapter})

	id, err := q.Enqueue(context.Background(), newJob("ebay"))
	require.NoError(t, err)
	driveUntil(t, q, jobs, id, model.ListingJobStatusFailed)

	ok, err := q.Retry(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	job, err := jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.ListingJobStatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
}

func TestEnqueueValidation(t *testing.T) {
	q, _, _, _ := testQueue(t, Config{}, nil)

	_, err := q.Enqueue(context.Background(), &model.ListingJob{
		Payload: model.ListingPayload{Title: "x", Price: 10},
	})
	assert.Error(t, err, "missing marketplace")

	_, err = q.Enqueue(context.Background(), &model.ListingJob{
		Marketplace: "ebay",
		Payload:     model.ListingPayload{Price: 10},
	})
	assert.Error(t, err, "missing title")

	_, err = q.Enqueue(context.Background(), &model.ListingJob{
		Marketplace: "ebay",
		Payload:     model.ListingPayload{Title: "x"},
	})
	assert.Error(t, err, "missing price")
}
