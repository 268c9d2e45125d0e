package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/repository"
)

type listingJobRepository struct {
	BaseRepository
}

func NewListingJobRepository(base BaseRepository) repository.ListingJobRepository {
	return &listingJobRepository{base}
}

func (r *listingJobRepository) Create(ctx context.Context, job *model.ListingJob) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if !job.Status.Valid() {
		return fmt.Errorf("invalid job status %q", job.Status)
	}

	query := `
		INSERT INTO listing_jobs (
			id, user_id, inventory_item_id, listing_id, marketplace, payload,
			priority, status, attempts, max_attempts, scheduled_for, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.UserID, job.InventoryItemID, job.ListingID, job.Marketplace,
		job.Payload, job.Priority, job.Status, job.Attempts, job.MaxAttempts,
		job.ScheduledFor, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create listing job: %w", err)
	}
	return nil
}

func (r *listingJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ListingJob, error) {
	query := `SELECT * FROM listing_jobs WHERE id = $1`

	var job model.ListingJob
	err := r.db.GetContext(ctx, &job, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing job: %w", err)
	}
	return &job, nil
}

// ClaimDue atomically selects due pending/retrying jobs in priority order and
// moves them to processing, bumping the attempt counter. SKIP LOCKED keeps
// concurrent scheduler instances from double-claiming.
func (r *listingJobRepository) ClaimDue(ctx context.Context, limit int) ([]*model.ListingJob, error) {
	query := `
		UPDATE listing_jobs
		SET status = 'processing',
			attempts = attempts + 1,
			started_at = NOW(),
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM listing_jobs
			WHERE status IN ('pending', 'retrying')
			AND (scheduled_for IS NULL OR scheduled_for <= NOW())
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		RETURNING *
	`
	var jobs []*model.ListingJob
	err := r.db.SelectContext(ctx, &jobs, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}
	return jobs, nil
}

func (r *listingJobRepository) MarkCompleted(ctx context.Context, id uuid.UUID, result model.ListingResult) error {
	query := `
		UPDATE listing_jobs
		SET status = 'completed',
			result = $2,
			last_error = NULL,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	_, err := r.db.ExecContext(ctx, query, id, result)
	return err
}

func (r *listingJobRepository) MarkRetrying(ctx context.Context, id uuid.UUID, nextRun time.Time, reason string) error {
	query := `
		UPDATE listing_jobs
		SET status = 'retrying',
			scheduled_for = $2,
			last_error = $3,
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	_, err := r.db.ExecContext(ctx, query, id, nextRun, reason)
	return err
}

func (r *listingJobRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE listing_jobs
		SET status = 'failed',
			last_error = $2,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	_, err := r.db.ExecContext(ctx, query, id, reason)
	return err
}

// Cancel moves a pending or retrying job straight to failed with a
// cancellation reason. A processing job is left alone: cancellation only
// prevents future retries.
func (r *listingJobRepository) Cancel(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	query := `
		UPDATE listing_jobs
		SET status = 'failed',
			last_error = $2,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'retrying')
	`
	res, err := r.db.ExecContext(ctx, query, id, reason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *listingJobRepository) ResetForRetry(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE listing_jobs
		SET status = 'pending',
			attempts = 0,
			last_error = NULL,
			scheduled_for = NOW(),
			completed_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RequeueStuck returns processing jobs whose worker died back to pending.
func (r *listingJobRepository) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE listing_jobs
		SET status = 'pending',
			scheduled_for = NOW(),
			updated_at = NOW()
		WHERE status = 'processing'
		AND started_at < NOW() - $1::interval
	`
	res, err := r.db.ExecContext(ctx, query, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stuck jobs: %w", err)
	}
	return res.RowsAffected()
}
