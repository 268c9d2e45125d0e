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

type delistingJobRepository struct {
	BaseRepository
}

func NewDelistingJobRepository(base BaseRepository) repository.DelistingJobRepository {
	return &delistingJobRepository{base}
}

func (r *delistingJobRepository) Create(ctx context.Context, job *model.DelistingJob) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if !job.TriggerType.Valid() {
		return fmt.Errorf("invalid trigger type %q", job.TriggerType)
	}
	if !job.Status.Valid() {
		return fmt.Errorf("invalid job status %q", job.Status)
	}

	query := `
		INSERT INTO delisting_jobs (
			id, user_id, inventory_item_id, trigger_type, status,
			sold_on_marketplace, sale_price, sale_date, marketplaces_targeted,
			marketplaces_completed, marketplaces_failed, scheduled_for,
			retry_count, max_retries, requires_confirmation, error_log,
			success_log, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
		)
	`
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.UserID, job.InventoryItemID, job.TriggerType, job.Status,
		job.SoldOnMarketplace, job.SalePrice, job.SaleDate, job.MarketplacesTargeted,
		job.MarketplacesComplete, job.MarketplacesFailed, job.ScheduledFor,
		job.RetryCount, job.MaxRetries, job.RequiresConfirmation, job.ErrorLog,
		job.SuccessLog, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delisting job: %w", err)
	}
	return nil
}

func (r *delistingJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.DelistingJob, error) {
	var job model.DelistingJob
	err := r.db.GetContext(ctx, &job, `SELECT * FROM delisting_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delisting job: %w", err)
	}
	return &job, nil
}

// ClaimDue picks up due pending jobs (confirmation holds excluded) and due
// partially-failed jobs that still have retries left, moving them to
// processing under SKIP LOCKED.
func (r *delistingJobRepository) ClaimDue(ctx context.Context, limit int) ([]*model.DelistingJob, error) {
	query := `
		UPDATE delisting_jobs
		SET status = 'processing',
			started_at = COALESCE(started_at, NOW()),
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM delisting_jobs
			WHERE scheduled_for <= NOW()
			AND (
				(status = 'pending' AND requires_confirmation = FALSE)
				OR (status = 'partially_failed' AND retry_count < max_retries)
			)
			ORDER BY scheduled_for ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		RETURNING *
	`
	var jobs []*model.DelistingJob
	err := r.db.SelectContext(ctx, &jobs, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due delisting jobs: %w", err)
	}
	return jobs, nil
}

// Finalize writes back the outcome of one execution run. The status guard
// keeps a concurrently cancelled job from being resurrected.
func (r *delistingJobRepository) Finalize(ctx context.Context, job *model.DelistingJob) error {
	if !job.Status.Valid() {
		return fmt.Errorf("invalid job status %q", job.Status)
	}

	query := `
		UPDATE delisting_jobs
		SET status = $2,
			marketplaces_completed = $3,
			marketplaces_failed = $4,
			scheduled_for = $5,
			completed_at = $6,
			retry_count = $7,
			error_log = $8,
			success_log = $9,
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	res, err := r.db.ExecContext(ctx, query,
		job.ID, job.Status, job.MarketplacesComplete, job.MarketplacesFailed,
		job.ScheduledFor, job.CompletedAt, job.RetryCount, job.ErrorLog, job.SuccessLog,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize delisting job: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("delisting job %s was not in processing", job.ID)
	}
	return err
}

// Confirm clears a confirmation hold and reschedules the job to run now.
func (r *delistingJobRepository) Confirm(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE delisting_jobs
		SET requires_confirmation = FALSE,
			confirmed_at = NOW(),
			scheduled_for = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND requires_confirmation = TRUE
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Cancel is only reachable from pending.
func (r *delistingJobRepository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE delisting_jobs
		SET status = 'cancelled',
			cancelled_at = NOW(),
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelExpiredHolds cancels confirmation-held jobs whose hold window has
// elapsed without user action.
func (r *delistingJobRepository) CancelExpiredHolds(ctx context.Context, heldSince time.Time) (int64, error) {
	query := `
		UPDATE delisting_jobs
		SET status = 'cancelled',
			cancelled_at = NOW(),
			completed_at = NOW(),
			updated_at = NOW()
		WHERE status = 'pending'
		AND requires_confirmation = TRUE
		AND created_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, heldSince)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel expired holds: %w", err)
	}
	return res.RowsAffected()
}
