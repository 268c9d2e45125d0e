package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/repository"
)

type listingRepository struct {
	BaseRepository
}

func NewListingRepository(base BaseRepository) repository.ListingRepository {
	return &listingRepository{base}
}

func (r *listingRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Listing, error) {
	var listing model.Listing
	err := r.db.GetContext(ctx, &listing, `SELECT * FROM listings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return &listing, nil
}

func (r *listingRepository) GetByExternalID(ctx context.Context, marketplace, externalID string) (*model.Listing, error) {
	query := `SELECT * FROM listings WHERE marketplace = $1 AND external_id = $2`

	var listing model.Listing
	err := r.db.GetContext(ctx, &listing, query, marketplace, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing by external id: %w", err)
	}
	return &listing, nil
}

func (r *listingRepository) ListLiveByItem(ctx context.Context, inventoryItemID uuid.UUID) ([]*model.Listing, error) {
	query := `
		SELECT * FROM listings
		WHERE inventory_item_id = $1
		AND status IN ('active', 'pending')
		ORDER BY created_at ASC
	`
	var listings []*model.Listing
	err := r.db.SelectContext(ctx, &listings, query, inventoryItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list live listings: %w", err)
	}
	return listings, nil
}

func (r *listingRepository) ApplyResult(ctx context.Context, id uuid.UUID, result model.ListingResult) error {
	query := `
		UPDATE listings
		SET external_id = $2,
			external_url = $3,
			fees = $4,
			status = 'active',
			rejection_reason = NULL,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, result.ExternalID, result.ExternalURL, result.Fees)
	return err
}

func (r *listingRepository) MarkRejected(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE listings
		SET status = 'rejected', rejection_reason = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, reason)
	return err
}

func (r *listingRepository) MarkSold(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE listings SET status = 'sold', updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *listingRepository) MarkEnded(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE listings SET status = 'ended', updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
