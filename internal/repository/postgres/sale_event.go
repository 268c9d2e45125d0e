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

type saleEventRepository struct {
	BaseRepository
}

func NewSaleEventRepository(base BaseRepository) repository.SaleEventRepository {
	return &saleEventRepository{base}
}

// Create inserts a sale event. Both the event-hash and the partial
// (marketplace, external_event_id) unique indexes back the application-level
// dedup check so concurrent webhook deliveries cannot slip a second row in.
func (r *saleEventRepository) Create(ctx context.Context, event *model.SaleEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.EventHash == "" {
		return fmt.Errorf("event hash cannot be empty")
	}

	query := `
		INSERT INTO sale_events (
			id, marketplace, external_event_id, external_listing_id,
			external_transaction_id, sale_price, currency, sale_date, buyer_ref,
			payment_status, raw_payload, event_hash, processed,
			requires_verification, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`
	event.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.Marketplace, event.ExternalEventID, event.ExternalListingID,
		event.ExternalTransactionID, event.SalePrice, event.Currency, event.SaleDate,
		event.BuyerRef, event.PaymentStatus, event.RawPayload, event.EventHash,
		event.Processed, event.RequiresVerification, event.CreatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("failed to create sale event: %w", err)
	}
	return nil
}

func (r *saleEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SaleEvent, error) {
	var event model.SaleEvent
	err := r.db.GetContext(ctx, &event, `SELECT * FROM sale_events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale event: %w", err)
	}
	return &event, nil
}

func (r *saleEventRepository) GetByHash(ctx context.Context, hash string) (*model.SaleEvent, error) {
	var event model.SaleEvent
	err := r.db.GetContext(ctx, &event, `SELECT * FROM sale_events WHERE event_hash = $1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale event by hash: %w", err)
	}
	return &event, nil
}

func (r *saleEventRepository) GetByMarketplaceEventID(ctx context.Context, marketplace, externalEventID string) (*model.SaleEvent, error) {
	var event model.SaleEvent
	err := r.db.GetContext(ctx, &event,
		`SELECT * FROM sale_events WHERE marketplace = $1 AND external_event_id = $2`,
		marketplace, externalEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale event by external event id: %w", err)
	}
	return &event, nil
}

func (r *saleEventRepository) SetDelistingJob(ctx context.Context, eventID, jobID uuid.UUID) error {
	query := `UPDATE sale_events SET delisting_job_id = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, eventID, jobID)
	return err
}

func (r *saleEventRepository) MarkProcessed(ctx context.Context, eventID uuid.UUID) error {
	query := `UPDATE sale_events SET processed = TRUE WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, eventID)
	return err
}
