package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/resellsync/crosslist/internal/model"
)

// ErrDuplicateEvent is returned when a sale event insert collides with the
// event-hash or (marketplace, external_event_id) uniqueness constraint.
var ErrDuplicateEvent = errors.New("duplicate sale event")

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ListingJobRepository persists listing jobs. ClaimDue must be atomic: a
// claimed job is moved to processing with its attempt counter bumped in the
// same statement so two schedulers cannot double-run it.
type ListingJobRepository interface {
	Create(ctx context.Context, job *model.ListingJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ListingJob, error)
	ClaimDue(ctx context.Context, limit int) ([]*model.ListingJob, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, result model.ListingResult) error
	MarkRetrying(ctx context.Context, id uuid.UUID, nextRun time.Time, reason string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	Cancel(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	ResetForRetry(ctx context.Context, id uuid.UUID) (bool, error)
	RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ListingRepository is the read/update surface over listing records the
// engine needs; full CRUD lives with the inventory system.
type ListingRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Listing, error)
	GetByExternalID(ctx context.Context, marketplace, externalID string) (*model.Listing, error)
	ListLiveByItem(ctx context.Context, inventoryItemID uuid.UUID) ([]*model.Listing, error)
	ApplyResult(ctx context.Context, id uuid.UUID, result model.ListingResult) error
	MarkRejected(ctx context.Context, id uuid.UUID, reason string) error
	MarkSold(ctx context.Context, id uuid.UUID) error
	MarkEnded(ctx context.Context, id uuid.UUID) error
}

type SaleEventRepository interface {
	Create(ctx context.Context, event *model.SaleEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.SaleEvent, error)
	GetByHash(ctx context.Context, hash string) (*model.SaleEvent, error)
	GetByMarketplaceEventID(ctx context.Context, marketplace, externalEventID string) (*model.SaleEvent, error)
	SetDelistingJob(ctx context.Context, eventID, jobID uuid.UUID) error
	MarkProcessed(ctx context.Context, eventID uuid.UUID) error
}

// DelistingJobRepository persists delisting jobs. ClaimDue picks up due
// pending jobs and due partially-failed jobs with retries left.
type DelistingJobRepository interface {
	Create(ctx context.Context, job *model.DelistingJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.DelistingJob, error)
	ClaimDue(ctx context.Context, limit int) ([]*model.DelistingJob, error)
	Finalize(ctx context.Context, job *model.DelistingJob) error
	Confirm(ctx context.Context, id uuid.UUID) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	CancelExpiredHolds(ctx context.Context, heldSince time.Time) (int64, error)
}

type PreferencesRepository interface {
	GetByUser(ctx context.Context, userID uuid.UUID) (*model.DelistingPreferences, error)
}

type AuditLogRepository interface {
	Create(ctx context.Context, entry *model.AuditLog) error
}

type NotificationRepository interface {
	Create(ctx context.Context, record *model.NotificationRecord) error
}
