package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/repository"
)

type auditLogRepository struct {
	BaseRepository
}

func NewAuditLogRepository(base BaseRepository) repository.AuditLogRepository {
	return &auditLogRepository{base}
}

func (r *auditLogRepository) Create(ctx context.Context, entry *model.AuditLog) error {
	query := `
		INSERT INTO audit_logs (id, user_id, entity_type, entity_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.EntityType, entry.EntityID,
		entry.Action, entry.Detail, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func (r *notificationRepository) Create(ctx context.Context, record *model.NotificationRecord) error {
	query := `
		INSERT INTO notification_records (id, user_id, delisting_job_id, classification, channels, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.UserID, record.DelistingJobID,
		record.Classification, record.Channels, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification record: %w", err)
	}
	return nil
}
