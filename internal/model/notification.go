package model

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeClass classifies a delisting job result for notification purposes.
type OutcomeClass string

const (
	OutcomeSuccess              OutcomeClass = "success"
	OutcomePartialFailure       OutcomeClass = "partial_failure"
	OutcomeCompleteFailure      OutcomeClass = "complete_failure"
	OutcomeConfirmationRequired OutcomeClass = "confirmation_required"
)

func (c OutcomeClass) Valid() bool {
	switch c {
	case OutcomeSuccess, OutcomePartialFailure, OutcomeCompleteFailure, OutcomeConfirmationRequired:
		return true
	}
	return false
}

// NotificationRecord is the audit row the dispatcher persists per fan-out.
type NotificationRecord struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	UserID         uuid.UUID      `db:"user_id" json:"user_id"`
	DelistingJobID uuid.UUID      `db:"delisting_job_id" json:"delisting_job_id"`
	Classification OutcomeClass   `db:"classification" json:"classification"`
	Channels       MarketplaceLog `db:"channels" json:"channels"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}
