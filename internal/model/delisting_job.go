package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type DelistingTrigger string

const (
	TriggerSaleDetected DelistingTrigger = "sale_detected"
	TriggerManual       DelistingTrigger = "manual"
	TriggerScheduled    DelistingTrigger = "scheduled"
	TriggerExpired      DelistingTrigger = "expired"
)

func (t DelistingTrigger) Valid() bool {
	switch t {
	case TriggerSaleDetected, TriggerManual, TriggerScheduled, TriggerExpired:
		return true
	}
	return false
}

type DelistingStatus string

const (
	DelistingStatusPending         DelistingStatus = "pending"
	DelistingStatusProcessing      DelistingStatus = "processing"
	DelistingStatusCompleted       DelistingStatus = "completed"
	DelistingStatusPartiallyFailed DelistingStatus = "partially_failed"
	DelistingStatusFailed          DelistingStatus = "failed"
	DelistingStatusCancelled       DelistingStatus = "cancelled"
)

func (s DelistingStatus) Valid() bool {
	switch s {
	case DelistingStatusPending, DelistingStatusProcessing, DelistingStatusCompleted,
		DelistingStatusPartiallyFailed, DelistingStatusFailed, DelistingStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the job can never run again. partially_failed is
// terminal only once retries are exhausted, which the orchestrator encodes by
// leaving scheduled_for in the past and retry_count at max.
func (s DelistingStatus) Terminal() bool {
	return s == DelistingStatusCompleted || s == DelistingStatusFailed || s == DelistingStatusCancelled
}

// DelistingJob is the multi-marketplace removal workflow triggered by one
// sale event (or a manual trigger).
type DelistingJob struct {
	ID                   uuid.UUID        `db:"id" json:"id"`
	UserID               uuid.UUID        `db:"user_id" json:"user_id"`
	InventoryItemID      uuid.UUID        `db:"inventory_item_id" json:"inventory_item_id"`
	TriggerType          DelistingTrigger `db:"trigger_type" json:"trigger_type"`
	Status               DelistingStatus  `db:"status" json:"status"`
	SoldOnMarketplace    string           `db:"sold_on_marketplace" json:"sold_on_marketplace"`
	SalePrice            float64          `db:"sale_price" json:"sale_price"`
	SaleDate             *time.Time       `db:"sale_date" json:"sale_date,omitempty"`
	MarketplacesTargeted pq.StringArray   `db:"marketplaces_targeted" json:"marketplaces_targeted"`
	MarketplacesComplete pq.StringArray   `db:"marketplaces_completed" json:"marketplaces_completed"`
	MarketplacesFailed   pq.StringArray   `db:"marketplaces_failed" json:"marketplaces_failed"`
	ScheduledFor         time.Time        `db:"scheduled_for" json:"scheduled_for"`
	StartedAt            *time.Time       `db:"started_at" json:"started_at,omitempty"`
	CompletedAt          *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	RetryCount           int              `db:"retry_count" json:"retry_count"`
	MaxRetries           int              `db:"max_retries" json:"max_retries"`
	RequiresConfirmation bool             `db:"requires_confirmation" json:"requires_confirmation"`
	ConfirmedAt          *time.Time       `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CancelledAt          *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	ErrorLog             MarketplaceLog   `db:"error_log" json:"error_log"`
	SuccessLog           MarketplaceLog   `db:"success_log" json:"success_log"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
}

// RemainingTargets returns the targeted marketplaces that have not yet been
// completed. Previously failed targets stay in the remaining set so a retry
// run re-attempts them.
func (j *DelistingJob) RemainingTargets() []string {
	done := make(map[string]bool, len(j.MarketplacesComplete))
	for _, m := range j.MarketplacesComplete {
		done[m] = true
	}
	var out []string
	for _, m := range j.MarketplacesTargeted {
		if !done[m] {
			out = append(out, m)
		}
	}
	return out
}

// RecordSuccess moves a marketplace into the completed set and out of the
// failed set.
func (j *DelistingJob) RecordSuccess(marketplace, detail string) {
	j.MarketplacesFailed = remove(j.MarketplacesFailed, marketplace)
	if !contains(j.MarketplacesComplete, marketplace) {
		j.MarketplacesComplete = append(j.MarketplacesComplete, marketplace)
	}
	if j.SuccessLog == nil {
		j.SuccessLog = MarketplaceLog{}
	}
	j.SuccessLog[marketplace] = detail
	delete(j.ErrorLog, marketplace)
}

// RecordFailure moves a marketplace into the failed set with error detail.
func (j *DelistingJob) RecordFailure(marketplace, detail string) {
	if !contains(j.MarketplacesFailed, marketplace) {
		j.MarketplacesFailed = append(j.MarketplacesFailed, marketplace)
	}
	if j.ErrorLog == nil {
		j.ErrorLog = MarketplaceLog{}
	}
	j.ErrorLog[marketplace] = detail
}

func contains(set pq.StringArray, v string) bool {
	for _, m := range set {
		if m == v {
			return true
		}
	}
	return false
}

func remove(set pq.StringArray, v string) pq.StringArray {
	out := set[:0]
	for _, m := range set {
		if m != v {
			out = append(out, m)
		}
	}
	return out
}
