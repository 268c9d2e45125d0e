package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ListingJobStatus string

const (
	ListingJobStatusPending    ListingJobStatus = "pending"
	ListingJobStatusProcessing ListingJobStatus = "processing"
	ListingJobStatusCompleted  ListingJobStatus = "completed"
	ListingJobStatusFailed     ListingJobStatus = "failed"
	ListingJobStatusRetrying   ListingJobStatus = "retrying"
)

// Valid reports whether s is a member of the closed status set.
func (s ListingJobStatus) Valid() bool {
	switch s {
	case ListingJobStatusPending, ListingJobStatusProcessing, ListingJobStatusCompleted,
		ListingJobStatusFailed, ListingJobStatusRetrying:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s ListingJobStatus) Terminal() bool {
	return s == ListingJobStatusCompleted || s == ListingJobStatusFailed
}

// ListingPayload is the marketplace-bound listing content.
type ListingPayload struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Price       float64           `json:"price"`
	Currency    string            `json:"currency"`
	Photos      []string          `json:"photos,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

func (p ListingPayload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *ListingPayload) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into ListingPayload", src)
	}
	return json.Unmarshal(b, p)
}

// ListingResult is what a marketplace returns for a published listing.
type ListingResult struct {
	ExternalID  string  `json:"external_id"`
	ExternalURL string  `json:"external_url,omitempty"`
	Status      string  `json:"status"`
	Fees        float64 `json:"fees,omitempty"`
}

func (r ListingResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *ListingResult) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into ListingResult", src)
	}
	return json.Unmarshal(b, r)
}

// ListingJob is one attempt to publish an inventory item on one marketplace.
type ListingJob struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	UserID          uuid.UUID        `db:"user_id" json:"user_id"`
	InventoryItemID uuid.UUID        `db:"inventory_item_id" json:"inventory_item_id"`
	ListingID       uuid.UUID        `db:"listing_id" json:"listing_id"`
	Marketplace     string           `db:"marketplace" json:"marketplace"`
	Payload         ListingPayload   `db:"payload" json:"payload"`
	Priority        int              `db:"priority" json:"priority"`
	Status          ListingJobStatus `db:"status" json:"status"`
	Attempts        int              `db:"attempts" json:"attempts"`
	MaxAttempts     int              `db:"max_attempts" json:"max_attempts"`
	ScheduledFor    *time.Time       `db:"scheduled_for" json:"scheduled_for,omitempty"`
	LastError       *string          `db:"last_error" json:"last_error,omitempty"`
	Result          *ListingResult   `db:"result" json:"result,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
	StartedAt       *time.Time       `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}
