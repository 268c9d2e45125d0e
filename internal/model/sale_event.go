package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CanonicalSaleEvent is the normalized shape a marketplace webhook translator
// produces. A nil translation means the payload did not represent a
// completed sale and is acknowledged without further processing.
type CanonicalSaleEvent struct {
	Marketplace           string
	EventType             string
	ExternalEventID       string
	ExternalListingID     string
	ExternalTransactionID string
	SalePrice             float64
	Currency              string
	SaleDate              time.Time
	BuyerRef              string
	PaymentStatus         string
}

// SaleEvent is the canonical, deduplicated record of "item X sold on
// marketplace Y".
type SaleEvent struct {
	ID                    uuid.UUID       `db:"id" json:"id"`
	Marketplace           string          `db:"marketplace" json:"marketplace"`
	ExternalEventID       string          `db:"external_event_id" json:"external_event_id,omitempty"`
	ExternalListingID     string          `db:"external_listing_id" json:"external_listing_id"`
	ExternalTransactionID string          `db:"external_transaction_id" json:"external_transaction_id,omitempty"`
	SalePrice             float64         `db:"sale_price" json:"sale_price"`
	Currency              string          `db:"currency" json:"currency"`
	SaleDate              time.Time       `db:"sale_date" json:"sale_date"`
	BuyerRef              string          `db:"buyer_ref" json:"buyer_ref,omitempty"`
	PaymentStatus         string          `db:"payment_status" json:"payment_status,omitempty"`
	RawPayload            json.RawMessage `db:"raw_payload" json:"-"`
	EventHash             string          `db:"event_hash" json:"event_hash"`
	Processed             bool            `db:"processed" json:"processed"`
	RequiresVerification  bool            `db:"requires_verification" json:"requires_verification"`
	DelistingJobID        *uuid.UUID      `db:"delisting_job_id" json:"delisting_job_id,omitempty"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}
