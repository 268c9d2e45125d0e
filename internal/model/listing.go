package model

import (
	"time"

	"github.com/google/uuid"
)

type ListingStatus string

const (
	ListingStatusDraft    ListingStatus = "draft"
	ListingStatusPending  ListingStatus = "pending"
	ListingStatusActive   ListingStatus = "active"
	ListingStatusSold     ListingStatus = "sold"
	ListingStatusEnded    ListingStatus = "ended"
	ListingStatusRejected ListingStatus = "rejected"
)

func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusDraft, ListingStatusPending, ListingStatusActive,
		ListingStatusSold, ListingStatusEnded, ListingStatusRejected:
		return true
	}
	return false
}

// Live reports whether the listing is still purchasable and thus a
// delisting target.
func (s ListingStatus) Live() bool {
	return s == ListingStatusActive || s == ListingStatusPending
}

// Listing is a published offer for one inventory item on one marketplace.
type Listing struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	UserID          uuid.UUID     `db:"user_id" json:"user_id"`
	InventoryItemID uuid.UUID     `db:"inventory_item_id" json:"inventory_item_id"`
	Marketplace     string        `db:"marketplace" json:"marketplace"`
	ExternalID      string        `db:"external_id" json:"external_id,omitempty"`
	ExternalURL     string        `db:"external_url" json:"external_url,omitempty"`
	Status          ListingStatus `db:"status" json:"status"`
	Fees            *float64      `db:"fees" json:"fees,omitempty"`
	RejectionReason *string       `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}
