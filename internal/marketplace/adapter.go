package marketplace

import (
	"context"
	"time"

	"github.com/resellsync/crosslist/internal/model"
)

// CreateResult is the marketplace's answer to a successful listing creation.
type CreateResult struct {
	ExternalID  string  `json:"external_id"`
	ExternalURL string  `json:"external_url,omitempty"`
	Status      string  `json:"status"`
	Fees        float64 `json:"fees,omitempty"`
}

// EndOptions carries the delist reason through to the marketplace.
type EndOptions struct {
	Reason       string `json:"reason,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`
}

// EndResult is the marketplace's answer to an end-listing call.
type EndResult struct {
	Success bool       `json:"success"`
	EndedAt *time.Time `json:"ended_at,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// ListingRecord is the remote view of a listing, nil when it does not exist.
type ListingRecord struct {
	ExternalID string  `json:"external_id"`
	Status     string  `json:"status"`
	Price      float64 `json:"price"`
	Currency   string  `json:"currency"`
	URL        string  `json:"url,omitempty"`
}

// CredentialStatus is the answer to a credential validation probe.
type CredentialStatus struct {
	Success        bool   `json:"success"`
	Status         string `json:"status"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// Adapter is the uniform per-marketplace listing-operations contract. The
// orchestration engine consumes it; marketplace specifics live behind it.
type Adapter interface {
	Marketplace() string
	CreateListing(ctx context.Context, payload model.ListingPayload) (*CreateResult, error)
	EndListing(ctx context.Context, externalID string, opts EndOptions) (*EndResult, error)
	GetListing(ctx context.Context, externalID string) (*ListingRecord, error)
	ValidateCredentials(ctx context.Context) (*CredentialStatus, error)
}
