package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type DelistTiming string

const (
	TimingImmediate          DelistTiming = "immediate"
	TimingDelayed            DelistTiming = "delayed"
	TimingManualConfirmation DelistTiming = "manual_confirmation"
)

func (t DelistTiming) Valid() bool {
	switch t {
	case TimingImmediate, TimingDelayed, TimingManualConfirmation:
		return true
	}
	return false
}

// TimingOverrides maps marketplace name to a timing override. The value
// "disabled" excludes that marketplace from auto-delisting entirely.
type TimingOverrides map[string]string

const TimingDisabled = "disabled"

func (o TimingOverrides) Value() (driver.Value, error) {
	if o == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(o)
}

func (o *TimingOverrides) Scan(src interface{}) error {
	if src == nil {
		*o = TimingOverrides{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into TimingOverrides", src)
	}
	return json.Unmarshal(b, o)
}

// DelistingPreferences governs when and how the orchestrator acts for one
// user. Read-only to the orchestrator.
type DelistingPreferences struct {
	UserID               uuid.UUID       `db:"user_id" json:"user_id"`
	AutoDelistEnabled    bool            `db:"auto_delist_enabled" json:"auto_delist_enabled"`
	DefaultTiming        DelistTiming    `db:"default_timing" json:"default_timing"`
	DelayMinutes         int             `db:"delay_minutes" json:"delay_minutes"`
	MarketplaceOverrides TimingOverrides `db:"marketplace_overrides" json:"marketplace_overrides"`
	NotifyEmail          bool            `db:"notify_email" json:"notify_email"`
	NotifyWebhook        bool            `db:"notify_webhook" json:"notify_webhook"`
	NotifyInApp          bool            `db:"notify_in_app" json:"notify_in_app"`
	EmailAddress         string          `db:"email_address" json:"email_address,omitempty"`
	WebhookURL           string          `db:"webhook_url" json:"webhook_url,omitempty"`
	MinSaleAmount        *float64        `db:"min_sale_amount" json:"min_sale_amount,omitempty"`
	MaxSaleAmount        *float64        `db:"max_sale_amount" json:"max_sale_amount,omitempty"`
	ExcludedMarketplaces pq.StringArray  `db:"excluded_marketplaces" json:"excluded_marketplaces"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// DefaultPreferences is used when a user has no stored row.
func DefaultPreferences(userID uuid.UUID) *DelistingPreferences {
	return &DelistingPreferences{
		UserID:            userID,
		AutoDelistEnabled: true,
		DefaultTiming:     TimingImmediate,
		NotifyInApp:       true,
	}
}
