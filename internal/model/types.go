package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// MarketplaceLog is a marketplace-keyed detail map stored as jsonb, used for
// the per-target error and success logs on delisting jobs.
type MarketplaceLog map[string]string

func (m MarketplaceLog) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *MarketplaceLog) Scan(src interface{}) error {
	if src == nil {
		*m = MarketplaceLog{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into MarketplaceLog", src)
	}
	return json.Unmarshal(b, m)
}
