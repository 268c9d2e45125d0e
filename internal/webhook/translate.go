package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/resellsync/crosslist/internal/model"
)

// Translator converts a marketplace-specific webhook payload into the
// canonical sale event shape. Returning (nil, nil) means the payload is valid
// but does not represent a completed sale; the caller acknowledges and drops
// it. A non-nil error means the payload could not be parsed.
type Translator func(body []byte) (*model.CanonicalSaleEvent, error)

// DefaultTranslators returns the built-in translator table. Marketplaces not
// present fall back to the generic translator.
func DefaultTranslators() map[string]Translator {
	return map[string]Translator{
		"ebay":     translateEbay,
		"etsy":     translateEtsy,
		"poshmark": translatePoshmark,
		"mercari":  translateMercari,
	}
}

type ebayNotification struct {
	NotificationID string `json:"notificationId"`
	EventType      string `json:"eventType"`
	ItemID         string `json:"itemId"`
	TransactionID  string `json:"transactionId"`
	SalePrice      struct {
		Value    float64 `json:"value"`
		Currency string  `json:"currency"`
	} `json:"salePrice"`
	SaleDate      time.Time `json:"saleDate"`
	BuyerUsername string    `json:"buyerUsername"`
	PaymentStatus string    `json:"paymentStatus"`
}

func translateEbay(body []byte) (*model.CanonicalSaleEvent, error) {
	var n ebayNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("malformed ebay payload: %w", err)
	}
	if n.EventType != "ITEM_SOLD" {
		return nil, nil
	}
	if n.ItemID == "" {
		return nil, fmt.Errorf("ebay ITEM_SOLD notification missing itemId")
	}
	return &model.CanonicalSaleEvent{
		Marketplace:           "ebay",
		EventType:             n.EventType,
		ExternalEventID:       n.NotificationID,
		ExternalListingID:     n.ItemID,
		ExternalTransactionID: n.TransactionID,
		SalePrice:             n.SalePrice.Value,
		Currency:              defaultCurrency(n.SalePrice.Currency),
		SaleDate:              defaultSaleDate(n.SaleDate),
		BuyerRef:              n.BuyerUsername,
		PaymentStatus:         strings.ToLower(n.PaymentStatus),
	}, nil
}

type etsyNotification struct {
	EventType        string  `json:"event_type"`
	EventID          string  `json:"event_id"`
	ListingID        string  `json:"listing_id"`
	ReceiptID        string  `json:"receipt_id"`
	Price            float64 `json:"price"`
	CurrencyCode     string  `json:"currency_code"`
	CreatedTimestamp int64   `json:"created_timestamp"`
	BuyerUserID      string  `json:"buyer_user_id"`
	WasPaid          bool    `json:"was_paid"`
}

func translateEtsy(body []byte) (*model.CanonicalSaleEvent, error) {
	var n etsyNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("malformed etsy payload: %w", err)
	}
	if n.EventType != "receipt_paid" {
		return nil, nil
	}
	if n.ListingID == "" {
		return nil, fmt.Errorf("etsy receipt_paid event missing listing_id")
	}
	saleDate := time.Now().UTC()
	if n.CreatedTimestamp > 0 {
		saleDate = time.Unix(n.CreatedTimestamp, 0).UTC()
	}
	paymentStatus := "pending"
	if n.WasPaid {
		paymentStatus = "paid"
	}
	return &model.CanonicalSaleEvent{
		Marketplace:           "etsy",
		EventType:             n.EventType,
		ExternalEventID:       n.EventID,
		ExternalListingID:     n.ListingID,
		ExternalTransactionID: n.ReceiptID,
		SalePrice:             n.Price,
		Currency:              defaultCurrency(n.CurrencyCode),
		SaleDate:              saleDate,
		BuyerRef:              n.BuyerUserID,
		PaymentStatus:         paymentStatus,
	}, nil
}

type poshmarkNotification struct {
	Event         string    `json:"event"`
	ID            string    `json:"id"`
	ListingID     string    `json:"listing_id"`
	OrderID       string    `json:"order_id"`
	PriceAmount   float64   `json:"price_amount"`
	PriceCurrency string    `json:"price_currency"`
	SoldAt        time.Time `json:"sold_at"`
	BuyerUsername string    `json:"buyer_username"`
	PaymentState  string    `json:"payment_state"`
}

func translatePoshmark(body []byte) (*model.CanonicalSaleEvent, error) {
	var n poshmarkNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("malformed poshmark payload: %w", err)
	}
	if n.Event != "order.placed" {
		return nil, nil
	}
	if n.ListingID == "" {
		return nil, fmt.Errorf("poshmark order.placed event missing listing_id")
	}
	return &model.CanonicalSaleEvent{
		Marketplace:           "poshmark",
		EventType:             n.Event,
		ExternalEventID:       n.ID,
		ExternalListingID:     n.ListingID,
		ExternalTransactionID: n.OrderID,
		SalePrice:             n.PriceAmount,
		Currency:              defaultCurrency(n.PriceCurrency),
		SaleDate:              defaultSaleDate(n.SoldAt),
		BuyerRef:              n.BuyerUsername,
		PaymentStatus:         strings.ToLower(n.PaymentState),
	}, nil
}

type mercariNotification struct {
	Type        string `json:"type"`
	EventID     string `json:"event_id"`
	ItemID      string `json:"item_id"`
	Transaction struct {
		ID       string  `json:"id"`
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
	} `json:"transaction"`
	SoldAt  time.Time `json:"sold_at"`
	BuyerID string    `json:"buyer_id"`
	Status  string    `json:"status"`
}

func translateMercari(body []byte) (*model.CanonicalSaleEvent, error) {
	var n mercariNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("malformed mercari payload: %w", err)
	}
	if n.Type != "item.sold" {
		return nil, nil
	}
	if n.ItemID == "" {
		return nil, fmt.Errorf("mercari item.sold event missing item_id")
	}
	return &model.CanonicalSaleEvent{
		Marketplace:           "mercari",
		EventType:             n.Type,
		ExternalEventID:       n.EventID,
		ExternalListingID:     n.ItemID,
		ExternalTransactionID: n.Transaction.ID,
		SalePrice:             n.Transaction.Amount,
		Currency:              defaultCurrency(n.Transaction.Currency),
		SaleDate:              defaultSaleDate(n.SoldAt),
		BuyerRef:              n.BuyerID,
		PaymentStatus:         strings.ToLower(n.Status),
	}, nil
}

type genericNotification struct {
	EventType             string    `json:"event_type"`
	ExternalEventID       string    `json:"external_event_id"`
	ExternalListingID     string    `json:"external_listing_id"`
	ExternalTransactionID string    `json:"external_transaction_id"`
	SalePrice             float64   `json:"sale_price"`
	Currency              string    `json:"currency"`
	SaleDate              time.Time `json:"sale_date"`
	BuyerRef              string    `json:"buyer_ref"`
	PaymentStatus         string    `json:"payment_status"`
}

// TranslateGeneric handles marketplaces without a dedicated translator. The
// sender is expected to post the canonical shape directly with event_type
// "sale.completed".
func TranslateGeneric(marketplace string) Translator {
	return func(body []byte) (*model.CanonicalSaleEvent, error) {
		var n genericNotification
		if err := json.Unmarshal(body, &n); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", marketplace, err)
		}
		if n.EventType != "sale.completed" {
			return nil, nil
		}
		if n.ExternalListingID == "" {
			return nil, fmt.Errorf("%s sale.completed event missing external_listing_id", marketplace)
		}
		return &model.CanonicalSaleEvent{
			Marketplace:           marketplace,
			EventType:             n.EventType,
			ExternalEventID:       n.ExternalEventID,
			ExternalListingID:     n.ExternalListingID,
			ExternalTransactionID: n.ExternalTransactionID,
			SalePrice:             n.SalePrice,
			Currency:              defaultCurrency(n.Currency),
			SaleDate:              defaultSaleDate(n.SaleDate),
			BuyerRef:              n.BuyerRef,
			PaymentStatus:         strings.ToLower(n.PaymentStatus),
		}, nil
	}
}

func defaultCurrency(c string) string {
	if c == "" {
		return "USD"
	}
	return strings.ToUpper(c)
}

func defaultSaleDate(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
