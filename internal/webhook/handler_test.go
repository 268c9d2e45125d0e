package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resellsync/crosslist/internal/config"
	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/service/saleevent"
	"github.com/resellsync/crosslist/pkg/logger"
)

type recordingIngestor struct {
	calls  int
	lastIn *model.CanonicalSaleEvent
	result *saleevent.IngestResult
	err    error
}

func (r *recordingIngestor) Ingest(_ context.Context, evt *model.CanonicalSaleEvent, _ json.RawMessage) (*saleevent.IngestResult, error) {
	r.calls++
	r.lastIn = evt
	if r.result == nil && r.err == nil {
		return &saleevent.IngestResult{Event: &model.SaleEvent{ID: uuid.New()}}, nil
	}
	return r.result, r.err
}

func testEndpoint(ingestor *recordingIngestor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	configs := map[string]config.WebhookConfig{
		"ebay": {Secret: "ebay-secret", SignatureHeader: "X-Ebay-Signature", SignaturePrefix: "sha256="},
		"etsy": {Secret: "etsy-secret"},
	}
	e := NewEndpoint(configs, nil, ingestor,
		logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, TimeFormat: time.RFC3339}), nil)
	r := gin.New()
	e.Register(r)
	return r
}

func post(r *gin.Engine, marketplace string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+marketplace, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func ebaySoldPayload(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"notificationId": "notif-1",
		"eventType":      "ITEM_SOLD",
		"itemId":         "110012345",
		"transactionId":  "txn-9",
		"salePrice":      map[string]interface{}{"value": 42.5, "currency": "USD"},
		"saleDate":       "2025-03-01T12:00:00Z",
		"buyerUsername":  "buyer42",
		"paymentStatus":  "PAID",
	})
	require.NoError(t, err)
	return body
}

func TestReceiveAcceptsSignedSale(t *testing.T) {
	ing := &recordingIngestor{}
	jobID := uuid.New()
	ing.result = &saleevent.IngestResult{
		Event:          &model.SaleEvent{ID: uuid.New()},
		DelistingJobID: &jobID,
	}
	r := testEndpoint(ing)

	body := ebaySoldPayload(t)
	w := post(r, "ebay", body, map[string]string{
		"X-Ebay-Signature": "sha256=" + Sign("ebay-secret", body),
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, false, resp["duplicate"])
	assert.Equal(t, jobID.String(), resp["job_id"])
	require.Equal(t, 1, ing.calls)
	assert.Equal(t, "110012345", ing.lastIn.ExternalListingID)
	assert.Equal(t, 42.5, ing.lastIn.SalePrice)
}

func TestReceiveMissingSignature(t *testing.T) {
	ing := &recordingIngestor{}
	r := testEndpoint(ing)

	w := post(r, "ebay", ebaySoldPayload(t), nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, ing.calls, "no event may be created")
}

func TestReceiveInvalidSignature(t *testing.T) {
	ing := &recordingIngestor{}
	r := testEndpoint(ing)

	w := post(r, "ebay", ebaySoldPayload(t), map[string]string{
		"X-Ebay-Signature": "sha256=" + Sign("wrong-secret", ebaySoldPayload(t)),
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, ing.calls)
}

func TestReceiveSignaturePrefixRequired(t *testing.T) {
	ing := &recordingIngestor{}
	r := testEndpoint(ing)

	body := ebaySoldPayload(t)
	w := post(r, "ebay", body, map[string]string{
		"X-Ebay-Signature": Sign("ebay-secret", body),
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReceiveUnconfiguredMarketplace(t *testing.T) {
	ing := &recordingIngestor{}
	r := testEndpoint(ing)

	w := post(r, "grailed", []byte(`{}`), map[string]string{
		"X-Webhook-Signature": "anything",
	})

	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, 0, ing.calls)
}

func TestReceiveMalformedJSON(t *testing.T) {
	ing := &recordingIngestor{}
	r := testEndpoint(ing)

	body := []byte(`{"eventType": "ITEM_SOLD",`)
	w := post(r, "ebay", body, map[string]string{
		"X-Ebay-Signature": "sha256=" + Sign("ebay-secret", body),
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, ing.calls)
}

func TestReceiveDropsNonSaleEvent(t *testing.T) {
	ing := &recordingIngestor{}
	r := testEndpoint(ing)

	body := []byte(`{"eventType": "ITEM_VIEWED", "itemId": "110012345"}`)
	w := post(r, "ebay", body, map[string]string{
		"X-Ebay-Signature": "sha256=" + Sign("ebay-secret", body),
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["dropped"])
	assert.Equal(t, 0, ing.calls)
}

func TestReceiveDuplicateDelivery(t *testing.T) {
	ing := &recordingIngestor{}
	eventID := uuid.New()
	ing.result = &saleevent.IngestResult{
		Event:     &model.SaleEvent{ID: eventID},
		Duplicate: true,
	}
	r := testEndpoint(ing)

	body := ebaySoldPayload(t)
	w := post(r, "ebay", body, map[string]string{
		"X-Ebay-Signature": "sha256=" + Sign("ebay-secret", body),
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["duplicate"])
	assert.Equal(t, eventID.String(), resp["event_id"])
}

func TestReceiveUnmappedListing(t *testing.T) {
	ing := &recordingIngestor{}
	ing.result = &saleevent.IngestResult{
		Event:    &model.SaleEvent{ID: uuid.New()},
		Unmapped: true,
	}
	r := testEndpoint(ing)

	body := ebaySoldPayload(t)
	w := post(r, "ebay", body, map[string]string{
		"X-Ebay-Signature": "sha256=" + Sign("ebay-secret", body),
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReceiveDefaultHeaderAndNoPrefix(t *testing.T) {
	ing := &recordingIngestor{}
	r := testEndpoint(ing)

	body := []byte(`{"event_type": "receipt_paid", "event_id": "e-1", "listing_id": "L9", "price": 12, "was_paid": true}`)
	w := post(r, "etsy", body, map[string]string{
		"X-Webhook-Signature": Sign("etsy-secret", body),
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, ing.calls)
	assert.Equal(t, "etsy", ing.lastIn.Marketplace)
	assert.Equal(t, "paid", ing.lastIn.PaymentStatus)
}

func TestVerifySignatureConstantShape(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign("s3cret", body)

	assert.True(t, VerifySignature("s3cret", sig, "", body))
	assert.True(t, VerifySignature("s3cret", "sha256="+sig, "sha256=", body))
	assert.False(t, VerifySignature("s3cret", "", "", body))
	assert.False(t, VerifySignature("s3cret", sig, "sha256=", body), "missing required prefix")
	assert.False(t, VerifySignature("other", sig, "", body))
	assert.False(t, VerifySignature("s3cret", sig+"00", "", body))
}
