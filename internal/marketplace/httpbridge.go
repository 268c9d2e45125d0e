package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/resellsync/crosslist/internal/model"
)

// HTTPBridge implements Adapter against a marketplace adapter service
// exposing the uniform contract over REST. Marketplace-specific field
// mapping, OAuth refresh and category plumbing live in that service; the
// engine only sees the typed error taxonomy.
type HTTPBridge struct {
	marketplace string
	baseURL     string
	apiKey      string
	client      *http.Client
}

func NewHTTPBridge(marketplace, baseURL, apiKey string) *HTTPBridge {
	return &HTTPBridge{
		marketplace: marketplace,
		baseURL:     baseURL,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *HTTPBridge) Marketplace() string { return b.marketplace }

func (b *HTTPBridge) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return NewError(KindValidation, b.marketplace, "encode request", err)
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return NewError(KindNetwork, b.marketplace, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return NewError(KindNetwork, b.marketplace, "request failed", err)
	}
	defer resp.Body.Close()

	if err := b.checkStatus(resp); err != nil {
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return NewError(KindNetwork, b.marketplace, "decode response", err)
		}
	}
	return nil
}

func (b *HTTPBridge) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewError(KindAuth, b.marketplace, "credentials rejected", nil)
	case resp.StatusCode == http.StatusNotFound:
		return NewError(KindNotFound, b.marketplace, "listing not found", nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		e := NewError(KindRateLimit, b.marketplace, "marketplace rate limit", nil)
		if reset := resp.Header.Get("Retry-After"); reset != "" {
			if secs, err := strconv.Atoi(reset); err == nil {
				at := time.Now().Add(time.Duration(secs) * time.Second)
				e.ResetAt = &at
			}
		}
		return e
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return NewError(KindValidation, b.marketplace, fmt.Sprintf("rejected with status %d", resp.StatusCode), nil)
	default:
		return NewError(KindNetwork, b.marketplace, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
}

func (b *HTTPBridge) CreateListing(ctx context.Context, payload model.ListingPayload) (*CreateResult, error) {
	var out CreateResult
	if err := b.do(ctx, http.MethodPost, "/listings", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *HTTPBridge) EndListing(ctx context.Context, externalID string, opts EndOptions) (*EndResult, error) {
	var out EndResult
	if err := b.do(ctx, http.MethodPost, "/listings/"+externalID+"/end", opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *HTTPBridge) GetListing(ctx context.Context, externalID string) (*ListingRecord, error) {
	var out ListingRecord
	err := b.do(ctx, http.MethodGet, "/listings/"+externalID, nil, &out)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *HTTPBridge) ValidateCredentials(ctx context.Context) (*CredentialStatus, error) {
	start := time.Now()
	var out CredentialStatus
	err := b.do(ctx, http.MethodGet, "/credentials/validate", nil, &out)
	out.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		out.Success = false
		out.ErrorMessage = err.Error()
		if IsAuth(err) {
			out.Status = "unauthorized"
			return &out, nil
		}
		return &out, err
	}
	return &out, nil
}
