package saleevent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/repository"
	"github.com/resellsync/crosslist/pkg/logger"
)

// DelistTrigger is the slice of the delisting orchestrator the ingestion
// pipeline needs: decide whether a sale spawns a delisting job and create it.
// A (nil, nil) return means no job was warranted (auto-delist disabled,
// filters, or no other live listings).
type DelistTrigger interface {
	TriggerFromSale(ctx context.Context, event *model.SaleEvent) (*model.DelistingJob, error)
}

// IngestResult reports what happened to one inbound sale event.
type IngestResult struct {
	Event          *model.SaleEvent
	DelistingJobID *uuid.UUID
	Duplicate      bool
	// Unmapped means the external listing id is unknown locally; the event
	// was stored with requires_verification set and no delisting job was
	// created.
	Unmapped bool
}

type Service struct {
	events   repository.SaleEventRepository
	listings repository.ListingRepository
	trigger  DelistTrigger
	logger   *logger.Logger
}

func NewService(
	events repository.SaleEventRepository,
	listings repository.ListingRepository,
	trigger DelistTrigger,
	log *logger.Logger,
) *Service {
	return &Service{
		events:   events,
		listings: listings,
		trigger:  trigger,
		logger:   log.WithComponent("sale-events"),
	}
}

// EventHash derives the dedup key for a canonical sale event.
func EventHash(evt *model.CanonicalSaleEvent) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%.2f|%s",
		evt.Marketplace,
		evt.ExternalEventID,
		evt.ExternalListingID,
		evt.SalePrice,
		evt.SaleDate.UTC().Format(time.RFC3339),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// Ingest persists a translated sale event and, when it maps to a known
// listing, triggers the delisting workflow. Redelivered events resolve to the
// existing row; the uniqueness constraints in the store back the in-process
// hash lookup so concurrent deliveries cannot both insert.
func (s *Service) Ingest(ctx context.Context, evt *model.CanonicalSaleEvent, raw json.RawMessage) (*IngestResult, error) {
	hash := EventHash(evt)

	if existing, err := s.events.GetByHash(ctx, hash); err == nil {
		s.logger.Debug("duplicate sale event", "marketplace", evt.Marketplace, "event_hash", hash)
		return &IngestResult{
			Event:          existing,
			DelistingJobID: existing.DelistingJobID,
			Duplicate:      true,
			Unmapped:       existing.RequiresVerification,
		}, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	event := &model.SaleEvent{
		ID:                    uuid.New(),
		Marketplace:           evt.Marketplace,
		ExternalEventID:       evt.ExternalEventID,
		ExternalListingID:     evt.ExternalListingID,
		ExternalTransactionID: evt.ExternalTransactionID,
		SalePrice:             evt.SalePrice,
		Currency:              evt.Currency,
		SaleDate:              evt.SaleDate,
		BuyerRef:              evt.BuyerRef,
		PaymentStatus:         evt.PaymentStatus,
		RawPayload:            raw,
		EventHash:             hash,
	}

	listing, err := s.listings.GetByExternalID(ctx, evt.Marketplace, evt.ExternalListingID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		event.RequiresVerification = true
	case err != nil:
		return nil, err
	}

	if err := s.events.Create(ctx, event); err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) {
			// Lost the insert race to a concurrent delivery, or the same
			// delivery arrived with a drifted payload: the hash differs but
			// the (marketplace, external_event_id) index caught it.
			existing, gerr := s.events.GetByHash(ctx, hash)
			if errors.Is(gerr, repository.ErrNotFound) {
				existing, gerr = s.events.GetByMarketplaceEventID(ctx, evt.Marketplace, evt.ExternalEventID)
			}
			if gerr != nil {
				return nil, fmt.Errorf("duplicate sale event but lookup failed: %w", gerr)
			}
			return &IngestResult{
				Event:          existing,
				DelistingJobID: existing.DelistingJobID,
				Duplicate:      true,
				Unmapped:       existing.RequiresVerification,
			}, nil
		}
		return nil, err
	}

	if event.RequiresVerification {
		s.logger.Warn("sale event for unknown listing, held for verification",
			"marketplace", evt.Marketplace, "external_listing_id", evt.ExternalListingID)
		return &IngestResult{Event: event, Unmapped: true}, nil
	}

	if err := s.listings.MarkSold(ctx, listing.ID); err != nil {
		s.logger.Error(err, "failed to mark listing sold", "listing_id", listing.ID.String())
	}

	result := &IngestResult{Event: event}
	job, err := s.trigger.TriggerFromSale(ctx, event)
	if err != nil {
		// The event is stored; the orchestrator failure must not make the
		// marketplace redeliver.
		s.logger.Error(err, "failed to trigger delisting", "event_id", event.ID.String())
	} else if job != nil {
		if err := s.events.SetDelistingJob(ctx, event.ID, job.ID); err != nil {
			s.logger.Error(err, "failed to link delisting job", "event_id", event.ID.String())
		}
		event.DelistingJobID = &job.ID
		result.DelistingJobID = &job.ID
	}

	if err := s.events.MarkProcessed(ctx, event.ID); err != nil {
		s.logger.Error(err, "failed to mark sale event processed", "event_id", event.ID.String())
	}

	s.logger.Info("sale event ingested",
		"marketplace", evt.Marketplace,
		"event_id", event.ID.String(),
		"delisting_job", result.DelistingJobID != nil)
	return result, nil
}

// Get returns one stored sale event.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.SaleEvent, error) {
	return s.events.GetByID(ctx, id)
}
