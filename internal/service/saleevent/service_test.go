package saleevent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/repository"
	"github.com/resellsync/crosslist/pkg/logger"
)

// fakeEventRepo enforces both unique constraints of the real table: the
// event hash and (marketplace, external_event_id).
type fakeEventRepo struct {
	mu        sync.Mutex
	byHash    map[string]*model.SaleEvent
	byEventID map[string]*model.SaleEvent
	byID      map[uuid.UUID]*model.SaleEvent
	// missHashOnce makes the next GetByHash miss, simulating a concurrent
	// delivery inserting between the lookup and the insert.
	missHashOnce bool
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{
		byHash:    make(map[string]*model.SaleEvent),
		byEventID: make(map[string]*model.SaleEvent),
		byID:      make(map[uuid.UUID]*model.SaleEvent),
	}
}

func eventIDKey(marketplace, externalEventID string) string {
	return marketplace + "|" + externalEventID
}

func (r *fakeEventRepo) Create(_ context.Context, event *model.SaleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHash[event.EventHash]; exists {
		return repository.ErrDuplicateEvent
	}
	key := eventIDKey(event.Marketplace, event.ExternalEventID)
	if event.ExternalEventID != "" {
		if _, exists := r.byEventID[key]; exists {
			return repository.ErrDuplicateEvent
		}
	}
	cp := *event
	r.byHash[event.EventHash] = &cp
	if event.ExternalEventID != "" {
		r.byEventID[key] = &cp
	}
	r.byID[event.ID] = &cp
	return nil
}

func (r *fakeEventRepo) GetByID(_ context.Context, id uuid.UUID) (*model.SaleEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *fakeEventRepo) GetByHash(_ context.Context, hash string) (*model.SaleEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missHashOnce {
		r.missHashOnce = false
		return nil, repository.ErrNotFound
	}
	if e, ok := r.byHash[hash]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *fakeEventRepo) GetByMarketplaceEventID(_ context.Context, marketplace, externalEventID string) (*model.SaleEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byEventID[eventIDKey(marketplace, externalEventID)]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *fakeEventRepo) SetDelistingJob(_ context.Context, eventID, jobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.byID[eventID]
	e.DelistingJobID = &jobID
	return nil
}

func (r *fakeEventRepo) MarkProcessed(_ context.Context, eventID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[eventID].Processed = true
	return nil
}

type fakeListings struct {
	mu       sync.Mutex
	listings []*model.Listing
	sold     []uuid.UUID
}

func (r *fakeListings) GetByID(context.Context, uuid.UUID) (*model.Listing, error) {
	return nil, repository.ErrNotFound
}

func (r *fakeListings) GetByExternalID(_ context.Context, marketplace, externalID string) (*model.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.listings {
		if l.Marketplace == marketplace && l.ExternalID == externalID {
			return l, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeListings) ListLiveByItem(context.Context, uuid.UUID) ([]*model.Listing, error) {
	return nil, nil
}
func (r *fakeListings) ApplyResult(context.Context, uuid.UUID, model.ListingResult) error { return nil }
func (r *fakeListings) MarkRejected(context.Context, uuid.UUID, string) error             { return nil }
func (r *fakeListings) MarkEnded(context.Context, uuid.UUID) error                        { return nil }

func (r *fakeListings) MarkSold(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sold = append(r.sold, id)
	return nil
}

type stubTrigger struct {
	calls int
	job   *model.DelistingJob
	err   error
}

func (s *stubTrigger) TriggerFromSale(context.Context, *model.SaleEvent) (*model.DelistingJob, error) {
	s.calls++
	return s.job, s.err
}

func canonical() *model.CanonicalSaleEvent {
	return &model.CanonicalSaleEvent{
		Marketplace:       "ebay",
		EventType:         "ITEM_SOLD",
		ExternalEventID:   "n-1",
		ExternalListingID: "ext-1",
		SalePrice:         25.5,
		Currency:          "USD",
		SaleDate:          time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestService(events *fakeEventRepo, listings *fakeListings, trigger *stubTrigger) *Service {
	return NewService(events, listings, trigger,
		logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, TimeFormat: time.RFC3339}))
}

func TestIngestCreatesEventAndTriggersDelisting(t *testing.T) {
	events := newFakeEventRepo()
	listings := &fakeListings{listings: []*model.Listing{{
		ID: uuid.New(), UserID: uuid.New(), InventoryItemID: uuid.New(),
		Marketplace: "ebay", ExternalID: "ext-1", Status: model.ListingStatusActive,
	}}}
	jobID := uuid.New()
	trigger := &stubTrigger{job: &model.DelistingJob{ID: jobID}}
	svc := newTestService(events, listings, trigger)

	res, err := svc.Ingest(context.Background(), canonical(), json.RawMessage(`{"raw":true}`))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.False(t, res.Unmapped)
	require.NotNil(t, res.DelistingJobID)
	assert.Equal(t, jobID, *res.DelistingJobID)
	assert.Equal(t, 1, trigger.calls)
	assert.Len(t, listings.sold, 1)

	stored, err := events.GetByID(context.Background(), res.Event.ID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	require.NotNil(t, stored.DelistingJobID)
	assert.Equal(t, jobID, *stored.DelistingJobID)
}

func TestIngestDuplicateResolvesExistingEvent(t *testing.T) {
	events := newFakeEventRepo()
	listings := &fakeListings{listings: []*model.Listing{{
		ID: uuid.New(), Marketplace: "ebay", ExternalID: "ext-1", Status: model.ListingStatusActive,
	}}}
	jobID := uuid.New()
	trigger := &stubTrigger{job: &model.DelistingJob{ID: jobID}}
	svc := newTestService(events, listings, trigger)

	first, err := svc.Ingest(context.Background(), canonical(), nil)
	require.NoError(t, err)

	second, err := svc.Ingest(context.Background(), canonical(), nil)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	require.NotNil(t, second.DelistingJobID)
	assert.Equal(t, jobID, *second.DelistingJobID)
	assert.Equal(t, 1, trigger.calls, "a duplicate must not spawn a second delisting job")
	assert.Len(t, events.byHash, 1)
}

func TestIngestInsertRaceFallsBackToExisting(t *testing.T) {
	events := newFakeEventRepo()
	listings := &fakeListings{listings: []*model.Listing{{
		ID: uuid.New(), Marketplace: "ebay", ExternalID: "ext-1", Status: model.ListingStatusActive,
	}}}
	trigger := &stubTrigger{}
	svc := newTestService(events, listings, trigger)

	winner := &model.SaleEvent{ID: uuid.New(), EventHash: EventHash(canonical())}
	require.NoError(t, events.Create(context.Background(), winner))
	events.missHashOnce = true

	res, err := svc.Ingest(context.Background(), canonical(), nil)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, winner.ID, res.Event.ID)
}

// A redelivery whose payload drifted (so the hash differs) still carries the
// same external event id and must resolve to the stored row instead of
// erroring, or the marketplace keeps redelivering.
func TestIngestPayloadDriftResolvesByExternalEventID(t *testing.T) {
	events := newFakeEventRepo()
	listings := &fakeListings{listings: []*model.Listing{{
		ID: uuid.New(), Marketplace: "ebay", ExternalID: "ext-1", Status: model.ListingStatusActive,
	}}}
	jobID := uuid.New()
	trigger := &stubTrigger{job: &model.DelistingJob{ID: jobID}}
	svc := newTestService(events, listings, trigger)

	first, err := svc.Ingest(context.Background(), canonical(), nil)
	require.NoError(t, err)

	drifted := canonical()
	drifted.SalePrice = 25.49
	require.NotEqual(t, EventHash(canonical()), EventHash(drifted))

	second, err := svc.Ingest(context.Background(), drifted, nil)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	require.NotNil(t, second.DelistingJobID)
	assert.Equal(t, jobID, *second.DelistingJobID)
	assert.Equal(t, 1, trigger.calls, "a drifted redelivery must not spawn a second delisting job")
	assert.Len(t, events.byID, 1)
}

func TestIngestUnknownListingHeldForVerification(t *testing.T) {
	events := newFakeEventRepo()
	trigger := &stubTrigger{}
	svc := newTestService(events, &fakeListings{}, trigger)

	res, err := svc.Ingest(context.Background(), canonical(), nil)
	require.NoError(t, err)
	assert.True(t, res.Unmapped)
	assert.Nil(t, res.DelistingJobID)
	assert.True(t, res.Event.RequiresVerification)
	assert.Equal(t, 0, trigger.calls)
}

func TestIngestTriggerDeclinesJob(t *testing.T) {
	events := newFakeEventRepo()
	listings := &fakeListings{listings: []*model.Listing{{
		ID: uuid.New(), Marketplace: "ebay", ExternalID: "ext-1", Status: model.ListingStatusActive,
	}}}
	trigger := &stubTrigger{job: nil}
	svc := newTestService(events, listings, trigger)

	res, err := svc.Ingest(context.Background(), canonical(), nil)
	require.NoError(t, err)
	assert.Nil(t, res.DelistingJobID)
	assert.Equal(t, 1, trigger.calls)

	stored, err := events.GetByID(context.Background(), res.Event.ID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
}

func TestEventHashSensitivity(t *testing.T) {
	base := EventHash(canonical())
	assert.Equal(t, base, EventHash(canonical()), "hash is deterministic")

	changed := canonical()
	changed.SalePrice = 26
	assert.NotEqual(t, base, EventHash(changed))

	changed = canonical()
	changed.ExternalListingID = "ext-2"
	assert.NotEqual(t, base, EventHash(changed))

	changed = canonical()
	changed.SaleDate = changed.SaleDate.Add(time.Hour)
	assert.NotEqual(t, base, EventHash(changed))
}
