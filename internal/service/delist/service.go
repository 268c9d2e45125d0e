package delist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/resellsync/crosslist/internal/marketplace"
	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/repository"
	"github.com/resellsync/crosslist/pkg/backoff"
	apperrors "github.com/resellsync/crosslist/pkg/errors"
	"github.com/resellsync/crosslist/pkg/logger"
	"github.com/resellsync/crosslist/pkg/metrics"
	"github.com/resellsync/crosslist/pkg/ratelimit"
)

// Config tunes the orchestrator.
type Config struct {
	PollInterval     time.Duration
	BatchSize        int
	MaxRetries       int
	RetryDelay       time.Duration
	ConfirmationHold time.Duration
	SweepInterval    time.Duration
}

// PreferenceSource resolves a user's delisting preferences, falling back to
// defaults when none are stored.
type PreferenceSource interface {
	Get(ctx context.Context, userID uuid.UUID) (*model.DelistingPreferences, error)
}

// Notifier receives the full outcome context once a job run finalizes.
type Notifier interface {
	Notify(ctx context.Context, job *model.DelistingJob, class model.OutcomeClass) error
}

// Service owns the delisting job state machine: triggering from sales,
// scheduling per preference, executing per-target end-listing attempts, and
// finalizing with partial-failure accounting.
type Service struct {
	cfg      Config
	jobs     repository.DelistingJobRepository
	listings repository.ListingRepository
	prefs    PreferenceSource
	audit    repository.AuditLogRepository
	adapters *marketplace.Registry
	limiter  *ratelimit.Registry
	policies map[string]backoff.Policy
	notifier Notifier
	logger   *logger.Logger
	metrics  *metrics.Metrics

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewService(
	cfg Config,
	jobs repository.DelistingJobRepository,
	listings repository.ListingRepository,
	prefs PreferenceSource,
	audit repository.AuditLogRepository,
	adapters *marketplace.Registry,
	limiter *ratelimit.Registry,
	policies map[string]backoff.Policy,
	notifier Notifier,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	if cfg.ConfirmationHold <= 0 {
		cfg.ConfirmationHold = 7 * 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	return &Service{
		cfg:      cfg,
		jobs:     jobs,
		listings: listings,
		prefs:    prefs,
		audit:    audit,
		adapters: adapters,
		limiter:  limiter,
		policies: policies,
		notifier: notifier,
		logger:   log.WithComponent("delisting"),
		metrics:  m,
	}
}

// Start launches the due-job poller and the expired-hold sweeper.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("starting delisting orchestrator",
		"poll_interval", s.cfg.PollInterval.String(),
		"confirmation_hold", s.cfg.ConfirmationHold.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ProcessDue(ctx)
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepExpiredHolds(ctx)
			}
		}
	}()
}

// Stop cancels the poller and waits for in-flight runs to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("delisting orchestrator stopped")
}

// TriggerFromSale decides whether a sale event spawns a delisting job, applies
// the user's timing preference, and creates the job. Returns (nil, nil) when
// the preferences or the target set rule a job out.
func (s *Service) TriggerFromSale(ctx context.Context, event *model.SaleEvent) (*model.DelistingJob, error) {
	listing, err := s.listings.GetByExternalID(ctx, event.Marketplace, event.ExternalListingID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sold listing: %w", err)
	}

	prefs, err := s.prefs.Get(ctx, listing.UserID)
	if err != nil {
		return nil, err
	}
	if !prefs.AutoDelistEnabled {
		s.logger.Debug("auto-delist disabled, skipping", "user_id", listing.UserID.String())
		return nil, nil
	}
	if prefs.MinSaleAmount != nil && event.SalePrice < *prefs.MinSaleAmount {
		return nil, nil
	}
	if prefs.MaxSaleAmount != nil && event.SalePrice > *prefs.MaxSaleAmount {
		return nil, nil
	}

	targets, err := s.resolveTargets(ctx, listing.InventoryItemID, event.Marketplace, prefs)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		s.logger.Debug("no delisting targets", "inventory_item_id", listing.InventoryItemID.String())
		return nil, nil
	}

	timing := effectiveTiming(prefs, targets)
	job := &model.DelistingJob{
		ID:                   uuid.New(),
		UserID:               listing.UserID,
		InventoryItemID:      listing.InventoryItemID,
		TriggerType:          model.TriggerSaleDetected,
		Status:               model.DelistingStatusPending,
		SoldOnMarketplace:    event.Marketplace,
		SalePrice:            event.SalePrice,
		SaleDate:             &event.SaleDate,
		MarketplacesTargeted: targets,
		MaxRetries:           s.cfg.MaxRetries,
	}

	now := time.Now()
	switch timing {
	case model.TimingDelayed:
		job.ScheduledFor = now.Add(time.Duration(prefs.DelayMinutes) * time.Minute)
	case model.TimingManualConfirmation:
		job.ScheduledFor = now.Add(s.cfg.ConfirmationHold)
		job.RequiresConfirmation = true
	default:
		job.ScheduledFor = now
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.auditJob(ctx, job, "delisting_job.created", map[string]interface{}{
		"trigger":   job.TriggerType,
		"targets":   []string(job.MarketplacesTargeted),
		"sold_on":   job.SoldOnMarketplace,
		"timing":    timing,
		"scheduled": job.ScheduledFor.Format(time.RFC3339),
	})
	s.logger.Info("delisting job created",
		"job_id", job.ID.String(),
		"targets", len(targets),
		"requires_confirmation", job.RequiresConfirmation)

	if job.RequiresConfirmation {
		s.notify(ctx, job, model.OutcomeConfirmationRequired)
	}
	return job, nil
}

// TriggerManual creates an immediately scheduled delisting job at the user's
// request. Preference gating does not apply; excluded marketplaces do.
func (s *Service) TriggerManual(ctx context.Context, userID, inventoryItemID uuid.UUID) (*model.DelistingJob, error) {
	prefs, err := s.prefs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	targets, err := s.resolveTargets(ctx, inventoryItemID, "", prefs)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, apperrors.BadRequest(fmt.Sprintf("no live listings to delist for item %s", inventoryItemID), nil)
	}

	job := &model.DelistingJob{
		ID:                   uuid.New(),
		UserID:               userID,
		InventoryItemID:      inventoryItemID,
		TriggerType:          model.TriggerManual,
		Status:               model.DelistingStatusPending,
		MarketplacesTargeted: targets,
		ScheduledFor:         time.Now(),
		MaxRetries:           s.cfg.MaxRetries,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	s.auditJob(ctx, job, "delisting_job.created", map[string]interface{}{
		"trigger": job.TriggerType,
		"targets": []string(job.MarketplacesTargeted),
	})
	return job, nil
}

// Get returns one delisting job.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.DelistingJob, error) {
	return s.jobs.GetByID(ctx, id)
}

// Confirm clears a confirmation hold so the job runs on the next tick.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.jobs.Confirm(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		s.auditByID(ctx, id, "delisting_job.confirmed")
	}
	return ok, nil
}

// Cancel moves a pending job to cancelled. Processing jobs are not preempted.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.jobs.Cancel(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		s.auditByID(ctx, id, "delisting_job.cancelled")
		if s.metrics != nil {
			s.metrics.DelistingOutcomes.WithLabelValues(string(model.DelistingStatusCancelled)).Inc()
		}
	}
	return ok, nil
}

// ProcessDue claims and executes due jobs. Each job runs in its own
// goroutine; the claim query's status guard prevents double-execution across
// processes.
func (s *Service) ProcessDue(ctx context.Context) {
	claimed, err := s.jobs.ClaimDue(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error(err, "failed to claim due delisting jobs")
		return
	}
	for _, job := range claimed {
		s.wg.Add(1)
		go func(job *model.DelistingJob) {
			defer s.wg.Done()
			s.execute(ctx, job)
		}(job)
	}
}

func (s *Service) resolveTargets(ctx context.Context, inventoryItemID uuid.UUID, soldOn string, prefs *model.DelistingPreferences) ([]string, error) {
	live, err := s.listings.ListLiveByItem(ctx, inventoryItemID)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(prefs.ExcludedMarketplaces))
	for _, m := range prefs.ExcludedMarketplaces {
		excluded[m] = true
	}

	seen := make(map[string]bool)
	var targets []string
	for _, l := range live {
		mp := l.Marketplace
		if mp == soldOn || seen[mp] || excluded[mp] {
			continue
		}
		if prefs.MarketplaceOverrides[mp] == model.TimingDisabled {
			continue
		}
		seen[mp] = true
		targets = append(targets, mp)
	}
	return targets, nil
}

// effectiveTiming picks the most cautious timing among the default and any
// per-target overrides, so one marketplace asking for confirmation holds the
// whole job.
func effectiveTiming(prefs *model.DelistingPreferences, targets []string) model.DelistTiming {
	rank := map[model.DelistTiming]int{
		model.TimingImmediate:          0,
		model.TimingDelayed:            1,
		model.TimingManualConfirmation: 2,
	}
	timing := prefs.DefaultTiming
	if !timing.Valid() {
		timing = model.TimingImmediate
	}
	for _, t := range targets {
		if ov := model.DelistTiming(prefs.MarketplaceOverrides[t]); ov.Valid() && rank[ov] > rank[timing] {
			timing = ov
		}
	}
	return timing
}

func (s *Service) execute(ctx context.Context, job *model.DelistingJob) {
	start := time.Now()
	log := s.logger.WithFields(map[string]interface{}{
		"job_id":  job.ID.String(),
		"targets": len(job.MarketplacesTargeted),
		"retry":   job.RetryCount,
	})

	external, err := s.externalIDsByMarketplace(ctx, job.InventoryItemID)
	if err != nil {
		log.Error(err, "failed to load live listings for delisting run")
		// Every remaining target fails this run; the retry budget covers it.
		for _, target := range job.RemainingTargets() {
			job.RecordFailure(target, fmt.Sprintf("failed to load listings: %v", err))
		}
		s.finalize(ctx, job, start)
		return
	}

	for _, target := range job.RemainingTargets() {
		listing, live := external[target]
		if !live {
			// Nothing left to end there; idempotent success.
			job.RecordSuccess(target, "listing no longer live")
			s.recordTarget(target, "success")
			continue
		}

		if err := s.endListing(ctx, job, target, listing); err != nil {
			log.Warn("end listing failed", "marketplace", target, "error", err.Error())
			job.RecordFailure(target, err.Error())
			s.recordTarget(target, "failure")
			continue
		}

		job.RecordSuccess(target, fmt.Sprintf("ended at %s", time.Now().UTC().Format(time.RFC3339)))
		s.recordTarget(target, "success")
		if err := s.listings.MarkEnded(ctx, listing.ID); err != nil {
			log.Error(err, "failed to mark listing ended", "listing_id", listing.ID.String())
		}
	}

	s.finalize(ctx, job, start)
}

// endListing performs one per-target attempt chain: resolve the adapter, then
// call endListing under the marketplace retry policy behind the rate limiter.
// A not-found from the marketplace is an idempotent end-state, not a failure.
func (s *Service) endListing(ctx context.Context, job *model.DelistingJob, target string, listing *model.Listing) error {
	adapter, err := s.adapters.Resolve(target)
	if err != nil {
		return fmt.Errorf("no active connection for %s", target)
	}

	policy := s.policy(target)
	opts := marketplace.EndOptions{
		Reason:       "sold_elsewhere",
		CancelReason: fmt.Sprintf("sold on %s", job.SoldOnMarketplace),
	}

	err = backoff.Retry(ctx, policy, func(ctx context.Context) error {
		return s.limiter.Execute(ctx, target, job.UserID.String(), func() error {
			res, eerr := adapter.EndListing(ctx, listing.ExternalID, opts)
			if eerr != nil {
				if marketplace.IsNotFound(eerr) {
					return nil
				}
				if marketplace.IsAuth(eerr) || marketplace.IsValidation(eerr) {
					return backoff.Permanent(eerr)
				}
				return eerr
			}
			if !res.Success && res.Error != "" {
				return fmt.Errorf("%s rejected end request: %s", target, res.Error)
			}
			return nil
		})
	}, func(attempt int, delay time.Duration, aerr error) {
		s.logger.Debug("retrying end listing",
			"job_id", job.ID.String(), "marketplace", target,
			"attempt", attempt, "delay", delay.String(), "error", aerr.Error())
	})
	return err
}

func (s *Service) finalize(ctx context.Context, job *model.DelistingJob, start time.Time) {
	now := time.Now()
	job.CompletedAt = &now

	failed, completed := len(job.MarketplacesFailed), len(job.MarketplacesComplete)
	switch {
	case failed == 0:
		job.Status = model.DelistingStatusCompleted
	case completed == 0 && job.RetryCount == 0:
		job.Status = model.DelistingStatusFailed
	default:
		job.Status = model.DelistingStatusPartiallyFailed
	}

	willRetry := false
	if job.Status == model.DelistingStatusPartiallyFailed {
		job.RetryCount++
		if job.RetryCount < job.MaxRetries {
			job.ScheduledFor = now.Add(s.cfg.RetryDelay)
			willRetry = true
		}
	}

	if err := s.jobs.Finalize(ctx, job); err != nil {
		s.logger.Error(err, "failed to finalize delisting job", "job_id", job.ID.String())
		return
	}

	if s.metrics != nil {
		s.metrics.DelistingDuration.Observe(time.Since(start).Seconds())
		if !willRetry {
			s.metrics.DelistingOutcomes.WithLabelValues(string(job.Status)).Inc()
		}
	}
	s.auditJob(ctx, job, "delisting_job."+string(job.Status), map[string]interface{}{
		"completed":  []string(job.MarketplacesComplete),
		"failed":     []string(job.MarketplacesFailed),
		"retry":      job.RetryCount,
		"will_retry": willRetry,
	})
	s.logger.Info("delisting run finalized",
		"job_id", job.ID.String(),
		"status", string(job.Status),
		"completed", completed,
		"failed", failed,
		"will_retry", willRetry)

	// Hand off to notifications once the outcome is settled; intermediate
	// retry runs stay quiet.
	if willRetry {
		return
	}
	switch job.Status {
	case model.DelistingStatusCompleted:
		s.notify(ctx, job, model.OutcomeSuccess)
	case model.DelistingStatusPartiallyFailed:
		s.notify(ctx, job, model.OutcomePartialFailure)
	case model.DelistingStatusFailed:
		s.notify(ctx, job, model.OutcomeCompleteFailure)
	}
}

func (s *Service) externalIDsByMarketplace(ctx context.Context, inventoryItemID uuid.UUID) (map[string]*model.Listing, error) {
	live, err := s.listings.ListLiveByItem(ctx, inventoryItemID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.Listing, len(live))
	for _, l := range live {
		out[l.Marketplace] = l
	}
	return out, nil
}

func (s *Service) policy(marketplaceName string) backoff.Policy {
	if p, ok := s.policies[marketplaceName]; ok {
		return p
	}
	// The item may already be gone on the far side, so fewer retries than
	// listing creation.
	return backoff.Policy{MaxRetries: 1, InitialDelay: 2 * time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
}

func (s *Service) sweepExpiredHolds(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ConfirmationHold)
	n, err := s.jobs.CancelExpiredHolds(ctx, cutoff)
	if err != nil {
		s.logger.Error(err, "failed to cancel expired confirmation holds")
		return
	}
	if n > 0 {
		s.logger.Warn("cancelled expired confirmation holds", "count", n)
		if s.metrics != nil {
			s.metrics.DelistingOutcomes.WithLabelValues(string(model.DelistingStatusCancelled)).Add(float64(n))
		}
	}
}

func (s *Service) recordTarget(target, result string) {
	if s.metrics != nil {
		s.metrics.DelistingTargets.WithLabelValues(target, result).Inc()
	}
}

func (s *Service) notify(ctx context.Context, job *model.DelistingJob, class model.OutcomeClass) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, job, class); err != nil {
		s.logger.Error(err, "notification dispatch failed", "job_id", job.ID.String())
	}
}

func (s *Service) auditJob(ctx context.Context, job *model.DelistingJob, action string, detail map[string]interface{}) {
	var raw json.RawMessage
	if detail != nil {
		raw, _ = json.Marshal(detail)
	}
	entry := &model.AuditLog{
		UserID:     job.UserID,
		EntityType: "delisting_job",
		EntityID:   job.ID,
		Action:     action,
		Detail:     raw,
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Error(err, "failed to write audit log", "job_id", job.ID.String())
	}
}

func (s *Service) auditByID(ctx context.Context, id uuid.UUID, action string) {
	entry := &model.AuditLog{
		EntityType: "delisting_job",
		EntityID:   id,
		Action:     action,
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Error(err, "failed to write audit log", "job_id", id.String())
	}
}
