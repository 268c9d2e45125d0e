package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/repository"
	"github.com/resellsync/crosslist/pkg/logger"
	"github.com/resellsync/crosslist/pkg/messaging"
	"github.com/resellsync/crosslist/pkg/metrics"
)

const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
	ChannelInApp   = "in_app"

	inAppTopic = "notifications:delisting"
)

// PreferenceSource resolves the user's enabled notification channels.
type PreferenceSource interface {
	Get(ctx context.Context, userID uuid.UUID) (*model.DelistingPreferences, error)
}

// EmailSender is the slice of gomail the dispatcher uses.
type EmailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPConfig configures the email channel.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Dispatcher fans a delisting outcome out to the user's enabled channels.
// Channels fail independently; the overall dispatch fails only when every
// attempted channel failed or the audit record could not be persisted.
type Dispatcher struct {
	prefs      PreferenceSource
	records    repository.NotificationRepository
	mailer     EmailSender
	from       string
	httpClient *http.Client
	broker     messaging.Broker
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewDispatcher(
	prefs PreferenceSource,
	records repository.NotificationRepository,
	smtp SMTPConfig,
	broker messaging.Broker,
	log *logger.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	var mailer EmailSender
	if smtp.Host != "" {
		mailer = gomail.NewDialer(smtp.Host, smtp.Port, smtp.Username, smtp.Password)
	}
	return &Dispatcher{
		prefs:      prefs,
		records:    records,
		mailer:     mailer,
		from:       smtp.From,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		broker:     broker,
		logger:     log.WithComponent("notifications"),
		metrics:    m,
	}
}

// outcomePayload is the body sent over the webhook and in-app channels.
type outcomePayload struct {
	JobID                uuid.UUID          `json:"job_id"`
	UserID               uuid.UUID          `json:"user_id"`
	Classification       model.OutcomeClass `json:"classification"`
	InventoryItemID      uuid.UUID          `json:"inventory_item_id"`
	SoldOnMarketplace    string             `json:"sold_on_marketplace,omitempty"`
	SalePrice            float64            `json:"sale_price,omitempty"`
	MarketplacesTargeted []string           `json:"marketplaces_targeted"`
	MarketplacesComplete []string           `json:"marketplaces_completed"`
	MarketplacesFailed   []string           `json:"marketplaces_failed"`
	ErrorLog             map[string]string  `json:"error_log,omitempty"`
	OccurredAt           time.Time          `json:"occurred_at"`
}

// Notify sends the outcome through every enabled channel and persists the
// fan-out record.
func (d *Dispatcher) Notify(ctx context.Context, job *model.DelistingJob, class model.OutcomeClass) error {
	prefs, err := d.prefs.Get(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve notification preferences: %w", err)
	}

	payload := outcomePayload{
		JobID:                job.ID,
		UserID:               job.UserID,
		Classification:       class,
		InventoryItemID:      job.InventoryItemID,
		SoldOnMarketplace:    job.SoldOnMarketplace,
		SalePrice:            job.SalePrice,
		MarketplacesTargeted: job.MarketplacesTargeted,
		MarketplacesComplete: job.MarketplacesComplete,
		MarketplacesFailed:   job.MarketplacesFailed,
		ErrorLog:             job.ErrorLog,
		OccurredAt:           time.Now().UTC(),
	}

	outcomes := model.MarketplaceLog{}
	attempted, failed := 0, 0
	send := func(channel string, fn func() error) {
		attempted++
		if err := fn(); err != nil {
			failed++
			outcomes[channel] = "failed: " + err.Error()
			d.logger.Error(err, "notification channel failed",
				"channel", channel, "job_id", job.ID.String())
			if d.metrics != nil {
				d.metrics.NotificationsFailed.WithLabelValues(channel).Inc()
			}
			return
		}
		outcomes[channel] = "sent"
		if d.metrics != nil {
			d.metrics.NotificationsSent.WithLabelValues(channel).Inc()
		}
	}

	if prefs.NotifyEmail && prefs.EmailAddress != "" {
		send(ChannelEmail, func() error { return d.sendEmail(prefs.EmailAddress, job, class) })
	}
	if prefs.NotifyWebhook && prefs.WebhookURL != "" {
		send(ChannelWebhook, func() error { return d.sendWebhook(ctx, prefs.WebhookURL, payload) })
	}
	if prefs.NotifyInApp {
		send(ChannelInApp, func() error { return d.sendInApp(ctx, payload) })
	}

	record := &model.NotificationRecord{
		UserID:         job.UserID,
		DelistingJobID: job.ID,
		Classification: class,
		Channels:       outcomes,
	}
	if err := d.records.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to persist notification record: %w", err)
	}

	if attempted > 0 && failed == attempted {
		return fmt.Errorf("all %d notification channels failed for job %s", attempted, job.ID)
	}
	return nil
}

func (d *Dispatcher) sendEmail(to string, job *model.DelistingJob, class model.OutcomeClass) error {
	if d.mailer == nil {
		return fmt.Errorf("smtp is not configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", d.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", emailSubject(class))
	m.SetBody("text/plain", emailBody(job, class))
	return d.mailer.DialAndSend(m)
}

func (d *Dispatcher) sendWebhook(ctx context.Context, url string, payload outcomePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) sendInApp(ctx context.Context, payload outcomePayload) error {
	if d.broker == nil {
		return fmt.Errorf("in-app broker is not configured")
	}
	return d.broker.Publish(ctx, inAppTopic, payload)
}

func emailSubject(class model.OutcomeClass) string {
	switch class {
	case model.OutcomeSuccess:
		return "Your listings were delisted after a sale"
	case model.OutcomePartialFailure:
		return "Some listings could not be delisted"
	case model.OutcomeCompleteFailure:
		return "Delisting failed - action needed"
	case model.OutcomeConfirmationRequired:
		return "Confirm delisting of your other listings"
	}
	return "Delisting update"
}

func emailBody(job *model.DelistingJob, class model.OutcomeClass) string {
	var b bytes.Buffer
	switch class {
	case model.OutcomeConfirmationRequired:
		fmt.Fprintf(&b, "Your item sold on %s for %.2f.\n", job.SoldOnMarketplace, job.SalePrice)
		fmt.Fprintf(&b, "Confirm to remove it from: %v\n", []string(job.MarketplacesTargeted))
	default:
		fmt.Fprintf(&b, "Delisting job %s finished with status %s.\n", job.ID, job.Status)
		if len(job.MarketplacesComplete) > 0 {
			fmt.Fprintf(&b, "Removed from: %v\n", []string(job.MarketplacesComplete))
		}
		for mp, detail := range job.ErrorLog {
			fmt.Fprintf(&b, "Failed on %s: %s\n", mp, detail)
		}
	}
	return b.String()
}
