package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resellsync/crosslist/internal/config"
	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/service/saleevent"
	apperrors "github.com/resellsync/crosslist/pkg/errors"
	"github.com/resellsync/crosslist/pkg/logger"
	"github.com/resellsync/crosslist/pkg/metrics"
)

const defaultSignatureHeader = "X-Webhook-Signature"

// Ingestor is the downstream pipeline a verified, translated event is handed
// to.
type Ingestor interface {
	Ingest(ctx context.Context, evt *model.CanonicalSaleEvent, raw json.RawMessage) (*saleevent.IngestResult, error)
}

// Endpoint serves the per-marketplace webhook routes. Responses are
// synchronous because marketplace retry behavior keys off the status code.
type Endpoint struct {
	configs     map[string]config.WebhookConfig
	translators map[string]Translator
	ingestor    Ingestor
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

func NewEndpoint(
	configs map[string]config.WebhookConfig,
	translators map[string]Translator,
	ingestor Ingestor,
	log *logger.Logger,
	m *metrics.Metrics,
) *Endpoint {
	if translators == nil {
		translators = DefaultTranslators()
	}
	return &Endpoint{
		configs:     configs,
		translators: translators,
		ingestor:    ingestor,
		logger:      log.WithComponent("webhooks"),
		metrics:     m,
	}
}

func (e *Endpoint) Register(r gin.IRouter) {
	r.POST("/webhooks/:marketplace", e.Receive)
}

func (e *Endpoint) Receive(c *gin.Context) {
	marketplace := c.Param("marketplace")

	cfg, ok := e.configs[marketplace]
	if !ok || cfg.Secret == "" {
		// Never silently accept unverified payloads.
		nerr := apperrors.NotConfigured("webhook secret for " + marketplace)
		e.logger.Error(nerr, "webhook rejected", "marketplace", marketplace)
		e.reject(marketplace, "not_configured")
		c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": nerr.Message})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		e.reject(marketplace, "unreadable_body")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unreadable request body"})
		return
	}

	header := cfg.SignatureHeader
	if header == "" {
		header = defaultSignatureHeader
	}
	signature := c.GetHeader(header)
	if signature == "" {
		e.reject(marketplace, "missing_signature")
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing signature"})
		return
	}
	if !VerifySignature(cfg.Secret, signature, cfg.SignaturePrefix, body) {
		e.logger.Warn("webhook signature mismatch", "marketplace", marketplace)
		e.reject(marketplace, "invalid_signature")
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid signature"})
		return
	}

	translator, ok := e.translators[marketplace]
	if !ok {
		translator = TranslateGeneric(marketplace)
	}
	evt, err := translator(body)
	if err != nil {
		e.reject(marketplace, "malformed_payload")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if evt == nil {
		// Valid payload, not a completed sale. Acknowledge and drop.
		c.JSON(http.StatusOK, gin.H{"success": true, "dropped": true})
		return
	}

	result, err := e.ingestor.Ingest(c.Request.Context(), evt, json.RawMessage(body))
	if err != nil {
		e.logger.Error(err, "sale event ingestion failed", "marketplace", marketplace)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "ingestion failed"})
		return
	}

	if e.metrics != nil {
		e.metrics.WebhooksReceived.WithLabelValues(marketplace).Inc()
		if result.Duplicate {
			e.metrics.WebhooksDuplicate.WithLabelValues(marketplace).Inc()
		}
	}

	if result.Unmapped {
		c.JSON(http.StatusNotFound, gin.H{
			"success":   false,
			"event_id":  result.Event.ID,
			"duplicate": result.Duplicate,
			"error":     "external listing not mapped to a local listing",
		})
		return
	}

	resp := gin.H{
		"success":   true,
		"event_id":  result.Event.ID,
		"duplicate": result.Duplicate,
	}
	if result.DelistingJobID != nil {
		resp["job_id"] = *result.DelistingJobID
	}
	c.JSON(http.StatusOK, resp)
}

func (e *Endpoint) reject(marketplace, reason string) {
	if e.metrics != nil {
		e.metrics.WebhooksRejected.WithLabelValues(marketplace, reason).Inc()
	}
}
