package job

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/resellsync/crosslist/internal/handler"
	"github.com/resellsync/crosslist/internal/middleware"
	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/queue"
	"github.com/resellsync/crosslist/internal/repository"
)

// Handler exposes the listing job queue over HTTP.
type Handler struct {
	queue *queue.Queue
}

func NewHandler(q *queue.Queue) *Handler {
	return &Handler{queue: q}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	jobs := r.Group("/listing-jobs")
	{
		jobs.POST("", h.Enqueue)
		jobs.GET("/:id", h.GetStatus)
		jobs.POST("/:id/cancel", h.Cancel)
		jobs.POST("/:id/retry", h.Retry)
	}
}

type enqueueRequest struct {
	InventoryItemID uuid.UUID      `json:"inventory_item_id" binding:"required"`
	ListingID       uuid.UUID      `json:"listing_id" binding:"required"`
	Marketplace     string         `json:"marketplace" binding:"required"`
	Priority        int            `json:"priority"`
	Payload         enqueuePayload `json:"payload" binding:"required"`
}

type enqueuePayload struct {
	Title       string            `json:"title" binding:"required"`
	Description string            `json:"description"`
	Price       float64           `json:"price" binding:"required,gt=0"`
	Currency    string            `json:"currency" binding:"omitempty,currency"`
	Photos      []string          `json:"photos"`
	Attributes  map[string]string `json:"attributes"`
}

func (h *Handler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	userID, err := uuid.Parse(c.GetString(middleware.ContextUserID))
	if err != nil {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid user id"))
		return
	}

	currency := req.Payload.Currency
	if currency == "" {
		currency = "USD"
	}
	job := &model.ListingJob{
		UserID:          userID,
		InventoryItemID: req.InventoryItemID,
		ListingID:       req.ListingID,
		Marketplace:     req.Marketplace,
		Priority:        req.Priority,
		Payload: model.ListingPayload{
			Title:       req.Payload.Title,
			Description: req.Payload.Description,
			Price:       req.Payload.Price,
			Currency:    currency,
			Photos:      req.Payload.Photos,
			Attributes:  req.Payload.Attributes,
		},
	}

	id, err := h.queue.Enqueue(c.Request.Context(), job)
	if err != nil {
		c.JSON(handler.ErrorStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(gin.H{"job_id": id}))
}

func (h *Handler) GetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid job id"))
		return
	}

	job, err := h.queue.GetStatus(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("job not found"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("failed to load job"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(job))
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid job id"))
		return
	}

	ok, err := h.queue.Cancel(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("job not found"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("failed to cancel job"))
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, handler.NewErrorResponse("job is not cancellable in its current state"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"cancelled": true}))
}

func (h *Handler) Retry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid job id"))
		return
	}

	ok, err := h.queue.Retry(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("failed to retry job"))
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, handler.NewErrorResponse("only failed jobs can be retried"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"retried": true}))
}
