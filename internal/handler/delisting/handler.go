package delisting

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/resellsync/crosslist/internal/handler"
	"github.com/resellsync/crosslist/internal/middleware"
	"github.com/resellsync/crosslist/internal/repository"
	"github.com/resellsync/crosslist/internal/service/delist"
)

// Handler exposes the delisting orchestrator over HTTP: manual triggers,
// status reads, and the confirm/cancel actions for held jobs.
type Handler struct {
	svc *delist.Service
}

func NewHandler(svc *delist.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	jobs := r.Group("/delisting-jobs")
	{
		jobs.POST("", h.Trigger)
		jobs.GET("/:id", h.Get)
		jobs.POST("/:id/confirm", h.Confirm)
		jobs.POST("/:id/cancel", h.Cancel)
	}
}

type triggerRequest struct {
	InventoryItemID uuid.UUID `json:"inventory_item_id" binding:"required"`
}

func (h *Handler) Trigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	userID, err := uuid.Parse(c.GetString(middleware.ContextUserID))
	if err != nil {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid user id"))
		return
	}

	job, err := h.svc.TriggerManual(c.Request.Context(), userID, req.InventoryItemID)
	if err != nil {
		c.JSON(handler.ErrorStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(job))
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid job id"))
		return
	}

	job, err := h.svc.Get(c.Request.Context(), id)
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

func (h *Handler) Confirm(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid job id"))
		return
	}

	ok, err := h.svc.Confirm(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("failed to confirm job"))
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, handler.NewErrorResponse("job is not awaiting confirmation"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"confirmed": true}))
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid job id"))
		return
	}

	ok, err := h.svc.Cancel(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("failed to cancel job"))
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, handler.NewErrorResponse("only pending jobs can be cancelled"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"cancelled": true}))
}
