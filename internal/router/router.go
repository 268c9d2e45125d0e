package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/resellsync/crosslist/internal/handler/delisting"
	"github.com/resellsync/crosslist/internal/handler/job"
	"github.com/resellsync/crosslist/internal/middleware"
	"github.com/resellsync/crosslist/internal/webhook"
)

type Router struct {
	engine           *gin.Engine
	auth             *middleware.AuthMiddleware
	jobHandler       *job.Handler
	delistingHandler *delisting.Handler
	webhooks         *webhook.Endpoint
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	jobHandler *job.Handler,
	delistingHandler *delisting.Handler,
	webhooks *webhook.Endpoint,
) *Router {
	return &Router{
		engine:           gin.New(),
		auth:             auth,
		jobHandler:       jobHandler,
		delistingHandler: delistingHandler,
		webhooks:         webhooks,
	}
}

func (r *Router) Setup() {
	middleware.RegisterValidations()

	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Logger())
	r.engine.Use(middleware.Recovery())

	apiLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  rate.Limit(100),
		Burst: 200,
	})

	r.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Marketplace webhooks authenticate by HMAC signature, not JWT.
	r.webhooks.Register(r.engine)

	api := r.engine.Group("/api/v1")
	api.Use(apiLimiter.RateLimit())
	api.Use(r.auth.Authenticate())
	r.jobHandler.RegisterRoutes(api)
	r.delistingHandler.RegisterRoutes(api)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
