package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/resellsync/crosslist/internal/config"
	delistingHandler "github.com/resellsync/crosslist/internal/handler/delisting"
	jobHandler "github.com/resellsync/crosslist/internal/handler/job"
	"github.com/resellsync/crosslist/internal/marketplace"
	"github.com/resellsync/crosslist/internal/middleware"
	"github.com/resellsync/crosslist/internal/notify"
	"github.com/resellsync/crosslist/internal/queue"
	"github.com/resellsync/crosslist/internal/repository/postgres"
	"github.com/resellsync/crosslist/internal/router"
	"github.com/resellsync/crosslist/internal/service/delist"
	"github.com/resellsync/crosslist/internal/service/preference"
	"github.com/resellsync/crosslist/internal/service/saleevent"
	"github.com/resellsync/crosslist/internal/webhook"
	"github.com/resellsync/crosslist/pkg/backoff"
	"github.com/resellsync/crosslist/pkg/logger"
	"github.com/resellsync/crosslist/pkg/messaging"
	redisbroker "github.com/resellsync/crosslist/pkg/messaging/redis"
	"github.com/resellsync/crosslist/pkg/metrics"
	"github.com/resellsync/crosslist/pkg/ratelimit"
)

func main() {
	log := logger.NewLogger(nil)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err, "failed to load configuration")
	}

	db, err := postgres.NewDB(cfg.Database.DSN())
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	listingJobRepo := postgres.NewListingJobRepository(base)
	listingRepo := postgres.NewListingRepository(base)
	saleEventRepo := postgres.NewSaleEventRepository(base)
	delistingRepo := postgres.NewDelistingJobRepository(base)
	prefsRepo := postgres.NewPreferencesRepository(base)
	auditRepo := postgres.NewAuditLogRepository(base)
	notificationRepo := postgres.NewNotificationRepository(base)

	m := metrics.NewMetrics("crosslist")

	var broker messaging.Broker
	if cfg.Redis.URL != "" {
		broker, err = redisbroker.NewRedisBroker(redisbroker.Config{
			URL:          cfg.Redis.URL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, &log.ZL)
		if err != nil {
			log.Fatal(err, "failed to connect to redis")
		}
		defer broker.Close()
	}

	adapters := make(map[string]marketplace.Adapter, len(cfg.Marketplaces))
	policies := make(map[string]backoff.Policy, len(cfg.Marketplaces))
	webhookConfigs := make(map[string]config.WebhookConfig, len(cfg.Marketplaces))
	for name, mc := range cfg.Marketplaces {
		if mc.Adapter.BaseURL != "" {
			adapters[name] = marketplace.NewHTTPBridge(name, mc.Adapter.BaseURL, mc.Adapter.APIKey)
		}
		policies[name] = mc.Retry.Policy()
		webhookConfigs[name] = mc.Webhook
	}
	registry := marketplace.NewRegistry(adapters)

	limiter := ratelimit.NewRegistry(cfg.RateLimits(), ratelimit.DefaultConfig)
	limiter.SetWaitObserver(func(mp string, wait time.Duration) {
		m.RateLimitWaits.WithLabelValues(mp).Observe(wait.Seconds())
	})

	prefsSvc := preference.NewService(prefsRepo, time.Minute, log)
	dispatcher := notify.NewDispatcher(prefsSvc, notificationRepo, notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, broker, log, m)

	// The API shares the queue and orchestrator with the worker but does not
	// start their schedulers; it only enqueues and mutates.
	q := queue.New(queue.Config{
		MaxConcurrentJobs: cfg.Queue.MaxConcurrentJobs,
		TickInterval:      cfg.Queue.TickInterval,
		JobTimeout:        cfg.Queue.JobTimeout,
		MaxAttempts:       cfg.Queue.MaxAttempts,
		Backoff:           cfg.Queue.BackoffPolicy(),
		StuckJobTimeout:   cfg.Queue.StuckJobTimeout,
	}, listingJobRepo, listingRepo, auditRepo, registry, limiter, log, m)

	delistSvc := delist.NewService(delist.Config{
		PollInterval:     cfg.Delisting.PollInterval,
		MaxRetries:       cfg.Delisting.MaxRetries,
		RetryDelay:       cfg.Delisting.RetryDelay,
		ConfirmationHold: cfg.Delisting.ConfirmationHold,
	}, delistingRepo, listingRepo, prefsSvc, auditRepo, registry, limiter, policies, dispatcher, log, m)

	saleSvc := saleevent.NewService(saleEventRepo, listingRepo, delistSvc, log)
	webhooks := webhook.NewEndpoint(webhookConfigs, webhook.DefaultTranslators(), saleSvc, log, m)

	auth := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	r := router.NewRouter(auth,
		jobHandler.NewHandler(q),
		delistingHandler.NewHandler(delistSvc),
		webhooks)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		log.Info("api server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down api server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "forced shutdown")
	}
}
