package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/resellsync/crosslist/internal/config"
	"github.com/resellsync/crosslist/internal/marketplace"
	"github.com/resellsync/crosslist/internal/notify"
	"github.com/resellsync/crosslist/internal/queue"
	"github.com/resellsync/crosslist/internal/repository/postgres"
	"github.com/resellsync/crosslist/internal/service/delist"
	"github.com/resellsync/crosslist/internal/service/preference"
	"github.com/resellsync/crosslist/pkg/backoff"
	"github.com/resellsync/crosslist/pkg/logger"
	"github.com/resellsync/crosslist/pkg/messaging"
	redisbroker "github.com/resellsync/crosslist/pkg/messaging/redis"
	"github.com/resellsync/crosslist/pkg/metrics"
	"github.com/resellsync/crosslist/pkg/ratelimit"
)

// The worker owns the schedulers: the listing job queue tick and the
// delisting poller. The API binary shares the same stores but never starts
// these loops, so multiple workers can run side by side against the claim
// queries.
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
	delistingRepo := postgres.NewDelistingJobRepository(base)
	prefsRepo := postgres.NewPreferencesRepository(base)
	auditRepo := postgres.NewAuditLogRepository(base)
	notificationRepo := postgres.NewNotificationRepository(base)

	m := metrics.NewMetrics("crosslist_worker")

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
	for name, mc := range cfg.Marketplaces {
		if mc.Adapter.BaseURL != "" {
			adapters[name] = marketplace.NewHTTPBridge(name, mc.Adapter.BaseURL, mc.Adapter.APIKey)
		}
		policies[name] = mc.Retry.Policy()
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

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	delistSvc.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port+1), Handler: mux}
	go func() {
		log.Info("worker health server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "health server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down worker")

	cancel()
	q.Stop()
	delistSvc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
