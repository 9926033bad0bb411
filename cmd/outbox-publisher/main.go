package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/metrics"
	"github.com/rxdispatch/rxdispatch-backend/pkg/migrate"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/idempotency"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox/registry"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pubsub"
	"github.com/rxdispatch/rxdispatch-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	must(context.Background(), logg, "config", err)
	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	must(ctx, logg, "database", err)
	defer closeQuietly(logg, "database", dbClient.Close)
	must(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, pubsub.PublisherRequirements(cfg.PubSub), logg)
	must(ctx, logg, "pubsub", err)
	defer closeQuietly(logg, "pubsub", pubsubClient.Close)
	topics := newPubSubTopics(pubsubClient)
	defer topics.Stop()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	must(ctx, logg, "redis", err)
	defer closeQuietly(logg, "redis", redisClient.Close)
	guard, err := idempotency.NewManager(redisClient, idempotency.DefaultTTL)
	must(ctx, logg, "publish guard", err)

	events, err := registry.NewEventRegistry(cfg.PubSub)
	must(ctx, logg, "event registry", err)

	relay, err := NewRelay(RelayParams{
		Config:      cfg.Outbox,
		Logger:      logg,
		DB:          dbClient,
		Store:       outbox.NewRepository(dbClient.DB()),
		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
		Resolver:    events,
		Topics:      topics,
		Guard:       guard,
		Metrics:     metrics.NewOutbox(prometheus.DefaultRegisterer),
		Checks: []Check{
			{Name: "database", Ping: dbClient.Ping},
			{Name: "pubsub", Ping: pubsubClient.Ping},
		},
	})
	must(ctx, logg, "relay", err)

	if addr := cfg.Outbox.MetricsAddr; addr != "" {
		srv := serveMetrics(ctx, logg, addr)
		defer func() { _ = srv.Close() }()
	}

	logg.Info(ctx, "outbox.relay_starting")
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox.relay_stopped", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox.relay_shutdown")
}

func serveMetrics(ctx context.Context, logg *logger.Logger, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "outbox.metrics_listener_stopped", err)
		}
	}()
	return srv
}

func must(ctx context.Context, logg *logger.Logger, what string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "outbox.init_failed: "+what, err)
	os.Exit(1)
}

func closeQuietly(logg *logger.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		logg.Error(context.Background(), "outbox.close_failed: "+what, err)
	}
}
