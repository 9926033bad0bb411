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

	"github.com/rxdispatch/rxdispatch-backend/api/controllers"
	"github.com/rxdispatch/rxdispatch-backend/api/routes"
	"github.com/rxdispatch/rxdispatch-backend/internal/auditlog"
	"github.com/rxdispatch/rxdispatch-backend/internal/auth"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/medicines"
	"github.com/rxdispatch/rxdispatch-backend/internal/moderation"
	"github.com/rxdispatch/rxdispatch-backend/internal/notifications"
	"github.com/rxdispatch/rxdispatch-backend/internal/pharmacies"
	"github.com/rxdispatch/rxdispatch-backend/internal/pharmacyresponses"
	"github.com/rxdispatch/rxdispatch-backend/internal/prescriptions"
	"github.com/rxdispatch/rxdispatch-backend/internal/realtime"
	"github.com/rxdispatch/rxdispatch-backend/internal/riders"
	"github.com/rxdispatch/rxdispatch-backend/internal/users"
	"github.com/rxdispatch/rxdispatch-backend/pkg/auth/session"
	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/metrics"
	"github.com/rxdispatch/rxdispatch-backend/pkg/migrate"
	"github.com/rxdispatch/rxdispatch-backend/pkg/outbox"
	"github.com/rxdispatch/rxdispatch-backend/pkg/redis"
	"github.com/rxdispatch/rxdispatch-backend/pkg/storage/gcs"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	requireResource(ctx, logg, "gcs", err)
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing gcs client", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	requireResource(ctx, logg, "session manager", err)

	registry := prometheus.NewRegistry()
	domainMetrics := metrics.NewDomain(registry)

	broker := realtime.NewBroker(realtime.BrokerParams{
		Buffer:  cfg.Realtime.ClientBuffer,
		Metrics: metrics.NewRealtime(registry),
		Logger:  logg,
	})
	defer broker.Close()
	if cfg.Realtime.RedisFanout {
		bridge, err := realtime.NewRedisBridge(redisClient.Raw(), cfg.Realtime.Channel, broker, logg)
		requireResource(ctx, logg, "realtime bridge", err)
		broker.AttachRemote(bridge)
		go func() {
			if err := bridge.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "realtime bridge stopped", err)
			}
		}()
	}
	conn := dbClient.DB()
	usersRepo := users.NewRepository(conn)
	resolver := identity.NewResolver(usersRepo)

	hub := realtime.NewHub(realtime.HubParams{
		Broker:         broker,
		Visible:        prescriptions.EventVisible,
		Refresher:      resolver,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
		PingInterval:   cfg.Realtime.PingInterval,
		Buffer:         cfg.Realtime.ClientBuffer,
		Logger:         logg,
	})

	rxRepo := prescriptions.NewRepository(conn)
	pharmacyRepo := pharmacies.NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	recorder := auditlog.NewRecorder()

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       usersRepo,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
		Logger:         logg,
	})
	requireResource(ctx, logg, "auth service", err)

	prescriptionService, err := prescriptions.NewService(prescriptions.ServiceParams{
		DB:              dbClient,
		Repo:            rxRepo,
		Outbox:          emitter,
		Audit:           recorder,
		Realtime:        broker,
		Store:           gcsClient,
		Metrics:         domainMetrics,
		Logger:          logg,
		FulfillmentFlow: cfg.Lifecycle.FulfillmentFlow,
		MaxUploadBytes:  cfg.Media.MaxUploadBytes(),
	})
	requireResource(ctx, logg, "prescription service", err)

	responseService, err := pharmacyresponses.NewService(pharmacyresponses.ServiceParams{
		DB:              dbClient,
		Repo:            pharmacyresponses.NewRepository(conn),
		Prescriptions:   rxRepo,
		Outbox:          emitter,
		Realtime:        broker,
		Metrics:         domainMetrics,
		Logger:          logg,
		DuplicatePolicy: cfg.Lifecycle.DuplicateResponsePolicy,
	})
	requireResource(ctx, logg, "pharmacy response service", err)

	riderService, err := riders.NewService(riders.ServiceParams{
		DB:       dbClient,
		Repo:     rxRepo,
		Outbox:   emitter,
		Realtime: broker,
		Metrics:  domainMetrics,
		Logger:   logg,
	})
	requireResource(ctx, logg, "rider service", err)

	pharmacyService, err := pharmacies.NewService(pharmacyRepo, logg)
	requireResource(ctx, logg, "pharmacy service", err)

	moderationService, err := moderation.NewService(moderation.ServiceParams{
		DB:            dbClient,
		Users:         usersRepo,
		Pharmacies:    pharmacyRepo,
		Prescriptions: rxRepo,
		Audit:         recorder,
		Outbox:        emitter,
		Sessions:      sessionManager,
		Metrics:       domainMetrics,
		Logger:        logg,
	})
	requireResource(ctx, logg, "moderation service", err)

	notificationService, err := notifications.NewService(notifications.NewRepository(conn))
	requireResource(ctx, logg, "notification service", err)

	suggester := medicines.NewSuggester(medicines.NewClient(cfg.Medicines), redisClient, cfg.Medicines.CacheTTL, logg)

	router := routes.NewRouter(routes.Dependencies{
		Config: cfg,
		Logger: logg,
		Health: map[string]controllers.Pinger{
			"db":    dbClient,
			"redis": redisClient,
			"gcs":   gcsClient,
		},
		Redis:         redisClient,
		Sessions:      sessionManager,
		Resolver:      resolver,
		Gatherer:      registry,
		Auth:          authService,
		Prescriptions: prescriptionService,
		Responses:     responseService,
		Riders:        riderService,
		Pharmacies:    pharmacyService,
		Moderation:    moderationService,
		AuditLog:      auditlog.NewService(auditlog.NewRepository(conn)),
		Medicines:     suggester,
		Realtime:      hub,
		Notifications: notificationService,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
		"flow": cfg.Lifecycle.FulfillmentFlow,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "api server shutdown failed", err)
	}
	logg.Info(shutdownCtx, "api server stopped")
}

func requireResource(ctx context.Context, logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to initialize "+name, err)
	os.Exit(1)
}
