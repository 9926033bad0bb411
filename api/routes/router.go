package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rxdispatch/rxdispatch-backend/api/controllers"
	"github.com/rxdispatch/rxdispatch-backend/api/middleware"
	"github.com/rxdispatch/rxdispatch-backend/internal/auth"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/pkg/auth/session"
	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
)

// rateLimitStore backs both auth throttling and idempotent replays.
type rateLimitStore interface {
	middleware.ReplayStore
	middleware.RateLimiterStore
}

// Dependencies carries everything the router wires into controllers. Nil
// services answer 500 on their routes instead of panicking.
type Dependencies struct {
	Config   *config.Config
	Logger   *logger.Logger
	Health   map[string]controllers.Pinger
	Redis    rateLimitStore
	Sessions session.AccessSessionChecker
	Resolver middleware.PrincipalResolver
	Gatherer prometheus.Gatherer

	Auth          auth.Service
	Prescriptions interface {
		controllers.PrescriptionService
		controllers.PharmacyRequestLister
		controllers.RiderProgressService
		controllers.AdminPrescriptionService
	}
	Responses interface {
		controllers.ResponseSubmitter
		controllers.OfferLister
		controllers.ResponseAuditor
	}
	Riders     controllers.RiderTaskService
	Pharmacies interface {
		controllers.PharmacyRegistrar
		controllers.PharmacyDirectory
	}
	Moderation    controllers.ModerationService
	AuditLog      controllers.AuditLogService
	Medicines     controllers.MedicineSuggester
	Realtime      controllers.RealtimeHub
	Notifications controllers.NotificationService
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.Realtime.AllowedOrigins),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	var idem middleware.ReplayStore
	var limiter middleware.RateLimiterStore
	if deps.Redis != nil {
		idem = deps.Redis
		limiter = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Health))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(middleware.Idempotency(idem, logg))
		r.With(middleware.AuthRateLimit(loginPolicy, limiter, logg)).Post("/login", controllers.AuthLogin(deps.Auth, logg))
		r.With(middleware.AuthRateLimit(registerPolicy, limiter, logg)).Post("/register", controllers.AuthRegister(deps.Auth, logg))
		r.Post("/logout", controllers.AuthLogout(deps.Auth, logg))
		r.Post("/refresh", controllers.AuthRefresh(deps.Auth, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Sessions, deps.Resolver, logg))
		r.Use(middleware.Idempotency(idem, logg))

		r.Get("/me", controllers.Me(logg))
		r.Get("/medicines/suggestions", controllers.MedicineSuggestions(deps.Medicines, logg))
		r.Get("/realtime", controllers.RealtimeFeed(deps.Realtime, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.NotificationList(deps.Notifications, logg))
			r.Post("/read-all", controllers.NotificationMarkAllRead(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.NotificationMarkRead(deps.Notifications, logg))
		})

		r.Route("/prescriptions", func(r chi.Router) {
			r.With(middleware.RequireCapability(identity.OpUploadPrescription, logg)).
				Post("/upload", controllers.PrescriptionUpload(deps.Prescriptions, cfg.Media.MaxUploadBytes(), logg))
			r.With(middleware.RequireCapability(identity.OpSearchRequest, logg)).
				Post("/search", controllers.PrescriptionSearchRequest(deps.Prescriptions, logg))
			r.Get("/", controllers.PrescriptionListMine(deps.Prescriptions, logg))
			r.Get("/{prescriptionId}", controllers.PrescriptionDetail(deps.Prescriptions, logg))
			r.Get("/{prescriptionId}/offers", controllers.PrescriptionOffers(deps.Responses, logg))
		})

		r.With(middleware.RequireCapability(identity.OpRegisterPharmacy, logg)).
			Post("/pharmacies", controllers.PharmacyRegister(deps.Pharmacies, logg))

		r.Route("/pharmacy", func(r chi.Router) {
			r.Use(middleware.RequireCapability(identity.OpListPharmacyRequests, logg))
			r.Get("/requests", controllers.PharmacyRequests(deps.Prescriptions, logg))
			r.Post("/requests/{prescriptionId}/responses", controllers.PharmacySubmitResponse(deps.Responses, logg))
		})

		r.Route("/rider", func(r chi.Router) {
			r.Use(middleware.RequireCapability(identity.OpListClaimable, logg))
			r.Get("/tasks/available", controllers.RiderAvailableTasks(deps.Riders, logg))
			r.Get("/tasks", controllers.RiderTasks(deps.Riders, logg))
			r.Post("/tasks/{prescriptionId}/claim", controllers.RiderClaim(deps.Riders, logg))
			r.Post("/tasks/{prescriptionId}/pickup", controllers.RiderPickup(deps.Prescriptions, logg))
			r.Post("/tasks/{prescriptionId}/deliver", controllers.RiderDeliver(deps.Prescriptions, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireCapability(identity.OpViewDashboard, logg))
			r.Get("/dashboard", controllers.AdminDashboard(deps.Moderation, logg))
			r.Get("/users", controllers.AdminUsers(deps.Moderation, logg))
			r.Patch("/users/{userId}/blocked", controllers.AdminSetUserBlocked(deps.Moderation, logg))
			r.Patch("/users/{userId}/role", controllers.AdminSetUserRole(deps.Moderation, logg))
			r.Get("/pharmacies", controllers.AdminPharmacies(deps.Pharmacies, logg))
			r.Patch("/pharmacies/{pharmacyId}/verified", controllers.AdminSetPharmacyVerified(deps.Moderation, logg))
			r.Get("/prescriptions", controllers.AdminPrescriptions(deps.Prescriptions, logg))
			r.Post("/prescriptions/{prescriptionId}/reject", controllers.AdminRejectPrescription(deps.Prescriptions, logg))
			r.Get("/prescriptions/{prescriptionId}/responses", controllers.AdminPrescriptionResponses(deps.Responses, logg))
			r.Get("/audit-logs", controllers.AdminAuditLogs(deps.AuditLog, logg))
			r.Get("/audit-logs/export", controllers.AdminAuditExport(deps.AuditLog, logg))
		})
	})

	return r
}
