package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/dental-clinic-platform/internal/appointments"
	"github.com/wolfman30/dental-clinic-platform/internal/compliance"
	httpmiddleware "github.com/wolfman30/dental-clinic-platform/internal/http/middleware"
	"github.com/wolfman30/dental-clinic-platform/internal/invoices"
	"github.com/wolfman30/dental-clinic-platform/internal/payments"
	"github.com/wolfman30/dental-clinic-platform/internal/profiles"
	"github.com/wolfman30/dental-clinic-platform/internal/session"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Config holds router configuration. Nil handlers leave their routes unmounted.
type Config struct {
	Logger *logging.Logger

	Sessions       *session.Handler
	Appointments   *appointments.Handler
	Invoices       *invoices.Handler
	Payments       *payments.Handler
	RazorpayHook   *payments.RazorpayWebhookHandler
	Profiles       *profiles.Handler
	Audit          *compliance.Handler
	MetricsHandler http.Handler

	JWTSecret          string
	Revoker            session.Revoker
	RateLimiter        httpmiddleware.Limiter
	CORSAllowedOrigins []string

	// Health checks; nil entries are skipped.
	Database Pinger
	Redis    Pinger
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public endpoints (webhooks, health checks)
	r.Get("/health", healthHandler(cfg))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	if cfg.RazorpayHook != nil {
		r.With(httpmiddleware.RequestLogger(logger)).Post("/webhooks/razorpay", cfg.RazorpayHook.Handle)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Compress(5))
		if len(cfg.CORSAllowedOrigins) > 0 {
			api.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
		}
		api.Use(httpmiddleware.SessionJWT(cfg.JWTSecret, cfg.Revoker, logger))
		api.Use(httpmiddleware.RequestLogger(logger))
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter, logger))
		}

		if cfg.Sessions != nil {
			api.Mount("/session", cfg.Sessions.Routes())
		}

		if cfg.Appointments != nil {
			api.With(httpmiddleware.RequireRole(session.RoleReception)).Get("/appointments", cfg.Appointments.All)
			api.Get("/appointments/{appointmentID}", cfg.Appointments.Details)
			api.Get("/patients/{patientID}/appointments", cfg.Appointments.ByPatient)
			api.Get("/dentists/{dentistID}/appointments", cfg.Appointments.ByDentist)
		}

		if cfg.Profiles != nil {
			api.Route("/dentists/{dentistID}/profile", func(p chi.Router) {
				p.Use(httpmiddleware.RequireRole(session.RoleDentist, session.RoleReception))
				p.Get("/", cfg.Profiles.GetDentistProfile)
				p.Post("/", cfg.Profiles.CreateDentistProfile)
				p.Put("/", cfg.Profiles.UpdateDentistProfile)
			})
			api.With(httpmiddleware.RequireRole(session.RoleReception)).Get("/patients", cfg.Profiles.ListPatients)
		}

		if cfg.Invoices != nil {
			api.Mount("/invoices", cfg.Invoices.Routes())
		}
		if cfg.Payments != nil {
			api.Mount("/payments", cfg.Payments.Routes())
		}
		if cfg.Audit != nil {
			api.With(httpmiddleware.RequireRole(session.RoleReception)).Get("/audit/{appointmentID}", cfg.Audit.List)
		}
	})

	return r
}

func healthHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		status, code := "ok", http.StatusOK
		for name, p := range map[string]Pinger{"database": cfg.Database, "redis": cfg.Redis} {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				checks[name] = "unreachable"
				status, code = "degraded", http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "checks": checks})
	}
}
