package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	Service     AppointmentService
	Auth        Authenticator
	Logger      *slog.Logger
	RateLimiter *RateLimiter // optional, guards visit requests
	Required    map[string]Check
	Optional    map[string]Check
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	v := newValidator()

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	// Health endpoints
	health := NewHealthHandler(cfg.Required, cfg.Optional, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware(cfg.Auth))

		create := http.Handler(createAppointmentHandler(cfg.Service, v, logger))
		if cfg.RateLimiter != nil {
			create = cfg.RateLimiter.Middleware(create)
		}
		r.Method(http.MethodPost, "/appointments", create)

		r.Get("/appointments", listAppointmentsHandler(cfg.Service, logger))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service, logger))
		r.Patch("/appointments/{id}/status", updateStatusHandler(cfg.Service, v, logger))
		r.Get("/properties/{id}/availability", availabilityHandler(cfg.Service, logger))
	})

	return r
}
