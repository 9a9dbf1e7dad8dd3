// Package api provides the HTTP API of the reference registration server.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/relaypush/relaypush/internal/api/handler"
	"github.com/relaypush/relaypush/internal/api/middleware"
	"github.com/relaypush/relaypush/internal/registration"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics
	Reporter  middleware.PanicReporter
	Service   *registration.Service

	// APIKeys are "name:secret" pairs accepted on app-authenticated routes.
	APIKeys    []string
	RequireTLS bool
	Checks     []handler.Check
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger, cfg.Reporter))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.RequireJSON)

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Checks...)
	regHandler := handler.NewRegistrationHandler(cfg.Service, cfg.Logger)

	appAuth := middleware.AppAuth(cfg.APIKeys)
	deviceRateLimit := middleware.RateLimitByDevice(middleware.DeviceRateLimit)

	r.Route("/ops", func(r chi.Router) {
		r.Get("/health", opsHandler.HealthCheck)
		r.Get("/ready", opsHandler.ReadinessCheck)
		r.With(appAuth).Get("/status", opsHandler.SystemStatus)
	})

	r.Route("/push/deviceRegistrations", func(r chi.Router) {
		r.With(middleware.RateLimitByIP(middleware.RegisterRateLimit), appAuth).Post("/", regHandler.Register)
		r.With(middleware.RateLimitByIP(middleware.StandardRateLimit), appAuth).Get("/", regHandler.List)
		r.With(middleware.DeviceAuth(cfg.Service, handler.QueryDeviceID), deviceRateLimit).Delete("/", regHandler.Deregister)

		r.Route("/{deviceId}", func(r chi.Router) {
			r.Use(middleware.DeviceAuth(cfg.Service, handler.PathDeviceID))
			r.Use(deviceRateLimit)
			r.Get("/", regHandler.Get)
			r.Patch("/", regHandler.Update)
		})
	})

	return r
}
