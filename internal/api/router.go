package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/good-yellow-bee/blazealert/internal/api/alerts"
	"github.com/good-yellow-bee/blazealert/internal/api/middleware"
	"github.com/good-yellow-bee/blazealert/internal/api/notifications"
	"github.com/good-yellow-bee/blazealert/internal/api/rules"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	limiter := middleware.NewRateLimiter(s.config.RateLimitPerMinute, s.config.RateLimitBurst)

	// Global middleware
	r.Use(middleware.RequestLogger(s.logger, s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.Metrics)

	// Health checks (public, no rate limit)
	r.Get("/health", s.healthHandler.Live)
	r.Get("/ready", s.healthHandler.Ready)

	alertHandler := alerts.NewHandler(s.engine, s.storage, s.logger)
	ruleHandler := rules.NewHandler(s.engine, s.logger)
	notificationHandler := notifications.NewHandler(s.engine, s.storage, s.logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.healthHandler.Live)

		r.Group(func(r chi.Router) {
			if s.jwt != nil {
				r.Use(middleware.JWTAuth(s.jwt, s.logger))
			}
			r.Use(middleware.RateLimitByClient(limiter))
			r.Use(chimw.Timeout(s.config.RequestTimeout))

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", alertHandler.List)
				r.Post("/trigger", alertHandler.Trigger)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", alertHandler.Get)
					r.Get("/deliveries", alertHandler.Deliveries)
					r.Post("/acknowledge", alertHandler.Acknowledge)
					r.Post("/resolve", alertHandler.Resolve)
				})
			})

			r.Route("/rules", func(r chi.Router) {
				r.Get("/", ruleHandler.List)
				r.Post("/", ruleHandler.Create)
				r.Get("/{id}", ruleHandler.Get)
				r.Put("/{id}", ruleHandler.Update)
				r.Delete("/{id}", ruleHandler.Delete)
			})

			r.Route("/templates", func(r chi.Router) {
				r.Get("/", notificationHandler.ListTemplates)
				r.Post("/", notificationHandler.CreateTemplate)
				r.Get("/{id}", notificationHandler.GetTemplate)
			})

			r.Route("/preferences/{recipient}", func(r chi.Router) {
				r.Get("/", notificationHandler.GetPreference)
				r.Put("/", notificationHandler.PutPreference)
				r.Delete("/", notificationHandler.DeletePreference)
			})

			r.Get("/deliveries", notificationHandler.ListDeliveries)
			r.Get("/metrics/alerts", alertHandler.Metrics)
		})
	})

	return r
}
