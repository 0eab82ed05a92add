// Package router wires the dispatch gateway's middleware chain and every
// exposed operation onto a chi.Router, the way the teacher's router
// package assembles its own gateway surface.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/fielddispatch/gateway/internal/authn"
	"github.com/fielddispatch/gateway/internal/config"
	"github.com/fielddispatch/gateway/internal/observability"
	"github.com/fielddispatch/gateway/internal/realtime"
	"github.com/fielddispatch/gateway/internal/transport/handler"
	"github.com/fielddispatch/gateway/internal/transport/middleware"
)

// New returns a configured chi.Router: the full middleware chain, health
// and metrics endpoints, the realtime upgrade routes, and every customer,
// provider, and admin operation behind role-gated auth.
func New(cfg *config.Config, logger zerolog.Logger, verifier *authn.Verifier, h *handler.Handler, hub *realtime.Hub, metrics *observability.Metrics, registry *prometheus.Registry, tracer *observability.Tracer) http.Handler {
	r := chi.NewRouter()

	// --- Middleware chain (order matters) ---
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if tracer != nil {
		r.Use(observability.TracingMiddleware(tracer))
	}
	r.Use(middleware.RequestLogger(logger, metrics))
	r.Use(middleware.MaxBodySize(cfg.MaxBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"dispatch-gateway"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"dispatch-gateway"}`))
	})
	if metrics != nil && registry != nil {
		r.Get("/metrics", observability.Handler(registry))
	}

	rateLimiter := middleware.NewRateLimiter(logger, cfg.RateLimitEnabled, cfg.RateLimitRPM, cfg.RateLimitBurst)
	timeoutMW := middleware.NewTimeout(logger, cfg)

	r.Route("/v1", func(r chi.Router) {
		r.Use(verifier.Middleware)
		r.Use(rateLimiter.Handler)
		r.Use(timeoutMW.Handler)

		r.Route("/customer", func(r chi.Router) {
			r.Use(authn.RequireRole(authn.RoleCustomer))
			r.Post("/jobs", h.CreateJob)
			r.Get("/jobs", h.ListActiveJobs)
			r.Post("/jobs/{jobID}/cancel", h.CancelJob)
			r.Post("/jobs/{jobID}/approve-provider", h.ApproveProvider)
			r.Post("/jobs/{jobID}/reject-provider", h.RejectProvider)
			r.Post("/jobs/{jobID}/rate", h.RateJob)
			r.Get("/jobs/{jobID}/price-breakdown", h.PriceBreakdown)
		})

		r.Route("/provider", func(r chi.Router) {
			r.Use(authn.RequireRole(authn.RoleProvider))
			r.Get("/offers", h.ListPendingOffers)
			r.Post("/jobs/{jobID}/accept", h.AcceptOffer)
			r.Post("/jobs/{jobID}/decline", h.DeclineOffer)
			r.Post("/jobs/{jobID}/en-route", h.MarkEnRoute)
			r.Post("/jobs/{jobID}/arrived", h.MarkArrived)
			r.Post("/jobs/{jobID}/started", h.MarkStarted)
			r.Post("/jobs/{jobID}/completed", h.MarkCompleted)
			r.Post("/location", h.UpdateLocation)
			r.Post("/online", h.SetOnline)
			r.Post("/credentials", h.UploadCredential)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authn.RequireRole(authn.RoleAdmin))
			r.Post("/credentials/{credentialID}/approve", h.ApproveCredential)
			r.Post("/credentials/{credentialID}/reject", h.RejectCredential)
			r.Post("/providers/{providerID}/adjust-score", h.AdjustScore)
			r.Post("/jobs/{jobID}/reassign", h.Reassign)
		})
	})

	if hub != nil {
		r.Group(func(r chi.Router) {
			r.Use(verifier.Middleware)
			r.Get("/ws/jobs", hub.ServeWS(realtime.NamespaceJobs))
			r.Get("/ws/location", hub.ServeWS(realtime.NamespaceLocation))
			r.Get("/ws/chat", hub.ServeWS(realtime.NamespaceChat))
		})
	}

	return r
}
