// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/safehorizon/safehorizon/internal/authz"
	"github.com/safehorizon/safehorizon/internal/middleware"
)

// NewRouter wires every route. Authenticated groups run the JWT
// middleware then the role enforcer; the auth endpoints get the tighter
// brute-force budget.
func NewRouter(h *Handler, enforcer *authz.Enforcer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Security.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Prometheus)

	rateLimit := httprate.Limit(h.cfg.Security.RateLimitRPM, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(rateLimited))
	authRateLimit := httprate.Limit(h.cfg.Security.AuthRateLimitRPM, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(rateLimited))

	// Ops surface.
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler())

	// Unauthenticated surface.
	r.Group(func(r chi.Router) {
		r.Use(rateLimit)
		r.Get("/api/public/panic-alerts", h.PublicPanicAlerts)
		// Gateway sessions authenticate by query-param token.
		r.Get("/api/alerts/subscribe", h.gateway.ServeHTTP)
	})

	// Credential endpoints: tighter budget against brute force.
	r.Route("/api/auth", func(r chi.Router) {
		r.Use(authRateLimit)
		r.Post("/register", h.RegisterTourist)
		r.Post("/login", h.Login)
		r.Post("/register-authority", h.RegisterAuthority)
		r.Post("/login-authority", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.jwt.Middleware)
			r.Use(enforcer.Middleware)
			r.Get("/me", h.Me)
		})
	})

	// Everything else requires a token and a permitted role.
	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit)
		r.Use(h.jwt.Middleware)
		r.Use(enforcer.Middleware)

		// Tourist surface.
		r.Post("/location/update", h.LocationUpdate)
		r.Get("/location/history", h.LocationHistory)
		r.Get("/location/nearby-risks", h.NearbyRisks)
		r.Post("/sos/trigger", h.SOSTrigger)
		r.Get("/safety/score", h.SafetyScore)
		r.Post("/trip/start", h.TripStart)
		r.Post("/trip/end", h.TripEnd)
		r.Get("/trip/history", h.TripHistory)
		r.Get("/zones/list", h.ZonesList)
		r.Get("/broadcast/active", h.BroadcastActive)
		r.Post("/broadcast/{id}/ack", h.BroadcastAck)
		r.Post("/device/register", h.DeviceRegister)

		// E-FIR: generate is tourist-or-authority, the rest authority.
		r.Post("/efir/generate", h.EFIRGenerate)
		r.Get("/efir/verify/{tx_id}", h.EFIRVerify)
		r.Get("/efir/list", h.EFIRList)

		// Authority surface.
		r.Post("/broadcast/radius", h.BroadcastRadius)
		r.Post("/broadcast/zone", h.BroadcastZone)
		r.Post("/broadcast/region", h.BroadcastRegion)
		r.Post("/broadcast/all", h.BroadcastAll)
		r.Get("/broadcast/{id}/status", h.BroadcastStatus)
		r.Get("/authority/tourists/active", h.ActiveTouristsList)
		r.Get("/authority/tourist/{id}/track", h.TouristTrack)
		r.Get("/authority/tourist/{id}/alerts", h.TouristAlerts)
		r.Get("/authority/alerts/recent", h.RecentAlerts)
		r.Post("/authority/incident/acknowledge", h.IncidentAcknowledge)
		r.Post("/authority/incident/close", h.IncidentClose)
		r.Post("/zones/create", h.ZoneCreate)
		r.Put("/zones/{id}", h.ZoneUpdate)
		r.Delete("/zones/{id}", h.ZoneDelete)
		r.Get("/zones/manage", h.ZonesManage)

		// Admin surface.
		r.Get("/admin/system/status", h.SystemStatus)
		r.Get("/admin/users/list", h.UsersList)
		r.Post("/admin/users/{id}/suspend", h.UserSuspend)
		r.Post("/admin/users/{id}/activate", h.UserActivate)
		r.Get("/admin/analytics/dashboard", h.AnalyticsDashboard)
	})

	return r
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "request budget exhausted", nil)
}
