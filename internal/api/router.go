// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/parley/internal/config"
)

// Router wires the handler set into a chi mux.
type Router struct {
	handler *Handler
	cfg     *config.Config
	chi     *ChiMiddleware
}

// NewRouter creates a router.
func NewRouter(handler *Handler, cfg *config.Config) *Router {
	return &Router{
		handler: handler,
		cfg:     cfg,
		chi:     NewChiMiddleware(&cfg.Security),
	}
}

// Setup builds the route tree.
//
//	GET /ws                    websocket handshake
//	GET /api/v1/health/live    liveness
//	GET /api/v1/health/ready   store reachability
//	GET /metrics               Prometheus scrape (when enabled)
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger())
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chi.CORS())

	r.With(router.chi.RateLimitUpgrades()).Get("/ws", router.handler.WebSocket)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	if router.cfg.Metrics.Enabled {
		path := router.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, req, http.StatusNotFound, "NOT_FOUND", "Not found")
	})

	return r
}
