// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

// Package server wires the HTTP surface of the authorization server: the
// OAuth endpoints, the forward-auth interceptor, the well-known documents,
// and the health probes. Every request is enriched with a ClientInfo by the
// middleware before it reaches a controller.
package server

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uitsmijter/uitsmijter/pkg/config"
	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/keys"
	"github.com/uitsmijter/uitsmijter/pkg/session"
)

// Pinger reports whether a backing store answers round trips. The Redis
// session store implements it; the memory store needs no probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler carries the dependencies of all controllers.
type Handler struct {
	settings *config.Settings
	store    *entities.Store
	sessions session.Store
	signer   *keys.Signer
	keys     *keys.Storage
	renderer *Renderer

	// loaded flips once the initial entity load finished; readiness reports
	// unhealthy before that.
	loaded atomic.Bool
}

// NewHandler creates the handler with its collaborators.
func NewHandler(
	settings *config.Settings,
	store *entities.Store,
	sessions session.Store,
	signer *keys.Signer,
	keyStorage *keys.Storage,
	renderer *Renderer,
) *Handler {
	return &Handler{
		settings: settings,
		store:    store,
		sessions: sessions,
		signer:   signer,
		keys:     keyStorage,
		renderer: renderer,
	}
}

// SetLoaded marks the initial entity load as complete.
func (h *Handler) SetLoaded() {
	h.loaded.Store(true)
}

// Routes builds the router with every endpoint registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.ClientInfoMiddleware)

	r.Get("/authorize", h.Authorize)
	r.Post("/login", h.Login)
	r.Get("/login", h.LoginPage)
	r.Get("/logout", h.Logout)
	r.Post("/logout", h.LogoutFinalize)
	r.Get("/logout/finalize", h.LogoutFinalize)

	r.Post("/token", h.Token)
	r.Get("/token/info", h.TokenInfo)
	r.Post("/revoke", h.Revoke)

	r.Get("/interceptor", h.Interceptor)

	r.Get("/.well-known/openid-configuration", h.OpenIDConfiguration)
	r.Get("/.well-known/jwks.json", h.JWKS)

	r.Get("/health/alive", h.Alive)
	r.Get("/health/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Alive answers the liveness probe.
func (h *Handler) Alive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Ready answers the readiness probe: the initial entity load must have
// completed and the session store must answer a round trip.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.loaded.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "loading"})
		return
	}
	if pinger, ok := h.sessions.(Pinger); ok {
		if err := pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "store unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
