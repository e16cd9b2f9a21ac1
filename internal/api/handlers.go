// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/tomtom215/parley/internal/auth"
	"github.com/tomtom215/parley/internal/config"
	"github.com/tomtom215/parley/internal/logging"
	"github.com/tomtom215/parley/internal/metrics"
	"github.com/tomtom215/parley/internal/websocket"
)

// maxCloseReason is the largest reason a close frame can carry.
const maxCloseReason = 123

// Pinger reports whether the durable store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Authenticator verifies handshake credentials.
type Authenticator interface {
	Verify(ctx context.Context, raw string) (*auth.Identity, error)
}

// Handler serves the websocket endpoint and health checks.
type Handler struct {
	store      Pinger
	verifier   Authenticator
	hub        *websocket.Hub
	dispatcher websocket.Dispatcher
	upgrader   gws.Upgrader
	startTime  time.Time

	// baseCtx parents every connection. The request context cannot be used:
	// net/http cancels it once ServeHTTP returns, long before the socket closes.
	baseCtx context.Context
}

// NewHandler creates the HTTP handler set. ctx bounds the lifetime of every
// admitted connection.
func NewHandler(ctx context.Context, store Pinger, verifier Authenticator, hub *websocket.Hub, dispatcher websocket.Dispatcher, cfg *config.SecurityConfig) *Handler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Handler{
		store:      store,
		verifier:   verifier,
		hub:        hub,
		dispatcher: dispatcher,
		upgrader:   newUpgrader(cfg.CORSOrigins),
		startTime:  time.Now(),
		baseCtx:    ctx,
	}
}

func newUpgrader(allowed []string) gws.Upgrader {
	return gws.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			if checkOrigin(r, allowed) {
				return true
			}
			logging.Ctx(r.Context()).Warn().
				Str("origin", r.Header.Get("Origin")).
				Msg("websocket connection rejected from unauthorized origin")
			return false
		},
	}
}

// checkOrigin admits requests without an Origin header (non-browser clients
// carry their credential explicitly), origins on the allow list, and
// same-host origins when the list is empty.
func checkOrigin(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// WebSocket authenticates the handshake, upgrades the connection and admits
// it to the hub. Rejected handshakes are still upgraded so the client gets
// a close frame with a readable reason.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	requestID := logging.RequestIDFromContext(r.Context())
	logger := logging.Ctx(r.Context())

	identity, authErr := h.verifier.Verify(r.Context(), auth.CredentialFromRequest(r))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	if authErr != nil {
		code, reason := rejection(authErr)
		metrics.HandshakeRejections.WithLabelValues(reason).Inc()
		if code == gws.CloseInternalServerErr {
			logger.Error().Err(authErr).Str("reason", reason).Msg("websocket handshake failed")
		} else {
			logger.Info().Err(authErr).Str("reason", reason).Msg("websocket handshake rejected")
		}
		closeWith(conn, code, authErr.Error())
		return
	}

	client, err := h.hub.Admit(conn, identity)
	if err != nil {
		if errors.Is(err, websocket.ErrHubClosed) {
			closeWith(conn, gws.CloseGoingAway, "server is shutting down")
			return
		}
		logger.Error().Err(err).Msg("failed to admit websocket client")
		closeWith(conn, gws.CloseInternalServerErr, "internal server error")
		return
	}

	h.hub.SendTo(client.ConnID(), websocket.Message{
		Type: websocket.EventConnected,
		Data: websocket.ConnectedData{
			Message:   "connected",
			UserID:    identity.ID,
			Timestamp: time.Now().UTC(),
		},
	})

	client.Start(logging.ContextWithRequestID(h.baseCtx, requestID), h.dispatcher)
}

// rejection maps a verifier error to a close code and a metric label.
func rejection(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredential):
		return gws.ClosePolicyViolation, "invalid_credential"
	case errors.Is(err, auth.ErrUnknownUser):
		return gws.ClosePolicyViolation, "unknown_user"
	case errors.Is(err, auth.ErrConfiguration):
		return gws.CloseInternalServerErr, "configuration"
	default:
		return gws.CloseInternalServerErr, "store"
	}
}

func closeWith(conn *gws.Conn, code int, reason string) {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	deadline := time.Now().Add(time.Second)
	if err := conn.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(code, reason), deadline); err != nil {
		logging.Debug().Err(err).Msg("failed to write close frame")
	}
	_ = conn.Close()
}

// HealthLive reports that the process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, &APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"alive":  true,
			"uptime": time.Since(h.startTime).Round(time.Second).String(),
		},
	})
}

// HealthReady reports whether the store is reachable. Load balancers use it
// to stop routing handshakes to an instance that cannot authenticate.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
		respondError(w, r, http.StatusServiceUnavailable, "NOT_READY", "Database unavailable")
		return
	}

	respondJSON(w, r, http.StatusOK, &APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"ready":       true,
			"connections": h.hub.ClientCount(),
			"rooms":       h.hub.RoomCount(),
		},
	})
}
