// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

// Package auth authenticates websocket handshakes. A bearer credential is
// verified once per connection attempt and resolved to a user that still
// exists in the store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/parley/internal/config"
	"github.com/tomtom215/parley/internal/models"
)

var (
	// ErrConfiguration means the server has no signing secret.
	ErrConfiguration = errors.New("authentication is not configured on this server")

	// ErrInvalidCredential covers missing, malformed, tampered and expired credentials.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrUnknownUser means the credential is valid but its subject no longer exists.
	ErrUnknownUser = errors.New("unknown user")
)

// Identity is the verified caller attached to a connection.
type Identity struct {
	ID   string
	Name string
	Role string
}

// UserLookup resolves user ids. Satisfied by both store backends.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Verifier turns a raw bearer credential into an Identity.
type Verifier struct {
	jwt    *JWTManager
	prefix string
	users  UserLookup
}

// NewVerifier never fails: a missing secret is reported by Verify as
// ErrConfiguration so the process stays up and every handshake is refused.
func NewVerifier(cfg *config.SecurityConfig, users UserLookup) *Verifier {
	v := &Verifier{prefix: cfg.TokenPrefix, users: users}
	if m, err := NewJWTManager(cfg); err == nil {
		v.jwt = m
	}
	return v
}

// Verify authenticates raw. Any error rejects the connection attempt.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	if v.jwt == nil {
		return nil, ErrConfiguration
	}

	token := strings.TrimSpace(raw)
	if v.prefix != "" && len(token) >= len(v.prefix) && strings.EqualFold(token[:len(v.prefix)], v.prefix) {
		token = strings.TrimSpace(token[len(v.prefix):])
	}
	if token == "" {
		return nil, fmt.Errorf("%w: no credential presented", ErrInvalidCredential)
	}

	claims, err := v.jwt.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: credential expired", ErrInvalidCredential)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	user, err := v.users.GetUser(ctx, claims.Subject)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, claims.Subject)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	return &Identity{ID: user.ID, Name: user.Name, Role: user.Role}, nil
}

// CredentialFromRequest reads the bearer credential from the Authorization
// header, falling back to the token query parameter that browser websocket
// clients have to use.
func CredentialFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return h
	}
	return r.URL.Query().Get("token")
}
