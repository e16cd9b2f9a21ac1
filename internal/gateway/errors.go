// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package gateway

import "errors"

// Operation errors. All of them are reported to the originating connection
// as an error event and leave the connection open.
var (
	// ErrUnauthenticated means the connection has no session in the registry.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrAccessDenied means the caller is not an active participant.
	ErrAccessDenied = errors.New("access denied to conversation")

	// ErrIdentitySpoof means the claimed sender is not the authenticated user.
	ErrIdentitySpoof = errors.New("sender does not match authenticated user")

	// ErrInvalidPayload wraps malformed or out-of-range event data.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrRateLimited means the connection exceeded its inbound event budget.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInfrastructure is the generic message for store failures. The
	// underlying error is logged, never sent.
	ErrInfrastructure = errors.New("internal server error")

	// errIgnored marks best-effort events dropped without a reply.
	errIgnored = errors.New("ignored")
)

// clientMessage returns the text sent to the client for err and whether it
// is a client-side failure rather than an infrastructure one.
func clientMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrInvalidPayload):
		return err.Error(), true
	case errors.Is(err, ErrAccessDenied):
		return ErrAccessDenied.Error(), true
	case errors.Is(err, ErrIdentitySpoof):
		return ErrIdentitySpoof.Error(), true
	case errors.Is(err, ErrRateLimited):
		return ErrRateLimited.Error(), true
	case errors.Is(err, ErrUnauthenticated):
		return ErrUnauthenticated.Error(), true
	default:
		return ErrInfrastructure.Error(), false
	}
}
