// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

// Package fanout carries room broadcasts to connections. Local delivers
// within this process; Cluster also relays every delivery over NATS so each
// broker instance reaches its own connections.
package fanout

import (
	"context"

	"github.com/tomtom215/parley/internal/websocket"
)

// Deliverer is the registry side of a broadcast.
type Deliverer interface {
	Deliver(d websocket.Delivery) int
}

// Local delivers straight into the in-process registry.
type Local struct {
	hub Deliverer
}

// NewLocal returns a single-instance broadcaster.
func NewLocal(hub Deliverer) *Local {
	return &Local{hub: hub}
}

// Broadcast delivers d to the local members of its group.
func (l *Local) Broadcast(_ context.Context, d websocket.Delivery) {
	l.hub.Deliver(d)
}
