// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package services

import (
	"context"

	"github.com/thejerf/suture/v4"
)

// EmbeddedServer is satisfied by *fanout.EmbeddedServer.
type EmbeddedServer interface {
	Shutdown()
}

// EmbeddedNATSService owns the shutdown of an embedded NATS server that was
// started before the tree so clients could connect during wiring. It cannot
// restart the server, so it never asks to be restarted.
type EmbeddedNATSService struct {
	server EmbeddedServer
}

// NewEmbeddedNATSService wraps server.
func NewEmbeddedNATSService(server EmbeddedServer) *EmbeddedNATSService {
	return &EmbeddedNATSService{server: server}
}

// Serve implements suture.Service.
func (s *EmbeddedNATSService) Serve(ctx context.Context) error {
	<-ctx.Done()
	s.server.Shutdown()
	return suture.ErrDoNotRestart
}

func (s *EmbeddedNATSService) String() string {
	return "embedded-nats"
}
