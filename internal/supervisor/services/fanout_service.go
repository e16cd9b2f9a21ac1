// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package services

import (
	"context"
	"fmt"
)

// Subscriber is satisfied by *fanout.Cluster.
type Subscriber interface {
	Run(ctx context.Context) error
}

// FanoutService consumes deliveries published by other broker instances.
// A failed subscription is returned so suture restarts it with backoff;
// local delivery is unaffected meanwhile.
type FanoutService struct {
	sub Subscriber
}

// NewFanoutService wraps sub.
func NewFanoutService(sub Subscriber) *FanoutService {
	return &FanoutService{sub: sub}
}

// Serve implements suture.Service.
func (s *FanoutService) Serve(ctx context.Context) error {
	if err := s.sub.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("fanout subscriber: %w", err)
	}
	return ctx.Err()
}

func (s *FanoutService) String() string {
	return "fanout-subscriber"
}
