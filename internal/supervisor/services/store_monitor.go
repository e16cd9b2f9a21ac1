// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package services

import (
	"context"
	"time"

	"github.com/tomtom215/parley/internal/logging"
	"github.com/tomtom215/parley/internal/metrics"
)

// Pinger is satisfied by both store backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreMonitor pings the durable store on an interval, exports the result
// as parley_store_up and logs transitions between reachable and not.
type StoreMonitor struct {
	store    Pinger
	interval time.Duration
	timeout  time.Duration
}

// NewStoreMonitor creates a monitor. A non-positive interval means 15s.
func NewStoreMonitor(store Pinger, interval time.Duration) *StoreMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := interval / 2
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &StoreMonitor{store: store, interval: interval, timeout: timeout}
}

// Serve implements suture.Service.
func (m *StoreMonitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	up := m.check(ctx, true)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			up = m.check(ctx, up)
		}
	}
}

func (m *StoreMonitor) check(ctx context.Context, wasUp bool) bool {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.store.Ping(pingCtx)
	if err != nil {
		metrics.StoreUp.Set(0)
		if wasUp {
			logging.Error().Err(err).Msg("durable store unreachable")
		}
		return false
	}
	metrics.StoreUp.Set(1)
	if !wasUp {
		logging.Info().Msg("durable store reachable again")
	}
	return true
}

func (m *StoreMonitor) String() string {
	return "store-monitor"
}
