// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/parley/internal/logging"
	"github.com/tomtom215/parley/internal/metrics"
)

//nolint:gochecknoinits // quiet logs for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// Compile-time interface checks.
var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*HubService)(nil)
	_ suture.Service = (*FanoutService)(nil)
	_ suture.Service = (*StoreMonitor)(nil)
	_ suture.Service = (*EmbeddedNATSService)(nil)
)

type mockHTTPServer struct {
	listenErr error
	started   chan struct{}
	stop      chan struct{}
	shutdowns atomic.Int32
	once      sync.Once
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	m.started <- struct{}{}
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stop
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	m.once.Do(func() { close(m.stop) })
	return nil
}

func TestHTTPServerService(t *testing.T) {
	t.Run("graceful shutdown", func(t *testing.T) {
		srv := newMockHTTPServer()
		svc := NewHTTPServerService(srv, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		<-srv.started
		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Serve() = %v, want context.Canceled", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return")
		}
		if srv.shutdowns.Load() != 1 {
			t.Errorf("Shutdown called %d times, want 1", srv.shutdowns.Load())
		}
	})

	t.Run("listen failure", func(t *testing.T) {
		srv := newMockHTTPServer()
		srv.listenErr = errors.New("address in use")
		svc := NewHTTPServerService(srv, 0)

		err := svc.Serve(context.Background())
		if err == nil || !errors.Is(err, srv.listenErr) {
			t.Errorf("Serve() = %v, want wrapped listen error", err)
		}
		if svc.shutdownTimeout != 10*time.Second {
			t.Errorf("shutdownTimeout = %v, want default 10s", svc.shutdownTimeout)
		}
	})
}

type fakeHub struct{ ran atomic.Bool }

func (h *fakeHub) RunWithContext(ctx context.Context) error {
	h.ran.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

func TestHubService(t *testing.T) {
	hub := &fakeHub{}
	svc := NewHubService(hub)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v", err)
	}
	if !hub.ran.Load() {
		t.Error("hub was not run")
	}
	if svc.String() != "connection-registry" {
		t.Errorf("String() = %q", svc.String())
	}
}

type fakeSubscriber struct{ err error }

func (s fakeSubscriber) Run(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestFanoutService(t *testing.T) {
	t.Run("subscribe failure is returned", func(t *testing.T) {
		boom := errors.New("nats: no servers available")
		err := NewFanoutService(fakeSubscriber{err: boom}).Serve(context.Background())
		if !errors.Is(err, boom) {
			t.Errorf("Serve() = %v, want %v", err, boom)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := NewFanoutService(fakeSubscriber{}).Serve(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v", err)
		}
	})
}

type flakyPinger struct {
	mu  sync.Mutex
	err error
	n   int
}

func (p *flakyPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return p.err
}

func (p *flakyPinger) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *flakyPinger) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func TestStoreMonitorTracksReachability(t *testing.T) {
	pinger := &flakyPinger{}
	mon := NewStoreMonitor(pinger, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Serve(ctx) }()

	waitFor := func(cond func() bool) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for !cond() {
			if time.Now().After(deadline) {
				t.Fatal("condition not met in time")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	waitFor(func() bool { return testutil.ToFloat64(metrics.StoreUp) == 1 })

	pinger.set(errors.New("connection refused"))
	waitFor(func() bool { return testutil.ToFloat64(metrics.StoreUp) == 0 })

	pinger.set(nil)
	waitFor(func() bool { return testutil.ToFloat64(metrics.StoreUp) == 1 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v", err)
	}
	if pinger.calls() < 3 {
		t.Errorf("pinged %d times, want at least 3", pinger.calls())
	}
}

func TestNewStoreMonitorDefaults(t *testing.T) {
	mon := NewStoreMonitor(&flakyPinger{}, 0)
	if mon.interval != 15*time.Second || mon.timeout != 5*time.Second {
		t.Errorf("interval = %v, timeout = %v", mon.interval, mon.timeout)
	}
}

type fakeEmbedded struct{ down atomic.Bool }

func (f *fakeEmbedded) Shutdown() { f.down.Store(true) }

func TestEmbeddedNATSServiceShutsDownOnCancel(t *testing.T) {
	srv := &fakeEmbedded{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewEmbeddedNATSService(srv).Serve(ctx); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Errorf("Serve() = %v, want ErrDoNotRestart", err)
	}
	if !srv.down.Load() {
		t.Error("server was not shut down")
	}
}
