// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

// Package main is the entry point for the Parley broker.
//
// Parley authenticates websocket clients with bearer credentials, lets them
// join conversation rooms they participate in, and relays messages, typing
// indicators and read receipts between the live connections of a room. All
// conversation state lives in the durable store; room membership on the
// socket side is ephemeral.
//
// # Startup
//
//  1. .env files, then configuration (Koanf: ENV > config.yaml > defaults)
//  2. Logging
//  3. Durable store: embedded DuckDB (default) or MySQL through GORM
//  4. Fanout: in-process, or NATS (optionally embedded) via Watermill
//  5. Connection registry, identity verifier, conversation gateway
//  6. HTTP router and the suture supervisor tree
//
// SIGINT and SIGTERM cancel the tree: the listener stops accepting
// handshakes, every live connection is closed and the store is released.
//
// # Example
//
//	export JWT_SECRET=$(openssl rand -base64 32)
//	export DUCKDB_PATH=/data/parley.duckdb
//	export FANOUT_MODE=nats NATS_EMBEDDED=true
//	./parley
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/parley/internal/api"
	"github.com/tomtom215/parley/internal/auth"
	"github.com/tomtom215/parley/internal/config"
	"github.com/tomtom215/parley/internal/database"
	"github.com/tomtom215/parley/internal/fanout"
	"github.com/tomtom215/parley/internal/gateway"
	"github.com/tomtom215/parley/internal/gormstore"
	"github.com/tomtom215/parley/internal/logging"
	"github.com/tomtom215/parley/internal/models"
	"github.com/tomtom215/parley/internal/supervisor"
	"github.com/tomtom215/parley/internal/supervisor/services"
	"github.com/tomtom215/parley/internal/websocket"
)

const storeMonitorInterval = 15 * time.Second

// brokerStore is what the broker needs from either store backend.
type brokerStore interface {
	gateway.Store
	auth.UserLookup
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Parley stopped with an error")
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("database_driver", cfg.Database.Driver).
		Str("fanout_mode", cfg.Fanout.Mode).
		Msg("Starting Parley")

	store, err := openStore(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	if cfg.Database.SeedDemoData {
		seedDemo(store, &cfg.Security)
	}

	if cfg.Security.JWTSecret == "" {
		logging.Warn().Msg("JWT_SECRET is empty: every websocket handshake will be refused")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tree := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddDataService(services.NewStoreMonitor(store, storeMonitorInterval))

	hub := websocket.NewHub(nil, cfg.Broker.SendBuffer)
	tree.AddMessagingService(services.NewHubService(hub))

	broadcaster, closeFanout, err := setupFanout(cfg, hub, tree)
	if err != nil {
		return err
	}
	defer closeFanout()

	verifier := auth.NewVerifier(&cfg.Security, store)
	gw := gateway.New(store, hub, broadcaster, &cfg.Broker)
	handler := api.NewHandler(ctx, store, verifier, hub, gw, &cfg.Security)

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(handler, cfg).Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", server.Addr).Msg("Parley listening")
	err = tree.Serve(ctx)

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	logging.Info().Msg("Parley stopped")
	return nil
}

func openStore(cfg *config.DatabaseConfig) (brokerStore, error) {
	switch cfg.Driver {
	case config.DriverMySQL:
		s, err := gormstore.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open mysql store: %w", err)
		}
		logging.Info().Msg("MySQL store initialized")
		return s, nil
	default:
		db, err := database.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open duckdb store: %w", err)
		}
		logging.Info().Str("path", cfg.Path).Msg("DuckDB store initialized")
		return db, nil
	}
}

// seedDemo inserts the demo conversation and logs a credential for each
// demo user, so a fresh deployment can be tried without an account system.
func seedDemo(store brokerStore, sec *config.SecurityConfig) {
	seeder, ok := store.(interface{ SeedDemo(context.Context) error })
	if !ok {
		logging.Warn().Msg("Demo seeding is only available with the duckdb store")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := seeder.SeedDemo(ctx); err != nil {
		logging.Error().Err(err).Msg("Failed to seed demo data")
		return
	}

	tokens, err := auth.NewJWTManager(sec)
	if err != nil {
		return
	}
	for _, id := range []string{database.DemoAliceID, database.DemoBobID} {
		token, err := tokens.GenerateToken(&models.User{ID: id})
		if err != nil {
			logging.Error().Err(err).Str("user_id", id).Msg("Failed to issue demo credential")
			continue
		}
		logging.Info().
			Str("user_id", id).
			Str("conversation_id", database.DemoConversationID).
			Str("token", token).
			Msg("Demo credential")
	}
}

// setupFanout picks the broadcaster. In nats mode the cluster subscriber
// and, when embedded, the NATS server join the messaging layer.
func setupFanout(cfg *config.Config, hub *websocket.Hub, tree *supervisor.SupervisorTree) (gateway.Broadcaster, func(), error) {
	if cfg.Fanout.Mode != config.FanoutNATS {
		logging.Info().Msg("Fanout is in-process; rooms are local to this instance")
		return fanout.NewLocal(hub), func() {}, nil
	}

	fcfg := cfg.Fanout
	var embedded *fanout.EmbeddedServer
	if fcfg.Embedded {
		srv, err := fanout.NewEmbeddedServer(fcfg.EmbeddedHost, fcfg.EmbeddedPort)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		embedded = srv
		fcfg.NATSURL = srv.ClientURL()
		logging.Info().Str("url", fcfg.NATSURL).Msg("Embedded NATS server started")
	}

	pub, sub, err := fanout.NewNATSPubSub(&fcfg, fanout.NewWatermillLogger())
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, nil, fmt.Errorf("failed to connect fanout to NATS: %w", err)
	}

	cluster := fanout.NewCluster(hub, pub, sub, &fcfg)
	tree.AddMessagingService(services.NewFanoutService(cluster))
	if embedded != nil {
		tree.AddMessagingService(services.NewEmbeddedNATSService(embedded))
	}

	logging.Info().
		Str("url", fcfg.NATSURL).
		Str("subject", fcfg.Subject).
		Str("origin", cluster.Origin()).
		Msg("Cluster fanout enabled")

	return cluster, func() {
		if err := cluster.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing fanout")
		}
	}, nil
}
