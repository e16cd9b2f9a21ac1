// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

// Package config loads Parley configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"time"
)

// Database drivers.
const (
	DriverDuckDB = "duckdb"
	DriverMySQL  = "mysql"
)

// Fanout modes.
const (
	FanoutLocal = "local"
	FanoutNATS  = "nats"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Security SecurityConfig `koanf:"security"`
	Broker   BrokerConfig   `koanf:"broker"`
	Fanout   FanoutConfig   `koanf:"fanout"`
	Logging  LoggingConfig  `koanf:"logging"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// ServerConfig configures the HTTP listener that hosts the websocket endpoint.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects and configures the durable store.
type DatabaseConfig struct {
	// Driver is duckdb (embedded, default) or mysql.
	Driver string `koanf:"driver"`

	// Path is the DuckDB file. ":memory:" keeps everything in RAM.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`

	// DSN is the go-sql-driver style MySQL DSN.
	DSN          string        `koanf:"dsn"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	MaxIdleConns int           `koanf:"max_idle_conns"`
	ConnLifetime time.Duration `koanf:"conn_lifetime"`

	// SeedDemoData inserts two users and a shared conversation on startup.
	SeedDemoData bool `koanf:"seed_demo_data"`
}

// SecurityConfig configures handshake authentication.
type SecurityConfig struct {
	// JWTSecret signs and verifies bearer credentials. Empty is allowed at
	// load time; every handshake is then rejected as a configuration error.
	JWTSecret   string        `koanf:"jwt_secret"`
	TokenPrefix string        `koanf:"token_prefix"`
	TokenTTL    time.Duration `koanf:"token_ttl"`
	CORSOrigins []string      `koanf:"cors_origins"`

	// UpgradeRateLimit caps websocket handshakes per client IP per UpgradeRateWindow.
	UpgradeRateLimit  int           `koanf:"upgrade_rate_limit"`
	UpgradeRateWindow time.Duration `koanf:"upgrade_rate_window"`
}

// BrokerConfig tunes the conversation gateway.
type BrokerConfig struct {
	HistoryLimit       int           `koanf:"history_limit"`
	OperationTimeout   time.Duration `koanf:"operation_timeout"`
	SendBuffer         int           `koanf:"send_buffer"`
	InboundRate        float64       `koanf:"inbound_rate"`
	InboundBurst       int           `koanf:"inbound_burst"`
	MaxContentLength   int           `koanf:"max_content_length"`
	NotifyParticipants bool          `koanf:"notify_participants"`
}

// FanoutConfig controls how room broadcasts reach connections on other
// broker instances.
type FanoutConfig struct {
	Mode          string `koanf:"mode"`
	NATSURL       string `koanf:"nats_url"`
	Embedded      bool   `koanf:"embedded"`
	EmbeddedHost  string `koanf:"embedded_host"`
	EmbeddedPort  int    `koanf:"embedded_port"`
	Subject       string `koanf:"subject"`
	MaxReconnects int    `koanf:"max_reconnects"`

	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// defaultConfig returns the built-in defaults, the lowest configuration layer.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3860,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       DriverDuckDB,
			Path:         "/data/parley.duckdb",
			MaxMemory:    "512MB",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			ConnLifetime: 30 * time.Minute,
		},
		Security: SecurityConfig{
			TokenPrefix:       "Bearer ",
			TokenTTL:          24 * time.Hour,
			CORSOrigins:       []string{"*"},
			UpgradeRateLimit:  30,
			UpgradeRateWindow: time.Minute,
		},
		Broker: BrokerConfig{
			HistoryLimit:       50,
			OperationTimeout:   10 * time.Second,
			SendBuffer:         256,
			InboundRate:        20,
			InboundBurst:       40,
			MaxContentLength:   4000,
			NotifyParticipants: true,
		},
		Fanout: FanoutConfig{
			Mode:               FanoutLocal,
			NATSURL:            "nats://127.0.0.1:4222",
			EmbeddedHost:       "127.0.0.1",
			EmbeddedPort:       4222,
			Subject:            "parley.rooms",
			MaxReconnects:      -1,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
