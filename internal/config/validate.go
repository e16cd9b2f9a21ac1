// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package config

import (
	"fmt"
	"strings"

	"github.com/tomtom215/parley/internal/logging"
)

// Validate checks ranges and enumerations. A missing JWT secret is not an
// error here: handshakes report it per connection attempt.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateBroker(); err != nil {
		return err
	}
	if err := c.validateFanout(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if c.Security.UpgradeRateLimit < 0 {
		return fmt.Errorf("security.upgrade_rate_limit must not be negative")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverDuckDB:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the duckdb driver")
		}
	case DriverMySQL:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverDuckDB, DriverMySQL, c.Database.Driver)
	}
	return nil
}

func (c *Config) validateBroker() error {
	b := c.Broker
	if b.HistoryLimit < 1 || b.HistoryLimit > 1000 {
		return fmt.Errorf("broker.history_limit must be between 1 and 1000, got %d", b.HistoryLimit)
	}
	if b.OperationTimeout <= 0 {
		return fmt.Errorf("broker.operation_timeout must be positive")
	}
	if b.SendBuffer < 1 {
		return fmt.Errorf("broker.send_buffer must be at least 1")
	}
	if b.InboundRate <= 0 || b.InboundBurst < 1 {
		return fmt.Errorf("broker.inbound_rate and broker.inbound_burst must be positive")
	}
	if b.MaxContentLength < 1 {
		return fmt.Errorf("broker.max_content_length must be at least 1")
	}
	return nil
}

func (c *Config) validateFanout() error {
	switch c.Fanout.Mode {
	case FanoutLocal:
		return nil
	case FanoutNATS:
		if c.Fanout.Subject == "" {
			return fmt.Errorf("fanout.subject is required in nats mode")
		}
		if !c.Fanout.Embedded && c.Fanout.NATSURL == "" {
			return fmt.Errorf("fanout.nats_url is required unless fanout.embedded is set")
		}
		return nil
	default:
		return fmt.Errorf("fanout.mode must be %q or %q, got %q", FanoutLocal, FanoutNATS, c.Fanout.Mode)
	}
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
}
