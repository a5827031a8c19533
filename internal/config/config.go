// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package config loads and validates SafeHorizon configuration from
// defaults, an optional YAML file, and environment variables, in that
// order of precedence (env wins).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the SafeHorizon server process.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Broker   BrokerConfig   `koanf:"broker"`
	Security SecurityConfig `koanf:"security"`
	Scoring  ScoringConfig  `koanf:"scoring"`
	Geofence GeofenceConfig `koanf:"geofence"`
	Gateway  GatewayConfig  `koanf:"gateway"`
	Notify   NotifyConfig   `koanf:"notify"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `koanf:"addr"`
	// Timeout bounds request read/write.
	Timeout time.Duration `koanf:"timeout"`
	// Environment is development or production.
	Environment string `koanf:"environment"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	// URL is the Postgres connection string. Required.
	URL string `koanf:"url"`
	// MaxConns sizes the pool: expected concurrent requests x 1.5.
	MaxConns int `koanf:"max_conns"`
	// OLTPTimeoutSecs bounds transactional queries.
	OLTPTimeoutSecs int `koanf:"oltp_timeout_secs"`
	// AnalyticsTimeoutSecs bounds aggregate queries.
	AnalyticsTimeoutSecs int `koanf:"analytics_timeout_secs"`
}

// BrokerConfig configures cross-instance event propagation over NATS.
// An empty URL with Embedded false runs the hub in local-only mode.
type BrokerConfig struct {
	URL      string `koanf:"url"`
	Embedded bool   `koanf:"embedded"`
	// Subject is the NATS subject carrying hub envelopes.
	Subject string `koanf:"subject"`
	// SubscribersCount sets watermill consumer parallelism.
	SubscribersCount int `koanf:"subscribers_count"`
}

// SecurityConfig configures tokens, CORS and rate limits.
type SecurityConfig struct {
	// JWTSecret is the HS256 key. Must be at least 32 bytes.
	JWTSecret string `koanf:"jwt_secret"`
	// JWTExpiryMin is token lifetime in minutes.
	JWTExpiryMin int `koanf:"jwt_expiry_min"`
	// AllowedOrigins is the CORS allowlist.
	AllowedOrigins []string `koanf:"allowed_origins"`
	// RateLimitRPM is the per-IP request budget per minute.
	RateLimitRPM int `koanf:"rate_limit_rpm"`
	// AuthRateLimitRPM is the tighter budget for /api/auth endpoints.
	AuthRateLimitRPM int `koanf:"auth_rate_limit_rpm"`
}

// ScoringConfig configures the safety score engine and rescorer.
type ScoringConfig struct {
	// RefreshSecs is the rescorer interval.
	RefreshSecs int `koanf:"refresh_secs"`
	// BackfillBatch caps null-score rows repaired per rescorer pass.
	BackfillBatch int `koanf:"backfill_batch"`
}

// GeofenceConfig configures the zone snapshot index.
type GeofenceConfig struct {
	// RefreshSecs is the snapshot reload interval. Staleness stays
	// under this bound plus one reload.
	RefreshSecs int `koanf:"refresh_secs"`
}

// GatewayConfig configures WebSocket sessions.
type GatewayConfig struct {
	// SessionIdleSecs closes sessions with no client activity.
	SessionIdleSecs int `koanf:"session_idle_secs"`
	// SendQueueSize bounds the per-subscriber event queue.
	SendQueueSize int `koanf:"send_queue_size"`
	// ReplayLimit caps `since` catch-up frames per session.
	ReplayLimit int `koanf:"replay_limit"`
}

// NotifyConfig configures push/SMS providers and the delivery outbox.
type NotifyConfig struct {
	PushEndpoint        string `koanf:"push_endpoint"`
	PushCredentialsPath string `koanf:"push_credentials_path"`
	SMSEndpoint         string `koanf:"sms_endpoint"`
	SMSAccountSID       string `koanf:"sms_account_sid"`
	SMSAuthToken        string `koanf:"sms_auth_token"`
	SMSFromNumber       string `koanf:"sms_from_number"`
	// OutboxPath is the badger directory for the delivery journal.
	OutboxPath string `koanf:"outbox_path"`
	// MaxAttempts bounds delivery retries per message.
	MaxAttempts int `koanf:"max_attempts"`
	// RatePerSecond paces provider calls.
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// OLTPTimeout returns the transactional query deadline.
func (c DatabaseConfig) OLTPTimeout() time.Duration {
	return time.Duration(c.OLTPTimeoutSecs) * time.Second
}

// AnalyticsTimeout returns the aggregate query deadline.
func (c DatabaseConfig) AnalyticsTimeout() time.Duration {
	return time.Duration(c.AnalyticsTimeoutSecs) * time.Second
}

// JWTExpiry returns the token lifetime.
func (c SecurityConfig) JWTExpiry() time.Duration {
	return time.Duration(c.JWTExpiryMin) * time.Minute
}

// RefreshInterval returns the rescorer period.
func (c ScoringConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshSecs) * time.Second
}

// RefreshInterval returns the snapshot reload period.
func (c GeofenceConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshSecs) * time.Second
}

// SessionIdle returns the WebSocket idle timeout.
func (c GatewayConfig) SessionIdle() time.Duration {
	return time.Duration(c.SessionIdleSecs) * time.Second
}

// Validate checks configuration invariants at boot. It returns the first
// violation; the server refuses to start on any of them.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.Security.JWTSecret))
	}
	if c.Security.JWTExpiryMin <= 0 {
		return fmt.Errorf("JWT_EXPIRY_MIN must be positive, got %d", c.Security.JWTExpiryMin)
	}
	if c.Scoring.RefreshSecs <= 0 {
		return fmt.Errorf("SCORE_REFRESH_SECS must be positive, got %d", c.Scoring.RefreshSecs)
	}
	if c.Geofence.RefreshSecs <= 0 || c.Geofence.RefreshSecs > 30 {
		return fmt.Errorf("GEOFENCE_REFRESH_SECS must be in 1..30, got %d", c.Geofence.RefreshSecs)
	}
	if c.Gateway.SessionIdleSecs <= 0 {
		return fmt.Errorf("SESSION_IDLE_SECS must be positive, got %d", c.Gateway.SessionIdleSecs)
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.Database.MaxConns)
	}
	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS must not be empty")
	}
	if c.Notify.MaxAttempts <= 0 {
		return fmt.Errorf("notify max_attempts must be positive, got %d", c.Notify.MaxAttempts)
	}
	return nil
}
