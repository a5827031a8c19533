// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations searched in order. The
// first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/safehorizon/config.yaml",
	"/etc/safehorizon/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "SAFEHORIZON_CONFIG"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Database: DatabaseConfig{
			URL:                  "",
			MaxConns:             50,
			OLTPTimeoutSecs:      2,
			AnalyticsTimeoutSecs: 15,
		},
		Broker: BrokerConfig{
			URL:              "",
			Embedded:         false,
			Subject:          "safehorizon.hub.events",
			SubscribersCount: 4,
		},
		Security: SecurityConfig{
			JWTSecret:        "",
			JWTExpiryMin:     1440,
			AllowedOrigins:   []string{"*"},
			RateLimitRPM:     300,
			AuthRateLimitRPM: 20,
		},
		Scoring: ScoringConfig{
			RefreshSecs:   30,
			BackfillBatch: 500,
		},
		Geofence: GeofenceConfig{
			RefreshSecs: 30,
		},
		Gateway: GatewayConfig{
			SessionIdleSecs: 120,
			SendQueueSize:   256,
			ReplayLimit:     200,
		},
		Notify: NotifyConfig{
			OutboxPath:    "data/outbox",
			MaxAttempts:   3,
			RatePerSecond: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration with layered sources: struct defaults,
// then an optional YAML file, then environment variables. The result is
// validated before it is returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are fields that arrive from env vars as comma-separated
// strings but unmarshal into slices.
var sliceConfigPaths = []string{
	"security.allowed_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps flat environment variable names to config paths.
// Unknown variables return "" and are skipped so arbitrary environment
// noise cannot reach the config tree.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		"HTTP_ADDR":    "server.addr",
		"HTTP_TIMEOUT": "server.timeout",
		"ENVIRONMENT":  "server.environment",

		"DATABASE_URL":           "database.url",
		"DB_MAX_CONNS":           "database.max_conns",
		"DB_OLTP_TIMEOUT_SECS":   "database.oltp_timeout_secs",
		"DB_ANALYTICS_TIMEOUT_SECS": "database.analytics_timeout_secs",

		"BROKER_URL":         "broker.url",
		"BROKER_EMBEDDED":    "broker.embedded",
		"BROKER_SUBJECT":     "broker.subject",
		"BROKER_SUBSCRIBERS": "broker.subscribers_count",

		"JWT_SECRET":         "security.jwt_secret",
		"JWT_EXPIRY_MIN":     "security.jwt_expiry_min",
		"ALLOWED_ORIGINS":    "security.allowed_origins",
		"RATE_LIMIT_RPM":     "security.rate_limit_rpm",
		"AUTH_RATE_LIMIT_RPM": "security.auth_rate_limit_rpm",

		"SCORE_REFRESH_SECS":    "scoring.refresh_secs",
		"SCORE_BACKFILL_BATCH":  "scoring.backfill_batch",
		"GEOFENCE_REFRESH_SECS": "geofence.refresh_secs",

		"SESSION_IDLE_SECS": "gateway.session_idle_secs",
		"WS_SEND_QUEUE":     "gateway.send_queue_size",
		"WS_REPLAY_LIMIT":   "gateway.replay_limit",

		"PUSH_ENDPOINT":         "notify.push_endpoint",
		"PUSH_CREDENTIALS_PATH": "notify.push_credentials_path",
		"SMS_ENDPOINT":          "notify.sms_endpoint",
		"SMS_ACCOUNT_SID":       "notify.sms_account_sid",
		"SMS_AUTH_TOKEN":        "notify.sms_auth_token",
		"SMS_FROM_NUMBER":       "notify.sms_from_number",
		"OUTBOX_PATH":           "notify.outbox_path",
		"NOTIFY_MAX_ATTEMPTS":   "notify.max_attempts",
		"NOTIFY_RATE_PER_SEC":   "notify.rate_per_second",

		"LOG_LEVEL":  "logging.level",
		"LOG_FORMAT": "logging.format",
		"LOG_CALLER": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
