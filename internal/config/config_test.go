// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Database.URL = "postgres://safehorizon:pw@localhost:5432/safehorizon"
	cfg.Security.JWTSecret = strings.Repeat("k", 32)
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantSub: "DATABASE_URL",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Security.JWTSecret = "short" },
			wantSub: "JWT_SECRET",
		},
		{
			name:    "zero jwt expiry",
			mutate:  func(c *Config) { c.Security.JWTExpiryMin = 0 },
			wantSub: "JWT_EXPIRY_MIN",
		},
		{
			name:    "zero score refresh",
			mutate:  func(c *Config) { c.Scoring.RefreshSecs = 0 },
			wantSub: "SCORE_REFRESH_SECS",
		},
		{
			name:    "geofence refresh above staleness bound",
			mutate:  func(c *Config) { c.Geofence.RefreshSecs = 31 },
			wantSub: "GEOFENCE_REFRESH_SECS",
		},
		{
			name:    "zero session idle",
			mutate:  func(c *Config) { c.Gateway.SessionIdleSecs = 0 },
			wantSub: "SESSION_IDLE_SECS",
		},
		{
			name:    "empty origins",
			mutate:  func(c *Config) { c.Security.AllowedOrigins = nil },
			wantSub: "ALLOWED_ORIGINS",
		},
		{
			name:    "zero notify attempts",
			mutate:  func(c *Config) { c.Notify.MaxAttempts = 0 },
			wantSub: "max_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoadLayersEnvOverDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host:5432/safehorizon")
	t.Setenv("JWT_SECRET", strings.Repeat("s", 40))
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://ops.example.com")
	t.Setenv("SESSION_IDLE_SECS", "60")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Database.URL != "postgres://env-host:5432/safehorizon" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.Gateway.SessionIdleSecs != 60 {
		t.Errorf("session idle = %d, want 60", cfg.Gateway.SessionIdleSecs)
	}
	if cfg.Gateway.SessionIdle() != 60*time.Second {
		t.Errorf("SessionIdle() = %v", cfg.Gateway.SessionIdle())
	}
	want := []string{"https://app.example.com", "https://ops.example.com"}
	if len(cfg.Security.AllowedOrigins) != len(want) {
		t.Fatalf("origins = %v, want %v", cfg.Security.AllowedOrigins, want)
	}
	for i, origin := range want {
		if cfg.Security.AllowedOrigins[i] != origin {
			t.Errorf("origin[%d] = %q, want %q", i, cfg.Security.AllowedOrigins[i], origin)
		}
	}
	// Untouched settings keep their defaults.
	if cfg.Scoring.RefreshSecs != 30 {
		t.Errorf("score refresh = %d, want default 30", cfg.Scoring.RefreshSecs)
	}
}

func TestLoadIgnoresUnknownEnvVars(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://h/db")
	t.Setenv("JWT_SECRET", strings.Repeat("s", 32))
	t.Setenv("RANDOM_UNRELATED_VAR", "noise")

	if _, err := Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := validConfig()
	if got := cfg.Database.OLTPTimeout(); got != 2*time.Second {
		t.Errorf("OLTPTimeout() = %v, want 2s", got)
	}
	if got := cfg.Database.AnalyticsTimeout(); got != 15*time.Second {
		t.Errorf("AnalyticsTimeout() = %v, want 15s", got)
	}
	if got := cfg.Security.JWTExpiry(); got != 24*time.Hour {
		t.Errorf("JWTExpiry() = %v, want 24h", got)
	}
	if got := cfg.Geofence.RefreshInterval(); got != 30*time.Second {
		t.Errorf("RefreshInterval() = %v, want 30s", got)
	}
}
