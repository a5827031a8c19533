// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safehorizon/safehorizon/internal/config"
	"github.com/safehorizon/safehorizon/internal/logging"
)

// Store is the PostgreSQL-backed persistence layer. One Store is shared
// process-wide; all methods are safe for concurrent use.
type Store struct {
	pool             *pgxpool.Pool
	oltpTimeout      time.Duration
	analyticsTimeout time.Duration
}

// New connects to Postgres, verifies the connection, and applies the
// schema. The pool is sized from config (expected concurrency x 1.5).
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = 1
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		pool:             pool,
		oltpTimeout:      cfg.OLTPTimeout(),
		analyticsTimeout: cfg.AnalyticsTimeout(),
	}
	if s.oltpTimeout <= 0 {
		s.oltpTimeout = 2 * time.Second
	}
	if s.analyticsTimeout <= 0 {
		s.analyticsTimeout = 15 * time.Second
	}

	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logging.Info().
		Str("component", "database").
		Int("max_conns", cfg.MaxConns).
		Msg("database connected")
	return s, nil
}

// Close releases the connection pool. Idempotent.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database reachability for health checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

// oltpCtx bounds a transactional query.
func (s *Store) oltpCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.oltpTimeout)
}

// analyticsCtx bounds an aggregate query.
func (s *Store) analyticsCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.analyticsTimeout)
}
