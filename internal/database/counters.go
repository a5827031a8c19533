// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Counter scopes for human-readable document numbers.
const (
	counterScopeIncident  = "incident"
	counterScopeEFIR      = "efir"
	counterScopeBroadcast = "broadcast"
)

// nextCounter allocates the next per-day sequence value for a scope
// inside the caller's transaction. The upsert takes a row lock, so two
// concurrent allocations in the same scope and day serialize and never
// hand out the same value.
func nextCounter(ctx context.Context, tx pgx.Tx, scope string, day time.Time) (int64, error) {
	var value int64
	err := tx.QueryRow(ctx,
		`INSERT INTO daily_counters (scope, day, value) VALUES ($1, $2, 1)
		 ON CONFLICT (scope, day) DO UPDATE SET value = daily_counters.value + 1
		 RETURNING value`,
		scope, day.UTC().Format("2006-01-02")).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("allocate %s counter: %w", scope, err)
	}
	return value, nil
}

// documentNumber renders "PFX-YYYYMMDD-NNNN" from a counter allocation.
func documentNumber(prefix string, day time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day.UTC().Format("20060102"), seq)
}
