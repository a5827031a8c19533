// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors returned by Store operations. Handlers map these to the
// HTTP error taxonomy; everything else is treated as transient or internal.
var (
	// ErrNotFound reports an absent row. The API layer surfaces it as 404
	// for both missing and forbidden resources.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate reports a uniqueness violation (email, badge number,
	// push token, alert dedup key).
	ErrDuplicate = errors.New("duplicate")

	// ErrConflict reports an invalid state transition, such as starting a
	// second active trip or ending a trip that is not active.
	ErrConflict = errors.New("conflict")
)

// Postgres error codes we branch on.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapError normalizes pgx failures to the package sentinels. Row absence
// becomes ErrNotFound; unique violations become ErrDuplicate. Context
// errors pass through untouched so callers can distinguish deadline
// expiry (transient) from data errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrDuplicate
		case pgForeignKeyViolation:
			return ErrNotFound
		}
	}
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation on the named constraint. An empty constraint matches any.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
