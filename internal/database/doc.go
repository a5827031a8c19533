// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package database is the PostgreSQL persistence layer for SafeHorizon.
//
// A single Store wraps a pgxpool and exposes typed operations per entity
// family (users, locations, zones, alerts, incidents, E-FIRs, broadcasts,
// devices, trips). Every operation runs under a deadline: 2 s for
// transactional queries, 15 s for analytics, both configurable.
//
// Durable invariants live here as schema constraints rather than
// application checks where possible: alert dedup keys and E-FIR hashes
// are unique indexes, broadcast acknowledgements are unique per
// (broadcast, tourist), at most one trip per tourist is active, and
// location samples are unique per (tourist, recorded_at) to make client
// retries idempotent. E-FIR rows have no update or delete paths.
package database
