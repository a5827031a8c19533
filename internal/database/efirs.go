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

	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

// efirChainLockKey serializes E-FIR issuance so every report links to the
// true chain head. Cheaper than serializable isolation for a single
// append point.
const efirChainLockKey = 0x5AFE_0002

// IssueEFIR runs the chain append. Inside one transaction it locks the
// chain, allocates the day's EFIR number, reads the current head hash,
// and asks build to produce the finished report (with tx_id, block_hash
// and chain_ts computed from that head). The insert gets the next
// chain_seq, so chain order equals issuance order.
func (s *Store) IssueEFIR(ctx context.Context, build func(efirNumber, prevBlockHash string) (*models.EFIR, error)) (*models.EFIR, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	var out *models.EFIR
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", efirChainLockKey); err != nil {
			return fmt.Errorf("acquire chain lock: %w", err)
		}

		now := time.Now().UTC()
		seq, err := nextCounter(ctx, tx, counterScopeEFIR, now)
		if err != nil {
			return err
		}
		number := documentNumber("EFIR", now, seq)

		var prev string
		err = tx.QueryRow(ctx,
			`SELECT block_hash FROM efirs ORDER BY chain_seq DESC LIMIT 1`,
		).Scan(&prev)
		if err == pgx.ErrNoRows {
			prev = ""
		} else if err != nil {
			return fmt.Errorf("read chain head: %w", err)
		}

		efir, err := build(number, prev)
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO efirs (id, efir_number, tx_id, block_hash, prev_block_hash,
			        nonce, chain_ts, source, alert_id, tourist_id, tourist_name,
			        tourist_passport, tourist_nationality, description, lat, lon,
			        witnesses, evidence, incident_ts, filed_ts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			         $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
			 RETURNING created_at`,
			efir.ID, efir.EFIRNumber, efir.TxID, efir.BlockHash, efir.PrevBlockHash,
			efir.Nonce, efir.ChainTS, efir.Source, efir.AlertID, efir.TouristID,
			efir.TouristName, efir.TouristPassport, efir.TouristNationality,
			efir.Description, efir.Lat, efir.Lon, efir.Witnesses, efir.Evidence,
			efir.IncidentTS, efir.FiledTS,
		).Scan(&efir.CreatedAt)
		if err != nil {
			return err
		}
		out = efir
		return nil
	})
	metrics.ObserveDBQuery("issue_efir", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// GetEFIRByTxID fetches a report by its chain transaction id.
func (s *Store) GetEFIRByTxID(ctx context.Context, txID string) (*models.EFIR, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	efir, err := scanEFIR(s.pool.QueryRow(ctx, selectEFIR+` WHERE tx_id = $1`, txID))
	metrics.ObserveDBQuery("get_efir_by_tx", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return efir, nil
}

// GetEFIR fetches a report by id.
func (s *Store) GetEFIR(ctx context.Context, id string) (*models.EFIR, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	efir, err := scanEFIR(s.pool.QueryRow(ctx, selectEFIR+` WHERE id = $1`, id))
	metrics.ObserveDBQuery("get_efir", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return efir, nil
}

// PredecessorBlockHash returns the block hash of the report immediately
// before the given one in chain order, or "" for the first report.
func (s *Store) PredecessorBlockHash(ctx context.Context, efirID string) (string, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT block_hash FROM efirs
		 WHERE chain_seq < (SELECT chain_seq FROM efirs WHERE id = $1)
		 ORDER BY chain_seq DESC LIMIT 1`, efirID).Scan(&hash)
	metrics.ObserveDBQuery("efir_predecessor", start, err)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", mapError(err)
	}
	return hash, nil
}

// ListEFIRs returns reports in chain order, newest first. An empty
// touristID lists all reports (authority view).
func (s *Store) ListEFIRs(ctx context.Context, touristID string, limit int) ([]models.EFIR, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	query := selectEFIR
	args := []any{limit}
	if touristID != "" {
		query += ` WHERE tourist_id = $2`
		args = append(args, touristID)
	}
	query += ` ORDER BY chain_seq DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	metrics.ObserveDBQuery("list_efirs", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var efirs []models.EFIR
	for rows.Next() {
		var e models.EFIR
		if err := rows.Scan(efirFields(&e)...); err != nil {
			return nil, fmt.Errorf("scan efir: %w", err)
		}
		efirs = append(efirs, e)
	}
	return efirs, rows.Err()
}

const selectEFIR = `SELECT id, efir_number, tx_id, block_hash, prev_block_hash,
       nonce, chain_ts, source, alert_id, tourist_id, tourist_name,
       tourist_passport, tourist_nationality, description, lat, lon,
       witnesses, evidence, incident_ts, filed_ts, created_at
FROM efirs`

func efirFields(e *models.EFIR) []any {
	return []any{&e.ID, &e.EFIRNumber, &e.TxID, &e.BlockHash, &e.PrevBlockHash,
		&e.Nonce, &e.ChainTS, &e.Source, &e.AlertID, &e.TouristID,
		&e.TouristName, &e.TouristPassport, &e.TouristNationality,
		&e.Description, &e.Lat, &e.Lon, &e.Witnesses, &e.Evidence,
		&e.IncidentTS, &e.FiledTS, &e.CreatedAt}
}

func scanEFIR(row pgx.Row) (*models.EFIR, error) {
	var e models.EFIR
	if err := row.Scan(efirFields(&e)...); err != nil {
		return nil, err
	}
	return &e, nil
}
