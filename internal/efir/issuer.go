// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package efir issues and verifies electronic first-information reports
// anchored in a hash chain. Each report's block hash covers the previous
// report's stored block hash, so corrupting row N flags N but never
// invalidates N+1. Reports are immutable; the store has no update or
// delete path.
package efir

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/safehorizon/safehorizon/internal/database"
	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

const (
	// ChainID names the ledger; it is hashed into every report.
	ChainID = "safehorizon-efir-chain"

	// maxIssueRetries bounds re-issuance after a hash uniqueness
	// conflict; each retry draws a fresh nonce.
	maxIssueRetries = 3

	nonceLen = 16
)

// Verification failure reasons.
const (
	ReasonContentMismatch = "content_hash_mismatch"
	ReasonChainMismatch   = "chain_hash_mismatch"
)

// GenesisHash anchors the first report of the chain.
func GenesisHash() string {
	sum := sha256.Sum256([]byte(ChainID + ":genesis"))
	return "0x" + hex.EncodeToString(sum[:])
}

// Store is the persistence surface of the issuer.
type Store interface {
	IssueEFIR(ctx context.Context, build func(efirNumber, prevBlockHash string) (*models.EFIR, error)) (*models.EFIR, error)
	GetEFIRByTxID(ctx context.Context, txID string) (*models.EFIR, error)
	PredecessorBlockHash(ctx context.Context, efirID string) (string, error)
	GetTourist(ctx context.Context, id string) (*models.Tourist, error)
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListEFIRs(ctx context.Context, touristID string, limit int) ([]models.EFIR, error)
}

// IssueRequest is one report to append to the chain.
type IssueRequest struct {
	Source      models.EFIRSource
	TouristID   string
	AlertID     *string
	Description string
	Lat         *float64
	Lon         *float64
	Witnesses   []string
	Evidence    []string
	// IncidentTS defaults to the filing time when nil.
	IncidentTS *time.Time
}

// Issuer appends to and verifies the E-FIR chain.
type Issuer struct {
	store Store
	now   func() time.Time
}

// New builds an issuer.
func New(store Store) *Issuer {
	return &Issuer{store: store, now: time.Now}
}

// Issue appends one report. The store callback runs under the chain
// advisory lock, so the head it hands us is the true predecessor. A
// tx_id or block_hash uniqueness conflict retries with a fresh nonce.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*models.EFIR, error) {
	tourist, err := i.store.GetTourist(ctx, req.TouristID)
	if err != nil {
		return nil, err
	}
	if req.AlertID != nil {
		if _, err := i.store.GetAlert(ctx, *req.AlertID); err != nil {
			return nil, err
		}
	}

	filed := canonTime(i.now())
	incident := filed
	if req.IncidentTS != nil {
		incident = canonTime(*req.IncidentTS)
	}

	var out *models.EFIR
	for attempt := 0; ; attempt++ {
		out, err = i.store.IssueEFIR(ctx, func(number, prev string) (*models.EFIR, error) {
			return i.buildReport(req, tourist, number, prev, incident, filed)
		})
		if err == nil {
			break
		}
		if errors.Is(err, database.ErrDuplicate) && attempt < maxIssueRetries {
			continue
		}
		return nil, err
	}
	metrics.EFIRIssued.Inc()
	return out, nil
}

// Verify recomputes both hashes of a stored report. Content is checked
// first: the canonical bytes rebuilt from the stored fields plus the
// stored nonce must reproduce tx_id. Then the chain link: tx_id, the
// predecessor's stored block hash and chain_ts must reproduce
// block_hash.
func (i *Issuer) Verify(ctx context.Context, txID string) (*models.EFIRVerifyResponse, error) {
	report, err := i.store.GetEFIRByTxID(ctx, txID)
	if err != nil {
		return nil, err
	}

	nonce, err := hex.DecodeString(report.Nonce)
	if err != nil {
		return verifyResult(report, ReasonContentMismatch), nil
	}
	canonical, err := canonicalBytes(report)
	if err != nil {
		return nil, err
	}
	if txHash(canonical, nonce) != report.TxID {
		return verifyResult(report, ReasonContentMismatch), nil
	}

	prev, err := i.store.PredecessorBlockHash(ctx, report.ID)
	if err != nil {
		return nil, err
	}
	if prev == "" {
		prev = GenesisHash()
	}
	if blockHash(report.TxID, prev, report.ChainTS) != report.BlockHash {
		return verifyResult(report, ReasonChainMismatch), nil
	}

	metrics.EFIRVerifications.WithLabelValues("valid").Inc()
	report.IsVerified = true
	return &models.EFIRVerifyResponse{Valid: true, EFIR: report}, nil
}

// List returns reports in chain order, newest first. An empty touristID
// is the authority view over the whole ledger.
func (i *Issuer) List(ctx context.Context, touristID string, limit int) ([]models.EFIR, error) {
	return i.store.ListEFIRs(ctx, touristID, limit)
}

func (i *Issuer) buildReport(req IssueRequest, tourist *models.Tourist, number, prev string, incident, filed time.Time) (*models.EFIR, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("draw nonce: %w", err)
	}
	if prev == "" {
		prev = GenesisHash()
	}

	report := &models.EFIR{
		ID:                 uuid.NewString(),
		EFIRNumber:         number,
		PrevBlockHash:      prev,
		Nonce:              hex.EncodeToString(nonce),
		ChainTS:            canonTime(i.now()),
		Source:             req.Source,
		AlertID:            req.AlertID,
		TouristID:          tourist.ID,
		TouristName:        tourist.Name,
		TouristPassport:    tourist.PassportNo,
		TouristNationality: tourist.Nationality,
		Description:        req.Description,
		Lat:                req.Lat,
		Lon:                req.Lon,
		Witnesses:          req.Witnesses,
		Evidence:           req.Evidence,
		IncidentTS:         incident,
		FiledTS:            filed,
	}

	canonical, err := canonicalBytes(report)
	if err != nil {
		return nil, err
	}
	report.TxID = txHash(canonical, nonce)
	report.BlockHash = blockHash(report.TxID, prev, report.ChainTS)
	return report, nil
}

// canonicalReport is the hashed content in its fixed field order. Times
// render as microsecond-truncated UTC RFC 3339 strings so the bytes
// survive a timestamptz round trip.
type canonicalReport struct {
	ChainID    string           `json:"chain_id"`
	AlertRef   string           `json:"alert_ref"`
	Tourist    canonicalTourist `json:"tourist"`
	Payload    canonicalPayload `json:"payload"`
	IncidentTS string           `json:"incident_ts"`
	FiledTS    string           `json:"filed_ts"`
}

type canonicalTourist struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Passport    string `json:"passport"`
	Nationality string `json:"nationality"`
}

type canonicalPayload struct {
	Description string           `json:"description"`
	Location    *models.GeoPoint `json:"location"`
	Witnesses   []string         `json:"witnesses"`
	Evidence    []string         `json:"evidence"`
}

func canonicalBytes(report *models.EFIR) ([]byte, error) {
	alertRef := ""
	if report.AlertID != nil {
		alertRef = *report.AlertID
	}
	var location *models.GeoPoint
	if report.Lat != nil && report.Lon != nil {
		location = &models.GeoPoint{Lat: *report.Lat, Lon: *report.Lon}
	}
	return json.Marshal(canonicalReport{
		ChainID:  ChainID,
		AlertRef: alertRef,
		Tourist: canonicalTourist{
			ID:          report.TouristID,
			Name:        report.TouristName,
			Passport:    report.TouristPassport,
			Nationality: report.TouristNationality,
		},
		Payload: canonicalPayload{
			Description: report.Description,
			Location:    location,
			Witnesses:   report.Witnesses,
			Evidence:    report.Evidence,
		},
		IncidentTS: timeString(report.IncidentTS),
		FiledTS:    timeString(report.FiledTS),
	})
}

func txHash(canonical, nonce []byte) string {
	h := sha256.New()
	h.Write(canonical)
	h.Write(nonce)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func blockHash(txID, prevBlockHash string, chainTS time.Time) string {
	h := sha256.New()
	h.Write([]byte(txID))
	h.Write([]byte(prevBlockHash))
	h.Write([]byte(timeString(chainTS)))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func verifyResult(report *models.EFIR, reason string) *models.EFIRVerifyResponse {
	metrics.EFIRVerifications.WithLabelValues(reason).Inc()
	return &models.EFIRVerifyResponse{Valid: false, Reason: reason, EFIR: report}
}

func canonTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func timeString(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
