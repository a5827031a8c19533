// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/safehorizon/safehorizon/internal/auth"
	"github.com/safehorizon/safehorizon/internal/database"
	"github.com/safehorizon/safehorizon/internal/geo"
	"github.com/safehorizon/safehorizon/internal/ingest"
	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/models"
	"github.com/safehorizon/safehorizon/internal/scoring"
	"github.com/safehorizon/safehorizon/internal/validation"
)

// LocationUpdate handles POST /api/location/update.
func (h *Handler) LocationUpdate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.LocationUpdateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	touristID := auth.UserID(r.Context())
	result, err := h.pipeline.Ingest(r.Context(), touristID, &models.LocationSample{
		TouristID:  touristID,
		Lat:        req.Lat,
		Lon:        req.Lon,
		Speed:      req.Speed,
		Altitude:   req.Altitude,
		Accuracy:   req.Accuracy,
		RecordedAt: req.Timestamp.UTC(),
	})
	if err != nil {
		if errors.Is(err, ingest.ErrUnknownTourist) {
			// Same answer as bad credentials: suspended accounts are
			// not distinguishable from absent ones.
			respondError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "invalid credentials", nil)
			return
		}
		respondStoreError(w, err)
		return
	}

	resp := models.LocationUpdateResponse{
		LocationID:  result.LocationID,
		SafetyScore: result.SafetyScore,
		RiskLevel:   result.RiskLevel,
	}
	if result.Alert != nil {
		resp.AlertTriggered = true
		resp.AlertID = &result.Alert.ID
	}
	respondData(w, http.StatusOK, start, resp)
}

// LocationHistory handles GET /api/location/history?hours=.
func (h *Handler) LocationHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	hours := queryInt(r, "hours", 24)
	if hours < 1 || hours > 168 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "hours must be between 1 and 168", nil)
		return
	}

	samples, err := h.store.LocationHistory(r.Context(), auth.UserID(r.Context()),
		time.Now().UTC().Add(-time.Duration(hours)*time.Hour), 500)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, start, samples)
}

// NearbyRisks handles GET /api/location/nearby-risks?radius_km=R: zones
// near the tourist's last location plus recent anonymized panic alerts
// within the radius.
func (h *Handler) NearbyRisks(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	radiusKM := queryFloat(r, "radius_km", 5)
	if radiusKM <= 0 || radiusKM > 100 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "radius_km must be between 0 and 100", nil)
		return
	}

	latest, err := h.store.LatestSample(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "no location on record", nil)
			return
		}
		respondStoreError(w, err)
		return
	}

	radiusM := radiusKM * 1000
	zones := h.zones.Near(latest.Lat, latest.Lon, radiusM)

	recent, err := h.store.PanicAlertsSince(r.Context(), time.Now().UTC().Add(-24*time.Hour), 200)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	alerts := make([]models.PublicPanicAlert, 0, len(recent))
	for _, a := range recent {
		if a.Lat == nil || a.Lon == nil {
			continue
		}
		if geo.HaversineM(latest.Lat, latest.Lon, *a.Lat, *a.Lon) > radiusM {
			continue
		}
		alerts = append(alerts, anonymizeAlert(a))
	}

	respondData(w, http.StatusOK, start, models.NearbyRisksResponse{
		Zones:  zones,
		Alerts: alerts,
	})
}

// SafetyScore handles GET /api/safety/score: an on-demand recompute at
// the tourist's last known location.
func (h *Handler) SafetyScore(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	touristID := auth.UserID(r.Context())

	latest, err := h.store.LatestSample(r.Context(), touristID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "no location on record", nil)
			return
		}
		respondStoreError(w, err)
		return
	}

	result, err := h.scorer.Compute(r.Context(), scoring.Input{
		TouristID: touristID,
		Lat:       latest.Lat,
		Lon:       latest.Lon,
		Speed:     latest.Speed,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "TRANSIENT", "score computation unavailable", err)
		return
	}

	respondData(w, http.StatusOK, start, models.SafetyScoreResponse{
		TouristID:       touristID,
		SafetyScore:     result.Score,
		RiskLevel:       result.RiskLevel,
		Factors:         result.Factors,
		Recommendations: result.Recommendations,
		ComputedAt:      result.ComputedAt,
	})
}

// SOSTrigger handles POST /api/sos/trigger. The body is optional; with
// no coordinates the last known location is used. Besides the alert and
// its hub frames, the fan-out journals push notifications for the
// tourist's devices and SMS for the tourist and emergency contact.
func (h *Handler) SOSTrigger(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.SOSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed JSON body", nil)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Detail(), nil)
		return
	}

	touristID := auth.UserID(r.Context())
	lat, lon := req.Lat, req.Lon
	if lat == nil || lon == nil {
		if latest, err := h.store.LatestSample(r.Context(), touristID); err == nil {
			lat, lon = &latest.Lat, &latest.Lon
		}
	}

	alert, wasNew, err := h.panics.CreatePanic(r.Context(), touristID, lat, lon, req.Message)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if wasNew {
		h.sosFanOut(r, alert)
	}

	respondData(w, http.StatusOK, start, map[string]any{
		"alert_id": alert.ID,
		"created":  wasNew,
	})
}

// sosFanOut journals the emergency notifications. Failures are logged
// and never fail the SOS request; the alert itself is already durable.
func (h *Handler) sosFanOut(r *http.Request, alert *models.Alert) {
	ctx := r.Context()

	devices, err := h.store.ActiveDevicesFor(ctx, []string{alert.TouristID})
	if err != nil {
		logging.Warn().Err(err).Str("alert_id", alert.ID).Msg("sos device lookup failed")
	}
	for _, device := range devices {
		if err := h.outbox.EnqueuePush(device.PushToken, "SOS alert sent",
			"Emergency services have been notified of your location.",
			map[string]string{"alert_id": alert.ID, "kind": string(alert.Kind)}); err != nil {
			logging.Warn().Err(err).Str("alert_id", alert.ID).Msg("sos push enqueue failed")
		}
	}

	tourist, err := h.store.GetTourist(ctx, alert.TouristID)
	if err != nil {
		logging.Warn().Err(err).Str("alert_id", alert.ID).Msg("sos tourist lookup failed")
		return
	}
	body := "SOS triggered by " + tourist.Name + ". Authorities have been alerted."
	if tourist.Phone != "" {
		if err := h.outbox.EnqueueSMS(tourist.Phone, body); err != nil {
			logging.Warn().Err(err).Str("alert_id", alert.ID).Msg("sos sms enqueue failed")
		}
	}
	if tourist.EmergencyContactPhone != "" {
		if err := h.outbox.EnqueueSMS(tourist.EmergencyContactPhone, body); err != nil {
			logging.Warn().Err(err).Str("alert_id", alert.ID).Msg("sos emergency contact sms enqueue failed")
		}
	}
}

// DeviceRegister handles POST /api/device/register.
func (h *Handler) DeviceRegister(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.DeviceRegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	device, err := h.store.UpsertDevice(r.Context(), auth.UserID(r.Context()), req.Platform, req.PushToken)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusCreated, start, device)
}

func anonymizeAlert(a models.Alert) models.PublicPanicAlert {
	return models.PublicPanicAlert{
		Kind:      a.Kind,
		Severity:  a.Severity,
		Lat:       geo.CoarsenCoordinate(*a.Lat),
		Lon:       geo.CoarsenCoordinate(*a.Lon),
		Resolved:  a.Resolved,
		CreatedAt: a.CreatedAt,
	}
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}

func queryFloat(r *http.Request, name string, def float64) float64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return -1
	}
	return v
}

func queryBool(r *http.Request, name string) bool {
	return r.URL.Query().Get(name) == "true"
}
