// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/safehorizon/safehorizon/internal/database"
	"github.com/safehorizon/safehorizon/internal/geo"
	"github.com/safehorizon/safehorizon/internal/ingest"
	"github.com/safehorizon/safehorizon/internal/models"
	"github.com/safehorizon/safehorizon/internal/scoring"
)

func TestLocationUpdate_ReportsScoreAndAlert(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.result = &ingest.Result{
		LocationID:  42,
		SafetyScore: 55,
		RiskLevel:   models.RiskHigh,
		Alert:       &models.Alert{ID: alertUUID, TouristID: touristUUID},
	}

	req := as(jsonRequest(t, http.MethodPost, "/api/location/update", map[string]any{
		"lat":       12.9716,
		"lon":       77.5946,
		"speed":     1.4,
		"timestamp": time.Now().Format(time.RFC3339),
	}), touristUUID, models.RoleTourist)
	rec := httptest.NewRecorder()
	env.handler.LocationUpdate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp models.LocationUpdateResponse
	decodeData(t, rec, &resp)
	if resp.LocationID != 42 || resp.SafetyScore != 55 || resp.RiskLevel != models.RiskHigh {
		t.Errorf("response: got %+v", resp)
	}
	if !resp.AlertTriggered || resp.AlertID == nil || *resp.AlertID != alertUUID {
		t.Errorf("alert must surface in the response, got %+v", resp)
	}
	if env.pipeline.gotTouristID != touristUUID {
		t.Errorf("tourist id must come from the token, got %s", env.pipeline.gotTouristID)
	}
	if env.pipeline.gotSample.RecordedAt.Location() != time.UTC {
		t.Error("recorded_at must be normalized to UTC")
	}
}

func TestLocationUpdate_UnknownTouristLooksLikeBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.err = ingest.ErrUnknownTourist

	req := as(jsonRequest(t, http.MethodPost, "/api/location/update", map[string]any{
		"lat":       12.9716,
		"lon":       77.5946,
		"timestamp": time.Now().Format(time.RFC3339),
	}), touristUUID, models.RoleTourist)
	rec := httptest.NewRecorder()
	env.handler.LocationUpdate(rec, req)

	wantError(t, rec, http.StatusUnauthorized, "AUTHENTICATION_ERROR")
}

func TestLocationUpdate_RejectsOutOfRangeCoordinates(t *testing.T) {
	env := newTestEnv(t)
	req := as(jsonRequest(t, http.MethodPost, "/api/location/update", map[string]any{
		"lat":       95.0,
		"lon":       77.5946,
		"timestamp": time.Now().Format(time.RFC3339),
	}), touristUUID, models.RoleTourist)
	rec := httptest.NewRecorder()
	env.handler.LocationUpdate(rec, req)

	wantError(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
	if env.pipeline.gotSample != nil {
		t.Error("pipeline must not run on invalid input")
	}
}

func TestLocationHistory_BoundsHours(t *testing.T) {
	env := newTestEnv(t)
	for _, query := range []string{"hours=0", "hours=169", "hours=abc"} {
		rec := httptest.NewRecorder()
		req := as(jsonRequest(t, http.MethodGet, "/api/location/history?"+query, nil), touristUUID, models.RoleTourist)
		env.handler.LocationHistory(rec, req)
		wantError(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
	}
}

func TestSafetyScore_NoLocationOnRecord(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.SafetyScore(rec, as(jsonRequest(t, http.MethodGet, "/api/safety/score", nil), touristUUID, models.RoleTourist))
	wantError(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestSafetyScore_EngineFailureIsTransient(t *testing.T) {
	env := newTestEnv(t)
	env.store.latest = func(string) (*models.LocationSample, error) {
		return &models.LocationSample{Lat: 12.97, Lon: 77.59}, nil
	}
	env.scorer.err = database.ErrConflict

	rec := httptest.NewRecorder()
	env.handler.SafetyScore(rec, as(jsonRequest(t, http.MethodGet, "/api/safety/score", nil), touristUUID, models.RoleTourist))
	wantError(t, rec, http.StatusServiceUnavailable, "TRANSIENT")
}

func TestSafetyScore_ComputesAtLastLocation(t *testing.T) {
	env := newTestEnv(t)
	speed := 2.5
	env.store.latest = func(string) (*models.LocationSample, error) {
		return &models.LocationSample{Lat: 12.97, Lon: 77.59, Speed: &speed}, nil
	}
	env.scorer.result = &scoring.Result{
		Score:           72,
		RiskLevel:       models.RiskMedium,
		Factors:         map[string]int{"zone": -10},
		Recommendations: []string{"Stay on main roads."},
		ComputedAt:      time.Now().UTC(),
	}

	rec := httptest.NewRecorder()
	env.handler.SafetyScore(rec, as(jsonRequest(t, http.MethodGet, "/api/safety/score", nil), touristUUID, models.RoleTourist))

	var resp models.SafetyScoreResponse
	decodeData(t, rec, &resp)
	if resp.SafetyScore != 72 || resp.RiskLevel != models.RiskMedium {
		t.Errorf("response: got %+v", resp)
	}
	if env.scorer.gotIn.Lat != 12.97 || env.scorer.gotIn.Speed == nil || *env.scorer.gotIn.Speed != 2.5 {
		t.Errorf("scorer input must use the latest sample, got %+v", env.scorer.gotIn)
	}
}

func TestSOSTrigger_FallsBackToLastKnownLocation(t *testing.T) {
	env := newTestEnv(t)
	env.store.latest = func(string) (*models.LocationSample, error) {
		return &models.LocationSample{Lat: 12.9716, Lon: 77.5946}, nil
	}
	env.store.tourist = func(id string) (*models.Tourist, error) {
		return &models.Tourist{
			ID: id, Name: "Ana Silva",
			Phone:                 "+5511999990000",
			EmergencyContactPhone: "+5511888880000",
		}, nil
	}
	env.store.devices = []models.Device{
		{ID: "d-1", TouristID: touristUUID, PushToken: "tok-1", IsActive: true},
		{ID: "d-2", TouristID: touristUUID, PushToken: "tok-2", IsActive: true},
	}
	env.panics.alert = &models.Alert{ID: alertUUID, TouristID: touristUUID, Kind: models.AlertSOS}
	env.panics.wasNew = true

	rec := httptest.NewRecorder()
	env.handler.SOSTrigger(rec, as(jsonRequest(t, http.MethodPost, "/api/sos/trigger", nil), touristUUID, models.RoleTourist))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if env.panics.gotLat == nil || *env.panics.gotLat != 12.9716 {
		t.Errorf("panic must use the last known location, got %v", env.panics.gotLat)
	}
	if len(env.outbox.pushes) != 2 {
		t.Errorf("want one push per active device, got %d", len(env.outbox.pushes))
	}
	if len(env.outbox.sms) != 2 {
		t.Fatalf("want SMS to tourist and emergency contact, got %d", len(env.outbox.sms))
	}
	if env.outbox.sms[1].phone != "+5511888880000" {
		t.Errorf("second SMS must reach the emergency contact, got %s", env.outbox.sms[1].phone)
	}

	var resp struct {
		AlertID string `json:"alert_id"`
		Created bool   `json:"created"`
	}
	decodeData(t, rec, &resp)
	if resp.AlertID != alertUUID || !resp.Created {
		t.Errorf("response: got %+v", resp)
	}
}

func TestSOSTrigger_CollapsedRepeatSkipsFanOut(t *testing.T) {
	env := newTestEnv(t)
	lat, lon := 12.97, 77.59
	env.panics.alert = &models.Alert{ID: alertUUID, TouristID: touristUUID}
	env.panics.wasNew = false

	rec := httptest.NewRecorder()
	env.handler.SOSTrigger(rec, as(jsonRequest(t, http.MethodPost, "/api/sos/trigger", map[string]any{
		"lat": lat, "lon": lon,
	}), touristUUID, models.RoleTourist))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d", rec.Code)
	}
	if len(env.outbox.pushes) != 0 || len(env.outbox.sms) != 0 {
		t.Error("a collapsed SOS must not re-notify")
	}
	var resp struct {
		Created bool `json:"created"`
	}
	decodeData(t, rec, &resp)
	if resp.Created {
		t.Error("created must be false for a collapsed SOS")
	}
}

func TestNearbyRisks_FiltersByRadiusAndAnonymizes(t *testing.T) {
	env := newTestEnv(t)
	env.store.latest = func(string) (*models.LocationSample, error) {
		return &models.LocationSample{Lat: 12.9716, Lon: 77.5946}, nil
	}
	env.zones.Replace([]models.Zone{
		{ID: "z-near", Name: "Market", Type: models.ZoneRisky, CenterLat: 12.975, CenterLon: 77.60, RadiusM: 300, IsActive: true},
		{ID: "z-far", Name: "Border", Type: models.ZoneRestricted, CenterLat: 14.5, CenterLon: 79.0, RadiusM: 300, IsActive: true},
	})
	nearLat, nearLon := 12.9731, 77.5990
	farLat, farLon := 14.4, 78.9
	env.store.panicAlerts = []models.Alert{
		{ID: "a-near", TouristID: otherUUID, Kind: models.AlertPanic, Severity: models.SeverityCritical, Lat: &nearLat, Lon: &nearLon},
		{ID: "a-far", TouristID: otherUUID, Kind: models.AlertPanic, Lat: &farLat, Lon: &farLon},
		{ID: "a-nocoords", TouristID: otherUUID, Kind: models.AlertPanic},
	}

	rec := httptest.NewRecorder()
	env.handler.NearbyRisks(rec, as(jsonRequest(t, http.MethodGet, "/api/location/nearby-risks?radius_km=5", nil), touristUUID, models.RoleTourist))

	var resp models.NearbyRisksResponse
	decodeData(t, rec, &resp)
	if len(resp.Zones) != 1 || resp.Zones[0].ID != "z-near" {
		t.Errorf("zones: want only z-near, got %+v", resp.Zones)
	}
	if len(resp.Alerts) != 1 {
		t.Fatalf("alerts: want 1 within radius, got %d", len(resp.Alerts))
	}
	if resp.Alerts[0].Lat != geo.CoarsenCoordinate(nearLat) {
		t.Errorf("coordinates must be coarsened, got %v", resp.Alerts[0].Lat)
	}
}

func TestNearbyRisks_NoLocationOnRecord(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.NearbyRisks(rec, as(jsonRequest(t, http.MethodGet, "/api/location/nearby-risks", nil), touristUUID, models.RoleTourist))
	wantError(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestDeviceRegister_Upserts(t *testing.T) {
	env := newTestEnv(t)
	env.store.upsertDevice = func(touristID string, platform models.Platform, token string) (*models.Device, error) {
		return &models.Device{ID: "d-1", TouristID: touristID, Platform: platform, IsActive: true}, nil
	}

	rec := httptest.NewRecorder()
	env.handler.DeviceRegister(rec, as(jsonRequest(t, http.MethodPost, "/api/device/register", map[string]any{
		"platform":   "android",
		"push_token": "fcm-token-abc",
	}), touristUUID, models.RoleTourist))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: want 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var device models.Device
	decodeData(t, rec, &device)
	if device.TouristID != touristUUID || device.Platform != models.PlatformAndroid {
		t.Errorf("device: got %+v", device)
	}
}
