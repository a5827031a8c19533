// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/safehorizon/safehorizon/internal/hub"
	"github.com/safehorizon/safehorizon/internal/models"
)

func TestZoneCreate_PolygonDerivesFallbackDisk(t *testing.T) {
	env := newTestEnv(t)
	var gotZone *models.Zone
	env.store.createZone = func(zone *models.Zone, createdBy string) (*models.Zone, error) {
		gotZone = zone
		if createdBy != otherUUID {
			t.Errorf("created_by must be the caller, got %s", createdBy)
		}
		out := *zone
		out.ID = "z-1"
		out.IsActive = true
		return &out, nil
	}

	// Vertices are [lon, lat].
	rec := httptest.NewRecorder()
	env.handler.ZoneCreate(rec, as(jsonRequest(t, http.MethodPost, "/api/zones/create", map[string]any{
		"name":    "Old Town",
		"type":    "risky",
		"polygon": [][]float64{{77.58, 12.96}, {77.60, 12.96}, {77.59, 12.98}},
	}), otherUUID, models.RoleAuthority))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: want 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if gotZone.RadiusM <= 0 {
		t.Errorf("polygon zone must derive an enclosing radius, got %v", gotZone.RadiusM)
	}
	if gotZone.CenterLat < 12.96 || gotZone.CenterLat > 12.98 ||
		gotZone.CenterLon < 77.58 || gotZone.CenterLon > 77.60 {
		t.Errorf("centroid outside polygon bounds: %v,%v", gotZone.CenterLat, gotZone.CenterLon)
	}
	if env.refresher.calls != 1 {
		t.Errorf("zone mutation must invalidate the geofence snapshot, got %d calls", env.refresher.calls)
	}
	frames := env.pub.onChannel(hub.ChannelAuthorityAlerts)
	if len(frames) != 1 || frames[0].EventType != models.EventZoneChanged {
		t.Errorf("want one zone_changed frame on the authority channel, got %+v", frames)
	}
}

func TestZoneCreate_DiskNeedsFullGeometry(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.ZoneCreate(rec, as(jsonRequest(t, http.MethodPost, "/api/zones/create", map[string]any{
		"name":       "Half a disk",
		"type":       "restricted",
		"center_lat": 12.97,
	}), otherUUID, models.RoleAuthority))

	wantError(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
	if env.refresher.calls != 0 {
		t.Error("rejected zone must not touch the snapshot")
	}
}

func TestZoneUpdate_PolygonChangeRecomputesDisk(t *testing.T) {
	env := newTestEnv(t)
	var gotReq *models.ZoneUpdateRequest
	env.store.updateZone = func(id string, req *models.ZoneUpdateRequest) (*models.Zone, error) {
		gotReq = req
		return &models.Zone{ID: id, Name: "Old Town", IsActive: true}, nil
	}

	rec := httptest.NewRecorder()
	req := as(jsonRequest(t, http.MethodPut, "/api/zones/z-1", map[string]any{
		"polygon": [][]float64{{77.58, 12.96}, {77.60, 12.96}, {77.59, 12.98}},
	}), otherUUID, models.RoleAuthority)
	env.handler.ZoneUpdate(rec, withURLParam(req, "id", "z-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if gotReq.CenterLat == nil || gotReq.RadiusM == nil || *gotReq.RadiusM <= 0 {
		t.Errorf("polygon change must carry a recomputed disk, got %+v", gotReq)
	}
	if env.refresher.calls != 1 {
		t.Errorf("update must invalidate the snapshot, got %d calls", env.refresher.calls)
	}
}

func TestZoneDelete_SoftDeletesAndInvalidates(t *testing.T) {
	env := newTestEnv(t)
	var gotID string
	env.store.deactivateZone = func(id string) error {
		gotID = id
		return nil
	}

	rec := httptest.NewRecorder()
	req := as(jsonRequest(t, http.MethodDelete, "/api/zones/z-1", nil), otherUUID, models.RoleAuthority)
	env.handler.ZoneDelete(rec, withURLParam(req, "id", "z-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if gotID != "z-1" {
		t.Errorf("deactivated id: want z-1, got %s", gotID)
	}
	var resp map[string]string
	decodeData(t, rec, &resp)
	if resp["status"] != "deactivated" {
		t.Errorf("response: got %+v", resp)
	}
	if env.refresher.calls != 1 {
		t.Error("delete must invalidate the snapshot")
	}
}

func TestZonesList_ReturnsActiveZones(t *testing.T) {
	env := newTestEnv(t)
	env.store.activeZones = []models.Zone{
		{ID: "z-1", Name: "Old Town", Type: models.ZoneRisky, IsActive: true},
	}

	rec := httptest.NewRecorder()
	env.handler.ZonesList(rec, as(jsonRequest(t, http.MethodGet, "/api/zones/list", nil), touristUUID, models.RoleTourist))

	var zones []models.Zone
	decodeData(t, rec, &zones)
	if len(zones) != 1 || zones[0].ID != "z-1" {
		t.Errorf("zones: got %+v", zones)
	}
}
