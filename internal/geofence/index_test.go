// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package geofence

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/safehorizon/safehorizon/internal/models"
)

// diskZone builds a circular zone around Jaipur city center offsets.
func diskZone(id string, zt models.ZoneType, lat, lon, radiusM float64) models.Zone {
	return models.Zone{
		ID:        id,
		Name:      "zone-" + id,
		Type:      zt,
		CenterLat: lat,
		CenterLon: lon,
		RadiusM:   radiusM,
		IsActive:  true,
	}
}

func TestLocate_DiskContainmentClosedBoundary(t *testing.T) {
	idx := NewIndex()
	idx.Replace([]models.Zone{diskZone("a", models.ZoneRestricted, 26.9124, 75.7873, 1000)})

	tests := []struct {
		name string
		lat  float64
		lon  float64
		want int
	}{
		{"center", 26.9124, 75.7873, 1},
		// ~500 m north of center, well inside.
		{"inside", 26.9169, 75.7873, 1},
		// ~2 km north, outside.
		{"outside", 26.9304, 75.7873, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := idx.Locate(tt.lat, tt.lon)
			if len(hits) != tt.want {
				t.Fatalf("Locate(%s): want %d hits, got %d", tt.name, tt.want, len(hits))
			}
			if tt.want == 1 && hits[0].BoundaryDistM >= 0 {
				t.Errorf("inside hit should have negative boundary distance, got %f",
					hits[0].BoundaryDistM)
			}
		})
	}
}

func TestLocate_PolygonRefinesDisk(t *testing.T) {
	// Triangle around the center; enclosing disk is wider than the
	// polygon, so a point inside the disk but outside the triangle must
	// not match.
	poly := [][]float64{
		{75.78, 26.90},
		{75.80, 26.90},
		{75.79, 26.93},
	}
	zone := diskZone("p", models.ZoneRisky, 26.91, 75.79, 3000)
	zone.Polygon = poly

	idx := NewIndex()
	idx.Replace([]models.Zone{zone})

	if hits := idx.Locate(26.91, 75.79); len(hits) != 1 {
		t.Fatalf("centroid should be inside polygon, got %d hits", len(hits))
	}
	// Due west of the triangle, still within 3 km of center.
	if hits := idx.Locate(26.905, 75.77); len(hits) != 0 {
		t.Fatalf("point outside polygon matched: %d hits", len(hits))
	}
}

func TestReplace_DropsMalformedPolygon(t *testing.T) {
	good := diskZone("good", models.ZoneSafe, 26.9, 75.8, 500)
	bad := diskZone("bad", models.ZoneRisky, 26.9, 75.8, 500)
	bad.Polygon = [][]float64{{75.8, 26.9}, {75.81, 26.9}} // two vertices

	idx := NewIndex()
	idx.Replace([]models.Zone{good, bad})

	if info := idx.Snapshot(); info.Zones != 1 {
		t.Errorf("malformed polygon zone should be excluded: want 1 zone, got %d", info.Zones)
	}
}

func TestNearest_FiltersByType(t *testing.T) {
	idx := NewIndex()
	idx.Replace([]models.Zone{
		diskZone("safe", models.ZoneSafe, 26.9124, 75.7873, 200),
		diskZone("restricted", models.ZoneRestricted, 26.9504, 75.7873, 200),
	})

	// Query near the safe zone; nearest restricted is ~4 km away.
	nd, ok := idx.Nearest(26.9124, 75.7873, models.ZoneRestricted)
	if !ok {
		t.Fatal("Nearest returned no zone")
	}
	if nd.Zone.ID != "restricted" {
		t.Errorf("want restricted zone, got %s", nd.Zone.ID)
	}
	if nd.DistM < 3000 || nd.DistM > 5000 {
		t.Errorf("boundary distance out of expected range: %f", nd.DistM)
	}

	if _, ok := idx.Nearest(26.9124, 75.7873, models.ZoneRisky); ok {
		t.Error("no risky zones exist, Nearest should report ok=false")
	}
}

func TestNearest_NegativeDistanceInside(t *testing.T) {
	idx := NewIndex()
	idx.Replace([]models.Zone{diskZone("r", models.ZoneRestricted, 26.9124, 75.7873, 1000)})

	nd, ok := idx.Nearest(26.9124, 75.7873, models.ZoneRestricted)
	if !ok {
		t.Fatal("Nearest returned no zone")
	}
	if nd.DistM >= 0 {
		t.Errorf("inside the zone, distance should be negative: %f", nd.DistM)
	}
	if math.Abs(nd.DistM+1000) > 50 {
		t.Errorf("at center of 1 km disk, distance should be ~-1000: %f", nd.DistM)
	}
}

func TestNear_CenterWithinRadius(t *testing.T) {
	idx := NewIndex()
	idx.Replace([]models.Zone{
		diskZone("close", models.ZoneSafe, 26.9150, 75.7873, 100),
		diskZone("far", models.ZoneSafe, 27.2, 75.7873, 100),
	})

	zones := idx.Near(26.9124, 75.7873, 1000)
	if len(zones) != 1 || zones[0].ID != "close" {
		t.Fatalf("want only the close zone, got %v", zones)
	}
}

func TestEmptyIndexQueriesAreValid(t *testing.T) {
	idx := NewIndex()
	if hits := idx.Locate(26.9, 75.8); hits != nil {
		t.Errorf("empty index Locate: want nil, got %v", hits)
	}
	if _, ok := idx.Nearest(26.9, 75.8); ok {
		t.Error("empty index Nearest should report ok=false")
	}
}

type fakeZoneStore struct {
	zones []models.Zone
	err   error
	calls int
}

func (f *fakeZoneStore) ActiveZones(context.Context) ([]models.Zone, error) {
	f.calls++
	return f.zones, f.err
}

func TestRefresh_FailureKeepsStaleSnapshot(t *testing.T) {
	store := &fakeZoneStore{zones: []models.Zone{diskZone("a", models.ZoneSafe, 26.9, 75.8, 100)}}
	idx := NewIndex()
	r := NewRefresher(idx, store, time.Minute)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if idx.Snapshot().Zones != 1 {
		t.Fatalf("want 1 zone loaded, got %d", idx.Snapshot().Zones)
	}

	store.err = errors.New("connection refused")
	if err := r.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh should surface the store error")
	}
	if idx.Snapshot().Zones != 1 {
		t.Errorf("failed refresh must keep stale snapshot, got %d zones", idx.Snapshot().Zones)
	}
}

func TestInvalidate_CoalescesAndAnnounces(t *testing.T) {
	store := &fakeZoneStore{}
	r := NewRefresher(NewIndex(), store, time.Minute)

	announced := 0
	r.OnZoneChanged(func() { announced++ })

	r.Invalidate()
	r.Invalidate()
	r.Invalidate()

	if announced != 3 {
		t.Errorf("every invalidation should announce, got %d", announced)
	}
	// The kick channel holds at most one pending refresh.
	select {
	case <-r.kick:
	default:
		t.Fatal("invalidate should have queued a refresh")
	}
	select {
	case <-r.kick:
		t.Fatal("bursts should coalesce into one pending refresh")
	default:
	}
}
