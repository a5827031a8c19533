// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package geofence keeps an in-memory snapshot of active zones for
// lock-free point-in-zone queries on the telemetry hot path. The
// snapshot is replaced atomically by the refresher; readers never block
// and decisions taken against a snapshot remain valid even if a zone is
// deactivated mid-flight.
package geofence

import (
	"sync/atomic"
	"time"

	"github.com/safehorizon/safehorizon/internal/geo"
	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

// ZoneHit is a containment result: a zone covering the query point and
// the distance to its boundary. BoundaryDistM is negative inside.
type ZoneHit struct {
	Zone          *models.Zone
	BoundaryDistM float64
}

// ZoneDistance is a proximity result for zones that may not contain the
// point. DistM is the distance to the zone boundary, negative inside.
type ZoneDistance struct {
	Zone  *models.Zone
	DistM float64
}

// SnapshotInfo describes the currently loaded zone set.
type SnapshotInfo struct {
	Zones    int
	LoadedAt time.Time
}

type snapshot struct {
	zones    []indexedZone
	loadedAt time.Time
}

type indexedZone struct {
	zone *models.Zone
	// bbox prefilter around the zone's enclosing disk.
	box geo.BBox
}

// Index answers zone containment and proximity queries against the
// latest snapshot. The zero value is empty but usable.
type Index struct {
	current atomic.Pointer[snapshot]
}

// NewIndex returns an index with an empty snapshot so queries are valid
// before the first refresh completes.
func NewIndex() *Index {
	idx := &Index{}
	idx.current.Store(&snapshot{loadedAt: time.Now().UTC()})
	return idx
}

// Replace installs a new zone set. Zones with a malformed polygon
// (fewer than 3 vertices or vertices that are not [lon, lat] pairs)
// are dropped with a warning; the rest of the snapshot still loads.
func (x *Index) Replace(zones []models.Zone) {
	indexed := make([]indexedZone, 0, len(zones))
	for i := range zones {
		z := &zones[i]
		if z.Polygon != nil && !validPolygon(z.Polygon) {
			logging.Warn().
				Str("component", "geofence").
				Str("zone_id", z.ID).
				Str("zone_name", z.Name).
				Msg("zone has malformed polygon, excluded from snapshot")
			continue
		}
		indexed = append(indexed, indexedZone{
			zone: z,
			box:  geo.BoundingBox(z.CenterLat, z.CenterLon, enclosingRadius(z)),
		})
	}
	x.current.Store(&snapshot{zones: indexed, loadedAt: time.Now().UTC()})
	metrics.GeofenceZones.Set(float64(len(indexed)))
}

// Locate returns every zone containing the point. Disk containment is
// closed: a point exactly on the boundary circle is inside.
func (x *Index) Locate(lat, lon float64) []ZoneHit {
	snap := x.current.Load()
	var hits []ZoneHit
	for i := range snap.zones {
		iz := &snap.zones[i]
		if !iz.box.Contains(lat, lon) {
			continue
		}
		dist, inside := boundaryDistance(lat, lon, iz.zone)
		if inside {
			hits = append(hits, ZoneHit{Zone: iz.zone, BoundaryDistM: dist})
		}
	}
	return hits
}

// Nearest returns the closest zone among the given types and the
// distance to its boundary. Negative distance means the point is inside
// that zone. ok is false when no zone of the types exists.
func (x *Index) Nearest(lat, lon float64, types ...models.ZoneType) (ZoneDistance, bool) {
	snap := x.current.Load()
	var best ZoneDistance
	found := false
	for i := range snap.zones {
		iz := &snap.zones[i]
		if len(types) > 0 && !containsType(types, iz.zone.Type) {
			continue
		}
		dist, _ := boundaryDistance(lat, lon, iz.zone)
		if !found || dist < best.DistM {
			best = ZoneDistance{Zone: iz.zone, DistM: dist}
			found = true
		}
	}
	return best, found
}

// Near returns zones whose center lies within radiusM of the point.
func (x *Index) Near(lat, lon, radiusM float64) []models.Zone {
	snap := x.current.Load()
	var zones []models.Zone
	for i := range snap.zones {
		z := snap.zones[i].zone
		if geo.HaversineM(lat, lon, z.CenterLat, z.CenterLon) <= radiusM {
			zones = append(zones, *z)
		}
	}
	return zones
}

// Snapshot reports the loaded zone count and load time for health views.
func (x *Index) Snapshot() SnapshotInfo {
	snap := x.current.Load()
	return SnapshotInfo{Zones: len(snap.zones), LoadedAt: snap.loadedAt}
}

// boundaryDistance computes the signed distance from the point to the
// zone boundary: negative inside, positive outside. The bool reports
// containment, which for disks is closed on the boundary.
func boundaryDistance(lat, lon float64, z *models.Zone) (float64, bool) {
	if len(z.Polygon) >= 3 {
		edge := geo.DistanceToPolygonEdgeM(lat, lon, z.Polygon)
		if geo.PointInPolygon(lat, lon, z.Polygon) {
			return -edge, true
		}
		return edge, false
	}
	d := geo.HaversineM(lat, lon, z.CenterLat, z.CenterLon) - z.RadiusM
	return d, d <= 0
}

// enclosingRadius returns the prefilter radius: the disk radius, widened
// to cover the polygon when one refines the zone.
func enclosingRadius(z *models.Zone) float64 {
	r := z.RadiusM
	if len(z.Polygon) >= 3 {
		if pr := geo.PolygonEnclosingRadiusM(z.Polygon); pr > r {
			r = pr
		}
	}
	return r
}

func validPolygon(polygon [][]float64) bool {
	if len(polygon) < 3 {
		return false
	}
	for _, v := range polygon {
		if len(v) != 2 {
			return false
		}
	}
	return true
}

func containsType(types []models.ZoneType, t models.ZoneType) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}
