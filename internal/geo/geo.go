// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package geo provides the great-circle and planar geometry primitives
// used by the geofence index, scoring engine and broadcast targeting.
// Planar approximations are acceptable at city scale; nothing here is
// built for antipodal or polar geometry.
package geo

import (
	"math"
)

// EarthRadiusM is the mean Earth radius in meters.
const EarthRadiusM = 6371000.0

// HaversineM returns the great-circle distance between two WGS84 points in
// meters.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * (math.Pi / 180.0)
	dLon := (lon2 - lon1) * (math.Pi / 180.0)

	rLat1 := lat1 * (math.Pi / 180.0)
	rLat2 := lat2 * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(rLat1)*math.Cos(rLat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusM * c
}

// BBox is a latitude/longitude bounding box used as an index-friendly SQL
// prefilter; candidates still need an exact haversine check.
type BBox struct {
	MinLat, MinLon, MaxLat, MaxLon float64
}

// BoundingBox returns the box enclosing a disk of radiusM around a center.
func BoundingBox(lat, lon, radiusM float64) BBox {
	dLat := (radiusM / EarthRadiusM) * (180.0 / math.Pi)

	// Longitude degrees shrink with latitude; clamp the divisor away from
	// zero so polar centers stay finite.
	cosLat := math.Cos(lat * math.Pi / 180.0)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dLon := dLat / cosLat

	return BBox{
		MinLat: math.Max(lat-dLat, -90),
		MaxLat: math.Min(lat+dLat, 90),
		MinLon: math.Max(lon-dLon, -180),
		MaxLon: math.Min(lon+dLon, 180),
	}
}

// Contains reports whether the point lies inside the box, borders
// included.
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// PointInPolygon reports whether a point lies strictly inside a polygon
// via ray casting. Vertices are [lon, lat] pairs; the polygon closes
// implicitly. Fewer than 3 vertices never contain anything.
func PointInPolygon(lat, lon float64, polygon [][]float64) bool {
	if len(polygon) < 3 {
		return false
	}

	inside := false
	j := len(polygon) - 1
	for i := range polygon {
		xi, yi := polygon[i][0], polygon[i][1]
		xj, yj := polygon[j][0], polygon[j][1]

		intersect := ((yi > lat) != (yj > lat)) &&
			(lon < (xj-xi)*(lat-yi)/(yj-yi)+xi)
		if intersect {
			inside = !inside
		}
		j = i
	}
	return inside
}

// DistanceToSegmentM returns the distance in meters from a point to the
// segment between two vertices, using a local equirectangular projection
// centered on the point.
func DistanceToSegmentM(lat, lon, lat1, lon1, lat2, lon2 float64) float64 {
	cosLat := math.Cos(lat * math.Pi / 180.0)

	// Project to local planar meters.
	x1 := (lon1 - lon) * cosLat * EarthRadiusM * math.Pi / 180.0
	y1 := (lat1 - lat) * EarthRadiusM * math.Pi / 180.0
	x2 := (lon2 - lon) * cosLat * EarthRadiusM * math.Pi / 180.0
	y2 := (lat2 - lat) * EarthRadiusM * math.Pi / 180.0

	dx, dy := x2-x1, y2-y1
	segLenSq := dx*dx + dy*dy
	if segLenSq == 0 {
		return math.Hypot(x1, y1)
	}

	// Closest point on the segment to the origin (the query point).
	t := -(x1*dx + y1*dy) / segLenSq
	t = math.Max(0, math.Min(1, t))

	return math.Hypot(x1+t*dx, y1+t*dy)
}

// DistanceToPolygonEdgeM returns the minimum distance in meters from a
// point to any edge of the polygon. Vertices are [lon, lat] pairs.
func DistanceToPolygonEdgeM(lat, lon float64, polygon [][]float64) float64 {
	if len(polygon) < 2 {
		return math.Inf(1)
	}

	minDist := math.Inf(1)
	j := len(polygon) - 1
	for i := range polygon {
		d := DistanceToSegmentM(lat, lon,
			polygon[j][1], polygon[j][0],
			polygon[i][1], polygon[i][0])
		if d < minDist {
			minDist = d
		}
		j = i
	}
	return minDist
}

// PolygonCentroid returns the vertex-average centroid as (lat, lon).
// Vertices are [lon, lat] pairs.
func PolygonCentroid(polygon [][]float64) (float64, float64) {
	if len(polygon) == 0 {
		return 0, 0
	}
	var sumLat, sumLon float64
	for _, v := range polygon {
		sumLon += v[0]
		sumLat += v[1]
	}
	n := float64(len(polygon))
	return sumLat / n, sumLon / n
}

// PolygonEnclosingRadiusM returns the distance from the centroid to the
// farthest vertex, the fallback disk for polygon zones.
func PolygonEnclosingRadiusM(polygon [][]float64) float64 {
	cLat, cLon := PolygonCentroid(polygon)
	var maxDist float64
	for _, v := range polygon {
		if d := HaversineM(cLat, cLon, v[1], v[0]); d > maxDist {
			maxDist = d
		}
	}
	return maxDist
}

// CoarsenCoordinate rounds a coordinate to 3 decimal places, roughly a
// 110 m grid at the equator. Public endpoints use this so exact positions
// never leave the system.
func CoarsenCoordinate(v float64) float64 {
	return math.Round(v*1000) / 1000
}
