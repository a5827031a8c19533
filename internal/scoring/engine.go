// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package scoring computes per-sample safety scores from six weighted
// factors. Compute is a pure read path: it never writes, so the ingest
// pipeline and the rescorer can share it freely.
package scoring

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/safehorizon/safehorizon/internal/geofence"
	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

// Factor query radii and windows.
const (
	nearbyAlertRadiusM = 2000
	nearbyAlertWindow  = 6 * time.Hour
	crowdRadiusM       = 1000
	crowdWindow        = 15 * time.Minute
	historicalRadiusM  = 1000
	speedPriorCount    = 10
	// sigmaFloor guards the z-score when recent speeds are constant.
	sigmaFloor = 0.1
	// maxClockSkew is how far the client clock may drift before the
	// time-of-day factor falls back to server time.
	maxClockSkew = 5 * time.Minute
)

// Factor names, in canonical weight-table order.
const (
	FactorNearbyAlerts = "nearby_alerts"
	FactorZoneRisk     = "zone_risk"
	FactorTimeOfDay    = "time_of_day"
	FactorCrowdDensity = "crowd_density"
	FactorSpeedAnomaly = "speed_anomaly"
	FactorHistorical   = "historical"
)

var factorOrder = []string{
	FactorNearbyAlerts, FactorZoneRisk, FactorTimeOfDay,
	FactorCrowdDensity, FactorSpeedAnomaly, FactorHistorical,
}

var factorWeights = map[string]float64{
	FactorNearbyAlerts: 0.30,
	FactorZoneRisk:     0.25,
	FactorTimeOfDay:    0.15,
	FactorCrowdDensity: 0.10,
	FactorSpeedAnomaly: 0.10,
	FactorHistorical:   0.10,
}

// recommendations maps each factor to its canonical advisory, emitted
// when the factor value falls below 70.
var recommendations = map[string]string{
	FactorNearbyAlerts: "Multiple recent alerts nearby. Stay alert and avoid isolated areas.",
	FactorZoneRisk:     "You are in or near a high-risk zone. Move toward a safer area.",
	FactorTimeOfDay:    "It is late. Prefer well-lit, populated routes.",
	FactorCrowdDensity: "Few other travelers around. Consider staying in busier areas.",
	FactorSpeedAnomaly: "Unusual movement detected. If you are in distress, trigger SOS.",
	FactorHistorical:   "This area has a history of incidents. Exercise caution.",
}

// Store is the read surface the engine queries. Any error fails Compute;
// callers treat a failed score as non-fatal and leave the sample for the
// rescorer.
type Store interface {
	AlertSeverityCountsNear(ctx context.Context, lat, lon, radiusM float64, since time.Time, excludeTouristID string) (map[models.Severity]int, error)
	CountAlertsNear(ctx context.Context, lat, lon, radiusM float64, since time.Time, excludeTouristID string) (int, error)
	CountTouristsNear(ctx context.Context, lat, lon, radiusM float64, since time.Time, excludeTouristID string) (int, error)
	RecentSpeeds(ctx context.Context, touristID string, n int) ([]float64, error)
}

// ZoneIndex is the geofence query surface for the zone-risk factor.
type ZoneIndex interface {
	Locate(lat, lon float64) []geofence.ZoneHit
	Nearest(lat, lon float64, types ...models.ZoneType) (geofence.ZoneDistance, bool)
}

// Input is one scoring request. Timestamp is the client clock with its
// original UTC offset; Speed is nil when the device did not report one.
type Input struct {
	TouristID string
	Lat       float64
	Lon       float64
	Speed     *float64
	Timestamp time.Time
}

// Result is a computed score with its factor breakdown.
type Result struct {
	Score           int
	RiskLevel       models.RiskLevel
	Factors         map[string]int
	Recommendations []string
	ComputedAt      time.Time
}

// Engine computes safety scores.
type Engine struct {
	store Store
	zones ZoneIndex

	// now is replaceable in tests.
	now func() time.Time
}

// New builds a scoring engine.
func New(store Store, zones ZoneIndex) *Engine {
	return &Engine{store: store, zones: zones, now: time.Now}
}

// Compute evaluates all six factors and blends them into a 0-100 score.
// Missing data degrades to neutral factor values; a store failure is the
// only error path.
func (e *Engine) Compute(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.ScoreComputeDuration.Observe(time.Since(start).Seconds())
	}()

	now := e.now().UTC()
	factors := make(map[string]int, len(factorOrder))

	nearby, err := e.nearbyAlertsFactor(ctx, in, now)
	if err != nil {
		return nil, err
	}
	factors[FactorNearbyAlerts] = nearby

	factors[FactorZoneRisk] = e.zoneRiskFactor(in.Lat, in.Lon)
	factors[FactorTimeOfDay] = timeOfDayFactor(in.Timestamp, now)

	crowd, err := e.crowdFactor(ctx, in, now)
	if err != nil {
		return nil, err
	}
	factors[FactorCrowdDensity] = crowd

	speed, err := e.speedAnomalyFactor(ctx, in)
	if err != nil {
		return nil, err
	}
	factors[FactorSpeedAnomaly] = speed

	historical, err := e.historicalFactor(ctx, in)
	if err != nil {
		return nil, err
	}
	factors[FactorHistorical] = historical

	weighted := 0.0
	for name, value := range factors {
		weighted += factorWeights[name] * float64(value)
	}
	score := int(math.Round(weighted))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	var recs []string
	for _, name := range factorOrder {
		if factors[name] < 70 {
			recs = append(recs, recommendations[name])
		}
	}

	return &Result{
		Score:           score,
		RiskLevel:       models.RiskLevelFromScore(score),
		Factors:         factors,
		Recommendations: recs,
		ComputedAt:      now,
	}, nil
}

// nearbyAlertsFactor: severity-weighted alert pressure within 2 km over
// the last 6 hours. critical=4, high=3, medium=2, low=1.
func (e *Engine) nearbyAlertsFactor(ctx context.Context, in Input, now time.Time) (int, error) {
	counts, err := e.store.AlertSeverityCountsNear(ctx, in.Lat, in.Lon,
		nearbyAlertRadiusM, now.Add(-nearbyAlertWindow), in.TouristID)
	if err != nil {
		return 0, err
	}
	weighted := 0
	for sev, n := range counts {
		weighted += sev.Weight() * n
	}
	factor := 100 - 15*weighted
	if factor < 0 {
		factor = 0
	}
	return factor, nil
}

// zoneRiskFactor: the worst containing zone wins; outside all zones the
// factor interpolates from the zone-type base toward 90 over 500 m of
// distance to the nearest risky or restricted boundary.
func (e *Engine) zoneRiskFactor(lat, lon float64) int {
	worst := -1
	base := 100
	for _, hit := range e.zones.Locate(lat, lon) {
		var v int
		switch hit.Zone.Type {
		case models.ZoneRestricted:
			v = 0
		case models.ZoneRisky:
			v = 40
		default:
			v = 100
		}
		if worst == -1 || v < worst {
			worst = v
		}
	}
	if worst != -1 {
		return worst
	}

	nd, ok := e.zones.Nearest(lat, lon, models.ZoneRestricted, models.ZoneRisky)
	if !ok {
		return 90
	}
	if nd.DistM >= 500 {
		return 90
	}
	if nd.Zone.Type == models.ZoneRestricted {
		base = 0
	} else {
		base = 40
	}
	d := nd.DistM
	if d < 0 {
		d = 0
	}
	return base + int(math.Round(float64(90-base)*d/500))
}

// timeOfDayFactor uses the client timestamp's own UTC offset for local
// hour, unless the client clock is skewed more than 5 minutes from the
// server, in which case server UTC time is used.
func timeOfDayFactor(clientTS, serverNow time.Time) int {
	ts := clientTS
	if skew := serverNow.Sub(clientTS); skew > maxClockSkew || skew < -maxClockSkew {
		ts = serverNow
	}
	hour := ts.Hour()
	switch {
	case hour >= 22 || hour < 6:
		return 50
	case hour < 9 || hour >= 18:
		return 75
	default:
		return 95
	}
}

// crowdFactor: distinct other tourists seen within 1 km in the last 15
// minutes. Solitude scores lower than a modest crowd.
func (e *Engine) crowdFactor(ctx context.Context, in Input, now time.Time) (int, error) {
	count, err := e.store.CountTouristsNear(ctx, in.Lat, in.Lon,
		crowdRadiusM, now.Add(-crowdWindow), in.TouristID)
	if err != nil {
		return 0, err
	}
	switch {
	case count == 0:
		return 50, nil
	case count <= 3:
		return 70, nil
	case count <= 10:
		return 85, nil
	default:
		return 95, nil
	}
}

// speedAnomalyFactor: z-score of the reported speed against the median
// and spread of the last 10 samples. Fewer than 3 priors, or no reported
// speed, is neutral.
func (e *Engine) speedAnomalyFactor(ctx context.Context, in Input) (int, error) {
	if in.Speed == nil {
		return 90, nil
	}
	priors, err := e.store.RecentSpeeds(ctx, in.TouristID, speedPriorCount)
	if err != nil {
		return 0, err
	}
	if len(priors) < 3 {
		return 90, nil
	}

	med := median(priors)
	sigma := stddev(priors)
	if sigma < sigmaFloor {
		sigma = sigmaFloor
	}
	z := math.Abs(*in.Speed-med) / sigma
	switch {
	case z > 3:
		return 40, nil
	case z > 2:
		return 60, nil
	case z > 1:
		return 80, nil
	default:
		return 95, nil
	}
}

// historicalFactor: all-time alert density within 1 km, floored at 40.
func (e *Engine) historicalFactor(ctx context.Context, in Input) (int, error) {
	count, err := e.store.CountAlertsNear(ctx, in.Lat, in.Lon,
		historicalRadiusM, time.Time{}, in.TouristID)
	if err != nil {
		return 0, err
	}
	if count > 30 {
		count = 30
	}
	factor := 100 - 2*count
	if factor < 40 {
		factor = 40
	}
	return factor, nil
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func stddev(values []float64) float64 {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}
