// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package alerts turns telemetry observations into safety alerts. Rules
// are ordered, first match wins, and every creation is deduplicated both
// by a 30-minute window query and by the alerts table's partial unique
// index, so two instances evaluating the same tourist concurrently
// produce one alert.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/safehorizon/safehorizon/internal/geofence"
	"github.com/safehorizon/safehorizon/internal/hub"
	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

// dedupWindow is both the open-alert suppression lookback and the dedup
// key time bucket.
const dedupWindow = 30 * time.Minute

// Store is the persistence surface the generator needs.
type Store interface {
	InsertAlert(ctx context.Context, alert *models.Alert) (*models.Alert, bool, error)
	HasOpenAlert(ctx context.Context, touristID string, kind models.AlertKind, zoneID string, since time.Time) (bool, error)
	RecentSampleScores(ctx context.Context, touristID string, n int) ([]SampleScore, error)
}

// SampleScore mirrors database.SampleScore so the generator does not
// import the store package.
type SampleScore struct {
	Score      int
	RecordedAt time.Time
}

// Publisher is the hub surface used to announce created alerts.
type Publisher interface {
	Publish(ctx context.Context, channel string, frame models.Frame) error
}

// EvalInput is one scored sample under rule evaluation.
type EvalInput struct {
	TouristID string
	Lat       float64
	Lon       float64
	Score     int
	// RecordedAt identifies the current sample so prior-score lookups
	// can exclude it.
	RecordedAt time.Time
	// ZoneHits are the zones containing the sample, as resolved by the
	// caller's geofence lookup.
	ZoneHits []geofence.ZoneHit
}

// Generator applies the alert rules.
type Generator struct {
	store Store
	pub   Publisher
	now   func() time.Time
}

// New builds a generator.
func New(store Store, pub Publisher) *Generator {
	return &Generator{store: store, pub: pub, now: time.Now}
}

// DedupKey builds the uniqueness backstop key: one alert per tourist,
// kind and zone per 30-minute bucket. zoneID is "-" for zoneless kinds.
func DedupKey(touristID string, kind models.AlertKind, zoneID string, at time.Time) string {
	if zoneID == "" {
		zoneID = "-"
	}
	bucket := at.Unix() / int64(dedupWindow/time.Second)
	return fmt.Sprintf("%s|%s|%s|%d", touristID, kind, zoneID, bucket)
}

// Evaluate runs the ordered rules against a scored sample and returns
// the created alert, or nil when no rule fired. Panic/SOS alerts never
// come from evaluation; CreatePanic serves the explicit endpoint.
func (g *Generator) Evaluate(ctx context.Context, in EvalInput) (*models.Alert, error) {
	now := g.now().UTC()

	// Rules 2 and 3: zone containment, restricted before risky.
	if alert, err := g.zoneRule(ctx, in, now); err != nil || alert != nil {
		return alert, err
	}

	// Fetch one extra row: by the time rules run the current sample is
	// already scored and would otherwise count as its own prior.
	scores, err := g.store.RecentSampleScores(ctx, in.TouristID, 6)
	if err != nil {
		return nil, err
	}
	scores = dropCurrent(scores, in.RecordedAt)
	if len(scores) > 5 {
		scores = scores[:5]
	}

	// Rule 4: score collapse.
	if alert, err := g.collapseRule(ctx, in, scores, now); err != nil || alert != nil {
		return alert, err
	}

	// Rule 5: sustained low-score sequence.
	return g.sequenceRule(ctx, in, scores, now)
}

// CreatePanic mints the explicit panic alert for the SOS endpoint. The
// dedup key still applies: mashing the panic button within one bucket
// yields the original alert.
func (g *Generator) CreatePanic(ctx context.Context, touristID string, lat, lon *float64, message string) (*models.Alert, bool, error) {
	now := g.now().UTC()
	key := DedupKey(touristID, models.AlertPanic, "", now)
	alert := &models.Alert{
		TouristID:   touristID,
		Kind:        models.AlertPanic,
		Severity:    models.SeverityCritical,
		Title:       "Panic button triggered",
		Description: message,
		Lat:         lat,
		Lon:         lon,
		DedupKey:    &key,
	}
	created, wasNew, err := g.store.InsertAlert(ctx, alert)
	if err != nil {
		return nil, false, err
	}
	if wasNew {
		g.announce(ctx, created)
	}
	return created, wasNew, nil
}

func (g *Generator) zoneRule(ctx context.Context, in EvalInput, now time.Time) (*models.Alert, error) {
	var hit *geofence.ZoneHit
	for i := range in.ZoneHits {
		z := &in.ZoneHits[i]
		if z.Zone.Type == models.ZoneRestricted {
			hit = z
			break
		}
		if z.Zone.Type == models.ZoneRisky && hit == nil {
			hit = z
		}
	}
	if hit == nil {
		return nil, nil
	}

	// Suppression is per zone: an open alert for another zone must not
	// swallow this entry.
	open, err := g.store.HasOpenAlert(ctx, in.TouristID, models.AlertGeofence, hit.Zone.ID, now.Add(-dedupWindow))
	if err != nil {
		return nil, err
	}
	if open {
		return nil, nil
	}

	severity := models.SeverityHigh
	title := "Entered risky zone"
	if hit.Zone.Type == models.ZoneRestricted {
		severity = models.SeverityCritical
		title = "Entered restricted zone"
	}
	return g.create(ctx, &models.Alert{
		TouristID:   in.TouristID,
		Kind:        models.AlertGeofence,
		Severity:    severity,
		Title:       title,
		Description: fmt.Sprintf("%s (%s)", hit.Zone.Name, hit.Zone.Type),
		Lat:         &in.Lat,
		Lon:         &in.Lon,
		Metadata:    map[string]any{"zone_id": hit.Zone.ID, "zone_type": string(hit.Zone.Type)},
	}, hit.Zone.ID, now)
}

// collapseRule fires when the score fell off a cliff: current ≤ 40 with
// a > 60 sample within the previous two.
func (g *Generator) collapseRule(ctx context.Context, in EvalInput, scores []SampleScore, now time.Time) (*models.Alert, error) {
	if in.Score > 40 {
		return nil, nil
	}
	recovered := false
	for i, s := range scores {
		if i >= 2 {
			break
		}
		if s.Score > 60 {
			recovered = true
			break
		}
	}
	if !recovered {
		return nil, nil
	}

	severity := models.SeverityHigh
	if models.RiskLevelFromScore(in.Score) == models.RiskCritical {
		severity = models.SeverityCritical
	}
	return g.create(ctx, &models.Alert{
		TouristID:   in.TouristID,
		Kind:        models.AlertAnomaly,
		Severity:    severity,
		Title:       "Safety score collapsed",
		Description: fmt.Sprintf("Score dropped to %d", in.Score),
		Lat:         &in.Lat,
		Lon:         &in.Lon,
		Metadata:    map[string]any{"score": in.Score},
	}, "", now)
}

// sequenceRule fires on five consecutive samples at or below 50 inside a
// 20-minute span.
func (g *Generator) sequenceRule(ctx context.Context, in EvalInput, scores []SampleScore, now time.Time) (*models.Alert, error) {
	if in.Score > 50 || len(scores) < 4 {
		return nil, nil
	}
	// Current sample plus the latest four priors make the window of 5.
	window := scores[:4]
	oldest := window[len(window)-1].RecordedAt
	for _, s := range window {
		if s.Score > 50 {
			return nil, nil
		}
	}
	if now.Sub(oldest) > 20*time.Minute {
		return nil, nil
	}

	open, err := g.store.HasOpenAlert(ctx, in.TouristID, models.AlertSequence, "", now.Add(-dedupWindow))
	if err != nil {
		return nil, err
	}
	if open {
		return nil, nil
	}

	return g.create(ctx, &models.Alert{
		TouristID:   in.TouristID,
		Kind:        models.AlertSequence,
		Severity:    models.SeverityHigh,
		Title:       "Sustained low safety score",
		Description: "Five consecutive samples at or below 50",
		Lat:         &in.Lat,
		Lon:         &in.Lon,
	}, "", now)
}

// dropCurrent removes the sample under evaluation from its own prior
// list, matching by recorded_at.
func dropCurrent(scores []SampleScore, recordedAt time.Time) []SampleScore {
	out := scores[:0]
	for _, s := range scores {
		if s.RecordedAt.Equal(recordedAt) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// create inserts with the dedup backstop and announces genuinely new
// alerts. A dedup conflict suppresses the alert: the earlier insert
// already announced it.
func (g *Generator) create(ctx context.Context, alert *models.Alert, zoneID string, now time.Time) (*models.Alert, error) {
	key := DedupKey(alert.TouristID, alert.Kind, zoneID, now)
	alert.DedupKey = &key

	stored, wasNew, err := g.store.InsertAlert(ctx, alert)
	if err != nil {
		return nil, err
	}
	if !wasNew {
		metrics.AlertsDeduplicated.Inc()
		return nil, nil
	}
	g.announce(ctx, stored)
	return stored, nil
}

// announce publishes alert_created to the authority channel and the
// tourist's own channel, in that order on the single hub path.
func (g *Generator) announce(ctx context.Context, alert *models.Alert) {
	metrics.RecordAlertCreated(string(alert.Kind), string(alert.Severity))
	frame := models.AlertFrame(models.EventAlertCreated, alert)
	for _, channel := range []string{hub.ChannelAuthorityAlerts, hub.TouristAlerts(alert.TouristID)} {
		if err := g.pub.Publish(ctx, channel, frame); err != nil {
			logging.Warn().
				Str("component", "alerts").
				Str("alert_id", alert.ID).
				Str("channel", channel).
				Err(err).
				Msg("alert publish failed")
		}
	}
}
