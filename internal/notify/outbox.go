// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/safehorizon/safehorizon/internal/config"
	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/metrics"
)

const (
	pendingPrefix = "out:"
	deadPrefix    = "dead:"

	drainTick = time.Second
	// breakerRetry delays redelivery while a provider breaker is open,
	// without burning an attempt.
	breakerRetry = 5 * time.Second
)

// Record is one journaled delivery.
type Record struct {
	ID          string            `json:"id"`
	Provider    string            `json:"provider"`
	Target      string            `json:"target"`
	Title       string            `json:"title,omitempty"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	Attempts    int               `json:"attempts"`
	NextAttempt time.Time         `json:"next_attempt"`
	CreatedAt   time.Time         `json:"created_at"`
	LastError   string            `json:"last_error,omitempty"`
	Outcome     string            `json:"outcome,omitempty"`
}

// Outbox is the durable delivery journal and its drainer. Enqueue is
// cheap and never blocks on the provider; Serve delivers in the
// background with bounded retries, per-provider circuit breaking and
// rate pacing.
type Outbox struct {
	db          *badger.DB
	notifier    Notifier
	maxAttempts int
	limiter     *rate.Limiter
	breakers    map[string]*gobreaker.CircuitBreaker[any]

	now func() time.Time
}

// Open opens the journal. An empty OutboxPath runs badger in memory,
// which keeps single-box deployments and tests free of disk state at
// the cost of losing queued sends on restart.
func Open(cfg config.NotifyConfig, notifier Notifier) (*Outbox, error) {
	opts := badger.DefaultOptions(cfg.OutboxPath).WithLogger(nil)
	if cfg.OutboxPath == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open outbox journal: %w", err)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 10
	}

	o := &Outbox{
		db:          db,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		limiter:     rate.NewLimiter(rate.Limit(perSecond), 1),
		breakers:    make(map[string]*gobreaker.CircuitBreaker[any]),
		now:         time.Now,
	}
	for _, provider := range []string{ProviderPush, ProviderSMS} {
		o.breakers[provider] = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        "notify-" + provider,
			MaxRequests: 2,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return o, nil
}

// Close releases the journal.
func (o *Outbox) Close() error { return o.db.Close() }

// EnqueuePush journals one push notification.
func (o *Outbox) EnqueuePush(deviceToken, title, body string, data map[string]string) error {
	return o.enqueue(&Record{
		Provider: ProviderPush,
		Target:   deviceToken,
		Title:    title,
		Body:     body,
		Data:     data,
	})
}

// EnqueueSMS journals one text message.
func (o *Outbox) EnqueueSMS(phone, body string) error {
	return o.enqueue(&Record{
		Provider: ProviderSMS,
		Target:   phone,
		Body:     body,
	})
}

func (o *Outbox) enqueue(rec *Record) error {
	rec.ID = uuid.NewString()
	rec.CreatedAt = o.now().UTC()
	rec.NextAttempt = rec.CreatedAt
	return o.db.Update(func(txn *badger.Txn) error {
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set([]byte(pendingPrefix+rec.ID), payload)
	})
}

// Serve implements suture.Service: drain due records every tick.
func (o *Outbox) Serve(ctx context.Context) error {
	ticker := time.NewTicker(drainTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.drainOnce(ctx)
		}
	}
}

func (o *Outbox) String() string { return "notify-outbox" }

// drainOnce delivers every record whose retry time has arrived.
func (o *Outbox) drainOnce(ctx context.Context) {
	due, depth := o.collectDue()
	metrics.NotifyOutboxDepth.Set(float64(depth))

	for _, rec := range due {
		if ctx.Err() != nil {
			return
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return
		}
		o.deliver(ctx, rec)
	}
}

func (o *Outbox) collectDue() ([]*Record, int) {
	now := o.now().UTC()
	var due []*Record
	depth := 0
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pendingPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			depth++
			var rec Record
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				continue
			}
			if !rec.NextAttempt.After(now) {
				due = append(due, &rec)
			}
		}
		return nil
	})
	if err != nil {
		logging.Warn().Str("component", "notify").Err(err).Msg("outbox scan failed")
	}
	return due, depth
}

func (o *Outbox) deliver(ctx context.Context, rec *Record) {
	sendCtx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	_, err := o.breakers[rec.Provider].Execute(func() (any, error) {
		switch rec.Provider {
		case ProviderPush:
			return nil, o.notifier.Push(sendCtx, rec.Target, rec.Title, rec.Body, rec.Data)
		case ProviderSMS:
			return nil, o.notifier.SMS(sendCtx, rec.Target, rec.Body)
		default:
			return nil, fmt.Errorf("unknown provider %q", rec.Provider)
		}
	})

	switch {
	case err == nil:
		metrics.NotifyDelivered.WithLabelValues(rec.Provider, "delivered").Inc()
		o.remove(rec.ID)

	case errors.Is(err, ErrNotConfigured):
		// Terminal by definition; retrying cannot configure a provider.
		metrics.NotifyDelivered.WithLabelValues(rec.Provider, "skipped").Inc()
		o.bury(rec, "skipped", err)

	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		// Provider-wide condition, not this record's failure.
		rec.NextAttempt = o.now().UTC().Add(breakerRetry)
		o.update(rec)

	default:
		rec.Attempts++
		rec.LastError = err.Error()
		if rec.Attempts >= o.maxAttempts {
			metrics.NotifyDelivered.WithLabelValues(rec.Provider, "failed").Inc()
			logging.Warn().
				Str("component", "notify").
				Str("provider", rec.Provider).
				Int("attempts", rec.Attempts).
				Err(err).
				Msg("delivery abandoned")
			o.bury(rec, "failed", err)
			return
		}
		// 1 s, 4 s, 9 s.
		backoff := time.Duration(rec.Attempts*rec.Attempts) * time.Second
		rec.NextAttempt = o.now().UTC().Add(backoff)
		o.update(rec)
	}
}

func (o *Outbox) update(rec *Record) {
	err := o.db.Update(func(txn *badger.Txn) error {
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set([]byte(pendingPrefix+rec.ID), payload)
	})
	if err != nil {
		logging.Warn().Str("component", "notify").Err(err).Msg("outbox update failed")
	}
}

func (o *Outbox) remove(id string) {
	err := o.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(pendingPrefix + id))
	})
	if err != nil {
		logging.Warn().Str("component", "notify").Err(err).Msg("outbox delete failed")
	}
}

// bury moves a record to the terminal journal for the history view.
func (o *Outbox) bury(rec *Record, outcome string, cause error) {
	rec.Outcome = outcome
	if cause != nil {
		rec.LastError = cause.Error()
	}
	err := o.db.Update(func(txn *badger.Txn) error {
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(deadPrefix+rec.ID), payload); err != nil {
			return err
		}
		return txn.Delete([]byte(pendingPrefix + rec.ID))
	})
	if err != nil {
		logging.Warn().Str("component", "notify").Err(err).Msg("outbox bury failed")
	}
}

// History returns terminally failed or skipped deliveries, most recent
// first, capped at limit.
func (o *Outbox) History(limit int) ([]Record, error) {
	var out []Record
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(deadPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
