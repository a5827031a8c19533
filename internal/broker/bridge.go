// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package broker bridges the in-process hub to NATS so alert and
// broadcast frames reach subscribers connected to other instances.
// The bridge is optional: with no broker URL and no embedded server the
// hub runs local-only and every other component behaves identically.
package broker

import (
	"context"
	"fmt"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natssrv "github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/goccy/go-json"

	"github.com/safehorizon/safehorizon/internal/config"
	"github.com/safehorizon/safehorizon/internal/hub"
	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/metrics"
)

const defaultSubject = "safehorizon.hub.events"

// Bridge forwards locally published hub envelopes to NATS and injects
// envelopes published by peer instances. Publishes run behind a circuit
// breaker: when NATS is down the hub keeps serving local subscribers
// and the breaker sheds the cross-instance leg.
type Bridge struct {
	cfg config.BrokerConfig
	hub *hub.Hub

	breaker  *gobreaker.CircuitBreaker[any]
	embedded *natssrv.Server
}

// New builds a bridge. Returns (nil, nil) when the configuration
// disables cross-instance propagation.
func New(cfg config.BrokerConfig, h *hub.Hub) (*Bridge, error) {
	if cfg.URL == "" && !cfg.Embedded {
		return nil, nil
	}
	if cfg.Subject == "" {
		cfg.Subject = defaultSubject
	}
	if cfg.SubscribersCount <= 0 {
		cfg.SubscribersCount = 1
	}

	b := &Bridge{cfg: cfg, hub: h}
	b.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "broker-publish",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BrokerBreakerState.Set(float64(to))
			logging.Warn().
				Str("component", "broker").
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("publish circuit breaker state changed")
		},
	})
	return b, nil
}

// Serve implements suture.Service. It optionally starts the embedded
// server, connects publisher and subscriber, wires the hub forwarder,
// and pumps inbound envelopes until the context ends. Any setup or pump
// failure returns the error so the supervisor restarts the bridge with
// backoff.
func (b *Bridge) Serve(ctx context.Context) error {
	url := b.cfg.URL
	if b.cfg.Embedded {
		srv, err := b.startEmbedded()
		if err != nil {
			return err
		}
		defer srv.Shutdown()
		url = srv.ClientURL()
	}

	wmLogger := watermillLogger{}
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Str("component", "broker").Err(err).Msg("nats disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("component", "broker").
				Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	// Core NATS pub/sub: hub channels are fire-and-forget, replay is the
	// gateway's job, so JetStream persistence buys nothing here.
	publisher, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, wmLogger)
	if err != nil {
		return fmt.Errorf("create broker publisher: %w", err)
	}
	defer publisher.Close()

	subscriber, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		SubscribersCount: b.cfg.SubscribersCount,
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, wmLogger)
	if err != nil {
		return fmt.Errorf("create broker subscriber: %w", err)
	}
	defer subscriber.Close()

	messages, err := subscriber.Subscribe(ctx, b.cfg.Subject)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.cfg.Subject, err)
	}

	b.hub.SetForwarder(func(env hub.Envelope) {
		b.forward(publisher, env)
	})
	defer b.hub.SetForwarder(nil)

	logging.Info().
		Str("component", "broker").
		Str("subject", b.cfg.Subject).
		Bool("embedded", b.cfg.Embedded).
		Msg("broker bridge running")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("broker subscription closed")
			}
			b.inject(msg)
		}
	}
}

func (b *Bridge) String() string { return "broker-bridge" }

// Healthy reports whether the publish breaker is closed, for the admin
// system status view.
func (b *Bridge) Healthy() bool {
	return b.breaker.State() == gobreaker.StateClosed
}

// forward publishes one hub envelope to the broker subject. Failures
// trip the breaker and are logged, never propagated: local delivery has
// already happened.
func (b *Bridge) forward(publisher message.Publisher, env hub.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		logging.Error().Str("component", "broker").Err(err).Msg("marshal envelope")
		return
	}
	msg := message.NewMessage(env.PublishID, payload)
	msg.Metadata.Set("channel", env.Channel)
	msg.Metadata.Set("origin", env.Origin)

	_, err = b.breaker.Execute(func() (any, error) {
		return nil, publisher.Publish(b.cfg.Subject, msg)
	})
	if err != nil {
		logging.Warn().
			Str("component", "broker").
			Str("channel", env.Channel).
			Err(err).
			Msg("envelope not forwarded to broker")
		return
	}
	metrics.BrokerPublished.Inc()
}

// inject re-publishes a broker message into the local hub. Malformed
// payloads are acked and dropped; redelivering them cannot help.
func (b *Bridge) inject(msg *message.Message) {
	defer msg.Ack()

	var env hub.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		logging.Warn().
			Str("component", "broker").
			Str("message_id", msg.UUID).
			Err(err).
			Msg("dropping malformed broker envelope")
		return
	}
	metrics.BrokerReceived.Inc()
	b.hub.Inject(env)
}

// startEmbedded boots an in-process NATS server for single-box and
// development deployments.
func (b *Bridge) startEmbedded() (*natssrv.Server, error) {
	// Port -1 picks a free port; ClientURL reports the bound address.
	opts := &natssrv.Options{
		ServerName: "safehorizon-embedded",
		Host:       "127.0.0.1",
		Port:       -1,
	}
	srv, err := natssrv.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}
	srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready")
	}
	b.embedded = srv
	return srv, nil
}
