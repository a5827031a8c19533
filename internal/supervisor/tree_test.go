// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/safehorizon/safehorizon/internal/logging"
)

// loopService counts Serve invocations and blocks until cancellation,
// optionally failing the first run.
type loopService struct {
	name     string
	runs     atomic.Int64
	failOnce atomic.Bool
}

func (s *loopService) Serve(ctx context.Context) error {
	s.runs.Add(1)
	if s.failOnce.CompareAndSwap(true, false) {
		return errors.New("transient failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *loopService) String() string { return s.name }

func TestTree_RunsServicesInEveryLayer(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())
	delivery := &loopService{name: "delivery"}
	domain := &loopService{name: "domain"}
	api := &loopService{name: "api"}
	tree.AddDeliveryService(delivery)
	tree.AddDomainService(domain)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	done := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for delivery.runs.Load() == 0 || domain.runs.Load() == 0 || api.runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("services did not start: delivery=%d domain=%d api=%d",
				delivery.runs.Load(), domain.runs.Load(), api.runs.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancellation")
	}
}

func TestTree_RestartsFailedService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(logging.NewSlogLogger(), cfg)

	svc := &loopService{name: "flaky"}
	svc.failOnce.Store(true)
	tree.AddDomainService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := tree.ServeBackground(ctx)

	deadline := time.After(3 * time.Second)
	for svc.runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("service was not restarted, runs=%d", svc.runs.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestTree_ZeroConfigGetsDefaults(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{})
	if tree.config.FailureThreshold != 5.0 || tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("defaults not applied: %+v", tree.config)
	}
}
