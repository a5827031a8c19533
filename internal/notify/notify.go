// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package notify delivers push and SMS messages through a durable
// outbox. Callers enqueue and move on; the drainer owns retries,
// pacing and provider circuit breaking. An unconfigured provider is a
// terminal, non-retryable outcome, not an error for the caller.
package notify

import (
	"context"
	"errors"
)

// Provider names used in outbox records and metrics labels.
const (
	ProviderPush = "push"
	ProviderSMS  = "sms"
)

// ErrNotConfigured marks a provider with no endpoint configured.
// Deliveries to it journal as skipped instead of retrying.
var ErrNotConfigured = errors.New("notification provider not configured")

// Notifier is the provider capability surface.
type Notifier interface {
	// Push sends one push notification to a device token.
	Push(ctx context.Context, deviceToken, title, body string, data map[string]string) error
	// SMS sends one text message to an E.164 phone number.
	SMS(ctx context.Context, phone, body string) error
}
