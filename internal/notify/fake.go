// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package notify

import (
	"context"
	"sync"
)

// FakeSend is one delivery captured by the Fake notifier.
type FakeSend struct {
	Provider string
	Target   string
	Title    string
	Body     string
	Data     map[string]string
}

// Fake records deliveries for tests. Err, when set, fails every send.
type Fake struct {
	mu    sync.Mutex
	sends []FakeSend

	Err error
}

// Push implements Notifier.
func (f *Fake) Push(_ context.Context, deviceToken, title, body string, data map[string]string) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, FakeSend{
		Provider: ProviderPush, Target: deviceToken, Title: title, Body: body, Data: data,
	})
	return nil
}

// SMS implements Notifier.
func (f *Fake) SMS(_ context.Context, phone, body string) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, FakeSend{Provider: ProviderSMS, Target: phone, Body: body})
	return nil
}

// Sends returns a copy of everything delivered so far.
func (f *Fake) Sends() []FakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeSend(nil), f.sends...)
}
