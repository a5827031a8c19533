// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/safehorizon/safehorizon/internal/config"
)

const providerTimeout = 10 * time.Second

// HTTPNotifier talks to HTTP-backed push and SMS gateways. Either
// provider may be left unconfigured; its sends then fail with
// ErrNotConfigured.
type HTTPNotifier struct {
	client *http.Client

	pushEndpoint string
	pushKey      string

	smsEndpoint string
	smsSID      string
	smsToken    string
	smsFrom     string
}

// NewHTTP builds the notifier from config. The push bearer key is read
// from PUSH_CREDENTIALS_PATH once at startup; rotating it means a
// restart, which matches how the rest of the secrets load.
func NewHTTP(cfg config.NotifyConfig) (*HTTPNotifier, error) {
	n := &HTTPNotifier{
		client:       &http.Client{Timeout: providerTimeout},
		pushEndpoint: cfg.PushEndpoint,
		smsEndpoint:  cfg.SMSEndpoint,
		smsSID:       cfg.SMSAccountSID,
		smsToken:     cfg.SMSAuthToken,
		smsFrom:      cfg.SMSFromNumber,
	}
	if cfg.PushEndpoint != "" {
		if cfg.PushCredentialsPath == "" {
			return nil, fmt.Errorf("push endpoint set without credentials path")
		}
		key, err := os.ReadFile(cfg.PushCredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("read push credentials: %w", err)
		}
		n.pushKey = strings.TrimSpace(string(key))
	}
	return n, nil
}

type pushPayload struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Push implements Notifier.
func (n *HTTPNotifier) Push(ctx context.Context, deviceToken, title, body string, data map[string]string) error {
	if n.pushEndpoint == "" {
		return ErrNotConfigured
	}
	payload, err := json.Marshal(pushPayload{Token: deviceToken, Title: title, Body: body, Data: data})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.pushEndpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.pushKey)
	return n.do(req, "push")
}

// SMS implements Notifier.
func (n *HTTPNotifier) SMS(ctx context.Context, phone, body string) error {
	if n.smsEndpoint == "" {
		return ErrNotConfigured
	}
	form := url.Values{}
	form.Set("From", n.smsFrom)
	form.Set("To", NormalizePhone(phone))
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.smsEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(n.smsSID, n.smsToken)
	return n.do(req, "sms")
}

func (n *HTTPNotifier) do(req *http.Request, provider string) error {
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()
	// Drain so the connection is reusable.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s gateway returned %d", provider, resp.StatusCode)
	}
	return nil
}

// NormalizePhone strips separators and guarantees a leading +.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return "+" + b.String()
}
