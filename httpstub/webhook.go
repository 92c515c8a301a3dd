// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package httpstub

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// SignatureHeader carries the provider's request signature.
const SignatureHeader = "X-Twilio-Signature"

// WebhookClient defines the interface for making webhook HTTP calls
type WebhookClient interface {
	POST(ctx context.Context, url string, form url.Values) (status int, body []byte, headers http.Header, err error)
}

// DefaultWebhookClient posts provider-style form callbacks over HTTP
type DefaultWebhookClient struct {
	client    *http.Client
	authToken string
}

// ClientOption configures a DefaultWebhookClient
type ClientOption func(*DefaultWebhookClient)

// WithSigningToken signs every request the way the provider does, so the
// receiving service can validate it with the same auth token.
func WithSigningToken(token string) ClientOption {
	return func(c *DefaultWebhookClient) {
		c.authToken = token
	}
}

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *DefaultWebhookClient) {
		c.client = hc
	}
}

// NewDefaultWebhookClient creates a new default webhook client
func NewDefaultWebhookClient(timeout time.Duration, opts ...ClientOption) *DefaultWebhookClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c := &DefaultWebhookClient{client: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// POST makes an HTTP POST request with form data
func (c *DefaultWebhookClient) POST(ctx context.Context, targetURL string, form url.Values) (status int, body []byte, headers http.Header, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "interviewd-simulator/1.0")
	if c.authToken != "" {
		req.Header.Set(SignatureHeader, Sign(c.authToken, targetURL, form))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, resp.Header, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, body, resp.Header, nil
}

// Sign computes the provider signature for a form POST to targetURL: the
// URL followed by every name+value pair in sorted order, HMAC-SHA1 with the
// auth token, base64 encoded.
func Sign(authToken, targetURL string, form url.Values) string {
	pairs := make([]string, 0, len(form))
	for k, vs := range form {
		for _, v := range vs {
			pairs = append(pairs, k+v)
		}
	}
	sort.Strings(pairs)

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(targetURL + strings.Join(pairs, "")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// MockWebhookClient is a test double for capturing webhook calls
type MockWebhookClient struct {
	mu    sync.Mutex
	calls []MockCall
	// ResponseFunc allows tests to control responses
	ResponseFunc func(url string, form url.Values) (status int, body []byte, headers http.Header, err error)
}

// MockCall records a webhook call
type MockCall struct {
	URL  string
	Form url.Values
	Time time.Time
}

const emptyResponse = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// NewMockWebhookClient creates a mock client answering every call with an empty document
func NewMockWebhookClient() *MockWebhookClient {
	return &MockWebhookClient{}
}

// POST records the call and returns the configured response
func (m *MockWebhookClient) POST(_ context.Context, targetURL string, form url.Values) (status int, body []byte, headers http.Header, err error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{URL: targetURL, Form: form, Time: time.Now()})
	fn := m.ResponseFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(targetURL, form)
	}
	return http.StatusOK, []byte(emptyResponse), make(http.Header), nil
}

// Calls returns a copy of every recorded call
func (m *MockWebhookClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears all recorded calls
func (m *MockWebhookClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// GetCallsTo returns all calls to a specific URL
func (m *MockWebhookClient) GetCallsTo(url string) []MockCall {
	var result []MockCall
	for _, call := range m.Calls() {
		if call.URL == url {
			result = append(result, call)
		}
	}
	return result
}
