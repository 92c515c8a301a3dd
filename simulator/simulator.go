// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package simulator plays the voice provider's side of a call against a
// running webhook server. Calls are driven synchronously by a script of
// caller inputs, which makes whole interviews reproducible in tests.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioopenapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/sprucehealth/audiointerview/clock"
	"github.com/sprucehealth/audiointerview/httpstub"
	"github.com/sprucehealth/audiointerview/model"
)

const apiVersion = "2010-04-01"

// ErrTooManyRequests stops a call whose documents keep redirecting without
// consuming caller input.
var ErrTooManyRequests = errors.New("simulated call exceeded its webhook request budget")

// Direction of a simulated call
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound-api"
)

// Call is the simulator's record of one call
type Call struct {
	SID            model.SID        `json:"sid"`
	From           string           `json:"from"`
	To             string           `json:"to"`
	Direction      Direction        `json:"direction"`
	Status         model.CallStatus `json:"status"`
	URL            string           `json:"url"`
	StatusCallback string           `json:"status_callback,omitempty"`
	StatusEvents   []string         `json:"status_events,omitempty"`
	FallbackURL    string           `json:"fallback_url,omitempty"`
	Record         bool             `json:"record"`
	Requests       int              `json:"requests"`
	StartedAt      time.Time        `json:"started_at"`
	EndedAt        *time.Time       `json:"ended_at,omitempty"`
	Timeline       []model.Event    `json:"timeline"`
}

// Events returns the timeline entries of the given type.
func (c *Call) Events(eventType string) []model.Event {
	var out []model.Event
	for _, e := range c.Timeline {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type update struct {
	url    string
	hangup bool
}

// Simulator implements the provider's call REST surface (telephony.CallAPI)
// and executes call documents fetched from the configured webhooks.
type Simulator struct {
	mu          sync.Mutex
	clock       clock.Clock
	webhook     httpstub.WebhookClient
	accountSID  string
	maxRequests int

	calls   map[model.SID]*Call
	pending map[model.SID]update
}

// Option configures the simulator
type Option func(*Simulator)

// WithClock sets the clock used for timestamps and pauses
func WithClock(c clock.Clock) Option {
	return func(s *Simulator) {
		s.clock = c
	}
}

// WithWebhookClient sets the webhook client
func WithWebhookClient(client httpstub.WebhookClient) Option {
	return func(s *Simulator) {
		s.webhook = client
	}
}

// WithMaxRequests bounds the webhook requests a single call may make
func WithMaxRequests(n int) Option {
	return func(s *Simulator) {
		s.maxRequests = n
	}
}

// WithAccountSID sets the account reported in callback forms
func WithAccountSID(sid string) Option {
	return func(s *Simulator) {
		s.accountSID = sid
	}
}

// New creates a simulator. Without options it uses a manual clock and an
// unsigned HTTP webhook client.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		clock:       clock.NewManualClock(time.Time{}),
		webhook:     httpstub.NewDefaultWebhookClient(10 * time.Second),
		accountSID:  "ACsimulator",
		maxRequests: 200,
		calls:       make(map[model.SID]*Call),
		pending:     make(map[model.SID]update),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newSID(prefix string) model.SID {
	return model.SID(prefix + strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func restError(status, code int, msg string) error {
	return &twilioclient.TwilioRestError{Status: status, Code: code, Message: msg}
}

// CreateCall queues an outbound call. It does not ring until Answer or
// Reject is called.
func (s *Simulator) CreateCall(params *twilioopenapi.CreateCallParams) (*twilioopenapi.ApiV2010Call, error) {
	if params == nil {
		return nil, fmt.Errorf("params is required")
	}
	to := deref(params.To)
	from := deref(params.From)
	answerURL := deref(params.Url)
	switch {
	case answerURL == "":
		return nil, restError(http.StatusBadRequest, 21205, "Url parameter is required")
	case from == "":
		return nil, restError(http.StatusBadRequest, 21212, "Invalid 'From' Phone Number")
	case !strings.HasPrefix(to, "+") || len(to) < 8:
		return nil, restError(http.StatusBadRequest, 21211, fmt.Sprintf("Invalid 'To' Phone Number: %s", to))
	}

	call := &Call{
		SID:            newSID("CA"),
		From:           from,
		To:             to,
		Direction:      Outbound,
		Status:         model.CallQueued,
		URL:            answerURL,
		StatusCallback: deref(params.StatusCallback),
		FallbackURL:    deref(params.FallbackUrl),
		StartedAt:      s.clock.Now(),
	}
	if params.StatusCallbackEvent != nil {
		call.StatusEvents = append(call.StatusEvents, (*params.StatusCallbackEvent)...)
	}
	if params.Record != nil {
		call.Record = *params.Record
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.SID] = call
	s.addEventLocked(call, "call.created", map[string]any{"to": to, "from": from, "url": answerURL})
	return buildAPICallResponse(call), nil
}

// UpdateCall redirects a live call or hangs it up. The change takes effect at
// the next point the call would consult the provider: between verbs or while
// waiting for input.
func (s *Simulator) UpdateCall(sid string, params *twilioopenapi.UpdateCallParams) (*twilioopenapi.ApiV2010Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[model.SID(sid)]
	if !ok {
		return nil, restError(http.StatusNotFound, 20404, fmt.Sprintf("The requested resource /Calls/%s.json was not found", sid))
	}
	if call.Status.IsTerminal() {
		return nil, restError(http.StatusBadRequest, 21220, "Call is not in-progress. Cannot redirect.")
	}
	if params == nil {
		return buildAPICallResponse(call), nil
	}

	u := s.pending[call.SID]
	fields := map[string]any{}
	if params.Url != nil {
		u.url = *params.Url
		fields["url"] = *params.Url
	}
	if params.Status != nil {
		switch status := strings.ToLower(*params.Status); status {
		case "completed", "canceled":
			u.hangup = true
			fields["status"] = status
		}
	}
	s.pending[call.SID] = u
	s.addEventLocked(call, "call.updated", fields)
	return buildAPICallResponse(call), nil
}

// Answer picks up a queued outbound call and runs it against script until
// the call ends. The returned Call is a snapshot taken after the final status
// callback.
func (s *Simulator) Answer(ctx context.Context, sid model.SID, script ...Input) (*Call, error) {
	s.mu.Lock()
	call, ok := s.calls[sid]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("call %s not found", sid)
	}
	if call.Status != model.CallQueued {
		s.mu.Unlock()
		return nil, fmt.Errorf("call %s is %s, not queued", sid, call.Status)
	}
	s.mu.Unlock()

	s.transition(ctx, call, model.CallRinging)
	err := newRunner(s, call, script).run(ctx)
	return s.snapshot(sid), err
}

// Reject ends a queued outbound call without connecting it, e.g. with
// busy, no-answer or failed.
func (s *Simulator) Reject(ctx context.Context, sid model.SID, status model.CallStatus) (*Call, error) {
	if !status.IsTerminal() || status == model.CallCompleted {
		return nil, fmt.Errorf("%s does not reject a call", status)
	}
	s.mu.Lock()
	call, ok := s.calls[sid]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("call %s not found", sid)
	}
	s.transition(ctx, call, model.CallRinging)
	s.end(ctx, call, status)
	return s.snapshot(sid), nil
}

// Dial places an inbound call from a caller to the service's entry URL and
// runs it against script.
func (s *Simulator) Dial(ctx context.Context, from, to, entryURL string, script ...Input) (*Call, error) {
	call := &Call{
		SID:       newSID("CA"),
		From:      from,
		To:        to,
		Direction: Inbound,
		Status:    model.CallRinging,
		URL:       entryURL,
		StartedAt: s.clock.Now(),
	}
	s.mu.Lock()
	s.calls[call.SID] = call
	s.addEventLocked(call, "call.created", map[string]any{"to": to, "from": from, "url": entryURL})
	s.mu.Unlock()

	err := newRunner(s, call, script).run(ctx)
	return s.snapshot(call.SID), err
}

// Call returns a snapshot of a call
func (s *Simulator) Call(sid model.SID) (*Call, bool) {
	c := s.snapshot(sid)
	return c, c != nil
}

// Calls returns snapshots of every call, oldest first
func (s *Simulator) Calls() []*Call {
	s.mu.Lock()
	sids := make([]model.SID, 0, len(s.calls))
	for sid := range s.calls {
		sids = append(sids, sid)
	}
	s.mu.Unlock()

	out := make([]*Call, 0, len(sids))
	for _, sid := range sids {
		out = append(out, s.snapshot(sid))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (s *Simulator) snapshot(sid model.SID) *Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[sid]
	if !ok {
		return nil
	}
	cp := *call
	cp.Timeline = append([]model.Event(nil), call.Timeline...)
	cp.StatusEvents = append([]string(nil), call.StatusEvents...)
	return &cp
}

func (s *Simulator) takeUpdate(sid model.SID) (update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.pending[sid]
	if ok {
		delete(s.pending, sid)
	}
	return u, ok
}

func (s *Simulator) addEvent(call *Call, eventType string, detail map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addEventLocked(call, eventType, detail)
}

func (s *Simulator) addEventLocked(call *Call, eventType string, detail map[string]any) {
	call.Timeline = append(call.Timeline, model.Event{Time: s.clock.Now(), Type: eventType, Detail: detail})
}

// statusEventName maps a status to the callback event subscription that
// covers it. Terminal statuses are always reported.
func statusEventName(status model.CallStatus) string {
	switch status {
	case model.CallInitiated, model.CallQueued:
		return "initiated"
	case model.CallRinging:
		return "ringing"
	case model.CallInProgress:
		return "answered"
	default:
		return "completed"
	}
}

// transition moves the call to status and sends the status callback when the
// call subscribed to it.
func (s *Simulator) transition(ctx context.Context, call *Call, status model.CallStatus) {
	s.mu.Lock()
	if call.Status == status {
		s.mu.Unlock()
		return
	}
	from := call.Status
	call.Status = status
	if status.IsTerminal() {
		now := s.clock.Now()
		call.EndedAt = &now
	}
	s.addEventLocked(call, "status.changed", map[string]any{"from": from, "to": status})
	target := call.StatusCallback
	subscribed := status.IsTerminal()
	for _, e := range call.StatusEvents {
		if e == statusEventName(status) {
			subscribed = true
		}
	}
	form := s.callbackFormLocked(call)
	s.mu.Unlock()

	if target == "" || !subscribed {
		return
	}
	status2, body, _, err := s.webhook.POST(ctx, target, form)
	detail := map[string]any{"url": target, "call_status": string(status), "status": status2, "body": string(body)}
	if err != nil {
		detail["error"] = err.Error()
	}
	s.addEvent(call, "webhook.status_callback", detail)
}

func (s *Simulator) end(ctx context.Context, call *Call, status model.CallStatus) {
	s.mu.Lock()
	delete(s.pending, call.SID)
	s.mu.Unlock()
	s.transition(ctx, call, status)
}

func (s *Simulator) callbackFormLocked(call *Call) url.Values {
	form := url.Values{
		"CallSid":    {string(call.SID)},
		"AccountSid": {s.accountSID},
		"From":       {call.From},
		"To":         {call.To},
		"CallStatus": {string(call.Status)},
		"Direction":  {string(call.Direction)},
		"ApiVersion": {apiVersion},
		"Timestamp":  {s.clock.Now().Format(time.RFC1123Z)},
	}
	if call.EndedAt != nil {
		form.Set("CallDuration", fmt.Sprintf("%.0f", call.EndedAt.Sub(call.StartedAt).Seconds()))
		if call.Record && call.Status == model.CallCompleted {
			form.Set("RecordingUrl", "https://recordings.simulator.test/"+string(call.SID))
			form.Set("RecordingSid", "RE"+string(call.SID)[2:])
			form.Set("RecordingDuration", form.Get("CallDuration"))
		}
	}
	return form
}

func buildAPICallResponse(call *Call) *twilioopenapi.ApiV2010Call {
	sid := string(call.SID)
	status := string(call.Status)
	direction := string(call.Direction)
	version := apiVersion
	created := call.StartedAt.UTC().Format(time.RFC1123Z)
	resp := &twilioopenapi.ApiV2010Call{
		Sid:         &sid,
		Status:      &status,
		Direction:   &direction,
		ApiVersion:  &version,
		DateCreated: &created,
	}
	if call.From != "" {
		from := call.From
		resp.From = &from
	}
	if call.To != "" {
		to := call.To
		resp.To = &to
	}
	return resp
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
