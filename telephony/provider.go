// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package telephony places and redirects calls through the voice provider.
package telephony

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioopenapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/sprucehealth/audiointerview/model"
)

// CallRequest describes an outbound call.
type CallRequest struct {
	From           string
	To             string
	URL            string // first instruction document
	StatusCallback string
	FallbackURL    string
	Record         bool
}

// Provider is the subset of the voice provider the call flow needs.
type Provider interface {
	PlaceCall(ctx context.Context, req CallRequest) (model.SID, error)
	RedirectCall(ctx context.Context, sid model.SID, url string) error
}

// CallAPI is the generated Twilio REST surface used by Twilio. The simulator
// implements it too.
type CallAPI interface {
	CreateCall(params *twilioopenapi.CreateCallParams) (*twilioopenapi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioopenapi.UpdateCallParams) (*twilioopenapi.ApiV2010Call, error)
}

var statusEvents = []string{"initiated", "ringing", "answered", "completed"}

// Twilio implements Provider on top of the Twilio REST API.
type Twilio struct {
	api CallAPI
}

// NewTwilio builds a provider for the given account credentials.
func NewTwilio(accountSID, authToken string) *Twilio {
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Twilio{api: rc.Api}
}

// NewTwilioWithAPI wraps an existing CallAPI.
func NewTwilioWithAPI(api CallAPI) *Twilio {
	return &Twilio{api: api}
}

func (t *Twilio) PlaceCall(ctx context.Context, req CallRequest) (model.SID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &twilioopenapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.From)
	params.SetUrl(req.URL)
	params.SetMethod("POST")
	if req.StatusCallback != "" {
		params.SetStatusCallback(req.StatusCallback)
		params.SetStatusCallbackMethod("POST")
		params.SetStatusCallbackEvent(statusEvents)
	}
	if req.FallbackURL != "" {
		params.SetFallbackUrl(req.FallbackURL)
		params.SetFallbackMethod("POST")
	}
	params.SetRecord(req.Record)

	call, err := t.api.CreateCall(params)
	if err != nil {
		return "", Classify(err)
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		return "", &ProviderError{Kind: KindUnavailable, Message: "provider returned no call sid"}
	}
	return model.SID(*call.Sid), nil
}

func (t *Twilio) RedirectCall(ctx context.Context, sid model.SID, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioopenapi.UpdateCallParams{}
	params.SetUrl(url)
	params.SetMethod("POST")
	if _, err := t.api.UpdateCall(string(sid), params); err != nil {
		return Classify(err)
	}
	return nil
}

// Kind groups provider failures by what the caller can do about them.
type Kind string

const (
	KindInvalidNumber Kind = "invalid_number"
	KindUnreachable   Kind = "unreachable"
	KindRejected      Kind = "rejected"
	KindNotFound      Kind = "not_found"
	KindUnavailable   Kind = "unavailable"
)

// ProviderError is a classified provider failure.
type ProviderError struct {
	Kind    Kind
	Code    int
	Status  int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider %s (code %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Classify converts a REST or transport error into a ProviderError.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	var rest *twilioclient.TwilioRestError
	if !errors.As(err, &rest) {
		return &ProviderError{Kind: KindUnavailable, Message: err.Error(), Err: err}
	}
	out := &ProviderError{Code: rest.Code, Status: rest.Status, Message: rest.Message, Err: err}
	switch {
	case rest.Code == 21211 || rest.Code == 21217 || rest.Code == 13224 || rest.Code == 21421:
		out.Kind = KindInvalidNumber
	case rest.Code == 21214 || rest.Code == 21216 || rest.Code == 21612:
		out.Kind = KindUnreachable
	case rest.Code == 21215 || rest.Code == 21610 || rest.Code == 32205:
		out.Kind = KindRejected
	case rest.Status == 404 || rest.Code == 20404:
		out.Kind = KindNotFound
	case rest.Status >= 500:
		out.Kind = KindUnavailable
	case rest.Status >= 400:
		out.Kind = KindRejected
	default:
		out.Kind = KindUnavailable
	}
	return out
}

// KindOf returns the classification of err, or "" when it is not a provider error.
func KindOf(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
