// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package simulator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sprucehealth/audiointerview/model"
	"github.com/sprucehealth/audiointerview/voice"
)

type inputKind int

const (
	inputDigits inputKind = iota
	inputSilence
	inputAnswer
	inputHangup
	inputOperator
)

// Input is one thing the caller (or an operator acting on the live call)
// does when the call waits for input.
type Input struct {
	kind     inputKind
	digits   string
	duration time.Duration
	fn       func()
}

// Press enters keys at a gather.
func Press(digits string) Input { return Input{kind: inputDigits, digits: digits} }

// Silence lets the current wait time out.
func Silence() Input { return Input{kind: inputSilence} }

// Speak answers a record verb for d, then presses finishKey. An empty
// finishKey means the recording ended on silence.
func Speak(d time.Duration, finishKey string) Input {
	return Input{kind: inputAnswer, duration: d, digits: finishKey}
}

// HangUp ends the call from the caller's side.
func HangUp() Input { return Input{kind: inputHangup} }

// Operator runs fn while the call is waiting, then keeps waiting for the
// next input unless fn redirected or ended the call.
func Operator(fn func()) Input { return Input{kind: inputOperator, fn: fn} }

var errCallerHungUp = errors.New("caller hung up")

type runner struct {
	sim    *Simulator
	call   *Call
	script []Input
	next   int
}

func newRunner(sim *Simulator, call *Call, script []Input) *runner {
	return &runner{sim: sim, call: call, script: script}
}

// run drives the call to its end and always leaves it in a terminal status.
func (r *runner) run(ctx context.Context) error {
	r.sim.transition(ctx, r.call, model.CallInProgress)

	doc, err := r.fetch(ctx, r.call.URL, nil)
	if err != nil && r.call.FallbackURL != "" {
		r.sim.addEvent(r.call, "call.fallback", map[string]any{"error": err.Error()})
		doc, err = r.fetch(ctx, r.call.FallbackURL, url.Values{"ErrorCode": {"11200"}})
	}
	for err == nil && doc != nil {
		doc, err = r.execute(ctx, doc)
	}

	switch {
	case err == nil, errors.Is(err, errCallerHungUp):
		r.sim.end(ctx, r.call, model.CallCompleted)
		return nil
	case ctx.Err() != nil:
		r.sim.end(context.Background(), r.call, model.CallCanceled)
		return err
	default:
		r.sim.addEvent(r.call, "call.application_error", map[string]any{"error": err.Error()})
		r.sim.end(ctx, r.call, model.CallCompleted)
		return err
	}
}

func (r *runner) take() (Input, bool) {
	if r.next >= len(r.script) {
		return Input{}, false
	}
	in := r.script[r.next]
	r.next++
	return in, true
}

// interrupted applies an operator update made while the call was running.
func (r *runner) interrupted(ctx context.Context) (*voice.Document, bool, error) {
	u, ok := r.sim.takeUpdate(r.call.SID)
	if !ok {
		return nil, false, nil
	}
	if u.hangup {
		r.sim.addEvent(r.call, "call.hangup_requested", map[string]any{})
		return nil, true, nil
	}
	if u.url == "" {
		return nil, false, nil
	}
	r.sim.addEvent(r.call, "call.redirected", map[string]any{"url": u.url})
	doc, err := r.fetch(ctx, u.url, nil)
	return doc, true, err
}

// execute runs doc and returns the next document to run, or nil when the
// call is over.
func (r *runner) execute(ctx context.Context, doc *voice.Document) (*voice.Document, error) {
	for _, node := range doc.Children {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if next, ok, err := r.interrupted(ctx); ok || err != nil {
			return next, err
		}

		switch n := node.(type) {
		case *voice.Say:
			r.sim.addEvent(r.call, "voice.say", map[string]any{"text": n.Text})
		case *voice.Play:
			r.sim.addEvent(r.call, "voice.play", map[string]any{"url": n.URL})
		case *voice.Pause:
			r.sim.addEvent(r.call, "voice.pause", map[string]any{"length": n.Length.Seconds()})
			r.sim.clock.Sleep(n.Length)
		case *voice.Gather:
			next, done, err := r.gather(ctx, n)
			if done || err != nil {
				return next, err
			}
		case *voice.Record:
			next, done, err := r.record(ctx, n)
			if done || err != nil {
				return next, err
			}
		case *voice.Redirect:
			r.sim.addEvent(r.call, "voice.redirect", map[string]any{"url": n.URL})
			return r.fetch(ctx, n.URL, nil)
		case *voice.Hangup:
			r.sim.addEvent(r.call, "voice.hangup", map[string]any{})
			return nil, nil
		default:
			return nil, fmt.Errorf("unsupported verb %T", node)
		}
	}
	// Running out of instructions ends the call.
	return nil, nil
}

// gather returns done=true when the call left this document.
func (r *runner) gather(ctx context.Context, g *voice.Gather) (*voice.Document, bool, error) {
	r.sim.addEvent(r.call, "voice.gather", map[string]any{
		"action":     g.Action,
		"num_digits": g.NumDigits,
		"timeout":    g.Timeout.Seconds(),
	})
	for _, child := range g.Children {
		if p, ok := child.(*voice.Play); ok {
			r.sim.addEvent(r.call, "voice.play", map[string]any{"url": p.URL})
		}
		if s, ok := child.(*voice.Say); ok {
			r.sim.addEvent(r.call, "voice.say", map[string]any{"text": s.Text})
		}
	}

	for {
		in, ok := r.take()
		if !ok || in.kind == inputHangup {
			r.sim.addEvent(r.call, "caller.hangup", map[string]any{})
			return nil, true, errCallerHungUp
		}
		switch in.kind {
		case inputOperator:
			in.fn()
			if next, ok, err := r.interrupted(ctx); ok || err != nil {
				return next, true, err
			}
			continue
		case inputDigits:
			r.sim.addEvent(r.call, "gather.digits", map[string]any{"digits": in.digits})
			doc, err := r.fetch(ctx, g.Action, url.Values{"Digits": {in.digits}})
			return doc, true, err
		default:
			r.sim.clock.Sleep(g.Timeout)
			r.sim.addEvent(r.call, "gather.timeout", map[string]any{})
			return nil, false, nil
		}
	}
}

func (r *runner) record(ctx context.Context, rec *voice.Record) (*voice.Document, bool, error) {
	r.sim.addEvent(r.call, "voice.record", map[string]any{
		"action":     rec.Action,
		"max_length": rec.MaxLength.Seconds(),
		"timeout":    rec.Timeout.Seconds(),
		"trim":       rec.Trim,
	})
	for {
		in, ok := r.take()
		if !ok || in.kind == inputHangup {
			r.sim.addEvent(r.call, "caller.hangup", map[string]any{})
			return nil, true, errCallerHungUp
		}
		switch in.kind {
		case inputOperator:
			in.fn()
			if next, ok, err := r.interrupted(ctx); ok || err != nil {
				return next, true, err
			}
			continue
		case inputAnswer:
			d := in.duration
			if rec.MaxLength > 0 && d > rec.MaxLength {
				d = rec.MaxLength
			}
			r.sim.clock.Sleep(d)
			sid := newSID("RE")
			form := url.Values{
				"RecordingUrl":      {"https://recordings.simulator.test/" + string(sid)},
				"RecordingSid":      {string(sid)},
				"RecordingDuration": {strconv.Itoa(int(d.Seconds()))},
			}
			if in.digits != "" {
				form.Set("Digits", in.digits)
			}
			r.sim.addEvent(r.call, "record.captured", map[string]any{"sid": string(sid), "duration": d.Seconds()})
			doc, err := r.fetch(ctx, rec.Action, form)
			return doc, true, err
		default:
			// Nothing was said: the provider skips the action and moves on.
			r.sim.clock.Sleep(rec.Timeout)
			r.sim.addEvent(r.call, "record.empty", map[string]any{})
			return nil, false, nil
		}
	}
}

func (r *runner) fetch(ctx context.Context, target string, extra url.Values) (*voice.Document, error) {
	r.sim.mu.Lock()
	r.call.Requests++
	n := r.call.Requests
	form := r.sim.callbackFormLocked(r.call)
	r.sim.mu.Unlock()
	if n > r.sim.maxRequests {
		return nil, ErrTooManyRequests
	}
	for k, v := range extra {
		form[k] = v
	}

	r.sim.addEvent(r.call, "webhook.request", map[string]any{"url": target, "form": form})
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	status, body, _, err := r.sim.webhook.POST(reqCtx, target, form)
	if err != nil {
		r.sim.addEvent(r.call, "webhook.error", map[string]any{"url": target, "error": err.Error()})
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	r.sim.addEvent(r.call, "webhook.response", map[string]any{"url": target, "status": status, "body": string(body)})
	if status != http.StatusOK {
		return nil, fmt.Errorf("webhook %s returned status %d", target, status)
	}

	doc, err := voice.Parse(body)
	if err != nil {
		r.sim.addEvent(r.call, "voice.parse_error", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("failed to parse instructions: %w", err)
	}
	return doc, nil
}
