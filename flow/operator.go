// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package flow

import (
	"context"
	"errors"
	"fmt"

	ilog "github.com/sprucehealth/audiointerview/log"
	"github.com/sprucehealth/audiointerview/metrics"
	"github.com/sprucehealth/audiointerview/model"
	"github.com/sprucehealth/audiointerview/notify"
	"github.com/sprucehealth/audiointerview/telephony"
)

var errNoProvider = errors.New("telephony provider not configured")

// ConnectRequest asks for an outbound call to the candidate.
type ConnectRequest struct {
	StepProgressionID string
	Phone             string
	Reconnect         bool
}

// ConnectResult is returned to the candidate's browser. Completed is set
// instead of placing a call when the step is already done.
type ConnectResult struct {
	Completed   bool                   `json:"completed"`
	CallSID     model.SID              `json:"call_sid,omitempty"`
	Progression *model.StepProgression `json:"step_progression,omitempty"`
}

// Connect places a call to the candidate. When reconnecting, the previous
// call is ended and its disconnect is absorbed once.
func (c *Controller) Connect(ctx context.Context, req ConnectRequest) (ConnectResult, error) {
	if c.provider == nil {
		return ConnectResult{}, errNoProvider
	}
	if req.Phone == "" {
		return ConnectResult{}, fmt.Errorf("%w: phone is required", ErrInvalidRequest)
	}
	logger := c.log(ctx).With().Str(ilog.FieldStepProgressionID, req.StepProgressionID).Logger()

	prog, err := c.store.GetProgression(ctx, req.StepProgressionID)
	if err != nil {
		return ConnectResult{}, err
	}
	if prog.IsComplete() {
		return ConnectResult{Completed: true}, nil
	}
	prompts, err := c.store.ListPrompts(ctx, prog.StepID)
	if err != nil {
		return ConnectResult{}, err
	}
	if len(prompts) == 0 {
		return ConnectResult{}, ErrNoPrompts
	}
	if _, err := c.store.EnsureInterview(ctx, prog.ID); err != nil {
		return ConnectResult{}, err
	}

	if req.Reconnect && prog.CallSID != "" {
		c.endPreviousCall(ctx, prog)
	}

	id := prog.ID
	sid, err := c.provider.PlaceCall(ctx, telephony.CallRequest{
		From:           c.fromNumber,
		To:             req.Phone,
		URL:            c.routes.Verify(id, req.Reconnect, "phone"),
		StatusCallback: c.routes.Status(id),
		FallbackURL:    c.routes.Error(id),
		Record:         c.recordCalls,
	})
	if err != nil {
		metrics.IncCall("failed")
		logger.Warn().Err(err).Str("kind", string(telephony.KindOf(err))).Msg("call placement failed")
		return ConnectResult{}, err
	}
	if err := c.store.AssignCall(ctx, id, sid); err != nil {
		return ConnectResult{}, err
	}
	if err := c.store.MarkStarted(ctx, id, c.clock.Now()); err != nil {
		return ConnectResult{}, err
	}
	metrics.IncCall("queued")
	c.notifier.Notify(ctx, notify.Channel(id), "update_call_sid", map[string]any{"call_sid": sid.String()})
	logger.Info().Str(ilog.FieldCallSID, sid.String()).Bool("reconnect", req.Reconnect).Msg("call queued")

	prog, err = c.store.GetProgression(ctx, id)
	if err != nil {
		return ConnectResult{}, err
	}
	return ConnectResult{CallSID: sid, Progression: prog}, nil
}

func (c *Controller) endPreviousCall(ctx context.Context, prog *model.StepProgression) {
	logger := c.log(ctx).With().
		Str(ilog.FieldStepProgressionID, prog.ID).
		Str(ilog.FieldCallSID, prog.CallSID.String()).
		Logger()
	if err := c.store.SetSkipDisconnect(ctx, prog.ID); err != nil {
		logger.Warn().Err(err).Msg("could not set skip disconnect")
		return
	}
	if err := c.provider.RedirectCall(ctx, prog.CallSID, c.routes.EndCall(prog.ID)); err != nil {
		// The old call is already gone, so no disconnect is coming to absorb.
		if _, cerr := c.store.ConsumeSkipDisconnect(ctx, prog.ID); cerr != nil {
			logger.Warn().Err(cerr).Msg("could not clear skip disconnect")
		}
		logger.Info().Err(err).Msg("previous call could not be ended")
	}
}

// CallAction is an operator instruction sent from the candidate's browser.
type CallAction string

const (
	CallActionPracticeRecording     CallAction = "practice_recording"
	CallActionRecording             CallAction = "recording"
	CallActionStartCall             CallAction = "start_call"
	CallActionPracticePlayback      CallAction = "practice_playback"
	CallActionAdvance               CallAction = "advance"
	CallActionEndCall               CallAction = "end_call"
	CallActionEndCallSkipDisconnect CallAction = "end_call_skip_disconnect"
	CallActionReplayPrompt          CallAction = "replay_prompt"
)

// UpdateResult reports where the live call was sent.
type UpdateResult struct {
	RedirectURL string `json:"redirect_url"`
}

// UpdateCall redirects the candidate's live call according to action.
func (c *Controller) UpdateCall(ctx context.Context, progressionID string, callSID model.SID, action CallAction) (UpdateResult, error) {
	if c.provider == nil {
		return UpdateResult{}, errNoProvider
	}
	prog, err := c.store.GetProgression(ctx, progressionID)
	if err != nil {
		return UpdateResult{}, err
	}
	if prog.IsComplete() {
		return UpdateResult{}, ErrAlreadyCompleted
	}
	if callSID == "" {
		return UpdateResult{}, fmt.Errorf("%w: call_sid is required", ErrInvalidRequest)
	}
	if prog.CallSID != callSID {
		return UpdateResult{}, ErrCallMismatch
	}

	url, err := c.redirectFor(ctx, prog, action)
	if err != nil {
		return UpdateResult{}, err
	}
	if err := c.provider.RedirectCall(ctx, callSID, url); err != nil {
		c.log(ctx).Warn().Err(err).
			Str(ilog.FieldStepProgressionID, prog.ID).
			Str(ilog.FieldAction, string(action)).
			Msg("redirect failed")
		return UpdateResult{}, err
	}
	metrics.IncRedirect(string(action))
	c.log(ctx).Info().
		Str(ilog.FieldStepProgressionID, prog.ID).
		Str(ilog.FieldCallSID, callSID.String()).
		Str(ilog.FieldAction, string(action)).
		Str("redirect_url", url).
		Msg("call redirected")
	return UpdateResult{RedirectURL: url}, nil
}

func (c *Controller) redirectFor(ctx context.Context, prog *model.StepProgression, action CallAction) (string, error) {
	id := prog.ID
	switch action {
	case CallActionPracticeRecording:
		return c.routes.PracticeRecord(id), nil
	case CallActionStartCall, CallActionAdvance:
		return c.routes.Advance(id), nil
	case CallActionPracticePlayback:
		return c.routes.PracticeWait(id), nil
	case CallActionEndCall:
		return c.routes.EndCall(id), nil
	case CallActionEndCallSkipDisconnect:
		if _, err := c.store.EnsureInterview(ctx, id); err != nil {
			return "", err
		}
		if err := c.store.SetSkipDisconnect(ctx, id); err != nil {
			return "", err
		}
		return c.routes.EndCall(id), nil
	case CallActionRecording, CallActionReplayPrompt:
		interview, err := c.store.EnsureInterview(ctx, id)
		if err != nil {
			return "", err
		}
		current := interview.CurrentPromptID
		if current == "" {
			return "", fmt.Errorf("%w: no prompt has been played", ErrInvalidRequest)
		}
		if action == CallActionRecording {
			return c.routes.Record(id, current), nil
		}
		step, err := c.store.GetStep(ctx, prog.StepID)
		if err != nil {
			return "", err
		}
		stats, err := c.store.RecordingStats(ctx, id)
		if err != nil {
			return "", err
		}
		if CanRedo(step.RedoLimit, stats[current].Captured) {
			return c.routes.PlayPrompt(id, current), nil
		}
		return c.routes.Advance(id), nil
	default:
		return "", fmt.Errorf("%w: unknown call action %q", ErrInvalidRequest, action)
	}
}

// InitialData is what the browser loads before offering to connect.
type InitialData struct {
	Progression model.StepProgression `json:"step_progression"`
	Interview   model.AudioInterview  `json:"audio_interview"`
	PIN         string                `json:"pin,omitempty"`
	Locale      string                `json:"locale,omitempty"`
	PromptCount int                   `json:"prompt_count"`
}

// InitialData returns the attempt's state and issues a fresh call-in PIN.
func (c *Controller) InitialData(ctx context.Context, progressionID string) (InitialData, error) {
	prog, err := c.store.GetProgression(ctx, progressionID)
	if err != nil {
		return InitialData{}, err
	}
	step, err := c.store.GetStep(ctx, prog.StepID)
	if err != nil {
		return InitialData{}, err
	}
	prompts, err := c.store.ListPrompts(ctx, step.ID)
	if err != nil {
		return InitialData{}, err
	}
	interview, err := c.store.EnsureInterview(ctx, prog.ID)
	if err != nil {
		return InitialData{}, err
	}
	data := InitialData{
		Progression: *prog,
		Interview:   *interview,
		Locale:      step.Locale(),
		PromptCount: len(prompts),
	}
	if c.pins != nil && !prog.IsComplete() {
		p, err := c.pins.Generate(ctx, prog.ID)
		if err != nil {
			return InitialData{}, fmt.Errorf("generate pin: %w", err)
		}
		data.PIN = p
	}
	return data, nil
}
