// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package flow

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	ilog "github.com/sprucehealth/audiointerview/log"
	"github.com/sprucehealth/audiointerview/metrics"
	"github.com/sprucehealth/audiointerview/model"
	"github.com/sprucehealth/audiointerview/notify"
	"github.com/sprucehealth/audiointerview/store"
)

// StatusEvent is one out-of-band call status report from the provider.
type StatusEvent struct {
	StepProgressionID string
	CallSID           model.SID
	Status            model.CallStatus
	Recording         Recording // call-level recording, not an answer
	SIPResponseCode   string
	To                string
}

// StatusOutcome says what a status event did.
type StatusOutcome string

const (
	OutcomeProgress        StatusOutcome = "progress"
	OutcomeEnded           StatusOutcome = "ended"
	OutcomeDuplicate       StatusOutcome = "duplicate"
	OutcomeSkipped         StatusOutcome = "skipped"
	OutcomeAbsorbed        StatusOutcome = "absorbed"
	OutcomeFailedToConnect StatusOutcome = "failed_to_connect"
	OutcomeCallFailed      StatusOutcome = "call_failed"
	OutcomeDisconnected    StatusOutcome = "disconnected"
)

// StatusHandler consumes status callbacks. It may run before, during or after
// the main flow and tolerates redelivery in any order.
type StatusHandler struct {
	store    Store
	notifier notify.Notifier
	logger   zerolog.Logger
}

// StatusHandler returns a handler sharing the controller's collaborators.
func (c *Controller) StatusHandler() *StatusHandler {
	return &StatusHandler{store: c.store, notifier: c.notifier, logger: ilog.WithComponent("status")}
}

func (h *StatusHandler) Handle(ctx context.Context, ev StatusEvent) (StatusOutcome, error) {
	if ev.Status == "" {
		return "", fmt.Errorf("%w: missing call status", ErrInvalidRequest)
	}
	var (
		prog *model.StepProgression
		err  error
	)
	switch {
	case ev.StepProgressionID != "":
		prog, err = h.store.GetProgression(ctx, ev.StepProgressionID)
	case ev.CallSID != "":
		prog, err = h.store.GetProgressionByCallSID(ctx, ev.CallSID)
	default:
		err = fmt.Errorf("%w: no step progression or call sid", ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	id := prog.ID
	logger := ilog.WithContext(ctx, h.logger).With().
		Str(ilog.FieldStepProgressionID, id).
		Str(ilog.FieldCallSID, ev.CallSID.String()).
		Str(ilog.FieldCallStatus, string(ev.Status)).
		Logger()

	if _, err := h.store.EnsureInterview(ctx, id); err != nil {
		return "", err
	}
	if err := h.store.RecordCallStatus(ctx, id, ev.Status, store.CallRecording{
		URL:      ev.Recording.URL,
		SID:      ev.Recording.SID,
		Duration: ev.Recording.Duration,
	}); err != nil {
		return "", err
	}

	outcome, err := h.classify(ctx, prog, ev, &logger)
	if err != nil {
		return "", err
	}
	metrics.IncStatusEvent(string(outcome))
	logger.Debug().Str("outcome", string(outcome)).Msg("status event handled")
	return outcome, nil
}

func (h *StatusHandler) classify(ctx context.Context, prog *model.StepProgression, ev StatusEvent, logger *zerolog.Logger) (StatusOutcome, error) {
	id := prog.ID
	if !ev.Status.IsTerminal() {
		return OutcomeProgress, nil
	}

	var (
		effect  store.StatusEffect
		outcome StatusOutcome
	)
	switch {
	case prog.IsComplete() && ev.Status == model.CallCompleted:
		effect, outcome = store.EffectEnded, OutcomeEnded
	case prog.IsComplete():
		effect, outcome = store.EffectNone, OutcomeAbsorbed
	case ev.Status.NeverConnected():
		effect, outcome = store.EffectFailedToConnect, OutcomeFailedToConnect
	case ev.Status == model.CallFailed:
		effect, outcome = store.EffectCallFailed, OutcomeCallFailed
	default:
		effect, outcome = store.EffectDisconnect, OutcomeDisconnected
	}

	applied, err := h.store.ApplyStatusEvent(ctx, id, ev.CallSID, ev.Status, effect)
	if err != nil {
		return "", err
	}
	switch {
	case applied.Duplicate:
		return OutcomeDuplicate, nil
	case outcome == OutcomeAbsorbed:
		logger.Info().Msg("terminal status after completion absorbed")
		return OutcomeAbsorbed, nil
	case outcome == OutcomeEnded:
		if !applied.Changed {
			return OutcomeDuplicate, nil
		}
		h.notifier.Notify(ctx, notify.Channel(id), "ended", map[string]any{"call_sid": ev.CallSID.String()})
		return OutcomeEnded, nil
	case applied.Skipped:
		logger.Info().Msg("expected disconnect absorbed")
		return OutcomeSkipped, nil
	}
	if outcome != OutcomeDisconnected {
		metrics.IncCall("failed")
	}

	interview, err := h.store.EnsureInterview(ctx, id)
	if err != nil {
		return "", err
	}
	h.notifier.Notify(ctx, notify.Channel(id), "disconnected", map[string]any{
		"call_sid":                ev.CallSID.String(),
		"call_status":             string(ev.Status),
		"sip_response_code":       ev.SIPResponseCode,
		"phone_number":            ev.To,
		"disconnect_count":        interview.DebugDisconnectCount,
		"failed_to_connect_count": interview.DebugFailedToConnectCount,
	})
	logger.Info().Str("outcome", string(outcome)).Int("disconnect_count", interview.DebugDisconnectCount).Msg("call ended before completion")
	return outcome, nil
}
