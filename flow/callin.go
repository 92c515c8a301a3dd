// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package flow

import (
	"context"
	"errors"
	"time"

	ilog "github.com/sprucehealth/audiointerview/log"
	"github.com/sprucehealth/audiointerview/model"
	"github.com/sprucehealth/audiointerview/notify"
	"github.com/sprucehealth/audiointerview/pin"
	"github.com/sprucehealth/audiointerview/voice"
)

const pinGatherTimeout = 10 * time.Second

// IncomingCall answers a candidate calling the service number directly by
// asking for their PIN.
func (c *Controller) IncomingCall(ctx context.Context) *voice.Document {
	return c.gatherPIN(c.resolver.Fallback(), 1, false)
}

func (c *Controller) gatherPIN(cfg Configuration, attempt int, retry bool) *voice.Document {
	prompt := cfg.Audio.EnterPIN
	if retry {
		prompt = cfg.Audio.InvalidPIN
	}
	return voice.NewBuilder().
		Gather(voice.Gather{
			Timeout:     pinGatherTimeout,
			FinishOnKey: "#",
			Action:      c.routes.VerifyPIN(attempt),
			Children:    []voice.Node{&voice.Play{URL: prompt}},
		}).
		Play(cfg.Audio.NoActivityEndCall).
		Hangup().
		Document()
}

// VerifyPIN resolves the digits a caller entered. A match hands the call to
// the verification stage of that attempt; a miss re-prompts until the
// attempts run out.
func (c *Controller) VerifyPIN(ctx context.Context, callSID model.SID, digits string, attempt int) (*voice.Document, error) {
	if c.pins == nil {
		return nil, errors.New("call-in is not configured")
	}
	cfg := c.resolver.Fallback()
	logger := c.log(ctx).With().Str(ilog.FieldCallSID, callSID.String()).Int("attempt", attempt).Logger()

	id, err := c.pins.Resolve(ctx, digits)
	if errors.Is(err, pin.ErrNotFound) {
		logger.Info().Msg("unknown pin entered")
		if attempt >= c.pinAttempts {
			return voice.NewBuilder().Play(cfg.Audio.InvalidPIN).Play(cfg.Audio.NoActivityEndCall).Hangup().Document(), nil
		}
		return c.gatherPIN(cfg, attempt+1, true), nil
	}
	if err != nil {
		return nil, err
	}

	prog, err := c.store.GetProgression(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.pins.Invalidate(ctx, digits); err != nil {
		logger.Warn().Err(err).Msg("could not invalidate pin")
	}
	c.notifier.Notify(ctx, notify.Channel(prog.ID), "user_called_in", map[string]any{"call_sid": callSID.String()})
	logger.Info().Str(ilog.FieldStepProgressionID, prog.ID).Msg("caller identified by pin")

	resume := prog.StartedAt != nil
	return voice.NewBuilder().Redirect(c.routes.Verify(prog.ID, resume, "inbound")).Document(), nil
}
