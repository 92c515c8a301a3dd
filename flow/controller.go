// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sprucehealth/audiointerview/clock"
	ilog "github.com/sprucehealth/audiointerview/log"
	"github.com/sprucehealth/audiointerview/metrics"
	"github.com/sprucehealth/audiointerview/model"
	"github.com/sprucehealth/audiointerview/notify"
	"github.com/sprucehealth/audiointerview/pin"
	"github.com/sprucehealth/audiointerview/store"
	"github.com/sprucehealth/audiointerview/telephony"
	"github.com/sprucehealth/audiointerview/voice"
)

// Store is the persistence surface used by the call flow. Every method is a
// single narrow update so concurrent callbacks cannot overwrite each other.
type Store interface {
	GetStep(ctx context.Context, id string) (*model.Step, error)
	ListPrompts(ctx context.Context, stepID string) ([]model.AudioPrompt, error)

	GetProgression(ctx context.Context, id string) (*model.StepProgression, error)
	GetProgressionByCallSID(ctx context.Context, sid model.SID) (*model.StepProgression, error)
	AssignCall(ctx context.Context, id string, sid model.SID) error
	MarkStarted(ctx context.Context, id string, at time.Time) error
	MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error)

	EnsureInterview(ctx context.Context, progressionID string) (*model.AudioInterview, error)
	MarkVerified(ctx context.Context, progressionID, connectionType string) error
	MarkPracticeStarted(ctx context.Context, progressionID string) error
	SetPracticeRecording(ctx context.Context, progressionID, url string) error
	MarkPracticed(ctx context.Context, progressionID string) error
	SetIdle(ctx context.Context, progressionID string, idle bool) error
	AdvancePrompt(ctx context.Context, progressionID, from, to string) error
	SetSkipDisconnect(ctx context.Context, progressionID string) error
	ConsumeSkipDisconnect(ctx context.Context, progressionID string) (bool, error)
	RecordCallStatus(ctx context.Context, progressionID string, status model.CallStatus, rec store.CallRecording) error
	ApplyStatusEvent(ctx context.Context, progressionID string, callSID model.SID, status model.CallStatus, effect store.StatusEffect) (store.StatusApplied, error)

	ReplaceRecording(ctx context.Context, rec model.AudioRecording) (bool, error)
	RecordingStats(ctx context.Context, progressionID string) (map[string]model.RecordingStats, error)
}

// Completer is invoked exactly once per attempt when it reaches Completed.
type Completer interface {
	OnInterviewComplete(ctx context.Context, progression model.StepProgression) error
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, progression model.StepProgression) error

func (f CompleterFunc) OnInterviewComplete(ctx context.Context, p model.StepProgression) error {
	return f(ctx, p)
}

// Controller runs provider callbacks through the Machine and applies the
// results. It holds no per-call state.
type Controller struct {
	store     Store
	machine   *Machine
	routes    Routes
	resolver  ConfigResolver
	clock     clock.Clock
	notifier  notify.Notifier
	completer Completer
	provider  telephony.Provider
	pins      pin.Registry
	logger    zerolog.Logger

	fromNumber  string
	recordCalls bool
	pinAttempts int
}

type Option func(*Controller)

func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

func WithNotifier(n notify.Notifier) Option {
	return func(ctl *Controller) { ctl.notifier = n }
}

func WithCompleter(c Completer) Option {
	return func(ctl *Controller) { ctl.completer = c }
}

// WithProvider enables Connect and UpdateCall. fromNumber is the caller id
// used for outbound calls.
func WithProvider(p telephony.Provider, fromNumber string, recordCalls bool) Option {
	return func(ctl *Controller) {
		ctl.provider = p
		ctl.fromNumber = fromNumber
		ctl.recordCalls = recordCalls
	}
}

// WithPINRegistry enables call-in identification. attempts bounds how many
// PIN entries a caller gets.
func WithPINRegistry(r pin.Registry, attempts int) Option {
	return func(ctl *Controller) {
		ctl.pins = r
		ctl.pinAttempts = attempts
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

func NewController(st Store, routes Routes, resolver ConfigResolver, opts ...Option) *Controller {
	c := &Controller{
		store:       st,
		machine:     NewMachine(routes),
		routes:      routes,
		resolver:    resolver,
		clock:       clock.NewAutoClock(),
		notifier:    notify.Nop{},
		completer:   CompleterFunc(func(context.Context, model.StepProgression) error { return nil }),
		logger:      ilog.WithComponent("flow"),
		pinAttempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Routes() Routes { return c.routes }

func (c *Controller) log(ctx context.Context) *zerolog.Logger {
	l := ilog.WithContext(ctx, c.logger)
	return &l
}

// Handle answers one flow callback. Errors wrapping ErrNotFound or
// ErrInvalidRequest mean the request could not be tied to an attempt and
// nothing was changed.
func (c *Controller) Handle(ctx context.Context, ev Event) (*voice.Document, error) {
	if ev.At.IsZero() {
		ev.At = c.clock.Now()
	}
	logger := c.log(ctx).With().
		Str(ilog.FieldEvent, string(ev.Kind)).
		Str(ilog.FieldStepProgressionID, ev.StepProgressionID).
		Str(ilog.FieldCallSID, ev.CallSID.String()).
		Logger()

	var (
		snap *Snapshot
		res  Result
	)
	for attempt := 0; ; attempt++ {
		var err error
		snap, err = c.load(ctx, ev.StepProgressionID, ev.CallSID)
		if err != nil {
			metrics.IncCallback(string(ev.Kind), "rejected")
			return nil, err
		}
		cfg, err := c.resolver.Resolve(ctx, snap.Step)
		if err != nil {
			metrics.IncCallback(string(ev.Kind), "error")
			return nil, fmt.Errorf("resolve configuration for step %s: %w", snap.Step.ID, err)
		}
		res, err = c.machine.Handle(snap, ev, cfg)
		if err != nil {
			metrics.IncCallback(string(ev.Kind), "rejected")
			return nil, err
		}
		err = c.apply(ctx, snap, res.Mutations)
		if errors.Is(err, store.ErrConflict) && attempt == 0 {
			logger.Info().Err(err).Msg("state changed concurrently, recomputing")
			continue
		}
		if err != nil {
			metrics.IncCallback(string(ev.Kind), "error")
			return nil, err
		}
		break
	}

	logger.Debug().
		Str("phase", snap.Phase().String()).
		Int("mutations", len(res.Mutations)).
		Msg("callback handled")
	metrics.IncCallback(string(ev.Kind), "ok")
	c.publish(ctx, snap.Progression.ID, ev.CallSID, res.Notifications)
	return res.Document, nil
}

// ErrorDocument is returned to the provider when a callback fails for a
// reason other than a bad request.
func (c *Controller) ErrorDocument() *voice.Document {
	return ErrorResult(c.resolver.Fallback()).Document
}

func (c *Controller) load(ctx context.Context, id string, sid model.SID) (*Snapshot, error) {
	var (
		prog *model.StepProgression
		err  error
	)
	switch {
	case id != "":
		prog, err = c.store.GetProgression(ctx, id)
	case sid != "":
		prog, err = c.store.GetProgressionByCallSID(ctx, sid)
	default:
		return nil, fmt.Errorf("%w: no step progression or call sid", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	step, err := c.store.GetStep(ctx, prog.StepID)
	if err != nil {
		return nil, err
	}
	prompts, err := c.store.ListPrompts(ctx, step.ID)
	if err != nil {
		return nil, err
	}
	interview, err := c.store.EnsureInterview(ctx, prog.ID)
	if err != nil {
		return nil, err
	}
	stats, err := c.store.RecordingStats(ctx, prog.ID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Step:        *step,
		Progression: *prog,
		Interview:   *interview,
		Prompts:     SortPrompts(prompts),
		Recordings:  stats,
	}, nil
}

func (c *Controller) apply(ctx context.Context, snap *Snapshot, muts []Mutation) error {
	id := snap.Progression.ID
	for _, m := range muts {
		var err error
		switch m := m.(type) {
		case AssignCall:
			err = c.store.AssignCall(ctx, id, m.CallSID)
		case MarkVerified:
			err = c.store.MarkVerified(ctx, id, m.ConnectionType)
		case MarkStarted:
			err = c.store.MarkStarted(ctx, id, m.At)
		case MarkPracticeStarted:
			err = c.store.MarkPracticeStarted(ctx, id)
		case SetPracticeRecording:
			err = c.store.SetPracticeRecording(ctx, id, m.URL)
		case MarkPracticed:
			err = c.store.MarkPracticed(ctx, id)
		case AdvancePrompt:
			err = c.store.AdvancePrompt(ctx, id, m.From, m.To)
		case SaveRecording:
			_, err = c.store.ReplaceRecording(ctx, model.AudioRecording{
				StepProgressionID: id,
				PromptID:          m.PromptID,
				URL:               m.URL,
				SID:               m.SID,
				Duration:          m.Duration,
				CreatedAt:         m.At,
			})
		case SetIdle:
			err = c.store.SetIdle(ctx, id, m.Idle)
		case Complete:
			err = c.complete(ctx, snap.Progression, m.At)
		default:
			err = fmt.Errorf("unknown mutation %T", m)
		}
		if err != nil {
			return fmt.Errorf("apply %T to %s: %w", m, id, err)
		}
	}
	return nil
}

// complete sets completedAt and, only for the caller that set it, runs the
// completion side effect.
func (c *Controller) complete(ctx context.Context, prog model.StepProgression, at time.Time) error {
	logger := c.log(ctx).With().Str(ilog.FieldStepProgressionID, prog.ID).Logger()

	applied, err := c.store.MarkCompleted(ctx, prog.ID, at)
	if err != nil {
		return err
	}
	if !applied {
		metrics.IncDuplicateCompletion()
		logger.Info().Msg("step progression already completed")
		return nil
	}
	metrics.IncCompletion()
	prog.CompletedAt = &at
	if err := c.completer.OnInterviewComplete(ctx, prog); err != nil {
		logger.Error().Err(err).Msg("completion side effect failed")
	}
	c.notifier.Notify(ctx, notify.Channel(prog.ID), "completed", map[string]any{
		"completed_at": at.UTC().Format(time.RFC3339),
	})
	logger.Info().Time("completed_at", at).Msg("audio interview completed")
	return nil
}

func (c *Controller) publish(ctx context.Context, progressionID string, sid model.SID, notes []Notification) {
	for _, n := range notes {
		payload := make(map[string]any, len(n.Payload)+1)
		for k, v := range n.Payload {
			payload[k] = v
		}
		if _, ok := payload["call_sid"]; !ok && sid != "" {
			payload["call_sid"] = sid.String()
		}
		c.notifier.Notify(ctx, notify.Channel(progressionID), n.Event, payload)
	}
}
