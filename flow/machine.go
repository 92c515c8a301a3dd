// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package flow

import (
	"fmt"
	"time"

	"github.com/sprucehealth/audiointerview/model"
	"github.com/sprucehealth/audiointerview/voice"
)

// EventKind identifies which callback the provider made.
type EventKind string

const (
	EventVerify                   EventKind = "verify"
	EventStart                    EventKind = "start"
	EventGatherInitial            EventKind = "gather_initial"
	EventPracticePrompt           EventKind = "practice_prompt"
	EventContinueToPracticeRecord EventKind = "continue_to_practice_record"
	EventPracticeRecord           EventKind = "practice_record"
	EventPracticeRecordDone       EventKind = "practice_record_done"
	EventPracticeWait             EventKind = "practice_wait"
	EventPracticePlayback         EventKind = "practice_playback"
	EventAdvance                  EventKind = "advance"
	EventPlayPrompt               EventKind = "play_prompt"
	EventContinueToRecord         EventKind = "continue_to_record"
	EventContinueToRecordDone     EventKind = "continue_to_record_done"
	EventRecord                   EventKind = "record"
	EventRecordingDone            EventKind = "recording_done"
	EventOutro                    EventKind = "outro"
	EventEndCall                  EventKind = "end_call"
	EventError                    EventKind = "error"
)

// needsPrompt lists the events addressed to a specific prompt.
var needsPrompt = map[EventKind]bool{
	EventPlayPrompt:           true,
	EventContinueToRecord:     true,
	EventContinueToRecordDone: true,
	EventRecord:               true,
	EventRecordingDone:        true,
}

// Recording is the answer metadata posted by a finished record verb.
type Recording struct {
	URL      string
	SID      string
	Duration int
}

// Event is one inbound flow callback.
type Event struct {
	Kind              EventKind
	StepProgressionID string
	CallSID           model.SID
	PromptID          string
	Digits            string
	Recording         Recording
	Reconnect         bool
	ConnectionType    string
	At                time.Time
}

// Snapshot is the persisted state a callback is evaluated against.
type Snapshot struct {
	Step        model.Step
	Progression model.StepProgression
	Interview   model.AudioInterview
	Prompts     []model.AudioPrompt // sorted
	Recordings  map[string]model.RecordingStats
}

func (s *Snapshot) Phase() model.Phase {
	return model.PhaseOf(&s.Progression, &s.Interview)
}

func (s *Snapshot) prompt(id string) (model.AudioPrompt, bool) {
	for _, p := range s.Prompts {
		if p.ID == id {
			return p, true
		}
	}
	return model.AudioPrompt{}, false
}

func (s *Snapshot) hasRecording(promptID string) bool {
	return s.Recordings[promptID].Live
}

// Notification is a lifecycle event for the observer channel of the attempt.
type Notification struct {
	Event   string
	Payload map[string]any
}

// Result is everything a callback produces. Mutations are applied in order
// before the document is returned to the provider.
type Result struct {
	Document      *voice.Document
	Mutations     []Mutation
	Notifications []Notification
}

const (
	gatherTimeout         = 10 * time.Second
	practiceGatherTimeout = 5 * time.Second
	practicePause         = 2 * time.Second
	answerMaxLength       = 600 * time.Second
	answerSilenceTimeout  = 10 * time.Second
	practiceMaxLength     = 30 * time.Second
	practiceTimeout       = 30 * time.Second

	noAudioText = "No audio prompt provided."
)

// Machine computes the response to a callback. It has no side effects; the
// Controller applies what it returns.
type Machine struct {
	routes Routes
}

func NewMachine(routes Routes) *Machine {
	return &Machine{routes: routes}
}

// Handle evaluates ev against snap.
func (m *Machine) Handle(snap *Snapshot, ev Event, cfg Configuration) (Result, error) {
	var prompt model.AudioPrompt
	if needsPrompt[ev.Kind] {
		if ev.PromptID == "" {
			return Result{}, fmt.Errorf("%w: %s requires a prompt", ErrInvalidRequest, ev.Kind)
		}
		p, ok := snap.prompt(ev.PromptID)
		if !ok {
			return Result{}, fmt.Errorf("%w: prompt %s does not belong to step %s", ErrInvalidRequest, ev.PromptID, snap.Step.ID)
		}
		prompt = p
	}

	if snap.Progression.IsComplete() {
		switch ev.Kind {
		case EventOutro, EventEndCall, EventError:
		case EventAdvance:
			return Result{Document: voice.NewBuilder().Redirect(m.routes.Outro(snap.Progression.ID)).Document()}, nil
		default:
			return Result{Document: voice.NewBuilder().Hangup().Document()}, nil
		}
	}

	switch ev.Kind {
	case EventVerify:
		return m.verify(snap, ev, cfg), nil
	case EventStart:
		return m.start(snap, ev, cfg), nil
	case EventGatherInitial:
		return m.gatherInitial(snap, cfg), nil
	case EventPracticePrompt:
		return m.practicePrompt(snap, cfg), nil
	case EventContinueToPracticeRecord:
		return m.continueToPracticeRecord(snap, cfg), nil
	case EventPracticeRecord:
		return m.practiceRecord(snap, cfg), nil
	case EventPracticeRecordDone:
		return m.practiceRecordDone(snap, ev), nil
	case EventPracticeWait:
		return Result{Document: voice.NewBuilder().
			Pause(practicePause).
			Redirect(m.routes.PracticePlayback(snap.Progression.ID)).
			Document()}, nil
	case EventPracticePlayback:
		return m.practicePlayback(snap, cfg), nil
	case EventAdvance:
		return m.advance(snap, ev, cfg)
	case EventPlayPrompt:
		return m.playPrompt(snap, prompt, cfg), nil
	case EventContinueToRecord:
		return m.continueToRecord(snap, prompt, cfg), nil
	case EventContinueToRecordDone:
		return m.continueToRecordDone(snap, prompt, ev, cfg), nil
	case EventRecord:
		return m.record(snap, prompt, cfg), nil
	case EventRecordingDone:
		return m.recordingDone(snap, prompt, ev, cfg), nil
	case EventOutro:
		return m.outro(cfg), nil
	case EventEndCall:
		return Result{Document: voice.NewBuilder().Hangup().Document()}, nil
	case EventError:
		return ErrorResult(cfg), nil
	default:
		return Result{}, fmt.Errorf("%w: unknown event %q", ErrInvalidRequest, ev.Kind)
	}
}

// ErrorResult is the document played when the service cannot continue the call.
func ErrorResult(cfg Configuration) Result {
	return Result{Document: voice.NewBuilder().Play(cfg.Audio.Error).Hangup().Document()}
}

func (m *Machine) retry(action, prompt string, cfg Configuration) voice.RetryGather {
	return voice.RetryGather{
		Action:    action,
		NumDigits: 1,
		Timeout:   gatherTimeout,
		Prompt:    prompt,
		Retry:     cfg.Audio.NoActivity,
		Goodbye:   cfg.Audio.NoActivityEndCall,
	}
}

func (m *Machine) verify(snap *Snapshot, ev Event, cfg Configuration) Result {
	id := snap.Progression.ID
	rg := m.retry(m.routes.Start(id, ev.Reconnect, ev.ConnectionType), cfg.Audio.Verify, cfg)
	rg.Retry = cfg.Audio.Verify
	return Result{
		Document: voice.NewBuilder().GatherWithRetry(rg).Document(),
		Notifications: []Notification{{
			Event:   "verifying",
			Payload: map[string]any{"reconnect": ev.Reconnect},
		}},
	}
}

func (m *Machine) start(snap *Snapshot, ev Event, cfg Configuration) Result {
	id := snap.Progression.ID
	res := Result{Mutations: []Mutation{}}
	if ev.CallSID != "" {
		res.Mutations = append(res.Mutations, AssignCall{CallSID: ev.CallSID})
	}
	res.Mutations = append(res.Mutations,
		MarkVerified{ConnectionType: ev.ConnectionType},
		MarkStarted{At: ev.At},
		SetIdle{Idle: false},
	)

	phase := snap.Phase()
	if ev.Reconnect && phase.HasPlayedPrompt() {
		res.Document = voice.NewBuilder().
			GatherWithRetry(m.retry(m.routes.PlayPrompt(id, phase.PromptID), cfg.Audio.Reconnect, cfg)).
			Document()
		res.Notifications = []Notification{{
			Event:   "reconnected",
			Payload: map[string]any{"prompt_id": phase.PromptID},
		}}
		return res
	}

	res.Document = voice.NewBuilder().Redirect(m.routes.GatherInitial(id)).Document()
	res.Notifications = []Notification{{
		Event:   "connected",
		Payload: map[string]any{"reconnect": ev.Reconnect, "call_sid": ev.CallSID.String()},
	}}
	return res
}

func (m *Machine) gatherInitial(snap *Snapshot, cfg Configuration) Result {
	return Result{
		Document: voice.NewBuilder().
			GatherWithRetry(m.retry(m.routes.Advance(snap.Progression.ID), cfg.IntroURL, cfg)).
			Document(),
		Notifications: []Notification{{Event: "awaiting_initial", Payload: map[string]any{}}},
	}
}

func (m *Machine) practicePrompt(snap *Snapshot, cfg Configuration) Result {
	id := snap.Progression.ID
	next := m.routes.PracticeRecord(id)
	if cfg.SelfRecord {
		next = m.routes.ContinueToPracticeRecord(id)
	}
	return Result{
		Document:      voice.NewBuilder().Play(cfg.Audio.PracticePrompt).Redirect(next).Document(),
		Mutations:     []Mutation{MarkPracticeStarted{}},
		Notifications: []Notification{{Event: "practicing", Payload: map[string]any{}}},
	}
}

func (m *Machine) continueToPracticeRecord(snap *Snapshot, cfg Configuration) Result {
	return Result{
		Document: voice.NewBuilder().
			GatherWithRetry(m.retry(m.routes.PracticeRecord(snap.Progression.ID), cfg.Audio.StartRecord, cfg)).
			Document(),
	}
}

func (m *Machine) practiceRecord(snap *Snapshot, cfg Configuration) Result {
	done := m.routes.PracticeRecordDone(snap.Progression.ID)
	return Result{
		Document: voice.NewBuilder().
			Play(cfg.Audio.Beep).
			Record(voice.Record{
				Action:    done,
				MaxLength: practiceMaxLength,
				Timeout:   practiceTimeout,
				Trim:      voice.DoNotTrim,
			}).
			Redirect(done).
			Document(),
		Notifications: []Notification{{Event: "practice_recording", Payload: map[string]any{}}},
	}
}

func (m *Machine) practiceRecordDone(snap *Snapshot, ev Event) Result {
	id := snap.Progression.ID
	if ev.Recording.URL == "" {
		return Result{Document: voice.NewBuilder().Redirect(m.routes.PracticePlayback(id)).Document()}
	}
	return Result{
		Document:  voice.NewBuilder().Redirect(m.routes.PracticeWait(id)).Document(),
		Mutations: []Mutation{SetPracticeRecording{URL: ev.Recording.URL}},
	}
}

func (m *Machine) practicePlayback(snap *Snapshot, cfg Configuration) Result {
	rg := m.retry(m.routes.Advance(snap.Progression.ID), "", cfg)
	rg.Timeout = practiceGatherTimeout
	return Result{
		Document: voice.NewBuilder().
			Play(cfg.Audio.PracticePlayback).
			Play(snap.Interview.PracticeRecordingURL).
			GatherWithRetry(rg).
			Document(),
		Mutations:     []Mutation{MarkPracticed{}},
		Notifications: []Notification{{Event: "practice_playback", Payload: map[string]any{}}},
	}
}

func (m *Machine) advance(snap *Snapshot, ev Event, cfg Configuration) (Result, error) {
	id := snap.Progression.ID
	next, err := NextPrompt(snap.Prompts, snap.Phase(), snap.hasRecording, cfg.PracticeEnabled)
	if err != nil {
		return Result{}, err
	}
	b := voice.NewBuilder()
	switch next.Kind {
	case ActionEnterPractice:
		return Result{Document: b.Redirect(m.routes.PracticePrompt(id)).Document()}, nil
	case ActionPlay:
		return Result{
			Document: b.Redirect(m.routes.PlayPrompt(id, next.Prompt.ID)).Document(),
			Mutations: []Mutation{
				AdvancePrompt{From: snap.Interview.CurrentPromptID, To: next.Prompt.ID},
				SetIdle{Idle: false},
			},
		}, nil
	case ActionRepeatRecord:
		return Result{
			Document:  b.Redirect(m.recordStage(id, next.Prompt.ID, cfg)).Document(),
			Mutations: clearIdle(snap),
		}, nil
	case ActionComplete:
		return Result{
			Document:  b.Redirect(m.routes.Outro(id)).Document(),
			Mutations: []Mutation{Complete{At: ev.At}},
		}, nil
	default:
		return Result{}, fmt.Errorf("unhandled sequencer action %s", next.Kind)
	}
}

func (m *Machine) recordStage(id, promptID string, cfg Configuration) string {
	if cfg.SelfRecord {
		return m.routes.ContinueToRecord(id, promptID)
	}
	return m.routes.Record(id, promptID)
}

func (m *Machine) playPrompt(snap *Snapshot, p model.AudioPrompt, cfg Configuration) Result {
	id := snap.Progression.ID
	next := m.routes.Advance(id)
	if p.RecordAfterPrompt {
		next = m.recordStage(id, p.ID, cfg)
	}
	return Result{
		Document: voice.NewBuilder().PlayOrSay(p.AudioURL(), noAudioText).Redirect(next).Document(),
		Notifications: []Notification{{
			Event:   "playing",
			Payload: map[string]any{"prompt_id": p.ID, "sequence": p.Sequence},
		}},
	}
}

func (m *Machine) continueToRecord(snap *Snapshot, p model.AudioPrompt, cfg Configuration) Result {
	return Result{
		Document: voice.NewBuilder().
			GatherWithRetry(m.retry(m.routes.ContinueToRecordDone(snap.Progression.ID, p.ID), cfg.Audio.StartRecord, cfg)).
			Document(),
	}
}

func (m *Machine) continueToRecordDone(snap *Snapshot, p model.AudioPrompt, ev Event, cfg Configuration) Result {
	id := snap.Progression.ID
	switch ClassifyDigits(ev.Digits) {
	case DigitsContinue:
		return Result{
			Document:  voice.NewBuilder().Redirect(m.routes.Record(id, p.ID)).Document(),
			Mutations: []Mutation{SetIdle{Idle: false}},
		}
	case DigitsRestart:
		next := m.routes.Record(id, p.ID)
		if CanRedo(cfg.RedoLimit, snap.Recordings[p.ID].Captured) {
			next = m.routes.PlayPrompt(id, p.ID)
		}
		return Result{
			Document:  voice.NewBuilder().Redirect(next).Document(),
			Mutations: []Mutation{SetIdle{Idle: false}},
		}
	default:
		return m.idle(snap, m.routes.ContinueToRecordDone(id, p.ID), nil, cfg)
	}
}

func (m *Machine) record(snap *Snapshot, p model.AudioPrompt, cfg Configuration) Result {
	done := m.routes.RecordingDone(snap.Progression.ID, p.ID)
	return Result{
		Document: voice.NewBuilder().
			Play(cfg.Audio.Beep).
			Record(voice.Record{
				Action:    done,
				MaxLength: answerMaxLength,
				Timeout:   answerSilenceTimeout,
				Trim:      voice.DoNotTrim,
			}).
			Redirect(done).
			Document(),
		Mutations: clearIdle(snap),
		Notifications: []Notification{{
			Event:   "recording",
			Payload: map[string]any{"prompt_id": p.ID},
		}},
	}
}

func (m *Machine) recordingDone(snap *Snapshot, p model.AudioPrompt, ev Event, cfg Configuration) Result {
	id := snap.Progression.ID
	stats := snap.Recordings[p.ID]

	// Takes before this one decide whether a redo is left.
	redo := CanRedo(cfg.RedoLimit, stats.Captured)

	var muts []Mutation
	landed := stats.Live
	captured := stats.Captured
	if ev.Recording.URL != "" && (ev.Recording.SID == "" || ev.Recording.SID != stats.LiveSID) {
		muts = append(muts, SaveRecording{
			PromptID: p.ID,
			URL:      ev.Recording.URL,
			SID:      ev.Recording.SID,
			Duration: ev.Recording.Duration,
			At:       ev.At,
		})
		landed = true
		captured++
	}

	class := ClassifyDigits(ev.Digits)
	if class == DigitsRestart && !redo {
		class = DigitsContinue
	}

	switch class {
	case DigitsRestart:
		return Result{
			Document:  voice.NewBuilder().Redirect(m.routes.PlayPrompt(id, p.ID)).Document(),
			Mutations: append(muts, SetIdle{Idle: false}),
			Notifications: []Notification{{
				Event:   "replaying",
				Payload: map[string]any{"prompt_id": p.ID, "captured": captured},
			}},
		}
	case DigitsContinue:
		if !landed {
			return Result{
				Document:  voice.NewBuilder().Redirect(m.routes.Record(id, p.ID)).Document(),
				Mutations: append(muts, SetIdle{Idle: false}),
			}
		}
		return Result{
			Document:  voice.NewBuilder().Play(cfg.Audio.Chime).Redirect(m.routes.Advance(id)).Document(),
			Mutations: append(muts, SetIdle{Idle: false}),
			Notifications: []Notification{{
				Event:   "recorded",
				Payload: map[string]any{"prompt_id": p.ID},
			}},
		}
	default:
		resume := m.routes.Advance(id)
		if !landed {
			resume = m.routes.Record(id, p.ID)
		}
		return m.idle(snap, resume, muts, cfg)
	}
}

// clearIdle ends an idle streak once the caller has moved on to a new wait.
func clearIdle(snap *Snapshot) []Mutation {
	if !snap.Interview.DebugIdle {
		return nil
	}
	return []Mutation{SetIdle{Idle: false}}
}

// idle answers a digit wait that produced nothing usable. The first time it
// re-arms the wait once; a second consecutive idle ends the call.
func (m *Machine) idle(snap *Snapshot, resume string, muts []Mutation, cfg Configuration) Result {
	if snap.Interview.DebugIdle {
		return Result{
			Document:  voice.NewBuilder().Play(cfg.Audio.NoActivityEndCall).Hangup().Document(),
			Mutations: muts,
			Notifications: []Notification{{
				Event:   "idle_ended",
				Payload: map[string]any{},
			}},
		}
	}
	return Result{
		Document: voice.NewBuilder().
			Gather(voice.Gather{
				NumDigits: 1,
				Timeout:   gatherTimeout,
				Action:    resume,
				Children:  []voice.Node{&voice.Play{URL: cfg.Audio.NoActivity}},
			}).
			Play(cfg.Audio.NoActivityEndCall).
			Hangup().
			Document(),
		Mutations:     append(muts, SetIdle{Idle: true}),
		Notifications: []Notification{{Event: "idle", Payload: map[string]any{}}},
	}
}

func (m *Machine) outro(cfg Configuration) Result {
	b := voice.NewBuilder()
	if !cfg.SkipOutro {
		b.Play(cfg.OutroURL)
	}
	return Result{Document: b.Hangup().Document()}
}
