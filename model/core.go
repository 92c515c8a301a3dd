// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package model

import (
	"time"
)

// SID represents a provider-issued call identifier
type SID string

func (s SID) String() string {
	return string(s)
}

// CallStatus represents the status of a call as reported by the provider
type CallStatus string

const (
	CallInitiated  CallStatus = "initiated"
	CallQueued     CallStatus = "queued"
	CallRinging    CallStatus = "ringing"
	CallInProgress CallStatus = "in-progress"
	CallCompleted  CallStatus = "completed"
	CallBusy       CallStatus = "busy"
	CallFailed     CallStatus = "failed"
	CallNoAnswer   CallStatus = "no-answer"
	CallCanceled   CallStatus = "canceled"
)

// IsTerminal reports whether no further status changes follow s.
// Unknown statuses are treated as non-terminal.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallCompleted, CallCanceled, CallFailed, CallNoAnswer, CallBusy:
		return true
	default:
		return false
	}
}

// NeverConnected reports whether the status means the candidate was never reached.
func (s CallStatus) NeverConnected() bool {
	switch s {
	case CallBusy, CallNoAnswer, CallCanceled:
		return true
	default:
		return false
	}
}

// Step is the interview step definition shared by every attempt at it
type Step struct {
	ID                 string `json:"id" yaml:"id"`
	Name               string `json:"name" yaml:"name"`
	RedoLimit          int    `json:"redo_limit" yaml:"redo_limit"` // 0 means unlimited
	PlayPracticePrompt bool   `json:"play_practice_prompt" yaml:"play_practice_prompt"`
	SkipOutro          bool   `json:"skip_outro" yaml:"skip_outro"`
	CustomIntroURL     string `json:"custom_intro_url,omitempty" yaml:"custom_intro_url"`
	CustomOutroURL     string `json:"custom_outro_url,omitempty" yaml:"custom_outro_url"`
	Language           string `json:"language" yaml:"language"`
	CountryCode        string `json:"country_code" yaml:"country_code"`
}

// Locale returns the language tag used to pick an audio pack, e.g. "en-US".
func (s Step) Locale() string {
	if s.Language == "" {
		return ""
	}
	if s.CountryCode == "" {
		return s.Language
	}
	return s.Language + "-" + s.CountryCode
}

// StepProgression is one candidate's attempt at one step
type StepProgression struct {
	ID          string     `json:"id"`
	StepID      string     `json:"step_id"`
	AttemptID   string     `json:"attempt_id"`
	CallSID     SID        `json:"call_sid,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsComplete reports whether the attempt has reached its terminal state
func (p *StepProgression) IsComplete() bool {
	return p.CompletedAt != nil
}

// AudioInterview holds call-specific state for a StepProgression
type AudioInterview struct {
	StepProgressionID         string     `json:"step_progression_id"`
	CurrentPromptID           string     `json:"current_prompt_id,omitempty"`
	PracticeStarted           bool       `json:"practice_started"`
	FinalStatus               CallStatus `json:"final_status,omitempty"`
	DebugConnectionType       string     `json:"debug_connection_type,omitempty"`
	DebugHasVerified          bool       `json:"debug_has_verified"`
	DebugHasPracticed         bool       `json:"debug_has_practiced"`
	DebugIdle                 bool       `json:"debug_idle"`
	DebugDisconnectCount      int        `json:"debug_disconnect_count"`
	DebugFailedToConnectCount int        `json:"debug_failed_to_connect_count"`
	DebugCallFailed           bool       `json:"debug_call_failed"`
	SkipDisconnect            bool       `json:"skip_disconnect"`
	EndedNotified             bool       `json:"ended_notified"`
	PracticeRecordingURL      string     `json:"practice_recording_url,omitempty"`
	RecordingURL              string     `json:"recording_url,omitempty"`
	RecordingSID              string     `json:"recording_sid,omitempty"`
	RecordingDuration         int        `json:"recording_duration,omitempty"`
	CreatedAt                 time.Time  `json:"created_at"`
	UpdatedAt                 time.Time  `json:"updated_at"`
}

// AudioPrompt is one ordered unit of a step's prompt list
type AudioPrompt struct {
	ID                string    `json:"id" yaml:"id"`
	StepID            string    `json:"step_id" yaml:"-"`
	Sequence          int       `json:"sequence" yaml:"sequence"`
	Name              string    `json:"name" yaml:"name"`
	URL               string    `json:"url,omitempty" yaml:"url"`
	TextToSpeechURL   string    `json:"text_to_speech_url,omitempty" yaml:"text_to_speech_url"`
	RecordAfterPrompt bool      `json:"record_after_prompt" yaml:"record_after_prompt"`
	CreatedAt         time.Time `json:"created_at" yaml:"-"`
}

// AudioURL returns the uploaded audio if present, falling back to synthesized speech.
func (p AudioPrompt) AudioURL() string {
	if p.URL != "" {
		return p.URL
	}
	return p.TextToSpeechURL
}

// AudioRecording is one captured answer. A recording with SupersededAt set
// has been replaced by a redo and no longer counts as the live answer.
type AudioRecording struct {
	ID                string     `json:"id"`
	StepProgressionID string     `json:"step_progression_id"`
	PromptID          string     `json:"prompt_id"`
	URL               string     `json:"url"`
	SID               string     `json:"sid,omitempty"`
	Duration          int        `json:"duration"`
	CreatedAt         time.Time  `json:"created_at"`
	SupersededAt      *time.Time `json:"superseded_at,omitempty"`
}

// Event represents a timeline entry recorded while a call is simulated
type Event struct {
	Time   time.Time      `json:"time"`
	Type   string         `json:"type"` // "webhook.request", "twiml.play", "status.changed", etc.
	Detail map[string]any `json:"detail"`
}

// RecordingStats summarises the answers captured for one prompt within one attempt.
type RecordingStats struct {
	PromptID string `json:"prompt_id"`
	LiveSID  string `json:"live_sid,omitempty"`
	Live     bool   `json:"live"`
	Captured int    `json:"captured"` // including superseded takes
}
