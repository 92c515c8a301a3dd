// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package flow

import (
	"time"

	"github.com/sprucehealth/audiointerview/model"
)

// Mutation is a state change requested by the Machine. Each one maps onto a
// single narrow store primitive.
type Mutation interface {
	isMutation()
}

// AssignCall makes CallSID the attempt's only active call.
type AssignCall struct{ CallSID model.SID }

// MarkVerified records that the candidate answered and pressed a key.
type MarkVerified struct{ ConnectionType string }

// MarkStarted sets startedAt if it is not set yet.
type MarkStarted struct{ At time.Time }

type MarkPracticeStarted struct{}

type SetPracticeRecording struct{ URL string }

type MarkPracticed struct{}

// AdvancePrompt moves the current prompt From -> To; it conflicts if another
// callback advanced first.
type AdvancePrompt struct{ From, To string }

// SaveRecording stores a new answer, superseding any live one for the prompt.
type SaveRecording struct {
	PromptID string
	URL      string
	SID      string
	Duration int
	At       time.Time
}

type SetIdle struct{ Idle bool }

// Complete sets completedAt once.
type Complete struct{ At time.Time }

func (AssignCall) isMutation()           {}
func (MarkVerified) isMutation()         {}
func (MarkStarted) isMutation()          {}
func (MarkPracticeStarted) isMutation()  {}
func (SetPracticeRecording) isMutation() {}
func (MarkPracticed) isMutation()        {}
func (AdvancePrompt) isMutation()        {}
func (SaveRecording) isMutation()        {}
func (SetIdle) isMutation()              {}
func (Complete) isMutation()             {}
