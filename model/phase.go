// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package model

import "fmt"

// PhaseKind distinguishes the coarse position of an attempt in its interview.
type PhaseKind int

const (
	PhaseNotStarted PhaseKind = iota
	PhaseInPractice
	PhaseOnPrompt
	PhaseCompleted
)

func (k PhaseKind) String() string {
	switch k {
	case PhaseNotStarted:
		return "not_started"
	case PhaseInPractice:
		return "in_practice"
	case PhaseOnPrompt:
		return "on_prompt"
	case PhaseCompleted:
		return "completed"
	default:
		return fmt.Sprintf("phase(%d)", int(k))
	}
}

// Phase is the tagged interview position. PromptID is only set for PhaseOnPrompt.
type Phase struct {
	Kind     PhaseKind
	PromptID string
}

func NotStarted() Phase              { return Phase{Kind: PhaseNotStarted} }
func InPractice() Phase              { return Phase{Kind: PhaseInPractice} }
func OnPrompt(promptID string) Phase { return Phase{Kind: PhaseOnPrompt, PromptID: promptID} }
func Completed() Phase               { return Phase{Kind: PhaseCompleted} }

func (p Phase) String() string {
	if p.Kind == PhaseOnPrompt {
		return fmt.Sprintf("on_prompt(%s)", p.PromptID)
	}
	return p.Kind.String()
}

// HasPlayedPrompt reports whether at least one real prompt has been played.
func (p Phase) HasPlayedPrompt() bool {
	return p.Kind == PhaseOnPrompt
}

// PhaseOf derives the phase from persisted rows. A nil interview means none
// has been created yet.
func PhaseOf(progression *StepProgression, interview *AudioInterview) Phase {
	switch {
	case progression != nil && progression.IsComplete():
		return Completed()
	case interview == nil:
		return NotStarted()
	case interview.CurrentPromptID != "":
		return OnPrompt(interview.CurrentPromptID)
	case interview.PracticeStarted:
		return InPractice()
	default:
		return NotStarted()
	}
}
