// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package flow

import (
	"fmt"
	"sort"

	"github.com/sprucehealth/audiointerview/model"
)

// ActionKind is what the sequencer wants to happen next.
type ActionKind int

const (
	ActionEnterPractice ActionKind = iota
	ActionPlay
	ActionRepeatRecord
	ActionComplete
)

func (k ActionKind) String() string {
	switch k {
	case ActionEnterPractice:
		return "enter_practice"
	case ActionPlay:
		return "play"
	case ActionRepeatRecord:
		return "repeat_record"
	case ActionComplete:
		return "complete"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// NextAction is the sequencer's decision. Prompt is set for ActionPlay and
// ActionRepeatRecord.
type NextAction struct {
	Kind   ActionKind
	Prompt model.AudioPrompt
}

// SortPrompts returns a copy of prompts ordered by sequence, then creation time.
func SortPrompts(prompts []model.AudioPrompt) []model.AudioPrompt {
	out := make([]model.AudioPrompt, len(prompts))
	copy(out, prompts)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// NextPrompt decides what follows the current phase. ordered must already be
// sorted with SortPrompts; hasRecording reports whether a live answer exists
// for a prompt in this attempt.
func NextPrompt(ordered []model.AudioPrompt, phase model.Phase, hasRecording func(promptID string) bool, practiceEnabled bool) (NextAction, error) {
	switch phase.Kind {
	case model.PhaseCompleted:
		return NextAction{Kind: ActionComplete}, nil
	case model.PhaseNotStarted, model.PhaseInPractice:
		if phase.Kind == model.PhaseNotStarted && practiceEnabled {
			return NextAction{Kind: ActionEnterPractice}, nil
		}
		if len(ordered) == 0 {
			return NextAction{Kind: ActionComplete}, nil
		}
		return NextAction{Kind: ActionPlay, Prompt: ordered[0]}, nil
	case model.PhaseOnPrompt:
		idx := -1
		for i, p := range ordered {
			if p.ID == phase.PromptID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return NextAction{}, fmt.Errorf("%w: current prompt %s is not part of the step", ErrInvalidRequest, phase.PromptID)
		}
		current := ordered[idx]
		if current.RecordAfterPrompt && !hasRecording(current.ID) {
			return NextAction{Kind: ActionRepeatRecord, Prompt: current}, nil
		}
		for _, p := range ordered[idx+1:] {
			if p.Sequence > current.Sequence {
				return NextAction{Kind: ActionPlay, Prompt: p}, nil
			}
		}
		return NextAction{Kind: ActionComplete}, nil
	default:
		return NextAction{}, fmt.Errorf("unknown phase %s", phase)
	}
}
