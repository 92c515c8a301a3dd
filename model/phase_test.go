package model

import (
	"testing"
	"time"
)

func TestPhaseOf(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		progression *StepProgression
		interview   *AudioInterview
		want        Phase
	}{
		{"no interview", &StepProgression{}, nil, NotStarted()},
		{"fresh interview", &StepProgression{}, &AudioInterview{}, NotStarted()},
		{"practice", &StepProgression{}, &AudioInterview{PracticeStarted: true}, InPractice()},
		{"on prompt", &StepProgression{}, &AudioInterview{PracticeStarted: true, CurrentPromptID: "p1"}, OnPrompt("p1")},
		{"completed wins", &StepProgression{CompletedAt: &now}, &AudioInterview{CurrentPromptID: "p1"}, Completed()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PhaseOf(tt.progression, tt.interview)
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCallStatusClassification(t *testing.T) {
	for _, s := range []CallStatus{CallCompleted, CallBusy, CallFailed, CallNoAnswer, CallCanceled} {
		if !s.IsTerminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}
	for _, s := range []CallStatus{CallQueued, CallRinging, CallInProgress, CallStatus("bogus")} {
		if s.IsTerminal() {
			t.Errorf("Expected %s to be non-terminal", s)
		}
	}
	if !CallBusy.NeverConnected() || CallFailed.NeverConnected() || CallCompleted.NeverConnected() {
		t.Error("NeverConnected misclassified")
	}
}

func TestStepLocale(t *testing.T) {
	if got := (Step{Language: "en", CountryCode: "US"}).Locale(); got != "en-US" {
		t.Errorf("Expected en-US, got %q", got)
	}
	if got := (Step{Language: "fr"}).Locale(); got != "fr" {
		t.Errorf("Expected fr, got %q", got)
	}
	if got := (Step{}).Locale(); got != "" {
		t.Errorf("Expected empty locale, got %q", got)
	}
}
