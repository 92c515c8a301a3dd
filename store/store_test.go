package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprucehealth/audiointerview/clock"
	"github.com/sprucehealth/audiointerview/model"
)

var t0 = time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"), DefaultConfig(),
		WithClock(clock.NewManualClock(t0)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seed creates step "s1" with prompts a (seq 1) and b (seq 2) and progression "sp1".
func seed(t *testing.T, s *SQLite) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.PutStep(ctx, model.Step{ID: "s1", Name: "Intro questions", RedoLimit: 2}))
	require.NoError(t, s.PutPrompt(ctx, model.AudioPrompt{ID: "b", StepID: "s1", Sequence: 2, RecordAfterPrompt: true}))
	require.NoError(t, s.PutPrompt(ctx, model.AudioPrompt{ID: "a", StepID: "s1", Sequence: 1, URL: "https://cdn/a.mp3"}))
	require.NoError(t, s.CreateProgression(ctx, model.StepProgression{ID: "sp1", StepID: "s1", AttemptID: "att1"}))
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, SchemaVersion, version)
}

func TestStepsAndPrompts(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	step, err := s.GetStep(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, step.RedoLimit)

	prompts, err := s.ListPrompts(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, prompts, 2)
	assert.Equal(t, "a", prompts[0].ID)
	assert.Equal(t, "b", prompts[1].ID)
	assert.True(t, prompts[1].RecordAfterPrompt)

	_, err = s.GetStep(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignCallMovesOwnership(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, s.CreateProgression(ctx, model.StepProgression{ID: "sp2", StepID: "s1", AttemptID: "att2"}))

	require.NoError(t, s.AssignCall(ctx, "sp1", "CA1"))
	p, err := s.GetProgressionByCallSID(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, "sp1", p.ID)

	require.NoError(t, s.AssignCall(ctx, "sp2", "CA1"))
	p, err = s.GetProgressionByCallSID(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, "sp2", p.ID)

	old, err := s.GetProgression(ctx, "sp1")
	require.NoError(t, err)
	assert.Empty(t, old.CallSID)

	assert.ErrorIs(t, s.AssignCall(ctx, "nope", "CA2"), ErrNotFound)
	_, err = s.GetProgressionByCallSID(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkStartedKeepsFirstValue(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.MarkStarted(ctx, "sp1", t0))
	require.NoError(t, s.MarkStarted(ctx, "sp1", t0.Add(time.Hour)))
	p, err := s.GetProgression(ctx, "sp1")
	require.NoError(t, err)
	require.NotNil(t, p.StartedAt)
	assert.True(t, p.StartedAt.Equal(t0))
}

func TestMarkCompletedOnce(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.MarkCompleted(ctx, "sp1", t0.Add(time.Duration(i)*time.Second))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, applied)

	p, err := s.GetProgression(ctx, "sp1")
	require.NoError(t, err)
	require.NotNil(t, p.CompletedAt)
	first := *p.CompletedAt

	ok, err := s.MarkCompleted(ctx, "sp1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
	p, err = s.GetProgression(ctx, "sp1")
	require.NoError(t, err)
	assert.True(t, p.CompletedAt.Equal(first), "completed_at never moves once set")

	_, err = s.MarkCompleted(ctx, "nope", t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureInterview(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	i, err := s.EnsureInterview(ctx, "sp1")
	require.NoError(t, err)
	assert.Empty(t, i.CurrentPromptID)
	assert.False(t, i.PracticeStarted)

	require.NoError(t, s.MarkPracticeStarted(ctx, "sp1"))
	i, err = s.EnsureInterview(ctx, "sp1")
	require.NoError(t, err)
	assert.True(t, i.PracticeStarted, "second access must not recreate the row")

	_, err = s.EnsureInterview(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInterviewFlags(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	_, err := s.EnsureInterview(ctx, "sp1")
	require.NoError(t, err)

	require.NoError(t, s.MarkVerified(ctx, "sp1", "phone"))
	require.NoError(t, s.MarkVerified(ctx, "sp1", ""))
	require.NoError(t, s.SetPracticeRecording(ctx, "sp1", "https://rec/practice"))
	require.NoError(t, s.MarkPracticed(ctx, "sp1"))
	require.NoError(t, s.SetIdle(ctx, "sp1", true))

	i, err := s.GetInterview(ctx, "sp1")
	require.NoError(t, err)
	assert.True(t, i.DebugHasVerified)
	assert.Equal(t, "phone", i.DebugConnectionType, "empty connection type keeps the previous value")
	assert.Equal(t, "https://rec/practice", i.PracticeRecordingURL)
	assert.True(t, i.DebugHasPracticed)
	assert.True(t, i.DebugIdle)

	assert.ErrorIs(t, s.SetIdle(ctx, "missing", true), ErrNotFound)
}

func TestAdvancePrompt(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	_, err := s.EnsureInterview(ctx, "sp1")
	require.NoError(t, err)

	require.NoError(t, s.AdvancePrompt(ctx, "sp1", "", "a"))
	require.NoError(t, s.AdvancePrompt(ctx, "sp1", "", "a"), "repeating the same move is not a conflict")
	assert.ErrorIs(t, s.AdvancePrompt(ctx, "sp1", "", "b"), ErrConflict)
	require.NoError(t, s.AdvancePrompt(ctx, "sp1", "a", "b"))

	i, err := s.GetInterview(ctx, "sp1")
	require.NoError(t, err)
	assert.Equal(t, "b", i.CurrentPromptID)
}

func TestReplaceRecording(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	write := func(prompt, sid string) bool {
		ok, err := s.ReplaceRecording(ctx, model.AudioRecording{
			StepProgressionID: "sp1", PromptID: prompt, URL: "https://rec/" + sid, SID: sid, Duration: 12,
		})
		require.NoError(t, err)
		return ok
	}

	assert.True(t, write("a", "RE1"))
	assert.True(t, write("b", "RE2"))
	assert.True(t, write("b", "RE3"))
	assert.False(t, write("b", "RE3"), "redelivered recording is ignored")

	stats, err := s.RecordingStats(ctx, "sp1")
	require.NoError(t, err)
	assert.Equal(t, model.RecordingStats{PromptID: "a", LiveSID: "RE1", Live: true, Captured: 1}, stats["a"])
	assert.Equal(t, model.RecordingStats{PromptID: "b", LiveSID: "RE3", Live: true, Captured: 2}, stats["b"])

	live, err := s.ListRecordings(ctx, "sp1", false)
	require.NoError(t, err)
	require.Len(t, live, 2)
	for _, r := range live {
		assert.Nil(t, r.SupersededAt)
	}
	all, err := s.ListRecordings(ctx, "sp1", true)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestSkipDisconnectIsOneShot(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	_, err := s.EnsureInterview(ctx, "sp1")
	require.NoError(t, err)

	ok, err := s.ConsumeSkipDisconnect(ctx, "sp1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSkipDisconnect(ctx, "sp1"))
	ok, err = s.ConsumeSkipDisconnect(ctx, "sp1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ConsumeSkipDisconnect(ctx, "sp1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyStatusEvent(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	_, err := s.EnsureInterview(ctx, "sp1")
	require.NoError(t, err)

	apply := func(sid model.SID, status model.CallStatus, effect StatusEffect) StatusApplied {
		t.Helper()
		got, err := s.ApplyStatusEvent(ctx, "sp1", sid, status, effect)
		require.NoError(t, err)
		return got
	}

	assert.Equal(t, StatusApplied{Changed: true}, apply("CA1", model.CallCompleted, EffectDisconnect))
	assert.Equal(t, StatusApplied{Duplicate: true}, apply("CA1", model.CallCompleted, EffectDisconnect))
	assert.Equal(t, StatusApplied{Changed: true}, apply("CA2", model.CallCompleted, EffectDisconnect))
	assert.Equal(t, StatusApplied{Changed: true}, apply("CA3", model.CallBusy, EffectFailedToConnect))
	assert.Equal(t, StatusApplied{Changed: true}, apply("CA4", model.CallFailed, EffectCallFailed))

	require.NoError(t, s.SetSkipDisconnect(ctx, "sp1"))
	assert.Equal(t, StatusApplied{Skipped: true}, apply("CA5", model.CallCompleted, EffectDisconnect))

	assert.Equal(t, StatusApplied{Changed: true}, apply("CA6", model.CallCompleted, EffectEnded))
	assert.Equal(t, StatusApplied{}, apply("CA7", model.CallCompleted, EffectEnded), "ended is flipped once")
	assert.Equal(t, StatusApplied{}, apply("CA8", model.CallFailed, EffectNone))

	i, err := s.GetInterview(ctx, "sp1")
	require.NoError(t, err)
	assert.Equal(t, 2, i.DebugDisconnectCount)
	assert.Equal(t, 1, i.DebugFailedToConnectCount)
	assert.True(t, i.DebugCallFailed)
	assert.False(t, i.SkipDisconnect)
	assert.True(t, i.EndedNotified)
}

func TestApplyStatusEventRollsBackOnFailure(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	// No interview row yet, so the counter update fails.
	_, err := s.ApplyStatusEvent(ctx, "sp1", "CA1", model.CallCompleted, EffectDisconnect)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.EnsureInterview(ctx, "sp1")
	require.NoError(t, err)
	got, err := s.ApplyStatusEvent(ctx, "sp1", "CA1", model.CallCompleted, EffectDisconnect)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied{Changed: true}, got, "the retried delivery is applied, not deduplicated")

	i, err := s.GetInterview(ctx, "sp1")
	require.NoError(t, err)
	assert.Equal(t, 1, i.DebugDisconnectCount)
}

func TestRecordCallStatusIgnoresLateProgress(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	_, err := s.EnsureInterview(ctx, "sp1")
	require.NoError(t, err)

	status := func() model.CallStatus {
		t.Helper()
		i, err := s.GetInterview(ctx, "sp1")
		require.NoError(t, err)
		return i.FinalStatus
	}

	require.NoError(t, s.RecordCallStatus(ctx, "sp1", model.CallRinging, CallRecording{}))
	assert.Equal(t, model.CallRinging, status())
	require.NoError(t, s.RecordCallStatus(ctx, "sp1", model.CallCompleted, CallRecording{}))
	require.NoError(t, s.RecordCallStatus(ctx, "sp1", model.CallInProgress, CallRecording{}))
	require.NoError(t, s.RecordCallStatus(ctx, "sp1", model.CallRinging, CallRecording{}))
	assert.Equal(t, model.CallCompleted, status(), "late progress keeps the terminal status")
	require.NoError(t, s.RecordCallStatus(ctx, "sp1", model.CallBusy, CallRecording{}))
	assert.Equal(t, model.CallBusy, status())
}

func TestRecordCallStatusKeepsRecordingMetadata(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	_, err := s.EnsureInterview(ctx, "sp1")
	require.NoError(t, err)

	require.NoError(t, s.RecordCallStatus(ctx, "sp1", model.CallInProgress, CallRecording{}))
	require.NoError(t, s.RecordCallStatus(ctx, "sp1", model.CallCompleted, CallRecording{URL: "https://rec/call", SID: "RE9", Duration: 95}))
	require.NoError(t, s.RecordCallStatus(ctx, "sp1", model.CallCompleted, CallRecording{}))

	i, err := s.GetInterview(ctx, "sp1")
	require.NoError(t, err)
	assert.Equal(t, model.CallCompleted, i.FinalStatus)
	assert.Equal(t, "https://rec/call", i.RecordingURL)
	assert.Equal(t, "RE9", i.RecordingSID)
	assert.Equal(t, 95, i.RecordingDuration)
}

func TestDeleteProgressionCascades(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	_, err := s.EnsureInterview(ctx, "sp1")
	require.NoError(t, err)
	_, err = s.ReplaceRecording(ctx, model.AudioRecording{StepProgressionID: "sp1", PromptID: "a", URL: "u"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteProgression(ctx, "sp1"))
	_, err = s.GetInterview(ctx, "sp1")
	assert.ErrorIs(t, err, ErrNotFound)
	recs, err := s.ListRecordings(ctx, "sp1", true)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.ErrorIs(t, s.DeleteProgression(ctx, "sp1"), ErrNotFound)
}
