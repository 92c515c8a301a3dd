// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sprucehealth/audiointerview/model"
)

const interviewColumns = `step_progression_id, current_prompt_id, practice_started, final_status,
	debug_connection_type, debug_has_verified, debug_has_practiced, debug_idle,
	debug_disconnect_count, debug_failed_to_connect_count, debug_call_failed,
	skip_disconnect, ended_notified, practice_recording_url,
	recording_url, recording_sid, recording_duration, created_at, updated_at`

// EnsureInterview returns the attempt's interview, creating an empty one on first access.
func (s *SQLite) EnsureInterview(ctx context.Context, progressionID string) (*model.AudioInterview, error) {
	if _, err := s.GetProgression(ctx, progressionID); err != nil {
		return nil, err
	}
	now := s.now()
	if _, err := s.db.ExecContext(ctx, `
	INSERT INTO audio_interviews (step_progression_id, created_at, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(step_progression_id) DO NOTHING`, progressionID, now, now); err != nil {
		return nil, fmt.Errorf("ensure interview %s: %w", progressionID, err)
	}
	return s.GetInterview(ctx, progressionID)
}

func (s *SQLite) GetInterview(ctx context.Context, progressionID string) (*model.AudioInterview, error) {
	var i model.AudioInterview
	var current sql.NullString
	var finalStatus, created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT `+interviewColumns+` FROM audio_interviews WHERE step_progression_id = ?`, progressionID).Scan(
		&i.StepProgressionID, &current, &i.PracticeStarted, &finalStatus,
		&i.DebugConnectionType, &i.DebugHasVerified, &i.DebugHasPracticed, &i.DebugIdle,
		&i.DebugDisconnectCount, &i.DebugFailedToConnectCount, &i.DebugCallFailed,
		&i.SkipDisconnect, &i.EndedNotified, &i.PracticeRecordingURL,
		&i.RecordingURL, &i.RecordingSID, &i.RecordingDuration, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("interview %s: %w", progressionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get interview %s: %w", progressionID, err)
	}
	i.CurrentPromptID = current.String
	i.FinalStatus = model.CallStatus(finalStatus)
	if i.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if i.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &i, nil
}

// updateInterview runs a single-row UPDATE against audio_interviews and
// returns the number of rows changed. whereArgs bind to the optional extra
// condition.
func (s *SQLite) updateInterview(ctx context.Context, progressionID, set string, setArgs []any, where string, whereArgs ...any) (int64, error) {
	query := `UPDATE audio_interviews SET ` + set + `, updated_at = ? WHERE step_progression_id = ?`
	if where != "" {
		query += ` AND ` + where
	}
	params := make([]any, 0, len(setArgs)+len(whereArgs)+2)
	params = append(params, setArgs...)
	params = append(params, s.now(), progressionID)
	params = append(params, whereArgs...)
	res, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, fmt.Errorf("update interview %s: %w", progressionID, err)
	}
	return affected(res)
}

func (s *SQLite) mustUpdateInterview(ctx context.Context, progressionID, set string, args ...any) error {
	n, err := s.updateInterview(ctx, progressionID, set, args, "")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("interview %s: %w", progressionID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) MarkVerified(ctx context.Context, progressionID, connectionType string) error {
	return s.mustUpdateInterview(ctx, progressionID,
		`debug_has_verified = 1, debug_connection_type = CASE WHEN ? = '' THEN debug_connection_type ELSE ? END`,
		connectionType, connectionType)
}

func (s *SQLite) MarkPracticeStarted(ctx context.Context, progressionID string) error {
	return s.mustUpdateInterview(ctx, progressionID, `practice_started = 1`)
}

func (s *SQLite) SetPracticeRecording(ctx context.Context, progressionID, url string) error {
	return s.mustUpdateInterview(ctx, progressionID, `practice_recording_url = ?`, url)
}

func (s *SQLite) MarkPracticed(ctx context.Context, progressionID string) error {
	return s.mustUpdateInterview(ctx, progressionID, `debug_has_practiced = 1`)
}

func (s *SQLite) SetIdle(ctx context.Context, progressionID string, idle bool) error {
	return s.mustUpdateInterview(ctx, progressionID, `debug_idle = ?`, idle)
}

// AdvancePrompt moves current_prompt_id from -> to. It succeeds without
// change if another request already made the same move, and returns
// ErrConflict if the interview has moved elsewhere.
func (s *SQLite) AdvancePrompt(ctx context.Context, progressionID, from, to string) error {
	n, err := s.updateInterview(ctx, progressionID, `current_prompt_id = ?`, []any{to},
		`COALESCE(current_prompt_id, '') = ?`, from)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	current, err := s.GetInterview(ctx, progressionID)
	if err != nil {
		return err
	}
	if current.CurrentPromptID == to {
		return nil
	}
	return fmt.Errorf("advance %s from %q to %q, now at %q: %w", progressionID, from, to, current.CurrentPromptID, ErrConflict)
}

// SetSkipDisconnect arms the one-shot suppression of the next disconnect.
func (s *SQLite) SetSkipDisconnect(ctx context.Context, progressionID string) error {
	return s.mustUpdateInterview(ctx, progressionID, `skip_disconnect = 1`)
}

// ConsumeSkipDisconnect clears skip_disconnect and reports whether it was set.
func (s *SQLite) ConsumeSkipDisconnect(ctx context.Context, progressionID string) (bool, error) {
	n, err := s.updateInterview(ctx, progressionID, `skip_disconnect = 0`, nil, `skip_disconnect = 1`)
	return n == 1, err
}

// CallRecording is the provider's whole-call recording, distinct from answers.
type CallRecording struct {
	URL      string
	SID      string
	Duration int
}

// terminalStatuses is the SQL list of statuses that end a call.
const terminalStatuses = `'completed', 'busy', 'no-answer', 'canceled', 'failed'`

// RecordCallStatus stores the latest provider status and any call-level
// recording metadata. A late non-terminal status never replaces a terminal
// one. Empty recording fields leave stored values untouched.
func (s *SQLite) RecordCallStatus(ctx context.Context, progressionID string, status model.CallStatus, rec CallRecording) error {
	return s.mustUpdateInterview(ctx, progressionID, `
		final_status = CASE
			WHEN final_status IN (`+terminalStatuses+`) AND ? NOT IN (`+terminalStatuses+`) THEN final_status
			ELSE ? END,
		recording_url = CASE WHEN ? = '' THEN recording_url ELSE ? END,
		recording_sid = CASE WHEN ? = '' THEN recording_sid ELSE ? END,
		recording_duration = CASE WHEN ? = 0 THEN recording_duration ELSE ? END`,
		string(status), string(status), rec.URL, rec.URL, rec.SID, rec.SID, rec.Duration, rec.Duration)
}
