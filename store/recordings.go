// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sprucehealth/audiointerview/model"
)

// ReplaceRecording stores rec as the live answer for its prompt, superseding
// the previous live answer. Redelivery of a recording SID that is already
// stored is a no-op; the boolean reports whether anything was written.
func (s *SQLite) ReplaceRecording(ctx context.Context, rec model.AudioRecording) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	created := s.now()
	if !rec.CreatedAt.IsZero() {
		created = formatTime(rec.CreatedAt)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if rec.SID != "" {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM audio_recordings WHERE step_progression_id = ? AND sid = ?`,
			rec.StepProgressionID, rec.SID).Scan(&existing)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
	UPDATE audio_recordings SET superseded_at = ?
	WHERE step_progression_id = ? AND prompt_id = ? AND superseded_at IS NULL`,
		created, rec.StepProgressionID, rec.PromptID); err != nil {
		return false, fmt.Errorf("supersede recording for %s/%s: %w", rec.StepProgressionID, rec.PromptID, err)
	}
	if _, err := tx.ExecContext(ctx, `
	INSERT INTO audio_recordings (id, step_progression_id, prompt_id, url, sid, duration, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StepProgressionID, rec.PromptID, rec.URL, rec.SID, rec.Duration, created); err != nil {
		return false, fmt.Errorf("insert recording for %s/%s: %w", rec.StepProgressionID, rec.PromptID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// RecordingStats returns per-prompt answer counts for an attempt. Prompts
// without any recording are absent from the map.
func (s *SQLite) RecordingStats(ctx context.Context, progressionID string) (map[string]model.RecordingStats, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT prompt_id,
		COUNT(*),
		COALESCE(MAX(CASE WHEN superseded_at IS NULL THEN 1 ELSE 0 END), 0),
		COALESCE(MAX(CASE WHEN superseded_at IS NULL THEN sid END), '')
	FROM audio_recordings WHERE step_progression_id = ? GROUP BY prompt_id`, progressionID)
	if err != nil {
		return nil, fmt.Errorf("recording stats for %s: %w", progressionID, err)
	}
	defer rows.Close()

	stats := make(map[string]model.RecordingStats)
	for rows.Next() {
		var st model.RecordingStats
		if err := rows.Scan(&st.PromptID, &st.Captured, &st.Live, &st.LiveSID); err != nil {
			return nil, err
		}
		stats[st.PromptID] = st
	}
	return stats, rows.Err()
}

// ListRecordings returns an attempt's answers, oldest first. Superseded
// takes are included only when all is true.
func (s *SQLite) ListRecordings(ctx context.Context, progressionID string, all bool) ([]model.AudioRecording, error) {
	query := `SELECT id, step_progression_id, prompt_id, url, sid, duration, created_at, superseded_at
	FROM audio_recordings WHERE step_progression_id = ?`
	if !all {
		query += ` AND superseded_at IS NULL`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, progressionID)
	if err != nil {
		return nil, fmt.Errorf("list recordings for %s: %w", progressionID, err)
	}
	defer rows.Close()

	var out []model.AudioRecording
	for rows.Next() {
		var r model.AudioRecording
		var created string
		var superseded sql.NullString
		if err := rows.Scan(&r.ID, &r.StepProgressionID, &r.PromptID, &r.URL, &r.SID, &r.Duration, &created, &superseded); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if r.SupersededAt, err = parseNullTime(superseded); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
