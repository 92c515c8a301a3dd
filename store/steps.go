// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sprucehealth/audiointerview/model"
)

// PutStep creates or replaces a step definition.
func (s *SQLite) PutStep(ctx context.Context, step model.Step) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO steps (id, name, redo_limit, play_practice_prompt, skip_outro, custom_intro_url, custom_outro_url, language, country_code)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		redo_limit = excluded.redo_limit,
		play_practice_prompt = excluded.play_practice_prompt,
		skip_outro = excluded.skip_outro,
		custom_intro_url = excluded.custom_intro_url,
		custom_outro_url = excluded.custom_outro_url,
		language = excluded.language,
		country_code = excluded.country_code`,
		step.ID, step.Name, step.RedoLimit, step.PlayPracticePrompt, step.SkipOutro,
		step.CustomIntroURL, step.CustomOutroURL, step.Language, step.CountryCode)
	if err != nil {
		return fmt.Errorf("put step %s: %w", step.ID, err)
	}
	return nil
}

func (s *SQLite) GetStep(ctx context.Context, id string) (*model.Step, error) {
	var step model.Step
	err := s.db.QueryRowContext(ctx, `
	SELECT id, name, redo_limit, play_practice_prompt, skip_outro, custom_intro_url, custom_outro_url, language, country_code
	FROM steps WHERE id = ?`, id).Scan(
		&step.ID, &step.Name, &step.RedoLimit, &step.PlayPracticePrompt, &step.SkipOutro,
		&step.CustomIntroURL, &step.CustomOutroURL, &step.Language, &step.CountryCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("step %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get step %s: %w", id, err)
	}
	return &step, nil
}

// PutPrompt creates or replaces a prompt. A zero CreatedAt is stamped with the current time.
func (s *SQLite) PutPrompt(ctx context.Context, p model.AudioPrompt) error {
	created := s.now()
	if !p.CreatedAt.IsZero() {
		created = formatTime(p.CreatedAt)
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO audio_prompts (id, step_id, sequence, name, url, text_to_speech_url, record_after_prompt, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		sequence = excluded.sequence,
		name = excluded.name,
		url = excluded.url,
		text_to_speech_url = excluded.text_to_speech_url,
		record_after_prompt = excluded.record_after_prompt`,
		p.ID, p.StepID, p.Sequence, p.Name, p.URL, p.TextToSpeechURL, p.RecordAfterPrompt, created)
	if err != nil {
		return fmt.Errorf("put prompt %s: %w", p.ID, err)
	}
	return nil
}

// ListPrompts returns the step's prompts ordered by sequence.
func (s *SQLite) ListPrompts(ctx context.Context, stepID string) ([]model.AudioPrompt, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, step_id, sequence, name, url, text_to_speech_url, record_after_prompt, created_at
	FROM audio_prompts WHERE step_id = ? ORDER BY sequence, created_at`, stepID)
	if err != nil {
		return nil, fmt.Errorf("list prompts for %s: %w", stepID, err)
	}
	defer rows.Close()

	var prompts []model.AudioPrompt
	for rows.Next() {
		var p model.AudioPrompt
		var created string
		if err := rows.Scan(&p.ID, &p.StepID, &p.Sequence, &p.Name, &p.URL, &p.TextToSpeechURL, &p.RecordAfterPrompt, &created); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("prompt %s created_at: %w", p.ID, err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// CreateProgression starts a new attempt at a step.
func (s *SQLite) CreateProgression(ctx context.Context, p model.StepProgression) error {
	created := s.now()
	if !p.CreatedAt.IsZero() {
		created = formatTime(p.CreatedAt)
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO step_progressions (id, step_id, attempt_id, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.StepID, p.AttemptID, created)
	if err != nil {
		return fmt.Errorf("create progression %s: %w", p.ID, err)
	}
	return nil
}

// DeleteProgression removes an attempt together with its interview and recordings.
func (s *SQLite) DeleteProgression(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM step_progressions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete progression %s: %w", id, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("progression %s: %w", id, ErrNotFound)
	}
	return nil
}

const progressionColumns = `id, step_id, attempt_id, call_sid, started_at, completed_at, created_at`

func scanProgression(row *sql.Row) (*model.StepProgression, error) {
	var p model.StepProgression
	var callSID, started, completed sql.NullString
	var created string
	if err := row.Scan(&p.ID, &p.StepID, &p.AttemptID, &callSID, &started, &completed, &created); err != nil {
		return nil, err
	}
	p.CallSID = model.SID(callSID.String)
	var err error
	if p.StartedAt, err = parseNullTime(started); err != nil {
		return nil, err
	}
	if p.CompletedAt, err = parseNullTime(completed); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLite) GetProgression(ctx context.Context, id string) (*model.StepProgression, error) {
	p, err := scanProgression(s.db.QueryRowContext(ctx,
		`SELECT `+progressionColumns+` FROM step_progressions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("progression %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get progression %s: %w", id, err)
	}
	return p, nil
}

// GetProgressionByCallSID resolves the attempt that currently owns sid.
func (s *SQLite) GetProgressionByCallSID(ctx context.Context, sid model.SID) (*model.StepProgression, error) {
	if sid == "" {
		return nil, fmt.Errorf("empty call sid: %w", ErrNotFound)
	}
	p, err := scanProgression(s.db.QueryRowContext(ctx,
		`SELECT `+progressionColumns+` FROM step_progressions WHERE call_sid = ?`, string(sid)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("call %s: %w", sid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get progression by call %s: %w", sid, err)
	}
	return p, nil
}

// AssignCall makes sid the attempt's active call, detaching it from any other
// attempt in the same transaction.
func (s *SQLite) AssignCall(ctx context.Context, id string, sid model.SID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE step_progressions SET call_sid = NULL WHERE call_sid = ? AND id != ?`, string(sid), id); err != nil {
		return fmt.Errorf("detach call %s: %w", sid, err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE step_progressions SET call_sid = ? WHERE id = ?`, nullString(string(sid)), id)
	if err != nil {
		return fmt.Errorf("assign call %s to %s: %w", sid, id, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("progression %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// MarkStarted sets started_at unless it is already set.
func (s *SQLite) MarkStarted(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE step_progressions SET started_at = COALESCE(started_at, ?) WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark started %s: %w", id, err)
	}
	return nil
}

// MarkCompleted sets completed_at if it is still unset and reports whether
// this call was the one that set it.
func (s *SQLite) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE step_progressions SET completed_at = ? WHERE id = ? AND completed_at IS NULL`, formatTime(at), id)
	if err != nil {
		return false, fmt.Errorf("mark completed %s: %w", id, err)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetProgression(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}
