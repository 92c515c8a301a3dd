// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package store

import (
	"context"
	"fmt"
)

// migrations[i] upgrades the schema from user_version i to i+1.
var migrations = []string{
	`
	CREATE TABLE steps (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		redo_limit INTEGER NOT NULL DEFAULT 0,
		play_practice_prompt INTEGER NOT NULL DEFAULT 0,
		skip_outro INTEGER NOT NULL DEFAULT 0,
		custom_intro_url TEXT NOT NULL DEFAULT '',
		custom_outro_url TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		country_code TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE audio_prompts (
		id TEXT PRIMARY KEY,
		step_id TEXT NOT NULL REFERENCES steps(id) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		text_to_speech_url TEXT NOT NULL DEFAULT '',
		record_after_prompt INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		UNIQUE (step_id, sequence)
	);

	CREATE TABLE step_progressions (
		id TEXT PRIMARY KEY,
		step_id TEXT NOT NULL REFERENCES steps(id),
		attempt_id TEXT NOT NULL,
		call_sid TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX idx_step_progressions_call_sid ON step_progressions(call_sid) WHERE call_sid IS NOT NULL;

	CREATE TABLE audio_interviews (
		step_progression_id TEXT PRIMARY KEY REFERENCES step_progressions(id) ON DELETE CASCADE,
		current_prompt_id TEXT,
		practice_started INTEGER NOT NULL DEFAULT 0,
		final_status TEXT NOT NULL DEFAULT '',
		debug_connection_type TEXT NOT NULL DEFAULT '',
		debug_has_verified INTEGER NOT NULL DEFAULT 0,
		debug_has_practiced INTEGER NOT NULL DEFAULT 0,
		debug_idle INTEGER NOT NULL DEFAULT 0,
		debug_disconnect_count INTEGER NOT NULL DEFAULT 0,
		debug_failed_to_connect_count INTEGER NOT NULL DEFAULT 0,
		debug_call_failed INTEGER NOT NULL DEFAULT 0,
		skip_disconnect INTEGER NOT NULL DEFAULT 0,
		ended_notified INTEGER NOT NULL DEFAULT 0,
		practice_recording_url TEXT NOT NULL DEFAULT '',
		recording_url TEXT NOT NULL DEFAULT '',
		recording_sid TEXT NOT NULL DEFAULT '',
		recording_duration INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE audio_recordings (
		id TEXT PRIMARY KEY,
		step_progression_id TEXT NOT NULL REFERENCES step_progressions(id) ON DELETE CASCADE,
		prompt_id TEXT NOT NULL REFERENCES audio_prompts(id),
		url TEXT NOT NULL,
		sid TEXT NOT NULL DEFAULT '',
		duration INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		superseded_at TEXT
	);
	CREATE UNIQUE INDEX idx_audio_recordings_live ON audio_recordings(step_progression_id, prompt_id) WHERE superseded_at IS NULL;

	CREATE TABLE call_status_events (
		call_sid TEXT NOT NULL,
		status TEXT NOT NULL,
		step_progression_id TEXT NOT NULL REFERENCES step_progressions(id) ON DELETE CASCADE,
		received_at TEXT NOT NULL,
		PRIMARY KEY (call_sid, status)
	);
	`,
}

// SchemaVersion is the user_version after all migrations have run.
var SchemaVersion = len(migrations)

// Migrate applies pending migrations, each in its own transaction.
func (s *SQLite) Migrate(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	for v := current; v < len(migrations); v++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
