// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package store

import (
	"context"
	"fmt"

	"github.com/sprucehealth/audiointerview/model"
)

// StatusEffect is the change a terminal call status makes to an interview.
type StatusEffect int

const (
	EffectNone StatusEffect = iota
	// EffectEnded flips ended_notified.
	EffectEnded
	EffectFailedToConnect
	EffectCallFailed
	EffectDisconnect
)

func (e StatusEffect) String() string {
	switch e {
	case EffectNone:
		return "none"
	case EffectEnded:
		return "ended"
	case EffectFailedToConnect:
		return "failed_to_connect"
	case EffectCallFailed:
		return "call_failed"
	case EffectDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("StatusEffect(%d)", int(e))
	}
}

// counts reports whether the effect is a disconnect that skip_disconnect absorbs.
func (e StatusEffect) counts() bool {
	return e == EffectFailedToConnect || e == EffectCallFailed || e == EffectDisconnect
}

func (e StatusEffect) set() string {
	switch e {
	case EffectFailedToConnect:
		return `debug_failed_to_connect_count = debug_failed_to_connect_count + 1`
	case EffectCallFailed:
		return `debug_call_failed = 1`
	default:
		return `debug_disconnect_count = debug_disconnect_count + 1`
	}
}

// StatusApplied reports what ApplyStatusEvent did.
type StatusApplied struct {
	// Duplicate means (call SID, status) was delivered before; nothing changed.
	Duplicate bool
	// Skipped means an armed skip_disconnect absorbed the event.
	Skipped bool
	// Changed means the effect altered the interview.
	Changed bool
}

// ApplyStatusEvent records the first delivery of (callSID, status) and applies
// effect in the same transaction. A failed effect leaves the delivery
// unrecorded, so the provider's retry is applied rather than treated as a
// duplicate. Disconnect effects first consume an armed skip_disconnect and
// change nothing else when it was set. An empty callSID is never deduplicated.
func (s *SQLite) ApplyStatusEvent(ctx context.Context, progressionID string, callSID model.SID, status model.CallStatus, effect StatusEffect) (StatusApplied, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StatusApplied{}, err
	}
	defer func() { _ = tx.Rollback() }()
	now := s.now()

	if callSID != "" {
		res, err := tx.ExecContext(ctx, `
		INSERT INTO call_status_events (call_sid, status, step_progression_id, received_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(call_sid, status) DO NOTHING`, string(callSID), string(status), progressionID, now)
		if err != nil {
			return StatusApplied{}, fmt.Errorf("record status %s/%s: %w", callSID, status, err)
		}
		n, err := affected(res)
		if err != nil {
			return StatusApplied{}, err
		}
		if n == 0 {
			return StatusApplied{Duplicate: true}, nil
		}
	}

	update := func(set, where string) (int64, error) {
		query := `UPDATE audio_interviews SET ` + set + `, updated_at = ? WHERE step_progression_id = ?`
		if where != "" {
			query += ` AND ` + where
		}
		res, err := tx.ExecContext(ctx, query, now, progressionID)
		if err != nil {
			return 0, fmt.Errorf("apply %s for %s to %s: %w", effect, status, progressionID, err)
		}
		return affected(res)
	}

	var out StatusApplied
	switch {
	case effect == EffectNone:
	case effect == EffectEnded:
		n, err := update(`ended_notified = 1`, `ended_notified = 0`)
		if err != nil {
			return StatusApplied{}, err
		}
		out.Changed = n == 1
	case effect.counts():
		n, err := update(`skip_disconnect = 0`, `skip_disconnect = 1`)
		if err != nil {
			return StatusApplied{}, err
		}
		if n == 1 {
			out.Skipped = true
			break
		}
		n, err = update(effect.set(), "")
		if err != nil {
			return StatusApplied{}, err
		}
		if n == 0 {
			return StatusApplied{}, fmt.Errorf("interview %s: %w", progressionID, ErrNotFound)
		}
		out.Changed = true
	default:
		return StatusApplied{}, fmt.Errorf("unknown status effect %s", effect)
	}

	if err := tx.Commit(); err != nil {
		return StatusApplied{}, err
	}
	return out, nil
}
