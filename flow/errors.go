// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package flow

import (
	"errors"

	"github.com/sprucehealth/audiointerview/store"
)

var (
	// ErrNotFound means the callback could not be tied to an attempt.
	ErrNotFound = store.ErrNotFound
	// ErrInvalidRequest means a required parameter is missing or inconsistent.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrAlreadyCompleted guards operator actions on finished attempts.
	ErrAlreadyCompleted = errors.New("step already completed")
	// ErrNoPrompts means the step has nothing to record answers against.
	ErrNoPrompts = errors.New("audio recording unavailable for this step")
	// ErrCallMismatch means the call SID supplied does not own the attempt.
	ErrCallMismatch = errors.New("call does not belong to this step progression")
)
