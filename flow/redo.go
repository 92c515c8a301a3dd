// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package flow

// CanRedo reports whether a prompt may be recorded again. A limit of zero (or
// less) is unlimited; otherwise the number of answers already captured for the
// prompt must be below the limit.
func CanRedo(redoLimit, captured int) bool {
	if redoLimit <= 0 {
		return true
	}
	return captured < redoLimit
}
