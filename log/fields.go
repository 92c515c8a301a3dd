// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package log

// Common field names so log queries stay stable across packages.
const (
	FieldService           = "service"
	FieldComponent         = "component"
	FieldRequestID         = "request_id"
	FieldStepProgressionID = "step_progression_id"
	FieldCallSID           = "call_sid"
	FieldPromptID          = "prompt_id"
	FieldEvent             = "event"
	FieldCallStatus        = "call_status"
	FieldAction            = "action"
	FieldChannel           = "channel"
)
