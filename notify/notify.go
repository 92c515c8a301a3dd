// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package notify delivers best-effort lifecycle events for an interview
// attempt to browser observers. Delivery never blocks a provider callback and
// failures are only logged.
package notify

import (
	"context"
	"strings"
	"time"
)

const channelPrefix = "audio_interview:"

// Channel returns the observer channel for an attempt.
func Channel(progressionID string) string {
	return channelPrefix + progressionID
}

// ProgressionFromChannel is the inverse of Channel.
func ProgressionFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, channelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(channel, channelPrefix), true
}

// Notifier accepts lifecycle events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, channel, event string, payload map[string]any)
}

// Message is the wire form of one lifecycle event.
type Message struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// Publisher delivers a message to a channel synchronously.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg Message) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, map[string]any) {}
