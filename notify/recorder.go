// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package notify

import (
	"context"
	"sync"
)

// Recorded is one event captured by a Recorder.
type Recorded struct {
	Channel string         `json:"channel"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Recorder keeps every event in memory. It satisfies both Notifier and Publisher.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(_ context.Context, channel, event string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Channel: channel, Event: event, Payload: payload})
}

func (r *Recorder) Publish(ctx context.Context, channel string, msg Message) error {
	r.Notify(ctx, channel, msg.Event, msg.Payload)
	return nil
}

// All returns a copy of everything recorded so far.
func (r *Recorder) All() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// Events returns the event names sent to channel, in order.
func (r *Recorder) Events(channel string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Channel == channel {
			out = append(out, e.Event)
		}
	}
	return out
}

// Count returns how many times event was sent to channel.
func (r *Recorder) Count(channel, event string) int {
	n := 0
	for _, e := range r.Events(channel) {
		if e == event {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
