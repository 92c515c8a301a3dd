// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package voice

import "time"

// Node is the interface for all voice instruction nodes
type Node interface {
	isNode()
}

// Document is the ordered set of instructions returned for one callback
type Document struct {
	Children []Node
}

// Say outputs text-to-speech
type Say struct {
	Text     string
	Voice    string
	Language string
}

func (Say) isNode() {}

// Play plays an audio file
type Play struct {
	URL string
}

func (Play) isNode() {}

// Pause waits for a specified duration
type Pause struct {
	Length time.Duration
}

func (Pause) isNode() {}

// Gather collects DTMF input. An empty FinishOnKey means no key terminates
// input early, so '#' is delivered as a digit.
type Gather struct {
	NumDigits   int
	Timeout     time.Duration
	FinishOnKey string
	Action      string
	Method      string
	Children    []Node // played while waiting for input
}

func (Gather) isNode() {}

// Record captures the caller's voice and posts the result to Action
type Record struct {
	MaxLength  time.Duration
	Timeout    time.Duration
	Trim       string // "trim-silence" or "do-not-trim"
	PlayBeep   bool
	Transcribe bool
	Action     string
	Method     string
}

func (Record) isNode() {}

// Redirect fetches new instructions from a URL
type Redirect struct {
	URL    string
	Method string
}

func (Redirect) isNode() {}

// Hangup ends the call
type Hangup struct{}

func (Hangup) isNode() {}
