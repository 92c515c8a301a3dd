// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package flow

import (
	"net/url"
	"strconv"
	"strings"
)

// Routes builds the absolute callback URLs embedded in voice documents. The
// paths must stay in sync with the router in httpapi.
type Routes struct {
	BaseURL string
}

func NewRoutes(baseURL string) Routes {
	return Routes{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (r Routes) build(path string, q url.Values) string {
	u := r.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (r Routes) step(id, action string) string {
	return r.build("/voice/"+url.PathEscape(id)+"/"+action, nil)
}

func (r Routes) prompt(id, promptID, action string) string {
	return r.build("/voice/"+url.PathEscape(id)+"/prompts/"+url.PathEscape(promptID)+"/"+action, nil)
}

func connectQuery(reconnect bool, connectionType string) url.Values {
	q := url.Values{}
	if reconnect {
		q.Set("reconnect", "true")
	}
	if connectionType != "" {
		q.Set("connection_type", connectionType)
	}
	return q
}

func (r Routes) Verify(id string, reconnect bool, connectionType string) string {
	return r.build("/voice/"+url.PathEscape(id)+"/verify", connectQuery(reconnect, connectionType))
}

func (r Routes) Start(id string, reconnect bool, connectionType string) string {
	return r.build("/voice/"+url.PathEscape(id)+"/start", connectQuery(reconnect, connectionType))
}

func (r Routes) GatherInitial(id string) string { return r.step(id, "gather_initial") }
func (r Routes) Advance(id string) string       { return r.step(id, "advance") }
func (r Routes) Outro(id string) string         { return r.step(id, "outro") }
func (r Routes) EndCall(id string) string       { return r.step(id, "end_call") }
func (r Routes) Error(id string) string         { return r.step(id, "error") }
func (r Routes) Status(id string) string        { return r.step(id, "status") }

func (r Routes) PracticePrompt(id string) string { return r.step(id, "practice/prompt") }
func (r Routes) ContinueToPracticeRecord(id string) string {
	return r.step(id, "practice/continue_to_record")
}
func (r Routes) PracticeRecord(id string) string     { return r.step(id, "practice/record") }
func (r Routes) PracticeRecordDone(id string) string { return r.step(id, "practice/record_done") }
func (r Routes) PracticeWait(id string) string       { return r.step(id, "practice/wait") }
func (r Routes) PracticePlayback(id string) string   { return r.step(id, "practice/playback") }

func (r Routes) PlayPrompt(id, promptID string) string {
	return r.prompt(id, promptID, "play")
}

func (r Routes) ContinueToRecord(id, promptID string) string {
	return r.prompt(id, promptID, "continue_to_record")
}

func (r Routes) ContinueToRecordDone(id, promptID string) string {
	return r.prompt(id, promptID, "continue_to_record_done")
}

func (r Routes) Record(id, promptID string) string {
	return r.prompt(id, promptID, "record")
}

func (r Routes) RecordingDone(id, promptID string) string {
	return r.prompt(id, promptID, "recording_done")
}

// Incoming is the entry point for candidates calling in with a PIN.
func (r Routes) Incoming() string { return r.build("/voice/incoming", nil) }

func (r Routes) VerifyPIN(attempt int) string {
	return r.build("/voice/incoming/verify_pin", url.Values{"attempt": {strconv.Itoa(attempt)}})
}
