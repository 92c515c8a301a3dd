// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package simulator

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sprucehealth/audiointerview/model"
)

// CallSummary is the console's list view of a call
type CallSummary struct {
	SID       model.SID        `json:"sid"`
	Direction Direction        `json:"direction"`
	From      string           `json:"from"`
	To        string           `json:"to"`
	Status    model.CallStatus `json:"status"`
	Requests  int              `json:"requests"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
}

// Snapshot is the console's view of every call at a point in time
type Snapshot struct {
	Calls     []CallSummary `json:"calls"`
	Timestamp time.Time     `json:"timestamp"`
}

// Snapshot summarises every call, oldest first
func (s *Simulator) Snapshot() Snapshot {
	calls := s.Calls()
	out := Snapshot{Calls: make([]CallSummary, 0, len(calls)), Timestamp: s.clock.Now()}
	for _, c := range calls {
		out.Calls = append(out.Calls, CallSummary{
			SID:       c.SID,
			Direction: c.Direction,
			From:      c.From,
			To:        c.To,
			Status:    c.Status,
			Requests:  c.Requests,
			StartedAt: c.StartedAt,
			EndedAt:   c.EndedAt,
		})
	}
	return out
}

// ConsoleHandler serves a read-only JSON view of the simulator:
//
//	GET /calls              every call
//	GET /calls/{sid}        one call with its timeline
//	GET /calls/{sid}/{type} the call's timeline entries of one type
func ConsoleHandler(s *Simulator) http.Handler {
	r := chi.NewRouter()
	r.Get("/calls", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Snapshot())
	})
	r.Get("/calls/{sid}", func(w http.ResponseWriter, r *http.Request) {
		call, ok := s.Call(model.SID(chi.URLParam(r, "sid")))
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, call)
	})
	r.Get("/calls/{sid}/{type}", func(w http.ResponseWriter, r *http.Request) {
		call, ok := s.Call(model.SID(chi.URLParam(r, "sid")))
		if !ok {
			http.NotFound(w, r)
			return
		}
		events := call.Events(chi.URLParam(r, "type"))
		if events == nil {
			events = []model.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
