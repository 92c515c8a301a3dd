// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/sprucehealth/audiointerview/flow"
	"github.com/sprucehealth/audiointerview/model"
	"github.com/sprucehealth/audiointerview/voice"
)

// Kept in sync with flow.Routes.
var stepRoutes = []struct {
	path string
	kind flow.EventKind
}{
	{"verify", flow.EventVerify},
	{"start", flow.EventStart},
	{"gather_initial", flow.EventGatherInitial},
	{"advance", flow.EventAdvance},
	{"outro", flow.EventOutro},
	{"end_call", flow.EventEndCall},
	{"error", flow.EventError},
	{"practice/prompt", flow.EventPracticePrompt},
	{"practice/continue_to_record", flow.EventContinueToPracticeRecord},
	{"practice/record", flow.EventPracticeRecord},
	{"practice/record_done", flow.EventPracticeRecordDone},
	{"practice/wait", flow.EventPracticeWait},
	{"practice/playback", flow.EventPracticePlayback},
}

var promptRoutes = []struct {
	path string
	kind flow.EventKind
}{
	{"play", flow.EventPlayPrompt},
	{"continue_to_record", flow.EventContinueToRecord},
	{"continue_to_record_done", flow.EventContinueToRecordDone},
	{"record", flow.EventRecord},
	{"recording_done", flow.EventRecordingDone},
}

const missingCallParams = "Request is missing valid call parameters"

func recordingFrom(r *http.Request) flow.Recording {
	duration, _ := strconv.Atoi(r.PostFormValue("RecordingDuration"))
	return flow.Recording{
		URL:      r.PostFormValue("RecordingUrl"),
		SID:      r.PostFormValue("RecordingSid"),
		Duration: duration,
	}
}

func eventFrom(r *http.Request, kind flow.EventKind) flow.Event {
	q := r.URL.Query()
	return flow.Event{
		Kind:              kind,
		StepProgressionID: chi.URLParam(r, "id"),
		CallSID:           model.SID(r.PostFormValue("CallSid")),
		PromptID:          chi.URLParam(r, "promptID"),
		Digits:            r.PostFormValue("Digits"),
		Recording:         recordingFrom(r),
		Reconnect:         q.Get("reconnect") == "true",
		ConnectionType:    q.Get("connection_type"),
	}
}

func (s *Server) flowHandler(kind flow.EventKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := s.ctl.Handle(r.Context(), eventFrom(r, kind))
		if err != nil {
			s.flowError(w, r, err)
			return
		}
		s.writeDocument(w, r, doc)
	}
}

// flowError answers a failed callback. Requests that cannot be tied to an
// attempt are rejected; anything else still gets a playable document so the
// caller hears the error message instead of dead air.
func (s *Server) flowError(w http.ResponseWriter, r *http.Request, err error) {
	logger := hlog.FromRequest(r)
	if errors.Is(err, flow.ErrNotFound) || errors.Is(err, flow.ErrInvalidRequest) {
		logger.Info().Err(err).Msg("callback rejected")
		http.Error(w, missingCallParams, http.StatusBadRequest)
		return
	}
	logger.Error().Err(err).Msg("callback failed")
	s.writeDocument(w, r, s.ctl.ErrorDocument())
}

func (s *Server) writeDocument(w http.ResponseWriter, r *http.Request, doc *voice.Document) {
	out, err := voice.Render(doc)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("render voice document")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write([]byte(out))
}

func (s *Server) statusCallback(w http.ResponseWriter, r *http.Request) {
	_, err := s.status.Handle(r.Context(), flow.StatusEvent{
		StepProgressionID: chi.URLParam(r, "id"),
		CallSID:           model.SID(r.PostFormValue("CallSid")),
		Status:            model.CallStatus(r.PostFormValue("CallStatus")),
		Recording:         recordingFrom(r),
		SIPResponseCode:   r.PostFormValue("SipResponseCode"),
		To:                r.PostFormValue("To"),
	})
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, flow.ErrNotFound), errors.Is(err, flow.ErrInvalidRequest):
		hlog.FromRequest(r).Info().Err(err).Msg("status callback rejected")
		http.Error(w, missingCallParams, http.StatusBadRequest)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("status callback failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) incomingCall(w http.ResponseWriter, r *http.Request) {
	s.writeDocument(w, r, s.ctl.IncomingCall(r.Context()))
}

func (s *Server) verifyPIN(w http.ResponseWriter, r *http.Request) {
	attempt, err := strconv.Atoi(r.URL.Query().Get("attempt"))
	if err != nil || attempt < 1 {
		attempt = 1
	}
	doc, err := s.ctl.VerifyPIN(r.Context(), model.SID(r.PostFormValue("CallSid")), r.PostFormValue("Digits"), attempt)
	if err != nil {
		s.flowError(w, r, err)
		return
	}
	s.writeDocument(w, r, doc)
}
