// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/sprucehealth/audiointerview/flow"
	"github.com/sprucehealth/audiointerview/model"
	"github.com/sprucehealth/audiointerview/telephony"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type connectBody struct {
	Phone     string `json:"phone"`
	Reconnect bool   `json:"reconnect"`
}

type updateCallBody struct {
	CallSID string `json:"call_sid"`
	Action  string `json:"action"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError maps controller errors onto the candidate API's status codes.
func apiError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *telephony.ProviderError
	switch {
	case errors.As(err, &pe):
		hlog.FromRequest(r).Warn().Err(err).Msg("provider rejected request")
		status := http.StatusUnprocessableEntity
		if pe.Kind == telephony.KindUnavailable {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, errorBody{Error: string(pe.Kind), Message: pe.Message})
	case errors.Is(err, flow.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
	case errors.Is(err, flow.ErrNoPrompts):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "no_prompts", Message: err.Error()})
	case errors.Is(err, flow.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
	case errors.Is(err, flow.ErrAlreadyCompleted):
		writeJSON(w, http.StatusConflict, errorBody{Error: "already_completed", Message: err.Error()})
	case errors.Is(err, flow.ErrCallMismatch):
		writeJSON(w, http.StatusConflict, errorBody{Error: "call_mismatch", Message: err.Error()})
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("api request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}

func (s *Server) initialData(w http.ResponseWriter, r *http.Request) {
	data, err := s.ctl.InitialData(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	var body connectBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "malformed JSON body"})
		return
	}
	res, err := s.ctl.Connect(r.Context(), flow.ConnectRequest{
		StepProgressionID: chi.URLParam(r, "id"),
		Phone:             body.Phone,
		Reconnect:         body.Reconnect,
	})
	if err != nil {
		apiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) updateCall(w http.ResponseWriter, r *http.Request) {
	var body updateCallBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "malformed JSON body"})
		return
	}
	res, err := s.ctl.UpdateCall(r.Context(), chi.URLParam(r, "id"), model.SID(body.CallSID), flow.CallAction(body.Action))
	if err != nil {
		apiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
