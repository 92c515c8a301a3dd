// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package httpapi

import (
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	twilioclient "github.com/twilio/twilio-go/client"

	ilog "github.com/sprucehealth/audiointerview/log"
	"github.com/sprucehealth/audiointerview/metrics"
)

const (
	headerRequestID = "X-Request-ID"
	headerSignature = "X-Twilio-Signature"
)

// applyLogging attaches a request-scoped logger, a request ID and the access
// log, which also feeds the request latency histogram.
func (s *Server) applyLogging(r chi.Router) {
	r.Use(hlog.NewHandler(s.logger))
	r.Use(requestID)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.ObserveRequest(route, strconv.Itoa(status), d)
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	}))
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str(ilog.FieldRequestID, id)
		})
		next.ServeHTTP(w, r.WithContext(ilog.ContextWithRequestID(r.Context(), id)))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 8192)
				n := runtime.Stack(buf, false)
				s.logger.Error().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("panic_value", fmt.Sprint(rec)).
					Str("stack_trace", string(buf[:n])).
					Msg("panic recovered in HTTP handler")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// validateSignature rejects webhooks that were not signed with the
// account's auth token.
func (s *Server) validateSignature(next http.Handler) http.Handler {
	validator := twilioclient.NewRequestValidator(s.opts.AuthToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "malformed form body", http.StatusBadRequest)
			return
		}
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		target := s.opts.PublicURL + r.URL.RequestURI()
		if !validator.Validate(target, params, r.Header.Get(headerSignature)) {
			hlog.FromRequest(r).Warn().Str("url", target).Msg("webhook signature rejected")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimit(perMinute int, window time.Duration) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(perMinute, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limit_exceeded"})
		}),
	)
}
