// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package httpapi exposes the call flow over HTTP: provider webhooks under
// /voice and the candidate page's JSON API under /api.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sprucehealth/audiointerview/flow"
	ilog "github.com/sprucehealth/audiointerview/log"
)

// Options configures the HTTP layer.
type Options struct {
	// PublicURL is the externally visible base URL the provider signs
	// requests against.
	PublicURL          string
	AuthToken          string
	ValidateSignatures bool
	// Per-IP requests per minute; zero disables the limit.
	ConnectRateLimit   int
	VerifyPINRateLimit int
	HealthCheck        func(ctx context.Context) error
	Logger             *zerolog.Logger
}

// Server routes HTTP requests to a flow.Controller.
type Server struct {
	ctl    *flow.Controller
	status *flow.StatusHandler
	opts   Options
	logger zerolog.Logger
}

func NewServer(ctl *flow.Controller, opts Options) *Server {
	logger := ilog.WithComponent("http")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &Server{
		ctl:    ctl,
		status: ctl.StatusHandler(),
		opts:   opts,
		logger: logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	s.applyLogging(r)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/voice", func(r chi.Router) {
		if s.opts.ValidateSignatures {
			r.Use(s.validateSignature)
		}
		r.Post("/incoming", s.incomingCall)
		r.With(rateLimit(s.opts.VerifyPINRateLimit, time.Minute)).Post("/incoming/verify_pin", s.verifyPIN)
		r.Post("/status", s.statusCallback)

		r.Route("/{id}", func(r chi.Router) {
			r.Post("/status", s.statusCallback)
			for _, rt := range stepRoutes {
				r.Post("/"+rt.path, s.flowHandler(rt.kind))
			}
			r.Route("/prompts/{promptID}", func(r chi.Router) {
				for _, rt := range promptRoutes {
					r.Post("/"+rt.path, s.flowHandler(rt.kind))
				}
			})
		})
	})

	r.Route("/api/step_progressions/{id}", func(r chi.Router) {
		r.Get("/initial_data", s.initialData)
		limited := r.With(rateLimit(s.opts.ConnectRateLimit, time.Minute))
		limited.Post("/connect", s.connect)
		limited.Post("/update_call", s.updateCall)
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.opts.HealthCheck != nil {
		if err := s.opts.HealthCheck(r.Context()); err != nil {
			ilog.FromContext(r.Context()).Warn().Err(err).Msg("health check failed")
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
