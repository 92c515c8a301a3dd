// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_interview_calls_total",
		Help: "Outbound call lifecycle by outcome",
	}, []string{"outcome"}) // outcome=queued|connected|reconnected|failed

	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_interview_callbacks_total",
		Help: "Provider flow callbacks handled by event and result",
	}, []string{"event", "result"}) // result=ok|rejected|error

	completionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_interview_completions_total",
		Help: "Interviews transitioned to completed",
	})

	duplicateCompletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_interview_duplicate_completions_total",
		Help: "Completion attempts absorbed because the attempt was already complete",
	})

	statusEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_interview_status_events_total",
		Help: "Call status callbacks by classification",
	}, []string{"classification"}) // progress|ended|duplicate|skipped|failed_to_connect|call_failed|disconnected

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_interview_notifications_total",
		Help: "Lifecycle notifications by delivery outcome",
	}, []string{"outcome"}) // published|dropped|failed

	redirectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_interview_operator_redirects_total",
		Help: "Live call redirects requested by the candidate page",
	}, []string{"action"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audio_interview_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "code"})
)

func IncCall(outcome string) {
	callsTotal.WithLabelValues(outcome).Inc()
}

func IncCallback(event, result string) {
	callbacksTotal.WithLabelValues(event, result).Inc()
}

func IncCompletion() {
	completionsTotal.Inc()
}

func IncDuplicateCompletion() {
	duplicateCompletionsTotal.Inc()
}

func IncStatusEvent(classification string) {
	statusEventsTotal.WithLabelValues(classification).Inc()
}

func IncNotification(outcome string) {
	notificationsTotal.WithLabelValues(outcome).Inc()
}

func IncRedirect(action string) {
	redirectsTotal.WithLabelValues(action).Inc()
}

// ObserveRequest records the latency of a finished HTTP request.
func ObserveRequest(route, code string, d time.Duration) {
	requestDuration.WithLabelValues(route, code).Observe(d.Seconds())
}
