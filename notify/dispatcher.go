// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sprucehealth/audiointerview/clock"
	ilog "github.com/sprucehealth/audiointerview/log"
	"github.com/sprucehealth/audiointerview/metrics"
)

const defaultPublishTimeout = 2 * time.Second

type envelope struct {
	channel string
	msg     Message
}

// Dispatcher queues notifications and publishes them from a single worker
// goroutine. A full queue drops the event.
type Dispatcher struct {
	pub     Publisher
	clock   clock.Clock
	logger  zerolog.Logger
	timeout time.Duration

	queue  chan envelope
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

type DispatcherOption func(*Dispatcher)

func WithClock(c clock.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

func WithLogger(l zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func WithPublishTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// NewDispatcher starts the worker. Close must be called to stop it.
func NewDispatcher(pub Publisher, queueSize int, opts ...DispatcherOption) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		pub:     pub,
		clock:   clock.NewAutoClock(),
		logger:  ilog.WithComponent("notify"),
		timeout: defaultPublishTimeout,
		queue:   make(chan envelope, queueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify enqueues an event without blocking.
func (d *Dispatcher) Notify(ctx context.Context, channel, event string, payload map[string]any) {
	env := envelope{channel: channel, msg: Message{Event: event, Payload: payload, SentAt: d.clock.Now()}}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.IncNotification("dropped")
		return
	}
	select {
	case d.queue <- env:
	default:
		metrics.IncNotification("dropped")
		l := ilog.WithContext(ctx, d.logger)
		l.Warn().
			Str(ilog.FieldChannel, channel).
			Str(ilog.FieldEvent, event).
			Msg("notification queue full, dropping event")
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for env := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.pub.Publish(ctx, env.channel, env.msg)
		cancel()
		if err != nil {
			metrics.IncNotification("failed")
			d.logger.Warn().Err(err).
				Str(ilog.FieldChannel, env.channel).
				Str(ilog.FieldEvent, env.msg.Event).
				Msg("notification delivery failed")
			continue
		}
		metrics.IncNotification("published")
	}
}

// Close stops accepting events, drains the queue and waits for the worker.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
