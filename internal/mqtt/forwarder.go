package mqtt

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sweeney/drain-monitor/internal/control"
)

// DefaultQueueSize is the Forwarder queue length.
const DefaultQueueSize = 64

type outbound struct {
	tr  *control.Transition
	sys *SystemEvent
}

// Forwarder moves publishing off the control loop. The loop enqueues without
// blocking; Run publishes on its own goroutine and also sends the status
// document every interval. A full queue drops the message.
type Forwarder struct {
	pub      Publisher
	status   func() []byte
	interval time.Duration
	queue    chan outbound
	onError  func(error)
	dropped  atomic.Int64
}

// NewForwarder creates a Forwarder. status builds the periodic status
// document; with a nil status or a non-positive interval none is sent.
func NewForwarder(pub Publisher, status func() []byte, interval time.Duration, size int) *Forwarder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Forwarder{
		pub:      pub,
		status:   status,
		interval: interval,
		queue:    make(chan outbound, size),
	}
}

// OnError registers a callback for publish failures. Call before Run.
func (f *Forwarder) OnError(fn func(error)) {
	f.onError = fn
}

// EnqueueTransition queues a transition. It never blocks and reports false
// when the message was dropped.
func (f *Forwarder) EnqueueTransition(tr control.Transition) bool {
	return f.enqueue(outbound{tr: &tr})
}

// EnqueueSystem queues a lifecycle event. It never blocks and reports false
// when the message was dropped.
func (f *Forwarder) EnqueueSystem(ev SystemEvent) bool {
	return f.enqueue(outbound{sys: &ev})
}

func (f *Forwarder) enqueue(m outbound) bool {
	select {
	case f.queue <- m:
		return true
	default:
		f.dropped.Add(1)
		slog.Warn("mqtt queue full, dropping message", "queue", cap(f.queue))
		return false
	}
}

// Dropped returns how many messages were dropped because the queue was full.
func (f *Forwarder) Dropped() int64 {
	return f.dropped.Load()
}

// Run publishes until ctx is done, then flushes whatever is still queued.
func (f *Forwarder) Run(ctx context.Context) {
	var tick <-chan time.Time
	if f.status != nil && f.interval > 0 {
		t := time.NewTicker(f.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			f.Flush()
			return
		case m := <-f.queue:
			f.send(m)
		case <-tick:
			f.PublishStatus()
		}
	}
}

// Flush publishes every queued message and returns once the queue is empty.
func (f *Forwarder) Flush() {
	for {
		select {
		case m := <-f.queue:
			f.send(m)
		default:
			return
		}
	}
}

// PublishStatus sends the status document now.
func (f *Forwarder) PublishStatus() {
	if f.status == nil {
		return
	}
	if err := f.pub.PublishStatus(f.status()); err != nil {
		f.fail("status", err)
	}
}

func (f *Forwarder) send(m outbound) {
	switch {
	case m.tr != nil:
		if err := f.pub.Publish(*m.tr); err != nil {
			f.fail("transition", err)
		}
	case m.sys != nil:
		if err := f.pub.PublishSystem(*m.sys); err != nil {
			f.fail("system "+m.sys.Event, err)
		} else {
			slog.Info("published system event", "event", m.sys.Event)
		}
	}
}

func (f *Forwarder) fail(what string, err error) {
	slog.Warn("mqtt publish failed", "message", what, "err", err)
	if f.onError != nil {
		f.onError(err)
	}
}
