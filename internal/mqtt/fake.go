package mqtt

import (
	"sync"

	"github.com/sweeney/drain-monitor/internal/control"
)

// FakePublisher records published messages for test assertions.
// Safe for concurrent use: the Forwarder publishes from its own goroutine.
type FakePublisher struct {
	mu sync.Mutex

	transitions    []control.Transition
	payloads       [][]byte
	statuses       [][]byte
	systemEvents   []SystemEvent
	systemPayloads [][]byte

	publishErr error
	systemErr  error
	closed     bool
	connected  bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the transition.
func (f *FakePublisher) Publish(tr control.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	payload, err := FormatPayload(tr)
	if err != nil {
		return err
	}
	f.transitions = append(f.transitions, tr)
	f.payloads = append(f.payloads, payload)
	return nil
}

// PublishStatus records the status document.
func (f *FakePublisher) PublishStatus(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.statuses = append(f.statuses, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.systemErr != nil {
		return f.systemErr
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected sets the value IsConnected returns.
func (f *FakePublisher) SetConnected(c bool) {
	f.mu.Lock()
	f.connected = c
	f.mu.Unlock()
}

// SetPublishError makes Publish and PublishStatus fail.
func (f *FakePublisher) SetPublishError(err error) {
	f.mu.Lock()
	f.publishErr = err
	f.mu.Unlock()
}

// SetSystemError makes PublishSystem fail.
func (f *FakePublisher) SetSystemError(err error) {
	f.mu.Lock()
	f.systemErr = err
	f.mu.Unlock()
}

// Transitions returns a copy of the recorded transitions.
func (f *FakePublisher) Transitions() []control.Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]control.Transition(nil), f.transitions...)
}

// Payloads returns a copy of the recorded transition payloads.
func (f *FakePublisher) Payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

// Statuses returns a copy of the recorded status documents.
func (f *FakePublisher) Statuses() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.statuses...)
}

// SystemEvents returns a copy of the recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns a copy of the recorded system payloads.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded messages and injected errors.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = nil
	f.payloads = nil
	f.statuses = nil
	f.systemEvents = nil
	f.systemPayloads = nil
	f.publishErr = nil
	f.systemErr = nil
	f.closed = false
	f.connected = false
}
