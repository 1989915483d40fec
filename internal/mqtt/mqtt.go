// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/drain-monitor/internal/control"
)

// Topics.
const (
	// TopicStatus carries the periodic status document.
	TopicStatus = "drain-monitor/status"
	// TopicEvents carries one message per state transition.
	TopicEvents = "drain-monitor/events"
	// TopicSystem carries lifecycle events (retained) and the LWT.
	TopicSystem = "drain-monitor/system"
)

// Lifecycle event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventRestart     = "RESTART"
	EventOffline     = "OFFLINE"
	EventReconnected = "RECONNECTED"
)

// Publisher publishes telemetry to MQTT.
type Publisher interface {
	// Publish sends a state transition to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(tr control.Transition) error

	// PublishStatus sends a pre-formatted status document.
	PublishStatus(payload []byte) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, restart).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "RESTART"
	Reason     string // e.g., "SIGTERM", "reset_button"
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a transition.
type Payload struct {
	Transition TransitionPayload `json:"transition"`
}

// TransitionPayload contains the transition details.
type TransitionPayload struct {
	Timestamp string `json:"timestamp"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reason    string `json:"reason"`
	Level     int    `json:"level"`
	CycleID   string `json:"cycle_id,omitempty"`
	// 1-based sensor that broke the column on a sequence error.
	Sensor int `json:"sensor,omitempty"`
}

// FormatPayload creates the JSON payload for a transition.
func FormatPayload(tr control.Transition) ([]byte, error) {
	payload := Payload{
		Transition: TransitionPayload{
			Timestamp: tr.At.UTC().Format(time.RFC3339Nano),
			From:      tr.From.String(),
			To:        tr.To.String(),
			Reason:    string(tr.Reason),
			Level:     tr.Level,
			CycleID:   tr.CycleID,
		},
	}
	if tr.Violation != nil {
		payload.Transition.Sensor = tr.Violation.Sensor
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}
