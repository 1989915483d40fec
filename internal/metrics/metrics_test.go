package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/drain-monitor/internal/alarm"
	"github.com/sweeney/drain-monitor/internal/control"
	"github.com/sweeney/drain-monitor/internal/level"
	"github.com/sweeney/drain-monitor/internal/pump"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveStatus(t *testing.T) {
	m := New()
	m.ObserveStatus(control.Status{
		State:    control.StateError,
		Level:    2,
		MaxLevel: level.NumSensors,
		Sensors:  [level.NumSensors]bool{true, true},
		Pump: pump.Record{
			Mode:                 pump.ModeEmergency,
			Running:              true,
			CyclesCompleted:      4,
			LastCycleDuration:    80 * time.Second,
			AverageCycleDuration: 50 * time.Second,
			EmergencyDuration:    90 * time.Second,
			TotalRunTime:         210 * time.Second,
		},
		Alarm: alarm.PatternErrorBlink,
	})

	out := scrape(t, m)
	assert.Contains(t, out, "drain_level 2")
	assert.Contains(t, out, `drain_sensor_active{sensor="2"} 1`)
	assert.Contains(t, out, `drain_sensor_active{sensor="3"} 0`)
	assert.Contains(t, out, `drain_state{state="error"} 1`)
	assert.Contains(t, out, `drain_state{state="idle"} 0`)
	assert.Contains(t, out, `drain_pump_mode{mode="emergency"} 1`)
	assert.Contains(t, out, `drain_pump_mode{mode="on"} 0`)
	assert.Contains(t, out, "drain_pump_running 1")
	assert.Contains(t, out, `drain_alarm_pattern{pattern="error"} 1`)
	assert.Contains(t, out, "drain_pump_cycles_today 4")
	assert.Contains(t, out, "drain_pump_last_cycle_seconds 80")
	assert.Contains(t, out, "drain_pump_average_cycle_seconds 50")
	assert.Contains(t, out, "drain_pump_emergency_duration_seconds 90")
	assert.Contains(t, out, "drain_pump_run_time_today_seconds 210")
}

func TestObserveTransition(t *testing.T) {
	m := New()
	m.ObserveTransition(control.Transition{From: control.StateFilling, To: control.StateError, Reason: control.ReasonSequenceError})
	m.ObserveTransition(control.Transition{From: control.StateFilling, To: control.StateError, Reason: control.ReasonSequenceError})
	m.ObserveTransition(control.Transition{From: control.StateError, To: control.StateIdle, Reason: control.ReasonEmergencyTimeout})

	out := scrape(t, m)
	assert.Contains(t, out, `drain_transitions_total{from="filling",reason="sequence_error",to="error"} 2`)
	assert.Contains(t, out, `drain_transitions_total{from="error",reason="emergency_timeout",to="idle"} 1`)
	assert.Contains(t, out, "drain_sequence_errors_total 2")
}

func TestObserveIOErrorAndMQTT(t *testing.T) {
	m := New()
	m.ObserveIOError("tick")
	m.ObserveIOError("mqtt_publish")
	m.ObserveIOError("tick")
	m.SetMQTTConnected(true)

	out := scrape(t, m)
	assert.Contains(t, out, `drain_io_errors_total{op="tick"} 2`)
	assert.Contains(t, out, `drain_io_errors_total{op="mqtt_publish"} 1`)
	assert.Contains(t, out, "drain_mqtt_connected 1")
	assert.Contains(t, out, "go_goroutines")
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveIOError("tick")

	assert.NotContains(t, scrape(t, b), `drain_io_errors_total{op="tick"}`)
}
