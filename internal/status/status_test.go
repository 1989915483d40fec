package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/drain-monitor/internal/alarm"
	"github.com/sweeney/drain-monitor/internal/control"
	"github.com/sweeney/drain-monitor/internal/level"
	"github.com/sweeney/drain-monitor/internal/pump"
)

func start() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func pumping() control.Status {
	return control.Status{
		State:    control.StatePumping,
		Level:    7,
		MaxLevel: level.NumSensors,
		Sensors:  [level.NumSensors]bool{true, true, true, true, true, true, true},
		Sequence: level.SequenceIdle,
		Pump: pump.Record{
			Mode:                 pump.ModeOn,
			Running:              true,
			RunTime:              12*time.Second + 400*time.Millisecond,
			TotalRunTime:         4 * time.Minute,
			CyclesCompleted:      3,
			LastCycleDuration:    95 * time.Second,
			LastRunDuration:      41 * time.Second,
			AverageCycleDuration: 40 * time.Second,
		},
		Alarm:   alarm.PatternSingleBeep,
		CycleID: "5b0c8a51-7f5d-4e8e-9f6a-0d7b0f3c2d11",
	}
}

func TestNewTracker(t *testing.T) {
	cfg := Config{PollMs: 100, DebounceMs: 50, Broker: "tcp://localhost:1883", HTTPAddr: ":80"}
	tr := NewTracker(start(), cfg)

	snap := tr.Snapshot()
	assert.True(t, snap.StartTime.Equal(start()))
	assert.Equal(t, cfg, snap.Config)
	assert.False(t, snap.Ready)
	assert.False(t, snap.MQTTConnected)
	assert.Equal(t, control.StateInit, tr.State())
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(start(), Config{})
	tr.Update(pumping())

	snap := tr.Snapshot()
	assert.True(t, snap.Ready)
	assert.Equal(t, control.StatePumping, snap.System.State)
	assert.Equal(t, 3, snap.System.Pump.CyclesCompleted)
	assert.Equal(t, control.StatePumping, tr.State())
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(start(), Config{})

	tr.SetMQTTConnected(true)
	assert.True(t, tr.Snapshot().MQTTConnected)

	tr.SetMQTTConnected(false)
	assert.False(t, tr.Snapshot().MQTTConnected)
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(start(), Config{})
	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})

	snap := tr.Snapshot()
	require.NotNil(t, snap.Network)
	assert.Equal(t, "192.168.1.42", snap.Network.IP)
}

func TestSnapshotAt(t *testing.T) {
	tr := NewTracker(start(), Config{})
	snap := tr.SnapshotAt(start().Add(15 * time.Minute))

	assert.Equal(t, 15*time.Minute, snap.Uptime())
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(start(), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	assert.False(t, snap.Now.Before(before))
	assert.False(t, snap.Now.After(after))
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(start(), Config{})
	tr.Update(pumping())
	snap := tr.Snapshot()

	tr.Update(control.Status{State: control.StateIdle})

	assert.Equal(t, control.StatePumping, snap.System.State)
	assert.Equal(t, 7, snap.System.Level)
}

func TestBuildKeepsTelemetryShape(t *testing.T) {
	tr := NewTracker(start(), Config{Broker: "tcp://localhost:1883"})
	tr.Update(pumping())
	tr.SetMQTTConnected(true)

	data := FormatStatus(tr.SnapshotAt(start().Add(15 * time.Minute)))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.EqualValues(t, 7, raw["level"])
	assert.EqualValues(t, 7, raw["max_level"])
	assert.Equal(t, false, raw["error"])
	assert.Equal(t, "idle", raw["sequence"])

	pumpDoc, ok := raw["pump"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "on", pumpDoc["state"])
	assert.Equal(t, true, pumpDoc["running"])
	assert.EqualValues(t, 12, pumpDoc["runtime_s"])

	stats, ok := raw["stats"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, stats["cycles_today"])
	assert.EqualValues(t, 95, stats["last_cycle_s"])
	assert.EqualValues(t, 240, stats["total_runtime_s"])

	assert.Equal(t, "pumping", raw["state"])
	assert.Equal(t, "beep", raw["alarm"])
	assert.EqualValues(t, 900, raw["uptime_seconds"])
	assert.NotContains(t, raw, "event")
	assert.NotContains(t, raw, "reason")
	assert.NotContains(t, raw, "bad_sensor")
}

func TestBuildReportsBadSensor(t *testing.T) {
	st := pumping()
	st.State = control.StateError
	st.SequenceError = true
	st.Violation = &level.Violation{Sensor: 4}

	tr := NewTracker(start(), Config{})
	tr.Update(st)
	doc := Build(tr.SnapshotAt(start().Add(time.Second)))
	assert.Equal(t, 4, doc.BadSensor)
	assert.True(t, doc.Error)
}

func TestBuildBeforeFirstTick(t *testing.T) {
	snap := NewTracker(start(), Config{}).SnapshotAt(start().Add(time.Second))

	out := Build(snap)
	assert.Equal(t, "init", out.State)
	assert.False(t, out.Ready)
	assert.Equal(t, level.NumSensors, out.MaxLevel)
	assert.Len(t, out.Sensors, level.NumSensors)
}

func TestFormatStatusEvent(t *testing.T) {
	tr := NewTracker(start(), Config{SessionID: "boot-1"})
	tr.Update(pumping())

	data := FormatStatusEvent(tr.SnapshotAt(start().Add(30*time.Minute)), "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "SHUTDOWN", parsed.Event)
	assert.Equal(t, "SIGTERM", parsed.Reason)
	assert.Equal(t, "boot-1", parsed.SessionID)
	assert.EqualValues(t, 1800, parsed.UptimeSeconds)
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	data := FormatStatusEvent(NewTracker(start(), Config{}).SnapshotAt(start()), "STARTUP", "")

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "reason")
	assert.Equal(t, "STARTUP", raw["event"])
}

func TestFormatJSONWithNetwork(t *testing.T) {
	tr := NewTracker(start(), Config{})
	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"})

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(FormatJSON(tr.Snapshot()), &parsed))
	require.NotNil(t, parsed.Network)
	assert.Equal(t, "192.168.1.42", parsed.Network.IP)
	assert.Equal(t, "MyNet", parsed.Network.SSID)
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(control.Status{Level: i % 8})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = FormatJSON(tr.Snapshot())
		}
	}()

	wg.Wait()
}
