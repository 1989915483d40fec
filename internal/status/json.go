package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/drain-monitor/internal/control"
)

// StatusJSON is the telemetry document. The first block of fields keeps the
// layout drain monitors have always published; the rest is daemon context.
type StatusJSON struct {
	Event    string    `json:"event,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Level    int       `json:"level"`
	MaxLevel int       `json:"max_level"`
	Pump     PumpJSON  `json:"pump"`
	Error    bool      `json:"error"`
	Sequence string    `json:"sequence"`
	Stats    StatsJSON `json:"stats"`

	State         string       `json:"state"`
	Alarm         string       `json:"alarm"`
	Sensors       []bool       `json:"sensors"`
	CycleID       string       `json:"cycle_id,omitempty"`
	SensorFaults  int          `json:"sensor_faults"`
	BadSensor     int          `json:"bad_sensor,omitempty"`
	Ready         bool         `json:"ready"`
	SessionID     string       `json:"session_id,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// PumpJSON is the pump block.
type PumpJSON struct {
	State    string `json:"state"`
	Running  bool   `json:"running"`
	RuntimeS int64  `json:"runtime_s"`
}

// StatsJSON is the cycle statistics block.
type StatsJSON struct {
	CyclesToday       int     `json:"cycles_today"`
	LastCycleS        int64   `json:"last_cycle_s"`
	TotalRuntimeS     int64   `json:"total_runtime_s"`
	LastRunS          int64   `json:"last_run_s"`
	AverageCycleS     float64 `json:"average_cycle_s"`
	EmergencyDuration float64 `json:"emergency_duration_s"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Driver         string  `json:"driver"`
	PollMs         int64   `json:"poll_ms"`
	DebounceMs     int64   `json:"debounce_ms"`
	EmptyGuardMs   int64   `json:"empty_guard_ms"`
	MinEmergencyMs int64   `json:"min_emergency_ms"`
	SafetyFactor   float64 `json:"safety_factor"`
	PublishMs      int64   `json:"publish_ms"`
	Broker         string  `json:"broker"`
	HTTPAddr       string  `json:"http_addr"`
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

// Build converts a snapshot into its JSON document.
func Build(snap Snapshot) StatusJSON {
	sys := snap.System
	st := sys.State.String()
	if !snap.Ready {
		st = control.StateInit.String()
	}
	maxLevel := sys.MaxLevel
	if maxLevel == 0 {
		maxLevel = len(sys.Sensors)
	}

	out := StatusJSON{
		Level:    sys.Level,
		MaxLevel: maxLevel,
		Pump: PumpJSON{
			State:    sys.Pump.Mode.String(),
			Running:  sys.Pump.Running,
			RuntimeS: seconds(sys.Pump.RunTime),
		},
		Error:    sys.SequenceError,
		Sequence: sys.Sequence.String(),
		Stats: StatsJSON{
			CyclesToday:       sys.Pump.CyclesCompleted,
			LastCycleS:        seconds(sys.Pump.LastCycleDuration),
			TotalRuntimeS:     seconds(sys.Pump.TotalRunTime),
			LastRunS:          seconds(sys.Pump.LastRunDuration),
			AverageCycleS:     sys.Pump.AverageCycleDuration.Seconds(),
			EmergencyDuration: sys.Pump.EmergencyDuration.Seconds(),
		},
		State:         st,
		Alarm:         sys.Alarm.String(),
		Sensors:       append([]bool(nil), sys.Sensors[:]...),
		CycleID:       sys.CycleID,
		SensorFaults:  sys.SensorFaults,
		BadSensor:     badSensor(sys),
		Ready:         snap.Ready,
		SessionID:     snap.Config.SessionID,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Driver:         snap.Config.Driver,
			PollMs:         snap.Config.PollMs,
			DebounceMs:     snap.Config.DebounceMs,
			EmptyGuardMs:   snap.Config.EmptyGuardMs,
			MinEmergencyMs: snap.Config.MinEmergencyMs,
			SafetyFactor:   snap.Config.SafetyFactor,
			PublishMs:      snap.Config.PublishMs,
			Broker:         snap.Config.Broker,
			HTTPAddr:       snap.Config.HTTPAddr,
		},
	}

	if snap.Network != nil {
		out.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return out
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(Build(snap), "", "  ")
	return data
}

// FormatStatus returns the compact JSON status for periodic telemetry.
func FormatStatus(snap Snapshot) []byte {
	data, _ := json.Marshal(Build(snap))
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	out := Build(snap)
	out.Event = event
	out.Reason = reason
	data, _ := json.Marshal(out)
	return data
}

func badSensor(sys control.Status) int {
	if sys.Violation == nil {
		return 0
	}
	return sys.Violation.Sensor
}
