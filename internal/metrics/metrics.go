// Package metrics exposes the controller state as Prometheus collectors.
// Gauges are refreshed from the control loop once per tick; the registry is
// private so tests and the daemon never share global state.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/drain-monitor/internal/control"
)

const namespace = "drain"

// Metrics holds every collector.
type Metrics struct {
	registry *prometheus.Registry

	level         prometheus.Gauge
	sensor        *prometheus.GaugeVec
	state         *prometheus.GaugeVec
	pumpMode      *prometheus.GaugeVec
	pumpRunning   prometheus.Gauge
	alarm         *prometheus.GaugeVec
	cyclesToday   prometheus.Gauge
	lastCycle     prometheus.Gauge
	averageCycle  prometheus.Gauge
	emergency     prometheus.Gauge
	totalRunTime  prometheus.Gauge
	sensorFaults  prometheus.Gauge
	mqttConnected prometheus.Gauge

	transitions    *prometheus.CounterVec
	sequenceErrors prometheus.Counter
	ioErrors       *prometheus.CounterVec
}

var (
	states = []control.State{
		control.StateInit, control.StateIdle, control.StateFilling,
		control.StatePumping, control.StateError,
	}
	pumpModes = []string{"off", "on", "emergency"}
	patterns  = []string{"off", "error", "warning", "beep"}
)

// New creates the collectors and registers them, with the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		level: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "level",
			Help:      "Debounced tank level (highest active sensor, 0 = empty)",
		}),
		sensor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_active",
			Help:      "Debounced sensor state (1 = water present)",
		}, []string{"sensor"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Controller state (1 for the current state)",
		}, []string{"state"}),
		pumpMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pump",
			Name:      "mode",
			Help:      "Pump mode (1 for the current mode)",
		}, []string{"mode"}),
		pumpRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pump",
			Name:      "running",
			Help:      "Pump relay energized",
		}),
		alarm: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alarm_pattern",
			Help:      "Alarm pattern (1 for the current pattern)",
		}, []string{"pattern"}),
		cyclesToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pump",
			Name:      "cycles_today",
			Help:      "Completed pump cycles since midnight",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pump",
			Name:      "last_cycle_seconds",
			Help:      "Fill-to-empty duration of the last completed cycle",
		}),
		averageCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pump",
			Name:      "average_cycle_seconds",
			Help:      "Running average of normal pump runs",
		}),
		emergency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pump",
			Name:      "emergency_duration_seconds",
			Help:      "Emergency run limit latched at the last emergency start",
		}),
		totalRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pump",
			Name:      "run_time_today_seconds",
			Help:      "Pump run time since midnight, normal and emergency",
		}),
		sensorFaults: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_read_failures",
			Help:      "Consecutive failed sensor reads",
		}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "MQTT broker connection state",
		}),

		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "State transitions",
		}, []string{"from", "to", "reason"}),
		sequenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_errors_total",
			Help:      "Entries into the error state caused by a sequence error",
		}),
		ioErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "io_errors_total",
			Help:      "Failed I/O operations",
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		m.level, m.sensor, m.state, m.pumpMode, m.pumpRunning, m.alarm,
		m.cyclesToday, m.lastCycle, m.averageCycle, m.emergency, m.totalRunTime,
		m.sensorFaults, m.mqttConnected,
		m.transitions, m.sequenceErrors, m.ioErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ObserveStatus refreshes every gauge from a controller snapshot.
func (m *Metrics) ObserveStatus(st control.Status) {
	m.level.Set(float64(st.Level))
	for i, active := range st.Sensors {
		m.sensor.WithLabelValues(sensorLabel(i)).Set(boolGauge(active))
	}
	for _, s := range states {
		m.state.WithLabelValues(s.String()).Set(boolGauge(s == st.State))
	}
	for _, mode := range pumpModes {
		m.pumpMode.WithLabelValues(mode).Set(boolGauge(mode == st.Pump.Mode.String()))
	}
	m.pumpRunning.Set(boolGauge(st.Pump.Running))
	for _, p := range patterns {
		m.alarm.WithLabelValues(p).Set(boolGauge(p == st.Alarm.String()))
	}
	m.cyclesToday.Set(float64(st.Pump.CyclesCompleted))
	m.lastCycle.Set(st.Pump.LastCycleDuration.Seconds())
	m.averageCycle.Set(st.Pump.AverageCycleDuration.Seconds())
	m.emergency.Set(st.Pump.EmergencyDuration.Seconds())
	m.totalRunTime.Set(st.Pump.TotalRunTime.Seconds())
	m.sensorFaults.Set(float64(st.SensorFaults))
}

// ObserveTransition counts a transition.
func (m *Metrics) ObserveTransition(tr control.Transition) {
	m.transitions.WithLabelValues(tr.From.String(), tr.To.String(), string(tr.Reason)).Inc()
	if tr.Reason == control.ReasonSequenceError {
		m.sequenceErrors.Inc()
	}
}

// ObserveIOError counts a failed operation, e.g. "tick" or "mqtt_publish".
func (m *Metrics) ObserveIOError(op string) {
	m.ioErrors.WithLabelValues(op).Inc()
}

// SetMQTTConnected records the broker connection state.
func (m *Metrics) SetMQTTConnected(c bool) {
	m.mqttConnected.Set(boolGauge(c))
}

func sensorLabel(i int) string {
	return strconv.Itoa(i + 1)
}
