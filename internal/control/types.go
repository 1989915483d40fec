// Package control is the top-level controller: it owns the level reader,
// the pump actuator and the alarm signaler, and advances all of them from a
// single Tick so that every mutation happens on the control loop.
package control

import (
	"time"

	"github.com/sweeney/drain-monitor/internal/alarm"
	"github.com/sweeney/drain-monitor/internal/level"
	"github.com/sweeney/drain-monitor/internal/pump"
)

// Defaults.
const (
	DefaultPollInterval         = 100 * time.Millisecond
	DefaultEmptyGuard           = 5 * time.Second
	DefaultResetHold            = 2 * time.Second
	DefaultSensorFaultThreshold = 10
)

// State is the operating mode.
type State int

const (
	StateInit State = iota
	StateIdle
	StateFilling
	StatePumping
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateIdle:
		return "idle"
	case StateFilling:
		return "filling"
	case StatePumping:
		return "pumping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Reason says why a transition happened.
type Reason string

const (
	ReasonStartup          Reason = "startup"
	ReasonWaterDetected    Reason = "water_detected"
	ReasonTankFull         Reason = "tank_full"
	ReasonTankEmpty        Reason = "tank_empty"
	ReasonSequenceError    Reason = "sequence_error"
	ReasonEmergencyTimeout Reason = "emergency_timeout"
	ReasonEmptyGuard       Reason = "empty_guard"
	ReasonOperatorClear    Reason = "operator_clear"
)

// Transition is a realized state change.
type Transition struct {
	At      time.Time
	From    State
	To      State
	Reason  Reason
	Level   int
	CycleID string // set from water detection until the cycle ends
	// Violation names the out-of-order sensor on a sequence error caused by
	// a gap in the column. Nil for a direction reversal.
	Violation *level.Violation
}

// Result is what a Tick produced besides state.
type Result struct {
	Transitions []Transition
	// Restart is set when the reset button was held outside of an error.
	Restart bool
	// DailyReset is set on the first tick of a new calendar day.
	DailyReset bool
}

// Config configures a System.
type Config struct {
	PollInterval time.Duration
	// Minimum emergency run before an empty reading may end it.
	EmptyGuard time.Duration
	// Consecutive failed sensor reads before the warning pattern sounds.
	SensorFaultThreshold int
}

// Status is a read-only snapshot of the whole controller.
type Status struct {
	State         State
	Level         int
	MaxLevel      int
	Sensors       [level.NumSensors]bool
	Sequence      level.SequenceState
	SequenceError bool
	Pump          pump.Record
	Alarm         alarm.Pattern
	CycleID       string
	FillStart     time.Time
	SensorFaults  int
	Violation     *level.Violation
}

// Input reads a single digital input by pin number.
type Input interface {
	Read(pin int) (bool, error)
}
