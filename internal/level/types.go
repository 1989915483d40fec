// Package level derives a monotone fill level from a column of float
// switches and validates that the switches agree with it.
// Time is always injectable via time.Time parameters; hardware access goes
// through the Input interface.
package level

import "time"

// NumSensors is the number of float switches, numbered 1..NumSensors
// bottom to top.
const NumSensors = 7

// DefaultDebounce is how long a raw reading must hold before it is accepted.
const DefaultDebounce = 50 * time.Millisecond

// SequenceState is the fill direction inferred from level changes.
type SequenceState int

const (
	SequenceIdle SequenceState = iota
	SequenceFilling
	SequenceEmptying
	SequenceError
)

func (s SequenceState) String() string {
	switch s {
	case SequenceIdle:
		return "idle"
	case SequenceFilling:
		return "filling"
	case SequenceEmptying:
		return "emptying"
	case SequenceError:
		return "error"
	default:
		return "unknown"
	}
}

// State is the validated level signal consumed by the state machine.
type State struct {
	// Debounced sensor values, index 0 = sensor 1 (lowest).
	Levels [NumSensors]bool
	// Highest active sensor number, 0 if none.
	Level         int
	PreviousLevel int
	Sequence      SequenceState
	SequenceError bool
	// Time the last debounced value changed.
	LastChange time.Time
}

// Full reports whether the top sensor is the current level.
func (s State) Full() bool {
	return s.Level >= NumSensors
}

// Empty reports whether no sensor is active.
func (s State) Empty() bool {
	return s.Level == 0
}

// Violation describes the first sensor that broke contiguity.
type Violation struct {
	Sensor       int // 1-based
	ShouldActive bool
}

// Input reads a single digital input by pin number.
type Input interface {
	Read(pin int) (bool, error)
}

// sensor tracks debounce state for one switch.
type sensor struct {
	raw    bool      // last raw reading
	since  time.Time // time raw last changed
	stable bool      // accepted value
}
