package level

import (
	"fmt"
	"time"
)

// Reader polls the float switches, debounces them and tracks fill direction.
type Reader struct {
	in        Input
	pins      [NumSensors]int
	window    time.Duration
	sensors   [NumSensors]sensor
	state     State
	violation *Violation
}

// NewReader creates a Reader for the given pins, ordered bottom to top.
func NewReader(in Input, pins [NumSensors]int, window time.Duration) *Reader {
	return &Reader{
		in:     in,
		pins:   pins,
		window: window,
	}
}

// Read samples every sensor and folds the samples into the level state.
// If any pin fails to read, nothing is updated and the error is returned.
func (r *Reader) Read(now time.Time) (State, error) {
	var raw [NumSensors]bool
	for i, pin := range r.pins {
		v, err := r.in.Read(pin)
		if err != nil {
			return r.state, fmt.Errorf("read sensor %d (pin %d): %w", i+1, pin, err)
		}
		raw[i] = v
	}
	return r.apply(raw, now), nil
}

// apply runs debounce and direction tracking for one sample of raw values.
func (r *Reader) apply(raw [NumSensors]bool, now time.Time) State {
	level := 0

	for i := range r.sensors {
		s := &r.sensors[i]

		// Any raw change restarts that sensor's window.
		if raw[i] != s.raw {
			s.since = now
		}

		if now.Sub(s.since) > r.window && raw[i] != s.stable {
			s.stable = raw[i]
			r.state.LastChange = now
		}

		s.raw = raw[i]
		r.state.Levels[i] = s.stable

		// Highest active sensor, not a count: a dead lower switch must not
		// hide a legitimately high level.
		if s.stable {
			level = i + 1
		}
	}

	r.state.PreviousLevel = r.state.Level
	r.state.Level = level
	r.trackDirection()

	return r.state
}

func (r *Reader) trackDirection() {
	st := &r.state

	switch {
	case st.Level > st.PreviousLevel:
		if st.Sequence != SequenceFilling && st.Sequence != SequenceIdle {
			// Rising while emptying. Rising from exactly 0 is let through
			// as the start of a new fill.
			if st.PreviousLevel != 0 {
				st.Sequence = SequenceError
				st.SequenceError = true
			}
		} else {
			st.Sequence = SequenceFilling
		}

	case st.Level < st.PreviousLevel:
		if st.Sequence != SequenceEmptying && st.Sequence != SequenceIdle {
			st.Sequence = SequenceError
			st.SequenceError = true
		} else {
			st.Sequence = SequenceEmptying
		}
	}

	if (st.Level == 0 || st.Level == NumSensors) && !st.SequenceError {
		st.Sequence = SequenceIdle
	}
}

// Validate checks that sensors 1..Level are active and the rest inactive.
// The first offending sensor raises the sequence error; later ones are not
// inspected.
func (r *Reader) Validate() bool {
	r.violation = nil
	for i, active := range r.state.Levels {
		want := i < r.state.Level
		if active != want {
			r.state.SequenceError = true
			r.state.Sequence = SequenceError
			r.violation = &Violation{Sensor: i + 1, ShouldActive: want}
			return false
		}
	}
	return true
}

// LastViolation returns the sensor that failed the most recent Validate,
// or nil if it passed.
func (r *Reader) LastViolation() *Violation {
	return r.violation
}

// ResetError clears the sequence error and returns the direction to idle.
// Debounced sensor values are kept.
func (r *Reader) ResetError() {
	r.state.SequenceError = false
	r.state.Sequence = SequenceIdle
}

// State returns the current level state.
func (r *Reader) State() State {
	return r.state
}
