// Package alarm plays buzzer and indicator patterns. It has no decision
// logic: the control loop picks the pattern, Update plays it.
package alarm

import (
	"errors"
	"fmt"
	"time"
)

// Pattern timings.
const (
	ErrorToggleInterval   = 150 * time.Millisecond
	WarningToggleInterval = 500 * time.Millisecond
	BeepDuration          = 100 * time.Millisecond
)

// Pattern is what the outputs are doing.
type Pattern int

const (
	PatternOff Pattern = iota
	PatternErrorBlink
	PatternWarningBlink
	PatternSingleBeep
)

func (p Pattern) String() string {
	switch p {
	case PatternOff:
		return "off"
	case PatternErrorBlink:
		return "error"
	case PatternWarningBlink:
		return "warning"
	case PatternSingleBeep:
		return "beep"
	default:
		return "unknown"
	}
}

// State is the signaler's output latches.
type State struct {
	Pattern    Pattern
	Buzzer     bool
	Indicator  bool
	LastToggle time.Time
}

// Output drives a single digital output by pin number.
type Output interface {
	Write(pin int, on bool) error
}

// Signaler owns the buzzer and indicator outputs.
type Signaler struct {
	out          Output
	buzzerPin    int
	indicatorPin int
	st           State
	stale        bool
}

// New creates a silent Signaler.
func New(out Output, buzzerPin, indicatorPin int) *Signaler {
	return &Signaler{
		out:          out,
		buzzerPin:    buzzerPin,
		indicatorPin: indicatorPin,
	}
}

// Set switches pattern. Setting the current pattern again is a no-op.
// Switching to PatternOff silences both outputs immediately.
func (s *Signaler) Set(p Pattern, now time.Time) error {
	if s.st.Pattern == p {
		return nil
	}
	s.st.Pattern = p
	s.st.LastToggle = now

	if p == PatternOff {
		s.st.Buzzer = false
		s.st.Indicator = false
		return s.flush()
	}
	return nil
}

// Off is Set(PatternOff).
func (s *Signaler) Off(now time.Time) error {
	return s.Set(PatternOff, now)
}

// Beep starts a single fixed-length buzzer pulse, replacing whatever
// pattern was playing.
func (s *Signaler) Beep(now time.Time) error {
	s.st.Pattern = PatternSingleBeep
	s.st.LastToggle = now
	s.st.Buzzer = true
	s.st.Indicator = false
	return s.flush()
}

// Update advances the current pattern to now.
func (s *Signaler) Update(now time.Time) error {
	var interval time.Duration

	switch s.st.Pattern {
	case PatternOff:
		return s.retry()
	case PatternErrorBlink:
		interval = ErrorToggleInterval
	case PatternWarningBlink:
		interval = WarningToggleInterval
	case PatternSingleBeep:
		if now.Sub(s.st.LastToggle) >= BeepDuration {
			return s.Off(now)
		}
		return s.retry()
	default:
		return nil
	}

	if now.Sub(s.st.LastToggle) >= interval {
		s.st.LastToggle = now
		s.st.Buzzer = !s.st.Buzzer
		s.st.Indicator = !s.st.Indicator
		return s.flush()
	}
	return s.retry()
}

// State returns a copy of the output latches.
func (s *Signaler) State() State {
	return s.st
}

func (s *Signaler) retry() error {
	if s.stale {
		return s.flush()
	}
	return nil
}

// flush writes both latches to the hardware.
func (s *Signaler) flush() error {
	var errs []error
	if err := s.out.Write(s.buzzerPin, s.st.Buzzer); err != nil {
		errs = append(errs, fmt.Errorf("buzzer pin %d: %w", s.buzzerPin, err))
	}
	if err := s.out.Write(s.indicatorPin, s.st.Indicator); err != nil {
		errs = append(errs, fmt.Errorf("indicator pin %d: %w", s.indicatorPin, err))
	}
	s.stale = len(errs) > 0
	return errors.Join(errs...)
}
