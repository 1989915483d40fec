package control

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/drain-monitor/internal/alarm"
	"github.com/sweeney/drain-monitor/internal/level"
	"github.com/sweeney/drain-monitor/internal/pump"
)

// System is the composite controller. It is not safe for concurrent use:
// every method must be called from the control loop.
type System struct {
	cfg    Config
	levels *level.Reader
	pump   *pump.Actuator
	alarm  *alarm.Signaler
	button *ResetButton

	state     State
	fillStart time.Time
	cycleID   string

	lastRead     time.Time
	readOnce     bool
	sensorFaults int
	warning      bool
	violation    *level.Violation // latest contiguity failure since the last reset

	day int
}

// NewSystem wires the components together. button may be nil.
// The system starts in StateInit and moves to StateIdle on the first Tick.
func NewSystem(levels *level.Reader, p *pump.Actuator, a *alarm.Signaler, button *ResetButton, cfg Config) *System {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.EmptyGuard <= 0 {
		cfg.EmptyGuard = DefaultEmptyGuard
	}
	if cfg.SensorFaultThreshold <= 0 {
		cfg.SensorFaultThreshold = DefaultSensorFaultThreshold
	}
	return &System{
		cfg:    cfg,
		levels: levels,
		pump:   p,
		alarm:  a,
		button: button,
		state:  StateInit,
	}
}

// Tick advances the controller to now. The order is fixed: reset button,
// sensor read and validation, state machine, pump, alarm. I/O errors do not
// stop the tick; they are joined and returned after it completes.
func (s *System) Tick(now time.Time) (Result, error) {
	var res Result
	var errs []error

	res.DailyReset = s.rollover(now)

	if s.button != nil {
		fired, err := s.button.Poll(now)
		if err != nil {
			errs = append(errs, err)
		}
		if fired {
			tr, cleared, err := s.ClearError(now)
			if err != nil {
				errs = append(errs, err)
			}
			if cleared {
				if tr.From != tr.To {
					res.Transitions = append(res.Transitions, tr)
				}
			} else {
				res.Restart = true
			}
		}
	}

	if !s.readOnce || now.Sub(s.lastRead) >= s.cfg.PollInterval {
		s.readOnce = true
		s.lastRead = now
		if _, err := s.levels.Read(now); err != nil {
			s.sensorFaults++
			errs = append(errs, err)
		} else {
			s.sensorFaults = 0
			if !s.levels.Validate() {
				s.violation = s.levels.LastViolation()
			}
		}
	}

	trs, err := s.step(now)
	res.Transitions = append(res.Transitions, trs...)
	if err != nil {
		errs = append(errs, err)
	}

	if err := s.sensorWarning(now); err != nil {
		errs = append(errs, err)
	}

	if err := s.pump.Tick(now); err != nil {
		errs = append(errs, err)
	}
	if err := s.alarm.Update(now); err != nil {
		errs = append(errs, err)
	}

	return res, errors.Join(errs...)
}

// step runs the state machine once. Entering Error runs the error handling
// in the same call so emergency pumping starts on the tick the error is seen.
func (s *System) step(now time.Time) ([]Transition, error) {
	lv := s.levels.State()
	var trs []Transition
	var errs []error

	move := func(to State, reason Reason) {
		tr := Transition{
			At:      now,
			From:    s.state,
			To:      to,
			Reason:  reason,
			Level:   lv.Level,
			CycleID: s.cycleID,
		}
		if reason == ReasonSequenceError {
			tr.Violation = s.lastViolation()
		}
		trs = append(trs, tr)
		s.state = to
	}

	switch s.state {
	case StateInit:
		move(StateIdle, ReasonStartup)

	case StateIdle:
		if lv.SequenceError {
			move(StateError, ReasonSequenceError)
		} else if lv.Level > 0 {
			s.fillStart = now
			s.cycleID = uuid.NewString()
			move(StateFilling, ReasonWaterDetected)
		}

	case StateFilling:
		if lv.SequenceError {
			move(StateError, ReasonSequenceError)
		} else if lv.Full() {
			errs = append(errs, s.pump.On(now), s.alarm.Beep(now))
			move(StatePumping, ReasonTankFull)
		}

	case StatePumping:
		if lv.SequenceError {
			move(StateError, ReasonSequenceError)
		} else if lv.Empty() {
			errs = append(errs, s.pump.Off(now))
			s.levels.ResetError()
			s.violation = nil
			s.pump.RecordCycle(now.Sub(s.fillStart))
			errs = append(errs, s.alarm.Beep(now))
			move(StateIdle, ReasonTankEmpty)
			s.cycleID = ""
		}
	}

	if s.state == StateError {
		tr, ok, err := s.errorStep(now, lv)
		if ok {
			trs = append(trs, tr)
		}
		errs = append(errs, err)
	}

	return trs, errors.Join(errs...)
}

// errorStep keeps the emergency pump and alarm going and decides whether
// the error can end: either the emergency duration ran out, or the tank
// reads empty after the pump has had time to actually move water.
func (s *System) errorStep(now time.Time, lv level.State) (Transition, bool, error) {
	var errs []error

	if !s.pump.Running() {
		errs = append(errs, s.pump.EmergencyOn(now))
		errs = append(errs, s.alarm.Set(alarm.PatternErrorBlink, now))
	}

	var reason Reason
	switch {
	case s.pump.EmergencyTimeout(now):
		reason = ReasonEmergencyTimeout
	case lv.Empty() && s.pump.Elapsed(now) >= s.cfg.EmptyGuard:
		reason = ReasonEmptyGuard
	default:
		return Transition{}, false, errors.Join(errs...)
	}

	errs = append(errs, s.pump.Off(now), s.alarm.Off(now))
	s.levels.ResetError()
	s.violation = nil

	tr := Transition{
		At:      now,
		From:    StateError,
		To:      StateIdle,
		Reason:  reason,
		Level:   lv.Level,
		CycleID: s.cycleID,
	}
	s.state = StateIdle
	s.cycleID = ""
	return tr, true, errors.Join(errs...)
}

// ClearError is the operator override. It applies when the system is in
// Error or a sequence error is flagged: the pump stops, the alarm is
// silenced, the error is cleared and the system returns to Idle with a
// confirmation beep. Otherwise it does nothing and reports false.
func (s *System) ClearError(now time.Time) (Transition, bool, error) {
	lv := s.levels.State()
	if s.state != StateError && !lv.SequenceError {
		return Transition{}, false, nil
	}

	errs := []error{s.pump.Off(now), s.alarm.Off(now)}
	s.levels.ResetError()
	s.violation = nil
	errs = append(errs, s.alarm.Beep(now))

	tr := Transition{
		At:      now,
		From:    s.state,
		To:      StateIdle,
		Reason:  ReasonOperatorClear,
		Level:   lv.Level,
		CycleID: s.cycleID,
	}
	s.state = StateIdle
	s.cycleID = ""
	return tr, true, errors.Join(errs...)
}

// sensorWarning sounds the warning pattern while sensor reads keep failing,
// unless something more important is already using the alarm.
func (s *System) sensorWarning(now time.Time) error {
	if s.warning && s.alarm.State().Pattern != alarm.PatternWarningBlink {
		// replaced by a beep or the error pattern
		s.warning = false
	}
	if s.sensorFaults >= s.cfg.SensorFaultThreshold {
		if !s.warning && s.state != StateError && s.alarm.State().Pattern == alarm.PatternOff {
			s.warning = true
			return s.alarm.Set(alarm.PatternWarningBlink, now)
		}
		return nil
	}
	if s.warning {
		s.warning = false
		if s.alarm.State().Pattern == alarm.PatternWarningBlink {
			return s.alarm.Off(now)
		}
	}
	return nil
}

// rollover resets the pump's daily counters when the calendar day of now
// differs from the last tick's.
func (s *System) rollover(now time.Time) bool {
	y, m, d := now.Date()
	day := y*10000 + int(m)*100 + d
	if s.day == 0 {
		s.day = day
		return false
	}
	if day == s.day {
		return false
	}
	s.day = day
	s.pump.ResetDaily()
	return true
}

// State returns the operating mode.
func (s *System) State() State {
	return s.state
}

// Status returns a snapshot of every component.
func (s *System) Status() Status {
	lv := s.levels.State()
	return Status{
		State:         s.state,
		Level:         lv.Level,
		MaxLevel:      level.NumSensors,
		Sensors:       lv.Levels,
		Sequence:      lv.Sequence,
		SequenceError: lv.SequenceError,
		Pump:          s.pump.Record(),
		Alarm:         s.alarm.State().Pattern,
		CycleID:       s.cycleID,
		FillStart:     s.fillStart,
		SensorFaults:  s.sensorFaults,
		Violation:     s.lastViolation(),
	}
}

func (s *System) lastViolation() *level.Violation {
	if s.violation == nil {
		return nil
	}
	v := *s.violation
	return &v
}
