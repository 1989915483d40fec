// Package pump drives the drain pump relay and keeps its run-time
// bookkeeping: per-run duration, daily totals, completed cycles and the
// adaptive emergency shutoff duration learned from them.
package pump

import (
	"fmt"
	"time"
)

// Defaults for the emergency duration calculation.
const (
	DefaultMinEmergency = 60 * time.Second
	DefaultSafetyFactor = 1.5
)

// Mode is the actuator mode.
type Mode int

const (
	ModeOff Mode = iota
	ModeOn
	ModeEmergency
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeOn:
		return "on"
	case ModeEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Record is the actuator's bookkeeping. It is a value type, safe to copy.
type Record struct {
	Mode    Mode
	Running bool
	Start   time.Time
	// Duration of the current run, or of the last run once stopped.
	RunTime time.Duration
	// Pump time accumulated today, normal and emergency runs alike.
	TotalRunTime    time.Duration
	CyclesCompleted int
	// Fill-to-empty wall time of the last completed cycle.
	LastCycleDuration time.Duration
	// Pump run time of the last completed normal run.
	LastRunDuration      time.Duration
	AverageCycleDuration time.Duration
	// Latched when emergency mode is entered.
	EmergencyDuration time.Duration
}

// Output drives a single digital output by pin number.
type Output interface {
	Write(pin int, on bool) error
}

// Config configures an Actuator.
type Config struct {
	Pin          int
	MinEmergency time.Duration
	SafetyFactor float64
}

// Actuator turns the pump on and off and owns its Record.
type Actuator struct {
	out Output
	cfg Config
	rec Record
	// averaged counts the normal runs folded into the average. It is not
	// reset daily, unlike CyclesCompleted.
	averaged int
	// stale is set when the relay write failed and must be re-asserted.
	stale bool
}

// New creates an Actuator with the pump off.
func New(out Output, cfg Config) *Actuator {
	if cfg.MinEmergency <= 0 {
		cfg.MinEmergency = DefaultMinEmergency
	}
	if cfg.SafetyFactor <= 0 {
		cfg.SafetyFactor = DefaultSafetyFactor
	}
	return &Actuator{out: out, cfg: cfg}
}

// On starts the pump in normal mode. No-op if already in normal mode.
func (a *Actuator) On(now time.Time) error {
	if a.rec.Mode == ModeOn {
		return nil
	}
	a.interrupt(now)
	a.start(ModeOn, now)
	return a.drive(true)
}

// EmergencyOn starts the pump in emergency mode and latches the emergency
// duration from the history available now. No-op if already in emergency.
func (a *Actuator) EmergencyOn(now time.Time) error {
	if a.rec.Mode == ModeEmergency {
		return nil
	}
	a.interrupt(now)
	a.start(ModeEmergency, now)
	a.rec.EmergencyDuration = a.EmergencyDurationFor()
	return a.drive(true)
}

// Off stops the pump. No-op if not running.
// Every run is added to the daily total; only normal runs count as cycles
// and feed the average.
func (a *Actuator) Off(now time.Time) error {
	if !a.rec.Running {
		return nil
	}

	run := now.Sub(a.rec.Start)
	a.rec.RunTime = run
	a.rec.TotalRunTime += run

	if a.rec.Mode == ModeOn {
		a.rec.CyclesCompleted++
		a.rec.LastCycleDuration = run
		a.rec.LastRunDuration = run

		a.averaged++
		n := time.Duration(a.averaged)
		a.rec.AverageCycleDuration = (a.rec.AverageCycleDuration*(n-1) + run) / n
	}

	a.rec.Mode = ModeOff
	a.rec.Running = false
	return a.drive(false)
}

// Tick refreshes the current run time and re-asserts the relay if an
// earlier write failed.
func (a *Actuator) Tick(now time.Time) error {
	if a.rec.Running {
		a.rec.RunTime = now.Sub(a.rec.Start)
	}
	if a.stale {
		return a.drive(a.rec.Running)
	}
	return nil
}

// EmergencyTimeout reports whether an emergency run has used up its
// latched duration.
func (a *Actuator) EmergencyTimeout(now time.Time) bool {
	if a.rec.Mode != ModeEmergency {
		return false
	}
	return now.Sub(a.rec.Start) >= a.rec.EmergencyDuration
}

// Elapsed returns how long the current run has lasted, or 0 when stopped.
func (a *Actuator) Elapsed(now time.Time) time.Duration {
	if !a.rec.Running {
		return 0
	}
	return now.Sub(a.rec.Start)
}

// EmergencyDurationFor computes the emergency duration from the current
// history: the configured minimum with no history, otherwise the larger of
// the minimum and the average cycle, scaled by the safety factor.
func (a *Actuator) EmergencyDurationFor() time.Duration {
	if a.averaged == 0 {
		return a.cfg.MinEmergency
	}
	base := a.rec.AverageCycleDuration
	if base < a.cfg.MinEmergency {
		base = a.cfg.MinEmergency
	}
	return time.Duration(float64(base) * a.cfg.SafetyFactor)
}

// RecordCycle stores the fill-to-empty wall time of the cycle that just
// completed. The average is unaffected.
func (a *Actuator) RecordCycle(d time.Duration) {
	a.rec.LastCycleDuration = d
}

// ResetDaily zeroes the daily counters. The learned average is kept.
func (a *Actuator) ResetDaily() {
	a.rec.CyclesCompleted = 0
	a.rec.TotalRunTime = 0
}

// Record returns a copy of the bookkeeping.
func (a *Actuator) Record() Record {
	return a.rec
}

// Running reports whether the pump is on in any mode.
func (a *Actuator) Running() bool {
	return a.rec.Running
}

// Mode returns the current mode.
func (a *Actuator) Mode() Mode {
	return a.rec.Mode
}

// interrupt folds a run cut short by a mode switch into the daily total.
func (a *Actuator) interrupt(now time.Time) {
	if a.rec.Running {
		a.rec.TotalRunTime += now.Sub(a.rec.Start)
	}
}

func (a *Actuator) start(m Mode, now time.Time) {
	a.rec.Mode = m
	a.rec.Running = true
	a.rec.Start = now
	a.rec.RunTime = 0
}

func (a *Actuator) drive(on bool) error {
	if err := a.out.Write(a.cfg.Pin, on); err != nil {
		a.stale = true
		return fmt.Errorf("pump relay pin %d: %w", a.cfg.Pin, err)
	}
	a.stale = false
	return nil
}
