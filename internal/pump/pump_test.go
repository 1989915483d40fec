package pump

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/drain-monitor/internal/gpio"
)

const relay = 17

func t0() time.Time {
	return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
}

func newActuator(t *testing.T) (*Actuator, *gpio.Fake) {
	t.Helper()
	f := gpio.NewFake()
	return New(f, Config{Pin: relay, MinEmergency: 60 * time.Second, SafetyFactor: 1.5}), f
}

// cycle runs the pump in normal mode for d.
func cycle(t *testing.T, a *Actuator, at time.Time, d time.Duration) time.Time {
	t.Helper()
	require.NoError(t, a.On(at))
	at = at.Add(d)
	require.NoError(t, a.Off(at))
	return at
}

func TestNewDefaults(t *testing.T) {
	a := New(gpio.NewFake(), Config{Pin: relay})
	assert.Equal(t, DefaultMinEmergency, a.cfg.MinEmergency)
	assert.Equal(t, DefaultSafetyFactor, a.cfg.SafetyFactor)
	assert.Equal(t, ModeOff, a.Mode())
	assert.False(t, a.Running())
}

func TestOnDrivesRelay(t *testing.T) {
	a, f := newActuator(t)
	now := t0()

	require.NoError(t, a.On(now))

	rec := a.Record()
	assert.Equal(t, ModeOn, rec.Mode)
	assert.True(t, rec.Running)
	assert.Equal(t, now, rec.Start)
	assert.True(t, f.Output(relay))
}

func TestOnIsIdempotent(t *testing.T) {
	a, f := newActuator(t)
	now := t0()

	require.NoError(t, a.On(now))
	require.NoError(t, a.On(now.Add(5*time.Second)))

	assert.Equal(t, now, a.Record().Start, "second On must not restart the run")
	assert.Len(t, f.Writes(), 1)
}

func TestOffWhenOffChangesNothing(t *testing.T) {
	a, f := newActuator(t)
	now := cycle(t, a, t0(), 30*time.Second)
	before := a.Record()
	writes := len(f.Writes())

	require.NoError(t, a.Off(now.Add(time.Minute)))

	assert.Equal(t, before, a.Record())
	assert.Len(t, f.Writes(), writes)
}

func TestNormalCycleBookkeeping(t *testing.T) {
	a, f := newActuator(t)

	cycle(t, a, t0(), 40*time.Second)

	rec := a.Record()
	assert.Equal(t, ModeOff, rec.Mode)
	assert.False(t, rec.Running)
	assert.False(t, f.Output(relay))
	assert.Equal(t, 1, rec.CyclesCompleted)
	assert.Equal(t, 40*time.Second, rec.RunTime)
	assert.Equal(t, 40*time.Second, rec.LastCycleDuration)
	assert.Equal(t, 40*time.Second, rec.LastRunDuration)
	assert.Equal(t, 40*time.Second, rec.AverageCycleDuration)
	assert.Equal(t, 40*time.Second, rec.TotalRunTime)
}

func TestRunningAverage(t *testing.T) {
	a, _ := newActuator(t)
	now := t0()

	for _, d := range []time.Duration{30 * time.Second, 60 * time.Second, 90 * time.Second} {
		now = cycle(t, a, now, d)
		now = now.Add(time.Hour)
	}

	rec := a.Record()
	assert.Equal(t, 3, rec.CyclesCompleted)
	assert.Equal(t, 60*time.Second, rec.AverageCycleDuration)
	assert.Equal(t, 90*time.Second, rec.LastRunDuration)
	assert.Equal(t, 180*time.Second, rec.TotalRunTime)
}

func TestEmergencyFirstEntryUsesMinimum(t *testing.T) {
	a, f := newActuator(t)

	require.NoError(t, a.EmergencyOn(t0()))

	rec := a.Record()
	assert.Equal(t, ModeEmergency, rec.Mode)
	assert.True(t, rec.Running)
	assert.True(t, f.Output(relay))
	assert.Equal(t, 60*time.Second, rec.EmergencyDuration)
}

func TestEmergencyScalesWithHistory(t *testing.T) {
	tests := []struct {
		name  string
		cycle time.Duration
		want  time.Duration
	}{
		{"long cycle", 120 * time.Second, 180 * time.Second},
		{"short cycle clamps to minimum", 20 * time.Second, 90 * time.Second},
		{"exact minimum", 60 * time.Second, 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newActuator(t)
			now := cycle(t, a, t0(), tt.cycle)

			require.NoError(t, a.EmergencyOn(now.Add(time.Minute)))
			assert.Equal(t, tt.want, a.Record().EmergencyDuration)
		})
	}
}

func TestEmergencyRunDoesNotAffectAverage(t *testing.T) {
	a, _ := newActuator(t)
	now := cycle(t, a, t0(), 100*time.Second)

	require.NoError(t, a.EmergencyOn(now))
	now = now.Add(45 * time.Second)
	require.NoError(t, a.Off(now))

	rec := a.Record()
	assert.Equal(t, 1, rec.CyclesCompleted)
	assert.Equal(t, 100*time.Second, rec.AverageCycleDuration)
	assert.Equal(t, 100*time.Second, rec.LastCycleDuration)
	assert.Equal(t, 145*time.Second, rec.TotalRunTime)
	assert.Equal(t, 45*time.Second, rec.RunTime)
}

func TestEmergencyDurationLatchedAtEntry(t *testing.T) {
	a, _ := newActuator(t)
	now := cycle(t, a, t0(), 100*time.Second)

	require.NoError(t, a.EmergencyOn(now))
	latched := a.Record().EmergencyDuration

	// Calling again is a no-op and must not re-latch.
	require.NoError(t, a.EmergencyOn(now.Add(10*time.Second)))
	assert.Equal(t, latched, a.Record().EmergencyDuration)
	assert.Equal(t, now, a.Record().Start)
}

func TestEmergencyTimeout(t *testing.T) {
	a, _ := newActuator(t)
	now := t0()

	assert.False(t, a.EmergencyTimeout(now), "not in emergency")

	require.NoError(t, a.EmergencyOn(now))
	assert.False(t, a.EmergencyTimeout(now.Add(59*time.Second)))
	assert.True(t, a.EmergencyTimeout(now.Add(60*time.Second)))
	assert.True(t, a.EmergencyTimeout(now.Add(61*time.Second)))

	require.NoError(t, a.Off(now.Add(61*time.Second)))
	assert.False(t, a.EmergencyTimeout(now.Add(62*time.Second)))
}

func TestNormalModeNeverTimesOut(t *testing.T) {
	a, _ := newActuator(t)
	require.NoError(t, a.On(t0()))
	assert.False(t, a.EmergencyTimeout(t0().Add(24*time.Hour)))
}

func TestTickRefreshesRunTime(t *testing.T) {
	a, _ := newActuator(t)
	now := t0()

	require.NoError(t, a.Tick(now))
	assert.Zero(t, a.Record().RunTime)

	require.NoError(t, a.On(now))
	require.NoError(t, a.Tick(now.Add(7*time.Second)))
	assert.Equal(t, 7*time.Second, a.Record().RunTime)
	assert.Equal(t, ModeOn, a.Mode(), "tick never changes mode")
	assert.Equal(t, 7*time.Second, a.Elapsed(now.Add(7*time.Second)))
}

func TestModeSwitchFoldsRunIntoTotal(t *testing.T) {
	a, _ := newActuator(t)
	now := t0()

	require.NoError(t, a.On(now))
	require.NoError(t, a.EmergencyOn(now.Add(20*time.Second)))

	rec := a.Record()
	assert.Equal(t, ModeEmergency, rec.Mode)
	assert.Equal(t, 20*time.Second, rec.TotalRunTime)
	assert.Zero(t, rec.CyclesCompleted)
	assert.Equal(t, now.Add(20*time.Second), rec.Start)
}

func TestRecordCycleOverridesLastCycleOnly(t *testing.T) {
	a, _ := newActuator(t)
	cycle(t, a, t0(), 40*time.Second)

	a.RecordCycle(5 * time.Minute)

	rec := a.Record()
	assert.Equal(t, 5*time.Minute, rec.LastCycleDuration)
	assert.Equal(t, 40*time.Second, rec.LastRunDuration)
	assert.Equal(t, 40*time.Second, rec.AverageCycleDuration)
}

func TestResetDailyKeepsAverage(t *testing.T) {
	a, _ := newActuator(t)
	now := cycle(t, a, t0(), 80*time.Second)

	a.ResetDaily()

	rec := a.Record()
	assert.Zero(t, rec.CyclesCompleted)
	assert.Zero(t, rec.TotalRunTime)
	assert.Equal(t, 80*time.Second, rec.AverageCycleDuration)

	// The learned history still drives the emergency duration.
	require.NoError(t, a.EmergencyOn(now))
	assert.Equal(t, 120*time.Second, a.Record().EmergencyDuration)
}

func TestRelayWriteFailureIsReasserted(t *testing.T) {
	a, f := newActuator(t)
	f.SetWriteError(relay, errors.New("relay fault"))
	now := t0()

	err := a.On(now)
	require.Error(t, err)
	assert.True(t, a.Running(), "bookkeeping proceeds despite relay fault")
	assert.False(t, f.Output(relay))

	// Still failing: Tick keeps reporting.
	assert.Error(t, a.Tick(now.Add(time.Second)))

	f.SetWriteError(relay, nil)
	require.NoError(t, a.Tick(now.Add(2*time.Second)))
	assert.True(t, f.Output(relay))

	// Once healthy, Tick stops writing.
	writes := len(f.Writes())
	require.NoError(t, a.Tick(now.Add(3*time.Second)))
	assert.Len(t, f.Writes(), writes)
}
