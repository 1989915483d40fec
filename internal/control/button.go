package control

import (
	"fmt"
	"time"
)

// ResetButton turns a held push button into discrete reset requests.
// The button must be held for the hold duration; while it stays held it
// fires again every hold period.
type ResetButton struct {
	in      Input
	pin     int
	hold    time.Duration
	pressed bool
	since   time.Time
}

// NewResetButton creates a ResetButton reading pin.
func NewResetButton(in Input, pin int, hold time.Duration) *ResetButton {
	if hold <= 0 {
		hold = DefaultResetHold
	}
	return &ResetButton{in: in, pin: pin, hold: hold}
}

// Poll reads the button and reports whether a hold completed.
func (b *ResetButton) Poll(now time.Time) (bool, error) {
	pressed, err := b.in.Read(b.pin)
	if err != nil {
		return false, fmt.Errorf("reset button pin %d: %w", b.pin, err)
	}
	return b.update(pressed, now), nil
}

func (b *ResetButton) update(pressed bool, now time.Time) bool {
	if !pressed {
		b.pressed = false
		return false
	}
	if !b.pressed {
		b.pressed = true
		b.since = now
		return false
	}
	if now.Sub(b.since) >= b.hold {
		b.since = now
		return true
	}
	return false
}
