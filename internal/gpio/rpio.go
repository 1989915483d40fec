//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio"
)

// rpio maps /dev/gpiomem once per process.
var rpioMu sync.Mutex

// RPIO drives GPIO lines through memory-mapped BCM2835 registers.
// Useful on older kernels without the character device, or where
// gpiochip permissions are not set up.
type RPIO struct {
	specs map[int]Line
}

// NewRPIO maps the GPIO registers and configures every line.
func NewRPIO(lines []Line) (*RPIO, error) {
	if err := checkDuplicates(lines); err != nil {
		return nil, err
	}

	rpioMu.Lock()
	defer rpioMu.Unlock()

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open rpio: %w", err)
	}

	r := &RPIO{specs: make(map[int]Line, len(lines))}
	for _, l := range lines {
		pin := rpio.Pin(l.Pin)
		if l.Output {
			pin.Output()
			pin.Write(r.raw(l, false))
		} else {
			pin.Input()
			if l.PullUp {
				pin.PullUp()
			} else {
				pin.PullDown()
			}
		}
		r.specs[l.Pin] = l
	}
	return r, nil
}

func (r *RPIO) raw(l Line, on bool) rpio.State {
	if on != l.ActiveLow {
		return rpio.High
	}
	return rpio.Low
}

// Read returns the logical state of an input pin.
func (r *RPIO) Read(pin int) (bool, error) {
	l, ok := r.specs[pin]
	if !ok {
		return false, fmt.Errorf("pin %d not requested", pin)
	}
	high := rpio.Pin(pin).Read() == rpio.High
	return high != l.ActiveLow, nil
}

// Write drives an output pin.
func (r *RPIO) Write(pin int, on bool) error {
	l, ok := r.specs[pin]
	if !ok || !l.Output {
		return fmt.Errorf("pin %d not requested as output", pin)
	}
	rpio.Pin(pin).Write(r.raw(l, on))
	return nil
}

// Close drives outputs inactive, returns every pin to input biased toward
// its inactive level and unmaps the registers.
func (r *RPIO) Close() error {
	rpioMu.Lock()
	defer rpioMu.Unlock()

	for pin, l := range r.specs {
		p := rpio.Pin(pin)
		if l.Output {
			p.Write(r.raw(l, false))
		}
		p.Input()
		if releasePullUp(l) {
			p.PullUp()
		} else {
			p.PullDown()
		}
	}
	r.specs = nil

	if err := rpio.Close(); err != nil {
		return fmt.Errorf("close rpio: %w", err)
	}
	return nil
}
