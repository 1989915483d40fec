// Package gpio provides digital I/O with hardware abstraction.
// The real implementations use the Linux GPIO character device (gpiocdev)
// or memory-mapped registers (go-rpio).
// The fake implementation allows testing without hardware.
package gpio

import "fmt"

// IO reads and drives digital lines by pin number.
// Values are logical: true means active, after any active-low inversion.
type IO interface {
	// Read returns the logical state of an input line.
	Read(pin int) (bool, error)

	// Write drives an output line.
	Write(pin int, on bool) error

	// Close releases GPIO resources and drives outputs inactive.
	Close() error
}

// Line describes how a single pin is requested.
type Line struct {
	Pin       int
	Output    bool
	ActiveLow bool // raw low = logical true
	PullUp    bool // inputs only; default is pull-down
}

// Default pin assignments (BCM numbering).
const (
	DefaultChip         = "gpiochip0"
	DefaultPumpPin      = 17
	DefaultBuzzerPin    = 27
	DefaultIndicatorPin = 22
	DefaultResetPin     = 21
)

// DefaultSensorPins lists the float switch inputs bottom to top.
var DefaultSensorPins = []int{5, 6, 13, 19, 26, 16, 20}

// Driver names accepted by Open.
const (
	DriverCdev = "cdev"
	DriverRPIO = "rpio"
)

// Open creates a hardware IO for the named driver.
func Open(driver, chip string, lines []Line) (IO, error) {
	switch driver {
	case DriverCdev, "":
		c, err := NewCdevIO(chip, lines)
		if err != nil {
			return nil, err
		}
		return c, nil
	case DriverRPIO:
		r, err := NewRPIO(lines)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown gpio driver %q", driver)
	}
}

// releasePullUp reports whether a line is left pulled up once released.
// Active-low outputs are pulled to their inactive (high) level; everything
// else keeps its input bias, pull-down unless requested otherwise.
func releasePullUp(l Line) bool {
	if l.Output {
		return l.ActiveLow
	}
	return l.PullUp
}

func checkDuplicates(lines []Line) error {
	seen := make(map[int]bool, len(lines))
	for _, l := range lines {
		if seen[l.Pin] {
			return fmt.Errorf("pin %d requested twice", l.Pin)
		}
		seen[l.Pin] = true
	}
	return nil
}
