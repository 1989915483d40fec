//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// CdevIO drives GPIO lines through the Linux GPIO character device.
type CdevIO struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
	specs map[int]Line
}

// NewCdevIO opens the chip and requests every line up front.
// Active-low lines are inverted by the kernel so Read/Write stay logical.
func NewCdevIO(chipName string, lines []Line) (*CdevIO, error) {
	if err := checkDuplicates(lines); err != nil {
		return nil, err
	}

	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	c := &CdevIO{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line, len(lines)),
		specs: make(map[int]Line, len(lines)),
	}

	for _, l := range lines {
		opts := []gpiocdev.LineReqOption{}
		if l.ActiveLow {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		if l.Output {
			// Start inactive so the pump never pulses on during startup.
			opts = append(opts, gpiocdev.AsOutput(0))
		} else {
			opts = append(opts, gpiocdev.AsInput)
			if l.PullUp {
				opts = append(opts, gpiocdev.WithPullUp)
			} else {
				opts = append(opts, gpiocdev.WithPullDown)
			}
		}

		line, err := chip.RequestLine(l.Pin, opts...)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("request pin %d: %w", l.Pin, err)
		}
		c.lines[l.Pin] = line
		c.specs[l.Pin] = l
	}

	return c, nil
}

// Read returns the logical state of an input pin.
func (c *CdevIO) Read(pin int) (bool, error) {
	line, ok := c.lines[pin]
	if !ok {
		return false, fmt.Errorf("pin %d not requested", pin)
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return v == 1, nil
}

// Write drives an output pin.
func (c *CdevIO) Write(pin int, on bool) error {
	line, ok := c.lines[pin]
	if !ok || !c.specs[pin].Output {
		return fmt.Errorf("pin %d not requested as output", pin)
	}
	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Close releases GPIO resources.
// Outputs are driven inactive and every line is reconfigured to input before
// closing. The bias left on a released line holds outputs at their inactive
// level, pull-up for active-low relays and pull-down otherwise.
func (c *CdevIO) Close() error {
	var errs []error

	for pin, line := range c.lines {
		spec := c.specs[pin]
		if spec.Output {
			if err := line.SetValue(0); err != nil {
				errs = append(errs, fmt.Errorf("drive pin %d inactive: %w", pin, err))
			}
		}
		bias := gpiocdev.WithPullDown
		if releasePullUp(spec) {
			bias = gpiocdev.WithPullUp
		}
		if err := line.Reconfigure(gpiocdev.AsInput, bias); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	c.lines = nil

	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		c.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
