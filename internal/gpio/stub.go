//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// CdevIO is not available on non-Linux platforms.
type CdevIO struct{}

// NewCdevIO returns an error on non-Linux platforms.
func NewCdevIO(chipName string, lines []Line) (*CdevIO, error) {
	return nil, errUnsupported
}

// Read is not implemented on non-Linux platforms.
func (c *CdevIO) Read(pin int) (bool, error) { return false, errUnsupported }

// Write is not implemented on non-Linux platforms.
func (c *CdevIO) Write(pin int, on bool) error { return errUnsupported }

// Close is not implemented on non-Linux platforms.
func (c *CdevIO) Close() error { return nil }

// RPIO is not available on non-Linux platforms.
type RPIO struct{}

// NewRPIO returns an error on non-Linux platforms.
func NewRPIO(lines []Line) (*RPIO, error) {
	return nil, errUnsupported
}

// Read is not implemented on non-Linux platforms.
func (r *RPIO) Read(pin int) (bool, error) { return false, errUnsupported }

// Write is not implemented on non-Linux platforms.
func (r *RPIO) Write(pin int, on bool) error { return errUnsupported }

// Close is not implemented on non-Linux platforms.
func (r *RPIO) Close() error { return nil }
