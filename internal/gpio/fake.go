package gpio

import (
	"fmt"
	"sync"
)

// Write records a single call to Fake.Write.
type Write struct {
	Pin int
	On  bool
}

// Fake is a test double that serves settable input values and records
// output writes. Safe for concurrent use so tests can change inputs while
// a control loop goroutine is reading them.
type Fake struct {
	mu      sync.Mutex
	inputs  map[int]bool
	outputs map[int]bool
	writes  []Write

	// readErrors/writeErrors, if set for a pin, are returned by Read/Write.
	readErrors  map[int]error
	writeErrors map[int]error

	closed bool
}

// NewFake creates a Fake with every input inactive.
func NewFake() *Fake {
	return &Fake{
		inputs:      make(map[int]bool),
		outputs:     make(map[int]bool),
		readErrors:  make(map[int]error),
		writeErrors: make(map[int]error),
	}
}

// Set sets the logical value returned for an input pin.
func (f *Fake) Set(pin int, on bool) {
	f.mu.Lock()
	f.inputs[pin] = on
	f.mu.Unlock()
}

// SetLevel activates the first level pins and deactivates the rest,
// i.e. a well-behaved float switch column at the given fill level.
func (f *Fake) SetLevel(pins []int, level int) {
	f.mu.Lock()
	for i, p := range pins {
		f.inputs[p] = i < level
	}
	f.mu.Unlock()
}

// SetReadError makes Read fail for pin until cleared with nil.
func (f *Fake) SetReadError(pin int, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.readErrors, pin)
	} else {
		f.readErrors[pin] = err
	}
	f.mu.Unlock()
}

// SetWriteError makes Write fail for pin until cleared with nil.
func (f *Fake) SetWriteError(pin int, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.writeErrors, pin)
	} else {
		f.writeErrors[pin] = err
	}
	f.mu.Unlock()
}

// Read returns the value last set for pin (false if never set).
func (f *Fake) Read(pin int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false, fmt.Errorf("read pin %d: closed", pin)
	}
	if err := f.readErrors[pin]; err != nil {
		return false, err
	}
	return f.inputs[pin], nil
}

// Write records the write and latches the output value.
// A failed write does not change the latched value.
func (f *Fake) Write(pin int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("write pin %d: closed", pin)
	}
	if err := f.writeErrors[pin]; err != nil {
		return err
	}
	f.writes = append(f.writes, Write{Pin: pin, On: on})
	f.outputs[pin] = on
	return nil
}

// Output returns the latched value of an output pin.
func (f *Fake) Output(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs[pin]
}

// Writes returns a copy of every successful write so far.
func (f *Fake) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// Close drives every output low and marks the fake closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pin := range f.outputs {
		f.outputs[pin] = false
	}
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
