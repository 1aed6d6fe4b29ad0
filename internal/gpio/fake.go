package gpio

import (
	"fmt"
	"sync"
	"time"
)

// Write records a single output write.
type Write struct {
	Pin   int
	Level int
}

// Watch records how an edge handler was requested.
type Watch struct {
	Edge     Edge
	Debounce time.Duration
}

// FakePins is a test double that records writes and serves scripted levels.
// Safe for concurrent use.
type FakePins struct {
	mu       sync.Mutex
	outputs  map[int]int
	idle     map[int]int
	inputs   map[int]int
	pulls    map[int]Pull
	handlers map[int]func(pin int)
	watches  map[int]Watch
	writes   []Write

	// Released tracks how many times Release was called.
	Released int

	// ReadError, if set, will be returned by Read.
	ReadError error

	// WriteError, if set, will be returned by Write.
	WriteError error
}

// NewFakePins creates an empty FakePins.
func NewFakePins() *FakePins {
	return &FakePins{
		outputs:  make(map[int]int),
		idle:     make(map[int]int),
		inputs:   make(map[int]int),
		pulls:    make(map[int]Pull),
		handlers: make(map[int]func(pin int)),
		watches:  make(map[int]Watch),
	}
}

// ConfigureOutput marks pin as an output at the initial level.
func (f *FakePins) ConfigureOutput(pin, initial int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[pin] = initial
	f.idle[pin] = initial
	return nil
}

// ConfigureInput marks pin as an input. Its level defaults to Low.
func (f *FakePins) ConfigureInput(pin int, pull Pull) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.inputs[pin]; !ok {
		f.inputs[pin] = Low
	}
	f.pulls[pin] = pull
	return nil
}

// Write records the write and updates the output level.
func (f *FakePins) Write(pin, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	if _, ok := f.outputs[pin]; !ok {
		return fmt.Errorf("pin %d is not an output", pin)
	}
	f.outputs[pin] = level
	f.writes = append(f.writes, Write{Pin: pin, Level: level})
	return nil
}

// Read returns the scripted level of an input.
func (f *FakePins) Read(pin int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	level, ok := f.inputs[pin]
	if !ok {
		return 0, fmt.Errorf("pin %d is not an input", pin)
	}
	return level, nil
}

// OnEdge stores fn and the requested edge and debounce; fn is invoked by
// Trigger.
func (f *FakePins) OnEdge(pin int, edge Edge, debounce time.Duration, fn func(pin int)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.inputs[pin]; !ok {
		return fmt.Errorf("pin %d is not an input", pin)
	}
	f.handlers[pin] = fn
	f.watches[pin] = Watch{Edge: edge, Debounce: debounce}
	return nil
}

// Watch returns the edge watch requested on pin.
func (f *FakePins) Watch(pin int) (Watch, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.watches[pin]
	return w, ok
}

// Release restores outputs to their initial level and counts the call.
func (f *FakePins) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pin, level := range f.idle {
		f.outputs[pin] = level
	}
	f.Released++
	return nil
}

// SetInput sets the level returned by Read without raising an edge.
func (f *FakePins) SetInput(pin, level int) {
	f.mu.Lock()
	f.inputs[pin] = level
	f.mu.Unlock()
}

// Trigger sets the input level and calls the edge handler, if any.
func (f *FakePins) Trigger(pin, level int) {
	f.mu.Lock()
	f.inputs[pin] = level
	fn := f.handlers[pin]
	f.mu.Unlock()
	if fn != nil {
		fn(pin)
	}
}

// Output returns the current level of an output line.
func (f *FakePins) Output(pin int) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	level, ok := f.outputs[pin]
	return level, ok
}

// Writes returns a copy of all recorded writes.
func (f *FakePins) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// Count returns how many times level was written to pin.
func (f *FakePins) Count(pin, level int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.writes {
		if w.Pin == pin && w.Level == level {
			n++
		}
	}
	return n
}

// Reset clears recorded writes.
func (f *FakePins) Reset() {
	f.mu.Lock()
	f.writes = nil
	f.mu.Unlock()
}
