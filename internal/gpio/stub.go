//go:build !linux

package gpio

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// Chip is not available on non-Linux platforms.
type Chip struct{}

// OpenChip returns an error on non-Linux platforms.
func OpenChip(name string) (*Chip, error) {
	return nil, errUnsupported
}

// ConfigureOutput is not implemented on non-Linux platforms.
func (c *Chip) ConfigureOutput(pin, initial int) error { return errUnsupported }

// ConfigureInput is not implemented on non-Linux platforms.
func (c *Chip) ConfigureInput(pin int, pull Pull) error { return errUnsupported }

// Write is not implemented on non-Linux platforms.
func (c *Chip) Write(pin, level int) error { return errUnsupported }

// Read is not implemented on non-Linux platforms.
func (c *Chip) Read(pin int) (int, error) { return 0, errUnsupported }

// OnEdge is not implemented on non-Linux platforms.
func (c *Chip) OnEdge(pin int, edge Edge, debounce time.Duration, fn func(pin int)) error {
	return errUnsupported
}

// Release is not implemented on non-Linux platforms.
func (c *Chip) Release() error {
	return nil
}
