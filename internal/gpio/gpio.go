// Package gpio provides the pin capability used by door controllers.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "time"

// Raw line levels.
const (
	Low  = 0
	High = 1
)

// Pull selects the bias applied to an input line.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Edge selects which transitions of an input line raise an event.
type Edge int

const (
	EdgeBoth Edge = iota
	EdgeRising
	EdgeFalling
)

// DefaultChip is the gpiochip carrying the Raspberry Pi header pins.
const DefaultChip = "gpiochip0"

// Pins drives output lines and samples input lines.
// A Pins value must be owned by exactly one controller: nothing else may
// write the lines it has configured.
type Pins interface {
	// ConfigureOutput requests pin as an output at the initial level.
	ConfigureOutput(pin, initial int) error

	// ConfigureInput requests pin as an input with the given bias.
	ConfigureInput(pin int, pull Pull) error

	// Write sets an output line.
	Write(pin, level int) error

	// Read returns the raw level of an input line.
	Read(pin int) (int, error)

	// OnEdge calls fn from a background goroutine whenever pin changes.
	// The pin must already be configured as an input.
	OnEdge(pin int, edge Edge, debounce time.Duration, fn func(pin int)) error

	// Release drives outputs back to their initial level and frees every
	// line this Pins holds.
	Release() error
}
