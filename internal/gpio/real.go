//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Chip drives lines on a Linux GPIO character device.
type Chip struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
	pulls map[int]Pull
	idle  map[int]int // initial level of each output
}

// OpenChip opens the named gpiochip, e.g. "gpiochip0".
func OpenChip(name string) (*Chip, error) {
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", name, err)
	}
	return &Chip{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
		pulls: make(map[int]Pull),
		idle:  make(map[int]int),
	}, nil
}

// ConfigureOutput requests pin as an output driven to initial.
func (c *Chip) ConfigureOutput(pin, initial int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lines[pin]; ok {
		return fmt.Errorf("pin %d already requested", pin)
	}
	line, err := c.chip.RequestLine(pin, gpiocdev.AsOutput(initial))
	if err != nil {
		return fmt.Errorf("request output pin %d: %w", pin, err)
	}
	c.lines[pin] = line
	c.idle[pin] = initial
	return nil
}

// ConfigureInput requests pin as an input with the given bias.
func (c *Chip) ConfigureInput(pin int, pull Pull) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lines[pin]; ok {
		return fmt.Errorf("pin %d already requested", pin)
	}
	line, err := c.chip.RequestLine(pin, gpiocdev.AsInput, biasOption(pull))
	if err != nil {
		return fmt.Errorf("request input pin %d: %w", pin, err)
	}
	c.lines[pin] = line
	c.pulls[pin] = pull
	return nil
}

// Write sets an output line.
func (c *Chip) Write(pin, level int) error {
	line, err := c.line(pin)
	if err != nil {
		return err
	}
	if err := line.SetValue(level); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Read returns the raw level of an input line.
func (c *Chip) Read(pin int) (int, error) {
	line, err := c.line(pin)
	if err != nil {
		return 0, err
	}
	v, err := line.Value()
	if err != nil {
		return 0, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return v, nil
}

// OnEdge re-requests an input line with edge detection enabled.
// Event handlers can only be attached when a line is requested, so the
// existing request is closed first.
func (c *Chip) OnEdge(pin int, edge Edge, debounce time.Duration, fn func(pin int)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.lines[pin]
	if !ok {
		return fmt.Errorf("pin %d not configured", pin)
	}
	if err := old.Close(); err != nil {
		return fmt.Errorf("close pin %d: %w", pin, err)
	}
	delete(c.lines, pin)

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		biasOption(c.pulls[pin]),
		edgeOption(edge),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			fn(evt.Offset)
		}),
	}
	if debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(debounce))
	}
	line, err := c.chip.RequestLine(pin, opts...)
	if err != nil {
		return fmt.Errorf("request edge events on pin %d: %w", pin, err)
	}
	c.lines[pin] = line
	return nil
}

// Release closes every line and the chip. Outputs are first driven back to
// their initial level, then every line is left as an input with bias
// disabled.
func (c *Chip) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for pin, line := range c.lines {
		if level, ok := c.idle[pin]; ok {
			if err := line.SetValue(level); err != nil {
				errs = append(errs, fmt.Errorf("idle pin %d: %w", pin, err))
			}
			delete(c.idle, pin)
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithBiasDisabled); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
		delete(c.lines, pin)
	}
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

func (c *Chip) line(pin int) (*gpiocdev.Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	line, ok := c.lines[pin]
	if !ok {
		return nil, fmt.Errorf("pin %d not configured", pin)
	}
	return line, nil
}

func biasOption(p Pull) gpiocdev.LineReqOption {
	switch p {
	case PullUp:
		return gpiocdev.WithPullUp
	case PullDown:
		return gpiocdev.WithPullDown
	default:
		return gpiocdev.WithBiasDisabled
	}
}

func edgeOption(e Edge) gpiocdev.LineReqOption {
	switch e {
	case EdgeRising:
		return gpiocdev.WithRisingEdge
	case EdgeFalling:
		return gpiocdev.WithFallingEdge
	default:
		return gpiocdev.WithBothEdges
	}
}
