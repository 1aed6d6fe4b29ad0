// Package door maps a relay-driven garage door opener and its contact sensor
// to a door with open, closed, opening and closing states.
//
// The opener has a single momentary button: one press starts, stops or
// reverses the motor depending on what it is doing. The sensor only reports
// the two rest positions, so motion is inferred from deadlines set when a
// command is issued.
package door

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/garage-door/internal/gpio"
)

const (
	// PulseDuration is how long the relay is held to mimic a button press.
	PulseDuration = 200 * time.Millisecond

	// SettleDuration is the wait after a stop pulse and after a sensor edge.
	SettleDuration = 200 * time.Millisecond

	// DefaultDebounce is the kernel debounce period requested on the sensor line.
	DefaultDebounce = 300 * time.Millisecond
)

// ErrClosed is returned by commands issued after Shutdown.
var ErrClosed = errors.New("door: controller closed")

// Config describes one door.
type Config struct {
	ID              string
	RelayPin        int
	SensorPin       int
	SensorMode      SensorMode
	TravelDuration  time.Duration
	RelayActiveHigh bool
	// LegacyLabels reports StateClosing for both directions of travel.
	LegacyLabels bool
	Debounce     time.Duration
}

// Validate checks the config before any pin is touched.
func (c Config) Validate() error {
	if c.ID == "" {
		return errors.New("missing id")
	}
	if c.RelayPin < 0 || c.SensorPin < 0 {
		return fmt.Errorf("door %s: negative pin", c.ID)
	}
	if c.RelayPin == c.SensorPin {
		return fmt.Errorf("door %s: relay and sensor share pin %d", c.ID, c.RelayPin)
	}
	if c.SensorMode != NormallyClosed && c.SensorMode != NormallyOpen {
		return fmt.Errorf("door %s: invalid sensor mode %q", c.ID, c.SensorMode)
	}
	if c.TravelDuration <= 0 {
		return fmt.Errorf("door %s: travel duration must be positive", c.ID)
	}
	return nil
}

// Clock abstracts time so tests can run without real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

type request struct {
	cmd   Command
	reply chan error
}

// Controller drives one door. Commands run one at a time on a worker
// goroutine; sensor edges are handled on a separate notifier goroutine so a
// settle wait never delays a command.
type Controller struct {
	cfg         Config
	pins        gpio.Pins
	clock       Clock
	relayOn     int
	relayOff    int
	closedLevel int

	// OnStateChange is fired after every settled sensor edge, on the
	// notifier goroutine.
	OnStateChange EventHook

	mu              sync.RWMutex
	closingDeadline time.Time
	openingDeadline time.Time
	counts          Counts

	cmds       chan request
	edges      chan struct{}
	errs       chan error
	done       chan struct{}
	workerDone chan struct{}
	notifyDone chan struct{}
	firing     atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// New configures the door's pins and starts its goroutines.
// The controller takes ownership of pins and releases them in Shutdown, or
// before returning if setup fails.
func New(cfg Config, pins gpio.Pins) (*Controller, error) {
	return NewWithClock(cfg, pins, realClock{})
}

// NewWithClock is New with an injected clock.
func NewWithClock(cfg Config, pins gpio.Pins, clock Clock) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		pins.Release()
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	now := clock.Now()
	c := &Controller{
		cfg:             cfg,
		pins:            pins,
		clock:           clock,
		relayOn:         gpio.Low,
		relayOff:        gpio.High,
		closedLevel:     cfg.SensorMode.ClosedLevel(),
		closingDeadline: now,
		openingDeadline: now,
		cmds:            make(chan request),
		edges:           make(chan struct{}, 1),
		errs:            make(chan error, 1),
		done:            make(chan struct{}),
		workerDone:      make(chan struct{}),
		notifyDone:      make(chan struct{}),
	}
	if cfg.RelayActiveHigh {
		c.relayOn, c.relayOff = gpio.High, gpio.Low
	}

	if err := c.setupPins(); err != nil {
		pins.Release()
		return nil, fmt.Errorf("door %s: %w", cfg.ID, err)
	}

	go c.runCommands()
	go c.runNotifier()

	log.Printf("door %s: ready (relay=%d sensor=%d mode=%s travel=%v)",
		cfg.ID, cfg.RelayPin, cfg.SensorPin, cfg.SensorMode, cfg.TravelDuration)
	return c, nil
}

func (c *Controller) setupPins() error {
	if err := c.pins.ConfigureOutput(c.cfg.RelayPin, c.relayOff); err != nil {
		return fmt.Errorf("configure relay: %w", err)
	}
	if err := c.pins.ConfigureInput(c.cfg.SensorPin, gpio.PullUp); err != nil {
		return fmt.Errorf("configure sensor: %w", err)
	}
	if err := c.pins.OnEdge(c.cfg.SensorPin, gpio.EdgeBoth, c.cfg.Debounce, c.handleEdge); err != nil {
		return fmt.Errorf("watch sensor: %w", err)
	}
	return nil
}

// ID returns the door identifier.
func (c *Controller) ID() string {
	return c.cfg.ID
}

// Config returns the config the controller was built with.
func (c *Controller) Config() Config {
	return c.cfg
}

// Errors delivers sensor read failures from the notifier goroutine.
// The caller should treat them as fatal.
func (c *Controller) Errors() <-chan error {
	return c.errs
}

// IsClosing reports whether a close is presumed to be in progress.
func (c *Controller) IsClosing() bool {
	now := c.clock.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return now.Before(c.closingDeadline)
}

// IsOpening reports whether an open is presumed to be in progress.
func (c *Controller) IsOpening() bool {
	now := c.clock.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return now.Before(c.openingDeadline)
}

// Deadlines returns the expected end of the current close and open motions.
func (c *Controller) Deadlines() (closing, opening time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closingDeadline, c.openingDeadline
}

// Counts returns activity counters.
func (c *Controller) Counts() Counts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts
}

// State derives the door state from the deadlines and a live sensor read.
// A door whose motor has failed keeps reporting a transitional state until
// its deadline passes.
func (c *Controller) State() (State, error) {
	now := c.clock.Now()
	c.mu.RLock()
	closing := now.Before(c.closingDeadline)
	opening := now.Before(c.openingDeadline)
	c.mu.RUnlock()

	switch {
	case closing:
		return StateClosing, nil
	case opening:
		if c.cfg.LegacyLabels {
			return StateClosing, nil
		}
		return StateOpening, nil
	}

	level, err := c.pins.Read(c.cfg.SensorPin)
	if err != nil {
		return "", fmt.Errorf("door %s: read sensor: %w", c.cfg.ID, err)
	}
	if level == c.closedLevel {
		return StateClosed, nil
	}
	return StateOpen, nil
}

// Open starts opening the door, stopping a close first if one is running.
// It is a no-op while the door is already opening.
func (c *Controller) Open() error {
	return c.do(CommandOpen)
}

// Close starts closing the door, stopping an open first if one is running.
// It is a no-op while the door is already closing.
func (c *Controller) Close() error {
	return c.do(CommandClose)
}

// Stop halts a presumed motion. It is a no-op when the door is at rest.
func (c *Controller) Stop() error {
	return c.do(CommandStop)
}

// Do runs a named command.
func (c *Controller) Do(cmd Command) error {
	switch cmd {
	case CommandOpen, CommandClose, CommandStop:
		return c.do(cmd)
	}
	return fmt.Errorf("door %s: unknown command %q", c.cfg.ID, cmd)
}

func (c *Controller) do(cmd Command) error {
	req := request{cmd: cmd, reply: make(chan error, 1)}
	select {
	case <-c.done:
		return ErrClosed
	case c.cmds <- req:
	}
	return <-req.reply
}

// Shutdown stops the goroutines and releases the pins. It is safe to call
// more than once; later calls return the first result. Called from an
// OnStateChange subscriber it does not wait for that notification to
// return.
func (c *Controller) Shutdown() error {
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.workerDone
		if !c.firing.Load() {
			<-c.notifyDone
		}
		if err := c.pins.Release(); err != nil {
			c.closeErr = fmt.Errorf("door %s: release pins: %w", c.cfg.ID, err)
		}
		log.Printf("door %s: released", c.cfg.ID)
	})
	return c.closeErr
}

func (c *Controller) runCommands() {
	defer close(c.workerDone)
	for {
		select {
		case <-c.done:
			return
		case req := <-c.cmds:
			req.reply <- c.execute(req.cmd)
		}
	}
}

func (c *Controller) execute(cmd Command) error {
	var err error
	switch cmd {
	case CommandOpen:
		err = c.move(&c.openingDeadline, &c.closingDeadline)
	case CommandClose:
		err = c.move(&c.closingDeadline, &c.openingDeadline)
	case CommandStop:
		err = c.stop()
	}
	if err != nil {
		return fmt.Errorf("door %s: %s: %w", c.cfg.ID, cmd, err)
	}
	return nil
}

// move starts the motion tracked by own, stopping the motion tracked by
// other first. Only the worker goroutine writes the deadlines.
func (c *Controller) move(own, other *time.Time) error {
	now := c.clock.Now()
	c.mu.RLock()
	active := now.Before(*own)
	opposite := now.Before(*other)
	c.mu.RUnlock()

	if active {
		return nil
	}

	if opposite {
		if err := c.pulse(); err != nil {
			return fmt.Errorf("stop pulse: %w", err)
		}
		c.clock.Sleep(SettleDuration)
		c.mu.Lock()
		*other = c.clock.Now()
		c.mu.Unlock()
	}

	start := c.clock.Now()
	if err := c.pulse(); err != nil {
		return fmt.Errorf("start pulse: %w", err)
	}
	c.mu.Lock()
	*own = start.Add(c.cfg.TravelDuration)
	c.mu.Unlock()
	return nil
}

func (c *Controller) stop() error {
	if !c.IsClosing() && !c.IsOpening() {
		return nil
	}
	if err := c.pulse(); err != nil {
		return err
	}
	now := c.clock.Now()
	c.mu.Lock()
	c.closingDeadline = now
	c.openingDeadline = now
	c.mu.Unlock()
	return nil
}

// pulse presses the opener button once.
func (c *Controller) pulse() error {
	if err := c.pins.Write(c.cfg.RelayPin, c.relayOn); err != nil {
		return err
	}
	c.clock.Sleep(PulseDuration)
	if err := c.pins.Write(c.cfg.RelayPin, c.relayOff); err != nil {
		return err
	}
	c.mu.Lock()
	c.counts.Pulses++
	c.mu.Unlock()
	return nil
}

// handleEdge runs on the GPIO event goroutine. Bursts coalesce into one
// pending notification.
func (c *Controller) handleEdge(pin int) {
	if pin != c.cfg.SensorPin {
		return
	}
	select {
	case c.edges <- struct{}{}:
	default:
	}
}

func (c *Controller) runNotifier() {
	defer close(c.notifyDone)
	for {
		select {
		case <-c.done:
			return
		case <-c.edges:
			c.clock.Sleep(SettleDuration)
			select {
			case <-c.done:
				return
			default:
			}
			c.notify()
		}
	}
}

func (c *Controller) notify() {
	state, err := c.State()
	if err != nil {
		log.Printf("door %s: sensor error: %v", c.cfg.ID, err)
		select {
		case c.errs <- err:
		default:
		}
		return
	}
	c.mu.Lock()
	c.counts.Changes++
	c.mu.Unlock()

	c.firing.Store(true)
	defer c.firing.Store(false)
	c.OnStateChange.Fire(Change{
		DoorID: c.cfg.ID,
		State:  state,
		Time:   c.clock.Now(),
	})
}
