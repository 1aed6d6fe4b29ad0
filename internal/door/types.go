package door

import "time"

// State is the logical door state.
type State string

const (
	StateOpen    State = "open"
	StateClosed  State = "closed"
	StateOpening State = "opening"
	StateClosing State = "closing"
)

// Moving reports whether s is a transitional state.
func (s State) Moving() bool {
	return s == StateOpening || s == StateClosing
}

// SensorMode describes how the door sensor is wired.
type SensorMode string

const (
	NormallyClosed SensorMode = "normally_closed"
	NormallyOpen   SensorMode = "normally_open"
)

// ClosedLevel returns the raw sensor level that means "closed".
func (m SensorMode) ClosedLevel() int {
	if m == NormallyClosed {
		return 1
	}
	return 0
}

// Command names a door command.
type Command string

const (
	CommandOpen  Command = "open"
	CommandClose Command = "close"
	CommandStop  Command = "stop"
)

// Change is delivered to hook subscribers after the sensor settles.
type Change struct {
	DoorID string
	State  State
	Time   time.Time
}

// Counts tracks activity since startup.
type Counts struct {
	Pulses  int
	Changes int
}
