// Package status provides a thread-safe status tracker for the garage-door
// daemon. It is read by the HTTP handlers and system MQTT events.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/garage-door/internal/door"
)

// NetworkInfo contains network state written by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Chip        string
}

// DoorStatus is the last known state of one door.
type DoorStatus struct {
	ID         string
	State      door.State
	Mode       door.SensorMode
	TravelSecs int64
	LastChange time.Time
	Counts     door.Counts
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	Doors         []DoorStatus // sorted by ID
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Door returns the status of the named door.
func (s Snapshot) Door(id string) (DoorStatus, bool) {
	for _, d := range s.Doors {
		if d.ID == id {
			return d, true
		}
	}
	return DoorStatus{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu        sync.RWMutex
	doors     map[string]DoorStatus
	startTime time.Time
	connected bool
	network   *NetworkInfo
	cfg       Config
	now       func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		doors:     make(map[string]DoorStatus),
		startTime: startTime,
		cfg:       cfg,
		now:       time.Now,
	}
}

// AddDoor registers a door before its first state is known.
func (t *Tracker) AddDoor(id string, mode door.SensorMode, travel time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.doors[id]
	d.ID = id
	d.Mode = mode
	d.TravelSecs = int64(travel / time.Second)
	t.doors[id] = d
}

// SetState records a door state and when it was observed.
func (t *Tracker) SetState(id string, state door.State, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.doors[id]
	d.ID = id
	d.State = state
	d.LastChange = at
	t.doors[id] = d
}

// SetCounts records a door's activity counters.
func (t *Tracker) SetCounts(id string, counts door.Counts) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.doors[id]
	d.ID = id
	d.Counts = counts
	t.doors[id] = d
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.connected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := Snapshot{
		Doors:         make([]DoorStatus, 0, len(t.doors)),
		StartTime:     t.startTime,
		MQTTConnected: t.connected,
		Network:       t.network,
		Config:        t.cfg,
	}
	for _, d := range t.doors {
		s.Doors = append(s.Doors, d)
	}
	t.mu.RUnlock()

	sort.Slice(s.Doors, func(i, j int) bool { return s.Doors[i].ID < s.Doors[j].ID })
	s.Now = t.now()
	return s
}
