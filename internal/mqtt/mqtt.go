// Package mqtt publishes door state changes and daemon lifecycle events.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/garage-door/internal/door"
)

// Topics is the topic layout under a configurable prefix.
type Topics struct {
	Prefix string
}

// State returns the retained state topic for a door.
func (t Topics) State(doorID string) string {
	return t.Prefix + "/" + doorID + "/state"
}

// System returns the lifecycle topic.
func (t Topics) System() string {
	return t.Prefix + "/system"
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishState sends a door state change.
	// Returns error if publishing fails (should not crash the process).
	PublishState(change door.Change) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a lifecycle event (startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// StatePayload is the JSON body published on a door's state topic.
type StatePayload struct {
	Door DoorPayload `json:"door"`
}

// DoorPayload contains the door state details.
type DoorPayload struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
}

// FormatStatePayload creates the JSON payload for a door state change.
func FormatStatePayload(change door.Change) ([]byte, error) {
	return json.Marshal(StatePayload{
		Door: DoorPayload{
			ID:        change.DoorID,
			State:     string(change.State),
			Timestamp: change.Time.UTC().Format(time.RFC3339),
		},
	})
}

// SystemPayload is used for simple events (will, RECONNECTED) that don't
// carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
