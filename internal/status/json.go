package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Doors         []DoorJSON   `json:"doors"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// DoorJSON is the JSON representation of one door.
type DoorJSON struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Mode       string `json:"state_mode"`
	TravelSecs int64  `json:"closing_delay"`
	LastChange string `json:"last_change,omitempty"`
	Pulses     int    `json:"pulses"`
	Changes    int    `json:"changes"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	Chip        string `json:"chip"`
}

// StateOrUnknown returns the state label, or "unknown" before the first reading.
func (d DoorStatus) StateOrUnknown() string {
	if d.State == "" {
		return "unknown"
	}
	return string(d.State)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildDoor(d DoorStatus) DoorJSON {
	return DoorJSON{
		ID:         d.ID,
		State:      d.StateOrUnknown(),
		Mode:       string(d.Mode),
		TravelSecs: d.TravelSecs,
		LastChange: formatTime(d.LastChange),
		Pulses:     d.Counts.Pulses,
		Changes:    d.Counts.Changes,
	}
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Doors:         make([]DoorJSON, 0, len(snap.Doors)),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime),
		Timestamp:     formatTime(snap.Now),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Chip:        snap.Config.Chip,
		},
	}
	for _, d := range snap.Doors {
		inner.Doors = append(inner.Doors, buildDoor(d))
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// DoorEnvelope wraps a single door for the per-door endpoint.
type DoorEnvelope struct {
	Door DoorJSON `json:"door"`
}

// FormatDoorJSON returns the JSON status of one door.
func FormatDoorJSON(d DoorStatus) []byte {
	data, _ := json.MarshalIndent(DoorEnvelope{Door: buildDoor(d)}, "", "  ")
	return data
}
