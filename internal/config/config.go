// Package config loads the daemon's YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sweeney/garage-door/internal/door"
	"github.com/sweeney/garage-door/internal/gpio"
)

// Defaults.
const (
	DefaultClientID    = "garage-door"
	DefaultTopicPrefix = "home/garage"
	DefaultHeartbeat   = 15 * time.Minute
)

// Config is the top-level configuration file.
type Config struct {
	Chip      string         `yaml:"chip"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	HTTP      string         `yaml:"http"`
	Heartbeat *time.Duration `yaml:"heartbeat"`
	Doors     []Door         `yaml:"doors"`
}

// MQTTConfig holds broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Door is one door's configuration record. Pointer fields are required.
type Door struct {
	ID                string `yaml:"id"`
	Relay             *int   `yaml:"relay"`
	State             *int   `yaml:"state"`
	StateMode         string `yaml:"state_mode"`
	ClosingDelay      *int   `yaml:"closing_delay"` // seconds
	RelayActiveHigh   bool   `yaml:"relay_active_high"`
	LegacyStateLabels bool   `yaml:"legacy_state_labels"`
	DebounceMs        int    `yaml:"debounce_ms"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result.
// Unknown keys are rejected so typos fail at startup.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.SetStrict(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Chip == "" {
		c.Chip = gpio.DefaultChip
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	if c.Heartbeat == nil {
		hb := DefaultHeartbeat
		c.Heartbeat = &hb
	}
}

// Validate checks every door record.
func (c *Config) Validate() error {
	if len(c.Doors) == 0 {
		return fmt.Errorf("no doors configured")
	}
	ids := make(map[string]bool)
	pins := make(map[int]string)
	for i, d := range c.Doors {
		if d.ID == "" {
			return fmt.Errorf("door %d: missing id", i)
		}
		if ids[d.ID] {
			return fmt.Errorf("door %s: duplicate id", d.ID)
		}
		ids[d.ID] = true

		dc, err := d.DoorConfig()
		if err != nil {
			return err
		}
		if err := dc.Validate(); err != nil {
			return err
		}
		for _, p := range []int{dc.RelayPin, dc.SensorPin} {
			if owner, ok := pins[p]; ok {
				return fmt.Errorf("door %s: pin %d already used by door %s", d.ID, p, owner)
			}
			pins[p] = d.ID
		}
	}
	return nil
}

// HeartbeatInterval returns the heartbeat period; zero disables it.
func (c *Config) HeartbeatInterval() time.Duration {
	if c.Heartbeat == nil {
		return DefaultHeartbeat
	}
	return *c.Heartbeat
}

// DoorConfig converts the record into a controller config.
func (d Door) DoorConfig() (door.Config, error) {
	switch {
	case d.Relay == nil:
		return door.Config{}, fmt.Errorf("door %s: missing relay", d.ID)
	case d.State == nil:
		return door.Config{}, fmt.Errorf("door %s: missing state", d.ID)
	case d.StateMode == "":
		return door.Config{}, fmt.Errorf("door %s: missing state_mode", d.ID)
	case d.ClosingDelay == nil:
		return door.Config{}, fmt.Errorf("door %s: missing closing_delay", d.ID)
	case *d.ClosingDelay <= 0:
		return door.Config{}, fmt.Errorf("door %s: closing_delay must be positive", d.ID)
	case d.DebounceMs < 0:
		return door.Config{}, fmt.Errorf("door %s: debounce_ms must not be negative", d.ID)
	}
	return door.Config{
		ID:              d.ID,
		RelayPin:        *d.Relay,
		SensorPin:       *d.State,
		SensorMode:      door.SensorMode(d.StateMode),
		TravelDuration:  time.Duration(*d.ClosingDelay) * time.Second,
		RelayActiveHigh: d.RelayActiveHigh,
		LegacyLabels:    d.LegacyStateLabels,
		Debounce:        time.Duration(d.DebounceMs) * time.Millisecond,
	}, nil
}
