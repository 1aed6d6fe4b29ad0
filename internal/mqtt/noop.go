package mqtt

import "github.com/sweeney/garage-door/internal/door"

// NoopPublisher discards everything. Used when no broker is configured.
type NoopPublisher struct{}

// PublishState implements Publisher.
func (NoopPublisher) PublishState(door.Change) error { return nil }

// PublishSystem implements Publisher.
func (NoopPublisher) PublishSystem(SystemEvent) error { return nil }

// Close implements Publisher.
func (NoopPublisher) Close() error { return nil }

// IsConnected always reports false.
func (NoopPublisher) IsConnected() bool { return false }
