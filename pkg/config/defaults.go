package config

import "time"

// StreamDefaults holds the broker-wide per-stream settings, validated against
// the global Caps. The registry does not copy them into a session's
// StreamConfig, and a session's own StreamConfig is not checked against Caps.
type StreamDefaults struct {
	// MaxEventsPerStream is validated against Caps, but no component passes
	// it to Publish or Append; a stream's FIFO retention is set by the
	// maxEventsPerStream argument of those calls.
	MaxEventsPerStream int `yaml:"max_events_per_stream"`

	// MaxSubscribers bounds the number of concurrent subscribers a single
	// stream may carry.
	MaxSubscribers int `yaml:"max_subscribers"`

	// HeartbeatInterval is how often transport adapters ping/emit a
	// heartbeat frame to detect stale subscribers.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Persistence names a persistence mode, "memory" or "sqlite". The Event
	// Store backend itself is chosen by PersistenceConfig.Backend.
	Persistence string `yaml:"persistence"`

	// ReplayEnabled is loaded with the rest of the section, but no component
	// reads it; replay requests are served whatever its value.
	ReplayEnabled bool `yaml:"replay_enabled"`
}

// DefaultStreamDefaults returns the built-in per-stream defaults.
func DefaultStreamDefaults() *StreamDefaults {
	return &StreamDefaults{
		MaxEventsPerStream: 1000,
		MaxSubscribers:     50,
		HeartbeatInterval:  15 * time.Second,
		Persistence:        "memory",
		ReplayEnabled:      true,
	}
}
