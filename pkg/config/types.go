package config

import "time"

// Caps holds the global resource caps enforced across the whole broker
// process, independent of any single stream's own configuration.
type Caps struct {
	// MaxStreams bounds the number of concurrent sessions the registry will
	// track. create() fails with CapacityExceeded beyond this.
	MaxStreams int `yaml:"max_streams"`

	// MaxConnectionsGlobal bounds the number of subscriber connections
	// (summed across every stream) the broker will accept.
	MaxConnectionsGlobal int `yaml:"max_connections_global"`

	// MaxEventSizeBytes bounds a single serialized event, checked by the SSE
	// adapter (oversize events are dropped with a warning frame).
	MaxEventSizeBytes int `yaml:"max_event_size_bytes"`

	// MaxMessageSizeBytes bounds a single WebSocket frame, checked by the
	// WebSocket adapter.
	MaxMessageSizeBytes int `yaml:"max_message_size_bytes"`

	// SanitizeMaxFieldBytes is the per-string-field truncation limit applied
	// during sanitization (§4.3).
	SanitizeMaxFieldBytes int `yaml:"sanitize_max_field_bytes"`
}

// DefaultCaps returns the built-in global caps.
func DefaultCaps() *Caps {
	return &Caps{
		MaxStreams:            10_000,
		MaxConnectionsGlobal:  50_000,
		MaxEventSizeBytes:     64 * 1024,
		MaxMessageSizeBytes:   1024 * 1024,
		SanitizeMaxFieldBytes: 8 * 1024,
	}
}

// TransportConfig controls transport-adapter-wide timeouts, independent of
// the per-stream heartbeat interval in StreamDefaults.
type TransportConfig struct {
	// WriteTimeout bounds a single WebSocket frame write; a failed or
	// timed-out write stops that connection's drain loop. The SSE adapter
	// does not apply it: SSE writes have no deadline.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// SendQueueSize is the bounded per-subscriber outbound buffer depth.
	SendQueueSize int `yaml:"send_queue_size"`

	// ShutdownDrainTimeout bounds how long graceful shutdown waits for
	// in-flight sends to drain before forcing transports closed.
	ShutdownDrainTimeout time.Duration `yaml:"shutdown_drain_timeout"`

	// ReplayBatchSize is the default number of events per replay batch.
	ReplayBatchSize int `yaml:"replay_batch_size"`

	// ReplayBatchPause is the pause between replay batches so live fan-out
	// isn't starved by a large backfill.
	ReplayBatchPause time.Duration `yaml:"replay_batch_pause"`

	// CatchupLimit is defaulted and validated (must be > 0), but no component
	// reads it; replay responses are not bounded by it.
	CatchupLimit int `yaml:"catchup_limit"`
}

// DefaultTransportConfig returns the built-in transport defaults.
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{
		WriteTimeout:         5 * time.Second,
		SendQueueSize:        256,
		ShutdownDrainTimeout: 10 * time.Second,
		ReplayBatchSize:      50,
		ReplayBatchPause:     10 * time.Millisecond,
		CatchupLimit:         200,
	}
}

// PersistenceConfig selects and configures the Event Store backend.
type PersistenceConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// SQLitePath is the database file path when Backend == "sqlite".
	// Use ":memory:" for an in-process, non-durable SQLite instance (useful
	// in tests that still want to exercise the SQL code path).
	SQLitePath string `yaml:"sqlite_path"`

	// BusyTimeout is passed to SQLite as busy_timeout to avoid
	// SQLITE_BUSY errors under concurrent writers.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// DefaultPersistenceConfig returns the built-in persistence defaults.
func DefaultPersistenceConfig() *PersistenceConfig {
	return &PersistenceConfig{
		Backend:     "memory",
		SQLitePath:  "broker.db",
		BusyTimeout: 5 * time.Second,
	}
}
