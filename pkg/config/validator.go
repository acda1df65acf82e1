package config

import "fmt"

// validate checks a fully-merged Config for internally consistent values.
// Mirrors the teacher's validator.go shape: one function per section; the
// first failing check is returned, wrapped with NewValidationError for context.
func validate(cfg *Config) error {
	if err := validateCaps(cfg.Caps); err != nil {
		return err
	}
	if err := validateTransport(cfg.Transport); err != nil {
		return err
	}
	if err := validatePersistence(cfg.Persistence); err != nil {
		return err
	}
	if err := validateRetention(cfg.Retention); err != nil {
		return err
	}
	if err := validateStreamDefaults(cfg.Stream, cfg.Caps); err != nil {
		return err
	}
	return nil
}

func validateCaps(c *Caps) error {
	if c.MaxStreams <= 0 {
		return NewValidationError("caps", "max_streams", fmt.Errorf("must be > 0"))
	}
	if c.MaxConnectionsGlobal <= 0 {
		return NewValidationError("caps", "max_connections_global", fmt.Errorf("must be > 0"))
	}
	if c.MaxEventSizeBytes <= 0 {
		return NewValidationError("caps", "max_event_size_bytes", fmt.Errorf("must be > 0"))
	}
	if c.MaxMessageSizeBytes <= 0 {
		return NewValidationError("caps", "max_message_size_bytes", fmt.Errorf("must be > 0"))
	}
	if c.SanitizeMaxFieldBytes <= 0 {
		return NewValidationError("caps", "sanitize_max_field_bytes", fmt.Errorf("must be > 0"))
	}
	return nil
}

func validateTransport(t *TransportConfig) error {
	if t.WriteTimeout <= 0 {
		return NewValidationError("transport", "write_timeout", fmt.Errorf("must be > 0"))
	}
	if t.SendQueueSize <= 0 {
		return NewValidationError("transport", "send_queue_size", fmt.Errorf("must be > 0"))
	}
	if t.ReplayBatchSize <= 0 {
		return NewValidationError("transport", "replay_batch_size", fmt.Errorf("must be > 0"))
	}
	if t.CatchupLimit <= 0 {
		return NewValidationError("transport", "catchup_limit", fmt.Errorf("must be > 0"))
	}
	return nil
}

func validatePersistence(p *PersistenceConfig) error {
	switch p.Backend {
	case "memory", "sqlite":
	default:
		return NewValidationError("persistence", "backend", fmt.Errorf("must be 'memory' or 'sqlite', got %q", p.Backend))
	}
	if p.Backend == "sqlite" && p.SQLitePath == "" {
		return NewValidationError("persistence", "sqlite_path", ErrMissingRequiredField)
	}
	return nil
}

func validateRetention(r *RetentionConfig) error {
	if r.StreamTTL <= 0 {
		return NewValidationError("retention", "stream_ttl", fmt.Errorf("must be > 0"))
	}
	if r.CleanupInterval <= 0 {
		return NewValidationError("retention", "cleanup_interval", fmt.Errorf("must be > 0"))
	}
	return nil
}

func validateStreamDefaults(s *StreamDefaults, caps *Caps) error {
	if s.MaxEventsPerStream <= 0 {
		return NewValidationError("stream_defaults", "max_events_per_stream", fmt.Errorf("must be > 0"))
	}
	if s.MaxSubscribers <= 0 {
		return NewValidationError("stream_defaults", "max_subscribers", fmt.Errorf("must be > 0"))
	}
	if s.MaxSubscribers > caps.MaxConnectionsGlobal {
		return NewValidationError("stream_defaults", "max_subscribers", fmt.Errorf("cannot exceed caps.max_connections_global (%d)", caps.MaxConnectionsGlobal))
	}
	if s.HeartbeatInterval <= 0 {
		return NewValidationError("stream_defaults", "heartbeat_interval", fmt.Errorf("must be > 0"))
	}
	switch s.Persistence {
	case "memory", "sqlite":
	default:
		return NewValidationError("stream_defaults", "persistence", fmt.Errorf("must be 'memory' or 'sqlite', got %q", s.Persistence))
	}
	return nil
}
