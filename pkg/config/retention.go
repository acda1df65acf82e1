package config

import "time"

// RetentionConfig controls stream TTL and the cleanup sweep that enforces it.
type RetentionConfig struct {
	// StreamTTL is the maximum time a stream may go without activity before
	// cleanupExpired removes it and its event log.
	StreamTTL time.Duration `yaml:"stream_ttl"`

	// CleanupInterval is how often the cleanup loop scans for expired
	// streams. Per spec this defaults to StreamTTL/10.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// StaleThreshold is how long a stream may go without activity before
	// healthCheck reports it as an anomaly (distinct from outright expiry).
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	ttl := 24 * time.Hour
	return &RetentionConfig{
		StreamTTL:       ttl,
		CleanupInterval: ttl / 10,
		StaleThreshold:  10 * time.Minute,
	}
}
