// Package config loads and validates the broker's static configuration:
// resource caps, transport timeouts, persistence backend selection, and
// retention policy. Configuration loading, defaulting, and logging
// initialization are ambient concerns external to the broker core
// (§1 OUT OF SCOPE) but are still provided here in the teacher's manner so
// the rest of the module has something concrete to depend on.
package config

// Config is the umbrella configuration object produced by Load and consumed
// throughout the broker.
type Config struct {
	configPath string

	Caps        *Caps
	Transport   *TransportConfig
	Persistence *PersistenceConfig
	Retention   *RetentionConfig
	Stream      *StreamDefaults
}

// ConfigPath returns the path the configuration was loaded from, or "" if it
// was constructed purely from defaults.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// Default returns a Config populated entirely from built-in defaults.
func Default() *Config {
	return &Config{
		Caps:        DefaultCaps(),
		Transport:   DefaultTransportConfig(),
		Persistence: DefaultPersistenceConfig(),
		Retention:   DefaultRetentionConfig(),
		Stream:      DefaultStreamDefaults(),
	}
}
