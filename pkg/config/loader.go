package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors the on-disk broker.yaml structure. Every section is a
// pointer so mergo can tell "absent" (nil, keep default) from "present but
// zero value" (explicit override).
type yamlConfig struct {
	Caps        *Caps              `yaml:"caps"`
	Transport   *TransportConfig   `yaml:"transport"`
	Persistence *PersistenceConfig `yaml:"persistence"`
	Retention   *RetentionConfig   `yaml:"retention"`
	Stream      *StreamDefaults    `yaml:"stream_defaults"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. If configPath names an existing file, load and env-expand it
//  3. Merge loaded values over the defaults (loaded values win)
//  4. Validate the result
func Initialize(_ context.Context, configPath string) (*Config, error) {
	log := slog.With("config_path", configPath)

	cfg := Default()
	cfg.configPath = configPath

	if configPath != "" {
		loaded, err := loadYAMLFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Warn("Configuration file not found, using built-in defaults")
			} else {
				return nil, NewLoadError(configPath, err)
			}
		} else {
			if err := applyOverrides(cfg, loaded); err != nil {
				return nil, NewLoadError(configPath, err)
			}
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"persistence", cfg.Persistence.Backend,
		"max_streams", cfg.Caps.MaxStreams,
		"max_events_per_stream", cfg.Stream.MaxEventsPerStream)

	return cfg, nil
}

func loadYAMLFile(path string) (*yamlConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := ExpandEnv(raw)

	var parsed yamlConfig
	if err := yaml.Unmarshal(expanded, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidYAML, err)
	}
	return &parsed, nil
}

// applyOverrides merges each loaded section over the corresponding default,
// with loaded (non-zero) fields winning ties.
func applyOverrides(cfg *Config, loaded *yamlConfig) error {
	if loaded.Caps != nil {
		if err := mergo.Merge(cfg.Caps, loaded.Caps, mergo.WithOverride); err != nil {
			return err
		}
	}
	if loaded.Transport != nil {
		if err := mergo.Merge(cfg.Transport, loaded.Transport, mergo.WithOverride); err != nil {
			return err
		}
	}
	if loaded.Persistence != nil {
		if err := mergo.Merge(cfg.Persistence, loaded.Persistence, mergo.WithOverride); err != nil {
			return err
		}
	}
	if loaded.Retention != nil {
		if err := mergo.Merge(cfg.Retention, loaded.Retention, mergo.WithOverride); err != nil {
			return err
		}
	}
	if loaded.Stream != nil {
		if err := mergo.Merge(cfg.Stream, loaded.Stream, mergo.WithOverride); err != nil {
			return err
		}
	}
	return nil
}
