// Package aliasing provides topic alias resolution at the ingestion boundary.
//
// Producers migrating between naming schemes (or different teams emitting to
// the same logical stream) may publish under legacy topic names. This package
// loads alias configuration and resolves incoming topics to their canonical
// names before events enter the queue, so deduplication and queries see one
// topic per logical stream.
package aliasing

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chronicle-io/chronicle/internal/config"
)

type (
	// Config holds topic alias configuration loaded from .chronicle.yaml.
	Config struct {
		// TopicAliases maps legacy topic names to canonical topic names.
		// Key is the alias (as published), value is the canonical topic.
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		TopicAliases map[string]string `yaml:"topic_aliases"`

		// TopicPatterns rewrite families of topics with {variable} capture,
		// evaluated in order after exact aliases. See Resolver for syntax.
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		TopicPatterns []TopicPattern `yaml:"topic_patterns"`
	}

	// TopicPattern maps a topic pattern to a canonical template.
	TopicPattern struct {
		Pattern   string `yaml:"pattern"`
		Canonical string `yaml:"canonical"`
	}
)

// DefaultConfigPath is the default location for the chronicle configuration file.
// Uses hidden file format following common tool conventions (.eslintrc, .prettierrc, etc.).
const DefaultConfigPath = ".chronicle.yaml"

// ConfigPathEnvVar is the environment variable name for custom config path.
const ConfigPathEnvVar = "CHRONICLE_CONFIG_PATH"

// LoadConfig loads alias configuration from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if file doesn't exist - aliases are optional
//   - Returns empty config + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated config on success
//
// This graceful degradation ensures the aggregator can start even without
// aliases configured, as topic aliasing is an optional feature.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		TopicAliases: make(map[string]string),
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Missing file is OK - aliases are optional
			slog.Debug("Config file not found, continuing without topic aliases",
				slog.String("path", path))

			return cfg, nil
		}

		// Other read errors (permissions, etc.) - log warning and continue
		slog.Warn("Failed to read config file, continuing without topic aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	// Empty file is valid - just no aliases
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Invalid YAML - log warning and continue with empty config
		slog.Warn("Failed to parse config file, continuing without topic aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{TopicAliases: make(map[string]string)}, nil
	}

	// Ensure map is initialized even if YAML had nil/empty section
	if cfg.TopicAliases == nil {
		cfg.TopicAliases = make(map[string]string)
	}

	return cfg, nil
}

// LoadConfigFromEnv loads config from the path specified in CHRONICLE_CONFIG_PATH
// environment variable. Falls back to ".chronicle.yaml" in current directory if not set.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}
