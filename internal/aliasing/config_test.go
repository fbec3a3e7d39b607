package aliasing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".chronicle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("loads aliases and patterns", func(t *testing.T) {
		path := writeConfigFile(t, `
topic_aliases:
  payments-v1: payments
  legacy-orders: orders

topic_patterns:
  - pattern: "staging.{name}"
    canonical: "{name}"
  - pattern: "app.{region}.{name}"
    canonical: "{name}"
`)

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Len(t, cfg.TopicAliases, 2)
		assert.Equal(t, "payments", cfg.TopicAliases["payments-v1"])
		assert.Equal(t, "orders", cfg.TopicAliases["legacy-orders"])

		require.Len(t, cfg.TopicPatterns, 2)
		assert.Equal(t, "staging.{name}", cfg.TopicPatterns[0].Pattern)
		assert.Equal(t, "{name}", cfg.TopicPatterns[0].Canonical)
		assert.Equal(t, "app.{region}.{name}", cfg.TopicPatterns[1].Pattern)
	})

	t.Run("missing file yields empty config", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
		require.NoError(t, err)
		assert.Empty(t, cfg.TopicAliases)
		assert.Empty(t, cfg.TopicPatterns)
	})

	t.Run("empty file yields empty config", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfigFile(t, ""))
		require.NoError(t, err)
		assert.Empty(t, cfg.TopicAliases)
		assert.Empty(t, cfg.TopicPatterns)
	})

	t.Run("invalid YAML degrades to empty config", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfigFile(t, "topic_aliases: [not: a: map"))
		require.NoError(t, err)
		assert.Empty(t, cfg.TopicAliases)
		assert.Empty(t, cfg.TopicPatterns)
	})

	t.Run("nil aliases section is initialised", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfigFile(t, "topic_aliases:\n"))
		require.NoError(t, err)
		assert.NotNil(t, cfg.TopicAliases)
	})
}

func TestLoadConfigFromEnv(t *testing.T) {
	path := writeConfigFile(t, "topic_aliases:\n  old: new\n")
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "new", cfg.TopicAliases["old"])
}
