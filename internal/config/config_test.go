package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "./data/printflow.db", cfg.Database.Path)
	assert.Equal(t, 60*time.Second, cfg.Agent.HealthyWindow)
	assert.Equal(t, int64(10<<20), cfg.Agent.MaxInlineFileBytes)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
agent:
  max_inline_file_bytes: 1048576
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(1<<20), cfg.Agent.MaxInlineFileBytes)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, "./data/blobs", cfg.Blob.Root)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [broken"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PRINTFLOW_PORT", "7701")
	t.Setenv("PRINTFLOW_DB_PATH", "/tmp/pf.db")
	t.Setenv("PRINTFLOW_LOG_LEVEL", "warn")

	cfg := LoadFromEnv()
	assert.Equal(t, 7701, cfg.Server.Port)
	assert.Equal(t, "/tmp/pf.db", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero healthy window", func(c *Config) { c.Agent.HealthyWindow = 0 }},
		{"zero inline cap", func(c *Config) { c.Agent.MaxInlineFileBytes = 0 }},
		{"empty blob root", func(c *Config) { c.Blob.Root = "" }},
		{"zero heartbeat", func(c *Config) { c.Progress.HeartbeatInterval = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, defaults().Validate())
}
