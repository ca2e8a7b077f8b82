package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, 5, config.Scheduler.MaxWorkers)
	assert.Equal(t, 3, config.Scheduler.MaxActiveUsers)
	assert.Equal(t, 64, config.Events.QueueCapacity)
	assert.Equal(t, 1024, config.Runners.TileSize)
	assert.Equal(t, 128, config.Runners.Overlap)
	assert.Equal(t, 4, config.Runners.BatchSize)
	require.NoError(t, config.Validate())
}

func TestLoadFromFilesOverrides(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.toml")
	require.NoError(t, os.WriteFile(base, []byte(`
[scheduler]
max_workers = 10

[server]
port = 9000
`), 0644))

	override := filepath.Join(dir, "override.toml")
	require.NoError(t, os.WriteFile(override, []byte(`
[server]
port = 9090
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 10, config.Scheduler.MaxWorkers, "file value overrides default")
	assert.Equal(t, 9090, config.Server.Port, "later file overrides earlier")
	assert.Equal(t, 3, config.Scheduler.MaxActiveUsers, "untouched values keep defaults")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SLIDEFLOW_MAX_WORKERS", "7")
	t.Setenv("SLIDEFLOW_LOG_OUTPUT", "stdout, file")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 7, config.Scheduler.MaxWorkers)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
}

func TestFlagOverridesWinOverEverything(t *testing.T) {
	t.Setenv("SLIDEFLOW_SERVER_PORT", "9000")

	config, err := LoadFromFiles()
	require.NoError(t, err)
	ApplyFlagOverrides(config, 9999, "0.0.0.0")

	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Scheduler.MaxWorkers = 0 }},
		{"negative active users", func(c *Config) { c.Scheduler.MaxActiveUsers = -1 }},
		{"zero queue capacity", func(c *Config) { c.Events.QueueCapacity = 0 }},
		{"overlap exceeds tile size", func(c *Config) { c.Runners.Overlap = 2048 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestMissingConfigFileFails(t *testing.T) {
	_, err := LoadFromFiles("/nonexistent/slideflow.toml")
	assert.Error(t, err)
}

func TestParseDurationOr(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, ParseDurationOr("250ms", time.Second))
	assert.Equal(t, time.Second, ParseDurationOr("garbage", time.Second))
	assert.Equal(t, time.Second, ParseDurationOr("", time.Second))
}
