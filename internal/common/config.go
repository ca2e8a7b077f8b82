package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Events      EventsConfig    `toml:"events"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Runners     RunnersConfig   `toml:"runners"`
	Storage     StorageConfig   `toml:"storage"`
	Status      StatusConfig    `toml:"status"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// SchedulerConfig controls the two admission caps: the global concurrent job
// limit and the number of tenants allowed to have jobs dispatched at once.
type SchedulerConfig struct {
	MaxWorkers     int `toml:"max_workers"`      // Global concurrent job cap
	MaxActiveUsers int `toml:"max_active_users"` // Tenant slot count
}

type EventsConfig struct {
	QueueCapacity    int     `toml:"queue_capacity"`     // Per-subscription buffer size
	MinProgressDelta float64 `toml:"min_progress_delta"` // Minimum percent change before a progress event is published
}

// WebSocketConfig contains configuration for WebSocket progress streaming
type WebSocketConfig struct {
	ProgressThrottle string `toml:"progress_throttle"` // Max rate for progress frames per connection, e.g. "100ms"
	WriteTimeout     string `toml:"write_timeout"`     // Per-frame write deadline; slow clients are dropped
}

// RunnersConfig contains the tile pipeline parameters shared by the built-in runners
type RunnersConfig struct {
	TileSize   int    `toml:"tile_size"`   // Tile edge length in pixels
	Overlap    int    `toml:"overlap"`     // Tile overlap in pixels
	BatchSize  int    `toml:"batch_size"`  // Tiles processed per batch
	BatchDelay string `toml:"batch_delay"` // Simulated per-batch inference time, e.g. "10ms"
}

type StorageConfig struct {
	Uploads string `toml:"uploads"` // Directory for uploaded WSI files
	Results string `toml:"results"` // Directory for job result documents
}

type StatusConfig struct {
	Schedule string `toml:"schedule"` // Cron schedule for system status snapshots, e.g. "@every 5s"
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns a config populated with sane defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Scheduler: SchedulerConfig{
			MaxWorkers:     5,
			MaxActiveUsers: 3,
		},
		Events: EventsConfig{
			QueueCapacity:    64,
			MinProgressDelta: 1.0,
		},
		WebSocket: WebSocketConfig{
			ProgressThrottle: "100ms",
			WriteTimeout:     "5s",
		},
		Runners: RunnersConfig{
			TileSize:   1024,
			Overlap:    128,
			BatchSize:  4,
			BatchDelay: "10ms",
		},
		Storage: StorageConfig{
			Uploads: "./data/uploads",
			Results: "./data/results",
		},
		Status: StatusConfig{
			Schedule: "@every 5s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SLIDEFLOW_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("SLIDEFLOW_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("SLIDEFLOW_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if workers := os.Getenv("SLIDEFLOW_MAX_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Scheduler.MaxWorkers = w
		}
	}
	if users := os.Getenv("SLIDEFLOW_MAX_ACTIVE_USERS"); users != "" {
		if u, err := strconv.Atoi(users); err == nil {
			config.Scheduler.MaxActiveUsers = u
		}
	}

	if uploads := os.Getenv("SLIDEFLOW_UPLOAD_DIR"); uploads != "" {
		config.Storage.Uploads = uploads
	}
	if results := os.Getenv("SLIDEFLOW_RESULT_DIR"); results != "" {
		config.Storage.Results = results
	}

	if level := os.Getenv("SLIDEFLOW_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("SLIDEFLOW_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks that the resolved configuration is usable
func (c *Config) Validate() error {
	if c.Scheduler.MaxWorkers < 1 {
		return fmt.Errorf("scheduler.max_workers must be a positive integer, got %d", c.Scheduler.MaxWorkers)
	}
	if c.Scheduler.MaxActiveUsers < 1 {
		return fmt.Errorf("scheduler.max_active_users must be a positive integer, got %d", c.Scheduler.MaxActiveUsers)
	}
	if c.Events.QueueCapacity < 1 {
		return fmt.Errorf("events.queue_capacity must be a positive integer, got %d", c.Events.QueueCapacity)
	}
	if c.Runners.BatchSize < 1 {
		return fmt.Errorf("runners.batch_size must be a positive integer, got %d", c.Runners.BatchSize)
	}
	if c.Runners.TileSize <= c.Runners.Overlap {
		return fmt.Errorf("runners.tile_size (%d) must exceed runners.overlap (%d)", c.Runners.TileSize, c.Runners.Overlap)
	}
	return nil
}

// ParseDurationOr parses a duration string, falling back to def on error
func ParseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
