package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Agent    AgentConfig    `yaml:"agent"`
	Blob     BlobConfig     `yaml:"blob"`
	Progress ProgressConfig `yaml:"progress"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AgentConfig struct {
	HealthyWindow      time.Duration `yaml:"healthy_window"`
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	MaxInlineFileBytes int64         `yaml:"max_inline_file_bytes"`
}

type BlobConfig struct {
	Root string `yaml:"root"`
}

type ProgressConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			ReadTimeout: 30 * time.Second,
			// Zero on purpose: a write deadline would cut off the
			// progress event stream.
			WriteTimeout: 0,
		},
		Database: DatabaseConfig{
			Path: "./data/printflow.db",
		},
		Agent: AgentConfig{
			HealthyWindow:      60 * time.Second,
			StalenessThreshold: 10 * time.Minute,
			MaxInlineFileBytes: 10 << 20,
		},
		Blob: BlobConfig{
			Root: "./data/blobs",
		},
		Progress: ProgressConfig{
			HeartbeatInterval: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := defaults()

	if v := os.Getenv("PRINTFLOW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("PRINTFLOW_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("PRINTFLOW_BLOB_ROOT"); v != "" {
		cfg.Blob.Root = v
	}

	if v := os.Getenv("PRINTFLOW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Agent.HealthyWindow <= 0 {
		return fmt.Errorf("agent healthy window must be positive")
	}

	if c.Agent.StalenessThreshold <= 0 {
		return fmt.Errorf("agent staleness threshold must be positive")
	}

	if c.Agent.MaxInlineFileBytes <= 0 {
		return fmt.Errorf("max inline file bytes must be positive")
	}

	if c.Blob.Root == "" {
		return fmt.Errorf("blob root is required")
	}

	if c.Progress.HeartbeatInterval <= 0 {
		return fmt.Errorf("progress heartbeat interval must be positive")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}
