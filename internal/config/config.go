package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for Cortex-Toolrunner
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Redis        RedisConfig        `yaml:"redis"`
	Limits       LimitsConfig       `yaml:"limits"`
	RateLimit    RateLimitConfig    `yaml:"ratelimit"`
	Tasks        TasksConfig        `yaml:"tasks"`
	Capabilities []CapabilityConfig `yaml:"capabilities,omitempty"`
}

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RedisConfig defines the optional shared counter-store backend
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LimitsConfig defines payload validation limits
type LimitsConfig struct {
	MaxPayloadKB    int `yaml:"max_payload_kb"`
	MaxDepth        int `yaml:"max_depth"`
	MaxStringLength int `yaml:"max_string_length"`
	MaxArrayLength  int `yaml:"max_array_length"`
	MaxKeyLength    int `yaml:"max_key_length"`
}

// RateLimitConfig defines the sliding-window limits applied per
// (subject, capability) key
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
}

// TasksConfig defines task lifecycle settings
type TasksConfig struct {
	TTL            string `yaml:"ttl"`
	Workers        int    `yaml:"workers"`
	QueueSize      int    `yaml:"queue_size"`
	DefaultTimeout string `yaml:"default_timeout"`
	SweepSchedule  string `yaml:"sweep_schedule"`
}

// GetTTL returns the terminal-task retention as a time.Duration
func (t *TasksConfig) GetTTL() time.Duration {
	if t.TTL == "" {
		return 24 * time.Hour
	}
	d, err := time.ParseDuration(t.TTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// GetDefaultTimeout returns the per-invocation timeout as a time.Duration
func (t *TasksConfig) GetDefaultTimeout() time.Duration {
	if t.DefaultTimeout == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(t.DefaultTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// CapabilityConfig carries per-capability overrides: the scope a caller must
// hold to invoke it and an invocation timeout
type CapabilityConfig struct {
	Name    string `yaml:"name"`
	Scope   string `yaml:"scope,omitempty"`
	Timeout string `yaml:"timeout,omitempty"`
}

// GetTimeout returns the capability timeout, zero when unset or invalid
func (c *CapabilityConfig) GetTimeout() time.Duration {
	if c.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Default returns a config populated with defaults; Load overlays the file
// on top of it
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "localhost", Port: 18810},
		Logging: LoggingConfig{Level: "info"},
		Limits: LimitsConfig{
			MaxPayloadKB:    1024,
			MaxDepth:        10,
			MaxStringLength: 10000,
			MaxArrayLength:  1000,
			MaxKeyLength:    100,
		},
		RateLimit: RateLimitConfig{PerMinute: 30, PerHour: 500},
		Tasks: TasksConfig{
			TTL:            "24h",
			Workers:        4,
			QueueSize:      256,
			DefaultTimeout: "60s",
			SweepSchedule:  "@every 10m",
		},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Limits.MaxPayloadKB <= 0 {
		return fmt.Errorf("max_payload_kb must be positive")
	}
	if c.Limits.MaxDepth <= 0 {
		return fmt.Errorf("max_depth must be positive")
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.PerHour <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.RateLimit.PerHour < c.RateLimit.PerMinute {
		return fmt.Errorf("per_hour limit must not be below per_minute limit")
	}
	if c.Tasks.Workers <= 0 {
		return fmt.Errorf("tasks.workers must be positive")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr required when redis is enabled")
	}
	for _, cap := range c.Capabilities {
		if cap.Name == "" {
			return fmt.Errorf("capability entry missing name")
		}
	}
	return nil
}
