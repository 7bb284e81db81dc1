// Package config loads and validates render-orchestrator configuration
// from an optional config file, with environment variables taking
// precedence over it, following the viper SetDefault + AutomaticEnv idiom.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved, validated configuration for one server
// process (spec.md §6 "Configuration knobs").
type Config struct {
	ServerAddr string

	Concurrency        int
	QueueTimeoutMs     int64
	ExecutionTimeoutMs int64
	MaxTaskCount       int

	UserAgent       string
	AcceptLanguage  string
	LaunchFlags     []string
	DenyListPattern string
	CloseTimeoutMs  int64

	RedisAddr string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool

	ProbeTimeoutMs int64

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables (and an optional
// config.yaml in the working directory), applies defaults, and validates
// the result.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server_addr", ":8080")

	v.SetDefault("concurrency", 4)
	v.SetDefault("queue_timeout_ms", 10_000)
	v.SetDefault("execution_timeout_ms", 30_000)
	v.SetDefault("max_task_count", 64)

	v.SetDefault("user_agent", "render-orchestrator/1.0 (+https://example.invalid)")
	v.SetDefault("accept_language", "en-US,en;q=0.9")
	v.SetDefault("launch_flags", []string{"--no-sandbox", "--disable-gpu", "--disable-dev-shm-usage"})
	v.SetDefault("deny_list_pattern", "")
	v.SetDefault("close_timeout_ms", 3000)

	v.SetDefault("redis_addr", "localhost:6379")

	v.SetDefault("minio_endpoint", "localhost:9000")
	v.SetDefault("minio_access_key", "minioadmin")
	v.SetDefault("minio_secret_key", "minioadmin")
	v.SetDefault("minio_bucket", "render-templates")
	v.SetDefault("minio_use_ssl", false)

	v.SetDefault("probe_timeout_ms", 5000)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		ServerAddr: v.GetString("server_addr"),

		Concurrency:        v.GetInt("concurrency"),
		QueueTimeoutMs:     v.GetInt64("queue_timeout_ms"),
		ExecutionTimeoutMs: v.GetInt64("execution_timeout_ms"),
		MaxTaskCount:       v.GetInt("max_task_count"),

		UserAgent:       v.GetString("user_agent"),
		AcceptLanguage:  v.GetString("accept_language"),
		LaunchFlags:     v.GetStringSlice("launch_flags"),
		DenyListPattern: v.GetString("deny_list_pattern"),
		CloseTimeoutMs:  v.GetInt64("close_timeout_ms"),

		RedisAddr: v.GetString("redis_addr"),

		MinIOEndpoint:  v.GetString("minio_endpoint"),
		MinIOAccessKey: v.GetString("minio_access_key"),
		MinIOSecretKey: v.GetString("minio_secret_key"),
		MinIOBucket:    v.GetString("minio_bucket"),
		MinIOUseSSL:    v.GetBool("minio_use_ssl"),

		ProbeTimeoutMs: v.GetInt64("probe_timeout_ms"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be >= 0, got %d", c.Concurrency)
	}
	if c.QueueTimeoutMs <= 0 {
		return fmt.Errorf("queue_timeout_ms must be > 0, got %d", c.QueueTimeoutMs)
	}
	if c.ExecutionTimeoutMs <= 0 {
		return fmt.Errorf("execution_timeout_ms must be > 0, got %d", c.ExecutionTimeoutMs)
	}
	if c.MaxTaskCount < 1 {
		return fmt.Errorf("max_task_count must be >= 1, got %d", c.MaxTaskCount)
	}
	return nil
}

// QueueTimeout, ExecutionTimeout, CloseTimeout and ProbeTimeout convert
// the millisecond config fields to time.Duration; the queue constructor
// takes the raw millisecond values instead.
func (c *Config) QueueTimeout() time.Duration    { return time.Duration(c.QueueTimeoutMs) * time.Millisecond }
func (c *Config) ExecutionTimeout() time.Duration { return time.Duration(c.ExecutionTimeoutMs) * time.Millisecond }
func (c *Config) CloseTimeout() time.Duration     { return time.Duration(c.CloseTimeoutMs) * time.Millisecond }
func (c *Config) ProbeTimeout() time.Duration     { return time.Duration(c.ProbeTimeoutMs) * time.Millisecond }
