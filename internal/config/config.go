package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"jobsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	// Backend selects the durable engine: sqlite (default), redis or memory.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type RemoteConfig struct {
	BaseURL   string          `yaml:"base_url"`
	Token     string          `yaml:"token"`
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type SyncConfig struct {
	Interval      time.Duration `yaml:"interval"`
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
	// StatusPort serves /healthz, /readyz, /v1/status and /v1/sync. Negative disables it.
	StatusPort int `yaml:"status_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional on devices; a missing file is not an error.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return errors.New("remote base url is required")
	}
	if u, err := url.Parse(c.Remote.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("remote base url %q is invalid", c.Remote.BaseURL)
	}

	switch c.Database.Backend {
	case BackendSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case BackendRedis:
		if c.Redis.Address == "" {
			return errors.New("redis address is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown database backend %q", c.Database.Backend)
	}

	if c.Sync.Interval < time.Second {
		return fmt.Errorf("sync interval %s is too short", c.Sync.Interval)
	}
	if c.Backup.Enabled && c.Database.Backend != BackendSQLite {
		return errors.New("backups require the sqlite backend")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "jobsync"
	}
	c.Database.Backend = strings.ToLower(strings.TrimSpace(c.Database.Backend))
	if c.Database.Backend == "" {
		c.Database.Backend = BackendSQLite
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "jobsync"
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = models.DefaultRemoteTimeout
	}
	if c.Remote.RateLimit.RPS == 0 {
		c.Remote.RateLimit.RPS = 5
	}
	if c.Remote.RateLimit.Burst == 0 {
		c.Remote.RateLimit.Burst = 5
	}
	if c.Remote.Retry.MaxRetries == 0 {
		c.Remote.Retry.MaxRetries = 3
	}
	if c.Remote.Retry.InitialDelay == 0 {
		c.Remote.Retry.InitialDelay = 500 * time.Millisecond
	}
	if c.Remote.Retry.MaxDelay == 0 {
		c.Remote.Retry.MaxDelay = 5 * time.Second
	}
	if c.Remote.Retry.BackoffFactor == 0 {
		c.Remote.Retry.BackoffFactor = 2
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = models.DefaultSyncInterval
	}
	if c.Sync.ProbeURL == "" && c.Remote.BaseURL != "" {
		c.Sync.ProbeURL = strings.TrimRight(c.Remote.BaseURL, "/") + "/health"
	}
	if c.Sync.ProbeInterval == 0 {
		c.Sync.ProbeInterval = models.DefaultProbeInterval
	}
	if c.Sync.ProbeTimeout == 0 {
		c.Sync.ProbeTimeout = models.DefaultProbeTimeout
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Monitoring.StatusPort == 0 {
		c.Monitoring.StatusPort = 8090
	}
}
