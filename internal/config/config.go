package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Supported storage backends.
const (
	StorageFile   = "file"
	StorageBolt   = "bolt"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Reset    ResetConfig    `mapstructure:"reset"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig defines listen addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// TrackingConfig defines which presence channels count as the base
type TrackingConfig struct {
	MonitoredChannels []string `mapstructure:"monitored_channels"`
}

// ResetConfig defines the weekly reset schedule
type ResetConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"` // standard 5-field cron expression
	Timezone string `mapstructure:"timezone"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Path  string      `mapstructure:"path"` // file, bolt and sqlite backends
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Password       string `mapstructure:"password"`
	DB             int    `mapstructure:"db"`
	PoolSize       int    `mapstructure:"pool_size"`
	MinIdleConns   int    `mapstructure:"min_idle_conns"`
	DialTimeout    string `mapstructure:"dial_timeout"`
	ReadTimeout    string `mapstructure:"read_timeout"`
	WriteTimeout   string `mapstructure:"write_timeout"`
	KeyPrefix      string `mapstructure:"key_prefix"`
	ConnectRetries int    `mapstructure:"connect_retries"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"` // empty logs to stdout
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Location returns the configured reset timezone.
func (r ResetConfig) Location() (*time.Location, error) {
	return time.LoadLocation(r.Timezone)
}

// Load loads configuration from a .env file, the config file and environment
// variables, in increasing order of precedence for the environment.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("BASETRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// FindUnknownKeys reads a config file and returns the keys it sets that no
// configuration field uses.
func FindUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	known := viper.New()
	setDefaults(known)
	valid := make(map[string]bool)
	for _, key := range known.AllKeys() {
		valid[key] = true
	}

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !valid[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

// loadDotEnv exports variables from a .env file if it exists. Variables that
// are already set in the environment win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)

	// Tracking defaults
	v.SetDefault("tracking.monitored_channels", []string{})

	// Reset defaults
	v.SetDefault("reset.enabled", true)
	v.SetDefault("reset.schedule", "59 23 * * 0")
	v.SetDefault("reset.timezone", "America/Sao_Paulo")

	// Storage defaults
	v.SetDefault("storage.type", StorageFile)
	v.SetDefault("storage.path", "/var/lib/basetrack/state.json")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "basetrack")
	v.SetDefault("storage.redis.connect_retries", 5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.compress", false)
}

// FilePath returns the on-disk location of a file, bolt or sqlite store.
// A "sqlite://" DSN prefix is removed; an in-memory database has no path.
func (s StorageConfig) FilePath() string {
	path := strings.TrimSpace(s.Path)
	if s.Type == StorageSQLite {
		if strings.HasPrefix(strings.ToLower(path), "sqlite://") {
			path = path[len("sqlite://"):]
		}
		if path == ":memory:" {
			return ""
		}
	}
	return path
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	channels := make([]string, 0, len(cfg.Tracking.MonitoredChannels))
	for _, id := range cfg.Tracking.MonitoredChannels {
		if id = strings.TrimSpace(id); id != "" {
			channels = append(channels, id)
		}
	}
	if len(channels) == 0 {
		return fmt.Errorf("at least one monitored channel is required")
	}
	cfg.Tracking.MonitoredChannels = channels

	if _, err := cfg.Reset.Location(); err != nil {
		return fmt.Errorf("invalid reset timezone %q: %w", cfg.Reset.Timezone, err)
	}
	if _, err := cron.ParseStandard(cfg.Reset.Schedule); err != nil {
		return fmt.Errorf("invalid reset schedule %q: %w", cfg.Reset.Schedule, err)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = StorageFile
	}
	switch cfg.Storage.Type {
	case StorageFile, StorageBolt, StorageSQLite:
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for %s storage", cfg.Storage.Type)
		}
		// Ensure storage directory exists
		if path := cfg.Storage.FilePath(); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return fmt.Errorf("failed to create storage directory: %w", err)
			}
		}
	case StorageRedis:
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required for redis storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	return nil
}
