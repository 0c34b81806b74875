package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Auth        AuthConfig        `toml:"auth"`
	Guest       GuestConfig       `toml:"guest"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
	Badger BadgerConfig `toml:"badger"`
}

// SQLiteConfig represents the primary relational store configuration
type SQLiteConfig struct {
	Path          string `toml:"path"`            // Database file path
	CacheSizeMB   int    `toml:"cache_size_mb"`   // Page cache size in MB
	WALMode       bool   `toml:"wal_mode"`        // Enable write-ahead logging
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // Lock contention timeout
}

// BadgerConfig represents the token store configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// AuthConfig contains token signing and admin bootstrap settings
type AuthConfig struct {
	TokenSecret      string `toml:"token_secret"`       // HMAC secret for bearer and job tokens
	JobTokenTTLHours int    `toml:"job_token_ttl_h"`    // Job token lifetime; 0 means no expiry
	AdminName        string `toml:"admin_name"`         // Seed admin user created on first startup
	AdminPassword    string `toml:"admin_password"`     // Seed admin password; empty disables seeding
	AdminEmail       string `toml:"admin_email"`        // Optional seed admin email
}

// GuestConfig controls the guest job-token redemption endpoint
type GuestConfig struct {
	RateLimitPerMinute int `toml:"rate_limit_per_minute"` // Per-client token redemptions per minute
	RateBurst          int `toml:"rate_burst"`
}

// MaintenanceConfig controls scheduled database maintenance
type MaintenanceConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule format
}

// NewDefaultConfig returns a config populated with defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 5000,
			Host: "localhost",
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/annotor.db",
				CacheSizeMB:   64,
				WALMode:       true,
				BusyTimeoutMS: 5000,
			},
			Badger: BadgerConfig{
				Path: "./data/tokens",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
		Auth: AuthConfig{
			TokenSecret:      "",
			JobTokenTTLHours: 0,
			AdminName:        "admin",
		},
		Guest: GuestConfig{
			RateLimitPerMinute: 30,
			RateBurst:          10,
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Schedule: "0 3 * * *",
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

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ANNOTOR_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("ANNOTOR_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("ANNOTOR_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if sqlitePath := os.Getenv("ANNOTOR_SQLITE_PATH"); sqlitePath != "" {
		config.Storage.SQLite.Path = sqlitePath
	}
	if badgerPath := os.Getenv("ANNOTOR_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("ANNOTOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("ANNOTOR_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if secret := os.Getenv("ANNOTOR_TOKEN_SECRET"); secret != "" {
		config.Auth.TokenSecret = secret
	}
	if adminPassword := os.Getenv("ANNOTOR_ADMIN_PASSWORD"); adminPassword != "" {
		config.Auth.AdminPassword = adminPassword
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks config values that would otherwise fail at first use
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Storage.SQLite.Path == "" {
		return fmt.Errorf("storage.sqlite.path is required")
	}
	if c.Storage.Badger.Path == "" {
		return fmt.Errorf("storage.badger.path is required")
	}
	if c.Environment == "production" && c.Auth.TokenSecret == "" {
		return fmt.Errorf("auth.token_secret is required in production")
	}
	return nil
}
