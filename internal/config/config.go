// Package config loads rishvan-input configuration from defaults, an
// optional config.yaml, a .env file, environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tejzpr/rishvan-input/internal/events"
	"github.com/tejzpr/rishvan-input/internal/logger"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config holds all configuration sections.
type Config struct {
	// SourceName tags every request this process creates.
	SourceName string `mapstructure:"source_name"`
	// Identity is the already-verified user name stamped on answers
	// submitted through the web UI.
	Identity string               `mapstructure:"identity"`
	Store    StoreConfig          `mapstructure:"store"`
	NATS     events.NATSConfig    `mapstructure:"nats"`
	Requests RequestsConfig       `mapstructure:"requests"`
	Sweeper  SweeperConfig        `mapstructure:"sweeper"`
	Server   ServerConfig         `mapstructure:"server"`
	Logging  logger.LoggingConfig `mapstructure:"logging"`
}

// StoreConfig selects where request records live.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlitePath"`
	RedisURL    string `mapstructure:"redisUrl"`
	RedisPrefix string `mapstructure:"redisPrefix"`
	PostgresURL string `mapstructure:"postgresUrl"`
}

type RequestsConfig struct {
	DefaultTimeout int `mapstructure:"defaultTimeout"` // in seconds
}

type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DefaultTimeoutDuration returns requests.defaultTimeout as a duration.
func (r RequestsConfig) DefaultTimeoutDuration() time.Duration {
	return time.Duration(r.DefaultTimeout) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source_name", "")
	v.SetDefault("identity", "")

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlitePath", "")
	v.SetDefault("store.redisUrl", "redis://localhost:6379/0")
	v.SetDefault("store.redisPrefix", "rishvan:")
	v.SetDefault("store.postgresUrl", "")

	// empty URL keeps change events in process
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "rishvan-input")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("requests.defaultTimeout", 600)
	v.SetDefault("sweeper.interval", "1s")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 56234)

	// stdout carries the MCP protocol
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stderr")
}

// Load reads configuration from the current directory and the environment.
func Load() (*Config, error) {
	return LoadWithPath("", nil)
}

// LoadWithPath reads configuration from configPath (or the default
// locations). Environment variables use the prefix RISHVAN_. When flags is
// non-nil, --ide and --port override the file and environment.
func LoadWithPath(configPath string, flags *pflag.FlagSet) (*Config, error) {
	if err := loadDotEnv(configPath); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RISHVAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not split camelCase keys.
	_ = v.BindEnv("store.sqlitePath", "RISHVAN_STORE_SQLITE_PATH")
	_ = v.BindEnv("store.redisUrl", "RISHVAN_STORE_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("store.redisPrefix", "RISHVAN_STORE_REDIS_PREFIX")
	_ = v.BindEnv("store.postgresUrl", "RISHVAN_STORE_POSTGRES_URL", "DATABASE_URL")
	_ = v.BindEnv("nats.clientId", "RISHVAN_NATS_CLIENT_ID")
	_ = v.BindEnv("nats.maxReconnects", "RISHVAN_NATS_MAX_RECONNECTS")
	_ = v.BindEnv("requests.defaultTimeout", "RISHVAN_REQUESTS_DEFAULT_TIMEOUT")
	_ = v.BindEnv("logging.outputPath", "RISHVAN_LOGGING_OUTPUT_PATH")

	if flags != nil {
		if f := flags.Lookup("ide"); f != nil {
			_ = v.BindPFlag("source_name", f)
		}
		if f := flags.Lookup("port"); f != nil {
			_ = v.BindPFlag("server.port", f)
		}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.rishvan-input")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// loadDotEnv loads .env from configPath (or the working directory) into
// the process environment. Variables already set win.
func loadDotEnv(configPath string) error {
	path := ".env"
	if configPath != "" {
		path = filepath.Join(configPath, ".env")
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}

func validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.SourceName) == "" {
		errs = append(errs, "source_name is required (use --ide <name>)")
	}

	switch cfg.Store.Driver {
	case DriverSQLite, DriverMemory:
	case DriverRedis:
		if cfg.Store.RedisURL == "" {
			errs = append(errs, "store.redisUrl is required for the redis driver")
		}
	case DriverPostgres:
		if cfg.Store.PostgresURL == "" {
			errs = append(errs, "store.postgresUrl is required for the postgres driver")
		}
	default:
		errs = append(errs, "store.driver must be one of: sqlite, memory, redis, postgres")
	}

	if cfg.Requests.DefaultTimeout <= 0 {
		errs = append(errs, "requests.defaultTimeout must be positive")
	}
	if cfg.Sweeper.Interval <= 0 {
		errs = append(errs, "sweeper.interval must be positive")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, console, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
