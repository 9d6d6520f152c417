// Package config loads songwall settings from the embedded defaults, an
// optional TOML file, a .env file and the environment, in that order.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Spotify   SpotifyConfig   `toml:"spotify"`
	Palette   PaletteConfig   `toml:"palette"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr            string        `toml:"addr"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	MaxBodyBytes    int64         `toml:"max_body_bytes"`
}

// DatabaseConfig selects and locates the song store.
type DatabaseConfig struct {
	Driver      string `toml:"driver"`
	URL         string `toml:"url"`
	SQLitePath  string `toml:"sqlite_path"`
	AutoMigrate bool   `toml:"auto_migrate"`
}

// SpotifyConfig contains catalog credentials and client limits.
type SpotifyConfig struct {
	ClientID          string        `toml:"client_id"`
	ClientSecret      string        `toml:"client_secret"`
	Timeout           time.Duration `toml:"timeout"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Burst             int           `toml:"burst"`
}

// PaletteConfig tunes artwork colour extraction.
type PaletteConfig struct {
	Timeout  time.Duration `toml:"timeout"`
	Swatches int           `toml:"swatches"`
}

// RateLimitConfig selects the limiter backend.
type RateLimitConfig struct {
	Backend       string        `toml:"backend"`
	RedisURL      string        `toml:"redis_url"`
	SweepInterval time.Duration `toml:"sweep_interval"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration in the embedded example file.
func Default() *Config {
	var cfg Config
	if err := toml.Unmarshal(exampleConf, &cfg); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &cfg
}

// Load builds the configuration. path may be empty, in which case only the
// defaults and the environment are used. A missing .env file is ignored.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("SONGWALL_ADDR", &c.Server.Addr)
	set("SPOTIFY_CLIENT_ID", &c.Spotify.ClientID)
	set("SPOTIFY_CLIENT_SECRET", &c.Spotify.ClientSecret)
	set("DATABASE_DRIVER", &c.Database.Driver)
	set("SQLITE_PATH", &c.Database.SQLitePath)
	set("LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Database.URL = v
		if _, explicit := lookup("DATABASE_DRIVER"); !explicit {
			c.Database.Driver = DriverPostgres
		}
	}
	if v, ok := lookup("REDIS_URL"); ok && v != "" {
		c.RateLimit.RedisURL = v
		c.RateLimit.Backend = BackendRedis
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
	}

	if c.Server.Addr == "" {
		return invalid("server.addr", "must not be empty")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return invalid("server.max_body_bytes", "must be positive")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return invalid("database.sqlite_path", "required for the sqlite driver")
		}
	default:
		return invalid("database.driver", "unknown driver %q", c.Database.Driver)
	}

	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RateLimit.RedisURL == "" {
			return invalid("ratelimit.redis_url", "required for the redis backend")
		}
	default:
		return invalid("ratelimit.backend", "unknown backend %q", c.RateLimit.Backend)
	}

	if _, err := log.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return invalid("log.level", "%v", err)
	}
	return nil
}

// HasSpotifyCredentials reports whether both catalog credentials are set.
func (c *Config) HasSpotifyCredentials() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != ""
}

// CreateConfigFile writes the example configuration to path. It refuses to
// overwrite an existing file.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
