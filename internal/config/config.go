// Package config loads the Postloom daemon configuration from YAML, .env
// files, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/postloom/internal/connectors"
	"github.com/fentz26/postloom/internal/notify"
	"github.com/fentz26/postloom/internal/progress"
	"github.com/fentz26/postloom/internal/recovery"
	"github.com/fentz26/postloom/internal/scheduler"
	"github.com/fentz26/postloom/internal/store"
)

// Config holds the daemon configuration.
type Config struct {
	Server     ServerConfig        `yaml:"server"`
	Database   DatabaseConfig      `yaml:"database"`
	Generation GenerationConfig    `yaml:"generation"`
	Scheduler  scheduler.Config    `yaml:"scheduler"`
	Provider   connectors.Settings `yaml:"provider"`
	Notify     NotifyConfig        `yaml:"notify"`
	Log        LogConfig           `yaml:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Listen is the address the API binds to.
	Listen string `yaml:"listen"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// GenerationConfig holds orchestration and recovery tunables.
type GenerationConfig struct {
	MaxAttempts     int             `yaml:"max_attempts"`
	Backoff         []time.Duration `yaml:"backoff"`
	RateLimitBase   time.Duration   `yaml:"rate_limit_base"`
	ExtendedTimeout time.Duration   `yaml:"extended_timeout"`
	DefaultTimeout  time.Duration   `yaml:"default_timeout"`
	TruncateLength  int             `yaml:"truncate_length"`
	PerItemEstimate time.Duration   `yaml:"per_item_estimate"`
	// LockTTL bounds how long a postgres generation lock survives a crashed daemon.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// NotifyConfig configures the optional AMQP notification sink.
type NotifyConfig struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Dir returns the Postloom home directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".postloom"
	}
	return filepath.Join(home, ".postloom")
}

// Default returns the default configuration.
func Default() *Config {
	p := recovery.DefaultPolicy()
	return &Config{
		Server: ServerConfig{Listen: "127.0.0.1:7466"},
		Database: DatabaseConfig{
			Driver: store.DriverSQLite,
			DSN:    filepath.Join(Dir(), "postloom.db"),
		},
		Generation: GenerationConfig{
			MaxAttempts:     p.MaxAttempts,
			Backoff:         p.Backoff,
			RateLimitBase:   p.RateLimitBase,
			ExtendedTimeout: p.ExtendedTimeout,
			DefaultTimeout:  60 * time.Second,
			TruncateLength:  p.TruncateLength,
			PerItemEstimate: progress.DefaultPerItemEstimate,
			LockTTL:         2 * time.Hour,
		},
		Scheduler: *scheduler.DefaultConfig(),
		Provider: connectors.Settings{
			Kind: "offline",
		},
		Notify: NotifyConfig{Exchange: notify.DefaultExchange},
		Log:    LogConfig{Level: "info"},
	}
}

// LoadFile loads configuration from a YAML file. A missing file yields defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// LoadFromHome loads configuration from ~/.postloom/config.yaml.
func LoadFromHome() (*Config, error) {
	return LoadFile(filepath.Join(Dir(), "config.yaml"))
}

// Load reads the YAML file at path (or the home config when empty), loads
// .env from the working directory, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path == "" {
		cfg, err = LoadFromHome()
	} else {
		cfg, err = LoadFile(path)
	}
	if err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("POSTLOOM_LISTEN", &c.Server.Listen)
	set("POSTLOOM_DB_DRIVER", &c.Database.Driver)
	set("POSTLOOM_DB_DSN", &c.Database.DSN)
	set("POSTLOOM_PROVIDER", &c.Provider.Kind)
	set("OPENAI_API_KEY", &c.Provider.APIKey)
	set("OPENAI_BASE_URL", &c.Provider.BaseURL)
	set("POSTLOOM_AMQP_URL", &c.Notify.AMQPURL)
	set("POSTLOOM_LOG_LEVEL", &c.Log.Level)
}

// Save writes configuration to a YAML file, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("invalid database driver %q, must be: sqlite or postgres", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	switch strings.ToLower(c.Provider.Kind) {
	case "offline":
	case "openai":
		if c.Provider.APIKey == "" {
			return fmt.Errorf("provider openai requires an api key (OPENAI_API_KEY)")
		}
	default:
		return fmt.Errorf("invalid provider %q, must be: openai or offline", c.Provider.Kind)
	}

	if c.Generation.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if len(c.Generation.Backoff) == 0 {
		return fmt.Errorf("backoff must list at least one delay")
	}
	if c.Scheduler.GlobalMax < 1 {
		return fmt.Errorf("scheduler global_max must be at least 1")
	}
	return nil
}

// Policy builds the recovery policy from the generation settings.
func (c *Config) Policy() recovery.Policy {
	p := recovery.DefaultPolicy()
	g := c.Generation
	if g.MaxAttempts > 0 {
		p.MaxAttempts = g.MaxAttempts
	}
	if len(g.Backoff) > 0 {
		p.Backoff = append([]time.Duration(nil), g.Backoff...)
	}
	if g.RateLimitBase > 0 {
		p.RateLimitBase = g.RateLimitBase
	}
	if g.ExtendedTimeout > 0 {
		p.ExtendedTimeout = g.ExtendedTimeout
	}
	if g.TruncateLength > 0 {
		p.TruncateLength = g.TruncateLength
	}
	return p
}
