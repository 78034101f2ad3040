// Package config loads server configuration from defaults, an optional
// YAML file and REWARD_ENGINE_* environment variables, in increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "REWARD_ENGINE"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Log       LogConfig
	Engine    EngineConfig
	Cache     CacheConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

type StoreConfig struct {
	Driver string
	// DSN is a file path for sqlite and a connection URL for postgres.
	DSN string
}

type LogConfig struct {
	Level  string
	Format string
}

type EngineConfig struct {
	ValidatorTimeout time.Duration
	LedgerTimeout    time.Duration
}

// CacheConfig sizes the event read cache. Size 0 disables it.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

type SchedulerConfig struct {
	Enabled bool
	Spec    string
	Grace   time.Duration
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "rewards.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("engine.validator_timeout", 3*time.Second)
	v.SetDefault("engine.ledger_timeout", 5*time.Second)
	v.SetDefault("cache.size", 512)
	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.spec", "@every 1m")
	v.SetDefault("scheduler.grace", time.Minute)
}

// New returns a viper instance with defaults and environment binding.
// REWARD_ENGINE_STORE_DRIVER overrides store.driver, and so on.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path (empty means none) into v and
// returns the validated configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:        v.GetString("server.addr"),
			CORSOrigins: v.GetStringSlice("server.cors_origins"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("store.driver")),
			DSN:    v.GetString("store.dsn"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Engine: EngineConfig{
			ValidatorTimeout: v.GetDuration("engine.validator_timeout"),
			LedgerTimeout:    v.GetDuration("engine.ledger_timeout"),
		},
		Cache: CacheConfig{
			Size: v.GetInt("cache.size"),
			TTL:  v.GetDuration("cache.ttl"),
		},
		Scheduler: SchedulerConfig{
			Enabled: v.GetBool("scheduler.enabled"),
			Spec:    v.GetString("scheduler.spec"),
			Grace:   v.GetDuration("scheduler.grace"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be memory, sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.Driver == DriverSQLite && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required for sqlite"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Engine.ValidatorTimeout <= 0 {
		errs = append(errs, errors.New("engine.validator_timeout must be positive"))
	}
	if c.Engine.LedgerTimeout <= 0 {
		errs = append(errs, errors.New("engine.ledger_timeout must be positive"))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, errors.New("cache.size must not be negative"))
	}
	if c.Cache.Size > 0 && c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive when the cache is enabled"))
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.Spec == "" {
			errs = append(errs, errors.New("scheduler.spec is required when the scheduler is enabled"))
		}
		if c.Scheduler.Grace < 0 {
			errs = append(errs, errors.New("scheduler.grace must not be negative"))
		}
	}
	return errors.Join(errs...)
}
