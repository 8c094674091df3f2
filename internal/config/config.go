// Package config loads the service configuration. Values come from an
// optional TOML file, then a .env file, then the process environment; later
// sources win.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	CacheDriverRedis  = "redis"
	CacheDriverMemory = "memory"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Cache    CacheConfig    `toml:"cache"`
	Security SecurityConfig `toml:"security"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	Port            string   `toml:"port"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type CacheConfig struct {
	Driver        string   `toml:"driver"`
	RedisAddr     string   `toml:"redis_addr"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db"`
	MemoryEntries int      `toml:"memory_entries"`
	CodeTTL       Duration `toml:"code_ttl"`
	ProjectionTTL Duration `toml:"projection_ttl"`
}

// SecurityConfig holds the shared secrets checked by the hub and the admin
// routes. An empty secret disables the check.
type SecurityConfig struct {
	HubSecret   string `toml:"hub_secret"`
	AdminSecret string `toml:"admin_secret"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

// Duration reads TOML strings such as "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: Duration{15 * time.Second},
		},
		Cache: CacheConfig{
			Driver:        CacheDriverRedis,
			RedisAddr:     "localhost:6379",
			MemoryEntries: 10000,
			CodeTTL:       Duration{5 * time.Minute},
			ProjectionTTL: Duration{10 * time.Minute},
		},
		Log: LogConfig{
			Level:  slog.LevelInfo,
			Format: "text",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only the
// defaults, .env and the environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		defer file.Close()
		if err := toml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Cache.Driver = strings.ToLower(getEnv("CACHE_DRIVER", c.Cache.Driver))
	c.Cache.RedisAddr = getEnv("REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = getEnv("REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Security.HubSecret = getEnv("HUB_SECRET", c.Security.HubSecret)
	c.Security.AdminSecret = getEnv("ADMIN_SECRET", c.Security.AdminSecret)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	var err error
	if c.Cache.RedisDB, err = getEnvInt("REDIS_DB", c.Cache.RedisDB); err != nil {
		return err
	}
	if c.Cache.MemoryEntries, err = getEnvInt("CACHE_MEMORY_ENTRIES", c.Cache.MemoryEntries); err != nil {
		return err
	}
	if c.Cache.CodeTTL.Duration, err = getEnvDuration("CACHE_CODE_TTL", c.Cache.CodeTTL.Duration); err != nil {
		return err
	}
	if c.Cache.ProjectionTTL.Duration, err = getEnvDuration("CACHE_PROJECTION_TTL", c.Cache.ProjectionTTL.Duration); err != nil {
		return err
	}
	if c.Server.ShutdownTimeout.Duration, err = getEnvDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout.Duration); err != nil {
		return err
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := c.Log.Level.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	switch c.Cache.Driver {
	case CacheDriverRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for the redis cache driver"))
		}
	case CacheDriverMemory:
		if c.Cache.MemoryEntries <= 0 {
			errs = append(errs, errors.New("memory cache entries must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache driver %q", c.Cache.Driver))
	}
	if c.Cache.CodeTTL.Duration <= 0 || c.Cache.ProjectionTTL.Duration <= 0 {
		errs = append(errs, errors.New("cache ttls must be positive"))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger described by c.Log.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Log.Level, AddSource: c.Log.AddSource}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
