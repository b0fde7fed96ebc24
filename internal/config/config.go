package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	Auth        AuthConfig        `toml:"auth"`
	Idempotency IdempotencyConfig `toml:"idempotency"`
	Reservation ReservationConfig `toml:"reservation"`
	Retry       RetryConfig       `toml:"retry"`
}

type ServerConfig struct {
	Port     int    `toml:"port"`
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
}

// DatabaseConfig selects the storage driver. "memory" keeps everything in process.
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	URL    string `toml:"url"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// IdempotencyConfig contains the duplicate-submission guard windows
type IdempotencyConfig struct {
	Backend         string   `toml:"backend"`
	TTL             Duration `toml:"ttl"`
	InFlightTimeout Duration `toml:"inflight_timeout"`
	Capacity        int      `toml:"capacity"`
	SweepInterval   Duration `toml:"sweep_interval"`
}

type ReservationConfig struct {
	DefaultTTL         Duration `toml:"default_ttl"`
	SweepInterval      Duration `toml:"sweep_interval"`
	ReorderAlertPeriod Duration `toml:"reorder_alert_period"`
}

// RetryConfig contains the backoff settings for conflict-class storage errors
type RetryConfig struct {
	MaxRetries   int      `toml:"max_retries"`
	InitialDelay Duration `toml:"initial_delay"`
	MaxDelay     Duration `toml:"max_delay"`
	Multiplier   float64  `toml:"multiplier"`
}

// Duration lets TOML files use "15m" style values.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// IsProduction reports whether diagnostic error details must be hidden.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, "production")
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080, Env: "development", LogLevel: "info"},
		Database: DatabaseConfig{Driver: "postgres"},
		Redis:    RedisConfig{},
		Idempotency: IdempotencyConfig{
			Backend:         "memory",
			TTL:             Duration{24 * time.Hour},
			InFlightTimeout: Duration{30 * time.Second},
			Capacity:        10000,
			SweepInterval:   Duration{time.Hour},
		},
		Reservation: ReservationConfig{
			DefaultTTL:         Duration{15 * time.Minute},
			SweepInterval:      Duration{time.Minute},
			ReorderAlertPeriod: Duration{30 * time.Minute},
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: Duration{100 * time.Millisecond},
			MaxDelay:     Duration{5 * time.Second},
			Multiplier:   2,
		},
	}
}

// Load reads .env (if present), then the optional TOML file named by CONFIG_FILE,
// then applies environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var err error
	setString(&cfg.Server.Env, "APP_ENV")
	setString(&cfg.Server.LogLevel, "LOG_LEVEL")
	setString(&cfg.Database.Driver, "STORAGE_DRIVER")
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Idempotency.Backend, "IDEMPOTENCY_BACKEND")

	if err = setInt(&cfg.Server.Port, "PORT"); err != nil {
		return err
	}
	if err = setInt(&cfg.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}
	if err = setInt(&cfg.Idempotency.Capacity, "IDEMPOTENCY_CAPACITY"); err != nil {
		return err
	}
	if err = setInt(&cfg.Retry.MaxRetries, "RETRY_MAX_RETRIES"); err != nil {
		return err
	}
	if err = setDuration(&cfg.Idempotency.TTL, "IDEMPOTENCY_TTL"); err != nil {
		return err
	}
	if err = setDuration(&cfg.Idempotency.InFlightTimeout, "IDEMPOTENCY_INFLIGHT_TIMEOUT"); err != nil {
		return err
	}
	if err = setDuration(&cfg.Reservation.DefaultTTL, "RESERVATION_DEFAULT_TTL"); err != nil {
		return err
	}
	if err = setDuration(&cfg.Reservation.SweepInterval, "RESERVATION_SWEEP_INTERVAL"); err != nil {
		return err
	}
	if err = setDuration(&cfg.Retry.InitialDelay, "RETRY_INITIAL_DELAY"); err != nil {
		return err
	}
	return setDuration(&cfg.Retry.MaxDelay, "RETRY_MAX_DELAY")
}

// Validate checks cross-field requirements
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Database.Driver)
	}

	switch c.Idempotency.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis idempotency backend")
		}
	default:
		return fmt.Errorf("unknown idempotency backend %q", c.Idempotency.Backend)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max retries cannot be negative")
	}
	if c.Idempotency.Capacity <= 0 {
		return fmt.Errorf("idempotency capacity must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	dst.Duration = d
	return nil
}
