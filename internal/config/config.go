// Package config loads service settings from flags, environment and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalidConfig marks a setting outside its allowed range.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the settings of the API service.
type Config struct {
	Addr           string
	ConfigFile     string
	LogLevel       string
	LogDevelopment bool

	DatabaseURL   string
	DBMigrate     bool
	MigrationsDir string
	RedisURL      string

	Workers          int
	PollInterval     time.Duration
	DefaultTimeLimit time.Duration
	MaxTimeLimit     time.Duration

	SolveRPS   float64
	SolveBurst int

	CallbackMaxAttempts int

	AuthMode       string
	AuthHMACSecret string
}

// Flags registers the service flags on fs.
func Flags(fs *pflag.FlagSet) {
	fs.String("addr", ":8080", "listen address")
	fs.String("config", "", "optional YAML config file")
	fs.String("log-level", "info", "log level: error, info, debug or trace")
	fs.Bool("log-development", false, "human readable console logs")
	fs.String("database-url", "", "PostgreSQL DSN; empty keeps runs in memory")
	fs.Bool("db-migrate", true, "apply SQL migrations at startup")
	fs.String("migrations-dir", "db/migrations", "directory of *.sql migrations")
	fs.String("redis-url", "", "Redis URL for cross-replica run events")
	fs.Int("workers", 2, "runs solved concurrently")
	fs.Duration("poll-interval", time.Second, "queued run poll interval")
	fs.Duration("default-time-limit", 2*time.Second, "search time limit when a problem sets none")
	fs.Duration("max-time-limit", time.Minute, "upper bound on any search time limit")
	fs.Float64("solve-rps", 5, "sustained solve requests per second; 0 disables limiting")
	fs.Int("solve-burst", 10, "solve request burst")
	fs.Int("callback-max-attempts", 10, "completion callback attempts before giving up")
	fs.String("auth-mode", "dev", "bearer token mode: dev or hmac")
	fs.String("auth-hmac-secret", "", "HS256 secret for hmac auth mode")
}

// Load parses args and resolves every setting. Precedence is flag, environment, config file,
// then the flag default.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("fleetroute", pflag.ContinueOnError)
	Flags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return FromFlags(fs)
}

// FromFlags resolves settings for an already parsed flag set.
func FromFlags(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, err
	}
	v.SetEnvPrefix("FLEETROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// conventional names shared with other deployments
	for key, env := range map[string]string{
		"database-url": "DATABASE_URL",
		"redis-url":    "REDIS_URL",
		"db-migrate":   "DB_MIGRATE",
		"port":         "PORT",
	} {
		if err := v.BindEnv(key, "FLEETROUTE_"+strings.ReplaceAll(strings.ToUpper(key), "-", "_"), env); err != nil {
			return Config{}, err
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	c := Config{
		Addr:                v.GetString("addr"),
		ConfigFile:          v.GetString("config"),
		LogLevel:            v.GetString("log-level"),
		LogDevelopment:      v.GetBool("log-development"),
		DatabaseURL:         v.GetString("database-url"),
		DBMigrate:           v.GetBool("db-migrate"),
		MigrationsDir:       v.GetString("migrations-dir"),
		RedisURL:            v.GetString("redis-url"),
		Workers:             v.GetInt("workers"),
		PollInterval:        v.GetDuration("poll-interval"),
		DefaultTimeLimit:    v.GetDuration("default-time-limit"),
		MaxTimeLimit:        v.GetDuration("max-time-limit"),
		SolveRPS:            v.GetFloat64("solve-rps"),
		SolveBurst:          v.GetInt("solve-burst"),
		CallbackMaxAttempts: v.GetInt("callback-max-attempts"),
		AuthMode:            strings.ToLower(v.GetString("auth-mode")),
		AuthHMACSecret:      v.GetString("auth-hmac-secret"),
	}
	if port := v.GetString("port"); port != "" && !fs.Changed("addr") {
		c.Addr = ":" + port
	}
	return c, c.Validate()
}

// Validate checks ranges and cross-field rules.
func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be >= 1", ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll-interval must be positive", ErrInvalidConfig)
	case c.DefaultTimeLimit < 0 || c.MaxTimeLimit < 0:
		return fmt.Errorf("%w: time limits must be >= 0", ErrInvalidConfig)
	case c.MaxTimeLimit > 0 && c.DefaultTimeLimit > c.MaxTimeLimit:
		return fmt.Errorf("%w: default-time-limit exceeds max-time-limit", ErrInvalidConfig)
	case c.SolveRPS < 0 || c.SolveBurst < 0:
		return fmt.Errorf("%w: solve-rps and solve-burst must be >= 0", ErrInvalidConfig)
	case c.CallbackMaxAttempts < 1:
		return fmt.Errorf("%w: callback-max-attempts must be >= 1", ErrInvalidConfig)
	}
	switch c.AuthMode {
	case "dev":
	case "hmac":
		if c.AuthHMACSecret == "" {
			return fmt.Errorf("%w: hmac auth needs auth-hmac-secret", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown auth-mode %q", ErrInvalidConfig, c.AuthMode)
	}
	return nil
}
