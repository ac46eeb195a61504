// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/aurantiaco-sucus/rdb-exp3/library"
	"github.com/caarlos0/env/v11"
)

// Launch types selected by lms_launch_type.
const (
	LaunchServer = "server"
	LaunchClient = "client"
	LaunchConfig = "config"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full process configuration.
type Config struct {
	LaunchType   string `env:"lms_launch_type"    envDefault:"client"`
	Host         string `env:"lms_host"           envDefault:"localhost"`
	Port         int    `env:"lms_port"           envDefault:"9998"`
	Bind         string `env:"lms_bind"           envDefault:"127.0.0.1"`
	DBDriver     string `env:"lms_db_driver"      envDefault:"sqlite3"`
	DBDSN        string `env:"lms_db_dsn"         envDefault:"rdb_exp3.db"`
	AdminKeyHash string `env:"lms_admin_key_hash"`
	AdminKey     string `env:"lms_admin_key"`
	LogLevel     string `env:"lms_log_level"      envDefault:"info"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// FromEnv parses the environment without validating it, so that command
// line flags can still override values.
func FromEnv() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load parses and validates the environment.
func Load() (Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env.Parse cannot.
func (c Config) Validate() error {
	var errs []error
	switch c.LaunchType {
	case LaunchServer, LaunchClient, LaunchConfig:
	default:
		errs = append(errs, fmt.Errorf("unknown launch type %q", c.LaunchType))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.DBDriver {
	case library.DriverSQLite3, library.DriverSQLite, library.DriverPGX, library.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", library.ErrUnsupportedDriver, c.DBDriver))
	}
	if strings.TrimSpace(c.DBDSN) == "" {
		errs = append(errs, errors.New("database dsn is empty"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

// PortString is Port in decimal.
func (c Config) PortString() string { return strconv.Itoa(c.Port) }

// ListenAddr is the address the server binds.
func (c Config) ListenAddr() string { return net.JoinHostPort(c.Bind, c.PortString()) }

// IsSQLite reports whether the configured driver stores into a file.
func (c Config) IsSQLite() bool {
	return c.DBDriver == library.DriverSQLite3 || c.DBDriver == library.DriverSQLite
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// NewLogger builds a logger at the configured level, JSON formatted when
// asJSON is set.
func (c Config) NewLogger(w io.Writer, asJSON bool) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
