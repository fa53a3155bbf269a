// Package config loads rabridge settings from an optional TOML file with
// RABRIDGE_* environment overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "RABRIDGE_"

// Config holds all rabridge settings.
type Config struct {
	// Workspace is the Rust project root. Empty means the current directory.
	Workspace string `toml:"workspace"`

	// Command is the rust-analyzer binary.
	Command string `toml:"command"`

	// Args are extra analyzer arguments.
	Args []string `toml:"args"`

	// Env are extra environment variables for the analyzer process.
	Env map[string]string `toml:"env"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// RequestTimeout bounds each LSP request.
	RequestTimeout Duration `toml:"request_timeout"`

	// StrictDecode makes undecodable LSP frames fatal to the session.
	StrictDecode bool `toml:"strict_decode"`
}

// Duration unmarshals TOML strings like "45s" or "2m".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Command:        "rust-analyzer",
		LogLevel:       "info",
		RequestTimeout: Duration(30 * time.Second),
	}
}

// Load reads path (if it exists), applies environment overrides, and
// validates the result. A missing file is not an error; an unreadable or
// malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus env are enough.
		case err != nil:
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays RABRIDGE_* variables onto cfg. Empty values count as
// set.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvPrefix + "WORKSPACE"); ok {
		cfg.Workspace = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "COMMAND"); ok {
		cfg.Command = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "REQUEST_TIMEOUT"); ok {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.RequestTimeout = Duration(dur)
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "STRICT_DECODE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StrictDecode = b
		}
	}
}

// Validate checks field values.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q (want debug, info, warn, or error)", c.LogLevel)
	}
	if c.Command == "" {
		return fmt.Errorf("command must not be empty")
	}
	if time.Duration(c.RequestTimeout) <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	return nil
}
