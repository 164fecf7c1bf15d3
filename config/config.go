// Package config loads sessionctl settings from a TOML file with environment
// overrides, and can watch that file for changes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"

	"github.com/Elius94/users-session-manager/keygen"
	"github.com/Elius94/users-session-manager/sessions"
)

// Broker kinds accepted by Config.Broker.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// maxTimeoutSeconds is the largest whole-second timeout a time.Duration holds.
const maxTimeoutSeconds = math.MaxInt64 / int64(time.Second)

// Config is the full runtime configuration. Timeout values are whole seconds.
type Config struct {
	SessionTimeout  int    `toml:"session_timeout"`
	KeyFormat       string `toml:"key_format"`
	LogLevel        string `toml:"log_level"`
	Broker          string `toml:"broker"`
	RedisAddr       string `toml:"redis_addr"`
	BrokerPrefix    string `toml:"broker_prefix"`
	LogoutNamespace string `toml:"logout_namespace"`
}

// envOverrides mirrors Config for envdecode. Empty values leave the file
// setting in place.
type envOverrides struct {
	SessionTimeout  string `env:"SESSION_TIMEOUT"`
	KeyFormat       string `env:"SESSION_KEY_FORMAT"`
	LogLevel        string `env:"LOG_LEVEL"`
	Broker          string `env:"SESSION_BROKER"`
	RedisAddr       string `env:"REDIS_ADDR"`
	BrokerPrefix    string `env:"SESSION_BROKER_PREFIX"`
	LogoutNamespace string `env:"SESSION_LOGOUT_NAMESPACE"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SessionTimeout:  int(sessions.DefaultSessionTimeout / time.Second),
		KeyFormat:       keygen.FormatMeaningful,
		LogLevel:        "info",
		Broker:          BrokerMemory,
		RedisAddr:       "localhost:6379",
		BrokerPrefix:    "sessions:broker:",
		LogoutNamespace: "logout:",
	}
}

// Load returns Default overlaid with the TOML file at path (skipped when path
// is empty) and then with environment variables. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}
	if env.SessionTimeout != "" {
		d, err := ParseTimeout(env.SessionTimeout)
		if err != nil {
			return fmt.Errorf("SESSION_TIMEOUT: %w", err)
		}
		c.SessionTimeout = int(d / time.Second)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.KeyFormat, env.KeyFormat)
	set(&c.LogLevel, env.LogLevel)
	set(&c.Broker, env.Broker)
	set(&c.RedisAddr, env.RedisAddr)
	set(&c.BrokerPrefix, env.BrokerPrefix)
	set(&c.LogoutNamespace, env.LogoutNamespace)
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.SessionTimeout < int(sessions.MinSessionTimeout/time.Second) {
		return fmt.Errorf("session_timeout %d: %w", c.SessionTimeout, sessions.ErrInvalidTimeout)
	}
	if int64(c.SessionTimeout) > maxTimeoutSeconds {
		return fmt.Errorf("session_timeout %d is too large: %w", c.SessionTimeout, sessions.ErrInvalidTimeout)
	}
	if _, err := keygen.ByName(c.KeyFormat); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Broker {
	case BrokerMemory:
	case BrokerRedis:
		if c.RedisAddr == "" {
			return errors.New("redis_addr is required for the redis broker")
		}
	default:
		return fmt.Errorf("unknown broker %q", c.Broker)
	}
	return nil
}

// Timeout returns SessionTimeout as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.SessionTimeout) * time.Second
}

// ParseTimeout parses a timeout given either as whole seconds ("3000") or as
// a Go duration ("50m"). Values below sessions.MinSessionTimeout are rejected.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		if err != nil || n > maxTimeoutSeconds {
			return 0, fmt.Errorf("timeout %q is too large: %w", s, sessions.ErrInvalidTimeout)
		}
		d = time.Duration(n) * time.Second
	} else if parsed, perr := time.ParseDuration(s); perr == nil {
		d = parsed
	} else {
		return 0, fmt.Errorf("timeout %q: %w", s, sessions.ErrInvalidTimeout)
	}
	if d < sessions.MinSessionTimeout {
		return 0, fmt.Errorf("timeout %s: %w", d, sessions.ErrInvalidTimeout)
	}
	return d, nil
}

// ParseLogLevel maps debug, info, warn or error to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}
