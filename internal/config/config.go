package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"crusty-flash/internal/model"

	"gopkg.in/yaml.v3"
)

const envPrefix = "CRUSTY_FLASH_"

// Store kinds
const (
	StoreRedis  = "redis"
	StoreBadger = "badger"
	StoreMemory = "memory"
)

type Config struct {
	Addr       string        `yaml:"addr"`
	Store      string        `yaml:"store"`
	RedisAddr  string        `yaml:"redis_addr"`
	BadgerPath string        `yaml:"badger_path"`
	GCInterval time.Duration `yaml:"gc_interval"`
	Session    SessionConfig `yaml:"session"`
	Flash      FlashConfig   `yaml:"flash"`
	Log        LogConfig     `yaml:"log"`
}

type SessionConfig struct {
	CookieName string        `yaml:"cookie_name"`
	TTL        time.Duration `yaml:"ttl"`
	Secure     bool          `yaml:"secure"`
}

type FlashConfig struct {
	Key      string `yaml:"key"`
	MinLevel string `yaml:"min_level"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Addr:       ":3000",
		Store:      StoreRedis,
		RedisAddr:  "localhost:6379",
		BadgerPath: "./badger-data",
		GCInterval: 5 * time.Minute,
		Session: SessionConfig{
			CookieName: "crusty_session",
			TTL:        24 * time.Hour,
		},
		Flash: FlashConfig{
			Key:      "flash.messages",
			MinLevel: "debug",
		},
		Log: LogConfig{
			Level:       "info",
			Development: true,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and CRUSTY_FLASH_* environment variables, in that
// order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setString(&c.Addr, "ADDR")
	setString(&c.Store, "STORE")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.BadgerPath, "BADGER_PATH")
	setString(&c.Session.CookieName, "COOKIE_NAME")
	setString(&c.Flash.Key, "KEY")
	setString(&c.Flash.MinLevel, "MIN_LEVEL")
	setString(&c.Log.Level, "LOG_LEVEL")

	if err := setDuration(&c.GCInterval, "GC_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&c.Session.TTL, "SESSION_TTL"); err != nil {
		return err
	}
	if err := setBool(&c.Session.Secure, "COOKIE_SECURE"); err != nil {
		return err
	}
	return setBool(&c.Log.Development, "LOG_DEVELOPMENT")
}

func setString(dst *string, name string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, name string) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, name string) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	*dst = b
	return nil
}

// Validate checks that the configuration can be used to start the server.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	switch c.Store {
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis store")
		}
	case StoreBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("badger_path is required for the badger store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want %s, %s or %s)", c.Store, StoreRedis, StoreBadger, StoreMemory)
	}
	if c.Session.TTL < time.Second {
		return fmt.Errorf("session ttl must be at least 1s")
	}
	if c.Flash.Key == "" {
		return fmt.Errorf("flash key cannot be empty")
	}
	if _, err := c.MinLevel(); err != nil {
		return fmt.Errorf("flash min_level: %w", err)
	}
	return nil
}

// MinLevel parses Flash.MinLevel.
func (c *Config) MinLevel() (model.Level, error) {
	return model.ParseLevel(c.Flash.MinLevel)
}
