package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "TOOLGATE_"

// Config holds the full service configuration. Values are layered:
// built-in defaults, then the optional YAML config file, then TOOLGATE_
// environment variables.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Redis    RedisConfig    `koanf:"redis"`
	Provider ProviderConfig `koanf:"provider"`
	Log      LogConfig      `koanf:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// RedisConfig configures the Redis connection backing the primary cache
// and the shared error budget state.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// ProviderConfig configures the upstream data provider client.
type ProviderConfig struct {
	BaseURL     string        `koanf:"base_url"`
	UserAgent   string        `koanf:"user_agent"`
	DefaultTTL  time.Duration `koanf:"default_ttl"`
	WaitTimeout time.Duration `koanf:"wait_timeout"`
	HTTPTimeout time.Duration `koanf:"http_timeout"`
	MaxAttempts int           `koanf:"max_attempts"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

func defaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"server.port":             8080,
		"server.shutdown_timeout": "15s",
		"redis.addr":              "localhost:6379",
		"redis.password":          "",
		"redis.db":                0,
		"provider.base_url":       "",
		"provider.user_agent":     "toolgate/1.0",
		"provider.default_ttl":    "5m",
		"provider.wait_timeout":   "30s",
		"provider.http_timeout":   "30s",
		"provider.max_attempts":   3,
		"log.level":               "info",
		"log.pretty":              false,
	}
}

// loadConfig assembles the configuration. configPath may be empty, in
// which case only defaults and environment variables apply.
func loadConfig(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultConfig(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	// TOOLGATE_SERVER__PORT maps to server.port. Double underscore
	// separates nesting levels so keys like base_url stay intact.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Provider.MaxAttempts <= 0 {
		return fmt.Errorf("provider.max_attempts must be positive")
	}
	return nil
}
