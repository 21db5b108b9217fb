// Package config loads the orchestrator's runtime configuration from the
// environment. Every variable is prefixed ORCH_, with underscores mapping
// to nesting: ORCH_REDIS_ADDR becomes redis.addr.
package config

import (
	"errors"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "ORCH_"

type Config struct {
	Environment string      `koanf:"environment"`
	Redis       RedisConfig `koanf:"redis"`
	State       StateConfig `koanf:"state"`
	Params      ParamConfig `koanf:"params"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type StateConfig struct {
	// Table is the DynamoDB table holding the event log, the history
	// transcript and conversation ownership rows.
	Table string `koanf:"table"`
}

type ParamConfig struct {
	// OpenAI is the SSM parameter name holding the OpenAI credentials.
	OpenAI string `koanf:"openai"`
}

// Load reads the environment into a validated Config.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	if !k.Exists("environment") {
		k.Set("environment", "development")
	}
	if !k.Exists("redis.addr") {
		k.Set("redis.addr", "localhost:6379")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.State.Table == "" {
		return errors.New("config: ORCH_STATE_TABLE is required")
	}
	if c.Params.OpenAI == "" {
		return errors.New("config: ORCH_PARAMS_OPENAI is required")
	}
	return nil
}
