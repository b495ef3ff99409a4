// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides a unified configuration loader for Loom services.
// Configuration is read from process environment variables with optional YAML
// file support; invalid configuration fails fast at startup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ObjectStore holds the artifact store connection settings.
type ObjectStore struct {
	Endpoint       string `koanf:"endpoint"`
	Region         string `koanf:"region"`
	// Bucket is required by the builder service only; artifact.New enforces it.
	Bucket         string `koanf:"bucket"`
	AccessKey      string `koanf:"access_key"`
	SecretKey      string `koanf:"secret_key"`
	ForcePathStyle bool   `koanf:"force_path_style"`
}

// Workers holds worker-pool tuning knobs shared by both services.
type Workers struct {
	// StepConcurrency bounds concurrent step executions per process.
	StepConcurrency int `koanf:"step_concurrency" validate:"min=1"`
	// BuildConcurrency bounds concurrent builds per process.
	BuildConcurrency int `koanf:"build_concurrency" validate:"min=1"`
	// StepRatePerSecond smooths burst load on downstream services.
	StepRatePerSecond int `koanf:"step_rate_per_second" validate:"min=1"`
	// MaxRetries bounds step and build retries.
	MaxRetries int `koanf:"max_retries" validate:"min=0"`
	// RetryBaseDelay is the base of the exponential retry backoff.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	// StepTimeout bounds a single step execution.
	StepTimeout time.Duration `koanf:"step_timeout"`
}

// Config is the full configuration for a Loom service process.
type Config struct {
	DatabaseURL      string        `koanf:"database_url" validate:"required"`
	KVURL            string        `koanf:"kv_url" validate:"required"`
	JWTSecret        string        `koanf:"jwt_secret" validate:"required,min=8"`
	Port             int           `koanf:"port" validate:"min=1,max=65535"`
	Env              string        `koanf:"env" validate:"oneof=development production test"`
	LogLevel         string        `koanf:"log_level" validate:"oneof=fatal error warn info debug trace"`
	CompletionAPIKey string        `koanf:"completion_api_key"`
	CDNBaseURL       string        `koanf:"cdn_base_url"`
	RateLimitPerMin  int           `koanf:"rate_limit_per_min" validate:"min=1"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
	ObjectStore      ObjectStore   `koanf:"object_store"`
	Workers          Workers       `koanf:"workers"`
}

// IsProduction reports whether the process runs with production settings.
func (c *Config) IsProduction() bool { return c.Env == "production" }

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		Port:            8080,
		Env:             "development",
		LogLevel:        "info",
		RateLimitPerMin: 100,
		ShutdownTimeout: 30 * time.Second,
		Workers: Workers{
			StepConcurrency:   10,
			BuildConcurrency:  2,
			StepRatePerSecond: 50,
			MaxRetries:        3,
			RetryBaseDelay:    time.Second,
			StepTimeout:       5 * time.Minute,
		},
	}
}

// Load reads configuration with the following priority (highest to lowest):
//
//  1. Environment variables (DATABASE_URL -> database_url,
//     OBJECT_STORE_BUCKET -> object_store.bucket)
//  2. Config file (YAML), when configPath is non-empty
//  3. Built-in defaults
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), koanfyaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// recognizedKeys maps environment variable names to koanf paths. Variables not
// listed here are ignored so unrelated process environment never leaks into
// the config tree.
var recognizedKeys = map[string]string{
	"DATABASE_URL":                  "database_url",
	"KV_URL":                        "kv_url",
	"JWT_SECRET":                    "jwt_secret",
	"PORT":                          "port",
	"ENV":                           "env",
	"LOG_LEVEL":                     "log_level",
	"COMPLETION_API_KEY":            "completion_api_key",
	"CDN_BASE_URL":                  "cdn_base_url",
	"RATE_LIMIT_PER_MIN":            "rate_limit_per_min",
	"SHUTDOWN_TIMEOUT":              "shutdown_timeout",
	"OBJECT_STORE_ENDPOINT":         "object_store.endpoint",
	"OBJECT_STORE_REGION":           "object_store.region",
	"OBJECT_STORE_BUCKET":           "object_store.bucket",
	"OBJECT_STORE_ACCESS_KEY":       "object_store.access_key",
	"OBJECT_STORE_SECRET_KEY":       "object_store.secret_key",
	"OBJECT_STORE_FORCE_PATH_STYLE": "object_store.force_path_style",
	"STEP_CONCURRENCY":              "workers.step_concurrency",
	"BUILD_CONCURRENCY":             "workers.build_concurrency",
	"STEP_RATE_PER_SECOND":          "workers.step_rate_per_second",
	"MAX_RETRIES":                   "workers.max_retries",
	"RETRY_BASE_DELAY":              "workers.retry_base_delay",
	"STEP_TIMEOUT":                  "workers.step_timeout",
}

// envKeyMapper translates environment variable names to koanf paths.
// Returning an empty string drops the variable.
func envKeyMapper(s string) string {
	if path, ok := recognizedKeys[strings.ToUpper(s)]; ok {
		return path
	}
	return ""
}

// validate checks the loaded configuration against its struct constraints and
// returns a readable aggregate error.
func validate(cfg *Config) error {
	v := validator.New()
	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
}
