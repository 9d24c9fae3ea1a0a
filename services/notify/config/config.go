// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the notify service configuration from a YAML
// file with environment-variable overrides, and validates it before
// anything starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// HMACKey configures push-token signing. A nil HMACKey disables push.
type HMACKey struct {
	// ID is an opaque key identifier, used in logs only.
	ID string `yaml:"id" validate:"required"`

	// SecretKeyMultibase is the multibase-u multikey secret.
	SecretKeyMultibase string `yaml:"secretKeyMultibase" validate:"required"`
}

// Config is the full notify service configuration.
type Config struct {
	Server struct {
		// Addr is the listen address, e.g. ":8087".
		Addr string `yaml:"addr" validate:"required"`
	} `yaml:"server"`

	Store struct {
		// Path is the BadgerDB directory. Empty selects the in-memory
		// store.
		Path string `yaml:"path"`
	} `yaml:"store"`

	Caches struct {
		Poll struct {
			// Max bounds concurrent in-flight polls.
			Max int `yaml:"max" validate:"gt=0"`
		} `yaml:"poll"`
		PollResult struct {
			// Max bounds the result cache.
			Max int `yaml:"max" validate:"gt=0"`

			// TTLMillis is the default result TTL in milliseconds.
			TTLMillis int `yaml:"ttl" validate:"gt=0"`
		} `yaml:"pollResult"`
	} `yaml:"caches"`

	Push struct {
		// HMACKey enables push tokens when present.
		HMACKey *HMACKey `yaml:"hmacKey"`

		// CallbackRatePerSecond bounds origin callbacks. 0 disables the
		// limiter.
		CallbackRatePerSecond float64 `yaml:"callbackRatePerSecond" validate:"gte=0"`

		// CallbackBurst is the limiter burst size.
		CallbackBurst int `yaml:"callbackBurst" validate:"gte=0"`
	} `yaml:"push"`

	Scheduler struct {
		// MarkLimit is how many watches one sweep leases.
		MarkLimit int `yaml:"markLimit" validate:"gt=0"`

		// LockTTLMillis is the lease lifetime in milliseconds.
		LockTTLMillis int `yaml:"lockTtl" validate:"gt=0"`

		// BaselineMillis is the reschedule baseline in milliseconds.
		BaselineMillis int `yaml:"baseline" validate:"gt=0"`
	} `yaml:"scheduler"`

	Exchange struct {
		// BaseURL resolves relative exchange references.
		BaseURL string `yaml:"baseUrl"`

		// Capability authorizes exchange reads.
		Capability string `yaml:"capability"`
	} `yaml:"exchange"`

	Logging struct {
		// Level is one of debug, info, warn, error.
		Level string `yaml:"level" validate:"oneof=debug info warn error"`

		// Dir enables file logging when set.
		Dir string `yaml:"dir"`

		// JSON selects JSON stderr output.
		JSON bool `yaml:"json"`
	} `yaml:"logging"`
}

// Default returns the documented defaults.
func Default() Config {
	var cfg Config
	cfg.Server.Addr = ":8087"
	cfg.Caches.Poll.Max = 10_000
	cfg.Caches.PollResult.Max = 100
	cfg.Caches.PollResult.TTLMillis = 30_000
	cfg.Push.CallbackRatePerSecond = 50
	cfg.Push.CallbackBurst = 100
	cfg.Scheduler.MarkLimit = 10
	cfg.Scheduler.LockTTLMillis = 5_000
	cfg.Scheduler.BaselineMillis = 1_000
	cfg.Logging.Level = "info"
	return cfg
}

// Load reads path (optional), applies NOTIFY_* environment overrides,
// and validates the result.
//
// # Inputs
//
//   - path: YAML file path. Empty skips file loading and uses defaults
//     plus environment.
//
// # Outputs
//
//   - Config: The effective configuration.
//   - error: Non-nil for unreadable files, malformed YAML, or failed
//     validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return Config{}, fmt.Errorf("invalid config: field %s fails %q", first.Namespace(), first.Tag())
		}
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// PollResultTTL returns the result TTL as a duration.
func (c *Config) PollResultTTL() time.Duration {
	return time.Duration(c.Caches.PollResult.TTLMillis) * time.Millisecond
}

// SchedulerLockTTL returns the lease lifetime as a duration.
func (c *Config) SchedulerLockTTL() time.Duration {
	return time.Duration(c.Scheduler.LockTTLMillis) * time.Millisecond
}

// SchedulerBaseline returns the reschedule baseline as a duration.
func (c *Config) SchedulerBaseline() time.Duration {
	return time.Duration(c.Scheduler.BaselineMillis) * time.Millisecond
}

// applyEnv overlays NOTIFY_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("NOTIFY_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("NOTIFY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v, ok := envInt("NOTIFY_POLL_MAX"); ok {
		cfg.Caches.Poll.Max = v
	}
	if v, ok := envInt("NOTIFY_POLL_RESULT_MAX"); ok {
		cfg.Caches.PollResult.Max = v
	}
	if v, ok := envInt("NOTIFY_POLL_RESULT_TTL_MS"); ok {
		cfg.Caches.PollResult.TTLMillis = v
	}
	if v := os.Getenv("NOTIFY_PUSH_HMAC_KEY_ID"); v != "" {
		ensureHMACKey(cfg).ID = v
	}
	if v := os.Getenv("NOTIFY_PUSH_HMAC_KEY_SECRET"); v != "" {
		ensureHMACKey(cfg).SecretKeyMultibase = v
	}
	if v := os.Getenv("NOTIFY_EXCHANGE_BASE_URL"); v != "" {
		cfg.Exchange.BaseURL = v
	}
	if v := os.Getenv("NOTIFY_EXCHANGE_CAPABILITY"); v != "" {
		cfg.Exchange.Capability = v
	}
	if v := os.Getenv("NOTIFY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NOTIFY_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
}

func ensureHMACKey(cfg *Config) *HMACKey {
	if cfg.Push.HMACKey == nil {
		cfg.Push.HMACKey = &HMACKey{}
	}
	return cfg.Push.HMACKey
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
