// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

// Package config loads the system configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/sensorlogic/reflex/pkg/store"
)

// Config is the typed system configuration shared by the compiler and the
// runtime. There is no process-global config: Load returns a value and
// callers pass it down.
type Config struct {
	Version int `mapstructure:"version"`

	// ValidSensors declares the externally produced sensor keys.
	ValidSensors []string `mapstructure:"valid_sensors"`

	// CycleTimeMS is the evaluation cadence.
	CycleTimeMS int `mapstructure:"cycle_time_ms"`

	// SamplingPeriodMS gates temporal buffer appends.
	SamplingPeriodMS int `mapstructure:"sampling_period_ms"`

	// BufferCapacity is the default per-sensor ring capacity;
	// BufferMargin pads capacities derived from rule windows.
	BufferCapacity int `mapstructure:"buffer_capacity"`
	BufferMargin   int `mapstructure:"buffer_margin"`

	// MaxTemporalPoints rejects threshold-over-time windows demanding
	// more samples than this.
	MaxTemporalPoints int `mapstructure:"max_temporal_points"`

	// StateCheckIntervalMS is the active/standby poll period.
	StateCheckIntervalMS int `mapstructure:"state_check_interval_ms"`

	// Parallelism bounds concurrent rule evaluations per group. Zero
	// means the number of CPUs.
	Parallelism int `mapstructure:"parallelism"`

	// HostID identifies this engine instance for the active/standby
	// comparison against the sentinel-reported master host. Defaults to
	// the OS hostname.
	HostID string `mapstructure:"host_id"`

	Compiler CompilerConfig `mapstructure:"compiler"`
	Store    store.Config   `mapstructure:"store"`
}

// CompilerConfig bounds emitted group sizes.
type CompilerConfig struct {
	MaxRulesPerGroup       int `mapstructure:"max_rules_per_group"`
	MaxSourceLinesPerGroup int `mapstructure:"max_source_lines_per_group"`
}

// SupportedVersion is the config file version this build understands.
const SupportedVersion = 1

// Load reads the YAML config at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config read error `%s`: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode error `%s`: %w", path, err)
	}
	if cfg.HostID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("cannot determine host id: %w", err)
		}
		cfg.HostID = host
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("version", SupportedVersion)
	v.SetDefault("cycle_time_ms", 1000)
	v.SetDefault("sampling_period_ms", 100)
	v.SetDefault("buffer_capacity", 100)
	v.SetDefault("buffer_margin", 10)
	v.SetDefault("max_temporal_points", 10000)
	v.SetDefault("state_check_interval_ms", 100)
	v.SetDefault("compiler.max_rules_per_group", 25)
	v.SetDefault("compiler.max_source_lines_per_group", 400)
	v.SetDefault("store.pool_size", store.DefaultPoolSize)
	v.SetDefault("store.dial_timeout_ms", store.DefaultDialTimeoutMS)
	v.SetDefault("store.op_timeout_ms", store.DefaultOpTimeoutMS)
	v.SetDefault("store.retry_count", store.DefaultRetryCount)
	v.SetDefault("store.retry_base_delay_ms", store.DefaultRetryBaseDelayMS)
	v.SetDefault("store.health_check_interval_ms", store.DefaultHealthIntervalMS)
	v.SetDefault("store.error_throttle_window_s", store.DefaultErrorThrottleWindowS)
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Version != SupportedVersion {
		return fmt.Errorf("unsupported config version %d (supported: %d)", c.Version, SupportedVersion)
	}
	if c.CycleTimeMS <= 0 {
		return fmt.Errorf("cycle_time_ms must be positive")
	}
	if c.SamplingPeriodMS <= 0 {
		return fmt.Errorf("sampling_period_ms must be positive")
	}
	if c.Store.Addr == "" && len(c.Store.SentinelAddrs) == 0 {
		return fmt.Errorf("store needs either `addr` or `sentinel_addrs`")
	}
	if len(c.Store.SentinelAddrs) > 0 && c.Store.MasterName == "" {
		return fmt.Errorf("store sentinel configuration needs `master_name`")
	}
	return nil
}

// CyclePeriod returns the evaluation cadence.
func (c *Config) CyclePeriod() time.Duration {
	return time.Duration(c.CycleTimeMS) * time.Millisecond
}

// SamplingPeriod returns the temporal sampling period.
func (c *Config) SamplingPeriod() time.Duration {
	return time.Duration(c.SamplingPeriodMS) * time.Millisecond
}

// StateCheckInterval returns the active/standby poll period.
func (c *Config) StateCheckInterval() time.Duration {
	return time.Duration(c.StateCheckIntervalMS) * time.Millisecond
}
