// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

// Package store adapts the shared Redis-compatible key/value store:
// pooled connections, retry with backoff, health checking, sentinel
// lookup and batched typed reads/writes.
package store

import "time"

// Config holds the store adapter settings. Durations are expressed in
// integer units matching the system config file.
type Config struct {
	// Addr is the store address when sentinel is not used.
	Addr string `mapstructure:"addr"`

	// MasterName and SentinelAddrs enable sentinel-managed failover.
	MasterName    string   `mapstructure:"master_name"`
	SentinelAddrs []string `mapstructure:"sentinel_addrs"`

	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// PoolSize is the number of multiplexed connections.
	PoolSize int `mapstructure:"pool_size"`

	// DialTimeoutMS bounds connection establishment; OpTimeoutMS bounds a
	// single store operation.
	DialTimeoutMS int `mapstructure:"dial_timeout_ms"`
	OpTimeoutMS   int `mapstructure:"op_timeout_ms"`

	// RetryCount and RetryBaseDelayMS shape the exponential retry policy
	// for transient errors: base_delay * 2^k, RetryCount attempts.
	RetryCount       int `mapstructure:"retry_count"`
	RetryBaseDelayMS int `mapstructure:"retry_base_delay_ms"`

	// HealthIntervalMS is the PING period of the health loop.
	HealthIntervalMS int `mapstructure:"health_check_interval_ms"`

	// ErrorThrottleWindowS is the per-key log suppression window.
	ErrorThrottleWindowS int `mapstructure:"error_throttle_window_s"`
}

// Defaults of the adapter settings.
const (
	DefaultPoolSize             = 5
	DefaultDialTimeoutMS        = 5000
	DefaultOpTimeoutMS          = 1000
	DefaultRetryCount           = 3
	DefaultRetryBaseDelayMS     = 100
	DefaultHealthIntervalMS     = 1000
	DefaultErrorThrottleWindowS = 60
)

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.DialTimeoutMS <= 0 {
		c.DialTimeoutMS = DefaultDialTimeoutMS
	}
	if c.OpTimeoutMS <= 0 {
		c.OpTimeoutMS = DefaultOpTimeoutMS
	}
	if c.RetryCount <= 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.RetryBaseDelayMS <= 0 {
		c.RetryBaseDelayMS = DefaultRetryBaseDelayMS
	}
	if c.HealthIntervalMS <= 0 {
		c.HealthIntervalMS = DefaultHealthIntervalMS
	}
	if c.ErrorThrottleWindowS <= 0 {
		c.ErrorThrottleWindowS = DefaultErrorThrottleWindowS
	}
	return c
}

// DialTimeout returns the connection timeout.
func (c Config) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMS) * time.Millisecond
}

// OpTimeout returns the per-operation timeout.
func (c Config) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutMS) * time.Millisecond
}

// RetryBaseDelay returns the initial retry delay.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// HealthInterval returns the health check period.
func (c Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalMS) * time.Millisecond
}

// ErrorThrottleWindow returns the log suppression window.
func (c Config) ErrorThrottleWindow() time.Duration {
	return time.Duration(c.ErrorThrottleWindowS) * time.Second
}
