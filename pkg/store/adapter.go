// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package store

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/sensorlogic/reflex/pkg/logthrottle"
	"github.com/sensorlogic/reflex/pkg/telemetry"
)

// Hash fields of a value record.
const (
	valueField     = "value"
	timestampField = "timestamp"
)

// Value is a stored sensor reading: an IEEE-754 double plus the UTC
// microsecond timestamp of its write.
type Value struct {
	Value     float64
	Timestamp time.Time
}

// Endpoint is a store host/port pair as reported by sentinel.
type Endpoint struct {
	Host string
	Port string
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// Adapter is the typed interface over the external store. All operations
// are safe for concurrent use; pipelined requests multiplex over the
// connection pool.
type Adapter struct {
	cfg      Config
	client   redis.UniversalClient
	sentinel *redis.SentinelClient
	log      *zap.Logger
	throttle *logthrottle.Throttler
	clock    clock.Clock
	metrics  *telemetry.Metrics
	healthy  atomic.Bool
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithClock injects a clock, used by tests.
func WithClock(c clock.Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

// WithMetrics injects the shared metric set.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// New builds an adapter for cfg. When MasterName is set the client
// follows the sentinel-reported master; a SentinelClient against the
// first sentinel address serves master lookups for the HA state manager.
func New(cfg Config, log *zap.Logger, opts ...Option) *Adapter {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	a := &Adapter{
		cfg:      cfg,
		log:      log,
		throttle: logthrottle.New(cfg.ErrorThrottleWindow()),
		clock:    clock.New(),
		metrics:  telemetry.New(nil),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.client = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs(cfg),
		MasterName:   cfg.MasterName,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout(),
		ReadTimeout:  cfg.OpTimeout(),
		WriteTimeout: cfg.OpTimeout(),
		MaxRetries:   -1, // retries are the adapter's policy, not the client's
		MinIdleConns: cfg.PoolSize,
	})
	if len(cfg.SentinelAddrs) > 0 {
		a.sentinel = redis.NewSentinelClient(&redis.Options{
			Addr:        cfg.SentinelAddrs[0],
			Password:    cfg.Password,
			DialTimeout: cfg.DialTimeout(),
			ReadTimeout: cfg.OpTimeout(),
		})
	}
	return a
}

func addrs(cfg Config) []string {
	if cfg.MasterName != "" {
		return cfg.SentinelAddrs
	}
	return []string{cfg.Addr}
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	if a.sentinel != nil {
		_ = a.sentinel.Close()
	}
	return a.client.Close()
}

// Run drives the periodic health check until ctx is done.
func (a *Adapter) Run(ctx context.Context) {
	ticker := a.clock.Ticker(a.cfg.HealthInterval())
	defer ticker.Stop()

	a.checkHealth(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.checkHealth(ctx)
		}
	}
}

func (a *Adapter) checkHealth(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, a.cfg.OpTimeout())
	defer cancel()
	err := a.client.Ping(opCtx).Err()
	wasHealthy := a.healthy.Swap(err == nil)
	switch {
	case err != nil && wasHealthy:
		a.log.Warn("store became unhealthy", zap.Error(err))
	case err == nil && !wasHealthy:
		a.log.Info("store became healthy")
	}
}

// Healthy reports the result of the last health check.
func (a *Adapter) Healthy() bool {
	return a.healthy.Load()
}

// GetAllInputs fetches the current values of keys with one pipelined
// request. Missing or malformed records are omitted and logged at most
// once per key per throttle window.
func (a *Adapter) GetAllInputs(ctx context.Context, keys []string) (map[string]Value, error) {
	out := make(map[string]Value, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	var cmds []*redis.MapStringStringCmd
	err := a.withRetry(ctx, "get_all_inputs", func(opCtx context.Context) error {
		pipe := a.client.Pipeline()
		cmds = make([]*redis.MapStringStringCmd, len(keys))
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(opCtx, key)
		}
		_, err := pipe.Exec(opCtx)
		return err
	})
	if err != nil {
		return nil, err
	}

	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		v, err := parseRecord(fields)
		if err != nil {
			a.metrics.MalformedReads.Inc()
			if a.throttle.Allow("malformed:" + keys[i]) {
				a.log.Warn("skipping malformed store record",
					zap.String("key", keys[i]), zap.Error(err))
			}
			continue
		}
		out[keys[i]] = v
	}
	return out, nil
}

// SetOutputs persists writes as one transaction: every record carries the
// shared batch timestamp and either all writes become visible or none.
func (a *Adapter) SetOutputs(ctx context.Context, writes map[string]float64) error {
	if len(writes) == 0 {
		return nil
	}
	ts := strconv.FormatInt(a.clock.Now().UTC().UnixMicro(), 10)

	return a.withRetry(ctx, "set_outputs", func(opCtx context.Context) error {
		pipe := a.client.TxPipeline()
		for key, v := range writes {
			pipe.HSet(opCtx, key, valueField, formatValue(v), timestampField, ts)
		}
		_, err := pipe.Exec(opCtx)
		return err
	})
}

// Publish sends one message on a channel.
func (a *Adapter) Publish(ctx context.Context, channel, message string) error {
	return a.withRetry(ctx, "publish", func(opCtx context.Context) error {
		return a.client.Publish(opCtx, channel, message).Err()
	})
}

// GetHistorical returns up to count most recent entries of a backing
// list, newest first. It serves ad-hoc analytics only; sustained
// evaluation reads the in-memory temporal buffers.
func (a *Adapter) GetHistorical(ctx context.Context, key string, count int64) ([]Value, error) {
	var items []string
	err := a.withRetry(ctx, "get_historical", func(opCtx context.Context) error {
		var err error
		items, err = a.client.LRange(opCtx, key, 0, count-1).Result()
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]Value, 0, len(items))
	for _, item := range items {
		v, err := parseHistoryEntry(item)
		if err != nil {
			a.metrics.MalformedReads.Inc()
			if a.throttle.Allow("history:" + key) {
				a.log.Warn("skipping malformed history entry",
					zap.String("key", key), zap.Error(err))
			}
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// SentinelMaster returns the current master endpoint as reported by
// sentinel. It fails when the adapter was built without sentinel
// addresses.
func (a *Adapter) SentinelMaster(ctx context.Context) (Endpoint, error) {
	if a.sentinel == nil || a.cfg.MasterName == "" {
		return Endpoint{}, fmt.Errorf("sentinel is not configured")
	}
	opCtx, cancel := context.WithTimeout(ctx, a.cfg.OpTimeout())
	defer cancel()

	addr, err := a.sentinel.GetMasterAddrByName(opCtx, a.cfg.MasterName).Result()
	if err != nil {
		return Endpoint{}, err
	}
	if len(addr) != 2 {
		return Endpoint{}, fmt.Errorf("unexpected sentinel reply: %v", addr)
	}
	return Endpoint{Host: addr[0], Port: addr[1]}, nil
}

// ClearNamespace deletes every key under the given prefixes. It acts only
// on the conventional namespaces and exists for tests and development
// resets.
func (a *Adapter) ClearNamespace(ctx context.Context, prefixes ...string) error {
	for _, prefix := range prefixes {
		var cursor uint64
		for {
			keys, next, err := a.client.Scan(ctx, cursor, prefix+"*", 100).Result()
			if err != nil {
				return err
			}
			if len(keys) > 0 {
				if err := a.client.Del(ctx, keys...).Err(); err != nil {
					return err
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return nil
}

// formatValue renders a double in round-trip form (up to 17 significant
// digits).
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'G', 17, 64)
}

func parseRecord(fields map[string]string) (Value, error) {
	raw, ok := fields[valueField]
	if !ok {
		return Value{}, fmt.Errorf("missing `%s` field", valueField)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Value{}, fmt.Errorf("bad value `%s`: %w", raw, err)
	}

	out := Value{Value: v}
	if rawTS, ok := fields[timestampField]; ok {
		micros, err := strconv.ParseInt(rawTS, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("bad timestamp `%s`: %w", rawTS, err)
		}
		out.Timestamp = time.UnixMicro(micros).UTC()
	}
	return out, nil
}

// History entries are "value|timestamp-micros".
func parseHistoryEntry(item string) (Value, error) {
	parts := strings.SplitN(item, "|", 2)
	v, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Value{}, fmt.Errorf("bad value `%s`: %w", parts[0], err)
	}
	out := Value{Value: v}
	if len(parts) == 2 {
		micros, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("bad timestamp `%s`: %w", parts[1], err)
		}
		out.Timestamp = time.UnixMicro(micros).UTC()
	}
	return out, nil
}
