// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "system.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
store:
  addr: localhost:6379
`))
	require.NoError(t, err)

	assert.Equal(t, SupportedVersion, cfg.Version)
	assert.Equal(t, time.Second, cfg.CyclePeriod())
	assert.Equal(t, 100*time.Millisecond, cfg.SamplingPeriod())
	assert.Equal(t, 100*time.Millisecond, cfg.StateCheckInterval())
	assert.Equal(t, 100, cfg.BufferCapacity)
	assert.Equal(t, 10, cfg.BufferMargin)
	assert.Equal(t, 10000, cfg.MaxTemporalPoints)
	assert.Equal(t, 25, cfg.Compiler.MaxRulesPerGroup)
	assert.Equal(t, 400, cfg.Compiler.MaxSourceLinesPerGroup)
	assert.NotEmpty(t, cfg.HostID, "host id defaults to the hostname")
}

func TestLoadFull(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
version: 1
valid_sensors:
  - input:temperature
  - input:humidity
cycle_time_ms: 500
sampling_period_ms: 50
buffer_capacity: 200
buffer_margin: 20
parallelism: 8
host_id: engine-a
compiler:
  max_rules_per_group: 10
store:
  master_name: mymaster
  sentinel_addrs: [s1:26379, s2:26379]
  pool_size: 8
  op_timeout_ms: 250
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"input:temperature", "input:humidity"}, cfg.ValidSensors)
	assert.Equal(t, 500*time.Millisecond, cfg.CyclePeriod())
	assert.Equal(t, 50*time.Millisecond, cfg.SamplingPeriod())
	assert.Equal(t, 8, cfg.Parallelism)
	assert.Equal(t, "engine-a", cfg.HostID)
	assert.Equal(t, 10, cfg.Compiler.MaxRulesPerGroup)
	assert.Equal(t, 400, cfg.Compiler.MaxSourceLinesPerGroup)
	assert.Equal(t, "mymaster", cfg.Store.MasterName)
	assert.Equal(t, []string{"s1:26379", "s2:26379"}, cfg.Store.SentinelAddrs)
	assert.Equal(t, 8, cfg.Store.PoolSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Store.OpTimeout())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unsupported version",
			doc: `
version: 2
store:
  addr: localhost:6379
`,
			want: "unsupported config version",
		},
		{
			name: "non-positive cycle time",
			doc: `
cycle_time_ms: 0
store:
  addr: localhost:6379
`,
			want: "cycle_time_ms",
		},
		{
			name: "non-positive sampling period",
			doc: `
sampling_period_ms: -1
store:
  addr: localhost:6379
`,
			want: "sampling_period_ms",
		},
		{
			name: "no store address",
			doc:  "version: 1\n",
			want: "either `addr` or `sentinel_addrs`",
		},
		{
			name: "sentinel without master name",
			doc: `
store:
  sentinel_addrs: [s1:26379]
`,
			want: "master_name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
