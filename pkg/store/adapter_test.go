// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatValueRoundTrips(t *testing.T) {
	for _, v := range []float64{0, 1, -1, 0.1, 1e-9, 12345.6789, 1.7976931348623157e308} {
		raw := formatValue(v)
		got, err := parseRecord(map[string]string{valueField: raw})
		require.NoError(t, err, raw)
		assert.Equal(t, v, got.Value, raw)
	}
}

func TestParseRecord(t *testing.T) {
	v, err := parseRecord(map[string]string{
		valueField:     "36.5",
		timestampField: "1717243200000000",
	})
	require.NoError(t, err)
	assert.Equal(t, 36.5, v.Value)
	assert.Equal(t, time.UnixMicro(1717243200000000).UTC(), v.Timestamp)

	t.Run("missing value field", func(t *testing.T) {
		_, err := parseRecord(map[string]string{timestampField: "1"})
		require.Error(t, err)
	})
	t.Run("bad value", func(t *testing.T) {
		_, err := parseRecord(map[string]string{valueField: "not-a-number"})
		require.Error(t, err)
	})
	t.Run("bad timestamp", func(t *testing.T) {
		_, err := parseRecord(map[string]string{valueField: "1", timestampField: "later"})
		require.Error(t, err)
	})
	t.Run("timestamp optional", func(t *testing.T) {
		v, err := parseRecord(map[string]string{valueField: "2"})
		require.NoError(t, err)
		assert.True(t, v.Timestamp.IsZero())
	})
}

func TestParseHistoryEntry(t *testing.T) {
	v, err := parseHistoryEntry("21.5|1717243200000000")
	require.NoError(t, err)
	assert.Equal(t, 21.5, v.Value)
	assert.Equal(t, time.UnixMicro(1717243200000000).UTC(), v.Timestamp)

	v, err = parseHistoryEntry("3.25")
	require.NoError(t, err)
	assert.Equal(t, 3.25, v.Value)
	assert.True(t, v.Timestamp.IsZero())

	_, err = parseHistoryEntry("nope|123")
	require.Error(t, err)
	_, err = parseHistoryEntry("1|nope")
	require.Error(t, err)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	transient := []error{
		timeoutErr{},
		context.DeadlineExceeded,
		io.EOF,
		io.ErrUnexpectedEOF,
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.EPIPE,
		syscall.ETIMEDOUT,
		&net.OpError{Op: "dial", Err: errors.New("refused")},
		fmt.Errorf("write: %w", syscall.EPIPE),
	}
	for _, err := range transient {
		assert.True(t, isTransient(err), "%v should be transient", err)
	}

	permanent := []error{
		errors.New("WRONGTYPE Operation against a key holding the wrong kind of value"),
		errors.New("NOAUTH Authentication required"),
		context.Canceled,
	}
	for _, err := range permanent {
		assert.False(t, isTransient(err), "%v should be permanent", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Addr: "localhost:6379"}.withDefaults()
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout())
	assert.Equal(t, time.Second, cfg.OpTimeout())
	assert.Equal(t, DefaultRetryCount, cfg.RetryCount)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBaseDelay())
	assert.Equal(t, time.Second, cfg.HealthInterval())
	assert.Equal(t, time.Minute, cfg.ErrorThrottleWindow())
}

func TestConfigExplicitValuesKept(t *testing.T) {
	cfg := Config{
		Addr:             "localhost:6379",
		PoolSize:         12,
		OpTimeoutMS:      250,
		RetryCount:       7,
		HealthIntervalMS: 5000,
	}.withDefaults()
	assert.Equal(t, 12, cfg.PoolSize)
	assert.Equal(t, 250*time.Millisecond, cfg.OpTimeout())
	assert.Equal(t, 7, cfg.RetryCount)
	assert.Equal(t, 5*time.Second, cfg.HealthInterval())
}

func TestAddrsSelection(t *testing.T) {
	direct := Config{Addr: "localhost:6379"}
	assert.Equal(t, []string{"localhost:6379"}, addrs(direct))

	sentinel := Config{
		MasterName:    "mymaster",
		SentinelAddrs: []string{"s1:26379", "s2:26379"},
	}
	assert.Equal(t, []string{"s1:26379", "s2:26379"}, addrs(sentinel))
}

func TestEndpointString(t *testing.T) {
	assert.Equal(t, "10.0.0.5:6379", Endpoint{Host: "10.0.0.5", Port: "6379"}.String())
}

func TestSentinelMasterUnconfigured(t *testing.T) {
	a := New(Config{Addr: "localhost:6379"}, nil)
	defer a.Close()

	_, err := a.SentinelMaster(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sentinel")
}

func TestHealthyBeforeFirstCheck(t *testing.T) {
	a := New(Config{Addr: "localhost:6379"}, nil)
	defer a.Close()

	assert.False(t, a.Healthy())
}

func TestGetAllInputsNoKeys(t *testing.T) {
	a := New(Config{Addr: "localhost:6379"}, nil)
	defer a.Close()

	out, err := a.GetAllInputs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSetOutputsEmptyIsNoop(t *testing.T) {
	a := New(Config{Addr: "localhost:6379"}, nil)
	defer a.Close()

	assert.NoError(t, a.SetOutputs(context.Background(), nil))
}
