// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sensorlogic/reflex/pkg/program"
	"github.com/sensorlogic/reflex/pkg/store"
	"github.com/sensorlogic/reflex/pkg/temporal"
)

// fakeStore implements Store in memory.
type fakeStore struct {
	mu sync.Mutex

	inputs    map[string]store.Value
	healthy   bool
	master    store.Endpoint
	masterErr error

	readErr    error
	writeErr   error
	publishErr error

	writes    []map[string]float64
	published []Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{inputs: make(map[string]store.Value), healthy: true}
}

func (f *fakeStore) setInput(key string, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs[key] = store.Value{Value: value}
}

func (f *fakeStore) GetAllInputs(ctx context.Context, keys []string) (map[string]store.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make(map[string]store.Value, len(keys))
	for _, k := range keys {
		if v, ok := f.inputs[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeStore) SetOutputs(ctx context.Context, writes map[string]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	cp := make(map[string]float64, len(writes))
	for k, v := range writes {
		cp[k] = v
	}
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeStore) Publish(ctx context.Context, channel, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, Message{Channel: channel, Payload: message})
	return nil
}

func (f *fakeStore) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeStore) SentinelMaster(ctx context.Context) (store.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.master, f.masterErr
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeStore) lastWrites() map[string]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func literal(v float64) *float64 { return &v }

func thresholdProgram(t *testing.T) *program.Program {
	t.Helper()
	doc := &program.Document{Version: 1, Groups: []program.GroupDoc{{
		Index: 0, Layer: 0,
		Rules: []program.RuleDoc{{
			Name: "high_temperature",
			Condition: program.CondDoc{All: []program.CondDoc{
				{Comparison: &program.ComparisonDoc{Source: "input:temperature", Op: ">", Value: 30}},
			}},
			Actions: []program.ActionDoc{
				{Set: &program.SetDoc{Key: "output:high_temperature", Value: literal(1)}},
				{Message: &program.MessageDoc{Channel: "alerts", Message: "too hot"}},
			},
		}},
	}}}
	manifest := program.Manifest{InputSensors: []string{"input:temperature"}}
	p, err := program.New(doc, manifest, nil)
	require.NoError(t, err)
	return p
}

func testEngine(t *testing.T, p *program.Program, st Store) *Engine {
	t.Helper()
	return New(p, st, temporal.NewService(temporal.Options{SamplingPeriod: 100 * time.Millisecond}), Options{
		HostID:      "host-a",
		CyclePeriod: 100 * time.Millisecond,
		Clock:       clock.NewMock(),
		Logger:      zap.NewNop(),
	})
}

func TestRunCycleFiresAndFlushes(t *testing.T) {
	st := newFakeStore()
	st.setInput("input:temperature", 35)
	e := testEngine(t, thresholdProgram(t), st)

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	e.runCycle(context.Background(), start)

	require.Equal(t, 1, st.writeCount())
	assert.Equal(t, map[string]float64{"output:high_temperature": 1}, st.lastWrites())
	assert.Equal(t, []Message{{Channel: "alerts", Payload: "too hot"}}, st.published)

	status := e.Status()
	assert.Equal(t, uint64(1), status.CyclesRun)
	assert.Equal(t, uint64(1), status.RulesFired)
	assert.Equal(t, start, status.LastCycleAt)
}

func TestRunCycleBelowThresholdWritesNothing(t *testing.T) {
	st := newFakeStore()
	st.setInput("input:temperature", 25)
	e := testEngine(t, thresholdProgram(t), st)

	e.runCycle(context.Background(), time.Now().UTC())

	assert.Zero(t, st.writeCount())
	assert.Equal(t, uint64(1), e.Status().CyclesRun)
}

// A derived value written in an early layer is consumed by a later layer
// within the same cycle.
func TestRunCycleReadYourWrite(t *testing.T) {
	doc := &program.Document{Version: 1, Groups: []program.GroupDoc{
		{Index: 0, Layer: 0, Rules: []program.RuleDoc{{
			Name: "producer",
			Condition: program.CondDoc{All: []program.CondDoc{
				{Comparison: &program.ComparisonDoc{Source: "input:temperature", Op: ">", Value: 0}},
			}},
			Actions: []program.ActionDoc{{Set: &program.SetDoc{Key: "output:mid", ValueExpression: "input:temperature * 2"}}},
		}}},
		{Index: 1, Layer: 1, Rules: []program.RuleDoc{{
			Name: "consumer",
			Condition: program.CondDoc{All: []program.CondDoc{
				{Comparison: &program.ComparisonDoc{Source: "output:mid", Op: ">", Value: 50}},
			}},
			Actions: []program.ActionDoc{{Set: &program.SetDoc{Key: "output:alert", Value: literal(1)}}},
		}}},
	}}
	p, err := program.New(doc, program.Manifest{InputSensors: []string{"input:temperature"}}, nil)
	require.NoError(t, err)

	st := newFakeStore()
	st.setInput("input:temperature", 30)
	e := testEngine(t, p, st)

	e.runCycle(context.Background(), time.Now().UTC())

	require.Equal(t, 1, st.writeCount())
	assert.Equal(t, map[string]float64{"output:mid": 60, "output:alert": 1}, st.lastWrites())
}

// A sustained condition only fires once every sample in the trailing
// window satisfies the threshold, which takes several cycles after a dip.
func TestRunCycleSustainedAcrossCycles(t *testing.T) {
	doc := &program.Document{Version: 1, Groups: []program.GroupDoc{{
		Index: 0, Layer: 0,
		Rules: []program.RuleDoc{{
			Name: "sustained_high",
			Condition: program.CondDoc{All: []program.CondDoc{
				{Sustained: &program.SustainedDoc{Source: "input:temperature", Op: ">", Threshold: 30, DurationMS: 300}},
			}},
			Actions: []program.ActionDoc{{Set: &program.SetDoc{Key: "output:alert", Value: literal(1)}}},
		}},
	}}}
	p, err := program.New(doc, program.Manifest{InputSensors: []string{"input:temperature"}}, nil)
	require.NoError(t, err)

	st := newFakeStore()
	e := testEngine(t, p, st)

	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	step := 100 * time.Millisecond

	values := []float64{20, 35, 35, 35, 35}
	var fires []bool
	for i, v := range values {
		st.setInput("input:temperature", v)
		before := st.writeCount()
		e.runCycle(context.Background(), t0.Add(time.Duration(i)*step))
		fires = append(fires, st.writeCount() > before)
	}

	// The dip at t0 stays inside the 300ms window through the fourth
	// cycle; only the fifth sees an all-high window.
	assert.Equal(t, []bool{false, false, false, false, true}, fires)
}

func TestRunCycleInputFailureSkipsCycle(t *testing.T) {
	st := newFakeStore()
	st.readErr = errors.New("connection refused")
	e := testEngine(t, thresholdProgram(t), st)

	e.runCycle(context.Background(), time.Now().UTC())

	assert.Zero(t, st.writeCount())
	assert.Zero(t, e.Status().CyclesRun)
}

// A failed flush discards the batch; the cycle still counts and nothing
// is retried.
func TestRunCycleFlushFailureDiscards(t *testing.T) {
	st := newFakeStore()
	st.setInput("input:temperature", 35)
	st.writeErr = errors.New("write timeout")
	e := testEngine(t, thresholdProgram(t), st)

	e.runCycle(context.Background(), time.Now().UTC())

	status := e.Status()
	assert.Equal(t, uint64(1), status.CyclesRun)
	assert.Equal(t, uint64(1), status.FlushFailures)
	assert.Zero(t, st.writeCount())
}

func TestRunCycleCancelledSkipsFlush(t *testing.T) {
	st := newFakeStore()
	st.setInput("input:temperature", 35)
	e := testEngine(t, thresholdProgram(t), st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.runCycle(ctx, time.Now().UTC())

	assert.Zero(t, st.writeCount())
	assert.Zero(t, e.Status().CyclesRun)
}

func TestRunCycleDegradedRuleCounts(t *testing.T) {
	st := newFakeStore() // no inputs at all
	e := testEngine(t, thresholdProgram(t), st)

	e.runCycle(context.Background(), time.Now().UTC())

	status := e.Status()
	assert.Equal(t, uint64(1), status.DegradedRules)
	assert.Zero(t, status.RulesFired)
	assert.Zero(t, st.writeCount())
}

// A fired rule whose value expression divides by zero drops the write
// and the engine counts it.
func TestRunCycleNonFiniteWriteCounts(t *testing.T) {
	doc := &program.Document{Version: 1, Groups: []program.GroupDoc{{
		Index: 0, Layer: 0,
		Rules: []program.RuleDoc{{
			Name: "bad_ratio",
			Condition: program.CondDoc{All: []program.CondDoc{
				{Comparison: &program.ComparisonDoc{Source: "input:temperature", Op: ">", Value: 0}},
			}},
			Actions: []program.ActionDoc{{Set: &program.SetDoc{Key: "output:ratio", ValueExpression: "input:temperature / 0"}}},
		}},
	}}}
	p, err := program.New(doc, program.Manifest{InputSensors: []string{"input:temperature"}}, nil)
	require.NoError(t, err)

	st := newFakeStore()
	st.setInput("input:temperature", 35)
	e := testEngine(t, p, st)

	e.runCycle(context.Background(), time.Now().UTC())

	status := e.Status()
	assert.Equal(t, uint64(1), status.RulesFired)
	assert.Equal(t, uint64(1), status.SkippedWrites)
	assert.Zero(t, st.writeCount())
}

func TestCheckStateStandbyWhenNotMaster(t *testing.T) {
	st := newFakeStore()
	st.master = store.Endpoint{Host: "host-b", Port: "6379"}
	e := testEngine(t, thresholdProgram(t), st)

	e.checkState(context.Background())
	assert.False(t, e.Active())
}

func TestCheckStateStandbyWhenUnhealthy(t *testing.T) {
	st := newFakeStore()
	st.master = store.Endpoint{Host: "host-a", Port: "6379"}
	st.healthy = false
	e := testEngine(t, thresholdProgram(t), st)

	e.checkState(context.Background())
	assert.False(t, e.Active())
}

func TestCheckStateStandbyOnSentinelError(t *testing.T) {
	st := newFakeStore()
	st.masterErr = errors.New("sentinel down")
	e := testEngine(t, thresholdProgram(t), st)

	e.checkState(context.Background())
	assert.False(t, e.Active())
}

// Failover round trip: standby, promoted to master, demoted again. The
// demotion waits for the in-flight cycle before going standby.
func TestCheckStateFailover(t *testing.T) {
	st := newFakeStore()
	st.setInput("input:temperature", 35)
	st.master = store.Endpoint{Host: "host-b", Port: "6379"}
	e := testEngine(t, thresholdProgram(t), st)

	ctx := context.Background()
	e.checkState(ctx)
	assert.False(t, e.Active())

	st.mu.Lock()
	st.master = store.Endpoint{Host: "host-a", Port: "6379"}
	st.mu.Unlock()
	e.checkState(ctx)
	assert.True(t, e.Active())

	// The cycle loop runs its first cycle immediately.
	assert.Eventually(t, func() bool { return st.writeCount() >= 1 },
		2*time.Second, 10*time.Millisecond)

	st.mu.Lock()
	st.master = store.Endpoint{Host: "host-b", Port: "6379"}
	st.mu.Unlock()
	e.checkState(ctx)
	assert.False(t, e.Active())

	// No cycles run while standby.
	writes := st.writeCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, writes, st.writeCount())
}

func TestBatchLastWriteWins(t *testing.T) {
	b := NewBatch()
	b.SetValue("output:x", 1)
	b.SetValue("output:x", 2)
	b.SetValue("output:y", 3)
	b.SendMessage("alerts", "first")
	b.SendMessage("alerts", "second")

	assert.Equal(t, map[string]float64{"output:x": 2, "output:y": 3}, b.Writes())
	assert.Equal(t, []Message{
		{Channel: "alerts", Payload: "first"},
		{Channel: "alerts", Payload: "second"},
	}, b.Messages())
}

func TestExecutorFlushWriteFailureSkipsMessages(t *testing.T) {
	st := newFakeStore()
	st.writeErr = errors.New("write failed")
	x := NewExecutor(st, nil, nil)

	b := NewBatch()
	b.SetValue("output:x", 1)
	b.SendMessage("alerts", "never sent")

	require.Error(t, x.Flush(context.Background(), b))
	assert.Empty(t, st.published)
}

func TestExecutorFlushPublishFailureIsNotFatal(t *testing.T) {
	st := newFakeStore()
	st.publishErr = errors.New("channel gone")
	x := NewExecutor(st, nil, nil)

	b := NewBatch()
	b.SetValue("output:x", 1)
	b.SendMessage("alerts", "dropped")

	require.NoError(t, x.Flush(context.Background(), b))
	assert.Equal(t, 1, st.writeCount())
}

func TestExecutorFlushEmptyBatch(t *testing.T) {
	st := newFakeStore()
	x := NewExecutor(st, nil, nil)

	require.NoError(t, x.Flush(context.Background(), NewBatch()))
	assert.Zero(t, st.writeCount())
	assert.Empty(t, st.published)
}
