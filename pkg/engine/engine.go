// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

// Package engine drives rule evaluation: a fixed-cadence cycle scheduler
// with sentinel-driven active/standby state management and a batching
// action executor.
package engine

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/sensorlogic/reflex/pkg/logthrottle"
	"github.com/sensorlogic/reflex/pkg/program"
	"github.com/sensorlogic/reflex/pkg/store"
	"github.com/sensorlogic/reflex/pkg/telemetry"
	"github.com/sensorlogic/reflex/pkg/temporal"
)

// Store is the engine-facing surface of the store adapter.
type Store interface {
	GetAllInputs(ctx context.Context, keys []string) (map[string]store.Value, error)
	SetOutputs(ctx context.Context, writes map[string]float64) error
	Publish(ctx context.Context, channel, message string) error
	Healthy() bool
	SentinelMaster(ctx context.Context) (store.Endpoint, error)
}

// Options configures an Engine.
type Options struct {
	// HostID is this instance's host identifier; the engine is active
	// only while it equals the sentinel-reported master host.
	HostID string

	// CyclePeriod is the evaluation cadence.
	CyclePeriod time.Duration

	// StateCheckInterval is the active/standby poll period. Zero means
	// 100ms.
	StateCheckInterval time.Duration

	// Parallelism bounds concurrent rule evaluations per group. Zero
	// means the number of CPUs.
	Parallelism int

	// ThrottleWindow suppresses repeated evaluation warnings per key.
	ThrottleWindow time.Duration

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	Active            bool
	CyclesRun         uint64
	RulesFired        uint64
	FlushFailures     uint64
	DegradedRules     uint64
	SkippedWrites     uint64
	LastCycleAt       time.Time
	LastCycleDuration time.Duration
}

// Engine evaluates a compiled program against the store on a fixed
// cadence while this instance is the active one.
type Engine struct {
	opts     Options
	store    Store
	program  *program.Program
	temporal *temporal.Service
	executor *Executor

	clock    clock.Clock
	log      *zap.Logger
	metrics  *telemetry.Metrics
	throttle *logthrottle.Throttler

	active atomic.Bool

	// cycle loop lifecycle, owned by the state manager goroutine
	cycleCancel context.CancelFunc
	cycleDone   chan struct{}

	mu     sync.Mutex
	status Status
}

// New builds an engine. prog, st and tb are required.
func New(prog *program.Program, st Store, tb *temporal.Service, opts Options) *Engine {
	if opts.StateCheckInterval <= 0 {
		opts.StateCheckInterval = 100 * time.Millisecond
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.New(nil)
	}

	e := &Engine{
		opts:     opts,
		store:    st,
		program:  prog,
		temporal: tb,
		clock:    opts.Clock,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		throttle: logthrottle.New(opts.ThrottleWindow),
	}
	e.executor = NewExecutor(st, e.log, e.metrics)
	return e
}

// Run polls the active/standby state until ctx is done, starting and
// stopping the cycle loop on transitions. It always returns nil after a
// clean shutdown; the terminal state is stopped.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine started",
		zap.String("host_id", e.opts.HostID),
		zap.Duration("cycle_period", e.opts.CyclePeriod),
		zap.Int("rules", e.program.Rules()),
		zap.Int("groups", e.program.Groups()))

	ticker := e.clock.Ticker(e.opts.StateCheckInterval)
	defer ticker.Stop()

	e.checkState(ctx)
	for {
		select {
		case <-ctx.Done():
			e.deactivate()
			e.log.Info("engine stopped")
			return nil
		case <-ticker.C:
			e.checkState(ctx)
		}
	}
}

// Active reports whether this instance currently drives cycles.
func (e *Engine) Active() bool {
	return e.active.Load()
}

// Status returns a snapshot of the engine counters.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.status
	st.Active = e.active.Load()
	return st
}

// checkState recomputes the active/standby state: active iff the
// sentinel-reported master host equals our host id and the store
// connection is healthy.
func (e *Engine) checkState(ctx context.Context) {
	desired := false
	master, err := e.store.SentinelMaster(ctx)
	switch {
	case err != nil:
		if e.throttle.Allow("sentinel") {
			e.log.Warn("sentinel master lookup failed", zap.Error(err))
		}
	case master.Host == e.opts.HostID && e.store.Healthy():
		desired = true
	}

	if desired == e.active.Load() {
		return
	}
	if desired {
		e.activate(ctx, master)
		return
	}
	e.log.Info("engine going standby", zap.String("master_host", master.Host))
	e.deactivate()
}

func (e *Engine) activate(ctx context.Context, master store.Endpoint) {
	e.log.Info("engine going active", zap.String("master", master.String()))
	cycleCtx, cancel := context.WithCancel(ctx)
	e.cycleCancel = cancel
	e.cycleDone = make(chan struct{})
	e.active.Store(true)
	e.metrics.Active.Set(1)
	go e.cycleLoop(cycleCtx)
}

// deactivate stops the cycle loop and waits for the in-flight cycle to
// complete. Safe to call when already standby.
func (e *Engine) deactivate() {
	if !e.active.Load() {
		return
	}
	e.cycleCancel()
	<-e.cycleDone
	e.cycleCancel = nil
	e.cycleDone = nil
	e.active.Store(false)
	e.metrics.Active.Set(0)
}
