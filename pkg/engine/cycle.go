// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package engine

import (
	"context"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/sensorlogic/reflex/pkg/program"
)

// cycleLoop runs cycles back to back on the configured cadence while the
// engine is active. The inter-cycle sleep accounts for evaluation time;
// an overrunning cycle logs a warning and the next cycle starts
// immediately.
func (e *Engine) cycleLoop(ctx context.Context) {
	defer close(e.cycleDone)

	for {
		if ctx.Err() != nil {
			return
		}
		start := e.clock.Now().UTC()
		e.runCycle(ctx, start)

		elapsed := e.clock.Since(start)
		if elapsed >= e.opts.CyclePeriod {
			e.log.Warn("cycle overran its period",
				zap.Duration("elapsed", elapsed),
				zap.Duration("period", e.opts.CyclePeriod))
			e.metrics.CycleOverruns.Inc()
			continue
		}
		if !sleepAborted(ctx, e.clock, e.opts.CyclePeriod-elapsed) {
			return
		}
	}
}

// runCycle performs one evaluation cycle: read inputs, feed the temporal
// buffers, run the program and flush the pending batch. Errors degrade
// the cycle, never the loop.
func (e *Engine) runCycle(ctx context.Context, start time.Time) {
	current, err := e.store.GetAllInputs(ctx, e.program.Manifest.InputSensors)
	if err != nil {
		if ctx.Err() == nil && e.throttle.Allow("read_inputs") {
			e.log.Warn("input read failed, skipping cycle", zap.Error(err))
		}
		return
	}

	values := make(map[string]float64, len(current))
	for key, v := range current {
		values[key] = v.Value
		e.temporal.Update(key, v.Value, start)
	}

	batch := NewBatch()
	env := &program.Env{
		Values:      values,
		Temporal:    e.temporal,
		Sink:        batch,
		Now:         start,
		Parallelism: e.opts.Parallelism,
		OnFired: func(string) {
			e.metrics.RulesFired.Inc()
			e.mu.Lock()
			e.status.RulesFired++
			e.mu.Unlock()
		},
		OnSkippedWrite: func(rule, key string) {
			e.metrics.SkippedWrites.Inc()
			e.mu.Lock()
			e.status.SkippedWrites++
			e.mu.Unlock()
			if e.throttle.Allow("skipped_write:" + rule) {
				e.log.Warn("write skipped, value unresolved or not finite",
					zap.String("rule", rule),
					zap.String("key", key))
			}
		},
		OnDegraded: func(rule string, missing []string) {
			e.metrics.EvalErrors.Inc()
			e.mu.Lock()
			e.status.DegradedRules++
			e.mu.Unlock()
			if e.throttle.Allow("degraded:" + rule) {
				e.log.Warn("rule degraded to false",
					zap.String("rule", rule),
					zap.String("missing", strings.Join(missing, ",")))
			}
		},
	}

	if err := e.program.Evaluate(ctx, env); err != nil {
		// Cancelled mid-evaluation. The pending batch is discarded whole,
		// so no partial writes ever reach the store.
		return
	}
	if ctx.Err() != nil {
		return
	}

	if err := e.executor.Flush(ctx, batch); err != nil {
		e.mu.Lock()
		e.status.FlushFailures++
		e.mu.Unlock()
	}

	duration := e.clock.Since(start)
	e.metrics.CyclesTotal.Inc()
	e.metrics.CycleDuration.Observe(duration.Seconds())

	e.mu.Lock()
	e.status.CyclesRun++
	e.status.LastCycleAt = start
	e.status.LastCycleDuration = duration
	e.mu.Unlock()
}

// sleepAborted sleeps for d unless ctx is done first; it reports whether
// the full sleep completed.
func sleepAborted(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
