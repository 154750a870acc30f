// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package program

import (
	"context"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sensorlogic/reflex/pkg/temporal"
)

// Sink receives the effects of fired rules. The engine backs it with the
// per-cycle pending map and message list.
type Sink interface {
	SetValue(key string, value float64)
	SendMessage(channel, message string)
}

// Env is the evaluation environment of one cycle.
type Env struct {
	// Values are the current sensor values at cycle start. Evaluate never
	// mutates the map.
	Values map[string]float64

	// Temporal serves threshold-over-time windows. May be nil when the
	// program has no sustained conditions.
	Temporal temporal.Reader

	// Sink collects writes and messages of fired rules.
	Sink Sink

	// Now is the cycle timestamp.
	Now time.Time

	// Parallelism bounds concurrent rule evaluations inside one group.
	// Zero means runtime.NumCPU().
	Parallelism int

	// OnDegraded is called when a rule evaluation was degraded to false
	// or a write skipped because identifiers were missing. Optional.
	OnDegraded func(rule string, missing []string)

	// OnSkippedWrite is called when a fired rule's write was dropped,
	// either for unresolved identifiers or a non-finite result. Optional.
	OnSkippedWrite func(rule, key string)

	// OnFired is called for every fired rule. Optional.
	OnFired func(rule string)
}

// ruleOutcome is the staged effect of one rule, applied after the group's
// concurrent phase so that application order is declaration order.
type ruleOutcome struct {
	fired   bool
	missing []string
	writes  []stagedWrite
	msgs    []stagedMessage
}

type stagedWrite struct {
	key   string
	value float64
	skip  bool // value expression had missing identifiers
}

type stagedMessage struct {
	channel string
	message string
}

// Evaluate is the coordinator: it runs every group in index order. Rules
// inside one group evaluate concurrently against a read-only view frozen
// at the group boundary; their effects apply sequentially in declaration
// order, so repeated evaluation with equal inputs is deterministic. Each
// layer observes the writes of all previous layers through the view.
//
// A rule that fails to resolve its identifiers degrades to not-fired and
// never affects the other rules. Evaluate returns early with ctx.Err()
// between groups when cancelled; in-flight rule evaluations complete
// first.
func (p *Program) Evaluate(ctx context.Context, env *Env) error {
	parallelism := env.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	view := make(map[string]float64, len(env.Values))
	for k, v := range env.Values {
		view[k] = v
	}

	sem := semaphore.NewWeighted(int64(parallelism))
	for _, g := range p.groups {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcomes := make([]ruleOutcome, len(g.rules))
		eg := new(errgroup.Group)
		for i, r := range g.rules {
			if err := sem.Acquire(ctx, 1); err != nil {
				// Cancelled mid-group: wait for in-flight rules, then stop.
				_ = eg.Wait()
				return err
			}
			i, r := i, r
			eg.Go(func() error {
				defer sem.Release(1)
				outcomes[i] = evaluateRule(r, view, env)
				return nil
			})
		}
		_ = eg.Wait()

		for i, r := range g.rules {
			out := &outcomes[i]
			if len(out.missing) > 0 && env.OnDegraded != nil {
				env.OnDegraded(r.name, out.missing)
			}
			if !out.fired {
				continue
			}
			if env.OnFired != nil {
				env.OnFired(r.name)
			}
			for _, w := range out.writes {
				if w.skip {
					if env.OnSkippedWrite != nil {
						env.OnSkippedWrite(r.name, w.key)
					}
					continue
				}
				view[w.key] = w.value
				if env.Sink != nil {
					env.Sink.SetValue(w.key, w.value)
				}
			}
			for _, m := range out.msgs {
				if env.Sink != nil {
					env.Sink.SendMessage(m.channel, m.message)
				}
			}
		}
	}
	return nil
}

// evaluateRule runs one rule against the frozen view and stages its
// effects. It only reads shared state.
func evaluateRule(r *rule, view map[string]float64, env *Env) ruleOutcome {
	ec := &evalContext{values: view, temporal: env.Temporal, now: env.Now}
	fired := r.cond(ec)
	out := ruleOutcome{fired: fired, missing: ec.missing}
	if len(ec.missing) > 0 {
		out.fired = false
		return out
	}
	if !fired {
		return out
	}

	for _, a := range r.acts {
		switch {
		case a.setKey != "":
			w := stagedWrite{key: a.setKey}
			if a.valueExpr != nil {
				v, missing := a.valueExpr.EvalNum(view)
				if len(missing) > 0 || math.IsNaN(v) || math.IsInf(v, 0) {
					w.skip = true
					out.missing = append(out.missing, missing...)
				} else {
					w.value = v
				}
			} else if a.literal != nil {
				w.value = *a.literal
			}
			out.writes = append(out.writes, w)
		case a.channel != "":
			out.msgs = append(out.msgs, stagedMessage{channel: a.channel, message: a.message})
		}
	}
	return out
}
