// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package rules

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/sensorlogic/reflex/pkg/expr"
)

// ValidationConfig carries the system-config side of validation.
type ValidationConfig struct {
	// ValidSensors are the externally declared sensor keys.
	ValidSensors []string

	// SamplingPeriod is the temporal buffer sampling period, used to bound
	// threshold-over-time point counts.
	SamplingPeriod time.Duration

	// MaxTemporalPoints rejects windows demanding more samples than this.
	// Zero means DefaultMaxTemporalPoints.
	MaxTemporalPoints int

	// Cache is the shared compiled-expression cache. Optional.
	Cache *expr.Cache
}

// DefaultMaxTemporalPoints bounds ceil(duration/sampling period) per
// temporal condition.
const DefaultMaxTemporalPoints = 10000

// Result aggregates validation findings. Errors are never partial: any
// error aborts emission, warnings do not.
type Result struct {
	errs     *multierror.Error
	warnings []string

	// Graph is the dependency graph when it could be built, nil otherwise.
	Graph *Graph
}

// Ok reports whether validation passed.
func (r *Result) Ok() bool { return r.errs.ErrorOrNil() == nil }

// Err returns the aggregated error list, or nil.
func (r *Result) Err() error { return r.errs.ErrorOrNil() }

// Errors returns the individual errors.
func (r *Result) Errors() []error {
	if r.errs == nil {
		return nil
	}
	return r.errs.Errors
}

// Warnings returns non-fatal findings.
func (r *Result) Warnings() []string { return r.warnings }

func (r *Result) addError(err error) {
	r.errs = multierror.Append(r.errs, err)
}

func (r *Result) addWarning(format string, a ...interface{}) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, a...))
}

// Validate checks a parsed rule file against the system config. All
// findings are aggregated; the first structural pass already ran in the
// parser, so Validate concentrates on semantics: version, name
// uniqueness, sensor references, operator sets, expression types,
// temporal windows, producer uniqueness and graph acyclicity.
func Validate(file *RuleFile, cfg ValidationConfig) *Result {
	res := &Result{}
	cache := cfg.Cache
	if cache == nil {
		cache = expr.NewCache()
	}
	maxPoints := cfg.MaxTemporalPoints
	if maxPoints <= 0 {
		maxPoints = DefaultMaxTemporalPoints
	}

	if file.Version != SupportedVersion {
		res.addError(&ErrUnsupportedVersion{Version: file.Version})
	}

	seen := make(map[string]struct{}, len(file.Rules))
	for _, rule := range file.Rules {
		if rule.Name == "" {
			res.addError(&ErrRuleLoad{Rule: rule.Name, Err: ErrRuleWithoutName})
			continue
		}
		if _, dup := seen[rule.Name]; dup {
			res.addError(&ErrDuplicateRuleName{Name: rule.Name})
		}
		seen[rule.Name] = struct{}{}

		if rule.Conditions.Empty() {
			res.addError(&ErrRuleLoad{Rule: rule.Name, Err: ErrRuleWithoutConditions})
		}
		if len(rule.Actions) == 0 {
			res.addError(&ErrRuleLoad{Rule: rule.Name, Err: ErrRuleWithoutActions})
		}
	}

	// Known keys: declared sensors plus everything produced by some rule.
	known := make(map[string]struct{}, len(cfg.ValidSensors))
	for _, s := range cfg.ValidSensors {
		known[s] = struct{}{}
	}
	produced := make(map[string]struct{})
	for _, rule := range file.Rules {
		for _, key := range RuleOutputs(rule) {
			known[key] = struct{}{}
			produced[key] = struct{}{}
		}
	}

	for _, rule := range file.Rules {
		validateRule(rule, known, produced, cache, cfg.SamplingPeriod, maxPoints, res)
	}

	if !res.Ok() {
		return res
	}

	graph, err := BuildGraph(file.Rules, cache)
	if err != nil {
		res.addError(err)
		return res
	}
	res.Graph = graph

	for key, producers := range graph.Producers {
		if len(producers) > 1 {
			res.addError(&ErrDuplicateProducer{Key: key, Rules: producers})
		}
	}
	return res
}

func validateRule(rule *RuleDefinition, known, produced map[string]struct{}, cache *expr.Cache, sampling time.Duration, maxPoints int, res *Result) {
	_ = WalkConditions(rule.Conditions, func(n *ConditionNode) error {
		if !n.IsLeaf() {
			return nil
		}
		switch c := n.Condition; {
		case c.Comparison != nil:
			if _, ok := comparisonOps[c.Comparison.Op]; !ok {
				res.addError(&ErrInvalidOperator{Rule: rule.Name, Kind: ComparisonKind, Op: c.Comparison.Op})
			}
			if _, ok := known[c.Comparison.Source]; !ok {
				res.addError(&ErrUnknownSensor{Rule: rule.Name, Sensor: c.Comparison.Source})
			}
		case c.ThresholdOverTime != nil:
			t := c.ThresholdOverTime
			if _, ok := temporalOps[t.Op]; !ok {
				res.addError(&ErrInvalidOperator{Rule: rule.Name, Kind: ThresholdOverTimeKind, Op: t.Op})
			}
			if _, ok := known[t.Source]; !ok {
				res.addError(&ErrUnknownSensor{Rule: rule.Name, Sensor: t.Source})
			}
			if _, ok := produced[t.Source]; ok {
				// Temporal buffers only sample the fetched input sensors, so
				// a window over a rule-produced key stays empty forever.
				res.addWarning("rule `%s` applies threshold_over_time to `%s`, which is produced by a rule; only externally produced sensors are sampled, so this condition will never hold", rule.Name, t.Source)
			}
			if t.DurationMS <= 0 {
				res.addError(&ErrTemporalWindow{Rule: rule.Name, Source: t.Source, DurationMS: t.DurationMS})
			} else if sampling > 0 {
				points := int((time.Duration(t.DurationMS)*time.Millisecond + sampling - 1) / sampling)
				if points > maxPoints {
					res.addError(&ErrTemporalWindow{
						Rule: rule.Name, Source: t.Source, DurationMS: t.DurationMS,
						Points: points, MaxPoints: maxPoints,
					})
				}
			}
		case c.Expression != nil:
			validateExpression(rule, c.Expression.Expr, expr.KindBool, known, cache, res)
		}
		return nil
	})

	written := make(map[string]int)
	for _, a := range rule.Actions {
		if a.SetValue == nil {
			continue
		}
		written[a.SetValue.Key]++
		if a.SetValue.ValueExpression != "" {
			validateExpression(rule, a.SetValue.ValueExpression, expr.KindNum, known, cache, res)
		}
	}
	for key, count := range written {
		if count > 1 {
			res.addWarning("rule `%s` writes `%s` %d times in one cycle; the last write wins", rule.Name, key, count)
		}
	}
}

func validateExpression(rule *RuleDefinition, source string, want expr.Kind, known map[string]struct{}, cache *expr.Cache, res *Result) {
	compiled, err := cache.Get(source)
	if err != nil {
		res.addError(&ErrInvalidExpression{Rule: rule.Name, Expression: source, Err: err})
		return
	}
	if compiled.Kind() != want {
		res.addError(&ErrInvalidExpression{
			Rule: rule.Name, Expression: source,
			Err: fmt.Errorf("expression is %s, expected %s", compiled.Kind(), want),
		})
		return
	}
	for _, id := range compiled.Identifiers() {
		if _, ok := known[id]; !ok {
			res.addError(&ErrUnknownSensor{Rule: rule.Name, Sensor: id})
		}
	}
}

// BufferCapacities derives per-sensor ring capacities from the temporal
// demand of the rule set: ceil(max window / sampling period) plus margin.
func BufferCapacities(ruleDefs []*RuleDefinition, sampling time.Duration, margin int) map[string]int {
	out := make(map[string]int)
	if sampling <= 0 {
		return out
	}
	for sensor, window := range TemporalDemand(ruleDefs) {
		points := int((window + sampling - 1) / sampling)
		out[sensor] = points + margin
	}
	return out
}
