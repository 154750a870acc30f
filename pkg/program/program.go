// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package program

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/sensorlogic/reflex/pkg/expr"
	"github.com/sensorlogic/reflex/pkg/temporal"
)

// Program is the loaded executable form: flat groups of compiled rules.
// A Program is immutable after New and safe for concurrent evaluation.
type Program struct {
	Manifest Manifest
	groups   []*group

	// temporalDemand is the longest sustained window per sensor, recorded
	// at load time so the runtime can size its ring buffers.
	temporalDemand map[string]time.Duration
}

type group struct {
	index int
	layer int
	rules []*rule
}

type rule struct {
	name string
	cond condFn
	acts []action
}

// condFn evaluates a compiled condition. missing collects unresolved
// identifiers; a non-nil return with ok=false and missing keys means the
// rule was degraded, not an error.
type condFn func(ec *evalContext) bool

type action struct {
	// set action
	setKey    string
	literal   *float64
	valueExpr *expr.Compiled

	// message action
	channel string
	message string
}

type evalContext struct {
	values   map[string]float64
	temporal temporal.Reader
	now      time.Time
	missing  []string
}

func (ec *evalContext) lookup(key string) (float64, bool) {
	v, ok := ec.values[key]
	if !ok {
		ec.missing = append(ec.missing, key)
	}
	return v, ok
}

// New compiles a Document into a runnable Program. Every expression is
// compiled through cache, so the runtime shares one compiled form per
// expression string. cache may be nil.
func New(doc *Document, manifest Manifest, cache *expr.Cache) (*Program, error) {
	if cache == nil {
		cache = expr.NewCache()
	}

	p := &Program{
		Manifest:       manifest,
		temporalDemand: make(map[string]time.Duration),
	}
	lastIndex := -1
	lastLayer := 0
	for _, gd := range doc.Groups {
		if gd.Index <= lastIndex {
			return nil, fmt.Errorf("group indices must increase: %d after %d", gd.Index, lastIndex)
		}
		if gd.Layer < lastLayer {
			return nil, fmt.Errorf("group %d: layer %d after layer %d", gd.Index, gd.Layer, lastLayer)
		}
		lastIndex, lastLayer = gd.Index, gd.Layer

		g := &group{index: gd.Index, layer: gd.Layer}
		for i := range gd.Rules {
			r, err := compileRule(&gd.Rules[i], cache)
			if err != nil {
				return nil, err
			}
			g.rules = append(g.rules, r)
			collectDemand(&gd.Rules[i].Condition, p.temporalDemand)
		}
		p.groups = append(p.groups, g)
	}
	return p, nil
}

// Load reads and compiles the artifact in dir.
func Load(dir string, cache *expr.Cache) (*Program, error) {
	var doc Document
	if err := readJSON(filepath.Join(dir, ProgramFileName), &doc); err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := readJSON(filepath.Join(dir, ManifestFileName), &manifest); err != nil {
		return nil, err
	}
	return New(&doc, manifest, cache)
}

// Rules returns the number of rules in the program.
func (p *Program) Rules() int {
	n := 0
	for _, g := range p.groups {
		n += len(g.rules)
	}
	return n
}

// Groups returns the number of groups in the program.
func (p *Program) Groups() int { return len(p.groups) }

// TemporalDemand returns the longest sustained window per sensor.
func (p *Program) TemporalDemand() map[string]time.Duration {
	out := make(map[string]time.Duration, len(p.temporalDemand))
	for k, v := range p.temporalDemand {
		out[k] = v
	}
	return out
}

func collectDemand(cd *CondDoc, demand map[string]time.Duration) {
	if cd.Sustained != nil {
		d := time.Duration(cd.Sustained.DurationMS) * time.Millisecond
		if d > demand[cd.Sustained.Source] {
			demand[cd.Sustained.Source] = d
		}
	}
	for i := range cd.All {
		collectDemand(&cd.All[i], demand)
	}
	for i := range cd.Any {
		collectDemand(&cd.Any[i], demand)
	}
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("artifact read error `%s`: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("artifact decode error `%s`: %w", path, err)
	}
	return nil
}

func compileRule(rd *RuleDoc, cache *expr.Cache) (*rule, error) {
	cond, err := compileCond(&rd.Condition, cache)
	if err != nil {
		return nil, fmt.Errorf("rule `%s`: %w", rd.Name, err)
	}

	r := &rule{name: rd.Name, cond: cond}
	for _, ad := range rd.Actions {
		switch {
		case ad.Set != nil:
			a := action{setKey: ad.Set.Key, literal: ad.Set.Value}
			if ad.Set.ValueExpression != "" {
				compiled, err := cache.Get(ad.Set.ValueExpression)
				if err != nil {
					return nil, fmt.Errorf("rule `%s`: %w", rd.Name, err)
				}
				if compiled.Kind() != expr.KindNum {
					return nil, fmt.Errorf("rule `%s`: value expression `%s` is not numeric", rd.Name, ad.Set.ValueExpression)
				}
				a.valueExpr = compiled
			}
			r.acts = append(r.acts, a)
		case ad.Message != nil:
			r.acts = append(r.acts, action{channel: ad.Message.Channel, message: ad.Message.Message})
		default:
			return nil, fmt.Errorf("rule `%s`: empty action", rd.Name)
		}
	}
	return r, nil
}

// compileCond turns a condition node into a closure. Group semantics:
// every all-child must hold and, when any-children exist, at least one of
// them; a node with no children is false.
func compileCond(cd *CondDoc, cache *expr.Cache) (condFn, error) {
	switch {
	case cd.Comparison != nil:
		return compileComparison(cd.Comparison)
	case cd.Sustained != nil:
		return compileSustained(cd.Sustained)
	case cd.Expression != "":
		compiled, err := cache.Get(cd.Expression)
		if err != nil {
			return nil, err
		}
		if compiled.Kind() != expr.KindBool {
			return nil, fmt.Errorf("condition expression `%s` is not a boolean", cd.Expression)
		}
		return func(ec *evalContext) bool {
			ok, missing := compiled.EvalBool(ec.values)
			if len(missing) > 0 {
				ec.missing = append(ec.missing, missing...)
				return false
			}
			return ok
		}, nil
	}

	if len(cd.All) == 0 && len(cd.Any) == 0 {
		return func(*evalContext) bool { return false }, nil
	}

	var all, any []condFn
	for i := range cd.All {
		fn, err := compileCond(&cd.All[i], cache)
		if err != nil {
			return nil, err
		}
		all = append(all, fn)
	}
	for i := range cd.Any {
		fn, err := compileCond(&cd.Any[i], cache)
		if err != nil {
			return nil, err
		}
		any = append(any, fn)
	}

	return func(ec *evalContext) bool {
		for _, fn := range all {
			if !fn(ec) {
				return false
			}
		}
		if len(any) == 0 {
			return true
		}
		for _, fn := range any {
			if fn(ec) {
				return true
			}
		}
		return false
	}, nil
}

func compileComparison(cd *ComparisonDoc) (condFn, error) {
	cmp, err := comparator(cd.Op)
	if err != nil {
		return nil, err
	}
	source, threshold := cd.Source, cd.Value
	return func(ec *evalContext) bool {
		v, ok := ec.lookup(source)
		if !ok {
			return false
		}
		return cmp(v, threshold)
	}, nil
}

func compileSustained(sd *SustainedDoc) (condFn, error) {
	cmp, err := comparator(sd.Op)
	if err != nil {
		return nil, err
	}
	source := sd.Source
	threshold := sd.Threshold
	window := time.Duration(sd.DurationMS) * time.Millisecond
	return func(ec *evalContext) bool {
		if ec.temporal == nil {
			return false
		}
		samples := ec.temporal.Window(source, window, ec.now)
		if len(samples) == 0 {
			return false
		}
		for _, sm := range samples {
			if !cmp(sm.Value, threshold) {
				return false
			}
		}
		return true
	}, nil
}

// comparator builds the comparison primitive shared by comparison and
// sustained conditions. Equality is epsilon-based; NaN orders false.
func comparator(op string) (func(a, b float64) bool, error) {
	switch op {
	case "==":
		return func(a, b float64) bool { return math.Abs(a-b) <= expr.Epsilon }, nil
	case "!=":
		return func(a, b float64) bool { return !(math.Abs(a-b) <= expr.Epsilon) }, nil
	case ">":
		return func(a, b float64) bool { return a > b }, nil
	case ">=":
		return func(a, b float64) bool { return a >= b }, nil
	case "<":
		return func(a, b float64) bool { return a < b }, nil
	case "<=":
		return func(a, b float64) bool { return a <= b }, nil
	}
	return nil, fmt.Errorf("unsupported operator `%s`", op)
}
