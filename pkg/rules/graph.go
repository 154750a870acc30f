// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package rules

import (
	"sort"
	"time"

	"github.com/sensorlogic/reflex/pkg/expr"
)

// Graph is the producer/consumer graph of a rule set: an edge runs from a
// rule producing key K to every rule consuming K. Construction fails on a
// cycle. All slices are sorted so downstream output is deterministic.
type Graph struct {
	Rules []*RuleDefinition

	// Inputs and Outputs map rule name to the derived key sets.
	Inputs  map[string][]string
	Outputs map[string][]string

	// Producers maps each produced key to the rules writing it. More than
	// one producer is a validation error, but the graph still records all
	// of them so the validator can name them.
	Producers map[string][]string

	edges  map[string][]string // producer rule -> consumer rules
	byName map[string]*RuleDefinition
}

// RuleInputs derives the set of sensor keys a rule reads: comparison and
// temporal sources plus every identifier of its expressions, including
// set_value value expressions. cache may be nil.
func RuleInputs(rule *RuleDefinition, cache *expr.Cache) ([]string, error) {
	if cache == nil {
		cache = expr.NewCache()
	}
	set := make(map[string]struct{})

	err := WalkConditions(rule.Conditions, func(n *ConditionNode) error {
		if !n.IsLeaf() {
			return nil
		}
		switch c := n.Condition; {
		case c.Comparison != nil:
			set[c.Comparison.Source] = struct{}{}
		case c.ThresholdOverTime != nil:
			set[c.ThresholdOverTime.Source] = struct{}{}
		case c.Expression != nil:
			compiled, err := cache.Get(c.Expression.Expr)
			if err != nil {
				return &ErrInvalidExpression{Rule: rule.Name, Expression: c.Expression.Expr, Err: err}
			}
			for _, id := range compiled.Identifiers() {
				set[id] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, a := range rule.Actions {
		if a.SetValue == nil || a.SetValue.ValueExpression == "" {
			continue
		}
		compiled, err := cache.Get(a.SetValue.ValueExpression)
		if err != nil {
			return nil, &ErrInvalidExpression{Rule: rule.Name, Expression: a.SetValue.ValueExpression, Err: err}
		}
		for _, id := range compiled.Identifiers() {
			set[id] = struct{}{}
		}
	}

	return sortedKeys(set), nil
}

// RuleOutputs derives the set of sensor keys a rule writes.
func RuleOutputs(rule *RuleDefinition) []string {
	set := make(map[string]struct{})
	for _, a := range rule.Actions {
		if a.SetValue != nil {
			set[a.SetValue.Key] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// BuildGraph derives inputs and outputs for every rule and links producers
// to consumers. It fails with *ErrRuleCycle when the graph is cyclic and
// with *ErrInvalidExpression when an expression does not compile.
func BuildGraph(ruleDefs []*RuleDefinition, cache *expr.Cache) (*Graph, error) {
	if cache == nil {
		cache = expr.NewCache()
	}

	g := &Graph{
		Rules:     make([]*RuleDefinition, len(ruleDefs)),
		Inputs:    make(map[string][]string, len(ruleDefs)),
		Outputs:   make(map[string][]string, len(ruleDefs)),
		Producers: make(map[string][]string),
		edges:     make(map[string][]string, len(ruleDefs)),
		byName:    make(map[string]*RuleDefinition, len(ruleDefs)),
	}
	copy(g.Rules, ruleDefs)
	sort.Slice(g.Rules, func(i, j int) bool { return g.Rules[i].Name < g.Rules[j].Name })

	for _, rule := range g.Rules {
		inputs, err := RuleInputs(rule, cache)
		if err != nil {
			return nil, err
		}
		g.Inputs[rule.Name] = inputs
		outputs := RuleOutputs(rule)
		g.Outputs[rule.Name] = outputs
		g.byName[rule.Name] = rule
		for _, key := range outputs {
			g.Producers[key] = append(g.Producers[key], rule.Name)
		}
	}

	for _, rule := range g.Rules {
		consumers := make(map[string]struct{})
		for _, consumer := range g.Rules {
			if consumer.Name == rule.Name {
				continue
			}
			if intersects(g.Outputs[rule.Name], g.Inputs[consumer.Name]) {
				consumers[consumer.Name] = struct{}{}
			}
		}
		g.edges[rule.Name] = sortedKeys(consumers)
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &ErrRuleCycle{Rules: cycle}
	}
	return g, nil
}

// Dependencies returns the producer rules a rule depends on, sorted.
func (g *Graph) Dependencies(name string) []string {
	var deps []string
	for producer, consumers := range g.edges {
		for _, c := range consumers {
			if c == name {
				deps = append(deps, producer)
			}
		}
	}
	sort.Strings(deps)
	return deps
}

// Consumers returns the rules consuming outputs of name, sorted.
func (g *Graph) Consumers(name string) []string {
	return g.edges[name]
}

// findCycle runs a three-color DFS and returns the participating rule
// names in path order, or nil when the graph is acyclic.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.Rules))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		stack = append(stack, name)
		for _, next := range g.edges[name] {
			switch color[next] {
			case gray:
				// Back-edge: the cycle is the stack suffix starting at next.
				for i, n := range stack {
					if n == next {
						cycle = append([]string{}, stack[i:]...)
						return true
					}
				}
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return false
	}

	for _, rule := range g.Rules {
		if color[rule.Name] == white && visit(rule.Name) {
			return cycle
		}
	}
	return nil
}

// TemporalDemand returns, per sensor, the longest threshold-over-time
// window any rule asks of it. The validator sizes ring buffers from this.
func TemporalDemand(ruleDefs []*RuleDefinition) map[string]time.Duration {
	demand := make(map[string]time.Duration)
	for _, rule := range ruleDefs {
		_ = WalkConditions(rule.Conditions, func(n *ConditionNode) error {
			if n.IsLeaf() && n.Condition.ThresholdOverTime != nil {
				t := n.Condition.ThresholdOverTime
				d := time.Duration(t.DurationMS) * time.Millisecond
				if d > demand[t.Source] {
					demand[t.Source] = d
				}
			}
			return nil
		})
	}
	return demand
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func intersects(a, b []string) bool {
	seen := make(map[string]struct{}, len(a))
	for _, k := range a {
		seen[k] = struct{}{}
	}
	for _, k := range b {
		if _, ok := seen[k]; ok {
			return true
		}
	}
	return false
}
