// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package rules

import "sort"

// Group is a size-bounded subset of one layer, emitted as one executable
// unit. Group indices increase monotonically across layers; the runtime
// coordinator executes groups in index order.
type Group struct {
	Index int
	Layer int
	Rules []*RuleDefinition
}

// GroupBudgets bounds the size of an emitted group.
type GroupBudgets struct {
	// MaxRules caps the number of rules per group.
	MaxRules int
	// MaxSourceLines caps the estimated emitted size per group.
	MaxSourceLines int
}

// DefaultGroupBudgets are the budgets used when the config leaves them
// unset.
var DefaultGroupBudgets = GroupBudgets{MaxRules: 25, MaxSourceLines: 400}

// AssignLayers partitions the rules of an acyclic graph into topological
// layers: layer 0 holds rules whose inputs are all external sensors,
// otherwise layer = 1 + max(layer of producers). Rules inside one layer
// carry no inter-rule dependencies and are ordered by name.
func AssignLayers(g *Graph) [][]*RuleDefinition {
	layerOf := make(map[string]int, len(g.Rules))

	indegree := make(map[string]int, len(g.Rules))
	for _, rule := range g.Rules {
		indegree[rule.Name] = len(g.Dependencies(rule.Name))
	}

	var frontier []string
	for _, rule := range g.Rules {
		if indegree[rule.Name] == 0 {
			layerOf[rule.Name] = 0
			frontier = append(frontier, rule.Name)
		}
	}

	for len(frontier) > 0 {
		var next []string
		for _, name := range frontier {
			for _, consumer := range g.Consumers(name) {
				if l := layerOf[name] + 1; l > layerOf[consumer] {
					layerOf[consumer] = l
				}
				indegree[consumer]--
				if indegree[consumer] == 0 {
					next = append(next, consumer)
				}
			}
		}
		frontier = next
	}

	maxLayer := 0
	for _, l := range layerOf {
		if l > maxLayer {
			maxLayer = l
		}
	}
	layers := make([][]*RuleDefinition, maxLayer+1)
	for _, rule := range g.Rules {
		l := layerOf[rule.Name]
		layers[l] = append(layers[l], rule)
	}
	for _, layer := range layers {
		sort.Slice(layer, func(i, j int) bool { return layer[i].Name < layer[j].Name })
	}
	return layers
}

// Layers returns the layer index per rule name for a layering produced by
// AssignLayers.
func Layers(layers [][]*RuleDefinition) map[string]int {
	out := make(map[string]int)
	for i, layer := range layers {
		for _, rule := range layer {
			out[rule.Name] = i
		}
	}
	return out
}

// PackGroups packs each layer's rules into groups honoring the budgets.
// estimate sizes one rule in emitted source lines; nil uses
// EstimateRuleLines. Packing is greedy over the name-sorted layer order,
// so recompilation of an unchanged document is stable. Groups never span
// layers.
func PackGroups(layers [][]*RuleDefinition, budgets GroupBudgets, estimate func(*RuleDefinition) int) []Group {
	if budgets.MaxRules <= 0 {
		budgets.MaxRules = DefaultGroupBudgets.MaxRules
	}
	if budgets.MaxSourceLines <= 0 {
		budgets.MaxSourceLines = DefaultGroupBudgets.MaxSourceLines
	}
	if estimate == nil {
		estimate = EstimateRuleLines
	}

	var groups []Group
	index := 0
	for layerIdx, layer := range layers {
		current := Group{Index: index, Layer: layerIdx}
		lines := 0
		for _, rule := range layer {
			ruleLines := estimate(rule)
			full := len(current.Rules) >= budgets.MaxRules ||
				(len(current.Rules) > 0 && lines+ruleLines > budgets.MaxSourceLines)
			if full {
				groups = append(groups, current)
				index++
				current = Group{Index: index, Layer: layerIdx}
				lines = 0
			}
			current.Rules = append(current.Rules, rule)
			lines += ruleLines
		}
		if len(current.Rules) > 0 {
			groups = append(groups, current)
			index++
		}
	}
	return groups
}

// EstimateRuleLines approximates the emitted size of one rule: a header
// line, one line per condition leaf and nesting level, one per action.
func EstimateRuleLines(rule *RuleDefinition) int {
	lines := 2
	_ = WalkConditions(rule.Conditions, func(*ConditionNode) error {
		lines++
		return nil
	})
	lines += len(rule.Actions)
	return lines
}
