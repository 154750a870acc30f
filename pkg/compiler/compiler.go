// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

// Package compiler turns a validated rule document into the executable
// artifact: layered, group-packed rules plus a manifest.
package compiler

import (
	"sort"
	"time"

	"github.com/sensorlogic/reflex/pkg/expr"
	"github.com/sensorlogic/reflex/pkg/program"
	"github.com/sensorlogic/reflex/pkg/rules"
)

// Options configures a compilation.
type Options struct {
	// ValidSensors are the sensor keys declared by the system config.
	ValidSensors []string

	// SamplingPeriod is the temporal buffer sampling period.
	SamplingPeriod time.Duration

	// MaxTemporalPoints bounds threshold-over-time windows. Zero uses the
	// validator default.
	MaxTemporalPoints int

	// Budgets bound emitted group sizes. Zero fields use defaults.
	Budgets rules.GroupBudgets
}

// Artifact is the result of a successful compilation, ready to be written
// to disk or loaded directly.
type Artifact struct {
	Document program.Document
	Manifest program.Manifest
	Warnings []string
}

// Compile validates file and emits its executable form. Validation errors
// abort emission; the returned error aggregates all of them.
func Compile(file *rules.RuleFile, opts Options) (*Artifact, error) {
	cache := expr.NewCache()
	res := rules.Validate(file, rules.ValidationConfig{
		ValidSensors:      opts.ValidSensors,
		SamplingPeriod:    opts.SamplingPeriod,
		MaxTemporalPoints: opts.MaxTemporalPoints,
		Cache:             cache,
	})
	if err := res.Err(); err != nil {
		return nil, err
	}

	graph := res.Graph
	layers := rules.AssignLayers(graph)
	layerOf := rules.Layers(layers)
	groups := rules.PackGroups(layers, opts.Budgets, nil)

	artifact := &Artifact{
		Document: program.Document{Version: file.Version},
		Warnings: res.Warnings(),
	}

	for _, g := range groups {
		gd := program.GroupDoc{Index: g.Index, Layer: g.Layer}
		for _, rule := range g.Rules {
			gd.Rules = append(gd.Rules, renderRule(rule))
		}
		artifact.Document.Groups = append(artifact.Document.Groups, gd)
	}

	artifact.Manifest = buildManifest(graph, layerOf)
	return artifact, nil
}

// buildManifest derives the rule summaries and the external sensor sets.
// Input sensors are keys consumed by some rule but produced by none, the
// set the runtime fetches from the store each cycle.
func buildManifest(graph *rules.Graph, layerOf map[string]int) program.Manifest {
	manifest := program.Manifest{}

	produced := make(map[string]struct{})
	consumed := make(map[string]struct{})
	for _, rule := range graph.Rules {
		for _, k := range graph.Outputs[rule.Name] {
			produced[k] = struct{}{}
		}
		for _, k := range graph.Inputs[rule.Name] {
			consumed[k] = struct{}{}
		}
		manifest.Rules = append(manifest.Rules, program.ManifestRule{
			Name:    rule.Name,
			Layer:   layerOf[rule.Name],
			Inputs:  graph.Inputs[rule.Name],
			Outputs: graph.Outputs[rule.Name],
		})
	}

	for k := range consumed {
		if _, ok := produced[k]; !ok {
			manifest.InputSensors = append(manifest.InputSensors, k)
		}
	}
	for k := range produced {
		manifest.OutputSensors = append(manifest.OutputSensors, k)
	}
	sort.Strings(manifest.InputSensors)
	sort.Strings(manifest.OutputSensors)
	return manifest
}

func renderRule(rule *rules.RuleDefinition) program.RuleDoc {
	doc := program.RuleDoc{
		Name:        rule.Name,
		Description: rule.Description,
		Source:      RenderConditions(rule.Conditions),
		Condition:   condToDoc(rule.Conditions),
	}
	for _, a := range rule.Actions {
		switch {
		case a.SetValue != nil:
			doc.Actions = append(doc.Actions, program.ActionDoc{Set: &program.SetDoc{
				Key:             a.SetValue.Key,
				Value:           a.SetValue.Value,
				ValueExpression: a.SetValue.ValueExpression,
			}})
		case a.SendMessage != nil:
			doc.Actions = append(doc.Actions, program.ActionDoc{Message: &program.MessageDoc{
				Channel: a.SendMessage.Channel,
				Message: a.SendMessage.Message,
			}})
		}
	}
	return doc
}

func condToDoc(g *rules.ConditionGroup) program.CondDoc {
	var doc program.CondDoc
	for _, n := range g.All {
		doc.All = append(doc.All, nodeToDoc(n))
	}
	for _, n := range g.Any {
		doc.Any = append(doc.Any, nodeToDoc(n))
	}
	return doc
}

func nodeToDoc(n *rules.ConditionNode) program.CondDoc {
	if !n.IsLeaf() {
		return condToDoc(n.Group())
	}
	switch c := n.Condition; {
	case c.Comparison != nil:
		return program.CondDoc{Comparison: &program.ComparisonDoc{
			Source: c.Comparison.Source,
			Op:     c.Comparison.Op,
			Value:  c.Comparison.Value,
		}}
	case c.Expression != nil:
		return program.CondDoc{Expression: c.Expression.Expr}
	default:
		t := c.ThresholdOverTime
		return program.CondDoc{Sustained: &program.SustainedDoc{
			Source:     t.Source,
			Op:         t.Op,
			Threshold:  t.Threshold,
			DurationMS: t.DurationMS,
		}}
	}
}
