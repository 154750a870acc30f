// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

// Package program holds the executable artifact format produced by the
// compiler and its loaded, runnable form.
//
// The artifact is two JSON files: program.json, the executable payload,
// and manifest.json, the machine-readable summary of rules and sensors.
// The only documented surface of the payload is the coordinator entry
// point Program.Evaluate.
package program

// Artifact file names inside an artifact directory.
const (
	ProgramFileName  = "program.json"
	ManifestFileName = "manifest.json"
)

// Document is the serialized executable payload: dependency-ordered rule
// groups. Groups never span layers and are executed in index order.
type Document struct {
	Version int        `json:"version"`
	Groups  []GroupDoc `json:"groups"`
}

// GroupDoc is one emitted rule group.
type GroupDoc struct {
	Index int       `json:"index"`
	Layer int       `json:"layer"`
	Rules []RuleDoc `json:"rules"`
}

// RuleDoc is one emitted rule. Source is the rendered condition with
// minimal parentheses, kept for operators and debugging; Condition is the
// executable form.
type RuleDoc struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Source      string      `json:"source"`
	Condition   CondDoc     `json:"condition"`
	Actions     []ActionDoc `json:"actions"`
}

// CondDoc is a serialized condition node: either a leaf variant or a
// group with all/any children.
type CondDoc struct {
	All []CondDoc `json:"all,omitempty"`
	Any []CondDoc `json:"any,omitempty"`

	Comparison *ComparisonDoc `json:"comparison,omitempty"`
	Expression string         `json:"expression,omitempty"`
	Sustained  *SustainedDoc  `json:"sustained,omitempty"`
}

// ComparisonDoc compares a sensor against a literal.
type ComparisonDoc struct {
	Source string  `json:"source"`
	Op     string  `json:"op"`
	Value  float64 `json:"value"`
}

// SustainedDoc is a threshold held over a trailing window: true iff the
// comparison holds for every sample in the window.
type SustainedDoc struct {
	Source     string  `json:"source"`
	Op         string  `json:"op"`
	Threshold  float64 `json:"threshold"`
	DurationMS int64   `json:"duration_ms"`
}

// ActionDoc is one emitted action.
type ActionDoc struct {
	Set     *SetDoc     `json:"set,omitempty"`
	Message *MessageDoc `json:"message,omitempty"`
}

// SetDoc writes a key, from a literal or a value expression.
type SetDoc struct {
	Key             string   `json:"key"`
	Value           *float64 `json:"value,omitempty"`
	ValueExpression string   `json:"value_expression,omitempty"`
}

// MessageDoc publishes a message on a channel.
type MessageDoc struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}

// Manifest summarizes the compiled rule set.
type Manifest struct {
	Rules         []ManifestRule `json:"rules"`
	InputSensors  []string       `json:"input_sensors"`
	OutputSensors []string       `json:"output_sensors"`
}

// ManifestRule is the per-rule manifest entry.
type ManifestRule struct {
	Name    string   `json:"name"`
	Layer   int      `json:"layer"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}
