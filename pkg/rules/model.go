// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

// Package rules holds the rule document model, parser, validator and
// dependency analysis.
package rules

import "fmt"

// SupportedVersion is the rule document version this build understands.
const SupportedVersion = 1

// Comparison operators after canonicalization.
const (
	OpGT = ">"
	OpLT = "<"
	OpGE = ">="
	OpLE = "<="
	OpEQ = "=="
	OpNE = "!="
)

// comparisonOps is the operator set of comparison conditions.
var comparisonOps = map[string]struct{}{
	OpGT: {}, OpLT: {}, OpGE: {}, OpLE: {}, OpEQ: {}, OpNE: {},
}

// temporalOps is the operator set of threshold-over-time conditions.
// Equality over a window is not meaningful on doubles.
var temporalOps = map[string]struct{}{
	OpGT: {}, OpLT: {}, OpGE: {}, OpLE: {},
}

// NormalizeOp canonicalizes operator spellings.
func NormalizeOp(op string) string {
	switch op {
	case "=":
		return OpEQ
	case "<>":
		return OpNE
	}
	return op
}

// RuleFile is the top level of a rule document.
type RuleFile struct {
	Version int               `yaml:"version"`
	Rules   []*RuleDefinition `yaml:"rules"`
}

// RuleDefinition holds the definition of a rule.
type RuleDefinition struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description,omitempty"`
	Conditions  *ConditionGroup     `yaml:"conditions"`
	Actions     []*ActionDefinition `yaml:"actions"`
}

// ConditionGroup combines two child lists: all children must hold (AND)
// and, when any is non-empty, at least one any child must hold (OR). A
// group with no children at all evaluates false.
type ConditionGroup struct {
	All []*ConditionNode `yaml:"all,omitempty"`
	Any []*ConditionNode `yaml:"any,omitempty"`
}

// Empty reports whether the group has no children.
func (g *ConditionGroup) Empty() bool {
	return g == nil || (len(g.All) == 0 && len(g.Any) == 0)
}

// ConditionNode is either a leaf condition or a nested group, never both.
type ConditionNode struct {
	Condition *Condition `yaml:"condition,omitempty"`

	All []*ConditionNode `yaml:"all,omitempty"`
	Any []*ConditionNode `yaml:"any,omitempty"`
}

// Group returns the nested group of a non-leaf node.
func (n *ConditionNode) Group() *ConditionGroup {
	return &ConditionGroup{All: n.All, Any: n.Any}
}

// IsLeaf reports whether the node carries a leaf condition.
func (n *ConditionNode) IsLeaf() bool { return n.Condition != nil }

// Check returns an error if the node mixes leaf and group forms or
// carries neither.
func (n *ConditionNode) Check() error {
	hasGroup := len(n.All) > 0 || len(n.Any) > 0
	if n.Condition != nil && hasGroup {
		return fmt.Errorf("a condition entry is either a `condition` or a nested group, not both")
	}
	if n.Condition == nil && !hasGroup {
		return fmt.Errorf("empty condition entry")
	}
	if n.Condition != nil {
		return n.Condition.Check()
	}
	return nil
}

// Condition kinds.
const (
	ComparisonKind        = "comparison"
	ExpressionKind        = "expression"
	ThresholdOverTimeKind = "threshold_over_time"
)

// Condition is a tagged leaf: exactly one variant field is set.
type Condition struct {
	Comparison        *ComparisonDefinition        `yaml:"comparison,omitempty"`
	Expression        *ExpressionDefinition        `yaml:"expression,omitempty"`
	ThresholdOverTime *ThresholdOverTimeDefinition `yaml:"threshold_over_time,omitempty"`
}

// Kind returns the name of the set variant, or "".
func (c *Condition) Kind() string {
	switch {
	case c.Comparison != nil:
		return ComparisonKind
	case c.Expression != nil:
		return ExpressionKind
	case c.ThresholdOverTime != nil:
		return ThresholdOverTimeKind
	}
	return ""
}

// Check returns an error if the condition does not carry exactly one
// variant or the variant is structurally invalid.
func (c *Condition) Check() error {
	count := 0
	if c.Comparison != nil {
		count++
	}
	if c.Expression != nil {
		count++
	}
	if c.ThresholdOverTime != nil {
		count++
	}
	if count == 0 {
		return fmt.Errorf("one of `%s`, `%s` or `%s` must be specified", ComparisonKind, ExpressionKind, ThresholdOverTimeKind)
	}
	if count > 1 {
		return fmt.Errorf("only one condition variant can be specified")
	}
	switch {
	case c.Comparison != nil:
		return c.Comparison.Check()
	case c.Expression != nil:
		return c.Expression.Check()
	default:
		return c.ThresholdOverTime.Check()
	}
}

// ComparisonDefinition compares one sensor against a literal.
type ComparisonDefinition struct {
	Source string  `yaml:"source"`
	Op     string  `yaml:"op"`
	Value  float64 `yaml:"value"`
}

// Check returns an error if required fields are missing.
func (c *ComparisonDefinition) Check() error {
	if c.Source == "" {
		return fmt.Errorf("comparison without a source")
	}
	if c.Op == "" {
		return fmt.Errorf("comparison without an operator")
	}
	return nil
}

// ExpressionDefinition is a free-form boolean expression condition.
type ExpressionDefinition struct {
	Expr string `yaml:"expr"`
}

// Check returns an error if the expression string is empty.
func (e *ExpressionDefinition) Check() error {
	if e.Expr == "" {
		return fmt.Errorf("expression without an expr")
	}
	return nil
}

// ThresholdOverTimeDefinition is a sustained threshold: the comparison
// must hold for every sample in the trailing window.
type ThresholdOverTimeDefinition struct {
	Source     string  `yaml:"source"`
	Op         string  `yaml:"op"`
	Threshold  float64 `yaml:"threshold"`
	DurationMS int64   `yaml:"duration_ms"`
}

// Check returns an error if required fields are missing.
func (t *ThresholdOverTimeDefinition) Check() error {
	if t.Source == "" {
		return fmt.Errorf("threshold_over_time without a source")
	}
	if t.Op == "" {
		return fmt.Errorf("threshold_over_time without an operator")
	}
	return nil
}

// Action kinds.
const (
	SetValueAction    = "set_value"
	SendMessageAction = "send_message"
)

// ActionDefinition is a tagged action: exactly one variant field is set.
type ActionDefinition struct {
	SetValue    *SetValueDefinition    `yaml:"set_value,omitempty"`
	SendMessage *SendMessageDefinition `yaml:"send_message,omitempty"`
}

// Kind returns the name of the set variant, or "".
func (a *ActionDefinition) Kind() string {
	switch {
	case a.SetValue != nil:
		return SetValueAction
	case a.SendMessage != nil:
		return SendMessageAction
	}
	return ""
}

// Check returns an error if the action does not carry exactly one variant
// or the variant is structurally invalid.
func (a *ActionDefinition) Check() error {
	count := 0
	if a.SetValue != nil {
		count++
	}
	if a.SendMessage != nil {
		count++
	}
	if count == 0 {
		return fmt.Errorf("either `%s` or `%s` must be specified", SetValueAction, SendMessageAction)
	}
	if count > 1 {
		return fmt.Errorf("only one action variant can be specified")
	}
	if a.SetValue != nil {
		return a.SetValue.Check()
	}
	return a.SendMessage.Check()
}

// SetValueDefinition writes a key: either a literal value or a value
// expression, exactly one of the two.
type SetValueDefinition struct {
	Key             string   `yaml:"key"`
	Value           *float64 `yaml:"value,omitempty"`
	ValueExpression string   `yaml:"value_expression,omitempty"`
}

// Check returns an error unless exactly one of value and value_expression
// is set.
func (s *SetValueDefinition) Check() error {
	if s.Key == "" {
		return fmt.Errorf("set_value without a key")
	}
	if s.Value == nil && s.ValueExpression == "" {
		return fmt.Errorf("set_value needs either `value` or `value_expression`")
	}
	if s.Value != nil && s.ValueExpression != "" {
		return fmt.Errorf("set_value takes either `value` or `value_expression`, not both")
	}
	return nil
}

// SendMessageDefinition publishes a message on a channel.
type SendMessageDefinition struct {
	Channel string `yaml:"channel"`
	Message string `yaml:"message"`
}

// Check returns an error if required fields are missing.
func (m *SendMessageDefinition) Check() error {
	if m.Channel == "" {
		return fmt.Errorf("send_message without a channel")
	}
	if m.Message == "" {
		return fmt.Errorf("send_message without a message")
	}
	return nil
}
