// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sensorlogic/reflex/pkg/rules"
)

func cmp(source, op string, value float64) *rules.ConditionNode {
	return &rules.ConditionNode{Condition: &rules.Condition{
		Comparison: &rules.ComparisonDefinition{Source: source, Op: op, Value: value},
	}}
}

func TestRenderAndChainUnparenthesized(t *testing.T) {
	g := &rules.ConditionGroup{All: []*rules.ConditionNode{
		cmp("input:a", ">", 1),
		cmp("input:b", "<=", 2.5),
		cmp("input:c", "==", 3),
	}}
	assert.Equal(t, "input:a > 1 && input:b <= 2.5 && input:c == 3", RenderConditions(g))
}

func TestRenderOrGroupParenthesized(t *testing.T) {
	g := &rules.ConditionGroup{
		All: []*rules.ConditionNode{cmp("input:a", ">", 1)},
		Any: []*rules.ConditionNode{
			cmp("input:b", ">", 2),
			cmp("input:c", ">", 3),
		},
	}
	assert.Equal(t, "input:a > 1 && (input:b > 2 || input:c > 3)", RenderConditions(g))
}

func TestRenderPureOrUnparenthesized(t *testing.T) {
	g := &rules.ConditionGroup{Any: []*rules.ConditionNode{
		cmp("input:a", ">", 1),
		cmp("input:b", ">", 2),
	}}
	assert.Equal(t, "input:a > 1 || input:b > 2", RenderConditions(g))
}

func TestRenderNestedOrInsideAnd(t *testing.T) {
	nested := &rules.ConditionNode{Any: []*rules.ConditionNode{
		cmp("input:b", ">", 2),
		cmp("input:c", ">", 3),
	}}
	g := &rules.ConditionGroup{All: []*rules.ConditionNode{
		cmp("input:a", ">", 1),
		nested,
	}}
	assert.Equal(t, "input:a > 1 && (input:b > 2 || input:c > 3)", RenderConditions(g))
}

func TestRenderExpressionLeafKeepsSource(t *testing.T) {
	g := &rules.ConditionGroup{All: []*rules.ConditionNode{
		{Condition: &rules.Condition{Expression: &rules.ExpressionDefinition{Expr: "input:a + 1 > input:b"}}},
		cmp("input:c", ">", 1),
	}}
	assert.Equal(t, "input:a + 1 > input:b && input:c > 1", RenderConditions(g))
}

func TestRenderExpressionWithTopLevelOrIsParenthesized(t *testing.T) {
	g := &rules.ConditionGroup{All: []*rules.ConditionNode{
		{Condition: &rules.Condition{Expression: &rules.ExpressionDefinition{Expr: "input:a > 1 || input:b > 2"}}},
		cmp("input:c", ">", 1),
	}}
	assert.Equal(t, "(input:a > 1 || input:b > 2) && input:c > 1", RenderConditions(g))
}

func TestRenderSustained(t *testing.T) {
	g := &rules.ConditionGroup{All: []*rules.ConditionNode{
		{Condition: &rules.Condition{ThresholdOverTime: &rules.ThresholdOverTimeDefinition{
			Source: "input:temperature", Op: ">", Threshold: 5, DurationMS: 1000,
		}}},
	}}
	assert.Equal(t, "sustained(input:temperature > 5, 1000ms)", RenderConditions(g))
}

func TestRenderEmptyGroup(t *testing.T) {
	assert.Equal(t, "false", RenderConditions(&rules.ConditionGroup{}))
}
