// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sensorlogic/reflex/pkg/rules"
)

// Rendering precedence, tightest first: comparisons and leaves bind
// tighter than AND, AND tighter than OR. The renderer parenthesizes an
// operand only when its precedence is looser than its context, so AND
// chains stay bare and OR groups get parentheses.
const (
	precOr = iota + 1
	precAnd
	precLeaf
)

// RenderConditions renders a condition tree as a single boolean source
// string with minimal parentheses. The string is carried in the artifact
// for operators and tests; evaluation uses the structured form.
func RenderConditions(g *rules.ConditionGroup) string {
	s, _ := renderGroup(g)
	return s
}

func renderGroup(g *rules.ConditionGroup) (string, int) {
	var andParts []string

	for _, n := range g.All {
		s, prec := renderNode(n)
		if prec < precAnd {
			s = "(" + s + ")"
		}
		andParts = append(andParts, s)
	}

	if len(g.Any) > 0 {
		var orParts []string
		for _, n := range g.Any {
			s, prec := renderNode(n)
			if prec < precAnd {
				s = "(" + s + ")"
			}
			orParts = append(orParts, s)
		}
		or := strings.Join(orParts, " || ")
		if len(andParts) == 0 {
			if len(orParts) == 1 {
				return or, precLeaf
			}
			return or, precOr
		}
		if len(orParts) > 1 {
			or = "(" + or + ")"
		}
		andParts = append(andParts, or)
	}

	switch len(andParts) {
	case 0:
		return "false", precLeaf
	case 1:
		return andParts[0], precLeaf
	default:
		return strings.Join(andParts, " && "), precAnd
	}
}

func renderNode(n *rules.ConditionNode) (string, int) {
	if !n.IsLeaf() {
		return renderGroup(n.Group())
	}
	switch c := n.Condition; {
	case c.Comparison != nil:
		return fmt.Sprintf("%s %s %s", c.Comparison.Source, c.Comparison.Op, formatNumber(c.Comparison.Value)), precLeaf
	case c.Expression != nil:
		return c.Expression.Expr, exprPrecedence(c.Expression.Expr)
	default:
		t := c.ThresholdOverTime
		return fmt.Sprintf("sustained(%s %s %s, %dms)", t.Source, t.Op, formatNumber(t.Threshold), t.DurationMS), precLeaf
	}
}

// exprPrecedence scans the top level of an embedded expression string for
// boolean connectives so the renderer knows whether to parenthesize it.
func exprPrecedence(s string) int {
	depth := 0
	prec := precLeaf
	for i := 0; i+1 < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case '|':
			if depth == 0 && s[i+1] == '|' {
				return precOr
			}
		case '&':
			if depth == 0 && s[i+1] == '&' {
				prec = precAnd
			}
		}
	}
	return prec
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
