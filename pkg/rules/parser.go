// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package rules

import (
	"bytes"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a rule document. name is used in error messages, usually
// the file path. Decoding is schema-strict: unknown keys fail with the
// document position. The parser canonicalizes operators and enforces the
// structural shape of every definition, but never evaluates expressions.
func Parse(r io.Reader, name string) (*RuleFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file RuleFile
	if err := dec.Decode(&file); err != nil {
		return nil, &ErrRuleFileLoad{Name: name, Err: err}
	}
	if len(file.Rules) == 0 {
		return nil, &ErrRuleFileLoad{Name: name, Err: ErrEmptyRuleFile}
	}

	for _, rule := range file.Rules {
		normalizeRule(rule)
		if err := checkRule(rule); err != nil {
			return nil, &ErrRuleFileLoad{Name: name, Err: err}
		}
	}
	return &file, nil
}

// ParseFile reads and parses the rule document at path.
func ParseFile(path string) (*RuleFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ErrRuleFileLoad{Name: path, Err: err}
	}
	defer f.Close()
	return Parse(f, path)
}

// Marshal serializes a rule file back to YAML. Parse(Marshal(f)) yields a
// file equal to f: canonicalization happens at parse time only and
// canonical forms re-parse to themselves.
func Marshal(file *RuleFile) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func normalizeRule(rule *RuleDefinition) {
	if rule.Conditions != nil {
		normalizeGroup(rule.Conditions)
	}
}

func normalizeGroup(g *ConditionGroup) {
	for _, n := range append(append([]*ConditionNode{}, g.All...), g.Any...) {
		if n == nil {
			continue
		}
		if n.Condition != nil {
			normalizeCondition(n.Condition)
			continue
		}
		normalizeGroup(n.Group())
	}
}

func normalizeCondition(c *Condition) {
	if c.Comparison != nil {
		c.Comparison.Op = NormalizeOp(c.Comparison.Op)
	}
	if c.ThresholdOverTime != nil {
		c.ThresholdOverTime.Op = NormalizeOp(c.ThresholdOverTime.Op)
	}
}

func checkRule(rule *RuleDefinition) error {
	if rule.Name == "" {
		return &ErrRuleLoad{Rule: rule.Name, Err: ErrRuleWithoutName}
	}
	if rule.Conditions.Empty() {
		return &ErrRuleLoad{Rule: rule.Name, Err: ErrRuleWithoutConditions}
	}
	if len(rule.Actions) == 0 {
		return &ErrRuleLoad{Rule: rule.Name, Err: ErrRuleWithoutActions}
	}
	if err := WalkConditions(rule.Conditions, func(n *ConditionNode) error {
		return n.Check()
	}); err != nil {
		return &ErrRuleLoad{Rule: rule.Name, Err: err}
	}
	for _, a := range rule.Actions {
		if a == nil {
			return &ErrRuleLoad{Rule: rule.Name, Err: errors.New("empty action entry")}
		}
		if err := a.Check(); err != nil {
			return &ErrRuleLoad{Rule: rule.Name, Err: err}
		}
	}
	return nil
}

// WalkConditions visits every node of a condition tree depth-first,
// stopping on the first error.
func WalkConditions(g *ConditionGroup, fn func(*ConditionNode) error) error {
	if g == nil {
		return nil
	}
	for _, list := range [][]*ConditionNode{g.All, g.Any} {
		for _, n := range list {
			if n == nil {
				return errors.New("empty condition entry")
			}
			if err := fn(n); err != nil {
				return err
			}
			if !n.IsLeaf() {
				if err := WalkConditions(n.Group(), fn); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
