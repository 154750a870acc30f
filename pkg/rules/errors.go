// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package rules

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRuleWithoutName is returned when a rule has no name.
	ErrRuleWithoutName = errors.New("no rule name")

	// ErrRuleWithoutConditions is returned when a rule has no condition.
	ErrRuleWithoutConditions = errors.New("no rule conditions")

	// ErrRuleWithoutActions is returned when a rule has no action.
	ErrRuleWithoutActions = errors.New("no rule actions")

	// ErrEmptyRuleFile is returned when a document declares no rules.
	ErrEmptyRuleFile = errors.New("no rules in document")
)

// ErrRuleFileLoad is returned on a rule document read or decode error.
type ErrRuleFileLoad struct {
	Name string
	Err  error
}

func (e *ErrRuleFileLoad) Error() string {
	return fmt.Sprintf("rule file error `%s`: %s", e.Name, e.Err)
}

func (e *ErrRuleFileLoad) Unwrap() error { return e.Err }

// ErrRuleLoad is returned on a rule definition error.
type ErrRuleLoad struct {
	Rule string
	Err  error
}

func (e *ErrRuleLoad) Error() string {
	return fmt.Sprintf("rule `%s` definition error: %s", e.Rule, e.Err)
}

func (e *ErrRuleLoad) Unwrap() error { return e.Err }

// ErrUnsupportedVersion is returned when the document version does not
// match the supported one.
type ErrUnsupportedVersion struct {
	Version int
}

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported rule document version %d (supported: %d)", e.Version, SupportedVersion)
}

// ErrDuplicateRuleName is returned when multiple rules share a name.
type ErrDuplicateRuleName struct {
	Name string
}

func (e *ErrDuplicateRuleName) Error() string {
	return fmt.Sprintf("multiple rules named `%s`", e.Name)
}

// ErrUnknownSensor is returned when a rule references a sensor key that is
// neither declared in the system config nor produced by another rule.
type ErrUnknownSensor struct {
	Rule   string
	Sensor string
}

func (e *ErrUnknownSensor) Error() string {
	return fmt.Sprintf("rule `%s` references unknown sensor `%s`", e.Rule, e.Sensor)
}

// ErrInvalidOperator is returned when an operator is outside the allowed
// set of its condition kind.
type ErrInvalidOperator struct {
	Rule string
	Kind string
	Op   string
}

func (e *ErrInvalidOperator) Error() string {
	return fmt.Sprintf("rule `%s`: operator `%s` is not valid for %s", e.Rule, e.Op, e.Kind)
}

// ErrInvalidExpression is returned when an expression does not compile or
// has the wrong result type.
type ErrInvalidExpression struct {
	Rule       string
	Expression string
	Err        error
}

func (e *ErrInvalidExpression) Error() string {
	return fmt.Sprintf("rule `%s`: invalid expression `%s`: %s", e.Rule, e.Expression, e.Err)
}

func (e *ErrInvalidExpression) Unwrap() error { return e.Err }

// ErrTemporalWindow is returned when a threshold-over-time window is
// non-positive or demands more sample points than the configured maximum.
type ErrTemporalWindow struct {
	Rule       string
	Source     string
	DurationMS int64
	Points     int
	MaxPoints  int
}

func (e *ErrTemporalWindow) Error() string {
	if e.DurationMS <= 0 {
		return fmt.Sprintf("rule `%s`: threshold_over_time on `%s` needs duration_ms > 0", e.Rule, e.Source)
	}
	return fmt.Sprintf("rule `%s`: threshold_over_time on `%s` needs %d sample points, more than the maximum %d",
		e.Rule, e.Source, e.Points, e.MaxPoints)
}

// ErrDuplicateProducer is returned when more than one rule writes the same
// sensor key.
type ErrDuplicateProducer struct {
	Key   string
	Rules []string
}

func (e *ErrDuplicateProducer) Error() string {
	return fmt.Sprintf("sensor `%s` is produced by multiple rules: %s", e.Key, strings.Join(e.Rules, ", "))
}

// ErrRuleCycle is returned when the producer/consumer graph has a cycle.
// Rules lists the participating rule names in path order.
type ErrRuleCycle struct {
	Rules []string
}

func (e *ErrRuleCycle) Error() string {
	return fmt.Sprintf("dependency cycle between rules: %s", strings.Join(e.Rules, " -> "))
}
