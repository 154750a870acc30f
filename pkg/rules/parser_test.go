// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package rules

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `
version: 1
rules:
  - name: high_temperature
    description: flags hot readings
    conditions:
      all:
        - condition:
            comparison:
              source: input:temperature
              op: ">"
              value: 30
    actions:
      - set_value:
          key: output:high_temperature
          value: 1
  - name: heat_index
    conditions:
      all:
        - condition:
            comparison:
              source: input:temperature
              op: ">"
              value: 0
        - condition:
            comparison:
              source: input:humidity
              op: ">"
              value: 0
    actions:
      - set_value:
          key: output:heat_index
          value_expression: "0.5 * (input:temperature + 61 + (input:temperature - 68) * 1.2 + input:humidity * 0.094)"
      - send_message:
          channel: alerts
          message: heat index updated
`

func parseSample(t *testing.T) *RuleFile {
	t.Helper()
	file, err := Parse(strings.NewReader(sampleDoc), "sample.yaml")
	require.NoError(t, err)
	return file
}

func TestParseSample(t *testing.T) {
	file := parseSample(t)
	assert.Equal(t, 1, file.Version)
	require.Len(t, file.Rules, 2)

	rule := file.Rules[0]
	assert.Equal(t, "high_temperature", rule.Name)
	require.Len(t, rule.Conditions.All, 1)
	leaf := rule.Conditions.All[0]
	require.True(t, leaf.IsLeaf())
	assert.Equal(t, ComparisonKind, leaf.Condition.Kind())
	assert.Equal(t, OpGT, leaf.Condition.Comparison.Op)

	require.Len(t, file.Rules[1].Actions, 2)
	assert.Equal(t, SetValueAction, file.Rules[1].Actions[0].Kind())
	assert.Equal(t, SendMessageAction, file.Rules[1].Actions[1].Kind())
}

func TestParseUnknownKeyFails(t *testing.T) {
	doc := `
version: 1
rules:
  - name: r1
    surprise: true
    conditions:
      all:
        - condition:
            comparison: {source: input:a, op: ">", value: 1}
    actions:
      - set_value: {key: output:x, value: 1}
`
	_, err := Parse(strings.NewReader(doc), "bad.yaml")
	require.Error(t, err)
	var loadErr *ErrRuleFileLoad
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "bad.yaml", loadErr.Name)
	assert.Contains(t, err.Error(), "surprise")
}

func TestParseCanonicalizesOperators(t *testing.T) {
	doc := `
version: 1
rules:
  - name: r1
    conditions:
      all:
        - condition:
            comparison: {source: input:a, op: "=", value: 1}
        - condition:
            comparison: {source: input:a, op: "<>", value: 2}
    actions:
      - set_value: {key: output:x, value: 1}
`
	file, err := Parse(strings.NewReader(doc), "ops.yaml")
	require.NoError(t, err)
	assert.Equal(t, OpEQ, file.Rules[0].Conditions.All[0].Condition.Comparison.Op)
	assert.Equal(t, OpNE, file.Rules[0].Conditions.All[1].Condition.Comparison.Op)
}

func TestParseStructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "no rules",
			doc:  "version: 1\nrules: []\n",
			want: "no rules",
		},
		{
			name: "missing name",
			doc: `
version: 1
rules:
  - conditions:
      all:
        - condition:
            comparison: {source: input:a, op: ">", value: 1}
    actions:
      - set_value: {key: output:x, value: 1}
`,
			want: "no rule name",
		},
		{
			name: "no conditions",
			doc: `
version: 1
rules:
  - name: r1
    conditions: {}
    actions:
      - set_value: {key: output:x, value: 1}
`,
			want: "no rule conditions",
		},
		{
			name: "no actions",
			doc: `
version: 1
rules:
  - name: r1
    conditions:
      all:
        - condition:
            comparison: {source: input:a, op: ">", value: 1}
`,
			want: "no rule actions",
		},
		{
			name: "two condition variants",
			doc: `
version: 1
rules:
  - name: r1
    conditions:
      all:
        - condition:
            comparison: {source: input:a, op: ">", value: 1}
            expression: {expr: "input:a > 1"}
    actions:
      - set_value: {key: output:x, value: 1}
`,
			want: "only one condition variant",
		},
		{
			name: "two action variants",
			doc: `
version: 1
rules:
  - name: r1
    conditions:
      all:
        - condition:
            comparison: {source: input:a, op: ">", value: 1}
    actions:
      - set_value: {key: output:x, value: 1}
        send_message: {channel: c, message: m}
`,
			want: "only one action variant",
		},
		{
			name: "set_value with both value forms",
			doc: `
version: 1
rules:
  - name: r1
    conditions:
      all:
        - condition:
            comparison: {source: input:a, op: ">", value: 1}
    actions:
      - set_value: {key: output:x, value: 1, value_expression: "input:a"}
`,
			want: "not both",
		},
		{
			name: "set_value with neither value form",
			doc: `
version: 1
rules:
  - name: r1
    conditions:
      all:
        - condition:
            comparison: {source: input:a, op: ">", value: 1}
    actions:
      - set_value: {key: output:x}
`,
			want: "either `value` or `value_expression`",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc), tt.name+".yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseNestedGroups(t *testing.T) {
	doc := `
version: 1
rules:
  - name: r1
    conditions:
      all:
        - condition:
            comparison: {source: input:a, op: ">", value: 1}
        - any:
            - condition:
                comparison: {source: input:b, op: ">", value: 2}
            - condition:
                comparison: {source: input:c, op: "<", value: 3}
    actions:
      - set_value: {key: output:x, value: 1}
`
	file, err := Parse(strings.NewReader(doc), "nested.yaml")
	require.NoError(t, err)

	nested := file.Rules[0].Conditions.All[1]
	require.False(t, nested.IsLeaf())
	assert.Len(t, nested.Group().Any, 2)
}

// Re-serializing a parsed document and parsing it again yields the same
// AST: parsing is a bijection up to normalization.
func TestMarshalRoundTrip(t *testing.T) {
	file := parseSample(t)

	out, err := Marshal(file)
	require.NoError(t, err)
	again, err := Parse(bytes.NewReader(out), "roundtrip.yaml")
	require.NoError(t, err)
	assert.Equal(t, file, again)
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile("/does/not/exist.yaml")
	require.Error(t, err)
	var loadErr *ErrRuleFileLoad
	assert.True(t, errors.As(err, &loadErr))
}
