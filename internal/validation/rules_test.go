package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRulesFromJSON(t *testing.T) {
	data := []byte(`[
		{"field_name": "route_id", "rule_type": "required", "severity": "error"},
		{"field_name": "total_miles", "rule_type": "range",
		 "parameters": {"min": 0, "max": 5000}, "severity": "warning",
		 "message": "mileage out of range"}
	]`)

	rules, err := RulesFromJSON(data)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "route_id", rules[0].Field)
	assert.Equal(t, "required", rules[0].Check)
	assert.Equal(t, SeverityError, rules[0].Severity)

	assert.Equal(t, SeverityWarning, rules[1].Severity)
	assert.Equal(t, 5000.0, rules[1].Params["max"])
	assert.Equal(t, "mileage out of range", rules[1].Message)
}

func TestRulesFromJSONDefaultsSeverity(t *testing.T) {
	rules, err := RulesFromJSON([]byte(`[{"field_name": "x", "rule_type": "required"}]`))
	require.NoError(t, err)
	assert.Equal(t, SeverityError, rules[0].Severity)
}

func TestRulesFromJSONRejectsBadSpecs(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "nope"},
		{"missing field", `[{"rule_type": "required"}]`},
		{"missing type", `[{"field_name": "x"}]`},
		{"bad severity", `[{"field_name": "x", "rule_type": "required", "severity": "fatal"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RulesFromJSON([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestNewFromJSONValidates(t *testing.T) {
	v, err := NewFromJSON([]byte(`[
		{"field_name": "route_id", "rule_type": "required", "severity": "error"}
	]`), zap.NewNop())
	require.NoError(t, err)

	result := v.ValidateRecord(map[string]interface{}{"driver_name": "x"})
	assert.False(t, result.Valid)

	result = v.ValidateRecord(map[string]interface{}{"route_id": "R-1"})
	assert.True(t, result.Valid)
}
