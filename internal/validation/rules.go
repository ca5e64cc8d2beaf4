package validation

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// ruleSpec is the on-disk form of a validation rule.
type ruleSpec struct {
	FieldName  string                 `json:"field_name"`
	RuleType   string                 `json:"rule_type"`
	Parameters map[string]interface{} `json:"parameters"`
	Severity   string                 `json:"severity"`
	Message    string                 `json:"message"`
}

// RulesFromJSON parses a JSON rule list into rules. Severity defaults to
// error when absent.
func RulesFromJSON(data []byte) ([]Rule, error) {
	var specs []ruleSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parsing rule list: %w", err)
	}

	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		if spec.FieldName == "" {
			return nil, fmt.Errorf("rule %d: field_name is required", i)
		}
		if spec.RuleType == "" {
			return nil, fmt.Errorf("rule %d: rule_type is required", i)
		}

		severity := Severity(spec.Severity)
		switch severity {
		case "":
			severity = SeverityError
		case SeverityError, SeverityWarning, SeverityInfo:
		default:
			return nil, fmt.Errorf("rule %d: unknown severity %q", i, spec.Severity)
		}

		rules = append(rules, Rule{
			Field:    spec.FieldName,
			Check:    spec.RuleType,
			Params:   spec.Parameters,
			Severity: severity,
			Message:  spec.Message,
		})
	}
	return rules, nil
}

// NewFromJSON builds a validator from a JSON rule list.
func NewFromJSON(data []byte, logger *zap.Logger) (*Validator, error) {
	rules, err := RulesFromJSON(data)
	if err != nil {
		return nil, err
	}

	v := New(logger)
	for _, rule := range rules {
		v.AddRule(rule)
	}
	return v, nil
}

// NewFromFile builds a validator from a JSON rule file.
func NewFromFile(path string, logger *zap.Logger) (*Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	return NewFromJSON(data, logger)
}
