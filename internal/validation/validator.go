package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Severity classifies a validation finding. Error findings exclude a record
// from further processing; warnings and info only annotate it.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// CheckFunc evaluates one field value. It returns whether the value passes,
// a message when it does not, and an optional corrected value the caller may
// substitute.
type CheckFunc func(value interface{}, params map[string]interface{}) (ok bool, message string, suggestion interface{})

// Rule binds a named check to a field with parameters and a severity.
type Rule struct {
	Field    string
	Check    string
	Params   map[string]interface{}
	Severity Severity
	Message  string
}

// Finding is one validation outcome for a record field.
type Finding struct {
	Field      string      `json:"field"`
	Severity   Severity    `json:"severity"`
	Message    string      `json:"message"`
	Value      interface{} `json:"value,omitempty"`
	Suggestion interface{} `json:"suggestion,omitempty"`
}

// Result aggregates the findings for a single record.
type Result struct {
	Valid    bool      `json:"valid"`
	Findings []Finding `json:"findings"`
}

// Errors returns only the error-severity findings.
func (r *Result) Errors() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			out = append(out, f)
		}
	}
	return out
}

// Warnings returns only the warning-severity findings.
func (r *Result) Warnings() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityWarning {
			out = append(out, f)
		}
	}
	return out
}

// Validator runs a configured rule set against raw records.
type Validator struct {
	rules  []Rule
	checks map[string]CheckFunc
	logger *zap.Logger
}

// New creates a validator with the built-in check library and no rules.
func New(logger *zap.Logger) *Validator {
	v := &Validator{logger: logger}
	v.checks = map[string]CheckFunc{
		"required":   checkRequired,
		"type":       checkType,
		"range":      checkRange,
		"length":     checkLength,
		"pattern":    checkPattern,
		"choices":    checkChoices,
		"email":      checkEmail,
		"phone":      checkPhone,
		"date_range": checkDateRange,
		"positive":   checkPositive,
	}
	return v
}

// AddRule appends a rule to the rule set.
func (v *Validator) AddRule(rule Rule) {
	v.rules = append(v.rules, rule)
}

// RegisterCheck installs a custom check under the given name.
func (v *Validator) RegisterCheck(name string, check CheckFunc) {
	v.checks[name] = check
}

// ValidateRecord applies every rule to the record. A rule referencing an
// unknown check, or a check that panics, yields an error finding rather
// than aborting the run.
func (v *Validator) ValidateRecord(record map[string]interface{}) *Result {
	result := &Result{Valid: true}

	for _, rule := range v.rules {
		finding, ok := v.applyRule(record, rule)
		if ok {
			continue
		}
		result.Findings = append(result.Findings, finding)
		if finding.Severity == SeverityError {
			result.Valid = false
		}
	}

	return result
}

func (v *Validator) applyRule(record map[string]interface{}, rule Rule) (finding Finding, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("validation check panicked",
				zap.String("field", rule.Field),
				zap.String("check", rule.Check),
				zap.Any("panic", r))
			finding = Finding{
				Field:    rule.Field,
				Severity: SeverityError,
				Message:  fmt.Sprintf("check %s failed: %v", rule.Check, r),
			}
			ok = false
		}
	}()

	check, exists := v.checks[rule.Check]
	if !exists {
		return Finding{
			Field:    rule.Field,
			Severity: SeverityError,
			Message:  fmt.Sprintf("unknown check: %s", rule.Check),
		}, false
	}

	value := record[rule.Field]
	passed, message, suggestion := check(value, rule.Params)
	if passed {
		return Finding{}, true
	}

	if rule.Message != "" {
		message = rule.Message
	}
	return Finding{
		Field:      rule.Field,
		Severity:   rule.Severity,
		Message:    message,
		Value:      value,
		Suggestion: suggestion,
	}, false
}

// ValidateBatch validates every record and partitions the batch. A record
// with any error finding lands in invalid; all others in valid.
func (v *Validator) ValidateBatch(records []map[string]interface{}) (valid, invalid []map[string]interface{}, results []*Result) {
	results = make([]*Result, 0, len(records))

	for _, record := range records {
		result := v.ValidateRecord(record)
		results = append(results, result)
		if result.Valid {
			valid = append(valid, record)
		} else {
			invalid = append(invalid, record)
		}
	}

	v.logger.Info("batch validation complete",
		zap.Int("total", len(records)),
		zap.Int("valid", len(valid)),
		zap.Int("invalid", len(invalid)))
	return valid, invalid, results
}

// Built-in checks.

func checkRequired(value interface{}, _ map[string]interface{}) (bool, string, interface{}) {
	if value == nil {
		return false, "field is required", nil
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return false, "field is required", nil
	}
	return true, "", nil
}

func checkType(value interface{}, params map[string]interface{}) (bool, string, interface{}) {
	if value == nil {
		return true, "", nil
	}

	expected, _ := params["type"].(string)
	switch expected {
	case "string":
		if _, ok := value.(string); ok {
			return true, "", nil
		}
	case "number":
		if _, ok := toFloat(value); ok {
			return true, "", nil
		}
	case "integer":
		if f, ok := toFloat(value); ok && f == float64(int64(f)) {
			return true, "", nil
		}
	case "boolean":
		if _, ok := value.(bool); ok {
			return true, "", nil
		}
	case "date":
		if _, ok := value.(time.Time); ok {
			return true, "", nil
		}
		if s, ok := value.(string); ok {
			if _, err := parseAnyDate(s); err == nil {
				return true, "", nil
			}
		}
	default:
		return false, fmt.Sprintf("unknown type constraint: %s", expected), nil
	}
	return false, fmt.Sprintf("expected %s, got %T", expected, value), nil
}

func checkRange(value interface{}, params map[string]interface{}) (bool, string, interface{}) {
	if value == nil {
		return true, "", nil
	}

	f, ok := toFloat(value)
	if !ok {
		return false, "value is not numeric", nil
	}

	if min, exists := paramFloat(params, "min"); exists && f < min {
		return false, fmt.Sprintf("value %v below minimum %v", f, min), min
	}
	if max, exists := paramFloat(params, "max"); exists && f > max {
		return false, fmt.Sprintf("value %v above maximum %v", f, max), max
	}
	return true, "", nil
}

func checkLength(value interface{}, params map[string]interface{}) (bool, string, interface{}) {
	if value == nil {
		return true, "", nil
	}

	s, ok := value.(string)
	if !ok {
		s = fmt.Sprintf("%v", value)
	}

	if min, exists := paramFloat(params, "min"); exists && len(s) < int(min) {
		return false, fmt.Sprintf("length %d below minimum %d", len(s), int(min)), nil
	}
	if max, exists := paramFloat(params, "max"); exists && len(s) > int(max) {
		return false, fmt.Sprintf("length %d above maximum %d", len(s), int(max)), s[:int(max)]
	}
	return true, "", nil
}

func checkPattern(value interface{}, params map[string]interface{}) (bool, string, interface{}) {
	if value == nil {
		return true, "", nil
	}

	pattern, _ := params["pattern"].(string)
	// Matching is anchored at the start of the value.
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return false, fmt.Sprintf("invalid pattern: %v", err), nil
	}

	s := fmt.Sprintf("%v", value)
	if !re.MatchString(s) {
		return false, fmt.Sprintf("value does not match pattern %s", pattern), nil
	}
	return true, "", nil
}

func checkChoices(value interface{}, params map[string]interface{}) (bool, string, interface{}) {
	if value == nil {
		return true, "", nil
	}

	choices, _ := params["choices"].([]string)
	if choices == nil {
		if raw, ok := params["choices"].([]interface{}); ok {
			for _, c := range raw {
				choices = append(choices, fmt.Sprintf("%v", c))
			}
		}
	}

	s := fmt.Sprintf("%v", value)
	for _, choice := range choices {
		if strings.EqualFold(s, choice) {
			// Suggest canonical casing when the input differs.
			if s != choice {
				return true, "", choice
			}
			return true, "", nil
		}
	}
	return false, fmt.Sprintf("value %q not in allowed choices %v", s, choices), nil
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func checkEmail(value interface{}, _ map[string]interface{}) (bool, string, interface{}) {
	if value == nil {
		return true, "", nil
	}

	s, ok := value.(string)
	if !ok || !emailPattern.MatchString(strings.TrimSpace(s)) {
		return false, "invalid email address", nil
	}
	return true, "", nil
}

var nonDigitPattern = regexp.MustCompile(`\D`)

func checkPhone(value interface{}, _ map[string]interface{}) (bool, string, interface{}) {
	if value == nil {
		return true, "", nil
	}

	digits := nonDigitPattern.ReplaceAllString(fmt.Sprintf("%v", value), "")
	if len(digits) == 10 || (len(digits) == 11 && digits[0] == '1') {
		return true, "", nil
	}
	return false, "invalid phone number", nil
}

func checkDateRange(value interface{}, params map[string]interface{}) (bool, string, interface{}) {
	if value == nil {
		return true, "", nil
	}

	var t time.Time
	switch v := value.(type) {
	case time.Time:
		t = v
	case string:
		parsed, err := parseAnyDate(v)
		if err != nil {
			return false, "value is not a date", nil
		}
		t = parsed
	default:
		return false, "value is not a date", nil
	}

	if minStr, ok := params["min"].(string); ok {
		if min, err := parseAnyDate(minStr); err == nil && t.Before(min) {
			return false, fmt.Sprintf("date %s before minimum %s", t.Format("2006-01-02"), minStr), nil
		}
	}
	if maxStr, ok := params["max"].(string); ok {
		if max, err := parseAnyDate(maxStr); err == nil && t.After(max) {
			return false, fmt.Sprintf("date %s after maximum %s", t.Format("2006-01-02"), maxStr), nil
		}
	}
	return true, "", nil
}

func checkPositive(value interface{}, _ map[string]interface{}) (bool, string, interface{}) {
	if value == nil {
		return true, "", nil
	}

	f, ok := toFloat(value)
	if !ok {
		return false, "value is not numeric", nil
	}
	if f <= 0 {
		return false, fmt.Sprintf("value %v must be positive", f), nil
	}
	return true, "", nil
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func paramFloat(params map[string]interface{}, key string) (float64, bool) {
	value, ok := params[key]
	if !ok {
		return 0, false
	}
	return toFloat(value)
}

var dateFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	time.RFC3339,
}

func parseAnyDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date: %s", s)
}
