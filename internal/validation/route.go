package validation

import "go.uber.org/zap"

// RouteStatuses are the status values a raw route record may carry. Matching
// is case-insensitive; the canonical lower-case form is suggested back.
var RouteStatuses = []string{"scheduled", "in_progress", "completed", "cancelled", "delayed"}

// NewRouteValidator builds a validator preloaded with the rule set for raw
// route records. Identity fields are errors; measurement and descriptive
// fields are warnings so a questionable value annotates the record without
// dropping it.
func NewRouteValidator(logger *zap.Logger) *Validator {
	v := New(logger)

	v.AddRule(Rule{
		Field:    "route_id",
		Check:    "required",
		Severity: SeverityError,
	})
	v.AddRule(Rule{
		Field:    "route_id",
		Check:    "length",
		Params:   map[string]interface{}{"min": 1, "max": 50},
		Severity: SeverityError,
	})
	v.AddRule(Rule{
		Field:    "route_date",
		Check:    "required",
		Severity: SeverityError,
	})
	v.AddRule(Rule{
		Field:    "route_date",
		Check:    "type",
		Params:   map[string]interface{}{"type": "date"},
		Severity: SeverityError,
	})

	v.AddRule(Rule{
		Field:    "total_miles",
		Check:    "type",
		Params:   map[string]interface{}{"type": "number"},
		Severity: SeverityWarning,
	})
	v.AddRule(Rule{
		Field:    "total_miles",
		Check:    "range",
		Params:   map[string]interface{}{"min": 0, "max": 5000},
		Severity: SeverityWarning,
		Message:  "total_miles outside plausible range for a single route",
	})

	v.AddRule(Rule{
		Field:    "revenue",
		Check:    "type",
		Params:   map[string]interface{}{"type": "number"},
		Severity: SeverityWarning,
	})
	v.AddRule(Rule{
		Field:    "revenue",
		Check:    "positive",
		Severity: SeverityWarning,
	})

	v.AddRule(Rule{
		Field:    "driver_name",
		Check:    "length",
		Params:   map[string]interface{}{"min": 2, "max": 100},
		Severity: SeverityWarning,
	})

	v.AddRule(Rule{
		Field:    "status",
		Check:    "choices",
		Params:   map[string]interface{}{"choices": RouteStatuses},
		Severity: SeverityWarning,
	})

	return v
}
