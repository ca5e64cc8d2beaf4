package cleaner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Cleaner normalizes field-level representations of route data. All methods
// are deterministic and side-effect free; values that cannot be normalized
// resolve to nil rather than errors so a bad field never fails a batch.
type Cleaner struct {
	logger *zap.Logger
}

var (
	nonDigitPattern = regexp.MustCompile(`\D`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	zipPattern      = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

var usStates = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true,
	"CT": true, "DE": true, "FL": true, "GA": true, "HI": true, "ID": true,
	"IL": true, "IN": true, "IA": true, "KS": true, "KY": true, "LA": true,
	"ME": true, "MD": true, "MA": true, "MI": true, "MN": true, "MS": true,
	"MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true,
	"NM": true, "NY": true, "NC": true, "ND": true, "OH": true, "OK": true,
	"OR": true, "PA": true, "RI": true, "SC": true, "SD": true, "TN": true,
	"TX": true, "UT": true, "VT": true, "VA": true, "WA": true, "WV": true,
	"WI": true, "WY": true,
}

var stateNames = map[string]string{
	"ALABAMA": "AL", "ALASKA": "AK", "ARIZONA": "AZ", "ARKANSAS": "AR",
	"CALIFORNIA": "CA", "COLORADO": "CO", "CONNECTICUT": "CT", "DELAWARE": "DE",
	"FLORIDA": "FL", "GEORGIA": "GA", "HAWAII": "HI", "IDAHO": "ID",
	"ILLINOIS": "IL", "INDIANA": "IN", "IOWA": "IA", "KANSAS": "KS",
	"KENTUCKY": "KY", "LOUISIANA": "LA", "MAINE": "ME", "MARYLAND": "MD",
	"MASSACHUSETTS": "MA", "MICHIGAN": "MI", "MINNESOTA": "MN", "MISSISSIPPI": "MS",
	"MISSOURI": "MO", "MONTANA": "MT", "NEBRASKA": "NE", "NEVADA": "NV",
	"NEW HAMPSHIRE": "NH", "NEW JERSEY": "NJ", "NEW MEXICO": "NM", "NEW YORK": "NY",
	"NORTH CAROLINA": "NC", "NORTH DAKOTA": "ND", "OHIO": "OH", "OKLAHOMA": "OK",
	"OREGON": "OR", "PENNSYLVANIA": "PA", "RHODE ISLAND": "RI", "SOUTH CAROLINA": "SC",
	"SOUTH DAKOTA": "SD", "TENNESSEE": "TN", "TEXAS": "TX", "UTAH": "UT",
	"VERMONT": "VT", "VIRGINIA": "VA", "WASHINGTON": "WA", "WEST VIRGINIA": "WV",
	"WISCONSIN": "WI", "WYOMING": "WY",
}

// Street and direction abbreviations applied after title-casing.
var addressAbbreviations = []struct {
	full    string
	abbrev  string
	pattern *regexp.Regexp
}{
	{"Street", "St", regexp.MustCompile(`(?i)\bStreet\b`)},
	{"Avenue", "Ave", regexp.MustCompile(`(?i)\bAvenue\b`)},
	{"Boulevard", "Blvd", regexp.MustCompile(`(?i)\bBoulevard\b`)},
	{"Drive", "Dr", regexp.MustCompile(`(?i)\bDrive\b`)},
	{"Lane", "Ln", regexp.MustCompile(`(?i)\bLane\b`)},
	{"Road", "Rd", regexp.MustCompile(`(?i)\bRoad\b`)},
	{"Circle", "Cir", regexp.MustCompile(`(?i)\bCircle\b`)},
	{"Court", "Ct", regexp.MustCompile(`(?i)\bCourt\b`)},
	{"Place", "Pl", regexp.MustCompile(`(?i)\bPlace\b`)},
	{"Square", "Sq", regexp.MustCompile(`(?i)\bSquare\b`)},
	{"Trail", "Trl", regexp.MustCompile(`(?i)\bTrail\b`)},
	{"Parkway", "Pkwy", regexp.MustCompile(`(?i)\bParkway\b`)},
	{"Northeast", "NE", regexp.MustCompile(`(?i)\bNortheast\b`)},
	{"Northwest", "NW", regexp.MustCompile(`(?i)\bNorthwest\b`)},
	{"Southeast", "SE", regexp.MustCompile(`(?i)\bSoutheast\b`)},
	{"Southwest", "SW", regexp.MustCompile(`(?i)\bSouthwest\b`)},
	{"North", "N", regexp.MustCompile(`(?i)\bNorth\b`)},
	{"South", "S", regexp.MustCompile(`(?i)\bSouth\b`)},
	{"East", "E", regexp.MustCompile(`(?i)\bEast\b`)},
	{"West", "W", regexp.MustCompile(`(?i)\bWest\b`)},
}

// Datetime formats tried in order. First match wins.
var datetimeFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"01-02-2006 15:04:05",
	"01-02-2006 15:04",
	"01-02-2006",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// NumericFields are the record keys cleaned as numbers.
var NumericFields = []string{
	"load_weight", "load_value", "total_miles", "empty_miles",
	"fuel_consumed", "average_speed", "revenue", "fuel_cost",
	"toll_cost", "driver_pay", "other_costs",
}

// DatetimeFields are the record keys cleaned as timestamps.
var DatetimeFields = []string{
	"scheduled_start_time", "actual_start_time",
	"scheduled_end_time", "actual_end_time",
	"start_time", "end_time",
}

// TextFields are the record keys cleaned as free text.
var TextFields = []string{"load_type", "special_requirements", "status", "notes"}

// New creates a cleaner.
func New(logger *zap.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Phone normalizes a phone number to (XXX) XXX-XXXX. Only 10-digit numbers
// and 11-digit numbers with a leading 1 are accepted.
func (c *Cleaner) Phone(phone string) *string {
	if strings.TrimSpace(phone) == "" {
		return nil
	}

	digits := nonDigitPattern.ReplaceAllString(phone, "")

	var formatted string
	switch {
	case len(digits) == 10:
		formatted = fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:])
	case len(digits) == 11 && digits[0] == '1':
		formatted = fmt.Sprintf("(%s) %s-%s", digits[1:4], digits[4:7], digits[7:])
	default:
		c.logger.Warn("invalid phone number format", zap.String("phone", phone))
		return nil
	}

	return &formatted
}

// Email lower-cases and validates an email address.
func (c *Cleaner) Email(email string) *string {
	if strings.TrimSpace(email) == "" {
		return nil
	}

	cleaned := strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(cleaned) {
		c.logger.Warn("invalid email format", zap.String("email", cleaned))
		return nil
	}

	return &cleaned
}

// ZipCode validates a 5 or 5+4 digit ZIP code.
func (c *Cleaner) ZipCode(zip string) *string {
	if strings.TrimSpace(zip) == "" {
		return nil
	}

	cleaned := strings.ReplaceAll(strings.TrimSpace(zip), " ", "")
	if !zipPattern.MatchString(cleaned) {
		c.logger.Warn("invalid zip code format", zap.String("zip_code", cleaned))
		return nil
	}

	return &cleaned
}

// State resolves a state abbreviation or full name to a two-letter USPS code.
func (c *Cleaner) State(state string) *string {
	if strings.TrimSpace(state) == "" {
		return nil
	}

	cleaned := strings.ToUpper(strings.TrimSpace(state))
	if usStates[cleaned] {
		return &cleaned
	}
	if abbrev, ok := stateNames[cleaned]; ok {
		return &abbrev
	}

	c.logger.Warn("invalid state", zap.String("state", state))
	return nil
}

// Address collapses whitespace, title-cases, and applies common street and
// direction abbreviations.
func (c *Cleaner) Address(address string) *string {
	if strings.TrimSpace(address) == "" {
		return nil
	}

	cleaned := spacePattern.ReplaceAllString(strings.TrimSpace(address), " ")
	cleaned = titleCase(cleaned)

	for _, abbr := range addressAbbreviations {
		cleaned = abbr.pattern.ReplaceAllString(cleaned, abbr.abbrev)
	}

	return &cleaned
}

// DateTime parses a value against an ordered list of explicit formats.
func (c *Cleaner) DateTime(value interface{}) *time.Time {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		return &v
	case *time.Time:
		return v
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		for _, format := range datetimeFormats {
			if parsed, err := time.Parse(format, s); err == nil {
				return &parsed
			}
		}
		c.logger.Warn("unable to parse datetime", zap.String("value", s))
		return nil
	default:
		return nil
	}
}

// Numeric strips currency and grouping characters before float conversion.
func (c *Cleaner) Numeric(value interface{}) *float64 {
	switch v := value.(type) {
	case nil:
		return nil
	case float64:
		return &v
	case float32:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		s = strings.NewReplacer(",", "", "$", "", "%", "").Replace(s)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			c.logger.Warn("unable to convert to numeric", zap.String("value", v))
			return nil
		}
		return &f
	default:
		return nil
	}
}

// CleanRouteRecord cleans a complete raw route record, including nested
// start/end location, customer, and driver sub-records.
func (c *Cleaner) CleanRouteRecord(record map[string]interface{}) map[string]interface{} {
	cleaned := make(map[string]interface{})

	if dt := c.DateTime(record["route_date"]); dt != nil {
		cleaned["route_date"] = *dt
	}
	if id, ok := record["route_id"].(string); ok && strings.TrimSpace(id) != "" {
		cleaned["route_id"] = strings.TrimSpace(id)
	}

	for _, key := range []string{"start_location", "end_location"} {
		if loc, ok := record[key].(map[string]interface{}); ok {
			cleaned[key] = c.cleanLocation(loc)
		}
	}

	for _, key := range []string{"customer", "driver"} {
		if contact, ok := record[key].(map[string]interface{}); ok {
			cleaned[key] = c.cleanContact(contact)
		}
	}

	if vehicle, ok := record["vehicle"].(map[string]interface{}); ok {
		cleaned["vehicle"] = vehicle
	}

	for _, field := range NumericFields {
		if value, ok := record[field]; ok {
			if n := c.Numeric(value); n != nil {
				cleaned[field] = *n
			} else {
				cleaned[field] = nil
			}
		}
	}

	for _, field := range DatetimeFields {
		if value, ok := record[field]; ok {
			if dt := c.DateTime(value); dt != nil {
				cleaned[field] = *dt
			} else {
				cleaned[field] = nil
			}
		}
	}

	for _, field := range TextFields {
		if value, ok := record[field]; ok && value != nil {
			s := strings.TrimSpace(fmt.Sprintf("%v", value))
			if s != "" {
				cleaned[field] = s
			} else {
				cleaned[field] = nil
			}
		}
	}

	// Pass through remaining fields untouched.
	for key, value := range record {
		if _, exists := cleaned[key]; !exists {
			cleaned[key] = value
		}
	}

	return cleaned
}

func (c *Cleaner) cleanLocation(loc map[string]interface{}) map[string]interface{} {
	result := map[string]interface{}{
		"address":  derefOrNil(c.Address(stringValue(loc["address"]))),
		"state":    derefOrNil(c.State(stringValue(loc["state"]))),
		"zip_code": derefOrNil(c.ZipCode(stringValue(loc["zip_code"]))),
	}

	if city := strings.TrimSpace(stringValue(loc["city"])); city != "" {
		result["city"] = titleCase(city)
	} else {
		result["city"] = nil
	}

	for _, key := range []string{"latitude", "longitude"} {
		if value, ok := loc[key]; ok {
			result[key] = derefFloatOrNil(c.Numeric(value))
		}
	}

	return result
}

func (c *Cleaner) cleanContact(contact map[string]interface{}) map[string]interface{} {
	result := map[string]interface{}{
		"phone": derefOrNil(c.Phone(stringValue(contact["phone"]))),
		"email": derefOrNil(c.Email(stringValue(contact["email"]))),
	}

	if name := strings.TrimSpace(stringValue(contact["name"])); name != "" {
		result["name"] = titleCase(name)
	} else {
		result["name"] = nil
	}

	// Carry through any extra contact fields untouched.
	for key, value := range contact {
		if _, exists := result[key]; !exists {
			result[key] = value
		}
	}

	return result
}

// RemoveDuplicates deduplicates records by a composite key over the given
// fields. First occurrence wins.
func (c *Cleaner) RemoveDuplicates(records []map[string]interface{}, keyFields []string) []map[string]interface{} {
	if len(keyFields) == 0 {
		keyFields = []string{"route_date", "driver_id", "start_location", "end_location"}
	}

	seen := make(map[string]bool)
	unique := make([]map[string]interface{}, 0, len(records))

	for _, record := range records {
		parts := make([]string, len(keyFields))
		for i, field := range keyFields {
			parts[i] = fmt.Sprintf("%v", record[field])
		}
		key := strings.Join(parts, "|")

		if seen[key] {
			c.logger.Warn("duplicate record removed", zap.String("key", key))
			continue
		}
		seen[key] = true
		unique = append(unique, record)
	}

	if removed := len(records) - len(unique); removed > 0 {
		c.logger.Info("removed duplicate records", zap.Int("count", removed))
	}
	return unique
}

// ValidateRequiredFields reports whether every required field is present and
// non-empty.
func (c *Cleaner) ValidateRequiredFields(record map[string]interface{}, required []string) bool {
	var missing []string
	for _, field := range required {
		value, ok := record[field]
		if !ok || value == nil || value == "" {
			missing = append(missing, field)
		}
	}

	if len(missing) > 0 {
		c.logger.Warn("missing required fields", zap.Strings("fields", missing))
		return false
	}
	return true
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, word := range words {
		if word != "" {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}

func stringValue(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func derefOrNil(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func derefFloatOrNil(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
