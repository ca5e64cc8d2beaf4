package collector

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// fieldAliases maps canonical record fields to the names sources use for
// them. Order matters: the first alias present in the raw record wins.
var fieldAliases = []struct {
	canonical string
	aliases   []string
}{
	{"route_id", []string{"route_id", "routeId", "route_number", "trip_id", "tripId", "load_id", "loadId", "load_number", "id"}},
	{"route_date", []string{"route_date", "routeDate", "date", "trip_date", "tripDate", "delivery_date", "service_date"}},
	{"driver_name", []string{"driver_name", "driverName", "driver", "operator", "operator_name"}},
	{"driver_id", []string{"driver_id", "driverId", "driver_number", "employee_id"}},
	{"vehicle_id", []string{"vehicle_id", "vehicleId", "truck_id", "truckId", "truck_number", "unit", "unit_number"}},
	{"customer_name", []string{"customer_name", "customerName", "customer", "shipper", "client", "account"}},
	{"start_location", []string{"start_location", "startLocation", "origin", "pickup", "pickup_location", "from"}},
	{"end_location", []string{"end_location", "endLocation", "destination", "dropoff", "delivery_location", "to"}},
	{"total_miles", []string{"total_miles", "totalMiles", "miles", "distance", "odometer_miles", "trip_miles"}},
	{"empty_miles", []string{"empty_miles", "emptyMiles", "deadhead", "deadhead_miles", "unloaded_miles"}},
	{"revenue", []string{"revenue", "rate", "total_rate", "line_haul", "linehaul", "amount", "total_amount"}},
	{"fuel_consumed", []string{"fuel_consumed", "fuelConsumed", "fuel_gallons", "gallons", "fuel_used"}},
	{"load_weight", []string{"load_weight", "loadWeight", "weight", "gross_weight", "cargo_weight"}},
	{"load_type", []string{"load_type", "loadType", "commodity", "cargo_type", "freight_type"}},
	{"status", []string{"status", "route_status", "trip_status", "state"}},
	{"scheduled_start_time", []string{"scheduled_start_time", "scheduledStartTime", "scheduled_pickup", "pickup_time"}},
	{"scheduled_end_time", []string{"scheduled_end_time", "scheduledEndTime", "scheduled_delivery", "delivery_time"}},
	{"actual_start_time", []string{"actual_start_time", "actualStartTime", "departed_at", "start_time"}},
	{"actual_end_time", []string{"actual_end_time", "actualEndTime", "arrived_at", "end_time"}},
	{"notes", []string{"notes", "comments", "remarks", "memo"}},
}

// numericCanonicalFields are canonical fields coerced to float64.
var numericCanonicalFields = map[string]bool{
	"total_miles":   true,
	"empty_miles":   true,
	"revenue":       true,
	"fuel_consumed": true,
	"load_weight":   true,
}

// standardizer converts source-shaped raw records into canonical records
// and enforces required fields.
type standardizer struct {
	source    string
	required  []string
	overrides map[string]string
	logger    *zap.Logger
}

func newStandardizer(source string, required []string, overrides map[string]string, logger *zap.Logger) *standardizer {
	return &standardizer{source: source, required: required, overrides: overrides, logger: logger}
}

// standardize converts one raw record. It returns nil when the record lacks
// a required field, recording the reason in errs.
func (s *standardizer) standardize(raw map[string]interface{}) (map[string]interface{}, error) {
	record := make(map[string]interface{})

	for _, entry := range fieldAliases {
		// A source-specific mapping overrides the alias table.
		if mapped, ok := s.overrides[entry.canonical]; ok {
			if value, present := lookup(raw, mapped); present {
				record[entry.canonical] = coerce(entry.canonical, value)
			}
			continue
		}
		for _, alias := range entry.aliases {
			if value, present := lookup(raw, alias); present {
				record[entry.canonical] = coerce(entry.canonical, value)
				break
			}
		}
	}

	record["data_source"] = s.source
	record["collected_at"] = time.Now()

	if missing := requireFields(record, s.required); len(missing) > 0 {
		return nil, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	return record, nil
}

// standardizeBatch converts a batch, dropping records that fail and
// collecting one error message per dropped record.
func (s *standardizer) standardizeBatch(raw []map[string]interface{}) (records []map[string]interface{}, errs []string) {
	for i, r := range raw {
		record, err := s.standardize(r)
		if err != nil {
			errs = append(errs, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		records = append(records, record)
	}

	if len(errs) > 0 {
		s.logger.Warn("records dropped during standardization",
			zap.String("source", s.source),
			zap.Int("dropped", len(errs)),
			zap.Int("kept", len(records)))
	}
	return records, errs
}

// lookup finds a key in the raw record, tolerating case differences.
func lookup(raw map[string]interface{}, key string) (interface{}, bool) {
	if value, ok := raw[key]; ok {
		return value, true
	}
	for k, value := range raw {
		if strings.EqualFold(k, key) {
			return value, true
		}
	}
	return nil, false
}

// coerce applies canonical typing to a field value. Values that cannot be
// coerced pass through untouched for downstream cleaning to handle.
func coerce(canonical string, value interface{}) interface{} {
	if value == nil {
		return nil
	}

	if numericCanonicalFields[canonical] {
		if f, ok := toFloat(value); ok {
			return f
		}
		return value
	}

	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return value
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		s := strings.NewReplacer(",", "", "$", "", " ", "").Replace(v)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
