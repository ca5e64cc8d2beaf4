package transformer

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jlwj22/route-data-pipeline/internal/cleaner"
	"github.com/jlwj22/route-data-pipeline/internal/models"
)

// Transformer converts cleaned route records into the entity model,
// deduplicating locations, customers, drivers, and vehicles by natural key.
type Transformer struct {
	cleaner *cleaner.Cleaner
	logger  *zap.Logger
}

// Options scope one transformation run.
type Options struct {
	// DateFrom and DateTo bound route_date; zero values disable the bound.
	DateFrom time.Time
	DateTo   time.Time
}

// Issue is a structural problem found while transforming a batch.
type Issue struct {
	Severity string `json:"severity"` // error or warning
	Message  string `json:"message"`
}

// New creates a transformer.
func New(c *cleaner.Cleaner, logger *zap.Logger) *Transformer {
	return &Transformer{cleaner: c, logger: logger}
}

// Transform cleans, filters, and assembles a batch of records into an
// EntitySet. Records rejected during cleaning are dropped; unknown enum
// values default with a warning.
func (t *Transformer) Transform(records []map[string]interface{}, opts Options) (*models.EntitySet, []Issue) {
	set := &models.EntitySet{}
	var issues []Issue

	locations := make(map[string]*models.Location)
	customers := make(map[string]*models.Customer)
	drivers := make(map[string]*models.Driver)
	vehicles := make(map[string]*models.Vehicle)

	dropped := 0
	for _, raw := range records {
		record := t.cleaner.CleanRouteRecord(raw)

		routeDate, ok := record["route_date"].(time.Time)
		if !ok {
			dropped++
			continue
		}
		if !opts.DateFrom.IsZero() && routeDate.Before(opts.DateFrom) {
			continue
		}
		if !opts.DateTo.IsZero() && routeDate.After(opts.DateTo) {
			continue
		}

		route := &models.Route{RouteDate: routeDate}
		if id, ok := record["route_id"].(string); ok {
			route.RouteID = id
		}
		if notes, ok := record["notes"].(string); ok {
			route.Notes = notes
		}
		if source, ok := record["data_source"].(string); ok {
			route.DataSource = source
		}

		t.applyEnums(record, route, &issues)
		t.applyMeasures(record, route)
		t.applyTimes(record, route)

		if loc := t.upsertLocation(record["start_location"], locations, set); loc != "" {
			route.StartLocationKey = loc
		}
		if loc := t.upsertLocation(record["end_location"], locations, set); loc != "" {
			route.EndLocationKey = loc
		}
		if key := t.upsertCustomer(record, customers, set); key != "" {
			route.CustomerKey = key
		}
		if key := t.upsertDriver(record, drivers, set); key != "" {
			route.DriverKey = key
		}
		if key := t.upsertVehicle(record, vehicles, set); key != "" {
			route.VehicleKey = key
		}

		set.Routes = append(set.Routes, route)
	}

	if dropped > 0 {
		t.logger.Warn("records dropped during transformation", zap.Int("dropped", dropped))
	}

	issues = append(issues, t.checkStructure(set)...)
	return set, issues
}

// applyEnums resolves status and load type, defaulting unknown values with
// a warning.
func (t *Transformer) applyEnums(record map[string]interface{}, route *models.Route, issues *[]Issue) {
	if raw, ok := record["status"].(string); ok && raw != "" {
		status, err := models.ParseRouteStatus(raw)
		if err != nil {
			*issues = append(*issues, Issue{
				Severity: "warning",
				Message:  fmt.Sprintf("route %s: unknown status %q, defaulting to %s", route.RouteID, raw, status),
			})
		}
		route.Status = status
	} else {
		route.Status = models.RouteStatusScheduled
	}

	if raw, ok := record["load_type"].(string); ok && raw != "" {
		loadType, err := models.ParseLoadType(raw)
		if err != nil {
			*issues = append(*issues, Issue{
				Severity: "warning",
				Message:  fmt.Sprintf("route %s: unknown load type %q, defaulting to %s", route.RouteID, raw, loadType),
			})
		}
		route.LoadType = loadType
	} else {
		route.LoadType = models.LoadTypeGeneral
	}
}

func (t *Transformer) applyMeasures(record map[string]interface{}, route *models.Route) {
	assign := func(field string, dest **float64) {
		if v, ok := record[field].(float64); ok {
			value := v
			*dest = &value
		}
	}

	assign("total_miles", &route.TotalMiles)
	assign("empty_miles", &route.EmptyMiles)
	assign("revenue", &route.Revenue)
	assign("fuel_consumed", &route.FuelConsumed)
	assign("fuel_cost", &route.FuelCost)
	assign("toll_cost", &route.TollCost)
	assign("driver_pay", &route.DriverPay)
	assign("other_costs", &route.OtherCosts)
	assign("load_weight", &route.LoadWeight)
}

func (t *Transformer) applyTimes(record map[string]interface{}, route *models.Route) {
	assign := func(field string, dest **time.Time) {
		if v, ok := record[field].(time.Time); ok {
			value := v
			*dest = &value
		}
	}

	assign("scheduled_start_time", &route.ScheduledStartTime)
	assign("scheduled_end_time", &route.ScheduledEndTime)
	assign("actual_start_time", &route.ActualStartTime)
	assign("actual_end_time", &route.ActualEndTime)
}

// upsertLocation adds a location once per natural key and returns the key.
func (t *Transformer) upsertLocation(value interface{}, index map[string]*models.Location, set *models.EntitySet) string {
	loc := toLocation(value)
	if loc == nil {
		return ""
	}

	key := loc.NaturalKey()
	if key == "" {
		return ""
	}
	if _, exists := index[key]; !exists {
		index[key] = loc
		set.Locations = append(set.Locations, loc)
	}
	return key
}

func (t *Transformer) upsertCustomer(record map[string]interface{}, index map[string]*models.Customer, set *models.EntitySet) string {
	customer := toCustomer(record["customer"])
	if customer == nil {
		if name, ok := record["customer_name"].(string); ok && name != "" {
			customer = &models.Customer{Name: name}
		}
	}
	if customer == nil || customer.Name == "" {
		return ""
	}

	key := customer.NaturalKey()
	if _, exists := index[key]; !exists {
		index[key] = customer
		set.Customers = append(set.Customers, customer)
	}
	return key
}

func (t *Transformer) upsertDriver(record map[string]interface{}, index map[string]*models.Driver, set *models.EntitySet) string {
	driver := toDriver(record["driver"])
	if driver == nil {
		if name, ok := record["driver_name"].(string); ok && name != "" {
			driver = &models.Driver{Name: name}
		}
	}
	if driver == nil || driver.Name == "" {
		return ""
	}

	key := driver.NaturalKey()
	if _, exists := index[key]; !exists {
		index[key] = driver
		set.Drivers = append(set.Drivers, driver)
	}
	return key
}

func (t *Transformer) upsertVehicle(record map[string]interface{}, index map[string]*models.Vehicle, set *models.EntitySet) string {
	var vehicle *models.Vehicle
	if m, ok := record["vehicle"].(map[string]interface{}); ok {
		vehicle = &models.Vehicle{
			LicensePlate: stringOf(m["license_plate"]),
			VIN:          stringOf(m["vin"]),
			UnitNumber:   stringOf(m["unit_number"]),
		}
	} else if unit, ok := record["vehicle_id"].(string); ok && unit != "" {
		vehicle = &models.Vehicle{UnitNumber: unit}
	}
	if vehicle == nil {
		return ""
	}

	key := vehicle.NaturalKey()
	if key == "" {
		return ""
	}
	if _, exists := index[key]; !exists {
		index[key] = vehicle
		set.Vehicles = append(set.Vehicles, vehicle)
	}
	return key
}

// checkStructure validates the assembled set as a whole.
func (t *Transformer) checkStructure(set *models.EntitySet) []Issue {
	var issues []Issue

	if len(set.Routes) == 0 {
		issues = append(issues, Issue{Severity: "error", Message: "no routes in batch"})
		return issues
	}

	withoutLocations := 0
	for _, route := range set.Routes {
		if route.RouteDate.IsZero() {
			issues = append(issues, Issue{
				Severity: "error",
				Message:  fmt.Sprintf("route %s has no date", route.RouteID),
			})
		}
		if route.StartLocationKey == "" && route.EndLocationKey == "" {
			withoutLocations++
		}
	}

	if withoutLocations > 0 {
		issues = append(issues, Issue{
			Severity: "warning",
			Message:  fmt.Sprintf("%d routes have no locations", withoutLocations),
		})
	}
	return issues
}

func toLocation(value interface{}) *models.Location {
	m, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}

	loc := &models.Location{
		Address: stringOf(m["address"]),
		City:    stringOf(m["city"]),
		State:   stringOf(m["state"]),
		ZipCode: stringOf(m["zip_code"]),
	}
	if loc.Address == "" && loc.City == "" {
		return nil
	}

	if lat, ok := m["latitude"].(float64); ok {
		loc.Latitude = &lat
	}
	if lon, ok := m["longitude"].(float64); ok {
		loc.Longitude = &lon
	}
	return loc
}

func toCustomer(value interface{}) *models.Customer {
	m, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}

	customer := &models.Customer{
		Name:  stringOf(m["name"]),
		Phone: stringOf(m["phone"]),
		Email: stringOf(m["email"]),
	}
	if customer.Name == "" {
		return nil
	}
	return customer
}

func toDriver(value interface{}) *models.Driver {
	m, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}

	driver := &models.Driver{
		Name:          stringOf(m["name"]),
		Phone:         stringOf(m["phone"]),
		Email:         stringOf(m["email"]),
		LicenseNumber: stringOf(m["license_number"]),
	}
	if driver.Name == "" {
		return nil
	}
	return driver
}

func stringOf(value interface{}) string {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
