package models

import (
	"fmt"
	"strings"
	"time"
)

// RouteStatus represents the lifecycle state of a route.
type RouteStatus string

const (
	RouteStatusScheduled  RouteStatus = "scheduled"
	RouteStatusInProgress RouteStatus = "in_progress"
	RouteStatusCompleted  RouteStatus = "completed"
	RouteStatusCancelled  RouteStatus = "cancelled"
	RouteStatusDelayed    RouteStatus = "delayed"
)

// LoadType represents the kind of freight carried on a route.
type LoadType string

const (
	LoadTypeGeneral      LoadType = "general"
	LoadTypeRefrigerated LoadType = "refrigerated"
	LoadTypeHazmat       LoadType = "hazmat"
	LoadTypeOversize     LoadType = "oversize"
	LoadTypeLiquid       LoadType = "liquid"
	LoadTypeLivestock    LoadType = "livestock"
)

// ParseRouteStatus parses a status string case-insensitively.
func ParseRouteStatus(s string) (RouteStatus, error) {
	switch RouteStatus(strings.ToLower(strings.TrimSpace(s))) {
	case RouteStatusScheduled:
		return RouteStatusScheduled, nil
	case RouteStatusInProgress:
		return RouteStatusInProgress, nil
	case RouteStatusCompleted:
		return RouteStatusCompleted, nil
	case RouteStatusCancelled:
		return RouteStatusCancelled, nil
	case RouteStatusDelayed:
		return RouteStatusDelayed, nil
	}
	return RouteStatusScheduled, fmt.Errorf("unknown route status %q", s)
}

// ParseLoadType parses a load type string case-insensitively.
func ParseLoadType(s string) (LoadType, error) {
	switch LoadType(strings.ToLower(strings.TrimSpace(s))) {
	case LoadTypeGeneral:
		return LoadTypeGeneral, nil
	case LoadTypeRefrigerated:
		return LoadTypeRefrigerated, nil
	case LoadTypeHazmat:
		return LoadTypeHazmat, nil
	case LoadTypeOversize:
		return LoadTypeOversize, nil
	case LoadTypeLiquid:
		return LoadTypeLiquid, nil
	case LoadTypeLivestock:
		return LoadTypeLivestock, nil
	}
	return LoadTypeGeneral, fmt.Errorf("unknown load type %q", s)
}

// Location represents a geocodable address.
type Location struct {
	ID        int64    `db:"id" json:"id"`
	Address   string   `db:"address" json:"address"`
	City      string   `db:"city" json:"city"`
	State     string   `db:"state" json:"state"`
	ZipCode   string   `db:"zip_code" json:"zip_code"`
	Latitude  *float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64 `db:"longitude" json:"longitude,omitempty"`
}

// NaturalKey returns the deduplication identity for a location.
func (l *Location) NaturalKey() string {
	return strings.Join([]string{
		strings.ToLower(l.Address),
		strings.ToLower(l.City),
		strings.ToLower(l.State),
		l.ZipCode,
	}, "|")
}

// Customer represents a shipper or consignee.
type Customer struct {
	ID            int64    `db:"id" json:"id"`
	Name          string   `db:"name" json:"name"`
	ContactPerson string   `db:"contact_person" json:"contact_person"`
	Phone         string   `db:"phone" json:"phone"`
	Email         string   `db:"email" json:"email"`
	Address       string   `db:"address" json:"address"`
	City          string   `db:"city" json:"city"`
	State         string   `db:"state" json:"state"`
	ZipCode       string   `db:"zip_code" json:"zip_code"`
	PaymentTerms  string   `db:"payment_terms" json:"payment_terms"`
	Rating        *float64 `db:"rating" json:"rating,omitempty"`
	Notes         string   `db:"notes" json:"notes"`
}

// NaturalKey returns the deduplication identity for a customer.
func (c *Customer) NaturalKey() string {
	return strings.Join([]string{strings.ToLower(c.Name), c.Phone, c.Email}, "|")
}

// Driver represents a driver employed to run routes.
type Driver struct {
	ID                int64      `db:"id" json:"id"`
	Name              string     `db:"name" json:"name"`
	LicenseNumber     string     `db:"license_number" json:"license_number"`
	Phone             string     `db:"phone" json:"phone"`
	Email             string     `db:"email" json:"email"`
	HireDate          *time.Time `db:"hire_date" json:"hire_date,omitempty"`
	HourlyRate        *float64   `db:"hourly_rate" json:"hourly_rate,omitempty"`
	PerformanceRating *float64   `db:"performance_rating" json:"performance_rating,omitempty"`
	SafetyScore       *float64   `db:"safety_score" json:"safety_score,omitempty"`
	Active            bool       `db:"active" json:"active"`
}

// NaturalKey returns the deduplication identity for a driver.
func (d *Driver) NaturalKey() string {
	return strings.Join([]string{strings.ToLower(d.Name), d.LicenseNumber, d.Phone}, "|")
}

// Vehicle represents a truck in the fleet.
type Vehicle struct {
	ID              int64      `db:"id" json:"id"`
	UnitNumber      string     `db:"unit_number" json:"unit_number"`
	Make            string     `db:"make" json:"make"`
	Model           string     `db:"model" json:"model"`
	Year            int        `db:"year" json:"year"`
	LicensePlate    string     `db:"license_plate" json:"license_plate"`
	VIN             string     `db:"vin" json:"vin"`
	CapacityWeight  *float64   `db:"capacity_weight" json:"capacity_weight,omitempty"`
	CapacityVolume  *float64   `db:"capacity_volume" json:"capacity_volume,omitempty"`
	FuelType        string     `db:"fuel_type" json:"fuel_type"`
	MPGAverage      *float64   `db:"mpg_average" json:"mpg_average,omitempty"`
	LastMaintenance *time.Time `db:"last_maintenance" json:"last_maintenance,omitempty"`
	NextMaintenance *time.Time `db:"next_maintenance" json:"next_maintenance,omitempty"`
	Active          bool       `db:"active" json:"active"`
}

// NaturalKey returns the deduplication identity for a vehicle, or the empty
// string when the vehicle has no identifying fields.
func (v *Vehicle) NaturalKey() string {
	if v.UnitNumber == "" && v.LicensePlate == "" && v.VIN == "" {
		return ""
	}
	return strings.Join([]string{
		strings.ToLower(v.UnitNumber),
		strings.ToLower(v.LicensePlate),
		strings.ToLower(v.VIN),
	}, "|")
}

// Route represents one trip. Before persistence it carries the natural keys
// of its related entities; the pipeline resolves them to foreign IDs during
// the storage pass.
type Route struct {
	ID                  int64       `db:"id" json:"id"`
	RouteID             string      `db:"route_id" json:"route_id"`
	RouteDate           time.Time   `db:"route_date" json:"route_date"`
	StartLocationID     *int64      `db:"start_location_id" json:"start_location_id,omitempty"`
	EndLocationID       *int64      `db:"end_location_id" json:"end_location_id,omitempty"`
	CustomerID          *int64      `db:"customer_id" json:"customer_id,omitempty"`
	DriverID            *int64      `db:"driver_id" json:"driver_id,omitempty"`
	VehicleID           *int64      `db:"vehicle_id" json:"vehicle_id,omitempty"`
	LoadWeight          *float64    `db:"load_weight" json:"load_weight,omitempty"`
	LoadType            LoadType    `db:"load_type" json:"load_type"`
	LoadValue           *float64    `db:"load_value" json:"load_value,omitempty"`
	SpecialRequirements string      `db:"special_requirements" json:"special_requirements"`
	ScheduledStartTime  *time.Time  `db:"scheduled_start_time" json:"scheduled_start_time,omitempty"`
	ActualStartTime     *time.Time  `db:"actual_start_time" json:"actual_start_time,omitempty"`
	ScheduledEndTime    *time.Time  `db:"scheduled_end_time" json:"scheduled_end_time,omitempty"`
	ActualEndTime       *time.Time  `db:"actual_end_time" json:"actual_end_time,omitempty"`
	TotalMiles          *float64    `db:"total_miles" json:"total_miles,omitempty"`
	EmptyMiles          *float64    `db:"empty_miles" json:"empty_miles,omitempty"`
	FuelConsumed        *float64    `db:"fuel_consumed" json:"fuel_consumed,omitempty"`
	AverageSpeed        *float64    `db:"average_speed" json:"average_speed,omitempty"`
	Revenue             *float64    `db:"revenue" json:"revenue,omitempty"`
	FuelCost            *float64    `db:"fuel_cost" json:"fuel_cost,omitempty"`
	TollCost            *float64    `db:"toll_cost" json:"toll_cost,omitempty"`
	DriverPay           *float64    `db:"driver_pay" json:"driver_pay,omitempty"`
	OtherCosts          *float64    `db:"other_costs" json:"other_costs,omitempty"`
	Status              RouteStatus `db:"status" json:"status"`
	Notes               string      `db:"notes" json:"notes"`
	DataSource          string      `db:"data_source" json:"data_source"`
	CreatedAt           time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at" json:"updated_at"`

	// Natural-key references used for linking before persistence.
	StartLocationKey string `db:"-" json:"-"`
	EndLocationKey   string `db:"-" json:"-"`
	CustomerKey      string `db:"-" json:"-"`
	DriverKey        string `db:"-" json:"-"`
	VehicleKey       string `db:"-" json:"-"`
}

// EntitySet holds the entities extracted from one transformation pass.
type EntitySet struct {
	Locations []*Location `json:"locations"`
	Customers []*Customer `json:"customers"`
	Drivers   []*Driver   `json:"drivers"`
	Vehicles  []*Vehicle  `json:"vehicles"`
	Routes    []*Route    `json:"routes"`
}

// Summary returns per-entity counts.
func (s *EntitySet) Summary() map[string]int {
	return map[string]int{
		"locations": len(s.Locations),
		"customers": len(s.Customers),
		"drivers":   len(s.Drivers),
		"vehicles":  len(s.Vehicles),
		"routes":    len(s.Routes),
	}
}
