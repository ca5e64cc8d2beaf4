package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/jlwj22/route-data-pipeline/internal/models"
)

// Repository persists the route entity model.
type Repository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewRepository creates a repository.
func NewRepository(db *sqlx.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// UpsertLocation inserts a location or returns the existing row's ID when
// the same address already exists.
func (r *Repository) UpsertLocation(ctx context.Context, loc *models.Location) (int64, error) {
	query := `
		INSERT INTO locations (address, city, state, zip_code, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address, city, state, zip_code) DO UPDATE SET
			latitude = COALESCE(EXCLUDED.latitude, locations.latitude),
			longitude = COALESCE(EXCLUDED.longitude, locations.longitude)
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		loc.Address, loc.City, loc.State, loc.ZipCode, loc.Latitude, loc.Longitude).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting location: %w", err)
	}
	loc.ID = id
	return id, nil
}

// UpsertCustomer inserts a customer or returns the existing row's ID.
func (r *Repository) UpsertCustomer(ctx context.Context, c *models.Customer) (int64, error) {
	query := `
		INSERT INTO customers (name, contact_person, phone, email, address, city, state, zip_code, payment_terms, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name) DO UPDATE SET
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), customers.phone),
			email = COALESCE(NULLIF(EXCLUDED.email, ''), customers.email)
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		c.Name, c.ContactPerson, c.Phone, c.Email, c.Address, c.City, c.State,
		c.ZipCode, c.PaymentTerms, c.Notes).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting customer: %w", err)
	}
	c.ID = id
	return id, nil
}

// UpsertDriver inserts a driver or returns the existing row's ID.
func (r *Repository) UpsertDriver(ctx context.Context, d *models.Driver) (int64, error) {
	query := `
		INSERT INTO drivers (name, license_number, phone, email, hire_date, hourly_rate, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (name, license_number) DO UPDATE SET
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), drivers.phone),
			email = COALESCE(NULLIF(EXCLUDED.email, ''), drivers.email)
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		d.Name, d.LicenseNumber, d.Phone, d.Email, d.HireDate, d.HourlyRate).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting driver: %w", err)
	}
	d.ID = id
	return id, nil
}

// UpsertVehicle inserts a vehicle or returns the existing row's ID.
func (r *Repository) UpsertVehicle(ctx context.Context, v *models.Vehicle) (int64, error) {
	query := `
		INSERT INTO vehicles (unit_number, make, model, year, license_plate, vin, fuel_type, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		ON CONFLICT (unit_number, license_plate, vin) DO UPDATE SET
			make = COALESCE(NULLIF(EXCLUDED.make, ''), vehicles.make)
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		v.UnitNumber, v.Make, v.Model, v.Year, v.LicensePlate, v.VIN, v.FuelType).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting vehicle: %w", err)
	}
	v.ID = id
	return id, nil
}

// CreateRoute inserts a route and returns its ID. Routes are unique per
// external route_id, date, and source; a conflict updates the measurements.
func (r *Repository) CreateRoute(ctx context.Context, route *models.Route) (int64, error) {
	query := `
		INSERT INTO routes (
			route_id, route_date, start_location_id, end_location_id, customer_id,
			driver_id, vehicle_id, load_weight, load_type, load_value,
			special_requirements, scheduled_start_time, actual_start_time,
			scheduled_end_time, actual_end_time, total_miles, empty_miles,
			fuel_consumed, average_speed, revenue, fuel_cost, toll_cost,
			driver_pay, other_costs, status, notes, data_source
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27
		)
		ON CONFLICT (route_id, route_date, data_source) DO UPDATE SET
			total_miles = EXCLUDED.total_miles,
			empty_miles = EXCLUDED.empty_miles,
			revenue = EXCLUDED.revenue,
			fuel_cost = EXCLUDED.fuel_cost,
			toll_cost = EXCLUDED.toll_cost,
			driver_pay = EXCLUDED.driver_pay,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		route.RouteID, route.RouteDate, route.StartLocationID, route.EndLocationID,
		route.CustomerID, route.DriverID, route.VehicleID, route.LoadWeight,
		route.LoadType, route.LoadValue, route.SpecialRequirements,
		route.ScheduledStartTime, route.ActualStartTime, route.ScheduledEndTime,
		route.ActualEndTime, route.TotalMiles, route.EmptyMiles, route.FuelConsumed,
		route.AverageSpeed, route.Revenue, route.FuelCost, route.TollCost,
		route.DriverPay, route.OtherCosts, route.Status, route.Notes,
		route.DataSource).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating route: %w", err)
	}
	route.ID = id
	return id, nil
}

// GetRoute fetches one route by ID.
func (r *Repository) GetRoute(ctx context.Context, id int64) (*models.Route, error) {
	var route models.Route
	err := r.db.GetContext(ctx, &route, `SELECT * FROM routes WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("route %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching route: %w", err)
	}
	return &route, nil
}

// RouteFilter narrows ListRoutes.
type RouteFilter struct {
	DateFrom   *time.Time
	DateTo     *time.Time
	Status     string
	DriverID   *int64
	DataSource string
	Limit      int
	Offset     int
}

// ListRoutes fetches routes matching the filter, newest first.
func (r *Repository) ListRoutes(ctx context.Context, filter RouteFilter) ([]*models.Route, error) {
	query := `SELECT * FROM routes WHERE 1=1`
	args := []interface{}{}
	n := 0

	add := func(clause string, value interface{}) {
		n++
		query += fmt.Sprintf(" AND %s $%d", clause, n)
		args = append(args, value)
	}

	if filter.DateFrom != nil {
		add("route_date >=", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		add("route_date <=", *filter.DateTo)
	}
	if filter.Status != "" {
		add("status =", filter.Status)
	}
	if filter.DriverID != nil {
		add("driver_id =", *filter.DriverID)
	}
	if filter.DataSource != "" {
		add("data_source =", filter.DataSource)
	}

	query += " ORDER BY route_date DESC, id DESC"
	if filter.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	var routes []*models.Route
	if err := r.db.SelectContext(ctx, &routes, query, args...); err != nil {
		return nil, fmt.Errorf("listing routes: %w", err)
	}
	return routes, nil
}

// UpdateRouteMetrics writes calculated metrics back onto a stored route.
func (r *Repository) UpdateRouteMetrics(ctx context.Context, id int64, metrics map[string]float64) error {
	query := `
		UPDATE routes SET
			fuel_cost = COALESCE($2, fuel_cost),
			toll_cost = COALESCE($3, toll_cost),
			driver_pay = COALESCE($4, driver_pay),
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id,
		metricOrNil(metrics, "fuel_cost"),
		metricOrNil(metrics, "toll_cost"),
		metricOrNil(metrics, "driver_pay"))
	if err != nil {
		return fmt.Errorf("updating route metrics: %w", err)
	}
	return nil
}

// LocationsMissingCoordinates returns stored locations that were never
// geocoded, oldest first.
func (r *Repository) LocationsMissingCoordinates(ctx context.Context, limit int) ([]*models.Location, error) {
	if limit <= 0 {
		limit = 100
	}
	var locations []*models.Location
	err := r.db.SelectContext(ctx, &locations, `
		SELECT id, address, city, state, zip_code, latitude, longitude
		FROM locations
		WHERE latitude IS NULL OR longitude IS NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing ungeocoded locations: %w", err)
	}
	return locations, nil
}

// UpdateLocationCoordinates stores geocoded coordinates.
func (r *Repository) UpdateLocationCoordinates(ctx context.Context, id int64, lat, lon float64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE locations SET latitude = $2, longitude = $3 WHERE id = $1`, id, lat, lon)
	if err != nil {
		return fmt.Errorf("updating location coordinates: %w", err)
	}
	return nil
}

// RouteCounts returns per-status route counts for a date range.
func (r *Repository) RouteCounts(ctx context.Context, from, to time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM routes
		WHERE route_date BETWEEN $1 AND $2
		GROUP BY status`, from, to)
	if err != nil {
		return nil, fmt.Errorf("counting routes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning route counts: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func metricOrNil(metrics map[string]float64, key string) interface{} {
	if v, ok := metrics[key]; ok {
		return v
	}
	return nil
}
