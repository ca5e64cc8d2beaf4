package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jlwj22/route-data-pipeline/internal/calculator"
	"github.com/jlwj22/route-data-pipeline/internal/geo"
	"github.com/jlwj22/route-data-pipeline/internal/metrics"
	"github.com/jlwj22/route-data-pipeline/internal/models"
	"github.com/jlwj22/route-data-pipeline/internal/transformer"
)

// Storage persists the entity model. The database repository implements it;
// tests substitute a stub.
type Storage interface {
	UpsertLocation(ctx context.Context, loc *models.Location) (int64, error)
	UpsertCustomer(ctx context.Context, c *models.Customer) (int64, error)
	UpsertDriver(ctx context.Context, d *models.Driver) (int64, error)
	UpsertVehicle(ctx context.Context, v *models.Vehicle) (int64, error)
	CreateRoute(ctx context.Context, route *models.Route) (int64, error)
}

// Config controls pipeline behavior.
type Config struct {
	GeocodingEnabled   bool `mapstructure:"geocoding_enabled"`
	CalculationEnabled bool `mapstructure:"calculation_enabled"`
}

// Stats summarizes one pipeline run.
type Stats struct {
	RunID           string              `json:"run_id"`
	Status          string              `json:"status"` // success, partial, error
	Processed       int                 `json:"processed"`
	Stored          int                 `json:"stored"`
	Errors          int                 `json:"errors"`
	Geocoded        int                 `json:"geocoded"`
	Calculated      int                 `json:"calculated"`
	Issues          []transformer.Issue `json:"issues,omitempty"`
	StartTime       time.Time           `json:"start_time"`
	EndTime         time.Time           `json:"end_time"`
	EntityCounts    map[string]int      `json:"entity_counts"`
	DurationSeconds float64             `json:"duration_seconds"`
}

// Pipeline runs cleaned route records through transformation, geocoding,
// metric calculation, and storage.
type Pipeline struct {
	config      Config
	transformer *transformer.Transformer
	geo         *geo.Processor
	calculator  *calculator.Calculator
	storage     Storage
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// New creates a pipeline. The geo processor may be nil when geocoding is
// disabled; metrics may be nil in tests.
func New(cfg Config, tr *transformer.Transformer, gp *geo.Processor, calc *calculator.Calculator, storage Storage, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		config:      cfg,
		transformer: tr,
		geo:         gp,
		calculator:  calc,
		storage:     storage,
		metrics:     m,
		logger:      logger,
	}
}

// Run processes a batch of raw records end to end.
func (p *Pipeline) Run(ctx context.Context, records []map[string]interface{}, opts transformer.Options) (*Stats, error) {
	stats := &Stats{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
		Processed: len(records),
	}
	defer func() {
		stats.EndTime = time.Now()
		stats.DurationSeconds = stats.EndTime.Sub(stats.StartTime).Seconds()
		if p.metrics != nil {
			p.metrics.PipelineDuration.Observe(stats.DurationSeconds)
			p.metrics.PipelineRuns.WithLabelValues(stats.Status).Inc()
		}
	}()

	set, issues := p.transformer.Transform(records, opts)
	stats.Issues = issues
	stats.EntityCounts = set.Summary()

	for _, issue := range issues {
		if issue.Severity == "error" {
			stats.Status = "error"
			return stats, fmt.Errorf("transformation failed: %s", issue.Message)
		}
	}

	if p.config.GeocodingEnabled && p.geo != nil {
		stats.Geocoded = p.geocodeLocations(ctx, set)
	}
	if p.config.CalculationEnabled {
		stats.Calculated = p.calculateMetrics(set)
	}

	stored, errs := p.store(ctx, set)
	stats.Stored = stored
	stats.Errors = errs

	switch {
	case stored == 0 && len(set.Routes) > 0:
		stats.Status = "error"
	case errs > 0:
		stats.Status = "partial"
	default:
		stats.Status = "success"
	}

	p.logger.Info("pipeline run complete",
		zap.String("status", stats.Status),
		zap.Int("processed", stats.Processed),
		zap.Int("stored", stats.Stored),
		zap.Int("errors", stats.Errors),
		zap.Int("geocoded", stats.Geocoded))

	if stats.Status == "error" {
		return stats, fmt.Errorf("no routes stored")
	}
	return stats, nil
}

// geocodeLocations fills coordinates for locations that lack them.
func (p *Pipeline) geocodeLocations(ctx context.Context, set *models.EntitySet) int {
	geocoded := 0
	for _, loc := range set.Locations {
		if loc.Latitude != nil && loc.Longitude != nil {
			continue
		}

		coords, err := p.geo.Geocode(ctx, loc.Address, loc.City, loc.State, loc.ZipCode)
		if err != nil {
			p.logger.Warn("geocoding failed",
				zap.String("city", loc.City),
				zap.String("state", loc.State),
				zap.Error(err))
			if p.metrics != nil {
				p.metrics.GeocodingRequests.WithLabelValues("error").Inc()
			}
			continue
		}

		loc.Latitude = &coords.Latitude
		loc.Longitude = &coords.Longitude
		geocoded++
		if p.metrics != nil {
			p.metrics.GeocodingRequests.WithLabelValues("success").Inc()
		}
	}

	if p.metrics != nil {
		p.metrics.GeocodingCacheSize.Set(float64(p.geo.CacheSize()))
	}
	return geocoded
}

// calculateMetrics derives costs and pay for routes that carry mileage.
func (p *Pipeline) calculateMetrics(set *models.EntitySet) int {
	locations := make(map[string]*models.Location, len(set.Locations))
	for _, loc := range set.Locations {
		locations[loc.NaturalKey()] = loc
	}

	calculated := 0
	for _, route := range set.Routes {
		if route.TotalMiles == nil {
			continue
		}

		input := calculator.RouteInput{
			TotalMiles:         route.TotalMiles,
			EmptyMiles:         route.EmptyMiles,
			FuelConsumed:       route.FuelConsumed,
			Revenue:            route.Revenue,
			FuelCost:           route.FuelCost,
			TollCost:           route.TollCost,
			DriverPay:          route.DriverPay,
			OtherCosts:         route.OtherCosts,
			ScheduledStartTime: route.ScheduledStartTime,
			ScheduledEndTime:   route.ScheduledEndTime,
			ActualStartTime:    route.ActualStartTime,
			ActualEndTime:      route.ActualEndTime,
		}
		if d := p.greatCircleMiles(locations, route); d > 0 {
			input.CalculatedMiles = &d
		}

		derived := p.calculator.RouteMetrics(input)
		if len(derived) == 0 {
			continue
		}

		setIfNil(&route.FuelCost, derived, "fuel_cost")
		setIfNil(&route.TollCost, derived, "toll_cost")
		setIfNil(&route.DriverPay, derived, "driver_pay")
		setIfNil(&route.AverageSpeed, derived, "average_speed")
		calculated++
	}
	return calculated
}

// greatCircleMiles returns the direct distance between a route's geocoded
// endpoints, or zero when either endpoint lacks coordinates.
func (p *Pipeline) greatCircleMiles(locations map[string]*models.Location, route *models.Route) float64 {
	if p.geo == nil {
		return 0
	}
	start := locations[route.StartLocationKey]
	end := locations[route.EndLocationKey]
	if start == nil || end == nil ||
		start.Latitude == nil || start.Longitude == nil ||
		end.Latitude == nil || end.Longitude == nil {
		return 0
	}
	return p.geo.Distance(
		geo.Coordinates{Latitude: *start.Latitude, Longitude: *start.Longitude},
		geo.Coordinates{Latitude: *end.Latitude, Longitude: *end.Longitude},
	)
}

// store persists entities and resolves route foreign keys through the
// natural-key maps built during the entity pass.
func (p *Pipeline) store(ctx context.Context, set *models.EntitySet) (stored, errs int) {
	locationIDs := make(map[string]int64)
	customerIDs := make(map[string]int64)
	driverIDs := make(map[string]int64)
	vehicleIDs := make(map[string]int64)

	for _, loc := range set.Locations {
		id, err := p.storage.UpsertLocation(ctx, loc)
		if err != nil {
			p.logger.Error("storing location failed", zap.Error(err))
			errs++
			continue
		}
		locationIDs[loc.NaturalKey()] = id
	}
	for _, c := range set.Customers {
		id, err := p.storage.UpsertCustomer(ctx, c)
		if err != nil {
			p.logger.Error("storing customer failed", zap.Error(err))
			errs++
			continue
		}
		customerIDs[c.NaturalKey()] = id
	}
	for _, d := range set.Drivers {
		id, err := p.storage.UpsertDriver(ctx, d)
		if err != nil {
			p.logger.Error("storing driver failed", zap.Error(err))
			errs++
			continue
		}
		driverIDs[d.NaturalKey()] = id
	}
	for _, v := range set.Vehicles {
		id, err := p.storage.UpsertVehicle(ctx, v)
		if err != nil {
			p.logger.Error("storing vehicle failed", zap.Error(err))
			errs++
			continue
		}
		vehicleIDs[v.NaturalKey()] = id
	}

	for _, route := range set.Routes {
		route.StartLocationID = idFor(locationIDs, route.StartLocationKey)
		route.EndLocationID = idFor(locationIDs, route.EndLocationKey)
		route.CustomerID = idFor(customerIDs, route.CustomerKey)
		route.DriverID = idFor(driverIDs, route.DriverKey)
		route.VehicleID = idFor(vehicleIDs, route.VehicleKey)

		if _, err := p.storage.CreateRoute(ctx, route); err != nil {
			p.logger.Error("storing route failed",
				zap.String("route_id", route.RouteID),
				zap.Error(err))
			errs++
			continue
		}
		stored++
		if p.metrics != nil {
			p.metrics.RoutesStored.Inc()
		}
	}
	return stored, errs
}

func idFor(ids map[string]int64, key string) *int64 {
	if key == "" {
		return nil
	}
	if id, ok := ids[key]; ok {
		return &id
	}
	return nil
}

func setIfNil(dest **float64, metrics map[string]float64, key string) {
	if *dest != nil {
		return
	}
	if v, ok := metrics[key]; ok {
		value := v
		*dest = &value
	}
}
