package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jlwj22/route-data-pipeline/internal/calculator"
	"github.com/jlwj22/route-data-pipeline/internal/cleaner"
	"github.com/jlwj22/route-data-pipeline/internal/geo"
	"github.com/jlwj22/route-data-pipeline/internal/models"
	"github.com/jlwj22/route-data-pipeline/internal/transformer"
)

// stubStorage records persisted entities in memory.
type stubStorage struct {
	locations []*models.Location
	customers []*models.Customer
	drivers   []*models.Driver
	vehicles  []*models.Vehicle
	routes    []*models.Route

	failRoutes bool
	nextID     int64
}

func (s *stubStorage) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *stubStorage) UpsertLocation(_ context.Context, loc *models.Location) (int64, error) {
	s.locations = append(s.locations, loc)
	return s.id(), nil
}

func (s *stubStorage) UpsertCustomer(_ context.Context, c *models.Customer) (int64, error) {
	s.customers = append(s.customers, c)
	return s.id(), nil
}

func (s *stubStorage) UpsertDriver(_ context.Context, d *models.Driver) (int64, error) {
	s.drivers = append(s.drivers, d)
	return s.id(), nil
}

func (s *stubStorage) UpsertVehicle(_ context.Context, v *models.Vehicle) (int64, error) {
	s.vehicles = append(s.vehicles, v)
	return s.id(), nil
}

func (s *stubStorage) CreateRoute(_ context.Context, route *models.Route) (int64, error) {
	if s.failRoutes {
		return 0, errors.New("storage unavailable")
	}
	s.routes = append(s.routes, route)
	return s.id(), nil
}

func newTestPipeline(storage Storage, gp *geo.Processor, geocoding bool) *Pipeline {
	logger := zap.NewNop()
	return New(
		Config{GeocodingEnabled: geocoding, CalculationEnabled: true},
		transformer.New(cleaner.New(logger), logger),
		gp,
		calculator.New(calculator.DefaultRates(), logger),
		storage,
		nil,
		logger,
	)
}

func sampleRecords() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"route_id":   "R-1",
			"route_date": "2024-03-15",
			"start_location": map[string]interface{}{
				"address": "123 main st", "city": "dallas", "state": "TX", "zip_code": "75201",
			},
			"end_location": map[string]interface{}{
				"address": "456 oak ave", "city": "houston", "state": "TX", "zip_code": "77002",
			},
			"driver":      map[string]interface{}{"name": "jane doe"},
			"total_miles": 240.0,
			"revenue":     1800.0,
			"status":      "completed",
		},
		{
			"route_id":   "R-2",
			"route_date": "2024-03-16",
			"start_location": map[string]interface{}{
				"address": "456 oak ave", "city": "houston", "state": "TX", "zip_code": "77002",
			},
			"driver":      map[string]interface{}{"name": "jane doe"},
			"total_miles": 250.0,
		},
	}
}

func TestRunStoresEntitiesAndResolvesKeys(t *testing.T) {
	storage := &stubStorage{}
	p := newTestPipeline(storage, nil, false)

	stats, err := p.Run(context.Background(), sampleRecords(), transformer.Options{})
	require.NoError(t, err)

	assert.Equal(t, "success", stats.Status)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 2, stats.Stored)
	assert.Zero(t, stats.Errors)

	// Shared location and driver deduplicated before storage.
	assert.Len(t, storage.locations, 2)
	assert.Len(t, storage.drivers, 1)
	require.Len(t, storage.routes, 2)

	first := storage.routes[0]
	require.NotNil(t, first.StartLocationID)
	require.NotNil(t, first.EndLocationID)
	require.NotNil(t, first.DriverID)
	assert.NotEqual(t, *first.StartLocationID, *first.EndLocationID)

	// Both routes reference the same driver row.
	second := storage.routes[1]
	require.NotNil(t, second.DriverID)
	assert.Equal(t, *first.DriverID, *second.DriverID)
}

func TestRunCalculatesMissingCosts(t *testing.T) {
	storage := &stubStorage{}
	p := newTestPipeline(storage, nil, false)

	stats, err := p.Run(context.Background(), sampleRecords(), transformer.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Calculated)

	route := storage.routes[0]
	require.NotNil(t, route.FuelCost)
	assert.InDelta(t, 105.0, *route.FuelCost, 0.01) // 240 mi / 8 mpg * $3.50
	require.NotNil(t, route.TollCost)
	require.NotNil(t, route.DriverPay)
}

func TestRunGeocodesLocationsWithoutCoordinates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"lat": "32.7767", "lon": "-96.7970"}]`)
	}))
	defer server.Close()

	gp := geo.New(geo.Config{NominatimBaseURL: server.URL}, zap.NewNop())
	storage := &stubStorage{}
	p := newTestPipeline(storage, gp, true)

	stats, err := p.Run(context.Background(), sampleRecords(), transformer.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Geocoded)

	for _, loc := range storage.locations {
		require.NotNil(t, loc.Latitude)
		require.NotNil(t, loc.Longitude)
	}
}

func TestRunSkipsGeocodingWhenCoordinatesPresent(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `[{"lat": "30.0", "lon": "-97.0"}]`)
	}))
	defer server.Close()

	records := []map[string]interface{}{{
		"route_id":   "R-1",
		"route_date": "2024-03-15",
		"start_location": map[string]interface{}{
			"address": "123 main st", "city": "dallas", "state": "TX",
			"latitude": 32.7767, "longitude": -96.797,
		},
	}}

	gp := geo.New(geo.Config{NominatimBaseURL: server.URL}, zap.NewNop())
	storage := &stubStorage{}
	p := newTestPipeline(storage, gp, true)

	stats, err := p.Run(context.Background(), records, transformer.Options{})
	require.NoError(t, err)
	assert.Zero(t, stats.Geocoded)
	assert.Zero(t, calls)
}

func TestRunEmptyBatchIsError(t *testing.T) {
	p := newTestPipeline(&stubStorage{}, nil, false)

	stats, err := p.Run(context.Background(), nil, transformer.Options{})
	require.Error(t, err)
	assert.Equal(t, "error", stats.Status)
}

func TestRunStorageFailureIsError(t *testing.T) {
	storage := &stubStorage{failRoutes: true}
	p := newTestPipeline(storage, nil, false)

	stats, err := p.Run(context.Background(), sampleRecords(), transformer.Options{})
	require.Error(t, err)
	assert.Equal(t, "error", stats.Status)
	assert.Equal(t, 2, stats.Errors)
	assert.Zero(t, stats.Stored)
}

func TestRunEntityCounts(t *testing.T) {
	storage := &stubStorage{}
	p := newTestPipeline(storage, nil, false)

	stats, err := p.Run(context.Background(), sampleRecords(), transformer.Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.EntityCounts["routes"])
	assert.Equal(t, 2, stats.EntityCounts["locations"])
	assert.Equal(t, 1, stats.EntityCounts["drivers"])
}

func TestRunDerivesSpeedFromActualTimes(t *testing.T) {
	records := []map[string]interface{}{{
		"route_id":          "R-1",
		"route_date":        "2024-03-15",
		"total_miles":       250.0,
		"actual_start_time": "2024-03-15 06:00:00",
		"actual_end_time":   "2024-03-15 11:00:00",
	}}

	storage := &stubStorage{}
	p := newTestPipeline(storage, nil, false)

	_, err := p.Run(context.Background(), records, transformer.Options{})
	require.NoError(t, err)

	require.Len(t, storage.routes, 1)
	route := storage.routes[0]
	require.NotNil(t, route.AverageSpeed)
	assert.InDelta(t, 50.0, *route.AverageSpeed, 0.01)
}

func TestGreatCircleMilesBetweenRouteEndpoints(t *testing.T) {
	gp := geo.New(geo.Config{}, zap.NewNop())
	p := newTestPipeline(&stubStorage{}, gp, false)

	dallasLat, dallasLon := 32.7767, -96.7970
	houstonLat, houstonLon := 29.7604, -95.3698
	locations := map[string]*models.Location{
		"dallas":  {Latitude: &dallasLat, Longitude: &dallasLon},
		"houston": {Latitude: &houstonLat, Longitude: &houstonLon},
	}

	route := &models.Route{StartLocationKey: "dallas", EndLocationKey: "houston"}
	assert.InDelta(t, 225, p.greatCircleMiles(locations, route), 15)

	// An endpoint without coordinates yields zero.
	missing := &models.Route{StartLocationKey: "dallas", EndLocationKey: "austin"}
	assert.Zero(t, p.greatCircleMiles(locations, missing))

	noGeo := newTestPipeline(&stubStorage{}, nil, false)
	assert.Zero(t, noGeo.greatCircleMiles(locations, route))
}
