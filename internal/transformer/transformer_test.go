package transformer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jlwj22/route-data-pipeline/internal/cleaner"
	"github.com/jlwj22/route-data-pipeline/internal/models"
)

func newTestTransformer() *Transformer {
	logger := zap.NewNop()
	return New(cleaner.New(logger), logger)
}

func sampleRecord(routeID string) map[string]interface{} {
	return map[string]interface{}{
		"route_id":   routeID,
		"route_date": "2024-03-15",
		"start_location": map[string]interface{}{
			"address": "123 main street", "city": "dallas", "state": "TX", "zip_code": "75201",
		},
		"end_location": map[string]interface{}{
			"address": "456 oak avenue", "city": "houston", "state": "TX", "zip_code": "77002",
		},
		"driver":      map[string]interface{}{"name": "jane doe", "phone": "555-123-4567"},
		"customer":    map[string]interface{}{"name": "acme shipping"},
		"vehicle_id":  "TRUCK-7",
		"total_miles": "240",
		"revenue":     "$1,800",
		"status":      "completed",
		"load_type":   "refrigerated",
		"data_source": "test",
	}
}

func TestTransformBuildsEntities(t *testing.T) {
	tr := newTestTransformer()

	set, issues := tr.Transform([]map[string]interface{}{sampleRecord("R-1")}, Options{})

	require.Len(t, set.Routes, 1)
	route := set.Routes[0]
	assert.Equal(t, "R-1", route.RouteID)
	assert.Equal(t, models.RouteStatusCompleted, route.Status)
	assert.Equal(t, models.LoadTypeRefrigerated, route.LoadType)
	require.NotNil(t, route.TotalMiles)
	assert.Equal(t, 240.0, *route.TotalMiles)
	require.NotNil(t, route.Revenue)
	assert.Equal(t, 1800.0, *route.Revenue)

	assert.Len(t, set.Locations, 2)
	assert.Len(t, set.Drivers, 1)
	assert.Len(t, set.Customers, 1)
	assert.Len(t, set.Vehicles, 1)

	assert.NotEmpty(t, route.StartLocationKey)
	assert.NotEmpty(t, route.EndLocationKey)
	assert.NotEqual(t, route.StartLocationKey, route.EndLocationKey)

	for _, issue := range issues {
		assert.NotEqual(t, "error", issue.Severity)
	}
}

func TestTransformDeduplicatesByNaturalKey(t *testing.T) {
	tr := newTestTransformer()

	records := []map[string]interface{}{
		sampleRecord("R-1"),
		sampleRecord("R-2"),
		sampleRecord("R-3"),
	}

	set, _ := tr.Transform(records, Options{})

	assert.Len(t, set.Routes, 3)
	// Shared locations, driver, customer, and vehicle appear once.
	assert.Len(t, set.Locations, 2)
	assert.Len(t, set.Drivers, 1)
	assert.Len(t, set.Customers, 1)
	assert.Len(t, set.Vehicles, 1)
}

func TestTransformDateFilter(t *testing.T) {
	tr := newTestTransformer()

	early := sampleRecord("R-early")
	early["route_date"] = "2024-01-01"
	late := sampleRecord("R-late")
	late["route_date"] = "2024-06-01"

	set, _ := tr.Transform([]map[string]interface{}{early, late}, Options{
		DateFrom: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	})

	require.Len(t, set.Routes, 1)
	assert.Equal(t, "R-late", set.Routes[0].RouteID)
}

func TestTransformDropsUndatedRecords(t *testing.T) {
	tr := newTestTransformer()

	bad := sampleRecord("R-bad")
	bad["route_date"] = "sometime soon"

	set, _ := tr.Transform([]map[string]interface{}{sampleRecord("R-1"), bad}, Options{})
	assert.Len(t, set.Routes, 1)
}

func TestTransformUnknownEnumsDefaultWithWarning(t *testing.T) {
	tr := newTestTransformer()

	record := sampleRecord("R-1")
	record["status"] = "teleporting"
	record["load_type"] = "antimatter"

	set, issues := tr.Transform([]map[string]interface{}{record}, Options{})

	require.Len(t, set.Routes, 1)
	assert.Equal(t, models.RouteStatusScheduled, set.Routes[0].Status)
	assert.Equal(t, models.LoadTypeGeneral, set.Routes[0].LoadType)

	warnings := 0
	for _, issue := range issues {
		if issue.Severity == "warning" {
			warnings++
		}
	}
	assert.GreaterOrEqual(t, warnings, 2)
}

func TestTransformMissingEnumsDefaultSilently(t *testing.T) {
	tr := newTestTransformer()

	record := sampleRecord("R-1")
	delete(record, "status")
	delete(record, "load_type")

	set, issues := tr.Transform([]map[string]interface{}{record}, Options{})

	require.Len(t, set.Routes, 1)
	assert.Equal(t, models.RouteStatusScheduled, set.Routes[0].Status)
	assert.Equal(t, models.LoadTypeGeneral, set.Routes[0].LoadType)
	for _, issue := range issues {
		assert.NotContains(t, issue.Message, "unknown")
	}
}

func TestTransformEmptyBatchIsError(t *testing.T) {
	tr := newTestTransformer()

	_, issues := tr.Transform(nil, Options{})
	require.NotEmpty(t, issues)
	assert.Equal(t, "error", issues[0].Severity)
}

func TestTransformWarnsOnRoutesWithoutLocations(t *testing.T) {
	tr := newTestTransformer()

	record := map[string]interface{}{
		"route_id":   "R-1",
		"route_date": "2024-03-15",
	}

	_, issues := tr.Transform([]map[string]interface{}{record}, Options{})

	found := false
	for _, issue := range issues {
		if issue.Severity == "warning" {
			found = true
		}
	}
	assert.True(t, found)
}
