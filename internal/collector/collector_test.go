package collector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCollector scripts collection outcomes for manager and retry tests.
type fakeCollector struct {
	name      string
	calls     int32
	collect   func(ctx context.Context, call int32) (*Result, error)
	configErr error
	testErr   error
}

func (f *fakeCollector) Name() string                          { return f.name }
func (f *fakeCollector) ValidateConfiguration() error          { return f.configErr }
func (f *fakeCollector) TestConnection(context.Context) error  { return f.testErr }
func (f *fakeCollector) RequiredFields() []string              { return []string{"route_id"} }
func (f *fakeCollector) Standardize(record map[string]interface{}) (map[string]interface{}, error) {
	return record, nil
}
func (f *fakeCollector) Collect(ctx context.Context) (*Result, error) {
	call := atomic.AddInt32(&f.calls, 1)
	return f.collect(ctx, call)
}

func successResult(source string, count int) *Result {
	records := make([]map[string]interface{}, count)
	for i := range records {
		records[i] = map[string]interface{}{
			"route_id":   fmt.Sprintf("%s-%d", source, i),
			"route_date": "2024-03-15",
		}
	}
	return buildResult(source, count, records, nil, nil)
}

func TestClassifyResult(t *testing.T) {
	assert.Equal(t, StatusNoData, classifyResult(0, 0))
	assert.Equal(t, StatusFailed, classifyResult(5, 0))
	assert.Equal(t, StatusPartialSuccess, classifyResult(5, 3))
	assert.Equal(t, StatusSuccess, classifyResult(5, 5))
}

func TestCollectWithRetrySucceedsAfterFailures(t *testing.T) {
	c := &fakeCollector{
		name: "flaky",
		collect: func(_ context.Context, call int32) (*Result, error) {
			if call < 3 {
				return nil, errors.New("connection reset")
			}
			return successResult("flaky", 2), nil
		},
	}

	cfg := RetryConfig{MaxAttempts: 3, Delay: time.Millisecond, Backoff: 2.0}
	result := CollectWithRetry(context.Background(), c, cfg, zap.NewNop())

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&c.calls))
}

func TestCollectWithRetryExhaustsBudget(t *testing.T) {
	c := &fakeCollector{
		name: "down",
		collect: func(context.Context, int32) (*Result, error) {
			return nil, errors.New("unreachable")
		},
	}

	cfg := RetryConfig{MaxAttempts: 3, Delay: time.Millisecond, Backoff: 2.0}
	result := CollectWithRetry(context.Background(), c, cfg, zap.NewNop())

	// Exactly the attempt budget, no more.
	assert.Equal(t, int32(3), atomic.LoadInt32(&c.calls))
	assert.Equal(t, StatusFailed, result.Status)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "unreachable")
	assert.Equal(t, 3, result.Metadata["attempts"])
}

func TestCollectWithRetryNoDataIsNotRetried(t *testing.T) {
	c := &fakeCollector{
		name: "quiet",
		collect: func(context.Context, int32) (*Result, error) {
			return buildResult("quiet", 0, nil, nil, nil), nil
		},
	}

	cfg := RetryConfig{MaxAttempts: 3, Delay: time.Millisecond, Backoff: 2.0}
	result := CollectWithRetry(context.Background(), c, cfg, zap.NewNop())

	assert.Equal(t, StatusNoData, result.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&c.calls))
}

func TestCollectWithRetryRespectsContextCancellation(t *testing.T) {
	c := &fakeCollector{
		name: "slow",
		collect: func(context.Context, int32) (*Result, error) {
			return nil, errors.New("timeout")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxAttempts: 5, Delay: 50 * time.Millisecond, Backoff: 2.0}
	result := CollectWithRetry(ctx, c, cfg, zap.NewNop())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Less(t, atomic.LoadInt32(&c.calls), int32(5))
}

func TestStandardizeAliases(t *testing.T) {
	s := newStandardizer("test", []string{"route_id"}, nil, zap.NewNop())

	record, err := s.standardize(map[string]interface{}{
		"trip_id":     "T-100",
		"tripDate":    "2024-03-15",
		"driver":      "Jane Doe",
		"origin":      "Dallas, TX",
		"destination": "Houston, TX",
		"miles":       "225.5",
		"rate":        "$1,200.00",
	})
	require.NoError(t, err)

	assert.Equal(t, "T-100", record["route_id"])
	assert.Equal(t, "2024-03-15", record["route_date"])
	assert.Equal(t, "Jane Doe", record["driver_name"])
	assert.Equal(t, "Dallas, TX", record["start_location"])
	assert.Equal(t, "Houston, TX", record["end_location"])
	assert.Equal(t, 225.5, record["total_miles"])
	assert.Equal(t, 1200.0, record["revenue"])
	assert.Equal(t, "test", record["data_source"])
}

func TestStandardizeFieldMapOverride(t *testing.T) {
	s := newStandardizer("test", []string{"route_id"},
		map[string]string{"route_id": "custom_ref"}, zap.NewNop())

	record, err := s.standardize(map[string]interface{}{
		"custom_ref": "R-1",
		"id":         "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "R-1", record["route_id"])
}

func TestStandardizeMissingRequired(t *testing.T) {
	s := newStandardizer("test", []string{"route_id", "route_date"}, nil, zap.NewNop())

	_, err := s.standardize(map[string]interface{}{"driver": "Jane"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "route_id")
}

func TestStandardizeBatchPartialDrop(t *testing.T) {
	s := newStandardizer("test", []string{"route_id"}, nil, zap.NewNop())

	records, errs := s.standardizeBatch([]map[string]interface{}{
		{"route_id": "R-1"},
		{"driver": "no id"},
		{"route_id": "R-2"},
	})

	assert.Len(t, records, 2)
	assert.Len(t, errs, 1)
}

func TestStandardizeCaseInsensitiveLookup(t *testing.T) {
	s := newStandardizer("test", []string{"route_id"}, nil, zap.NewNop())

	record, err := s.standardize(map[string]interface{}{"Route_ID": "R-1"})
	require.NoError(t, err)
	assert.Equal(t, "R-1", record["route_id"])
}
