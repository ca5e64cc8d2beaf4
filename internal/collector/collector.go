package collector

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status classifies the outcome of one collection run.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailed         Status = "failed"
	StatusNoData         Status = "no_data"
)

// Result is the outcome of a single collection run.
type Result struct {
	BatchID     string                   `json:"batch_id"`
	Source      string                   `json:"source"`
	Status      Status                   `json:"status"`
	Records     []map[string]interface{} `json:"records"`
	RawCount    int                      `json:"raw_count"`
	Errors      []string                 `json:"errors,omitempty"`
	Warnings    []string                 `json:"warnings,omitempty"`
	Metadata    map[string]interface{}   `json:"metadata,omitempty"`
	CollectedAt time.Time                `json:"collected_at"`
}

// Collector is the contract every data source implements. Collect returns an
// error only for source-level failures worth retrying; per-record problems
// are folded into the Result.
type Collector interface {
	// Name identifies the source in results, stats, and logs.
	Name() string

	// ValidateConfiguration checks the collector's settings without
	// touching the source.
	ValidateConfiguration() error

	// TestConnection verifies the source is reachable.
	TestConnection(ctx context.Context) error

	// Collect retrieves and standardizes records from the source.
	Collect(ctx context.Context) (*Result, error)

	// Standardize converts one raw source-shaped record to the canonical
	// schema, or errors when required fields are absent.
	Standardize(record map[string]interface{}) (map[string]interface{}, error)

	// RequiredFields lists the canonical fields a standardized record
	// must carry to survive collection.
	RequiredFields() []string
}

// Stats tracks cumulative collection outcomes for one collector.
type Stats struct {
	Attempts     int       `json:"attempts"`
	Successes    int       `json:"successes"`
	Failures     int       `json:"failures"`
	TotalRecords int       `json:"total_records"`
	LastStatus   Status    `json:"last_status"`
	LastRun      time.Time `json:"last_run"`
	LastError    string    `json:"last_error,omitempty"`
}

type statsTracker struct {
	mu    sync.Mutex
	stats map[string]*Stats
}

func newStatsTracker() *statsTracker {
	return &statsTracker{stats: make(map[string]*Stats)}
}

func (t *statsTracker) record(name string, result *Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[name]
	if !ok {
		s = &Stats{}
		t.stats[name] = s
	}

	s.Attempts++
	s.LastStatus = result.Status
	s.LastRun = result.CollectedAt
	s.TotalRecords += len(result.Records)

	if result.Status == StatusFailed {
		s.Failures++
		if len(result.Errors) > 0 {
			s.LastError = result.Errors[len(result.Errors)-1]
		}
	} else {
		s.Successes++
		s.LastError = ""
	}
}

func (t *statsTracker) snapshot() map[string]Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Stats, len(t.stats))
	for name, s := range t.stats {
		out[name] = *s
	}
	return out
}

// RetryConfig controls CollectWithRetry.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
	Backoff     float64       `mapstructure:"backoff"`
}

// DefaultRetryConfig returns three attempts starting at one second with
// exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Delay: time.Second, Backoff: 2.0}
}

// CollectWithRetry runs the collector with exponential backoff. Only errors
// are retried; a NoData result is a completed run. When every attempt fails
// it returns a synthetic failed result carrying the last error.
func CollectWithRetry(ctx context.Context, c Collector, cfg RetryConfig, logger *zap.Logger) *Result {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2.0
	}

	delay := cfg.Delay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := c.Collect(ctx)
		if err == nil {
			return result
		}
		lastErr = err

		logger.Warn("collection attempt failed",
			zap.String("collector", c.Name()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Error(err))

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * cfg.Backoff)
		}
		if ctx.Err() != nil {
			break
		}
	}

	return &Result{
		BatchID:     uuid.NewString(),
		Source:      c.Name(),
		Status:      StatusFailed,
		Errors:      []string{lastErr.Error()},
		Metadata:    map[string]interface{}{"error": lastErr.Error(), "attempts": cfg.MaxAttempts},
		CollectedAt: time.Now(),
	}
}

// classifyResult derives the run status from raw and surviving record
// counts.
func classifyResult(rawCount, standardizedCount int) Status {
	switch {
	case rawCount == 0:
		return StatusNoData
	case standardizedCount == 0:
		return StatusFailed
	case standardizedCount < rawCount:
		return StatusPartialSuccess
	default:
		return StatusSuccess
	}
}

// buildResult assembles a Result from raw records after standardization.
func buildResult(source string, rawCount int, records []map[string]interface{}, errs []string, metadata map[string]interface{}) *Result {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata["raw_count"] = rawCount
	metadata["standardized_count"] = len(records)

	return &Result{
		BatchID:     uuid.NewString(),
		Source:      source,
		Status:      classifyResult(rawCount, len(records)),
		Records:     records,
		RawCount:    rawCount,
		Errors:      errs,
		Metadata:    metadata,
		CollectedAt: time.Now(),
	}
}

// requireFields reports the required fields a record is missing.
func requireFields(record map[string]interface{}, required []string) []string {
	var missing []string
	for _, field := range required {
		value, ok := record[field]
		if !ok || value == nil {
			missing = append(missing, field)
			continue
		}
		if s, isString := value.(string); isString && s == "" {
			missing = append(missing, field)
		}
	}
	return missing
}
