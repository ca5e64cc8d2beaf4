package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jlwj22/route-data-pipeline/internal/metrics"
	"github.com/jlwj22/route-data-pipeline/internal/validation"
)

// ManagerConfig controls batch collection behavior.
type ManagerConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	Retry         RetryConfig   `mapstructure:"retry"`
}

// DefaultManagerConfig returns four workers and a five minute batch budget.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxConcurrent: 4,
		BatchTimeout:  5 * time.Minute,
		Retry:         DefaultRetryConfig(),
	}
}

// task tracks the manager-side state of one registered collector.
type task struct {
	collector Collector
	enabled   bool
	lastRun   time.Time
}

// TaskStatus is the introspection view of one registered collector.
type TaskStatus struct {
	Enabled bool      `json:"enabled"`
	Running bool      `json:"running"`
	LastRun time.Time `json:"last_run"`
	Stats   Stats     `json:"stats"`
}

// Manager runs registered collectors and applies validation to what they
// return.
type Manager struct {
	config    ManagerConfig
	validator *validation.Validator
	tracker   *statsTracker
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	order   []string
	running map[string]bool
}

// NewManager creates a manager. The validator may be nil to skip record
// validation; metrics may be nil in tests.
func NewManager(config ManagerConfig, validator *validation.Validator, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 5 * time.Minute
	}

	return &Manager{
		config:    config,
		validator: validator,
		tracker:   newStatsTracker(),
		metrics:   m,
		logger:    logger,
		tasks:     make(map[string]*task),
		running:   make(map[string]bool),
	}
}

// Register adds a collector after validating its configuration. New
// collectors start enabled.
func (m *Manager) Register(c Collector) error {
	if err := c.ValidateConfiguration(); err != nil {
		return fmt.Errorf("collector %s: %w", c.Name(), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[c.Name()]; exists {
		return fmt.Errorf("collector %s already registered", c.Name())
	}
	m.tasks[c.Name()] = &task{collector: c, enabled: true}
	m.order = append(m.order, c.Name())
	return nil
}

// Unregister removes a collector by name.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Enable marks a collector eligible for batch collection.
func (m *Manager) Enable(name string) error {
	return m.setEnabled(name, true)
}

// Disable excludes a collector from batch collection without removing it.
// It can still be run directly by name.
func (m *Manager) Disable(name string) error {
	return m.setEnabled(name, false)
}

func (m *Manager) setEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[name]
	if !ok {
		return fmt.Errorf("collector %s not registered", name)
	}
	t.enabled = enabled
	return nil
}

// Collectors returns the registered collector names in registration order.
func (m *Manager) Collectors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// Running returns the names of collectors currently executing.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for name, active := range m.running {
		if active {
			names = append(names, name)
		}
	}
	return names
}

// Stats returns a snapshot of cumulative per-collector stats.
func (m *Manager) Stats() map[string]Stats {
	return m.tracker.snapshot()
}

// Status returns the full per-collector view: enabled flag, running flag,
// last run time, and cumulative stats.
func (m *Manager) Status() map[string]TaskStatus {
	stats := m.tracker.snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()

	status := make(map[string]TaskStatus, len(m.tasks))
	for name, t := range m.tasks {
		status[name] = TaskStatus{
			Enabled: t.enabled,
			Running: m.running[name],
			LastRun: t.lastRun,
			Stats:   stats[name],
		}
	}
	return status
}

// TestAll checks connectivity for every registered collector and reports
// per-collector failures.
func (m *Manager) TestAll(ctx context.Context) map[string]error {
	m.mu.Lock()
	collectors := make([]Collector, 0, len(m.order))
	for _, name := range m.order {
		collectors = append(collectors, m.tasks[name].collector)
	}
	m.mu.Unlock()

	outcomes := make(map[string]error, len(collectors))
	for _, c := range collectors {
		outcomes[c.Name()] = c.TestConnection(ctx)
	}
	return outcomes
}

// CollectOne runs a single registered collector with retry and validation.
// Disabled collectors can still be run directly.
func (m *Manager) CollectOne(ctx context.Context, name string) (*Result, error) {
	m.mu.Lock()
	t, ok := m.tasks[name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("collector %s not registered", name)
	}

	return m.run(ctx, t.collector), nil
}

// CollectAll runs every enabled collector. In parallel mode results arrive
// in completion order; in sequential mode registration order is preserved.
// Collectors still running when the batch timeout expires are reported as
// failed.
func (m *Manager) CollectAll(ctx context.Context, parallel bool) []*Result {
	m.mu.Lock()
	collectors := make([]Collector, 0, len(m.order))
	for _, name := range m.order {
		if t := m.tasks[name]; t.enabled {
			collectors = append(collectors, t.collector)
		}
	}
	m.mu.Unlock()

	if len(collectors) == 0 {
		return nil
	}
	if !parallel || len(collectors) == 1 {
		return m.collectSequential(ctx, collectors)
	}
	return m.collectParallel(ctx, collectors)
}

func (m *Manager) collectSequential(ctx context.Context, collectors []Collector) []*Result {
	results := make([]*Result, 0, len(collectors))
	for _, c := range collectors {
		results = append(results, m.run(ctx, c))
	}
	return results
}

func (m *Manager) collectParallel(ctx context.Context, collectors []Collector) []*Result {
	resultCh := make(chan *Result, len(collectors))
	sem := make(chan struct{}, m.config.MaxConcurrent)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, c := range collectors {
		go func(c Collector) {
			sem <- struct{}{}
			defer func() { <-sem }()
			resultCh <- m.run(ctx, c)
		}(c)
	}

	results := make([]*Result, 0, len(collectors))
	deadline := time.After(m.config.BatchTimeout)

	for range collectors {
		select {
		case result := <-resultCh:
			results = append(results, result)
		case <-deadline:
			m.logger.Error("batch timeout expired, abandoning remaining collectors",
				zap.Int("completed", len(results)),
				zap.Int("total", len(collectors)))
			cancel()
			for _, c := range collectors {
				if !containsSource(results, c.Name()) {
					results = append(results, &Result{
						BatchID:     uuid.NewString(),
						Source:      c.Name(),
						Status:      StatusFailed,
						Errors:      []string{"batch timeout expired"},
						CollectedAt: time.Now(),
					})
				}
			}
			return results
		}
	}
	return results
}

// run executes one collector with panic isolation, retry, validation, and
// stats tracking. The last-run timestamp updates whenever a result is
// produced, failed or not.
func (m *Manager) run(ctx context.Context, c Collector) (result *Result) {
	started := time.Now()

	m.mu.Lock()
	m.running[c.Name()] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.running, c.Name())
		if t, ok := m.tasks[c.Name()]; ok {
			t.lastRun = time.Now()
		}
		m.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("collector panicked",
				zap.String("collector", c.Name()),
				zap.Any("panic", r))
			result = &Result{
				BatchID:     uuid.NewString(),
				Source:      c.Name(),
				Status:      StatusFailed,
				Errors:      []string{fmt.Sprintf("panic: %v", r)},
				CollectedAt: time.Now(),
			}
			m.tracker.record(c.Name(), result)
			m.observe(c.Name(), result, started)
		}
	}()

	result = CollectWithRetry(ctx, c, m.config.Retry, m.logger)
	m.applyValidation(result)
	m.tracker.record(c.Name(), result)
	m.observe(c.Name(), result, started)
	return result
}

// observe records one collection run on the exported instrumentation.
func (m *Manager) observe(name string, result *Result, started time.Time) {
	if m.metrics == nil {
		return
	}
	m.metrics.CollectionRuns.WithLabelValues(name, string(result.Status)).Inc()
	m.metrics.RecordsCollected.WithLabelValues(name).Add(float64(len(result.Records)))
	m.metrics.CollectionDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
}

// applyValidation drops records with error findings and annotates the
// result metadata with validation counters.
func (m *Manager) applyValidation(result *Result) {
	if m.validator == nil || len(result.Records) == 0 {
		return
	}

	valid, invalid, results := m.validator.ValidateBatch(result.Records)

	warnings := 0
	for _, r := range results {
		for _, f := range r.Warnings() {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: %s", f.Field, f.Message))
			warnings++
		}
	}

	result.Records = valid
	if result.Metadata == nil {
		result.Metadata = make(map[string]interface{})
	}
	result.Metadata["validation_passed"] = len(valid)
	result.Metadata["validation_failed"] = len(invalid)
	result.Metadata["validation_warnings"] = warnings

	if len(invalid) > 0 {
		if m.metrics != nil {
			m.metrics.RecordsDropped.WithLabelValues(result.Source, "validation").Add(float64(len(invalid)))
			m.metrics.ValidationFailures.Add(float64(len(invalid)))
		}
		result.Errors = append(result.Errors,
			fmt.Sprintf("%d records failed validation", len(invalid)))
		if len(valid) == 0 {
			result.Status = StatusFailed
		} else if result.Status == StatusSuccess {
			result.Status = StatusPartialSuccess
		}
	}
}

// Summary aggregates a batch of results. Partial successes count as
// successful runs because they delivered usable records.
type Summary struct {
	Total           int     `json:"total"`
	Successful      int     `json:"successful"`
	Failed          int     `json:"failed"`
	NoData          int     `json:"no_data"`
	TotalRecords    int     `json:"total_records"`
	TotalErrors     int     `json:"total_errors"`
	TotalWarnings   int     `json:"total_warnings"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Summarize reduces a batch of results to counts plus the elapsed wall time
// of the batch.
func Summarize(results []*Result, elapsed time.Duration) Summary {
	s := Summary{Total: len(results), DurationSeconds: elapsed.Seconds()}
	for _, r := range results {
		switch r.Status {
		case StatusSuccess, StatusPartialSuccess:
			s.Successful++
		case StatusFailed:
			s.Failed++
		case StatusNoData:
			s.NoData++
		}
		s.TotalRecords += len(r.Records)
		s.TotalErrors += len(r.Errors)
		s.TotalWarnings += len(r.Warnings)
	}
	return s
}

func containsSource(results []*Result, name string) bool {
	for _, r := range results {
		if r.Source == name {
			return true
		}
	}
	return false
}
