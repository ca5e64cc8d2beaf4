package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ManualConfig configures the manual entry collector.
type ManualConfig struct {
	Name         string `mapstructure:"name"`
	EntryPath    string `mapstructure:"entry_path"`
	ArchiveDir   string `mapstructure:"archive_dir"`
	MaxBatchSize int    `mapstructure:"max_batch_size"`
}

// manualTemplate is written when no entry file exists, so dispatchers have
// the expected shape to fill in.
var manualTemplate = []map[string]interface{}{
	{
		"route_id":       "ROUTE-001",
		"route_date":     "2024-01-15",
		"driver_name":    "",
		"vehicle_id":     "",
		"customer_name":  "",
		"start_location": "",
		"end_location":   "",
		"total_miles":    0,
		"empty_miles":    0,
		"revenue":        0,
		"load_type":      "general",
		"load_weight":    0,
		"status":         "scheduled",
		"notes":          "",
	},
}

// ManualCollector reads routes entered by hand into a JSON drop file. The
// file is archived after a successful read so the same batch is never
// ingested twice; a template is created when no entry file exists.
type ManualCollector struct {
	config       ManualConfig
	standardizer *standardizer
	logger       *zap.Logger
}

// NewManualCollector creates a manual entry collector.
func NewManualCollector(config ManualConfig, logger *zap.Logger) *ManualCollector {
	if config.MaxBatchSize == 0 {
		config.MaxBatchSize = 500
	}

	return &ManualCollector{
		config: config,
		standardizer: newStandardizer(config.Name,
			[]string{"route_id", "route_date"}, nil, logger),
		logger: logger,
	}
}

func (c *ManualCollector) Name() string { return c.config.Name }

func (c *ManualCollector) RequiredFields() []string { return []string{"route_id", "route_date"} }

// Standardize converts one raw entry to the canonical schema.
func (c *ManualCollector) Standardize(record map[string]interface{}) (map[string]interface{}, error) {
	return c.standardizer.standardize(record)
}

// ValidateConfiguration checks the entry file settings.
func (c *ManualCollector) ValidateConfiguration() error {
	if c.config.Name == "" {
		return fmt.Errorf("collector name is required")
	}
	if c.config.EntryPath == "" {
		return fmt.Errorf("entry_path is required")
	}
	if ext := filepath.Ext(c.config.EntryPath); ext != ".json" {
		return fmt.Errorf("entry file must be json, got %s", ext)
	}
	return nil
}

// TestConnection ensures the entry location is usable, creating the
// template when no entry file exists yet.
func (c *ManualCollector) TestConnection(_ context.Context) error {
	if _, err := os.Stat(c.config.EntryPath); os.IsNotExist(err) {
		return c.createTemplate()
	} else if err != nil {
		return fmt.Errorf("entry file: %w", err)
	}
	return nil
}

// Collect parses the entry file, archives it, and standardizes its records.
// An absent entry file creates the template and reads as no data rather
// than an error.
func (c *ManualCollector) Collect(_ context.Context) (*Result, error) {
	if _, err := os.Stat(c.config.EntryPath); os.IsNotExist(err) {
		if err := c.createTemplate(); err != nil {
			return nil, err
		}
		return buildResult(c.config.Name, 0, nil, nil,
			map[string]interface{}{"template_created": true}), nil
	}

	raw, err := c.readEntries()
	if err != nil {
		return nil, err
	}

	if len(raw) > c.config.MaxBatchSize {
		c.logger.Warn("manual entry batch is unusually large",
			zap.String("collector", c.config.Name),
			zap.Int("entries", len(raw)),
			zap.Int("max_batch_size", c.config.MaxBatchSize))
	}

	records, errs := c.standardizer.standardizeBatch(raw)

	archived, err := c.archive()
	if err != nil {
		return nil, fmt.Errorf("archiving entry file: %w", err)
	}

	c.logger.Info("manual collection complete",
		zap.String("collector", c.config.Name),
		zap.Int("raw", len(raw)),
		zap.Int("standardized", len(records)),
		zap.String("archived_to", archived))

	return buildResult(c.config.Name, len(raw), records, errs,
		map[string]interface{}{"archived_to": archived}), nil
}

// readEntries parses the entry file as either a bare array or an object
// with a records key.
func (c *ManualCollector) readEntries() ([]map[string]interface{}, error) {
	data, err := os.ReadFile(c.config.EntryPath)
	if err != nil {
		return nil, fmt.Errorf("reading entry file: %w", err)
	}

	var records []map[string]interface{}
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var wrapper struct {
		Records []map[string]interface{} `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parsing entry file: %w", err)
	}
	return wrapper.Records, nil
}

// archive moves the consumed entry file aside with a timestamp suffix.
func (c *ManualCollector) archive() (string, error) {
	dir := c.config.ArchiveDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(c.config.EntryPath), "archive")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	base := filepath.Base(c.config.EntryPath)
	ext := filepath.Ext(base)
	stamped := fmt.Sprintf("%s_%s%s",
		base[:len(base)-len(ext)], time.Now().Format("20060102_150405"), ext)

	target := filepath.Join(dir, stamped)
	if err := os.Rename(c.config.EntryPath, target); err != nil {
		return "", err
	}
	return target, nil
}

// createTemplate writes a sample entry file next to where entries are
// expected.
func (c *ManualCollector) createTemplate() error {
	if dir := filepath.Dir(c.config.EntryPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating entry directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(manualTemplate, "", "  ")
	if err != nil {
		return err
	}

	templatePath := c.templatePath()
	if err := os.WriteFile(templatePath, data, 0o644); err != nil {
		return fmt.Errorf("writing template: %w", err)
	}

	c.logger.Info("created manual entry template", zap.String("path", templatePath))
	return nil
}

func (c *ManualCollector) templatePath() string {
	ext := filepath.Ext(c.config.EntryPath)
	return c.config.EntryPath[:len(c.config.EntryPath)-len(ext)] + "_template" + ext
}
