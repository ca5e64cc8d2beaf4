package collector

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// FileConfig configures a directory-watching file collector.
type FileConfig struct {
	Name         string            `mapstructure:"name"`
	WatchDir     string            `mapstructure:"watch_dir"`
	ProcessedDir string            `mapstructure:"processed_dir"`
	FailedDir    string            `mapstructure:"failed_dir"`
	Extensions   []string          `mapstructure:"extensions"`
	FieldMap     map[string]string `mapstructure:"field_map"`
	MoveFiles    bool              `mapstructure:"move_files"`
	MaxAge       time.Duration     `mapstructure:"max_age"`
}

// FileCollector ingests route records from CSV, Excel, and JSON files
// dropped into a watch directory. Files already seen, identified by content
// hash, are skipped; processed files relocate out of the watch directory.
type FileCollector struct {
	config       FileConfig
	standardizer *standardizer
	logger       *zap.Logger

	mu        sync.Mutex
	seenFiles map[string]bool
}

// NewFileCollector creates a file collector.
func NewFileCollector(config FileConfig, logger *zap.Logger) *FileCollector {
	if len(config.Extensions) == 0 {
		config.Extensions = []string{".csv", ".xlsx", ".json"}
	}
	if config.ProcessedDir == "" {
		config.ProcessedDir = filepath.Join(config.WatchDir, "processed")
	}
	if config.FailedDir == "" {
		config.FailedDir = filepath.Join(config.WatchDir, "failed")
	}

	return &FileCollector{
		config: config,
		standardizer: newStandardizer(config.Name,
			[]string{"route_id", "route_date"}, config.FieldMap, logger),
		logger:    logger,
		seenFiles: make(map[string]bool),
	}
}

func (c *FileCollector) Name() string { return c.config.Name }

func (c *FileCollector) RequiredFields() []string { return []string{"route_id", "route_date"} }

// Standardize converts one raw file row to the canonical schema.
func (c *FileCollector) Standardize(record map[string]interface{}) (map[string]interface{}, error) {
	return c.standardizer.standardize(record)
}

// ValidateConfiguration checks the watch directory settings.
func (c *FileCollector) ValidateConfiguration() error {
	if c.config.Name == "" {
		return fmt.Errorf("collector name is required")
	}
	if c.config.WatchDir == "" {
		return fmt.Errorf("watch_dir is required")
	}
	for _, ext := range c.config.Extensions {
		switch strings.ToLower(ext) {
		case ".csv", ".xlsx", ".xls", ".json":
		default:
			return fmt.Errorf("unsupported extension: %s", ext)
		}
	}
	return nil
}

// TestConnection verifies the watch directory exists and is readable.
func (c *FileCollector) TestConnection(_ context.Context) error {
	info, err := os.Stat(c.config.WatchDir)
	if err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", c.config.WatchDir)
	}
	return nil
}

// Collect parses every new file in the watch directory.
func (c *FileCollector) Collect(ctx context.Context) (*Result, error) {
	files, err := c.pendingFiles()
	if err != nil {
		return nil, err
	}

	var raw []map[string]interface{}
	var errs []string
	processed := 0

	for _, file := range files {
		select {
		case <-ctx.Done():
			// Unprocessed files stay unmarked so the next run picks
			// them up.
			return nil, ctx.Err()
		default:
		}

		records, err := c.parseFile(file.path)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", filepath.Base(file.path), err))
			c.relocate(file.path, c.config.FailedDir)
			c.markSeen(file.hash)
			continue
		}

		raw = append(raw, records...)
		processed++
		c.relocate(file.path, c.config.ProcessedDir)
		c.markSeen(file.hash)
	}

	records, standardizeErrs := c.standardizer.standardizeBatch(raw)
	errs = append(errs, standardizeErrs...)

	c.logger.Info("file collection complete",
		zap.String("collector", c.config.Name),
		zap.Int("files", processed),
		zap.Int("raw", len(raw)),
		zap.Int("standardized", len(records)))

	return buildResult(c.config.Name, len(raw), records, errs,
		map[string]interface{}{"files_processed": processed}), nil
}

type pendingFile struct {
	path string
	hash string
}

func (c *FileCollector) pendingFiles() ([]pendingFile, error) {
	entries, err := os.ReadDir(c.config.WatchDir)
	if err != nil {
		return nil, fmt.Errorf("reading watch directory: %w", err)
	}

	var files []pendingFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !c.extensionAllowed(ext) {
			continue
		}

		// Stale drops past the age cutoff stay in place for an operator
		// to look at.
		if c.config.MaxAge > 0 {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if time.Since(info.ModTime()) > c.config.MaxAge {
				c.logger.Debug("skipping file past max age", zap.String("file", entry.Name()))
				continue
			}
		}

		path := filepath.Join(c.config.WatchDir, entry.Name())
		hash, err := fileHash(path)
		if err != nil {
			c.logger.Warn("unable to hash file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}

		c.mu.Lock()
		seen := c.seenFiles[hash]
		c.mu.Unlock()

		if seen {
			c.logger.Debug("skipping already processed file", zap.String("file", entry.Name()))
			continue
		}
		files = append(files, pendingFile{path: path, hash: hash})
	}
	return files, nil
}

// markSeen records a content hash once the file has been handled, so an
// interrupted run never suppresses files it did not get to.
func (c *FileCollector) markSeen(hash string) {
	c.mu.Lock()
	c.seenFiles[hash] = true
	c.mu.Unlock()
}

func (c *FileCollector) extensionAllowed(ext string) bool {
	for _, allowed := range c.config.Extensions {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}

func (c *FileCollector) parseFile(path string) ([]map[string]interface{}, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return parseCSV(path)
	case ".xlsx", ".xls":
		return parseExcel(path)
	case ".json":
		return parseJSON(path)
	default:
		return nil, fmt.Errorf("unsupported file type")
	}
}

func (c *FileCollector) relocate(path, destDir string) {
	if !c.config.MoveFiles {
		return
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		c.logger.Warn("unable to create destination directory", zap.String("dir", destDir), zap.Error(err))
		return
	}

	dest := filepath.Join(destDir, fmt.Sprintf("%s_%s",
		time.Now().Format("20060102_150405"), filepath.Base(path)))
	if err := os.Rename(path, dest); err != nil {
		c.logger.Warn("unable to relocate file", zap.String("file", path), zap.Error(err))
	}
}

func parseCSV(path string) ([]map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []map[string]interface{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}

		record := make(map[string]interface{}, len(header))
		for i, value := range row {
			if i < len(header) && header[i] != "" {
				record[header[i]] = value
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func parseExcel(path string) ([]map[string]interface{}, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []map[string]interface{}
	for _, row := range rows[1:] {
		record := make(map[string]interface{}, len(header))
		empty := true
		for i, value := range row {
			if i < len(header) && header[i] != "" {
				record[header[i]] = value
				if strings.TrimSpace(value) != "" {
					empty = false
				}
			}
		}
		if !empty {
			records = append(records, record)
		}
	}
	return records, nil
}

func parseJSON(path string) ([]map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Accept either a bare array or an object with a "records" key.
	var records []map[string]interface{}
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var wrapper struct {
		Records []map[string]interface{} `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parsing json: %w", err)
	}
	return wrapper.Records, nil
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
