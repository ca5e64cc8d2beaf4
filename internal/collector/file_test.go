package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newFileTestCollector(t *testing.T, dir string) *FileCollector {
	t.Helper()
	return NewFileCollector(FileConfig{Name: "files", WatchDir: dir}, zap.NewNop())
}

func TestFileCollectorCSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "routes.csv",
		"route_id,route_date,driver,miles\nR-1,2024-03-15,Jane Doe,250\nR-2,2024-03-16,John Roe,310\n")

	c := newFileTestCollector(t, dir)
	result, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "R-1", result.Records[0]["route_id"])
	assert.Equal(t, "Jane Doe", result.Records[0]["driver_name"])
	assert.Equal(t, 250.0, result.Records[0]["total_miles"])
}

func TestFileCollectorJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "routes.json",
		`[{"route_id": "R-1", "route_date": "2024-03-15"}, {"route_id": "R-2", "route_date": "2024-03-16"}]`)

	c := newFileTestCollector(t, dir)
	result, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Records, 2)
}

func TestFileCollectorJSONWrapper(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "routes.json",
		`{"records": [{"route_id": "R-1", "route_date": "2024-03-15"}]}`)

	c := newFileTestCollector(t, dir)
	result, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)
}

func TestFileCollectorExcel(t *testing.T) {
	dir := t.TempDir()

	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "route_id"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "route_date"))
	require.NoError(t, f.SetCellValue("Sheet1", "C1", "miles"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "R-1"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "2024-03-15"))
	require.NoError(t, f.SetCellValue("Sheet1", "C2", "410"))
	require.NoError(t, f.SaveAs(filepath.Join(dir, "routes.xlsx")))
	require.NoError(t, f.Close())

	c := newFileTestCollector(t, dir)
	result, err := c.Collect(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "R-1", result.Records[0]["route_id"])
	assert.Equal(t, 410.0, result.Records[0]["total_miles"])
}

func TestFileCollectorSkipsDuplicateContent(t *testing.T) {
	dir := t.TempDir()
	content := "route_id,route_date\nR-1,2024-03-15\n"
	writeFile(t, dir, "first.csv", content)

	c := newFileTestCollector(t, dir)
	first, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, first.Records, 1)

	// Same content under a new name is a duplicate.
	writeFile(t, dir, "second.csv", content)
	second, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, second.Status)
	assert.Empty(t, second.Records)
}

func TestFileCollectorRetriesAfterCancelledRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "routes.csv", "route_id,route_date\nR-1,2024-03-15\n")

	c := newFileTestCollector(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Collect(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The file was never handled, so a later run must still pick it up.
	result, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "R-1", result.Records[0]["route_id"])
}

func TestFileCollectorMovesProcessedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "routes.csv", "route_id,route_date\nR-1,2024-03-15\n")
	writeFile(t, dir, "broken.csv", "route_id,route_date\n\"unterminated\n")

	c := NewFileCollector(FileConfig{Name: "files", WatchDir: dir, MoveFiles: true}, zap.NewNop())
	result, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)

	remaining, err := os.ReadDir(dir)
	require.NoError(t, err)
	var files []string
	for _, entry := range remaining {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	assert.Empty(t, files)

	processed, err := os.ReadDir(filepath.Join(dir, "processed"))
	require.NoError(t, err)
	assert.Len(t, processed, 1)

	failed, err := os.ReadDir(filepath.Join(dir, "failed"))
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestFileCollectorIgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", "not route data")

	c := newFileTestCollector(t, dir)
	result, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, result.Status)
}

func TestFileCollectorValidateConfiguration(t *testing.T) {
	assert.Error(t, NewFileCollector(FileConfig{Name: "f"}, zap.NewNop()).ValidateConfiguration())
	assert.Error(t, NewFileCollector(FileConfig{WatchDir: "/tmp"}, zap.NewNop()).ValidateConfiguration())
	assert.Error(t, NewFileCollector(FileConfig{
		Name: "f", WatchDir: "/tmp", Extensions: []string{".pdf"},
	}, zap.NewNop()).ValidateConfiguration())
	assert.NoError(t, NewFileCollector(FileConfig{Name: "f", WatchDir: "/tmp"}, zap.NewNop()).ValidateConfiguration())
}

func TestFileCollectorTestConnection(t *testing.T) {
	dir := t.TempDir()
	c := newFileTestCollector(t, dir)
	assert.NoError(t, c.TestConnection(context.Background()))

	missing := NewFileCollector(FileConfig{Name: "f", WatchDir: filepath.Join(dir, "absent")}, zap.NewNop())
	assert.Error(t, missing.TestConnection(context.Background()))
}

func TestFileCollectorSkipsStaleFiles(t *testing.T) {
	dir := t.TempDir()
	fresh := writeFile(t, dir, "fresh.csv",
		"route_id,route_date,miles\nR-1,2024-03-15,250\n")
	stale := writeFile(t, dir, "stale.csv",
		"route_id,route_date,miles\nR-9,2024-01-02,100\n")
	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	c := NewFileCollector(FileConfig{
		Name:      "files",
		WatchDir:  dir,
		MaxAge:    24 * time.Hour,
		MoveFiles: true,
	}, zap.NewNop())

	result, err := c.Collect(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "R-1", result.Records[0]["route_id"])

	// The stale drop stays where it was for an operator to inspect.
	assert.FileExists(t, stale)
	assert.NoFileExists(t, fresh)
}
