package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// APIConfig configures an HTTP API collector. Credentials arrive through
// configuration and are never logged.
type APIConfig struct {
	Name         string            `mapstructure:"name"`
	BaseURL      string            `mapstructure:"base_url"`
	Endpoint     string            `mapstructure:"endpoint"`
	Endpoints    []string          `mapstructure:"endpoints"`
	DataPath     string            `mapstructure:"data_path"`
	DaysBack     int               `mapstructure:"days_back"`
	AuthType     string            `mapstructure:"auth_type"` // bearer, api_key, basic, none
	Token        string            `mapstructure:"token"`
	APIKeyHeader string            `mapstructure:"api_key_header"`
	Username     string            `mapstructure:"username"`
	Password     string            `mapstructure:"password"`
	QueryParams  map[string]string `mapstructure:"query_params"`
	FieldMap     map[string]string `mapstructure:"field_map"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	PageParam    string            `mapstructure:"page_param"`
	PageSize     int               `mapstructure:"page_size"`
	MaxPages     int               `mapstructure:"max_pages"`
}

// APICollector pulls route records from an HTTP JSON API.
type APICollector struct {
	config       APIConfig
	client       *http.Client
	standardizer *standardizer
	logger       *zap.Logger
}

// NewAPICollector creates an API collector. Records standardize against the
// default required fields unless overridden.
func NewAPICollector(config APIConfig, logger *zap.Logger) *APICollector {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxPages == 0 {
		config.MaxPages = 10
	}

	return &APICollector{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		standardizer: newStandardizer(config.Name,
			[]string{"route_id", "route_date"}, config.FieldMap, logger),
		logger: logger,
	}
}

func (c *APICollector) Name() string { return c.config.Name }

func (c *APICollector) RequiredFields() []string { return []string{"route_id", "route_date"} }

// Standardize converts one raw API record to the canonical schema.
func (c *APICollector) Standardize(record map[string]interface{}) (map[string]interface{}, error) {
	return c.standardizer.standardize(record)
}

// ValidateConfiguration checks the endpoint and auth settings.
func (c *APICollector) ValidateConfiguration() error {
	if c.config.Name == "" {
		return fmt.Errorf("collector name is required")
	}
	if c.config.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if _, err := url.Parse(c.config.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}

	switch c.config.AuthType {
	case "", "none":
	case "bearer":
		if c.config.Token == "" {
			return fmt.Errorf("bearer auth requires a token")
		}
	case "api_key":
		if c.config.Token == "" || c.config.APIKeyHeader == "" {
			return fmt.Errorf("api_key auth requires a token and header name")
		}
	case "basic":
		if c.config.Username == "" {
			return fmt.Errorf("basic auth requires a username")
		}
	default:
		return fmt.Errorf("unknown auth_type: %s", c.config.AuthType)
	}
	return nil
}

// endpoints returns the configured endpoint paths, treating the single
// endpoint field as a one-element list.
func (c *APICollector) endpoints() []string {
	if len(c.config.Endpoints) > 0 {
		return c.config.Endpoints
	}
	return []string{c.config.Endpoint}
}

// TestConnection issues one request against the first endpoint.
func (c *APICollector) TestConnection(ctx context.Context) error {
	req, err := c.newRequest(ctx, c.endpoints()[0], 0)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.config.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s returned status %d", c.config.Name, resp.StatusCode)
	}
	return nil
}

// Collect pages through every configured endpoint, extracts records at the
// configured data path, and standardizes them. A failing endpoint is
// contained as a result error; the whole collection fails only when every
// endpoint fails.
func (c *APICollector) Collect(ctx context.Context) (*Result, error) {
	endpoints := c.endpoints()

	var raw []map[string]interface{}
	var endpointErrs []string
	pages := 0
	failed := 0

	for _, endpoint := range endpoints {
		endpointRaw, endpointPages, err := c.collectEndpoint(ctx, endpoint)
		if err != nil {
			failed++
			endpointErrs = append(endpointErrs, fmt.Sprintf("endpoint %s: %v", endpoint, err))
			c.logger.Warn("endpoint collection failed",
				zap.String("collector", c.config.Name),
				zap.String("endpoint", endpoint),
				zap.Error(err))
			continue
		}
		raw = append(raw, endpointRaw...)
		pages += endpointPages
	}

	if failed == len(endpoints) && len(endpointErrs) > 0 {
		return nil, fmt.Errorf("all endpoints failed: %s", strings.Join(endpointErrs, "; "))
	}

	records, errs := c.standardizer.standardizeBatch(raw)
	errs = append(endpointErrs, errs...)

	c.logger.Info("api collection complete",
		zap.String("collector", c.config.Name),
		zap.Int("endpoints", len(endpoints)),
		zap.Int("pages", pages),
		zap.Int("raw", len(raw)),
		zap.Int("standardized", len(records)))

	result := buildResult(c.config.Name, len(raw), records, errs,
		map[string]interface{}{"pages": pages, "endpoints": len(endpoints)})
	if failed > 0 && result.Status == StatusSuccess {
		result.Status = StatusPartialSuccess
	}
	return result, nil
}

func (c *APICollector) collectEndpoint(ctx context.Context, endpoint string) ([]map[string]interface{}, int, error) {
	var raw []map[string]interface{}
	pages := 0

	for page := 1; page <= c.config.MaxPages; page++ {
		pageRecords, err := c.fetchPage(ctx, endpoint, page)
		if err != nil {
			return nil, pages, err
		}
		pages++
		raw = append(raw, pageRecords...)

		if c.config.PageParam == "" || len(pageRecords) == 0 {
			break
		}
		if c.config.PageSize > 0 && len(pageRecords) < c.config.PageSize {
			break
		}
	}
	return raw, pages, nil
}

func (c *APICollector) fetchPage(ctx context.Context, endpoint string, page int) ([]map[string]interface{}, error) {
	req, err := c.newRequest(ctx, endpoint, page)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching from %s: %w", c.config.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", c.config.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", c.config.Name, err)
	}

	return extractRecords(body, c.config.DataPath)
}

func (c *APICollector) newRequest(ctx context.Context, path string, page int) (*http.Request, error) {
	endpoint, err := url.Parse(c.config.BaseURL + path)
	if err != nil {
		return nil, fmt.Errorf("building request url: %w", err)
	}

	query := endpoint.Query()
	for key, value := range c.config.QueryParams {
		query.Set(key, value)
	}
	if c.config.DaysBack > 0 {
		now := time.Now()
		query.Set("start_date", now.AddDate(0, 0, -c.config.DaysBack).Format("2006-01-02"))
		query.Set("end_date", now.Format("2006-01-02"))
	}
	if c.config.PageParam != "" && page > 0 {
		query.Set(c.config.PageParam, fmt.Sprintf("%d", page))
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	switch c.config.AuthType {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	case "api_key":
		req.Header.Set(c.config.APIKeyHeader, c.config.Token)
	case "basic":
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	return req, nil
}

// extractRecords pulls the record array out of a response body. An empty
// data path means the body itself is the array.
func extractRecords(body []byte, dataPath string) ([]map[string]interface{}, error) {
	var node gjson.Result
	if dataPath == "" {
		node = gjson.ParseBytes(body)
	} else {
		node = gjson.GetBytes(body, dataPath)
		if !node.Exists() {
			return nil, fmt.Errorf("data path %q not found in response", dataPath)
		}
	}

	if !node.IsArray() {
		return nil, fmt.Errorf("expected array at data path %q", dataPath)
	}

	var records []map[string]interface{}
	for _, item := range node.Array() {
		var record map[string]interface{}
		if err := json.Unmarshal([]byte(item.Raw), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// ELDConfig returns an API config shaped for a typical electronic logging
// device provider.
func ELDConfig(name, baseURL, token string) APIConfig {
	return APIConfig{
		Name:     name,
		BaseURL:  baseURL,
		Endpoint: "/api/v1/trips",
		DataPath: "data.trips",
		AuthType: "bearer",
		Token:    token,
		FieldMap: map[string]string{
			"route_id":    "trip_id",
			"total_miles": "odometer_miles",
		},
	}
}

// TMSConfig returns an API config shaped for a transportation management
// system.
func TMSConfig(name, baseURL, apiKey string) APIConfig {
	return APIConfig{
		Name:         name,
		BaseURL:      baseURL,
		Endpoint:     "/loads",
		DataPath:     "loads",
		AuthType:     "api_key",
		Token:        apiKey,
		APIKeyHeader: "X-API-Key",
		FieldMap: map[string]string{
			"route_id": "load_id",
			"revenue":  "total_rate",
		},
	}
}

// DispatchConfig returns an API config shaped for a dispatch system.
func DispatchConfig(name, baseURL, username, password string) APIConfig {
	return APIConfig{
		Name:     name,
		BaseURL:  baseURL,
		Endpoint: "/api/routes",
		DataPath: "results",
		AuthType: "basic",
		Username: username,
		Password: password,
	}
}
