package geo

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// EarthRadiusMiles is the mean radius used for great-circle distances.
const EarthRadiusMiles = 3956.0

// Coordinates is a geocoded point.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Config holds provider endpoints and credentials. API keys arrive through
// configuration and must never appear in logs.
type Config struct {
	NominatimBaseURL string        `mapstructure:"nominatim_base_url"`
	GoogleBaseURL    string        `mapstructure:"google_base_url"`
	GoogleAPIKey     string        `mapstructure:"google_api_key"`
	MapboxBaseURL    string        `mapstructure:"mapbox_base_url"`
	MapboxToken      string        `mapstructure:"mapbox_token"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
}

func (c *Config) applyDefaults() {
	if c.NominatimBaseURL == "" {
		c.NominatimBaseURL = "https://nominatim.openstreetmap.org"
	}
	if c.GoogleBaseURL == "" {
		c.GoogleBaseURL = "https://maps.googleapis.com"
	}
	if c.MapboxBaseURL == "" {
		c.MapboxBaseURL = "https://api.mapbox.com"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "route-data-pipeline/1.0"
	}
}

// Processor geocodes addresses and computes route geometry. Geocoding
// results are cached for the life of the process and all outbound requests
// share one rate limiter.
type Processor struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[string]Coordinates

	distMu    sync.RWMutex
	distances map[distKey]float64
}

// distKey identifies an unordered coordinate pair.
type distKey struct {
	a, b Coordinates
}

// New creates a processor.
func New(config Config, logger *zap.Logger) *Processor {
	config.applyDefaults()
	return &Processor{
		config:    config,
		client:    &http.Client{Timeout: config.RequestTimeout},
		limiter:   rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		logger:    logger,
		cache:     make(map[string]Coordinates),
		distances: make(map[distKey]float64),
	}
}

// Geocode resolves an address to coordinates, trying Nominatim first and
// falling back to Google and Mapbox when configured. Results are cached by
// the joined address string.
func (p *Processor) Geocode(ctx context.Context, address, city, state, zipCode string) (*Coordinates, error) {
	parts := make([]string, 0, 4)
	for _, s := range []string{address, city, state, zipCode} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty address")
	}
	query := strings.Join(parts, ", ")

	p.mu.RLock()
	cached, hit := p.cache[query]
	p.mu.RUnlock()
	if hit {
		return &cached, nil
	}

	coords, err := p.geocodeNominatim(ctx, query)
	if err != nil && p.config.GoogleAPIKey != "" {
		p.logger.Debug("nominatim geocoding failed, trying google", zap.String("query", query), zap.Error(err))
		coords, err = p.geocodeGoogle(ctx, query)
	}
	if err != nil && p.config.MapboxToken != "" {
		p.logger.Debug("google geocoding failed, trying mapbox", zap.String("query", query), zap.Error(err))
		coords, err = p.geocodeMapbox(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("geocoding %q: %w", query, err)
	}

	p.mu.Lock()
	p.cache[query] = *coords
	p.mu.Unlock()

	return coords, nil
}

func (p *Processor) geocodeNominatim(ctx context.Context, query string) (*Coordinates, error) {
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json&limit=1",
		p.config.NominatimBaseURL, url.QueryEscape(query))

	body, err := p.fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	first := gjson.GetBytes(body, "0")
	if !first.Exists() {
		return nil, fmt.Errorf("no results")
	}

	lat, err := strconv.ParseFloat(first.Get("lat").String(), 64)
	if err != nil {
		return nil, fmt.Errorf("parsing latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(first.Get("lon").String(), 64)
	if err != nil {
		return nil, fmt.Errorf("parsing longitude: %w", err)
	}

	return &Coordinates{Latitude: lat, Longitude: lon}, nil
}

func (p *Processor) geocodeGoogle(ctx context.Context, query string) (*Coordinates, error) {
	endpoint := fmt.Sprintf("%s/maps/api/geocode/json?address=%s&key=%s",
		p.config.GoogleBaseURL, url.QueryEscape(query), url.QueryEscape(p.config.GoogleAPIKey))

	body, err := p.fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	if status := gjson.GetBytes(body, "status").String(); status != "OK" {
		return nil, fmt.Errorf("google geocoding status %s", status)
	}

	location := gjson.GetBytes(body, "results.0.geometry.location")
	if !location.Exists() {
		return nil, fmt.Errorf("no results")
	}

	return &Coordinates{
		Latitude:  location.Get("lat").Float(),
		Longitude: location.Get("lng").Float(),
	}, nil
}

func (p *Processor) geocodeMapbox(ctx context.Context, query string) (*Coordinates, error) {
	endpoint := fmt.Sprintf("%s/geocoding/v5/mapbox.places/%s.json?access_token=%s&limit=1",
		p.config.MapboxBaseURL, url.PathEscape(query), url.QueryEscape(p.config.MapboxToken))

	body, err := p.fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	center := gjson.GetBytes(body, "features.0.center")
	if !center.Exists() {
		return nil, fmt.Errorf("no results")
	}

	// Mapbox returns [longitude, latitude].
	return &Coordinates{
		Latitude:  center.Get("1").Float(),
		Longitude: center.Get("0").Float(),
	}, nil
}

func (p *Processor) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.config.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// GeocodeBatch geocodes every location map in place, skipping entries that
// already carry coordinates. It returns the number geocoded.
func (p *Processor) GeocodeBatch(ctx context.Context, locations []map[string]interface{}) int {
	geocoded := 0
	for _, loc := range locations {
		if hasCoordinates(loc) {
			continue
		}

		coords, err := p.Geocode(ctx,
			stringField(loc, "address"),
			stringField(loc, "city"),
			stringField(loc, "state"),
			stringField(loc, "zip_code"))
		if err != nil {
			p.logger.Warn("geocoding failed", zap.Error(err))
			continue
		}

		loc["latitude"] = coords.Latitude
		loc["longitude"] = coords.Longitude
		geocoded++
	}
	return geocoded
}

// Distance returns the great-circle distance in miles between two points,
// rounded to two decimals. Out-of-range coordinates yield zero. Computed
// legs are cached for the life of the process.
func (p *Processor) Distance(a, b Coordinates) float64 {
	if !valid(a) || !valid(b) {
		return 0
	}

	key := distKey{a: a, b: b}
	if b.Latitude < a.Latitude || (b.Latitude == a.Latitude && b.Longitude < a.Longitude) {
		key = distKey{a: b, b: a}
	}

	p.distMu.RLock()
	d, ok := p.distances[key]
	p.distMu.RUnlock()
	if ok {
		return d
	}

	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	d = round2(EarthRadiusMiles * c)

	p.distMu.Lock()
	p.distances[key] = d
	p.distMu.Unlock()
	return d
}

// RouteDistance sums the leg distances along an ordered list of stops.
func (p *Processor) RouteDistance(stops []Coordinates) float64 {
	var total float64
	for i := 1; i < len(stops); i++ {
		total += p.Distance(stops[i-1], stops[i])
	}
	return round2(total)
}

// OptimizedRoute is the result of stop-order optimization.
type OptimizedRoute struct {
	Order              []int   `json:"order"`
	TotalMiles         float64 `json:"total_miles"`
	OriginalMiles      float64 `json:"original_miles"`
	MilesSaved         float64 `json:"miles_saved"`
	EstimatedTimeHours float64 `json:"estimated_time_hours"`
}

// OptimizeRoute reorders stops with a nearest-neighbor pass. When start is
// given the pass is seeded from the stop nearest to it; otherwise the first
// stop stays fixed as the origin. It reports savings against the original
// order and a drive-time estimate at highway speed.
func (p *Processor) OptimizeRoute(stops []Coordinates, start *Coordinates) *OptimizedRoute {
	originalMiles := p.RouteDistance(stops)

	if len(stops) == 0 || (len(stops) <= 2 && start == nil) {
		order := make([]int, len(stops))
		for i := range order {
			order[i] = i
		}
		return &OptimizedRoute{
			Order:              order,
			TotalMiles:         originalMiles,
			OriginalMiles:      originalMiles,
			EstimatedTimeHours: round2(originalMiles / 55.0),
		}
	}

	first := 0
	if start != nil {
		nearestDist := math.MaxFloat64
		for i := range stops {
			if d := p.Distance(*start, stops[i]); d < nearestDist {
				first = i
				nearestDist = d
			}
		}
	}

	visited := make([]bool, len(stops))
	order := make([]int, 0, len(stops))
	order = append(order, first)
	visited[first] = true
	current := first

	for len(order) < len(stops) {
		nearest := -1
		nearestDist := math.MaxFloat64
		for i := range stops {
			if visited[i] {
				continue
			}
			d := p.Distance(stops[current], stops[i])
			if d < nearestDist {
				nearest = i
				nearestDist = d
			}
		}
		order = append(order, nearest)
		visited[nearest] = true
		current = nearest
	}

	optimized := make([]Coordinates, len(order))
	for i, idx := range order {
		optimized[i] = stops[idx]
	}
	totalMiles := p.RouteDistance(optimized)

	saved := originalMiles - totalMiles
	if saved < 0 {
		saved = 0
	}

	return &OptimizedRoute{
		Order:              order,
		TotalMiles:         totalMiles,
		OriginalMiles:      originalMiles,
		MilesSaved:         round2(saved),
		EstimatedTimeHours: round2(totalMiles / 55.0),
	}
}

// Center returns the geographic center of a set of points.
func (p *Processor) Center(points []Coordinates) *Coordinates {
	if len(points) == 0 {
		return nil
	}

	var lat, lon float64
	for _, pt := range points {
		lat += pt.Latitude
		lon += pt.Longitude
	}
	n := float64(len(points))
	return &Coordinates{Latitude: lat / n, Longitude: lon / n}
}

// WithinRadius filters points to those within radiusMiles of the center.
func (p *Processor) WithinRadius(center Coordinates, points []Coordinates, radiusMiles float64) []Coordinates {
	var within []Coordinates
	for _, pt := range points {
		if p.Distance(center, pt) <= radiusMiles {
			within = append(within, pt)
		}
	}
	return within
}

// CacheSize reports the number of cached geocoding results.
func (p *Processor) CacheSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

// DistanceCacheSize reports the number of cached distance legs.
func (p *Processor) DistanceCacheSize() int {
	p.distMu.RLock()
	defer p.distMu.RUnlock()
	return len(p.distances)
}

func valid(c Coordinates) bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

func hasCoordinates(loc map[string]interface{}) bool {
	lat, latOK := loc["latitude"].(float64)
	lon, lonOK := loc["longitude"].(float64)
	return latOK && lonOK && !(lat == 0 && lon == 0)
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
