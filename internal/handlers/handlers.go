package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jlwj22/route-data-pipeline/internal/calculator"
	"github.com/jlwj22/route-data-pipeline/internal/collector"
	"github.com/jlwj22/route-data-pipeline/internal/database"
	"github.com/jlwj22/route-data-pipeline/internal/geo"
	"github.com/jlwj22/route-data-pipeline/internal/models"
	"github.com/jlwj22/route-data-pipeline/internal/pipeline"
	"github.com/jlwj22/route-data-pipeline/internal/transformer"
)

var (
	errNoDatabase  = errors.New("database not configured")
	errNoGeocoding = errors.New("geocoding not configured")
)

// Server exposes the pipeline over HTTP.
type Server struct {
	manager    *collector.Manager
	pipeline   *pipeline.Pipeline
	repository *database.Repository
	calculator *calculator.Calculator
	geo        *geo.Processor
	logger     *zap.Logger
}

// New creates the HTTP server. The repository may be nil when running
// without a database, which disables the route query endpoints; the geo
// processor may be nil, which disables re-geocoding.
func New(manager *collector.Manager, p *pipeline.Pipeline, repo *database.Repository,
	calc *calculator.Calculator, g *geo.Processor, logger *zap.Logger) *Server {
	return &Server{
		manager:    manager,
		pipeline:   p,
		repository: repo,
		calculator: calc,
		geo:        g,
		logger:     logger,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/collectors", s.handleListCollectors).Methods(http.MethodGet)
	api.HandleFunc("/collectors/stats", s.handleCollectorStats).Methods(http.MethodGet)
	api.HandleFunc("/collectors/status", s.handleCollectorStatus).Methods(http.MethodGet)
	api.HandleFunc("/collectors/test", s.handleTestConnections).Methods(http.MethodPost)
	api.HandleFunc("/collectors/{name}/enable", s.handleSetEnabled(true)).Methods(http.MethodPost)
	api.HandleFunc("/collectors/{name}/disable", s.handleSetEnabled(false)).Methods(http.MethodPost)
	api.HandleFunc("/collect", s.handleCollect).Methods(http.MethodPost)
	api.HandleFunc("/process", s.handleProcess).Methods(http.MethodPost)
	api.HandleFunc("/collect/{name}", s.handleCollectOne).Methods(http.MethodPost)
	api.HandleFunc("/routes", s.handleListRoutes).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id:[0-9]+}", s.handleGetRoute).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id:[0-9]+}/recalculate", s.handleRecalculateRoute).Methods(http.MethodPost)
	api.HandleFunc("/locations/geocode", s.handleGeocodeLocations).Methods(http.MethodPost)
	api.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"running": s.manager.Running(),
	})
}

func (s *Server) handleListCollectors(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]interface{}{
		"collectors": s.manager.Collectors(),
	})
}

func (s *Server) handleCollectorStats(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.manager.Stats())
}

func (s *Server) handleCollectorStatus(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.manager.Status())
}

// handleTestConnections checks every registered source and reports
// per-collector reachability.
func (s *Server) handleTestConnections(w http.ResponseWriter, r *http.Request) {
	results := s.manager.TestAll(r.Context())

	status := http.StatusOK
	report := make(map[string]interface{}, len(results))
	for name, err := range results {
		if err != nil {
			report[name] = map[string]string{"ok": "false", "error": err.Error()}
			status = http.StatusServiceUnavailable
			continue
		}
		report[name] = map[string]string{"ok": "true"}
	}
	s.respond(w, status, map[string]interface{}{"connections": report})
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		var err error
		if enabled {
			err = s.manager.Enable(name)
		} else {
			err = s.manager.Disable(name)
		}
		if err != nil {
			s.respondError(w, http.StatusNotFound, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]interface{}{
			"collector": name,
			"enabled":   enabled,
		})
	}
}

// handleProcess runs caller-supplied raw records through the pipeline
// without touching any collector.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var records []map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(records) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("no records supplied"))
		return
	}

	stats, err := s.pipeline.Run(r.Context(), records, transformer.Options{})
	if err != nil {
		s.logger.Error("pipeline run failed", zap.Error(err))
		s.respond(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"pipeline": stats,
			"error":    err.Error(),
		})
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"pipeline": stats})
}

// handleCollect runs every collector and pushes the results through the
// pipeline.
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	parallel := r.URL.Query().Get("mode") != "sequential"

	started := time.Now()
	results := s.manager.CollectAll(r.Context(), parallel)
	summary := collector.Summarize(results, time.Since(started))

	var records []map[string]interface{}
	for _, result := range results {
		records = append(records, result.Records...)
	}

	response := map[string]interface{}{
		"collection": summary,
		"results":    results,
	}

	if len(records) > 0 {
		stats, err := s.pipeline.Run(r.Context(), records, transformer.Options{})
		response["pipeline"] = stats
		if err != nil {
			s.logger.Error("pipeline run failed", zap.Error(err))
			s.respond(w, http.StatusUnprocessableEntity, response)
			return
		}
	}

	s.respond(w, http.StatusOK, response)
}

func (s *Server) handleCollectOne(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	result, err := s.manager.CollectOne(r.Context(), name)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}

	response := map[string]interface{}{"result": result}
	if len(result.Records) > 0 {
		stats, err := s.pipeline.Run(r.Context(), result.Records, transformer.Options{})
		response["pipeline"] = stats
		if err != nil {
			s.respond(w, http.StatusUnprocessableEntity, response)
			return
		}
	}

	s.respond(w, http.StatusOK, response)
}

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	if s.repository == nil {
		s.respondError(w, http.StatusServiceUnavailable, errNoDatabase)
		return
	}

	filter := database.RouteFilter{Limit: 100}
	query := r.URL.Query()

	if v := query.Get("date_from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
		filter.DateFrom = &t
	}
	if v := query.Get("date_to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
		filter.DateTo = &t
	}
	filter.Status = query.Get("status")
	filter.DataSource = query.Get("source")
	if v := query.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 && limit <= 1000 {
			filter.Limit = limit
		}
	}
	if v := query.Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	routes, err := s.repository.ListRoutes(r.Context(), filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"routes": routes,
		"count":  len(routes),
	})
}

func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	if s.repository == nil {
		s.respondError(w, http.StatusServiceUnavailable, errNoDatabase)
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	route, err := s.repository.GetRoute(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	s.respond(w, http.StatusOK, route)
}

// handleRecalculateRoute reprices a stored route from the current rates
// and writes the derived costs back onto it.
func (s *Server) handleRecalculateRoute(w http.ResponseWriter, r *http.Request) {
	if s.repository == nil {
		s.respondError(w, http.StatusServiceUnavailable, errNoDatabase)
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	route, err := s.repository.GetRoute(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}

	derived := s.calculator.RouteMetrics(routeMetricsInput(route))
	if len(derived) == 0 {
		s.respondError(w, http.StatusUnprocessableEntity,
			errors.New("route has no mileage to price"))
		return
	}
	if err := s.repository.UpdateRouteMetrics(r.Context(), id, derived); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]interface{}{
		"route_id": route.RouteID,
		"metrics":  derived,
	})
}

// routeMetricsInput maps a stored route onto the calculator's input. The
// stored cost columns are left out so the current rates reprice the route.
func routeMetricsInput(route *models.Route) calculator.RouteInput {
	return calculator.RouteInput{
		TotalMiles:         route.TotalMiles,
		EmptyMiles:         route.EmptyMiles,
		FuelConsumed:       route.FuelConsumed,
		Revenue:            route.Revenue,
		OtherCosts:         route.OtherCosts,
		ScheduledStartTime: route.ScheduledStartTime,
		ScheduledEndTime:   route.ScheduledEndTime,
		ActualStartTime:    route.ActualStartTime,
		ActualEndTime:      route.ActualEndTime,
	}
}

// handleGeocodeLocations resolves coordinates for stored locations that
// were never geocoded, for example when the geocoder was down during
// ingestion.
func (s *Server) handleGeocodeLocations(w http.ResponseWriter, r *http.Request) {
	if s.repository == nil {
		s.respondError(w, http.StatusServiceUnavailable, errNoDatabase)
		return
	}
	if s.geo == nil {
		s.respondError(w, http.StatusServiceUnavailable, errNoGeocoding)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	locations, err := s.repository.LocationsMissingCoordinates(r.Context(), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	updated := 0
	var failures []string
	for _, loc := range locations {
		coords, err := s.geo.Geocode(r.Context(), loc.Address, loc.City, loc.State, loc.ZipCode)
		if err != nil || coords == nil {
			failures = append(failures, loc.NaturalKey())
			continue
		}
		if err := s.repository.UpdateLocationCoordinates(r.Context(), loc.ID,
			coords.Latitude, coords.Longitude); err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		updated++
	}

	s.respond(w, http.StatusOK, map[string]interface{}{
		"candidates": len(locations),
		"updated":    updated,
		"failed":     failures,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.repository == nil {
		s.respondError(w, http.StatusServiceUnavailable, errNoDatabase)
		return
	}

	to := time.Now()
	from := to.AddDate(0, -1, 0)
	query := r.URL.Query()

	if v := query.Get("date_from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			from = t
		}
	}
	if v := query.Get("date_to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			to = t
		}
	}

	counts, err := s.repository.RouteCounts(r.Context(), from, to)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"date_from":     from.Format("2006-01-02"),
		"date_to":       to.Format("2006-01-02"),
		"route_counts":  counts,
		"collector_ops": s.manager.Stats(),
	})
}

func (s *Server) respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encoding response failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respond(w, status, map[string]string{"error": err.Error()})
}
