package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/asimthahaazeez/hiveweather/internal/service"
	"github.com/asimthahaazeez/hiveweather/internal/upstream"
	"github.com/asimthahaazeez/hiveweather/internal/validation"
)

// HealthConfig holds dependencies for the health handler.
type HealthConfig struct {
	// CachePing, when set, is called to check cache reachability. Used when
	// the backend is memcached or sqlite.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService   *service.WeatherService
	aggregator       upstream.Aggregator
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	weatherService *service.WeatherService,
	aggregator upstream.Aggregator,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		weatherService: weatherService,
		aggregator:     aggregator,
		healthConfig:   healthConfig,
		logger:         logger,
	}
}

// GetWeather handles GET /weather?location=&lat=&lon=&refresh=.
// All parameters are optional; absent ones fall back to the default site.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	label, lat, lon, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	var err error
	var result interface{}
	if refresh {
		result, err = h.weatherService.Refresh(r.Context(), label, lat, lon)
	} else {
		result, err = h.weatherService.GetWeather(r.Context(), label, lat, lon)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetAlerts handles GET /weather/alerts?location=&lat=&lon=.
func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	label, lat, lon, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	alerts, err := h.weatherService.GetAlerts(r.Context(), label, lat, lon)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// parseQuery validates the shared location/lat/lon query parameters. On
// failure it writes the 400 response and returns ok=false.
func (h *Handler) parseQuery(w http.ResponseWriter, r *http.Request) (string, *float64, *float64, bool) {
	q := r.URL.Query()

	label, err := validation.ValidateLabel(q.Get("location"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return "", nil, nil, false
	}
	lat, lon, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return "", nil, nil, false
	}
	return label, lat, lon, true
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "api_key_invalid" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "hiveweather",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus checks upstream credential validity. A cache outage
// alone does not degrade health: reads degrade to upstream fetches.
func (h *Handler) computeHealthStatus(r *http.Request) healthResult {
	if err := h.aggregator.ValidateAPIKey(r.Context()); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError writes a 503 Service Unavailable error response for
// upstream failures. Logs the underlying error at DEBUG level if the logger
// is available in request context.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}
