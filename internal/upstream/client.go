// Package upstream fetches current conditions and near-term forecast from
// the weather provider and normalizes them into the canonical snapshot shape.
// Any HTTP failure or malformed payload is fatal to the call: partial
// snapshots are never produced, and the client performs no retries.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/asimthahaazeez/hiveweather/internal/circuitbreaker"
	"github.com/asimthahaazeez/hiveweather/internal/models"
	"github.com/asimthahaazeez/hiveweather/internal/observability"
)

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrUnavailable   = errors.New("upstream unavailable")
	ErrRateLimited   = errors.New("rate limited")
)

// visibility fallback when the provider omits the field, in km.
const defaultVisibilityKm = 10

// hourlyEntries is the number of forecast steps exposed to the dashboard.
const hourlyEntries = 5

// Aggregator is implemented by the OpenWeather client and by test doubles.
// Fetch returns a snapshot with current and hourly populated (recommendation
// is attached by the service layer) plus the raw forecast payload for the
// cache tier to retain.
type Aggregator interface {
	Fetch(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, json.RawMessage, error)
	ValidateAPIKey(ctx context.Context) error
}

// Client calls the OpenWeatherMap current-conditions and forecast endpoints.
type Client struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	icons      IconMap
	breaker    *circuitbreaker.CircuitBreaker
}

// NewClient validates the credential and returns a Client. baseURL is the
// API root (e.g. https://api.openweathermap.org/data/2.5); the current and
// forecast paths are appended per call.
func NewClient(apiKey, baseURL string, timeout time.Duration, icons IconMap) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if icons == nil {
		icons = DefaultIconMap()
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		timeout: timeout,
		icons:   icons,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker installs an optional breaker around upstream calls.
func (c *Client) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// currentResponse mirrors the fields we consume from /weather.
type currentResponse struct {
	Main *struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Visibility *int `json:"visibility"`
}

// forecastResponse mirrors the fields we consume from /forecast (3-hourly steps).
type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity int     `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
	} `json:"list"`
}

// Fetch retrieves and normalizes current conditions plus the first five
// forecast steps. Both endpoint calls must succeed; the raw forecast body is
// returned alongside for the server cache tier.
func (c *Client) Fetch(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, json.RawMessage, error) {
	var snapshot models.WeatherSnapshot
	var rawForecast json.RawMessage

	call := func() error {
		currentBody, err := c.get(ctx, "/weather", lat, lon)
		if err != nil {
			return err
		}
		current, err := c.mapCurrent(currentBody)
		if err != nil {
			return err
		}

		forecastBody, err := c.get(ctx, "/forecast", lat, lon)
		if err != nil {
			return err
		}
		hourly, err := c.mapHourly(forecastBody)
		if err != nil {
			return err
		}

		snapshot = models.WeatherSnapshot{
			Current:   current,
			Hourly:    hourly,
			FetchedAt: time.Now(),
		}
		rawForecast = forecastBody
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		return models.WeatherSnapshot{}, nil, err
	}
	return snapshot, rawForecast, nil
}

// get performs one GET against path with coordinate query params, recording
// call metrics, and returns the response body.
func (c *Client) get(ctx context.Context, path string, lat, lon float64) ([]byte, error) {
	start := time.Now()
	endpoint := metricEndpoint(path)

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, lat, lon)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: request timeout: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ErrUnavailable, err)
	}
	return body, nil
}

func (c *Client) buildRequest(ctx context.Context, path string, lat, lon float64) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	if path == "/forecast" {
		params.Set("cnt", strconv.Itoa(hourlyEntries))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) mapCurrent(body []byte) (models.CurrentConditions, error) {
	var resp currentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.CurrentConditions{}, fmt.Errorf("%w: parse current conditions: %v", ErrUnavailable, err)
	}
	if len(resp.Weather) == 0 {
		return models.CurrentConditions{}, fmt.Errorf("%w: current conditions missing weather field", ErrUnavailable)
	}
	if resp.Main == nil {
		return models.CurrentConditions{}, fmt.Errorf("%w: current conditions missing main field", ErrUnavailable)
	}

	visibility := defaultVisibilityKm
	if resp.Visibility != nil {
		visibility = roundInt(float64(*resp.Visibility) / 1000.0)
	}

	return models.CurrentConditions{
		Temperature: roundInt(resp.Main.Temp),
		Humidity:    resp.Main.Humidity,
		WindSpeed:   kmh(resp.Wind.Speed),
		Visibility:  visibility,
		Condition:   resp.Weather[0].Description,
		FeelsLike:   roundInt(resp.Main.FeelsLike),
		Icon:        c.icons.Resolve(resp.Weather[0].Main),
	}, nil
}

func (c *Client) mapHourly(body []byte) ([]models.HourlyEntry, error) {
	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse forecast: %v", ErrUnavailable, err)
	}
	if len(resp.List) == 0 {
		return nil, fmt.Errorf("%w: forecast list is empty", ErrUnavailable)
	}

	steps := resp.List
	if len(steps) > hourlyEntries {
		steps = steps[:hourlyEntries]
	}
	hourly := make([]models.HourlyEntry, 0, len(steps))
	for i, step := range steps {
		if len(step.Weather) == 0 {
			return nil, fmt.Errorf("%w: forecast entry %d missing weather field", ErrUnavailable, i)
		}
		label := "Now"
		if i > 0 {
			label = time.Unix(step.Dt, 0).Local().Format("3 PM")
		}
		hourly = append(hourly, models.HourlyEntry{
			Time:        label,
			Temperature: roundInt(step.Main.Temp),
			Humidity:    step.Main.Humidity,
			WindSpeed:   kmh(step.Wind.Speed),
			Condition:   step.Weather[0].Description,
			Icon:        c.icons.Resolve(step.Weather[0].Main),
		})
	}
	return hourly, nil
}

// ValidateAPIKey probes the current-conditions endpoint with the fallback
// reference point. Used by the health check.
func (c *Client) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "/weather", 40.7128, -74.0060)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}
	return nil
}

func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP 401", ErrInvalidAPIKey)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrUnavailable, ErrRateLimited)
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUnavailable, code)
	}
	return nil
}

// kmh converts upstream wind speed (m/s under units=metric) to whole km/h.
func kmh(metersPerSecond float64) int {
	v := roundInt(metersPerSecond * 3.6)
	if v < 0 {
		return 0
	}
	return v
}

func roundInt(v float64) int {
	return int(math.Round(v))
}

func metricEndpoint(path string) string {
	if path == "/forecast" {
		return "forecast"
	}
	return "current"
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

func extractCorrelationID(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if corrID, ok := v.(string); ok {
			return corrID
		}
	}
	return ""
}
