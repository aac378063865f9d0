// Package service orchestrates the weather query path: session cache tier,
// request coalescing, server cache tier, upstream fetch, and the rule
// engines, in that order.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/asimthahaazeez/hiveweather/internal/advice"
	"github.com/asimthahaazeez/hiveweather/internal/cache"
	"github.com/asimthahaazeez/hiveweather/internal/location"
	"github.com/asimthahaazeez/hiveweather/internal/models"
	"github.com/asimthahaazeez/hiveweather/internal/observability"
	"github.com/asimthahaazeez/hiveweather/internal/upstream"
)

// WeatherService is the weather query façade. Cache-store failures never
// fail a request: they degrade to an upstream fetch. Upstream failures
// propagate typed to every coalesced caller; no stale data is served.
type WeatherService struct {
	aggregator upstream.Aggregator
	store      cache.Store
	session    *sessionCache
	coalescer  *requestCoalescer
	stampede   *stampedeTracker
	serverTTL  time.Duration
}

// Config holds the service TTLs. ServerTTL bounds staleness in the durable
// tier (default 60m); SessionTTL is the shorter client-tier window (default
// 10m). CoalesceTimeout bounds how long a caller waits on a joined fetch.
type Config struct {
	ServerTTL       time.Duration
	SessionTTL      time.Duration
	CoalesceTimeout time.Duration
}

// NewWeatherService creates a WeatherService over the given aggregator and
// server store. Pass clockwork.NewRealClock() outside tests.
func NewWeatherService(aggregator upstream.Aggregator, store cache.Store, cfg Config, clock clockwork.Clock) *WeatherService {
	if cfg.ServerTTL <= 0 {
		cfg.ServerTTL = 60 * time.Minute
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 10 * time.Minute
	}
	return &WeatherService{
		aggregator: aggregator,
		store:      store,
		session:    newSessionCache(cfg.SessionTTL, clock),
		coalescer:  newRequestCoalescer(cfg.CoalesceTimeout),
		stampede:   newStampedeTracker(),
		serverTTL:  cfg.ServerTTL,
	}
}

// loggerFromContext extracts the request-scoped zap.Logger if present.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// GetWeather returns the snapshot for the (possibly defaulted) location,
// consulting the session tier, then the coalescer, then the server tier,
// then the upstream aggregator.
func (s *WeatherService) GetWeather(ctx context.Context, label string, lat, lon *float64) (models.WeatherSnapshot, error) {
	return s.getWeather(ctx, location.Derive(label, lat, lon), false)
}

// Refresh bypasses both cache tiers for one call, fetching fresh data and
// repopulating both tiers on success.
func (s *WeatherService) Refresh(ctx context.Context, label string, lat, lon *float64) (models.WeatherSnapshot, error) {
	return s.getWeather(ctx, location.Derive(label, lat, lon), true)
}

// GetAlerts runs the alert rules over the snapshot for the location. The
// snapshot comes through the same cached path as GetWeather.
func (s *WeatherService) GetAlerts(ctx context.Context, label string, lat, lon *float64) ([]models.Alert, error) {
	snapshot, err := s.GetWeather(ctx, label, lat, lon)
	if err != nil {
		return nil, err
	}
	alerts := advice.Alerts(snapshot.Current, snapshot.Hourly)
	for _, a := range alerts {
		observability.AlertsEmittedTotal.WithLabelValues(string(a.Severity)).Inc()
	}
	return alerts, nil
}

func (s *WeatherService) getWeather(ctx context.Context, key location.Key, bypassCaches bool) (models.WeatherSnapshot, error) {
	k := key.String()
	start := time.Now()
	logger := loggerFromContext(ctx)
	observability.RecordWeatherQuery(key.Label)

	if !bypassCaches {
		if snapshot, ok := s.session.get(k); ok {
			observability.CacheHitsTotal.WithLabelValues("session").Inc()
			if logger != nil {
				logger.Debug("session cache hit", zap.String("key", k))
			}
			return snapshot, nil
		}
	}

	// Bypass callers get their own flight: joining a plain flight could
	// hand them a server-cache hit instead of fresh data.
	flightKey := k
	if bypassCaches {
		flightKey = k + "|refresh"
	}
	snapshot, err := s.coalescer.GetOrDo(ctx, flightKey, func(fetchCtx context.Context) (models.WeatherSnapshot, error) {
		return s.fetchThroughServer(fetchCtx, key, bypassCaches)
	})
	if err != nil {
		return models.WeatherSnapshot{}, err
	}

	s.session.set(k, snapshot)
	if logger != nil {
		logger.Debug("weather served", zap.String("key", k), zap.Duration("duration", time.Since(start)))
	}
	return snapshot, nil
}

// fetchThroughServer is the coalesced server-tier path: server cache lookup,
// then upstream fetch plus recommendation, then persist. Store errors are
// logged and counted but treated as a miss (read) or swallowed (write).
func (s *WeatherService) fetchThroughServer(ctx context.Context, key location.Key, bypassCaches bool) (models.WeatherSnapshot, error) {
	k := key.String()
	logger := loggerFromContext(ctx)

	if !bypassCaches {
		getStart := time.Now()
		entry, ok, err := s.store.Get(ctx, k)
		getDuration := time.Since(getStart).Seconds()
		if err != nil {
			observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
			observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
			if logger != nil {
				logger.Warn("server cache read failed, fetching upstream", zap.String("key", k), zap.Error(err))
			}
		} else if ok {
			observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
			observability.CacheHitsTotal.WithLabelValues("server").Inc()
			if logger != nil {
				logger.Debug("server cache hit", zap.String("key", k))
			}
			return entry.Snapshot, nil
		}
	}

	concurrentMisses := s.stampede.BeginMiss(k)
	defer s.stampede.EndMiss(k)
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		observability.CacheStampedeConcurrency.Observe(float64(concurrentMisses))
	}

	if logger != nil {
		logger.Debug("cache miss, fetching upstream", zap.String("key", k))
	}

	snapshot, rawForecast, err := s.aggregator.Fetch(ctx, key.Lat, key.Lon)
	if err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("fetch weather for %s: %w", k, err)
	}
	snapshot.Recommendation = advice.Recommend(snapshot.Current, snapshot.Hourly)

	setStart := time.Now()
	if setErr := s.store.Upsert(ctx, k, snapshot, rawForecast, s.serverTTL); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		if logger != nil {
			logger.Warn("server cache write failed", zap.String("key", k), zap.Error(setErr))
		}
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}

	return snapshot, nil
}

// categorizeCacheError returns a stable label for cache error metrics
// (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
