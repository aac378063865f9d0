package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/asimthahaazeez/hiveweather/internal/location"
	"github.com/asimthahaazeez/hiveweather/internal/models"
	"github.com/asimthahaazeez/hiveweather/internal/observability"
)

// SiteFetcher is implemented by the service layer. Declared here so the
// warmer does not depend on the service package.
type SiteFetcher interface {
	GetWeather(ctx context.Context, label string, lat, lon *float64) (models.WeatherSnapshot, error)
}

// Warmer prefetches weather for the configured apiary sites so the first
// dashboard load after startup hits a warm cache.
type Warmer struct {
	fetcher SiteFetcher
	logger  *zap.Logger
}

// NewWarmer creates a Warmer that uses the given fetcher and logger.
func NewWarmer(fetcher SiteFetcher, logger *zap.Logger) *Warmer {
	return &Warmer{fetcher: fetcher, logger: logger}
}

// Warm fetches weather for each site concurrently, populating both cache
// tiers via the fetcher. Returns an aggregated error if any site failed.
func (w *Warmer) Warm(ctx context.Context, sites []location.Site) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming weather cache", zap.Int("sites", len(sites)))
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(sites))
	for _, site := range sites {
		site := site
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.fetcher.GetWeather(ctx, site.Label, &site.Lat, &site.Lon)
			if err != nil {
				errCh <- fmt.Errorf("warm %s: %w", site.Key(), err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("sites", len(sites)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %v", errs)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval
// until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, sites []location.Site, interval time.Duration) error {
	if err := w.Warm(ctx, sites); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, sites); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
