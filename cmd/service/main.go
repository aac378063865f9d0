package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/asimthahaazeez/hiveweather/internal/cache"
	"github.com/asimthahaazeez/hiveweather/internal/circuitbreaker"
	"github.com/asimthahaazeez/hiveweather/internal/config"
	httphandler "github.com/asimthahaazeez/hiveweather/internal/http"
	"github.com/asimthahaazeez/hiveweather/internal/observability"
	"github.com/asimthahaazeez/hiveweather/internal/service"
	"github.com/asimthahaazeez/hiveweather/internal/upstream"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := upstream.NewClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout, upstream.DefaultIconMap())
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Cooldown:         cfg.BreakerCooldown,
		Component:        "weather_api",
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition("weather_api", from.String(), to.String())
			observability.SetCircuitBreakerState("weather_api", float64(to))
		},
	})
	weatherClient.SetCircuitBreaker(cb)
	observability.SetCircuitBreakerState("weather_api", float64(circuitbreaker.StateClosed))

	clock := clockwork.NewRealClock()
	store, storeCloser, cachePing, err := buildStore(cfg, clock, logger)
	if err != nil {
		logger.Fatal("cache store", zap.Error(err))
	}

	weatherService := service.NewWeatherService(weatherClient, store, service.Config{
		ServerTTL:       cfg.ServerCacheTTL,
		SessionTTL:      cfg.SessionCacheTTL,
		CoalesceTimeout: cfg.CoalesceTimeout,
	}, clock)

	observability.SetTrackedSites(cfg.SiteLabels())

	if len(cfg.Sites) > 0 {
		warmer := cache.NewWarmer(weatherService, logger)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := warmer.Warm(warmCtx, cfg.Sites); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(context.Background(), cfg.Sites, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	healthConfig := &httphandler.HealthConfig{CachePing: cachePing}
	handler := httphandler.NewHandler(weatherService, weatherClient, healthConfig, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(httphandler.RateLimitMiddleware(limiter))
	weatherRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	weatherRouter.HandleFunc("", handler.GetWeather).Methods("GET")
	weatherRouter.HandleFunc("/alerts", handler.GetAlerts).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("cache_backend", cfg.CacheBackend))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	if inFlight > 0 {
		logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httphandler.WaitForInFlight(waitCtx, 100*time.Millisecond); err != nil {
			logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
		}
		waitCancel()
	}

	if storeCloser != nil {
		if err := storeCloser(); err != nil {
			logger.Error("cache store close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// buildStore constructs the configured server-tier cache backend. The ping
// func is nil for backends without a reachability check.
func buildStore(cfg *config.Config, clock clockwork.Clock, logger *zap.Logger) (cache.Store, func() error, func() error, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, clock)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc.Close, mc.Ping, nil
	case "sqlite":
		st, err := cache.NewSQLiteStore(cfg.SQLitePath, clock)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("cache backend: sqlite", zap.String("path", cfg.SQLitePath))
		return st, st.Close, nil, nil
	default:
		logger.Info("cache backend: in_memory")
		return cache.NewMemoryStore(clock), nil, nil, nil
	}
}
