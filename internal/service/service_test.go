package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/asimthahaazeez/hiveweather/internal/cache"
	"github.com/asimthahaazeez/hiveweather/internal/models"
	"github.com/asimthahaazeez/hiveweather/internal/upstream"
)

type mockAggregator struct {
	calls    atomic.Int64
	delay    time.Duration
	snapshot models.WeatherSnapshot
	err      error
}

func (m *mockAggregator) Fetch(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, json.RawMessage, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return models.WeatherSnapshot{}, nil, ctx.Err()
		}
	}
	if m.err != nil {
		return models.WeatherSnapshot{}, nil, m.err
	}
	return m.snapshot, json.RawMessage(`{"list":[]}`), nil
}

func (m *mockAggregator) ValidateAPIKey(ctx context.Context) error { return nil }

// failingStore simulates a broken persistence layer.
type failingStore struct {
	getErr    error
	upsertErr error
	mu        sync.Mutex
	upserts   int
}

func (f *failingStore) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	return cache.Entry{}, false, f.getErr
}

func (f *failingStore) Upsert(ctx context.Context, key string, snapshot models.WeatherSnapshot, raw json.RawMessage, ttl time.Duration) error {
	f.mu.Lock()
	f.upserts++
	f.mu.Unlock()
	return f.upsertErr
}

func testSnapshot() models.WeatherSnapshot {
	return models.WeatherSnapshot{
		Current: models.CurrentConditions{
			Temperature: 22,
			Humidity:    50,
			WindSpeed:   5,
			Visibility:  10,
			Condition:   "clear sky",
			FeelsLike:   22,
			Icon:        models.IconSun,
		},
		Hourly: []models.HourlyEntry{
			{Time: "Now", Temperature: 22, Condition: "clear sky", Icon: models.IconSun},
			{Time: "3 PM", Temperature: 23, Condition: "few clouds", Icon: models.IconCloud},
		},
	}
}

func newTestService(agg upstream.Aggregator, store cache.Store) *WeatherService {
	return NewWeatherService(agg, store, Config{
		ServerTTL:       time.Hour,
		SessionTTL:      10 * time.Minute,
		CoalesceTimeout: 5 * time.Second,
	}, clockwork.NewRealClock())
}

func lat(v float64) *float64 { return &v }

// TestGetWeather_AttachesRecommendation verifies the façade runs the
// recommendation engine on a fresh fetch.
func TestGetWeather_AttachesRecommendation(t *testing.T) {
	agg := &mockAggregator{snapshot: testSnapshot()}
	store := cache.NewMemoryStore(clockwork.NewRealClock())
	svc := newTestService(agg, store)

	got, err := svc.GetWeather(context.Background(), "home", lat(47.61), lat(-122.33))
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if got.Recommendation.Message == "" {
		t.Error("recommendation not attached to snapshot")
	}
	if len(got.Recommendation.Badges) == 0 {
		t.Error("recommendation has no badges")
	}
}

// TestGetWeather_Coalescing verifies N concurrent requests for one key with
// a cold cache produce exactly one upstream call, and every caller receives
// a structurally identical snapshot.
func TestGetWeather_Coalescing(t *testing.T) {
	agg := &mockAggregator{snapshot: testSnapshot(), delay: 50 * time.Millisecond}
	store := cache.NewMemoryStore(clockwork.NewRealClock())
	svc := newTestService(agg, store)

	const n = 10
	var wg sync.WaitGroup
	results := make([]models.WeatherSnapshot, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = svc.GetWeather(context.Background(), "home", lat(47.61), lat(-122.33))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("request %d error = %v", i, errs[i])
		}
		if results[i].Current != results[0].Current {
			t.Errorf("request %d snapshot differs from request 0", i)
		}
	}
	if calls := agg.calls.Load(); calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (coalescing failed)", calls)
	}
}

// TestGetWeather_SessionCacheHit verifies a repeat request is served from
// the session tier without touching the server store or upstream.
func TestGetWeather_SessionCacheHit(t *testing.T) {
	agg := &mockAggregator{snapshot: testSnapshot()}
	store := cache.NewMemoryStore(clockwork.NewRealClock())
	svc := newTestService(agg, store)
	ctx := context.Background()

	if _, err := svc.GetWeather(ctx, "home", lat(47.61), lat(-122.33)); err != nil {
		t.Fatalf("first GetWeather() error = %v", err)
	}
	if _, err := svc.GetWeather(ctx, "home", lat(47.61), lat(-122.33)); err != nil {
		t.Fatalf("second GetWeather() error = %v", err)
	}

	if calls := agg.calls.Load(); calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (session tier not consulted)", calls)
	}
}

// TestGetWeather_ServerCacheHit verifies a second service instance (fresh
// session tier) is served from the shared server store without an upstream
// call.
func TestGetWeather_ServerCacheHit(t *testing.T) {
	agg := &mockAggregator{snapshot: testSnapshot()}
	store := cache.NewMemoryStore(clockwork.NewRealClock())
	ctx := context.Background()

	first := newTestService(agg, store)
	if _, err := first.GetWeather(ctx, "home", lat(47.61), lat(-122.33)); err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}

	second := newTestService(agg, store)
	if _, err := second.GetWeather(ctx, "home", lat(47.61), lat(-122.33)); err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}

	if calls := agg.calls.Load(); calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (server tier not consulted)", calls)
	}
}

// TestGetWeather_StoreFailureDegrades verifies the resilience
// property: a broken cache store never fails the request, it degrades to
// always-fetch.
func TestGetWeather_StoreFailureDegrades(t *testing.T) {
	agg := &mockAggregator{snapshot: testSnapshot()}
	store := &failingStore{
		getErr:    errors.New("connection refused"),
		upsertErr: errors.New("disk full"),
	}
	svc := newTestService(agg, store)

	got, err := svc.GetWeather(context.Background(), "home", lat(47.61), lat(-122.33))
	if err != nil {
		t.Fatalf("GetWeather() error = %v, want nil despite store failure", err)
	}
	if got.Current.Temperature != 22 {
		t.Errorf("temperature = %d, want 22", got.Current.Temperature)
	}
	if store.upserts != 1 {
		t.Errorf("upsert attempts = %d, want 1", store.upserts)
	}
}

// TestGetWeather_UpstreamErrorPropagates verifies upstream failures surface
// to every coalesced caller with no stale fallback.
func TestGetWeather_UpstreamErrorPropagates(t *testing.T) {
	wantErr := errors.New("upstream down")
	agg := &mockAggregator{err: wantErr, delay: 20 * time.Millisecond}
	store := cache.NewMemoryStore(clockwork.NewRealClock())
	svc := newTestService(agg, store)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = svc.GetWeather(context.Background(), "home", lat(47.61), lat(-122.33))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			t.Errorf("request %d error = nil, want upstream error", i)
			continue
		}
		if !errors.Is(err, wantErr) {
			t.Errorf("request %d error = %v, want wrapped %v", i, err, wantErr)
		}
	}
	if calls := agg.calls.Load(); calls != 1 {
		t.Errorf("upstream calls = %d, want 1", calls)
	}
}

// TestRefresh_BypassesCaches verifies Refresh skips both cache tiers and
// repopulates them.
func TestRefresh_BypassesCaches(t *testing.T) {
	agg := &mockAggregator{snapshot: testSnapshot()}
	store := cache.NewMemoryStore(clockwork.NewRealClock())
	svc := newTestService(agg, store)
	ctx := context.Background()

	if _, err := svc.GetWeather(ctx, "home", lat(47.61), lat(-122.33)); err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if _, err := svc.Refresh(ctx, "home", lat(47.61), lat(-122.33)); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if calls := agg.calls.Load(); calls != 2 {
		t.Errorf("upstream calls = %d, want 2 (refresh did not bypass caches)", calls)
	}

	// Refresh repopulated the session tier.
	if _, err := svc.GetWeather(ctx, "home", lat(47.61), lat(-122.33)); err != nil {
		t.Fatalf("GetWeather() after refresh error = %v", err)
	}
	if calls := agg.calls.Load(); calls != 2 {
		t.Errorf("upstream calls = %d, want 2 (refresh did not repopulate)", calls)
	}
}

// gatedStore blocks the first Get until released, keeping a plain flight
// pinned inside its server-cache read.
type gatedStore struct {
	inner      cache.Store
	enteredGet chan struct{}
	releaseGet chan struct{}
	once       sync.Once
}

func (g *gatedStore) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	g.once.Do(func() {
		close(g.enteredGet)
		<-g.releaseGet
	})
	return g.inner.Get(ctx, key)
}

func (g *gatedStore) Upsert(ctx context.Context, key string, snapshot models.WeatherSnapshot, raw json.RawMessage, ttl time.Duration) error {
	return g.inner.Upsert(ctx, key, snapshot, raw, ttl)
}

// TestRefresh_DoesNotJoinPlainFlight verifies a Refresh racing with an
// in-progress plain request still reaches upstream instead of inheriting
// that flight's possibly cache-served result.
func TestRefresh_DoesNotJoinPlainFlight(t *testing.T) {
	agg := &mockAggregator{snapshot: testSnapshot()}
	store := &gatedStore{
		inner:      cache.NewMemoryStore(clockwork.NewRealClock()),
		enteredGet: make(chan struct{}),
		releaseGet: make(chan struct{}),
	}
	// Stale server-tier entry the plain flight will hit.
	stale := testSnapshot()
	stale.Current.Temperature = 5
	if err := store.inner.Upsert(context.Background(), "home|47.61|-122.33", stale, nil, time.Hour); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	svc := newTestService(agg, store)

	var wg sync.WaitGroup
	var plainSnap models.WeatherSnapshot
	var plainErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		plainSnap, plainErr = svc.GetWeather(context.Background(), "home", lat(47.61), lat(-122.33))
	}()
	<-store.enteredGet

	fresh, err := svc.Refresh(context.Background(), "home", lat(47.61), lat(-122.33))
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if fresh.Current.Temperature != 22 {
		t.Errorf("Refresh() temperature = %d, want 22 (fresh fetch)", fresh.Current.Temperature)
	}
	if calls := agg.calls.Load(); calls != 1 {
		t.Errorf("upstream calls after Refresh = %d, want 1 (refresh joined the plain flight)", calls)
	}

	close(store.releaseGet)
	wg.Wait()
	if plainErr != nil {
		t.Fatalf("GetWeather() error = %v", plainErr)
	}
	if plainSnap.Current.Temperature == 0 {
		t.Error("plain request returned empty snapshot")
	}
}

// TestGetAlerts verifies the alert engine runs over the cached snapshot.
func TestGetAlerts(t *testing.T) {
	snap := testSnapshot()
	snap.Current.Temperature = 38
	snap.Current.WindSpeed = 30
	snap.Hourly[0].Condition = "light rain"
	agg := &mockAggregator{snapshot: snap}
	store := cache.NewMemoryStore(clockwork.NewRealClock())
	svc := newTestService(agg, store)

	alerts, err := svc.GetAlerts(context.Background(), "home", lat(47.61), lat(-122.33))
	if err != nil {
		t.Fatalf("GetAlerts() error = %v", err)
	}
	if len(alerts) != 3 {
		t.Errorf("alert count = %d, want 3", len(alerts))
	}
	if calls := agg.calls.Load(); calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (alerts should reuse cached snapshot)", calls)
	}
}

// TestGetWeather_NearbyCoordinatesShareCache verifies geolocation jitter
// within rounding precision maps onto one cached entry.
func TestGetWeather_NearbyCoordinatesShareCache(t *testing.T) {
	agg := &mockAggregator{snapshot: testSnapshot()}
	store := cache.NewMemoryStore(clockwork.NewRealClock())
	svc := newTestService(agg, store)
	ctx := context.Background()

	if _, err := svc.GetWeather(ctx, "home", lat(47.6062), lat(-122.3321)); err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if _, err := svc.GetWeather(ctx, "home", lat(47.6041), lat(-122.3338)); err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if calls := agg.calls.Load(); calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (nearby coordinates fragmented the cache)", calls)
	}
}
