// Package cache implements the server-side weather cache tier: one entry per
// location key, refreshed by upsert, with TTL-based expiry. A read past the
// expiry is indistinguishable from a miss to the caller.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/asimthahaazeez/hiveweather/internal/models"
)

// Entry is one cached weather row. RawForecast retains the opaque upstream
// forecast payload alongside the normalized snapshot.
type Entry struct {
	Key         string                 `json:"key"`
	Snapshot    models.WeatherSnapshot `json:"snapshot"`
	RawForecast json.RawMessage        `json:"rawForecast,omitempty"`
	CachedAt    time.Time              `json:"cachedAt"`
	ExpiresAt   time.Time              `json:"expiresAt"`
}

// Store is the server cache tier contract. Get returns ok=false for both
// missing and expired entries; Upsert overwrites the single row for the key.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Upsert(ctx context.Context, key string, snapshot models.WeatherSnapshot, rawForecast json.RawMessage, ttl time.Duration) error
}

// MemoryStore implements Store with an in-process map. Safe for concurrent
// use. Expired entries are dropped on access.
type MemoryStore struct {
	mu    sync.Mutex
	clock clockwork.Clock
	data  map[string]Entry
}

// NewMemoryStore returns a MemoryStore using the given clock (pass
// clockwork.NewRealClock() outside tests).
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		clock: clock,
		data:  make(map[string]Entry),
	}
}

// Get returns the entry for key when present and unexpired.
func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !s.clock.Now().Before(entry.ExpiresAt) {
		delete(s.data, key)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Upsert stores or overwrites the entry for key with the given TTL.
func (s *MemoryStore) Upsert(ctx context.Context, key string, snapshot models.WeatherSnapshot, rawForecast json.RawMessage, ttl time.Duration) error {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = Entry{
		Key:         key,
		Snapshot:    snapshot,
		RawForecast: rawForecast,
		CachedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	return nil
}
