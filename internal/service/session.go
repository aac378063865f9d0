package service

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/asimthahaazeez/hiveweather/internal/models"
)

// sessionCache is the client-side cache tier: a short-TTL in-process map in
// front of the server store that spares repeat requests even the server
// round trip. Each WeatherService owns its own instance, so independent
// services (and test cases) never share state.
type sessionCache struct {
	mu    sync.RWMutex
	clock clockwork.Clock
	ttl   time.Duration
	data  map[string]sessionEntry
}

type sessionEntry struct {
	snapshot models.WeatherSnapshot
	storedAt time.Time
}

func newSessionCache(ttl time.Duration, clock clockwork.Clock) *sessionCache {
	return &sessionCache{
		clock: clock,
		ttl:   ttl,
		data:  make(map[string]sessionEntry),
	}
}

// get returns the snapshot for key when present and younger than the tier TTL.
func (c *sessionCache) get(key string) (models.WeatherSnapshot, bool) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.WeatherSnapshot{}, false
	}
	if c.clock.Now().Sub(entry.storedAt) >= c.ttl {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
		return models.WeatherSnapshot{}, false
	}
	return entry.snapshot, true
}

// set stores the snapshot under key, stamping it with the current time.
func (c *sessionCache) set(key string, snapshot models.WeatherSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = sessionEntry{snapshot: snapshot, storedAt: c.clock.Now()}
}
