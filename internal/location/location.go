// Package location derives stable cache identities for weather queries.
// Nearby coordinates collapse onto one key so geolocation jitter does not
// fragment the cache tiers.
package location

import (
	"fmt"
	"math"
	"strings"
)

// Fallback reference point used when a request carries no coordinates.
const (
	DefaultLabel = "Apiary"
	DefaultLat   = 40.7128
	DefaultLon   = -74.0060
)

// coordPrecision is the rounding precision for coordinates. Two decimals is
// roughly 1.1 km, enough to deduplicate city-scale queries.
const coordPrecision = 100.0

// Key is the normalized identity for a geographic weather query.
// Lat and Lon are already rounded; two Keys derived from inputs that round
// the same are equal.
type Key struct {
	Label string
	Lat   float64
	Lon   float64
}

// Derive builds a Key from an optional label and optional coordinates,
// falling back to the defaults for any absent input. It never fails.
func Derive(label string, lat, lon *float64) Key {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" {
		l = strings.ToLower(DefaultLabel)
	}
	la := DefaultLat
	if lat != nil {
		la = *lat
	}
	lo := DefaultLon
	if lon != nil {
		lo = *lon
	}
	return Key{
		Label: l,
		Lat:   round(la),
		Lon:   round(lo),
	}
}

// String serializes the key for use as a cache index and coalescing key.
func (k Key) String() string {
	return fmt.Sprintf("%s|%.2f|%.2f", k.Label, k.Lat, k.Lon)
}

func round(v float64) float64 {
	return math.Round(v*coordPrecision) / coordPrecision
}

// Site is a configured apiary site, used for cache warming and metrics.
type Site struct {
	Label string  `yaml:"label"`
	Lat   float64 `yaml:"lat"`
	Lon   float64 `yaml:"lon"`
}

// Key derives the cache key for the site.
func (s Site) Key() Key {
	return Derive(s.Label, &s.Lat, &s.Lon)
}

