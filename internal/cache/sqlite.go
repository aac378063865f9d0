package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/asimthahaazeez/hiveweather/internal/models"
)

// SQLiteStore implements Store on a single weather_cache table: one row per
// location key, last-writer-wins upsert, expiry checked in the select so
// stale rows read as misses without ever being deleted.
type SQLiteStore struct {
	db    *sqlx.DB
	clock clockwork.Clock
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// weather_cache table exists.
func NewSQLiteStore(path string, clock clockwork.Clock) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	s := &SQLiteStore{db: db, clock: clock}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS weather_cache (
		location TEXT PRIMARY KEY,
		weather_data TEXT NOT NULL,
		forecast_data TEXT,
		cached_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database. Call during shutdown.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type cacheRow struct {
	Location     string         `db:"location"`
	WeatherData  []byte         `db:"weather_data"`
	ForecastData sql.NullString `db:"forecast_data"`
	CachedAt     int64          `db:"cached_at"`
	ExpiresAt    int64          `db:"expires_at"`
}

// Get returns the row for key when present and not past its expiry.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	if ctx.Err() != nil {
		return Entry{}, false, ctx.Err()
	}

	var row cacheRow
	err := s.db.GetContext(ctx, &row,
		`SELECT location, weather_data, forecast_data, cached_at, expires_at
		 FROM weather_cache WHERE location = ? AND expires_at > ?`,
		key, s.clock.Now().Unix())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache select: %w", err)
	}

	var snapshot models.WeatherSnapshot
	if err := json.Unmarshal(row.WeatherData, &snapshot); err != nil {
		return Entry{}, false, fmt.Errorf("cache decode: %w", err)
	}
	entry := Entry{
		Key:       row.Location,
		Snapshot:  snapshot,
		CachedAt:  time.Unix(row.CachedAt, 0),
		ExpiresAt: time.Unix(row.ExpiresAt, 0),
	}
	if row.ForecastData.Valid {
		entry.RawForecast = json.RawMessage(row.ForecastData.String)
	}
	return entry, true, nil
}

// Upsert writes the single row for key, overwriting any previous value.
func (s *SQLiteStore) Upsert(ctx context.Context, key string, snapshot models.WeatherSnapshot, rawForecast json.RawMessage, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	now := s.clock.Now()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO weather_cache (location, weather_data, forecast_data, cached_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(location) DO UPDATE SET
			weather_data = excluded.weather_data,
			forecast_data = excluded.forecast_data,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at`,
		key, string(raw), nullableString(rawForecast), now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("cache upsert: %w", err)
	}
	return nil
}

func nullableString(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
