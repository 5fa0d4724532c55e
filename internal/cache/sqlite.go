package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kjstillabower/weather-exporter/internal/models"
)

const coordinatesSchema = `
CREATE TABLE IF NOT EXISTS coordinates (
	name        TEXT PRIMARY KEY,
	latitude    REAL NOT NULL,
	longitude   REAL NOT NULL,
	resolved_at INTEGER NOT NULL
)`

// SQLiteStore implements CoordinateStore in a local SQLite file so
// resolutions survive restarts of a single exporter.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path and ensures the schema.
// path may be ":memory:".
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, coordinatesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Get implements CoordinateStore.
func (s *SQLiteStore) Get(ctx context.Context, name string) (models.Coordinates, bool, error) {
	var c models.Coordinates
	err := s.db.QueryRowContext(ctx,
		"SELECT latitude, longitude FROM coordinates WHERE name = ?", name,
	).Scan(&c.Latitude, &c.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Coordinates{}, false, nil
	}
	if err != nil {
		return models.Coordinates{}, false, fmt.Errorf("query coordinates: %w", err)
	}
	return c, true, nil
}

// Set implements CoordinateStore.
func (s *SQLiteStore) Set(ctx context.Context, name string, coords models.Coordinates) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO coordinates (name, latitude, longitude, resolved_at) VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	latitude = excluded.latitude,
	longitude = excluded.longitude,
	resolved_at = excluded.resolved_at`,
		name, coords.Latitude, coords.Longitude, s.now().Unix())
	if err != nil {
		return fmt.Errorf("store coordinates: %w", err)
	}
	return nil
}

// Close implements CoordinateStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
