package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/beacon.locator/internal/geo"
	"github.com/banshee-data/beacon.locator/internal/locate"
)

// ErrSnifferNotFound is returned when a sniffer id is not registered.
var ErrSnifferNotFound = errors.New("sniffer not found")

// Sniffer is a registered receiver station.
type Sniffer struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	CreatedAt float64 `json:"created_at"`
	UpdatedAt float64 `json:"updated_at"`
}

// Sniffers returns a snapshot of the registry for one locator pass.
func (db *DB) Sniffers(ctx context.Context) (locate.Registry, error) {
	list, err := db.ListSniffers(ctx)
	if err != nil {
		return nil, err
	}
	reg := make(locate.Registry, len(list))
	for _, s := range list {
		reg[s.ID] = geo.FromDegrees(s.Latitude, s.Longitude)
	}
	return reg, nil
}

// ListSniffers returns every registered sniffer ordered by id.
func (db *DB) ListSniffers(ctx context.Context) ([]Sniffer, error) {
	rows, err := db.QueryContext(ctx, `SELECT sniffer_id, latitude, longitude, created_at, updated_at FROM sniffers ORDER BY sniffer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sniffer
	for rows.Next() {
		var s Sniffer
		if err := rows.Scan(&s.ID, &s.Latitude, &s.Longitude, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSniffer returns one sniffer or ErrSnifferNotFound.
func (db *DB) GetSniffer(ctx context.Context, id string) (Sniffer, error) {
	var s Sniffer
	err := db.QueryRowContext(ctx, `SELECT sniffer_id, latitude, longitude, created_at, updated_at FROM sniffers WHERE sniffer_id = ?`, id).
		Scan(&s.ID, &s.Latitude, &s.Longitude, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrSnifferNotFound
	}
	return s, err
}

// AddSniffer registers a sniffer, or moves it if the id already exists.
func (db *DB) AddSniffer(ctx context.Context, id string, lat, lon float64) error {
	if id == "" {
		return fmt.Errorf("sniffer id is required")
	}
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got %v", lat)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) {
		return fmt.Errorf("longitude must be finite, got %v", lon)
	}
	_, err := db.ExecContext(ctx, `INSERT INTO sniffers (sniffer_id, latitude, longitude, created_at, updated_at)
		VALUES (?, ?, ?, UNIXEPOCH('subsec'), UNIXEPOCH('subsec'))
		ON CONFLICT(sniffer_id) DO UPDATE SET latitude=excluded.latitude, longitude=excluded.longitude, updated_at=UNIXEPOCH('subsec')`,
		id, lat, lon)
	return err
}

// RemoveSniffer deletes a sniffer and reports whether it existed.
func (db *DB) RemoveSniffer(ctx context.Context, id string) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM sniffers WHERE sniffer_id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
