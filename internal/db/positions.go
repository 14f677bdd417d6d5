package db

import (
	"context"
	"database/sql"

	"github.com/banshee-data/beacon.locator/internal/geo"
	"github.com/banshee-data/beacon.locator/internal/locate"
)

// BeaconPosition is the stored latest position of a beacon. The coordinate
// pointers are nil for beacons that were findable but unresolved.
type BeaconPosition struct {
	BeaconID   string           `json:"beacon_id"`
	Planar     *geo.PlanarPoint `json:"planar"`
	Latitude   *float64         `json:"lat"`
	Longitude  *float64         `json:"lon"`
	RunID      string           `json:"run_id"`
	ComputedAt float64          `json:"computed_at"`
	UpdatedAt  float64          `json:"updated_at"`
	Hidden     bool             `json:"hidden"`
}

// UpsertPosition replaces the stored position for p.BeaconID. Every column
// is overwritten, so an unresolved pass clears stale coordinates.
func (db *DB) UpsertPosition(ctx context.Context, p locate.ResolvedPosition) error {
	var x, y, lat, lon sql.NullFloat64
	if p.Planar != nil {
		x = sql.NullFloat64{Float64: p.Planar.X, Valid: true}
		y = sql.NullFloat64{Float64: p.Planar.Y, Valid: true}
	}
	if p.Geographic != nil {
		lat = sql.NullFloat64{Float64: p.Geographic.Lat(), Valid: true}
		lon = sql.NullFloat64{Float64: p.Geographic.Lon(), Valid: true}
	}

	_, err := db.ExecContext(ctx, `INSERT INTO beacon_positions (beacon_id, x, y, latitude, longitude, run_id, computed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, UNIXEPOCH('subsec'))
		ON CONFLICT(beacon_id) DO UPDATE SET x=excluded.x, y=excluded.y, latitude=excluded.latitude, longitude=excluded.longitude,
			run_id=excluded.run_id, computed_at=excluded.computed_at, updated_at=UNIXEPOCH('subsec')`,
		p.BeaconID, x, y, lat, lon, p.RunID, p.Timestamp)
	return err
}

// Positions returns stored beacon positions ordered by beacon id. Unless
// includeUnlisted is set, only beacons with a visible beacons record are
// returned.
func (db *DB) Positions(ctx context.Context, includeUnlisted bool) ([]BeaconPosition, error) {
	q := `SELECT p.beacon_id, p.x, p.y, p.latitude, p.longitude, COALESCE(p.run_id, ''), COALESCE(p.computed_at, 0),
			COALESCE(p.updated_at, 0), COALESCE(b.hidden, 0)
		FROM beacon_positions p LEFT JOIN beacons b ON b.beacon_id = p.beacon_id`
	if !includeUnlisted {
		q += ` WHERE b.hidden = 0`
	}
	q += ` ORDER BY p.beacon_id`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BeaconPosition
	for rows.Next() {
		var (
			p          BeaconPosition
			x, y       sql.NullFloat64
			lat, lon   sql.NullFloat64
			hiddenFlag int
		)
		if err := rows.Scan(&p.BeaconID, &x, &y, &lat, &lon, &p.RunID, &p.ComputedAt, &p.UpdatedAt, &hiddenFlag); err != nil {
			return nil, err
		}
		if x.Valid && y.Valid {
			p.Planar = &geo.PlanarPoint{X: x.Float64, Y: y.Float64}
		}
		if lat.Valid && lon.Valid {
			p.Latitude, p.Longitude = &lat.Float64, &lon.Float64
		}
		p.Hidden = hiddenFlag != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetBeaconHidden marks a beacon hidden or visible, creating its record if
// needed.
func (db *DB) SetBeaconHidden(ctx context.Context, beaconID string, hidden bool) error {
	flag := 0
	if hidden {
		flag = 1
	}
	_, err := db.ExecContext(ctx, `INSERT INTO beacons (beacon_id, hidden, updated_at) VALUES (?, ?, UNIXEPOCH('subsec'))
		ON CONFLICT(beacon_id) DO UPDATE SET hidden=excluded.hidden, updated_at=UNIXEPOCH('subsec')`, beaconID, flag)
	return err
}
