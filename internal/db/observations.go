package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banshee-data/beacon.locator/internal/locate"
)

// RecordObservation stores one sighting.
func (db *DB) RecordObservation(ctx context.Context, o locate.Observation) error {
	_, err := db.ExecContext(ctx, `INSERT INTO observations (sniffer_id, beacon_id, timestamp, rssi) VALUES (?, ?, ?, ?)`,
		o.SnifferID, o.BeaconID, o.Timestamp, o.RSSI)
	return err
}

// RecordObservations stores a batch of sightings in one transaction.
func (db *DB) RecordObservations(ctx context.Context, obs []locate.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO observations (sniffer_id, beacon_id, timestamp, rssi) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, o := range obs {
		if _, err := stmt.ExecContext(ctx, o.SnifferID, o.BeaconID, o.Timestamp, o.RSSI); err != nil {
			return fmt.Errorf("insert observation %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Observations returns sightings with from < timestamp < to, oldest first.
func (db *DB) Observations(ctx context.Context, from, to float64) ([]locate.Observation, error) {
	rows, err := db.QueryContext(ctx, `SELECT sniffer_id, beacon_id, timestamp, rssi FROM observations
		WHERE timestamp > ? AND timestamp < ? ORDER BY timestamp, rowid`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []locate.Observation
	for rows.Next() {
		var o locate.Observation
		if err := rows.Scan(&o.SnifferID, &o.BeaconID, &o.Timestamp, &o.RSSI); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// PruneObservations deletes sightings older than before and returns how
// many were removed.
func (db *DB) PruneObservations(ctx context.Context, before float64) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM observations WHERE timestamp < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
