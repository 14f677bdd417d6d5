package db

import (
	"context"
)

// Heartbeat is the latest liveness report from a sniffer.
type Heartbeat struct {
	SnifferID string  `json:"sniffer_id"`
	Timestamp float64 `json:"timestamp"`
}

// RecordHeartbeat stores a liveness report.
func (db *DB) RecordHeartbeat(ctx context.Context, snifferID string, ts float64) error {
	_, err := db.ExecContext(ctx, `INSERT INTO heartbeats (sniffer_id, timestamp) VALUES (?, ?)`, snifferID, ts)
	return err
}

// LatestHeartbeats returns the newest heartbeat per sniffer, ordered by
// sniffer id. A non-empty snifferID limits the result to that sniffer.
func (db *DB) LatestHeartbeats(ctx context.Context, snifferID string) ([]Heartbeat, error) {
	q := `SELECT sniffer_id, MAX(timestamp) FROM heartbeats`
	var args []interface{}
	if snifferID != "" {
		q += ` WHERE sniffer_id = ?`
		args = append(args, snifferID)
	}
	q += ` GROUP BY sniffer_id ORDER BY sniffer_id`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Heartbeat
	for rows.Next() {
		var h Heartbeat
		if err := rows.Scan(&h.SnifferID, &h.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// PruneHeartbeats keeps only the newest heartbeat per sniffer.
func (db *DB) PruneHeartbeats(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM heartbeats WHERE rowid NOT IN (
		SELECT rowid FROM heartbeats h WHERE h.timestamp = (
			SELECT MAX(timestamp) FROM heartbeats WHERE sniffer_id = h.sniffer_id
		)
	)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
