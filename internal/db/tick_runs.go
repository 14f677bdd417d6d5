package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/banshee-data/beacon.locator/internal/locate"
)

// RecordTickRun stores the summary of one locator pass.
func (db *DB) RecordTickRun(ctx context.Context, r locate.TickReport) error {
	var errText sql.NullString
	if r.Error != "" {
		errText = sql.NullString{String: r.Error, Valid: true}
	}
	started := float64(r.StartedAt.UnixNano()) / 1e9
	_, err := db.ExecContext(ctx, `INSERT INTO tick_runs (run_id, target, started_at, duration_ms, observations, skipped_observations,
			findable, resolved, unresolved, no_solution_pairs, convergence_warnings, persistence_failures, pruned, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Target, started, float64(r.Duration)/float64(time.Millisecond), r.Observations, r.SkippedObservations,
		r.Findable, r.Resolved, r.Unresolved, r.NoSolutionPairs, r.ConvergenceWarnings, r.PersistenceFailures, r.Pruned, errText)
	return err
}

// RecentTickRuns returns up to limit passes, newest first.
func (db *DB) RecentTickRuns(ctx context.Context, limit int) ([]locate.TickReport, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT run_id, target, started_at, duration_ms, observations, skipped_observations,
			findable, resolved, unresolved, no_solution_pairs, convergence_warnings, persistence_failures, pruned, COALESCE(error, '')
		FROM tick_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []locate.TickReport
	for rows.Next() {
		var (
			r          locate.TickReport
			started    float64
			durationMs float64
		)
		if err := rows.Scan(&r.RunID, &r.Target, &started, &durationMs, &r.Observations, &r.SkippedObservations,
			&r.Findable, &r.Resolved, &r.Unresolved, &r.NoSolutionPairs, &r.ConvergenceWarnings, &r.PersistenceFailures,
			&r.Pruned, &r.Error); err != nil {
			return nil, err
		}
		sec := int64(started)
		r.StartedAt = time.Unix(sec, int64((started-float64(sec))*1e9)).UTC()
		r.Duration = time.Duration(durationMs * float64(time.Millisecond))
		out = append(out, r)
	}
	return out, rows.Err()
}
