// Package locate turns windows of beacon sightings into beacon positions.
//
// A pass aggregates the observations around a target time into one window
// per beacon, converts each sighting's RSSI into a distance from the
// reporting sniffer, intersects the distance circles of every sniffer pair
// on the ellipsoid, and picks the candidate intersection that most other
// candidates agree with.
package locate

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/beacon.locator/internal/geo"
)

// Observation is a single sighting of a beacon by a sniffer.
type Observation struct {
	SnifferID string  `json:"sniffer_id"`
	BeaconID  string  `json:"beacon_id"`
	Timestamp float64 `json:"timestamp"` // unix seconds
	RSSI      float64 `json:"rssi"`      // dBm
}

// Registry is a snapshot of sniffer positions keyed by sniffer id.
type Registry map[string]geo.GeoPoint

// ResolvedPosition is the outcome for one beacon in one pass. Planar and
// Geographic are both nil when no consensus was reached.
type ResolvedPosition struct {
	BeaconID   string
	Planar     *geo.PlanarPoint
	Geographic *geo.GeoPoint
	RunID      string
	Timestamp  float64
}

// Resolved reports whether the position carries coordinates.
func (p ResolvedPosition) Resolved() bool { return p.Planar != nil }

// RegistrySource provides the current sniffer registry.
type RegistrySource interface {
	Sniffers(ctx context.Context) (Registry, error)
}

// ObservationSource provides observations with from < timestamp < to.
type ObservationSource interface {
	Observations(ctx context.Context, from, to float64) ([]Observation, error)
}

// PositionSink stores one beacon's latest position, replacing any previous
// record for that beacon.
type PositionSink interface {
	UpsertPosition(ctx context.Context, p ResolvedPosition) error
}

// Recorder keeps a log of completed passes.
type Recorder interface {
	RecordTickRun(ctx context.Context, r TickReport) error
}

// Recorders fans a pass record out to several recorders. Every recorder is
// called; their errors are joined.
type Recorders []Recorder

func (rs Recorders) RecordTickRun(ctx context.Context, r TickReport) error {
	var errs []error
	for _, rec := range rs {
		if err := rec.RecordTickRun(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pruner removes observations older than before (unix seconds).
type Pruner interface {
	PruneObservations(ctx context.Context, before float64) (int64, error)
}

// TickReport summarises one locator pass.
type TickReport struct {
	RunID     string        `json:"run_id"`
	Target    float64       `json:"target"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	Observations        int   `json:"observations"`
	SkippedObservations int   `json:"skipped_observations"`
	Findable            int   `json:"findable"`
	Resolved            int   `json:"resolved"`
	Unresolved          int   `json:"unresolved"`
	NoSolutionPairs     int   `json:"no_solution_pairs"`
	ConvergenceWarnings int   `json:"convergence_warnings"`
	PersistenceFailures int   `json:"persistence_failures"`
	Pruned              int64 `json:"pruned"`

	// Error is set when the pass was aborted.
	Error string `json:"error,omitempty"`
}
