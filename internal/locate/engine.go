package locate

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/beacon.locator/internal/rssi"
)

// DefaultConcurrency bounds the number of beacons resolved at once.
const DefaultConcurrency = 4

// Engine runs aggregation and resolution for a batch of observations.
type Engine struct {
	Model    rssi.PathLossModel
	Resolver *Resolver
	// Bounds is the half-width, in seconds, of the window around the target.
	Bounds float64
	// Concurrency caps parallel beacon resolution; zero uses
	// DefaultConcurrency.
	Concurrency int
}

// Batch is the result of locating every findable beacon in one window.
type Batch struct {
	Target      float64
	Stats       AggregateStats
	Resolutions []Resolution       // sorted by beacon id
	Positions   []ResolvedPosition // parallel to Resolutions
}

// Locate resolves every findable beacon in obs around target. Beacons are
// independent and resolved concurrently; the output order is by beacon id.
func (e *Engine) Locate(ctx context.Context, obs []Observation, reg Registry, target float64) (Batch, error) {
	windows, stats := Aggregate(obs, reg, target, e.Bounds, e.Model)

	ids := make([]string, 0, len(windows))
	for id := range windows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	resolutions := make([]Resolution, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	limit := e.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g.SetLimit(limit)
	for i, id := range ids {
		w := windows[id]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			resolutions[i] = e.Resolver.Resolve(w)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Batch{}, fmt.Errorf("resolve beacons: %w", err)
	}

	batch := Batch{
		Target:      target,
		Stats:       stats,
		Resolutions: resolutions,
		Positions:   make([]ResolvedPosition, len(resolutions)),
	}
	for i, r := range resolutions {
		p := ResolvedPosition{BeaconID: r.BeaconID, Timestamp: target}
		if r.Position != nil {
			planar := *r.Position
			geographic := e.Resolver.Projection.ToGeographic(planar)
			p.Planar = &planar
			p.Geographic = &geographic
		}
		batch.Positions[i] = p
	}
	return batch, nil
}
