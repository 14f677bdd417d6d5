package locate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/beacon.locator/internal/geo"
)

func newTestEngine(t *testing.T, side float64) (*Engine, Registry) {
	t.Helper()
	proj, reg, model := triangleScenario(t, side)
	return &Engine{
		Model:       model,
		Resolver:    newTestResolver(t, proj),
		Bounds:      2.5,
		Concurrency: 2,
	}, reg
}

func TestEngineLocate_SortedAndGeographic(t *testing.T) {
	e, reg := newTestEngine(t, 10)
	proj := e.Resolver.Projection

	var obs []Observation
	truths := map[string]geo.PlanarPoint{
		"beacon-c": {X: 0, Y: 0},
		"beacon-a": {X: 1, Y: 1},
		"beacon-b": {X: -1, Y: 0.5},
	}
	for id, p := range truths {
		obs = append(obs, sightings(reg, e.Model, id, proj.ToGeographic(p), 100)...)
	}

	batch, err := e.Locate(context.Background(), obs, reg, 100)
	require.NoError(t, err)
	require.Len(t, batch.Positions, 3)

	for i, want := range []string{"beacon-a", "beacon-b", "beacon-c"} {
		p := batch.Positions[i]
		assert.Equal(t, want, p.BeaconID)
		assert.Equal(t, want, batch.Resolutions[i].BeaconID)
		assert.Equal(t, 100.0, p.Timestamp)
		require.True(t, p.Resolved(), "beacon %s unresolved", want)
		require.NotNil(t, p.Geographic)

		assert.Less(t, p.Planar.Distance(truths[want]), 0.5)
		back := proj.ToPlanar(*p.Geographic)
		assert.InDelta(t, p.Planar.X, back.X, 1e-6)
		assert.InDelta(t, p.Planar.Y, back.Y, 1e-6)
	}
}

func TestEngineLocate_UnresolvedHasNilPositions(t *testing.T) {
	e, reg := newTestEngine(t, 10)
	var obs []Observation
	for _, id := range sortedKeys(reg) {
		// -40 dBm at 1m reference, 2 exponent: 1m from each sniffer
		obs = append(obs, Observation{SnifferID: id, BeaconID: "nowhere", Timestamp: 100, RSSI: -40})
	}

	batch, err := e.Locate(context.Background(), obs, reg, 100)
	require.NoError(t, err)
	require.Len(t, batch.Positions, 1)
	assert.False(t, batch.Positions[0].Resolved())
	assert.Nil(t, batch.Positions[0].Geographic)
	assert.Equal(t, 3, batch.Resolutions[0].NoSolutionPairs)
}

func TestEngineLocate_CancelledContext(t *testing.T) {
	e, reg := newTestEngine(t, 10)
	obs := sightings(reg, e.Model, "beacon-1", testOrigin, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Locate(ctx, obs, reg, 100)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineLocate_NoObservations(t *testing.T) {
	e, reg := newTestEngine(t, 10)
	batch, err := e.Locate(context.Background(), nil, reg, 100)
	require.NoError(t, err)
	assert.Empty(t, batch.Positions)
}
