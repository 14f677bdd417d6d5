package locate

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/banshee-data/beacon.locator/internal/geo"
	"github.com/banshee-data/beacon.locator/internal/geodesy"
	"github.com/banshee-data/beacon.locator/internal/rssi"
)

var testOrigin = geo.FromDegrees(43.0856, -77.6768)

// memStore is an in-memory stand-in for the sqlite store.
type memStore struct {
	mu        sync.Mutex
	registry  Registry
	obs       []Observation
	positions map[string]ResolvedPosition
	runs      []TickReport
	pruned    []float64

	registryErr error
	obsErr      error
	// failUpsert makes UpsertPosition fail for these beacon ids.
	failUpsert map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		registry:   Registry{},
		positions:  map[string]ResolvedPosition{},
		failUpsert: map[string]bool{},
	}
}

func (m *memStore) Sniffers(ctx context.Context) (Registry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registryErr != nil {
		return nil, m.registryErr
	}
	out := make(Registry, len(m.registry))
	for k, v := range m.registry {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Observations(ctx context.Context, from, to float64) ([]Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.obsErr != nil {
		return nil, m.obsErr
	}
	var out []Observation
	for _, o := range m.obs {
		if o.Timestamp > from && o.Timestamp < to {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) UpsertPosition(ctx context.Context, p ResolvedPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert[p.BeaconID] {
		return errors.New("disk full")
	}
	m.positions[p.BeaconID] = p
	return nil
}

func (m *memStore) RecordTickRun(ctx context.Context, r TickReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *memStore) PruneObservations(ctx context.Context, before float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned = append(m.pruned, before)
	kept := m.obs[:0]
	var n int64
	for _, o := range m.obs {
		if o.Timestamp < before {
			n++
			continue
		}
		kept = append(kept, o)
	}
	m.obs = kept
	return n, nil
}

func (m *memStore) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func (m *memStore) beaconIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.positions))
	for id := range m.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// triangleScenario places three sniffers on an equilateral triangle of the
// given side centred on the projection origin and returns them with the
// model used to synthesise readings.
func triangleScenario(t *testing.T, side float64) (*geo.Projection, Registry, rssi.PathLossModel) {
	t.Helper()
	proj := geo.NewProjection(testOrigin)
	r := side / math.Sqrt(3)
	reg := Registry{}
	for i, id := range []string{"esp-a", "esp-b", "esp-c"} {
		theta := math.Pi/2 + float64(i)*2*math.Pi/3
		reg[id] = proj.ToGeographic(geo.PlanarPoint{X: r * math.Cos(theta), Y: r * math.Sin(theta)})
	}
	return proj, reg, rssi.PathLossModel{ReferenceRSSI: -40, Exponent: 2}
}

// sightings synthesises one reading per sniffer for a beacon at truth.
func sightings(reg Registry, model rssi.PathLossModel, beacon string, truth geo.GeoPoint, ts float64) []Observation {
	var out []Observation
	for _, id := range sortedKeys(reg) {
		d := geo.GeodesicDistance(reg[id], truth)
		out = append(out, Observation{SnifferID: id, BeaconID: beacon, Timestamp: ts, RSSI: model.RSSI(d)})
	}
	return out
}

func sortedKeys(reg Registry) []string {
	ids := make([]string, 0, len(reg))
	for id := range reg {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func newTestResolver(t *testing.T, proj *geo.Projection) *Resolver {
	t.Helper()
	solver, err := geodesy.NewSolver(geodesy.DefaultConfig())
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}
	return &Resolver{Solver: solver, Projection: proj, ClusterThreshold: DefaultClusterThreshold}
}
