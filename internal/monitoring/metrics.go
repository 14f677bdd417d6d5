package monitoring

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TickCounts are the per-pass outcome counts fed into Metrics.
type TickCounts struct {
	Findable            int
	Resolved            int
	Unresolved          int
	NoSolutionPairs     int
	ConvergenceWarnings int
	PersistenceFailures int
	SkippedObservations int
}

// Metrics exposes locator Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	Ticks                prometheus.Counter
	TickFailures         prometheus.Counter
	TickDuration         prometheus.Histogram
	BeaconsFindable      prometheus.Counter
	BeaconsResolved      prometheus.Counter
	BeaconsUnresolved    prometheus.Counter
	NoSolutionPairs      prometheus.Counter
	ConvergenceWarnings  prometheus.Counter
	PersistenceFailures  prometheus.Counter
	SkippedObservations  prometheus.Counter
	ObservationsIngested prometheus.Counter
}

// NewMetrics registers the locator metrics against reg. A nil reg uses the
// default registerer. Registering twice on the same registry returns the
// existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{gatherer: gatherer}
	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&m.Ticks, "locator_ticks_total", "Locator passes started."},
		{&m.TickFailures, "locator_tick_failures_total", "Locator passes aborted because a collaborator failed."},
		{&m.BeaconsFindable, "locator_beacons_findable_total", "Beacons seen by at least three sniffers in a pass."},
		{&m.BeaconsResolved, "locator_beacons_resolved_total", "Beacons with a consensus position."},
		{&m.BeaconsUnresolved, "locator_beacons_unresolved_total", "Findable beacons without a consensus position."},
		{&m.NoSolutionPairs, "locator_no_solution_pairs_total", "Sniffer pairs whose distance circles do not intersect."},
		{&m.ConvergenceWarnings, "locator_convergence_warnings_total", "Candidate refinements that hit the iteration cap."},
		{&m.PersistenceFailures, "locator_persistence_failures_total", "Position upserts that failed."},
		{&m.SkippedObservations, "locator_skipped_observations_total", "Observations dropped for an unknown sniffer or invalid reading."},
		{&m.ObservationsIngested, "locator_observations_ingested_total", "Observations written by the ingest paths."},
	}
	for _, c := range counters {
		counter, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: c.name,
			Help: c.help,
		}), c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	hist, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "locator_tick_duration_seconds",
		Help:    "Wall time of a locator pass.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}), "locator_tick_duration_seconds")
	if err != nil {
		return nil, err
	}
	m.TickDuration = hist
	return m, nil
}

// Gatherer returns the gatherer backing the registry the metrics live on.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (m *Metrics) Handler() http.Handler {
	gatherer := m.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveTick records one completed or aborted pass.
func (m *Metrics) ObserveTick(d time.Duration, failed bool, c TickCounts) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.TickDuration.Observe(d.Seconds())
	if failed {
		m.TickFailures.Inc()
		return
	}
	m.BeaconsFindable.Add(float64(c.Findable))
	m.BeaconsResolved.Add(float64(c.Resolved))
	m.BeaconsUnresolved.Add(float64(c.Unresolved))
	m.NoSolutionPairs.Add(float64(c.NoSolutionPairs))
	m.ConvergenceWarnings.Add(float64(c.ConvergenceWarnings))
	m.PersistenceFailures.Add(float64(c.PersistenceFailures))
	m.SkippedObservations.Add(float64(c.SkippedObservations))
}

// AddIngested counts observations accepted by an ingest path.
func (m *Metrics) AddIngested(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ObservationsIngested.Add(float64(n))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
