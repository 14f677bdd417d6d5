package locate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/beacon.locator/internal/monitoring"
	"github.com/banshee-data/beacon.locator/internal/timeutil"
)

// Worker periodically locates beacons from the observations just behind the
// current time and upserts the results. Each pass takes a fresh registry
// snapshot, so sniffers added or moved between passes take effect on the
// next one.
type Worker struct {
	Engine       *Engine
	Registry     RegistrySource
	Observations ObservationSource
	Sink         PositionSink
	Recorder     Recorder // optional
	Pruner       Pruner   // optional

	Interval time.Duration // how often to run (e.g., 5s)
	Lag      time.Duration // target = now - Lag
	// Retention is how long observations are kept behind the target. Zero
	// disables pruning.
	Retention time.Duration
	// TimestampOverride pins every pass to a fixed target (unix seconds),
	// for replaying recorded data.
	TimestampOverride *float64
	// PersistUnresolved upserts a null position for findable beacons that
	// had no consensus, clearing any stale one.
	PersistUnresolved bool

	Clock   timeutil.Clock
	Metrics *monitoring.Metrics

	initOnce sync.Once
	started  atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker returns a worker with the production cadence.
func NewWorker(engine *Engine, registry RegistrySource, observations ObservationSource, sink PositionSink) *Worker {
	return &Worker{
		Engine:       engine,
		Registry:     registry,
		Observations: observations,
		Sink:         sink,
		Interval:     5 * time.Second,
		Lag:          2500 * time.Millisecond,
		Clock:        timeutil.RealClock{},
	}
}

// Start runs the periodic loop in a goroutine until ctx is cancelled or Stop
// is called. A failed pass is logged and the loop keeps ticking.
func (w *Worker) Start(ctx context.Context) {
	w.init()
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(w.done)
		ticker := w.Clock.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if _, err := w.RunOnce(ctx); err != nil {
					monitoring.Logf("locator worker run error: %v", err)
				}
			case <-ctx.Done():
				return
			case <-w.stopChan:
				return
			}
		}
	}()
}

// Stop requests the loop to exit and waits for the current pass to finish.
// It is safe to call more than once, and before Start.
func (w *Worker) Stop() {
	w.init()
	w.stopOnce.Do(func() { close(w.stopChan) })
	if w.started.Load() {
		<-w.done
	}
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		if w.stopChan == nil {
			w.stopChan = make(chan struct{})
		}
		if w.done == nil {
			w.done = make(chan struct{})
		}
		if w.Clock == nil {
			w.Clock = timeutil.RealClock{}
		}
	})
}

// Target returns the window centre the next pass will use.
func (w *Worker) Target() float64 {
	if w.TimestampOverride != nil {
		return *w.TimestampOverride
	}
	w.init()
	now := w.Clock.Now().Add(-w.Lag)
	return float64(now.UnixNano()) / 1e9
}

// RunOnce performs a single pass at Target().
func (w *Worker) RunOnce(ctx context.Context) (TickReport, error) {
	return w.RunAt(ctx, w.Target())
}

// RunAt performs a single pass centred on target (unix seconds). Registry
// or observation failures abort the pass; a failed upsert is logged and
// counted and the remaining beacons are still written.
func (w *Worker) RunAt(ctx context.Context, target float64) (TickReport, error) {
	w.init()
	report := TickReport{
		RunID:     uuid.New().String(),
		Target:    target,
		StartedAt: w.Clock.Now(),
	}

	err := w.run(ctx, &report)
	report.Duration = w.Clock.Since(report.StartedAt)
	if err != nil {
		report.Error = err.Error()
	}

	w.Metrics.ObserveTick(report.Duration, err != nil, monitoring.TickCounts{
		Findable:            report.Findable,
		Resolved:            report.Resolved,
		Unresolved:          report.Unresolved,
		NoSolutionPairs:     report.NoSolutionPairs,
		ConvergenceWarnings: report.ConvergenceWarnings,
		PersistenceFailures: report.PersistenceFailures,
		SkippedObservations: report.SkippedObservations,
	})
	if w.Recorder != nil {
		if rerr := w.Recorder.RecordTickRun(ctx, report); rerr != nil {
			monitoring.Logf("locator worker: record run %s: %v", report.RunID, rerr)
		}
	}
	return report, err
}

func (w *Worker) run(ctx context.Context, report *TickReport) error {
	reg, err := w.Registry.Sniffers(ctx)
	if err != nil {
		return fmt.Errorf("load sniffer registry: %w", err)
	}

	bounds := w.Engine.Bounds
	obs, err := w.Observations.Observations(ctx, report.Target-bounds, report.Target+bounds)
	if err != nil {
		return fmt.Errorf("load observations: %w", err)
	}
	report.Observations = len(obs)

	batch, err := w.Engine.Locate(ctx, obs, reg, report.Target)
	if err != nil {
		return err
	}
	report.SkippedObservations = batch.Stats.Skipped()
	report.Findable = len(batch.Resolutions)

	for i, res := range batch.Resolutions {
		report.NoSolutionPairs += res.NoSolutionPairs
		report.ConvergenceWarnings += res.ConvergenceWarnings
		if res.Resolved() {
			report.Resolved++
		} else {
			report.Unresolved++
			monitoring.Logf("locator worker: beacon %s has no consensus among %d candidates", res.BeaconID, len(res.Candidates))
			if !w.PersistUnresolved {
				continue
			}
		}

		pos := batch.Positions[i]
		pos.RunID = report.RunID
		if err := w.Sink.UpsertPosition(ctx, pos); err != nil {
			report.PersistenceFailures++
			monitoring.Logf("locator worker: upsert position for beacon %s: %v", pos.BeaconID, err)
		}
	}

	if w.Pruner != nil && w.Retention > 0 {
		n, err := w.Pruner.PruneObservations(ctx, report.Target-w.Retention.Seconds())
		if err != nil {
			monitoring.Logf("locator worker: prune observations: %v", err)
		} else {
			report.Pruned = n
		}
	}
	return nil
}
