package locate

import (
	"errors"

	"github.com/banshee-data/beacon.locator/internal/geo"
	"github.com/banshee-data/beacon.locator/internal/geodesy"
	"github.com/banshee-data/beacon.locator/internal/monitoring"
)

// DefaultClusterThreshold is the distance, in metres, within which two
// candidates count as supporting each other.
const DefaultClusterThreshold = 2.5

// Resolution is the outcome of resolving one beacon window.
type Resolution struct {
	BeaconID string
	// Position is nil when no candidate had any support.
	Position   *geo.PlanarPoint
	Candidates []geo.PlanarPoint
	Support    int

	Pairs               int
	NoSolutionPairs     int
	ConvergenceWarnings int
}

// Resolved reports whether a consensus position was found.
func (r Resolution) Resolved() bool { return r.Position != nil }

// Resolver computes a consensus position from a beacon window.
type Resolver struct {
	Solver           *geodesy.Solver
	Projection       *geo.Projection
	ClusterThreshold float64
}

// Resolve intersects the distance circles of every unordered sniffer pair
// and returns the candidate with the most support.
func (r *Resolver) Resolve(w *BeaconWindow) Resolution {
	res := Resolution{BeaconID: w.BeaconID}
	ids := w.SnifferIDs()

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := w.Entries[ids[i]], w.Entries[ids[j]]
			res.Pairs++

			sol, err := r.Solver.Solve(a.Position, a.Distance, b.Position, b.Distance)
			if errors.Is(err, geodesy.ErrNoSolution) {
				res.NoSolutionPairs++
				continue
			} else if err != nil {
				monitoring.Logf("locate: beacon %s pair %s/%s: %v", w.BeaconID, ids[i], ids[j], err)
				res.NoSolutionPairs++
				continue
			}

			for _, ref := range []geodesy.Refinement{sol.X0, sol.X1} {
				if !ref.Converged {
					res.ConvergenceWarnings++
					monitoring.Logf("locate: beacon %s pair %s/%s did not converge after %d iterations (residuals %.3g, %.3g)",
						w.BeaconID, ids[i], ids[j], ref.Iterations, ref.ResidualA, ref.ResidualB)
				}
				res.Candidates = append(res.Candidates, r.Projection.ToPlanar(ref.Point))
			}
		}
	}

	if idx, support, ok := SelectConsensus(res.Candidates, r.threshold()); ok {
		p := res.Candidates[idx]
		res.Position = &p
		res.Support = support
	}
	return res
}

func (r *Resolver) threshold() float64 {
	if r.ClusterThreshold > 0 {
		return r.ClusterThreshold
	}
	return DefaultClusterThreshold
}

// SelectConsensus returns the candidate with the most other candidates
// strictly closer than threshold. Ties go to the lowest index. ok is false
// when no candidate has any support.
func SelectConsensus(cands []geo.PlanarPoint, threshold float64) (index, support int, ok bool) {
	index = -1
	for i := range cands {
		n := 0
		for j := range cands {
			if i != j && cands[i].Distance(cands[j]) < threshold {
				n++
			}
		}
		if n > support {
			index, support = i, n
		}
	}
	return index, support, support > 0
}
