package geodesy

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/beacon.locator/internal/geo"
)

// metresPerDegree converts a ground distance into degrees of arc for the
// spherical first approximation (one nautical mile per arc minute).
const metresPerDegree = 111120.0

// singularTolerance bounds the Jacobian determinant relative to the product
// of the radii of curvature.
const singularTolerance = 1e-12

// ErrNoSolution is returned when the two distance circles cannot intersect.
var ErrNoSolution = errors.New("geodesy: no solution")

// Config tunes the Newton refinement.
type Config struct {
	// Tolerance is the residual, in metres, below which both geodesic
	// distances are considered matched.
	Tolerance float64
	// MaxIterations caps the number of Newton updates per candidate.
	MaxIterations int
}

// DefaultConfig returns the tolerances used in production.
func DefaultConfig() Config {
	return Config{Tolerance: 1e-8, MaxIterations: 30}
}

// Validate checks that the refinement can terminate sensibly.
func (c Config) Validate() error {
	if !(c.Tolerance > 0) {
		return fmt.Errorf("tolerance must be positive, got %v", c.Tolerance)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", c.MaxIterations)
	}
	return nil
}

// Refinement is one candidate intersection after Newton refinement.
type Refinement struct {
	Point      geo.GeoPoint
	Converged  bool
	Iterations int
	// Residuals are target minus achieved geodesic length, in metres.
	ResidualA float64
	ResidualB float64
}

// Solution holds both candidate intersections of the distance circles.
// X0 derives from the spherical point on the pole side of AB.
type Solution struct {
	X0, X1 Refinement
	// Initial are the spherical approximations the refinement started from.
	Initial [2]geo.GeoPoint
}

// Points returns the refined candidates in order.
func (s Solution) Points() [2]geo.GeoPoint {
	return [2]geo.GeoPoint{s.X0.Point, s.X1.Point}
}

// Solver intersects two geodesic distance circles on an ellipsoid. It holds
// no mutable state and may be shared between goroutines.
type Solver struct {
	cfg Config
	ell *Ellipsoid
}

// NewSolver returns a WGS84 solver. A zero Config selects DefaultConfig.
func NewSolver(cfg Config) (*Solver, error) {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Solver{cfg: cfg, ell: WGS84}, nil
}

// Config returns the solver's tuning.
func (s *Solver) Config() Config { return s.cfg }

// Solve finds the points X with geodesic |AX| = distA and |BX| = distB,
// distances in metres. ErrNoSolution is returned when the distances and the
// baseline AB violate the triangle inequality.
func (s *Solver) Solve(a geo.GeoPoint, distA float64, b geo.GeoPoint, distB float64) (Solution, error) {
	if !(distA > 0) || !(distB > 0) || math.IsInf(distA, 0) || math.IsInf(distB, 0) {
		return Solution{}, fmt.Errorf("%w: distances must be positive and finite", ErrNoSolution)
	}

	ab, _, _ := s.ell.Inverse(a.Lat(), a.Lon(), b.Lat(), b.Lon())
	if ab == 0 {
		return Solution{}, fmt.Errorf("%w: coincident reference points", ErrNoSolution)
	}
	if _, _, ok := triangleExcess([3]float64{ab, distA, distB}); !ok {
		return Solution{}, ErrNoSolution
	}

	// Spherical approximation in degrees of arc. The metre-to-degree scale
	// and the spherical baseline don't agree exactly with the geodesic
	// lengths, so a triangle that is valid in metres can fail here; nudge
	// the sides until it closes.
	axDeg := distA / metresPerDegree
	bxDeg := distB / metresPerDegree
	abRad, _ := gcDistanceAzi(a, b)
	abDeg := abRad * 180 / math.Pi

	if longest, e, ok := triangleExcess([3]float64{abDeg, axDeg, bxDeg}); !ok {
		switch longest {
		case 1:
			axDeg -= e
			bxDeg += e
		case 2:
			bxDeg -= e
			axDeg += e
		default:
			axDeg += e
			bxDeg += e
		}
	}

	x0, x1, err := gcTriangulate(a, b, axDeg, bxDeg)
	if err != nil {
		return Solution{}, err
	}

	return Solution{
		X0:      s.refine(a, distA, b, distB, x0),
		X1:      s.refine(a, distA, b, distB, x1),
		Initial: [2]geo.GeoPoint{x0, x1},
	}, nil
}

// refine runs Newton's method on the pair of geodesic length equations,
// starting from x. The Jacobian uses the azimuths at x of the geodesics from
// a and b, scaled by the local radii of curvature.
func (s *Solver) refine(a geo.GeoPoint, distA float64, b geo.GeoPoint, distB float64, x geo.GeoPoint) Refinement {
	lat, lon := x.Lat(), x.Lon()
	var r Refinement

	residuals := func() (df, dg, aziA, aziB float64) {
		fa, _, azA := s.ell.Inverse(a.Lat(), a.Lon(), lat, lon)
		fb, _, azB := s.ell.Inverse(b.Lat(), b.Lon(), lat, lon)
		return distA - fa, distB - fb, azA * math.Pi / 180, azB * math.Pi / 180
	}

	for r.Iterations = 0; r.Iterations < s.cfg.MaxIterations; r.Iterations++ {
		df, dg, aziA, aziB := residuals()
		r.ResidualA, r.ResidualB = df, dg
		if math.Abs(df) < s.cfg.Tolerance && math.Abs(dg) < s.cfg.Tolerance {
			r.Converged = true
			r.Point = geo.FromDegrees(lat, lon)
			return r
		}

		rho, rr := s.ell.Radii(lat)
		sinA, cosA := math.Sincos(aziA)
		sinB, cosB := math.Sincos(aziB)
		jac := mat.NewDense(2, 2, []float64{
			rho * cosA, rr * sinA,
			rho * cosB, rr * sinB,
		})

		// Nearly parallel azimuths: the circles are tangent at x and the
		// update direction is meaningless.
		if math.Abs(mat.Det(jac)) < singularTolerance*rho*rr {
			r.Point = geo.FromDegrees(lat, lon)
			return r
		}

		var step mat.VecDense
		if err := step.SolveVec(jac, mat.NewVecDense(2, []float64{df, dg})); err != nil {
			// Ill-conditioned systems still produce a step; singular ones
			// leave nothing to follow.
			var cond mat.Condition
			if !errors.As(err, &cond) || math.IsInf(float64(cond), 0) {
				r.Point = geo.FromDegrees(lat, lon)
				return r
			}
		}
		dlat, dlon := step.AtVec(0), step.AtVec(1)
		if math.IsNaN(dlat) || math.IsNaN(dlon) || math.IsInf(dlat, 0) || math.IsInf(dlon, 0) {
			r.Point = geo.FromDegrees(lat, lon)
			return r
		}

		lat, lon = wrapPole(lat+dlat, lon+dlon)
	}

	r.ResidualA, r.ResidualB, _, _ = residuals()
	r.Converged = math.Abs(r.ResidualA) < s.cfg.Tolerance && math.Abs(r.ResidualB) < s.cfg.Tolerance
	r.Point = geo.FromDegrees(lat, lon)
	return r
}

// wrapPole reflects a latitude that has run past a pole back into
// [-90, 90], moving the longitude to the far meridian.
func wrapPole(lat, lon float64) (float64, float64) {
	switch {
	case lat > 90:
		lat = 180 - lat
		lon += 180
	case lat < -90:
		lat = -180 - lat
		lon += 180
	}
	return lat, geo.NormalizeLon(lon, 180)
}
