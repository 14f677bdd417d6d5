package geodesy

import (
	"math"

	"github.com/banshee-data/beacon.locator/internal/geo"
)

// Spherical triangle solutions based on the spherical cosine rule
//
//	cos(c) = cos(a)cos(b) + sin(a)sin(b)cos(C)
//
// Side calculations use the atan2 forms, which are less susceptible to
// round-off than acos for short sides.

// reflectedAcos is acos with out-of-range arguments reflected back into
// [-1, 1]. Rounding pushes t just past ±1 in roughly 1% of real solves.
func reflectedAcos(t float64) float64 {
	if t > 1 {
		t = 2 - t
	} else if t < -1 {
		t = -2 - t
	}
	return math.Acos(t)
}

// oppAngle returns C, the angle opposite side c, given sides a, b and c.
func oppAngle(a, b, c float64) float64 {
	t := (math.Cos(c) - math.Cos(a)*math.Cos(b)) / (math.Sin(a) * math.Sin(b))
	return reflectedAcos(t)
}

// oppSideAzi returns side c given sides a, b and the included angle C,
// together with the angle A.
func oppSideAzi(a, b, C float64) (c, A float64) {
	sa, ca := math.Sincos(a)
	sb, cb := math.Sincos(b)
	sC, cC := math.Sincos(C)

	u := sa*cb - ca*sb*cC
	v := sb * sC
	num := math.Hypot(u, v)
	den := ca*cb + sa*sb*cC
	return math.Atan2(num, den), math.Atan2(v, u)
}

// gcDistanceAzi returns the great circle distance from p to q and the
// initial azimuth at p, both in radians.
func gcDistanceAzi(p, q geo.GeoPoint) (dist, azi float64) {
	return oppSideAzi(p.Colat(), q.Colat(), q.LonRad()-p.LonRad())
}

// aziDist walks dist radians from p along a great circle leaving at azi.
func aziDist(p geo.GeoPoint, azi, dist float64) geo.GeoPoint {
	colat, delta := oppSideAzi(p.Colat(), dist, azi)
	return geo.FromRadians(0.5*math.Pi-colat, p.LonRad()+delta)
}

// triangleExcess checks the triangle inequality for three sides. When the
// longest side exceeds the sum of the other two it returns that side's
// index and the excess, with ok=false.
func triangleExcess(sides [3]float64) (longest int, excess float64, ok bool) {
	sum := 0.0
	for i, s := range sides {
		sum += s
		if s > sides[longest] {
			longest = i
		}
	}
	// m > a + b  <=>  2m > m + a + b
	excess = 2*sides[longest] - sum
	return longest, excess, excess <= 0
}

// gcTriangulate finds the two points that are axDeg and bxDeg degrees of
// arc from a and b respectively, on a sphere. x0 lies on the pole side of
// AB, x1 on the other.
func gcTriangulate(a, b geo.GeoPoint, axDeg, bxDeg float64) (x0, x1 geo.GeoPoint, err error) {
	abDist, abAzi := gcDistanceAzi(a, b)

	if _, _, ok := triangleExcess([3]float64{abDist * 180 / math.Pi, axDeg, bxDeg}); !ok {
		return x0, x1, ErrNoSolution
	}

	ax := axDeg * math.Pi / 180
	bx := bxDeg * math.Pi / 180

	// angle BAX
	bax := oppAngle(ax, abDist, bx)

	x0 = aziDist(a, abAzi-bax, ax)
	x1 = aziDist(a, abAzi+bax, ax)
	return x0, x1, nil
}
