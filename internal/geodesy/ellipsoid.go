package geodesy

import (
	"math"

	"github.com/tidwall/geodesic"
)

// WGS84 ellipsoid parameters.
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
)

// Ellipsoid is the read-only reference surface shared by every solve.
type Ellipsoid struct {
	A  float64 // equatorial radius, metres
	F  float64 // flattening
	E2 float64 // eccentricity squared

	g *geodesic.Ellipsoid
}

// WGS84 is the ellipsoid used by GPS and by the sniffer registry.
var WGS84 = NewEllipsoid(wgs84A, wgs84F)

// NewEllipsoid builds an ellipsoid from its radius and flattening.
func NewEllipsoid(a, f float64) *Ellipsoid {
	return &Ellipsoid{
		A:  a,
		F:  f,
		E2: f * (2 - f),
		g:  geodesic.NewEllipsoid(a, f),
	}
}

// Inverse solves the inverse geodesic problem between two points given in
// degrees. It returns the length in metres and the forward azimuths (degrees)
// at the first and second point.
func (e *Ellipsoid) Inverse(lat1, lon1, lat2, lon2 float64) (s12, azi1, azi2 float64) {
	e.g.Inverse(lat1, lon1, lat2, lon2, &s12, &azi1, &azi2)
	return s12, azi1, azi2
}

// Radii returns the meridional radius of curvature and the radius of the
// circle of latitude at lat (degrees), each scaled by pi/180 so they are the
// partial derivatives of geodesic length with respect to latitude and
// longitude in degrees.
func (e *Ellipsoid) Radii(lat float64) (rho, r float64) {
	phi := lat * math.Pi / 180
	sin, cos := math.Sincos(phi)
	w2 := 1 - e.E2*sin*sin
	w := math.Sqrt(w2)

	rho = e.A * (1 - e.E2) / (w * w2)
	// a / w is the normal radius of curvature
	r = e.A * cos / w
	return rho * math.Pi / 180, r * math.Pi / 180
}
