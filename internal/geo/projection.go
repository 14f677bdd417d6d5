package geo

import (
	"github.com/tidwall/geodesic"
)

// maxScaleLat is the latitude beyond which the 1° offsets used for the scale
// factors would cross a pole.
const maxScaleLat = 89.0

// Projection maps geographic points onto a local plane anchored at Origin.
// The scale factors are computed once, at construction.
type Projection struct {
	origin GeoPoint

	// metres covered by one degree at the origin
	metresPerDegLat float64
	metresPerDegLon float64
}

// NewProjection computes the per-axis scale factors for origin.
func NewProjection(origin GeoPoint) *Projection {
	latProbe := origin.Lat() + 1
	if origin.Lat() >= maxScaleLat {
		latProbe = origin.Lat() - 1
	}

	// Measure the longitude scale at a latitude clamped away from the poles
	// so the factor stays finite and non-zero.
	lonLat := origin.Lat()
	if lonLat > maxScaleLat {
		lonLat = maxScaleLat
	} else if lonLat < -maxScaleLat {
		lonLat = -maxScaleLat
	}

	return &Projection{
		origin:          origin,
		metresPerDegLat: GeodesicDistance(origin, FromDegrees(latProbe, origin.Lon())),
		metresPerDegLon: GeodesicDistance(FromDegrees(lonLat, origin.Lon()), FromDegrees(lonLat, origin.Lon()+1)),
	}
}

// Origin returns the projection anchor.
func (p *Projection) Origin() GeoPoint { return p.origin }

// Scale returns metres per degree of latitude and longitude at the origin.
func (p *Projection) Scale() (lat, lon float64) {
	return p.metresPerDegLat, p.metresPerDegLon
}

// ToPlanar projects a geographic point onto the local plane.
func (p *Projection) ToPlanar(pt GeoPoint) PlanarPoint {
	return PlanarPoint{
		X: NormalizeLon(pt.Lon()-p.origin.Lon(), 180) * p.metresPerDegLon,
		Y: (pt.Lat() - p.origin.Lat()) * p.metresPerDegLat,
	}
}

// ToGeographic is the inverse of ToPlanar.
func (p *Projection) ToGeographic(pp PlanarPoint) GeoPoint {
	return FromDegrees(
		p.origin.Lat()+pp.Y/p.metresPerDegLat,
		p.origin.Lon()+pp.X/p.metresPerDegLon,
	)
}

// GeodesicDistance returns the WGS84 geodesic length between a and b in metres.
func GeodesicDistance(a, b GeoPoint) float64 {
	var s12 float64
	geodesic.WGS84.Inverse(a.Lat(), a.Lon(), b.Lat(), b.Lon(), &s12, nil, nil)
	return s12
}
