// Package geo holds the coordinate model used by the locator: geographic
// points on the WGS84 ellipsoid and a local planar projection, in metres,
// anchored at a configured origin.
package geo

import (
	"fmt"
	"math"
)

// NormalizeLon reduces x into the half-open range [-half, half).
// Use half=180 for degrees and half=math.Pi for radians. Values already in
// range are returned unchanged.
func NormalizeLon(x, half float64) float64 {
	if x >= -half && x < half {
		return x
	}
	period := 2 * half
	m := math.Mod(x+half, period)
	if m < 0 {
		m += period
	}
	return m - half
}

// GeoPoint is an immutable latitude/longitude pair. Both the degree and
// radian forms are kept so hot loops in the solver avoid reconverting.
type GeoPoint struct {
	lat, lon       float64 // degrees
	latRad, lonRad float64
}

// FromDegrees builds a GeoPoint from degrees. Longitude is normalised into
// [-180, 180).
func FromDegrees(lat, lon float64) GeoPoint {
	lon = NormalizeLon(lon, 180)
	return GeoPoint{
		lat:    lat,
		lon:    lon,
		latRad: lat * math.Pi / 180,
		lonRad: lon * math.Pi / 180,
	}
}

// FromRadians builds a GeoPoint from radians. Longitude is normalised into
// [-pi, pi).
func FromRadians(lat, lon float64) GeoPoint {
	lon = NormalizeLon(lon, math.Pi)
	return GeoPoint{
		lat:    lat * 180 / math.Pi,
		lon:    lon * 180 / math.Pi,
		latRad: lat,
		lonRad: lon,
	}
}

// Lat returns the latitude in degrees.
func (p GeoPoint) Lat() float64 { return p.lat }

// Lon returns the longitude in degrees.
func (p GeoPoint) Lon() float64 { return p.lon }

// LatRad returns the latitude in radians.
func (p GeoPoint) LatRad() float64 { return p.latRad }

// LonRad returns the longitude in radians.
func (p GeoPoint) LonRad() float64 { return p.lonRad }

// Colat returns the colatitude (90° - lat) in radians.
func (p GeoPoint) Colat() float64 { return 0.5*math.Pi - p.latRad }

func (p GeoPoint) String() string {
	return fmt.Sprintf("Lat: %.9f, Lon: %.9f", p.lat, p.lon)
}

// PlanarPoint is a position in metres relative to a projection origin.
// X grows east, Y grows north.
type PlanarPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between two planar points.
func (p PlanarPoint) Distance(q PlanarPoint) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}
