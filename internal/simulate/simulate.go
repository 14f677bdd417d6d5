// Package simulate generates synthetic sightings for exercising the locator
// without hardware. Beacons random-walk inside a geofence; fixed sniffers
// report every beacon within detection range with the RSSI the path-loss
// model predicts for that distance.
package simulate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/beacon.locator/internal/geo"
	"github.com/banshee-data/beacon.locator/internal/locate"
	"github.com/banshee-data/beacon.locator/internal/rssi"
)

const (
	// DefaultDetectionDistance is how far, in metres, a sniffer hears a beacon.
	DefaultDetectionDistance = 15.0

	// Beacon speeds are in degrees per step.
	DefaultMinSpeed = 0.000001
	DefaultMaxSpeed = 0.000009

	maxPointAttempts = 10000
	maxMoveAttempts  = 64
)

// DefaultFence is a small quad on the RIT campus, as lon/lat points.
func DefaultFence() orb.Polygon {
	return orb.Polygon{orb.Ring{
		{-77.679164, 43.087631},
		{-77.674476, 43.087689},
		{-77.674325, 43.084588},
		{-77.679396, 43.083906},
		{-77.679164, 43.087631},
	}}
}

// Config describes a simulation run. Zero numeric fields take defaults.
type Config struct {
	Fence    orb.Polygon
	Sniffers int
	Beacons  int
	// SnifferPositions places sniffers explicitly instead of at random.
	SnifferPositions []orb.Point

	DetectionDistance float64
	MinSpeed          float64
	MaxSpeed          float64
	// RSSINoise is the standard deviation, in dBm, of noise added to
	// every reading.
	RSSINoise float64

	Model rssi.PathLossModel
	Seed  uint64
}

// Sniffer is a fixed station.
type Sniffer struct {
	ID       string
	Position orb.Point
}

// Beacon is a moving tag.
type Beacon struct {
	ID       string
	Position orb.Point
	speed    float64
	heading  float64
}

// Simulator holds the evolving world. It is not safe for concurrent use.
type Simulator struct {
	cfg      Config
	bound    orb.Bound
	rng      *rand.Rand
	sniffers []Sniffer
	beacons  []*Beacon
}

// New validates cfg and places sniffers and beacons. Runs with the same
// Config, Seed included, are identical.
func New(cfg Config) (*Simulator, error) {
	if len(cfg.Fence) == 0 {
		cfg.Fence = DefaultFence()
	}
	if len(cfg.Fence[0]) < 4 {
		return nil, errors.New("fence must be a closed ring of at least three points")
	}
	if cfg.DetectionDistance == 0 {
		cfg.DetectionDistance = DefaultDetectionDistance
	}
	if cfg.MinSpeed == 0 {
		cfg.MinSpeed = DefaultMinSpeed
	}
	if cfg.MaxSpeed == 0 {
		cfg.MaxSpeed = DefaultMaxSpeed
	}
	if cfg.Model == (rssi.PathLossModel{}) {
		cfg.Model = rssi.DefaultModel
	}
	switch {
	case cfg.DetectionDistance < 0:
		return nil, fmt.Errorf("detection distance must be positive, got %v", cfg.DetectionDistance)
	case cfg.MinSpeed < 0 || cfg.MaxSpeed < cfg.MinSpeed:
		return nil, fmt.Errorf("invalid speed range [%v, %v]", cfg.MinSpeed, cfg.MaxSpeed)
	case cfg.RSSINoise < 0:
		return nil, fmt.Errorf("rssi noise must not be negative, got %v", cfg.RSSINoise)
	case cfg.Beacons < 0 || cfg.Sniffers < 0:
		return nil, errors.New("sniffer and beacon counts must not be negative")
	}
	if err := cfg.Model.Validate(); err != nil {
		return nil, err
	}

	s := &Simulator{
		cfg:   cfg,
		bound: cfg.Fence.Bound(),
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}

	if len(cfg.SnifferPositions) > 0 {
		for i, p := range cfg.SnifferPositions {
			s.sniffers = append(s.sniffers, Sniffer{ID: snifferID(i), Position: p})
		}
	} else {
		for i := 0; i < cfg.Sniffers; i++ {
			p, err := s.RandomPoint()
			if err != nil {
				return nil, err
			}
			s.sniffers = append(s.sniffers, Sniffer{ID: snifferID(i), Position: p})
		}
	}

	seen := make(map[string]bool, cfg.Beacons)
	for len(s.beacons) < cfg.Beacons {
		id := fmt.Sprintf("%08x", s.rng.Uint32())
		if seen[id] {
			continue
		}
		seen[id] = true
		p, err := s.RandomPoint()
		if err != nil {
			return nil, err
		}
		s.beacons = append(s.beacons, &Beacon{
			ID:       id,
			Position: p,
			speed:    cfg.MinSpeed + s.rng.Float64()*(cfg.MaxSpeed-cfg.MinSpeed),
			heading:  s.rng.Float64() * 2 * math.Pi,
		})
	}
	return s, nil
}

func snifferID(i int) string { return fmt.Sprintf("esp-%d", i+1) }

// Contains reports whether p lies strictly inside the fence.
func (s *Simulator) Contains(p orb.Point) bool {
	return planar.PolygonContains(s.cfg.Fence, p)
}

// RandomPoint samples the fence's bounding box until a point falls inside.
func (s *Simulator) RandomPoint() (orb.Point, error) {
	for i := 0; i < maxPointAttempts; i++ {
		p := orb.Point{
			s.bound.Min.X() + s.rng.Float64()*(s.bound.Max.X()-s.bound.Min.X()),
			s.bound.Min.Y() + s.rng.Float64()*(s.bound.Max.Y()-s.bound.Min.Y()),
		}
		if s.Contains(p) {
			return p, nil
		}
	}
	return orb.Point{}, errors.New("could not sample a point inside the fence")
}

// Sniffers returns the stations in creation order.
func (s *Simulator) Sniffers() []Sniffer {
	out := append([]Sniffer(nil), s.sniffers...)
	return out
}

// Registry returns the sniffer positions in the locator's registry form.
func (s *Simulator) Registry() locate.Registry {
	reg := make(locate.Registry, len(s.sniffers))
	for _, sn := range s.sniffers {
		reg[sn.ID] = geo.FromDegrees(sn.Position.Lat(), sn.Position.Lon())
	}
	return reg
}

// Truth returns the current beacon positions keyed by beacon id.
func (s *Simulator) Truth() map[string]geo.GeoPoint {
	out := make(map[string]geo.GeoPoint, len(s.beacons))
	for _, b := range s.beacons {
		out[b.ID] = geo.FromDegrees(b.Position.Lat(), b.Position.Lon())
	}
	return out
}

// Step moves every beacon once and returns the sightings at time now,
// ordered by sniffer then beacon id.
func (s *Simulator) Step(now float64) []locate.Observation {
	for _, b := range s.beacons {
		s.move(b)
	}
	return s.Sweep(now)
}

// Sweep reports what every sniffer hears at time now without moving
// anything.
func (s *Simulator) Sweep(now float64) []locate.Observation {
	var out []locate.Observation
	for _, sn := range s.sniffers {
		for _, b := range s.beacons {
			d := orbgeo.DistanceHaversine(sn.Position, b.Position)
			if d > s.cfg.DetectionDistance {
				continue
			}
			// A beacon on top of the sniffer would read +Inf.
			d = math.Max(d, 0.01)
			reading := s.cfg.Model.RSSI(d)
			if s.cfg.RSSINoise > 0 {
				reading += s.rng.NormFloat64() * s.cfg.RSSINoise
			}
			out = append(out, locate.Observation{
				SnifferID: sn.ID,
				BeaconID:  b.ID,
				Timestamp: now,
				RSSI:      reading,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SnifferID != out[j].SnifferID {
			return out[i].SnifferID < out[j].SnifferID
		}
		return out[i].BeaconID < out[j].BeaconID
	})
	return out
}

// Run performs steps sweeps spaced interval seconds apart starting at start.
func (s *Simulator) Run(start, interval float64, steps int) []locate.Observation {
	var out []locate.Observation
	for i := 0; i < steps; i++ {
		out = append(out, s.Step(start+float64(i)*interval)...)
	}
	return out
}

// move turns and nudges the beacon, retrying with a new heading when the
// step would leave the fence. A beacon boxed into a corner stays put.
func (s *Simulator) move(b *Beacon) {
	for i := 0; i < maxMoveAttempts; i++ {
		b.heading = math.Mod(b.heading+(s.rng.Float64()-0.5)*0.5*math.Pi+2*math.Pi, 2*math.Pi)
		b.speed += (s.rng.Float64() - 0.5) * 2 * s.cfg.MinSpeed
		b.speed = math.Min(s.cfg.MaxSpeed, math.Max(s.cfg.MinSpeed, b.speed))

		next := orb.Point{
			b.Position.X() + b.speed*math.Cos(b.heading),
			b.Position.Y() + b.speed*math.Sin(b.heading),
		}
		if s.Contains(next) {
			b.Position = next
			return
		}
	}
}

// WriteJSON writes observations as the JSON array POST /frames accepts.
func WriteJSON(w io.Writer, obs []locate.Observation) error {
	if obs == nil {
		obs = []locate.Observation{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(obs)
}
