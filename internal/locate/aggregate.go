package locate

import (
	"math"
	"sort"

	"github.com/banshee-data/beacon.locator/internal/geo"
	"github.com/banshee-data/beacon.locator/internal/rssi"
)

// minSniffers is the number of distinct sniffers needed to locate a beacon.
const minSniffers = 3

// WindowEntry is the retained sighting of a beacon by one sniffer.
type WindowEntry struct {
	Observation
	Position geo.GeoPoint
	Distance float64 // metres
}

// BeaconWindow holds, for one beacon, the latest in-window sighting from each
// sniffer.
type BeaconWindow struct {
	BeaconID string
	Entries  map[string]WindowEntry
}

// Findable reports whether enough sniffers saw the beacon.
func (w *BeaconWindow) Findable() bool {
	return len(w.Entries) >= minSniffers
}

// SnifferIDs returns the ids of the contributing sniffers in ascending order.
func (w *BeaconWindow) SnifferIDs() []string {
	ids := make([]string, 0, len(w.Entries))
	for id := range w.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AggregateStats counts what happened to each input observation.
type AggregateStats struct {
	Total          int
	OutOfWindow    int
	UnknownSniffer int
	Invalid        int
	// Superseded counts window entries replaced by a later sighting from the
	// same sniffer. Stale counts sightings dropped because the sniffer
	// already had one at the same or a later time.
	Superseded int
	Stale      int
	// NotFindable counts beacons seen by fewer than three sniffers.
	NotFindable int
}

// Skipped is the number of in-window observations that could not be used.
func (s AggregateStats) Skipped() int { return s.UnknownSniffer + s.Invalid }

// Aggregate groups the observations strictly inside (target-bounds,
// target+bounds) by beacon, keeping the newest sighting per sniffer. On a
// timestamp tie the first one seen is kept. Only findable windows are
// returned.
func Aggregate(obs []Observation, reg Registry, target, bounds float64, model rssi.PathLossModel) (map[string]*BeaconWindow, AggregateStats) {
	stats := AggregateStats{Total: len(obs)}
	lo, hi := target-bounds, target+bounds

	windows := make(map[string]*BeaconWindow)
	for _, o := range obs {
		if math.IsNaN(o.Timestamp) || math.IsInf(o.Timestamp, 0) || math.IsNaN(o.RSSI) || math.IsInf(o.RSSI, 0) {
			stats.Invalid++
			continue
		}
		if !(o.Timestamp > lo && o.Timestamp < hi) {
			stats.OutOfWindow++
			continue
		}
		pos, ok := reg[o.SnifferID]
		if !ok {
			stats.UnknownSniffer++
			continue
		}

		w := windows[o.BeaconID]
		if w == nil {
			w = &BeaconWindow{BeaconID: o.BeaconID, Entries: make(map[string]WindowEntry)}
			windows[o.BeaconID] = w
		}
		if prev, seen := w.Entries[o.SnifferID]; seen {
			if o.Timestamp <= prev.Timestamp {
				stats.Stale++
				continue
			}
			stats.Superseded++
		}
		w.Entries[o.SnifferID] = WindowEntry{
			Observation: o,
			Position:    pos,
			Distance:    model.Distance(o.RSSI),
		}
	}

	for id, w := range windows {
		if !w.Findable() {
			stats.NotFindable++
			delete(windows, id)
		}
	}
	return windows, stats
}
