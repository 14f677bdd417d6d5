package serialmux

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/beacon.locator/internal/locate"
)

const (
	EventTypeFrame     = "frame"
	EventTypeHeartbeat = "heartbeat"
	EventTypeUnknown   = "unknown"
)

// stationID accepts either a JSON string or a JSON number. Older firmware
// reports its id as an integer.
type stationID string

func (s *stationID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = stationID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*s = stationID(n.String())
	return nil
}

// Frame is one beacon sighting as printed by a sniffer station.
type Frame struct {
	SnifferID stationID `json:"eid"`
	BeaconID  stationID `json:"bid"`
	Time      float64   `json:"time"`
	RSSI      float64   `json:"rssi"`
}

// Observation converts the frame into the locator's observation type.
func (f Frame) Observation() locate.Observation {
	return locate.Observation{
		SnifferID: string(f.SnifferID),
		BeaconID:  string(f.BeaconID),
		Timestamp: f.Time,
		RSSI:      f.RSSI,
	}
}

// Heartbeat is the liveness message a station prints between sweeps.
type Heartbeat struct {
	SnifferID stationID `json:"sniffaddr"`
	Timestamp float64   `json:"timestamp"`
}

// ClassifyPayload inspects a line and returns its event type token. Only
// JSON objects are considered; the keys decide the type.
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "{") {
		return EventTypeUnknown
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &keys); err != nil {
		return EventTypeUnknown
	}
	if hasKeys(keys, "eid", "bid", "time", "rssi") {
		return EventTypeFrame
	}
	if hasKeys(keys, "sniffaddr", "timestamp") {
		return EventTypeHeartbeat
	}
	return EventTypeUnknown
}

func hasKeys(m map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

// ParseFrame decodes a frame line and rejects frames the engine could not use.
func ParseFrame(payload string) (Frame, error) {
	var f Frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return Frame{}, fmt.Errorf("failed to unmarshal frame: %v", err)
	}
	if f.SnifferID == "" || f.BeaconID == "" {
		return Frame{}, fmt.Errorf("frame missing sniffer or beacon id")
	}
	if !finite(f.Time) || !finite(f.RSSI) {
		return Frame{}, fmt.Errorf("frame has non-finite time or rssi")
	}
	return f, nil
}

// ParseHeartbeat decodes a heartbeat line.
func ParseHeartbeat(payload string) (Heartbeat, error) {
	var h Heartbeat
	if err := json.Unmarshal([]byte(payload), &h); err != nil {
		return Heartbeat{}, fmt.Errorf("failed to unmarshal heartbeat: %v", err)
	}
	if h.SnifferID == "" {
		return Heartbeat{}, fmt.Errorf("heartbeat missing sniffaddr")
	}
	if !finite(h.Timestamp) {
		return Heartbeat{}, fmt.Errorf("heartbeat has invalid timestamp %s", strconv.FormatFloat(h.Timestamp, 'g', -1, 64))
	}
	return h, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
