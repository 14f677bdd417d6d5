package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/beacon.locator/internal/db"
	"github.com/banshee-data/beacon.locator/internal/geo"
	"github.com/banshee-data/beacon.locator/internal/httputil"
	"github.com/banshee-data/beacon.locator/internal/locate"
)

// Location is one entry of GET /beacons/locations. Planar and Geographic
// are null for a beacon that was findable but not resolved in its last pass.
// Planar is {"x": easting, "y": northing} in metres from /config/zero, so
// clients that read the pair as (north, east) must swap it.
type Location struct {
	Planar     *geo.PlanarPoint `json:"planar"`
	Geographic *LatLon          `json:"geographic"`
	RunID      string           `json:"run_id"`
	ComputedAt float64          `json:"computed_at"`
}

// LatLon is a geographic coordinate in degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (s *Server) listLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	includeUnlisted := !s.opts.HideUnregistered
	if v := r.URL.Query().Get("all"); v != "" {
		all, err := strconv.ParseBool(v)
		if err != nil {
			httputil.BadRequest(w, "invalid 'all' parameter")
			return
		}
		includeUnlisted = all
	}

	positions, err := s.db.Positions(r.Context(), includeUnlisted)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve positions: %v", err))
		return
	}

	out := make(map[string]Location, len(positions))
	for _, p := range positions {
		loc := Location{Planar: p.Planar, RunID: p.RunID, ComputedAt: p.ComputedAt}
		if p.Latitude != nil && p.Longitude != nil {
			loc.Geographic = &LatLon{Lat: *p.Latitude, Lon: *p.Longitude}
		}
		out[p.BeaconID] = loc
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) listHeartbeats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	beats, err := s.db.LatestHeartbeats(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve heartbeats: %v", err))
		return
	}

	out := make(map[string]string, len(beats))
	for _, h := range beats {
		out[h.SnifferID] = unixToTime(h.Timestamp).UTC().Format(time.RFC3339)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) showZero(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, LatLon{Lat: s.opts.Origin.Lat(), Lon: s.opts.Origin.Lon()})
}

func (s *Server) listSniffers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sniffers, err := s.db.ListSniffers(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve sniffers: %v", err))
		return
	}
	if sniffers == nil {
		sniffers = []db.Sniffer{}
	}
	httputil.WriteJSONOK(w, sniffers)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}

	runs, err := s.db.RecentTickRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve runs: %v", err))
		return
	}
	if runs == nil {
		runs = []locate.TickReport{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) addSniffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	id := strings.TrimSpace(r.FormValue("id"))
	if id == "" {
		httputil.BadRequest(w, "missing 'id' parameter")
		return
	}
	lat, err := strconv.ParseFloat(r.FormValue("lat"), 64)
	if err != nil {
		httputil.BadRequest(w, "invalid 'lat' parameter")
		return
	}
	lon, err := strconv.ParseFloat(r.FormValue("lon"), 64)
	if err != nil {
		httputil.BadRequest(w, "invalid 'lon' parameter")
		return
	}

	if err := s.db.AddSniffer(r.Context(), id, lat, lon); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sniffer, err := s.db.GetSniffer(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read back sniffer: %v", err))
		return
	}
	log.Printf("registered sniffer %s at %.6f,%.6f", id, lat, lon)
	httputil.WriteJSON(w, http.StatusCreated, sniffer)
}

func (s *Server) removeSniffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		httputil.MethodNotAllowed(w)
		return
	}

	id := strings.TrimSpace(r.FormValue("id"))
	if id == "" {
		httputil.BadRequest(w, "missing 'id' parameter")
		return
	}
	removed, err := s.db.RemoveSniffer(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to remove sniffer: %v", err))
		return
	}
	if !removed {
		httputil.NotFound(w, fmt.Sprintf("sniffer %q not found", id))
		return
	}
	log.Printf("removed sniffer %s", id)
	httputil.WriteJSONOK(w, map[string]string{"removed": id})
}

func (s *Server) hideBeacon(hidden bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		id := strings.TrimSpace(r.FormValue("id"))
		if id == "" {
			httputil.BadRequest(w, "missing 'id' parameter")
			return
		}
		if err := s.db.SetBeaconHidden(r.Context(), id, hidden); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to update beacon: %v", err))
			return
		}
		httputil.WriteJSONOK(w, map[string]interface{}{"beacon_id": id, "hidden": hidden})
	}
}

// postFrames ingests a JSON array of observations. The batch is rejected
// as a whole if any entry is malformed.
func (s *Server) postFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var obs []locate.Observation
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFramesBody))
	if err := dec.Decode(&obs); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		httputil.BadRequest(w, fmt.Sprintf("invalid frames: %v", err))
		return
	}
	if _, err := dec.Token(); err != io.EOF {
		httputil.BadRequest(w, "invalid frames: trailing data after array")
		return
	}
	for i, o := range obs {
		if err := validateObservation(o); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("frame %d: %v", i, err))
			return
		}
	}

	if err := s.db.RecordObservations(r.Context(), obs); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to record frames: %v", err))
		return
	}
	s.opts.Metrics.AddIngested(len(obs))
	httputil.WriteJSON(w, http.StatusAccepted, map[string]int{"accepted": len(obs)})
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		httputil.BadRequest(w, "missing 'command' parameter")
		return
	}
	if err := s.m.SendCommand(command); err != nil {
		httputil.InternalServerError(w, "failed to send command")
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"sent": command})
}

func validateObservation(o locate.Observation) error {
	if o.SnifferID == "" || o.BeaconID == "" {
		return errors.New("sniffer_id and beacon_id are required")
	}
	if math.IsNaN(o.Timestamp) || math.IsInf(o.Timestamp, 0) {
		return errors.New("timestamp must be finite")
	}
	if math.IsNaN(o.RSSI) || math.IsInf(o.RSSI, 0) {
		return errors.New("rssi must be finite")
	}
	return nil
}

func unixToTime(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}
