// Package api serves beacon positions, sniffer management and ingest over
// HTTP.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/banshee-data/beacon.locator/internal/db"
	"github.com/banshee-data/beacon.locator/internal/geo"
	"github.com/banshee-data/beacon.locator/internal/httputil"
	"github.com/banshee-data/beacon.locator/internal/monitoring"
	"github.com/banshee-data/beacon.locator/internal/serialmux"
)

// maxFramesBody caps a POST /frames request body.
const maxFramesBody = 4 << 20

// Options carries the settings the handlers need from the locator config.
type Options struct {
	// Origin is the projection zero reported by /config/zero.
	Origin geo.GeoPoint
	// HideUnregistered hides positions of beacons without a visible
	// beacon record.
	HideUnregistered bool
	// AdminToken guards the mutating routes. Empty disables the check.
	AdminToken string
	// Metrics backs /metrics and counts ingested frames. May be nil.
	Metrics *monitoring.Metrics
	// Feed serves /ws/runs. NewServer creates one when nil.
	Feed *RunFeed
}

type Server struct {
	m    serialmux.Station
	db   *db.DB
	opts Options
}

func NewServer(m serialmux.Station, database *db.DB, opts Options) *Server {
	if m == nil {
		m = serialmux.NewDisabledStation()
	}
	if opts.Feed == nil {
		opts.Feed = NewRunFeed()
	}
	return &Server{
		m:    m,
		db:   database,
		opts: opts,
	}
}

// requireAdmin rejects requests without the configured bearer token.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AdminToken == "" {
			next(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AdminToken)) != 1 {
			httputil.Unauthorized(w, "locator", "missing or invalid admin token")
			return
		}
		next(w, r)
	}
}

// Feed is the pass notice broadcaster behind /ws/runs. Register it as a
// worker recorder.
func (s *Server) Feed() *RunFeed { return s.opts.Feed }

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/beacons/locations", s.listLocations)
	mux.HandleFunc("/beacons/heartbeat", s.listHeartbeats)
	mux.HandleFunc("/config/zero", s.showZero)
	mux.HandleFunc("/sniffers", s.listSniffers)
	mux.HandleFunc("/runs", s.listRuns)
	mux.Handle("/ws/runs", s.opts.Feed)
	mux.HandleFunc("/esp", s.requireAdmin(s.addSniffer))
	mux.HandleFunc("/remove/esp", s.requireAdmin(s.removeSniffer))
	mux.HandleFunc("/hide", s.requireAdmin(s.hideBeacon(true)))
	mux.HandleFunc("/unhide", s.requireAdmin(s.hideBeacon(false)))
	mux.HandleFunc("/frames", s.requireAdmin(s.postFrames))
	mux.HandleFunc("/command", s.requireAdmin(s.sendCommandHandler))
	mux.Handle("/metrics", s.opts.Metrics.Handler())
	return mux
}
