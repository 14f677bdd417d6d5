package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/banshee-data/beacon.locator/internal/db"
	"github.com/banshee-data/beacon.locator/internal/geo"
	"github.com/banshee-data/beacon.locator/internal/locate"
	"github.com/banshee-data/beacon.locator/internal/monitoring"
	"github.com/banshee-data/beacon.locator/internal/serialmux"
	tu "github.com/banshee-data/beacon.locator/internal/testutil"
)

const testToken = "s3cret"

var approx = cmpopts.EquateApprox(0, 1e-9)

type testServer struct {
	db      *db.DB
	metrics *monitoring.Metrics
	port    *serialmux.FakePort
	handler http.Handler
}

func newTestServer(t *testing.T, hideUnregistered bool) *testServer {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	metrics, err := monitoring.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	port := serialmux.NewFakePort()
	s := NewServer(serialmux.NewStationMux(port), database, Options{
		Origin:           geo.FromDegrees(43.0856, -77.6768),
		HideUnregistered: hideUnregistered,
		AdminToken:       testToken,
		Metrics:          metrics,
	})
	return &testServer{db: database, metrics: metrics, port: port, handler: LoggingMiddleware(s.ServeMux())}
}

func (ts *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := tu.NewTestRequest(method, path, token, strings.NewReader(body))
	if strings.HasPrefix(body, "[") || strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	}
	return tu.Serve(ts.handler, req)
}

func TestShowZero(t *testing.T) {
	ts := newTestServer(t, true)
	res := ts.do(http.MethodGet, "/config/zero", "", "")
	tu.AssertStatusCode(t, res.Code, http.StatusOK)

	var got LatLon
	tu.DecodeJSON(t, res, &got)
	if diff := cmp.Diff(LatLon{Lat: 43.0856, Lon: -77.6768}, got, approx); diff != "" {
		t.Errorf("zero mismatch (-want +got):\n%s", diff)
	}

	res = ts.do(http.MethodPost, "/config/zero", "", "")
	tu.AssertStatusCode(t, res.Code, http.StatusMethodNotAllowed)
}

func TestSnifferLifecycle(t *testing.T) {
	ts := newTestServer(t, true)

	res := ts.do(http.MethodPost, "/esp?id=esp-1&lat=43.0856&lon=-77.6768", "", "")
	tu.AssertStatusCode(t, res.Code, http.StatusUnauthorized)

	res = ts.do(http.MethodPost, "/esp?id=esp-1&lat=43.0856&lon=-77.6768", "wrong", "")
	tu.AssertStatusCode(t, res.Code, http.StatusUnauthorized)

	res = ts.do(http.MethodPost, "/esp?id=esp-1&lat=43.0856&lon=-77.6768", testToken, "")
	tu.AssertStatusCode(t, res.Code, http.StatusCreated)
	var created db.Sniffer
	tu.DecodeJSON(t, res, &created)
	if created.ID != "esp-1" || created.Latitude != 43.0856 || created.Longitude != -77.6768 {
		t.Errorf("created = %+v", created)
	}

	for _, bad := range []string{
		"/esp?lat=1&lon=1",
		"/esp?id=x&lat=north&lon=1",
		"/esp?id=x&lat=1",
		"/esp?id=x&lat=95&lon=1",
	} {
		res = ts.do(http.MethodPost, bad, testToken, "")
		tu.AssertStatusCode(t, res.Code, http.StatusBadRequest)
	}

	res = ts.do(http.MethodGet, "/sniffers", "", "")
	tu.AssertStatusCode(t, res.Code, http.StatusOK)
	var list []db.Sniffer
	tu.DecodeJSON(t, res, &list)
	if len(list) != 1 || list[0].ID != "esp-1" {
		t.Fatalf("sniffers = %+v", list)
	}

	res = ts.do(http.MethodPost, "/remove/esp?id=esp-1", testToken, "")
	tu.AssertStatusCode(t, res.Code, http.StatusOK)
	res = ts.do(http.MethodPost, "/remove/esp?id=esp-1", testToken, "")
	tu.AssertStatusCode(t, res.Code, http.StatusNotFound)
	res = ts.do(http.MethodPost, "/remove/esp", testToken, "")
	tu.AssertStatusCode(t, res.Code, http.StatusBadRequest)

	res = ts.do(http.MethodGet, "/sniffers", "", "")
	if strings.TrimSpace(res.Body.String()) != "[]" {
		t.Errorf("sniffers after removal = %q, want []", res.Body.String())
	}
}

func TestPostFrames(t *testing.T) {
	ts := newTestServer(t, true)

	body := `[
		{"sniffer_id":"esp-1","beacon_id":"b1","timestamp":100,"rssi":-60},
		{"sniffer_id":"esp-2","beacon_id":"b1","timestamp":100.5,"rssi":-65}
	]`
	res := ts.do(http.MethodPost, "/frames", testToken, body)
	tu.AssertStatusCode(t, res.Code, http.StatusAccepted)
	var ack map[string]int
	tu.DecodeJSON(t, res, &ack)
	if ack["accepted"] != 2 {
		t.Errorf("accepted = %d, want 2", ack["accepted"])
	}
	if got := testutil.ToFloat64(ts.metrics.ObservationsIngested); got != 2 {
		t.Errorf("ingested counter = %v, want 2", got)
	}

	obs, err := ts.db.Observations(context.Background(), 0, 1000)
	tu.AssertNoError(t, err)
	want := []locate.Observation{
		{SnifferID: "esp-1", BeaconID: "b1", Timestamp: 100, RSSI: -60},
		{SnifferID: "esp-2", BeaconID: "b1", Timestamp: 100.5, RSSI: -65},
	}
	if diff := cmp.Diff(want, obs); diff != "" {
		t.Errorf("stored observations mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{
		`{"sniffer_id":"esp-1"}`,
		`[{"sniffer_id":"","beacon_id":"b1","timestamp":1,"rssi":-50}]`,
		`[{"sniffer_id":"e","beacon_id":"b1","timestamp":1,"rssi":-50}] trailing`,
		`not json`,
	} {
		res = ts.do(http.MethodPost, "/frames", testToken, bad)
		tu.AssertStatusCode(t, res.Code, http.StatusBadRequest)
	}

	res = ts.do(http.MethodPost, "/frames", "", body)
	tu.AssertStatusCode(t, res.Code, http.StatusUnauthorized)
	res = ts.do(http.MethodGet, "/frames", testToken, "")
	tu.AssertStatusCode(t, res.Code, http.StatusMethodNotAllowed)
}

func TestLocation_PlanarIsEastingNorthing(t *testing.T) {
	origin := geo.FromDegrees(43.0856, -77.6768)
	proj := geo.NewProjection(origin)
	// Due east of the origin.
	east := proj.ToPlanar(geo.FromDegrees(43.0856, -77.6758))

	b, err := json.Marshal(Location{Planar: &east})
	tu.AssertNoError(t, err)
	var raw struct {
		Planar map[string]float64 `json:"planar"`
	}
	tu.AssertNoError(t, json.Unmarshal(b, &raw))
	if raw.Planar["x"] <= 0 {
		t.Errorf("x = %v, want positive easting", raw.Planar["x"])
	}
	if got := raw.Planar["y"]; got > 1e-6 || got < -1e-6 {
		t.Errorf("y = %v, want zero northing", got)
	}
}

func TestLocations(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, true)

	resolved := locate.ResolvedPosition{
		BeaconID:   "b1",
		Planar:     &geo.PlanarPoint{X: 3, Y: 4},
		Geographic: ptr(geo.FromDegrees(43.0857, -77.6767)),
		RunID:      "run-1",
		Timestamp:  100,
	}
	tu.AssertNoError(t, ts.db.UpsertPosition(ctx, resolved))
	tu.AssertNoError(t, ts.db.UpsertPosition(ctx, locate.ResolvedPosition{BeaconID: "b2", RunID: "run-1", Timestamp: 100}))

	// Neither beacon has a record yet, so both are hidden.
	var got map[string]Location
	res := ts.do(http.MethodGet, "/beacons/locations", "", "")
	tu.AssertStatusCode(t, res.Code, http.StatusOK)
	tu.DecodeJSON(t, res, &got)
	if len(got) != 0 {
		t.Fatalf("locations = %+v, want none", got)
	}

	res = ts.do(http.MethodPost, "/unhide?id=b1", testToken, "")
	tu.AssertStatusCode(t, res.Code, http.StatusOK)
	res = ts.do(http.MethodPost, "/unhide?id=b2", testToken, "")
	tu.AssertStatusCode(t, res.Code, http.StatusOK)

	got = nil
	res = ts.do(http.MethodGet, "/beacons/locations", "", "")
	tu.DecodeJSON(t, res, &got)
	want := map[string]Location{
		"b1": {Planar: &geo.PlanarPoint{X: 3, Y: 4}, Geographic: &LatLon{Lat: 43.0857, Lon: -77.6767}, RunID: "run-1", ComputedAt: 100},
		"b2": {RunID: "run-1", ComputedAt: 100},
	}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("locations mismatch (-want +got):\n%s", diff)
	}

	res = ts.do(http.MethodPost, "/hide?id=b2", testToken, "")
	tu.AssertStatusCode(t, res.Code, http.StatusOK)
	got = nil
	res = ts.do(http.MethodGet, "/beacons/locations", "", "")
	tu.DecodeJSON(t, res, &got)
	if _, ok := got["b2"]; ok || len(got) != 1 {
		t.Errorf("hidden beacon still listed: %+v", got)
	}

	got = nil
	res = ts.do(http.MethodGet, "/beacons/locations?all=true", "", "")
	tu.DecodeJSON(t, res, &got)
	if len(got) != 2 {
		t.Errorf("all=true returned %d locations, want 2", len(got))
	}

	res = ts.do(http.MethodGet, "/beacons/locations?all=maybe", "", "")
	tu.AssertStatusCode(t, res.Code, http.StatusBadRequest)
	res = ts.do(http.MethodPost, "/hide", testToken, "")
	tu.AssertStatusCode(t, res.Code, http.StatusBadRequest)
}

func TestLocations_ShowUnregistered(t *testing.T) {
	ts := newTestServer(t, false)
	tu.AssertNoError(t, ts.db.UpsertPosition(context.Background(), locate.ResolvedPosition{
		BeaconID: "b1", Planar: &geo.PlanarPoint{X: 1, Y: 2}, RunID: "r", Timestamp: 5,
	}))

	var got map[string]Location
	res := ts.do(http.MethodGet, "/beacons/locations", "", "")
	tu.DecodeJSON(t, res, &got)
	if len(got) != 1 || got["b1"].Planar == nil {
		t.Errorf("locations = %+v", got)
	}
}

func TestHeartbeats(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, true)
	tu.AssertNoError(t, ts.db.RecordHeartbeat(ctx, "esp-1", 1700000000))
	tu.AssertNoError(t, ts.db.RecordHeartbeat(ctx, "esp-1", 1700000060))
	tu.AssertNoError(t, ts.db.RecordHeartbeat(ctx, "esp-2", 1700000030.5))

	var got map[string]string
	res := ts.do(http.MethodGet, "/beacons/heartbeat", "", "")
	tu.AssertStatusCode(t, res.Code, http.StatusOK)
	tu.DecodeJSON(t, res, &got)
	want := map[string]string{
		"esp-1": "2023-11-14T22:14:20Z",
		"esp-2": "2023-11-14T22:13:50Z",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("heartbeats mismatch (-want +got):\n%s", diff)
	}

	got = nil
	res = ts.do(http.MethodGet, "/beacons/heartbeat?id=esp-2", "", "")
	tu.DecodeJSON(t, res, &got)
	if len(got) != 1 || got["esp-2"] == "" {
		t.Errorf("filtered heartbeats = %+v", got)
	}
}

func TestRuns(t *testing.T) {
	ts := newTestServer(t, true)
	tu.AssertNoError(t, ts.db.RecordTickRun(context.Background(), locate.TickReport{RunID: "run-1", Target: 100, Resolved: 2}))

	var runs []locate.TickReport
	res := ts.do(http.MethodGet, "/runs?limit=5", "", "")
	tu.AssertStatusCode(t, res.Code, http.StatusOK)
	tu.DecodeJSON(t, res, &runs)
	if len(runs) != 1 || runs[0].RunID != "run-1" || runs[0].Resolved != 2 {
		t.Errorf("runs = %+v", runs)
	}

	res = ts.do(http.MethodGet, "/runs?limit=0", "", "")
	tu.AssertStatusCode(t, res.Code, http.StatusBadRequest)
}

func TestSendCommand(t *testing.T) {
	ts := newTestServer(t, true)
	res := ts.do(http.MethodPost, "/command?command=HB", testToken, "")
	tu.AssertStatusCode(t, res.Code, http.StatusOK)
	if got := string(ts.port.Written()); got != "HB\n" {
		t.Errorf("written = %q", got)
	}
	res = ts.do(http.MethodPost, "/command", testToken, "")
	tu.AssertStatusCode(t, res.Code, http.StatusBadRequest)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, true)
	ts.metrics.AddIngested(3)
	res := ts.do(http.MethodGet, "/metrics", "", "")
	tu.AssertStatusCode(t, res.Code, http.StatusOK)
	if !strings.Contains(res.Body.String(), "locator_observations_ingested_total 3") {
		t.Errorf("metrics output missing ingested counter:\n%s", res.Body.String())
	}
}

func TestOpenAdminWithoutToken(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "open.db"))
	tu.AssertNoError(t, err)
	t.Cleanup(func() { database.Close() })

	h := NewServer(nil, database, Options{}).ServeMux()
	rec := tu.Serve(h, tu.NewTestRequest(http.MethodPost, "/hide?id=b1", "", nil))
	tu.AssertStatusCode(t, rec.Code, http.StatusOK)
}

func ptr[T any](v T) *T { return &v }
