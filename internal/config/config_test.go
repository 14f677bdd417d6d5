package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyConfig()

	if got := cfg.GetEnvironmentalExponent(); got != 3.0 {
		t.Errorf("GetEnvironmentalExponent() = %v, want 3.0", got)
	}
	if got := cfg.GetReferenceRSSI(); got != -62.5 {
		t.Errorf("GetReferenceRSSI() = %v, want -62.5", got)
	}
	if o := cfg.GetOrigin(); o.Lat() != 43.0856 || o.Lon() != -77.6768 {
		t.Errorf("GetOrigin() = %v, want 43.0856,-77.6768", o)
	}
	if got := cfg.GetWindowBounds(); got != 2500*time.Millisecond {
		t.Errorf("GetWindowBounds() = %v, want 2.5s", got)
	}
	if got := cfg.GetLag(); got != 2500*time.Millisecond {
		t.Errorf("GetLag() = %v, want 2.5s", got)
	}
	if got := cfg.GetTickInterval(); got != 5*time.Second {
		t.Errorf("GetTickInterval() = %v, want 5s", got)
	}
	if got := cfg.GetClusterThreshold(); got != 2.5 {
		t.Errorf("GetClusterThreshold() = %v, want 2.5", got)
	}
	if got := cfg.GetNewtonTolerance(); got != 1e-8 {
		t.Errorf("GetNewtonTolerance() = %v, want 1e-8", got)
	}
	if got := cfg.GetNewtonMaxIterations(); got != 30 {
		t.Errorf("GetNewtonMaxIterations() = %v, want 30", got)
	}
	if got := cfg.GetResolveConcurrency(); got != 4 {
		t.Errorf("GetResolveConcurrency() = %v, want 4", got)
	}
	if got := cfg.GetObservationRetention(); got != 10*time.Minute {
		t.Errorf("GetObservationRetention() = %v, want 10m", got)
	}
	if cfg.GetPersistUnresolved() {
		t.Error("GetPersistUnresolved() = true, want false")
	}
	if !cfg.GetHideUnregisteredBeacons() {
		t.Error("GetHideUnregisteredBeacons() = false, want true")
	}
	if cfg.GetAdminToken() != "" {
		t.Errorf("GetAdminToken() = %q, want empty", cfg.GetAdminToken())
	}
}

func TestDefaultsFileMatchesGetters(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	builtin := DefaultConfig()

	if fromFile.GetEnvironmentalExponent() != builtin.GetEnvironmentalExponent() {
		t.Errorf("environmental_exponent: file %v, builtin %v", fromFile.GetEnvironmentalExponent(), builtin.GetEnvironmentalExponent())
	}
	if fromFile.GetReferenceRSSI() != builtin.GetReferenceRSSI() {
		t.Errorf("reference_rssi: file %v, builtin %v", fromFile.GetReferenceRSSI(), builtin.GetReferenceRSSI())
	}
	if fromFile.GetOrigin() != builtin.GetOrigin() {
		t.Errorf("origin: file %v, builtin %v", fromFile.GetOrigin(), builtin.GetOrigin())
	}
	if fromFile.GetWindowBounds() != builtin.GetWindowBounds() {
		t.Errorf("window_bounds: file %v, builtin %v", fromFile.GetWindowBounds(), builtin.GetWindowBounds())
	}
	if fromFile.GetTickInterval() != builtin.GetTickInterval() {
		t.Errorf("tick_interval: file %v, builtin %v", fromFile.GetTickInterval(), builtin.GetTickInterval())
	}
	if fromFile.GetObservationRetention() != builtin.GetObservationRetention() {
		t.Errorf("observation_retention: file %v, builtin %v", fromFile.GetObservationRetention(), builtin.GetObservationRetention())
	}
	if fromFile.GetNewtonMaxIterations() != builtin.GetNewtonMaxIterations() {
		t.Errorf("newton_max_iterations: file %v, builtin %v", fromFile.GetNewtonMaxIterations(), builtin.GetNewtonMaxIterations())
	}
}

func TestLoadConfig_PartialJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.json")
	if err := os.WriteFile(path, []byte(`{"environmental_exponent": 2.0, "tick_interval": "1s"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.GetEnvironmentalExponent() != 2.0 {
		t.Errorf("exponent = %v, want 2.0", cfg.GetEnvironmentalExponent())
	}
	if cfg.GetTickInterval() != time.Second {
		t.Errorf("tick interval = %v, want 1s", cfg.GetTickInterval())
	}
	// unspecified values keep their defaults
	if cfg.GetReferenceRSSI() != -62.5 {
		t.Errorf("reference rssi = %v, want default -62.5", cfg.GetReferenceRSSI())
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "config", "locator.example.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.GetEnvironmentalExponent() != 2.7 {
		t.Errorf("exponent = %v, want 2.7", cfg.GetEnvironmentalExponent())
	}
	if cfg.Serial == nil || cfg.Serial.Port != "/dev/ttyUSB0" || cfg.Serial.BaudRate != 115200 {
		t.Errorf("serial = %+v, want /dev/ttyUSB0 at 115200", cfg.Serial)
	}
	if cfg.GetDBPath() != "/var/lib/beacon-locator/locator.db" {
		t.Errorf("db path = %q", cfg.GetDBPath())
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"wrong extension", "cfg.toml", `x = 1`},
		{"bad json", "bad.json", `{`},
		{"bad yaml", "bad.yaml", "origin: [1, 2"},
		{"negative exponent", "neg.json", `{"environmental_exponent": -1}`},
		{"bad duration", "dur.json", `{"tick_interval": "soon"}`},
		{"zero window", "win.json", `{"window_bounds": "0s"}`},
		{"bad latitude", "lat.json", `{"origin": {"lat": 91, "lon": 0}}`},
		{"bad parity", "parity.yaml", "serial:\n  port: /dev/null\n  parity: X\n"},
		{"zero iterations", "iter.json", `{"newton_max_iterations": 0}`},
		{"retention shorter than window", "ret.json", `{"window_bounds": "5s", "lag": "3s", "observation_retention": "7s"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate_ObservationRetention(t *testing.T) {
	tests := []struct {
		name      string
		retention string
		wantErr   bool
	}{
		{"disabled", "0s", false},
		{"exactly window plus lag", "8s", false},
		{"longer", "1m", false},
		{"shorter", "7s", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				WindowBounds:         ptrString("5s"),
				Lag:                  ptrString("3s"),
				ObservationRetention: ptrString(tt.retention),
			}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfig_TooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.json")
	data := make([]byte, maxFileSize+1)
	for i := range data {
		data[i] = ' '
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for oversized file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LOCATOR_ENV_FACTOR":         "2.2",
		"LOCATOR_REFERENCE_RSSI":     "-55",
		"LOCATOR_ORIGIN":             "51.5, -0.12",
		"LOCATOR_TIMESTAMP_OVERRIDE": "1700000000.5",
		"LOCATOR_ADMIN_TOKEN":        "s3cret",
	}
	cfg := EmptyConfig()
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.GetEnvironmentalExponent() != 2.2 {
		t.Errorf("exponent = %v, want 2.2", cfg.GetEnvironmentalExponent())
	}
	if cfg.GetReferenceRSSI() != -55 {
		t.Errorf("reference = %v, want -55", cfg.GetReferenceRSSI())
	}
	if o := cfg.GetOrigin(); o.Lat() != 51.5 || o.Lon() != -0.12 {
		t.Errorf("origin = %v, want 51.5,-0.12", o)
	}
	if cfg.TimestampOverride == nil || *cfg.TimestampOverride != 1700000000.5 {
		t.Errorf("timestamp override = %v", cfg.TimestampOverride)
	}
	if cfg.GetAdminToken() != "s3cret" {
		t.Errorf("admin token = %q", cfg.GetAdminToken())
	}

	bad := EmptyConfig()
	if err := bad.ApplyEnv(func(k string) string {
		if k == "LOCATOR_ORIGIN" {
			return "43.0"
		}
		return ""
	}); err == nil {
		t.Error("expected error for malformed origin")
	}
}

func TestModelBuilders(t *testing.T) {
	cfg := EmptyConfig()
	m := cfg.PathLossModel()
	if m.Exponent != 3.0 || m.ReferenceRSSI != -62.5 {
		t.Errorf("PathLossModel() = %+v", m)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("default model invalid: %v", err)
	}
	s := cfg.SolverConfig()
	if s.Tolerance != 1e-8 || s.MaxIterations != 30 {
		t.Errorf("SolverConfig() = %+v", s)
	}
}
