package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/beacon.locator/internal/geo"
	"github.com/banshee-data/beacon.locator/internal/geodesy"
	"github.com/banshee-data/beacon.locator/internal/rssi"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/locator.defaults.json"

// maxFileSize caps the size of a config file.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the locator configuration. Every field is optional; the Get*
// methods fall back to the production defaults, so partial files are safe.
type Config struct {
	// Distance model
	EnvironmentalExponent *float64 `json:"environmental_exponent,omitempty" yaml:"environmental_exponent,omitempty"`
	ReferenceRSSI         *float64 `json:"reference_rssi,omitempty" yaml:"reference_rssi,omitempty"`

	// Planar projection anchor
	Origin *Origin `json:"origin,omitempty" yaml:"origin,omitempty"`

	// Aggregation and resolution
	WindowBounds        *string  `json:"window_bounds,omitempty" yaml:"window_bounds,omitempty"` // duration string like "2.5s"
	ClusterThreshold    *float64 `json:"cluster_threshold,omitempty" yaml:"cluster_threshold,omitempty"`
	NewtonTolerance     *float64 `json:"newton_tolerance,omitempty" yaml:"newton_tolerance,omitempty"`
	NewtonMaxIterations *int     `json:"newton_max_iterations,omitempty" yaml:"newton_max_iterations,omitempty"`
	ResolveConcurrency  *int     `json:"resolve_concurrency,omitempty" yaml:"resolve_concurrency,omitempty"`

	// Tick loop
	TickInterval         *string  `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"`
	Lag                  *string  `json:"lag,omitempty" yaml:"lag,omitempty"`
	ObservationRetention *string  `json:"observation_retention,omitempty" yaml:"observation_retention,omitempty"`
	PersistUnresolved    *bool    `json:"persist_unresolved,omitempty" yaml:"persist_unresolved,omitempty"`
	TimestampOverride    *float64 `json:"timestamp_override,omitempty" yaml:"timestamp_override,omitempty"`

	// Service
	HideUnregisteredBeacons *bool         `json:"hide_unregistered_beacons,omitempty" yaml:"hide_unregistered_beacons,omitempty"`
	DBPath                  *string       `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	Listen                  *string       `json:"listen,omitempty" yaml:"listen,omitempty"`
	AdminToken              *string       `json:"admin_token,omitempty" yaml:"admin_token,omitempty"`
	Serial                  *SerialConfig `json:"serial,omitempty" yaml:"serial,omitempty"`
}

// Origin is the geographic anchor of the local plane.
type Origin struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// SerialConfig describes the port a sniffer station is attached to. An
// empty Port disables serial ingest.
type SerialConfig struct {
	Port     string `json:"port" yaml:"port"`
	BaudRate int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity   string `json:"parity,omitempty" yaml:"parity,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a Config with all fields set to nil.
func EmptyConfig() *Config {
	return &Config{}
}

// DefaultConfig returns a Config with every field populated from the Get*
// defaults.
func DefaultConfig() *Config {
	c := EmptyConfig()
	origin := c.GetOrigin()
	return &Config{
		EnvironmentalExponent:   ptrFloat64(c.GetEnvironmentalExponent()),
		ReferenceRSSI:           ptrFloat64(c.GetReferenceRSSI()),
		Origin:                  &Origin{Lat: origin.Lat(), Lon: origin.Lon()},
		WindowBounds:            ptrString("2.5s"),
		ClusterThreshold:        ptrFloat64(c.GetClusterThreshold()),
		NewtonTolerance:         ptrFloat64(c.GetNewtonTolerance()),
		NewtonMaxIterations:     ptrInt(c.GetNewtonMaxIterations()),
		ResolveConcurrency:      ptrInt(c.GetResolveConcurrency()),
		TickInterval:            ptrString("5s"),
		Lag:                     ptrString("2.5s"),
		ObservationRetention:    ptrString("10m"),
		PersistUnresolved:       ptrBool(false),
		HideUnregisteredBeacons: ptrBool(true),
		DBPath:                  ptrString(c.GetDBPath()),
		Listen:                  ptrString(c.GetListen()),
	}
}

// LoadConfig loads a Config from a .json, .yaml or .yml file. The file must
// be under 1MB. Fields omitted from the file retain their default values.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/beacon-locator/
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// ApplyEnv overrides fields from LOCATOR_* environment variables, as read
// through getenv. Unset variables leave the field alone.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	floatVar := func(name string, dst **float64) error {
		v := getenv(name)
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = &f
		return nil
	}
	if err := floatVar("LOCATOR_ENV_FACTOR", &c.EnvironmentalExponent); err != nil {
		return err
	}
	if err := floatVar("LOCATOR_REFERENCE_RSSI", &c.ReferenceRSSI); err != nil {
		return err
	}
	if err := floatVar("LOCATOR_TIMESTAMP_OVERRIDE", &c.TimestampOverride); err != nil {
		return err
	}
	if v := getenv("LOCATOR_ORIGIN"); v != "" {
		parts := strings.Split(v, ",")
		if len(parts) != 2 {
			return fmt.Errorf("LOCATOR_ORIGIN must be \"lat,lon\", got %q", v)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return fmt.Errorf("LOCATOR_ORIGIN latitude: %w", err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return fmt.Errorf("LOCATOR_ORIGIN longitude: %w", err)
		}
		c.Origin = &Origin{Lat: lat, Lon: lon}
	}
	if v := getenv("LOCATOR_ADMIN_TOKEN"); v != "" {
		c.AdminToken = &v
	}
	if v := getenv("LOCATOR_DB_PATH"); v != "" {
		c.DBPath = &v
	}
	return c.Validate()
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.EnvironmentalExponent != nil {
		if v := *c.EnvironmentalExponent; !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("environmental_exponent must be positive, got %v", v)
		}
	}
	if c.ReferenceRSSI != nil && (math.IsNaN(*c.ReferenceRSSI) || math.IsInf(*c.ReferenceRSSI, 0)) {
		return fmt.Errorf("reference_rssi must be finite, got %v", *c.ReferenceRSSI)
	}
	if c.Origin != nil {
		if c.Origin.Lat < -90 || c.Origin.Lat > 90 {
			return fmt.Errorf("origin latitude must be between -90 and 90, got %v", c.Origin.Lat)
		}
		if math.IsNaN(c.Origin.Lon) || math.IsInf(c.Origin.Lon, 0) {
			return fmt.Errorf("origin longitude must be finite, got %v", c.Origin.Lon)
		}
	}
	if c.ClusterThreshold != nil && !(*c.ClusterThreshold > 0) {
		return fmt.Errorf("cluster_threshold must be positive, got %v", *c.ClusterThreshold)
	}
	if c.NewtonTolerance != nil && !(*c.NewtonTolerance > 0) {
		return fmt.Errorf("newton_tolerance must be positive, got %v", *c.NewtonTolerance)
	}
	if c.NewtonMaxIterations != nil && *c.NewtonMaxIterations < 1 {
		return fmt.Errorf("newton_max_iterations must be at least 1, got %d", *c.NewtonMaxIterations)
	}
	if c.ResolveConcurrency != nil && *c.ResolveConcurrency < 1 {
		return fmt.Errorf("resolve_concurrency must be at least 1, got %d", *c.ResolveConcurrency)
	}

	durations := []struct {
		name     string
		val      *string
		positive bool
	}{
		{"window_bounds", c.WindowBounds, true},
		{"tick_interval", c.TickInterval, true},
		{"lag", c.Lag, false},
		{"observation_retention", c.ObservationRetention, false},
	}
	for _, d := range durations {
		if d.val == nil || *d.val == "" {
			continue
		}
		v, err := time.ParseDuration(*d.val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.val, err)
		}
		if v < 0 || (d.positive && v == 0) {
			return fmt.Errorf("%s must be positive, got %s", d.name, v)
		}
	}

	// Pruning must not remove observations a later window still reads.
	if r := c.GetObservationRetention(); r > 0 {
		if need := c.GetWindowBounds() + c.GetLag(); r < need {
			return fmt.Errorf("observation_retention %s must be at least window_bounds + lag (%s), or 0 to disable pruning", r, need)
		}
	}

	if c.Serial != nil && c.Serial.Parity != "" {
		switch strings.ToUpper(c.Serial.Parity) {
		case "N", "NONE", "E", "EVEN", "O", "ODD":
		default:
			return fmt.Errorf("serial parity must be N, E or O, got %q", c.Serial.Parity)
		}
	}
	return nil
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetEnvironmentalExponent returns the path loss exponent N or the default.
func (c *Config) GetEnvironmentalExponent() float64 {
	if c.EnvironmentalExponent == nil {
		return rssi.DefaultModel.Exponent
	}
	return *c.EnvironmentalExponent
}

// GetReferenceRSSI returns the expected RSSI at one metre or the default.
func (c *Config) GetReferenceRSSI() float64 {
	if c.ReferenceRSSI == nil {
		return rssi.DefaultModel.ReferenceRSSI
	}
	return *c.ReferenceRSSI
}

// GetOrigin returns the projection origin or the default.
func (c *Config) GetOrigin() geo.GeoPoint {
	if c.Origin == nil {
		return geo.FromDegrees(43.0856, -77.6768)
	}
	return geo.FromDegrees(c.Origin.Lat, c.Origin.Lon)
}

// GetWindowBounds returns the half-width of the aggregation window.
func (c *Config) GetWindowBounds() time.Duration {
	return parseDurationOr(c.WindowBounds, 2500*time.Millisecond)
}

// GetClusterThreshold returns the consensus support radius in metres.
func (c *Config) GetClusterThreshold() float64 {
	if c.ClusterThreshold == nil {
		return 2.5
	}
	return *c.ClusterThreshold
}

// GetNewtonTolerance returns the refinement residual tolerance in metres.
func (c *Config) GetNewtonTolerance() float64 {
	if c.NewtonTolerance == nil {
		return 1e-8
	}
	return *c.NewtonTolerance
}

// GetNewtonMaxIterations returns the refinement iteration cap.
func (c *Config) GetNewtonMaxIterations() int {
	if c.NewtonMaxIterations == nil {
		return 30
	}
	return *c.NewtonMaxIterations
}

// GetResolveConcurrency returns the number of beacons resolved in parallel.
func (c *Config) GetResolveConcurrency() int {
	if c.ResolveConcurrency == nil {
		return 4
	}
	return *c.ResolveConcurrency
}

// GetTickInterval returns how often the worker runs.
func (c *Config) GetTickInterval() time.Duration {
	return parseDurationOr(c.TickInterval, 5*time.Second)
}

// GetLag returns how far behind now each pass is centred.
func (c *Config) GetLag() time.Duration {
	return parseDurationOr(c.Lag, 2500*time.Millisecond)
}

// GetObservationRetention returns how long observations are kept. Zero
// disables pruning.
func (c *Config) GetObservationRetention() time.Duration {
	return parseDurationOr(c.ObservationRetention, 10*time.Minute)
}

// GetPersistUnresolved returns whether unresolved beacons get null records.
func (c *Config) GetPersistUnresolved() bool {
	if c.PersistUnresolved == nil {
		return false
	}
	return *c.PersistUnresolved
}

// GetHideUnregisteredBeacons returns whether locations are limited to
// beacons with a visible beacon record.
func (c *Config) GetHideUnregisteredBeacons() bool {
	if c.HideUnregisteredBeacons == nil {
		return true
	}
	return *c.HideUnregisteredBeacons
}

// GetDBPath returns the sqlite database path.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "locator.db"
	}
	return *c.DBPath
}

// GetListen returns the HTTP listen address.
func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetAdminToken returns the bearer token for mutating routes. Empty means
// mutating routes are refused.
func (c *Config) GetAdminToken() string {
	if c.AdminToken == nil {
		return ""
	}
	return *c.AdminToken
}

// PathLossModel builds the distance model.
func (c *Config) PathLossModel() rssi.PathLossModel {
	return rssi.PathLossModel{
		ReferenceRSSI: c.GetReferenceRSSI(),
		Exponent:      c.GetEnvironmentalExponent(),
	}
}

// SolverConfig builds the geodesic solver tuning.
func (c *Config) SolverConfig() geodesy.Config {
	return geodesy.Config{
		Tolerance:     c.GetNewtonTolerance(),
		MaxIterations: c.GetNewtonMaxIterations(),
	}
}
