// Package rssi converts received signal strength to distance with the
// log-distance path loss model.
package rssi

import (
	"fmt"
	"math"
)

// PathLossModel is a log-distance path loss model calibrated at 1 metre.
type PathLossModel struct {
	// ReferenceRSSI is the signal strength measured 1 m from the beacon (dBm).
	ReferenceRSSI float64
	// Exponent is the environmental path loss exponent N (2 in free space,
	// higher indoors or through foliage).
	Exponent float64
}

// DefaultModel is the outdoor calibration the locator ships with.
var DefaultModel = PathLossModel{ReferenceRSSI: -62.5, Exponent: 3}

// Validate checks the model can produce finite, positive distances.
func (m PathLossModel) Validate() error {
	if math.IsNaN(m.Exponent) || math.IsInf(m.Exponent, 0) || m.Exponent <= 0 {
		return fmt.Errorf("path loss exponent must be positive and finite, got %v", m.Exponent)
	}
	if math.IsNaN(m.ReferenceRSSI) || math.IsInf(m.ReferenceRSSI, 0) {
		return fmt.Errorf("reference rssi must be finite, got %v", m.ReferenceRSSI)
	}
	return nil
}

// Distance returns the estimated distance in metres for a reading.
func (m PathLossModel) Distance(rssi float64) float64 {
	return math.Pow(10, (m.ReferenceRSSI-rssi)/(10*m.Exponent))
}

// RSSI is the inverse of Distance. Only the simulator needs it.
func (m PathLossModel) RSSI(distance float64) float64 {
	return m.ReferenceRSSI - 10*m.Exponent*math.Log10(distance)
}
