package serialmux

import (
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the console speed of the sniffer firmware.
const DefaultBaudRate = 115200

// Port is what a StationMux reads lines from and writes commands to.
type Port interface {
	io.ReadWriteCloser
}

type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// PortMode is a validated line configuration, independent of the serial
// library.
type PortMode struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
}

// DefaultPortMode is 115200 8N1, what the sniffer firmware boots with.
func DefaultPortMode() *PortMode {
	return &PortMode{BaudRate: DefaultBaudRate, DataBits: 8}
}

// PortOptions mirrors the serial block of the locator config. Zero values
// take the firmware defaults.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

var parityAliases = map[string]string{
	"": "N", "N": "N", "NONE": "N",
	"E": "E", "EVEN": "E",
	"O": "O", "ODD": "O",
}

// Normalize fills defaults and rejects values the firmware cannot use.
// Parity comes back as one of N, E or O.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.StopBits != 1 && o.StopBits != 2 {
		return o, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}
	p, ok := parityAliases[strings.ToUpper(strings.TrimSpace(o.Parity))]
	if !ok {
		return o, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	o.Parity = p
	return o, nil
}

// Equal compares two option sets after normalisation. Invalid options are
// never equal.
func (o PortOptions) Equal(other PortOptions) bool {
	a, errA := o.Normalize()
	b, errB := other.Normalize()
	return errA == nil && errB == nil && a == b
}

// PortMode validates the options into a PortMode.
func (o PortOptions) PortMode() (*PortMode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &PortMode{BaudRate: n.BaudRate, DataBits: n.DataBits}
	switch n.Parity {
	case "E":
		mode.Parity = EvenParity
	case "O":
		mode.Parity = OddParity
	}
	if n.StopBits == 2 {
		mode.StopBits = TwoStopBits
	}
	return mode, nil
}

// SerialMode validates the options into the go.bug.st/serial form.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	mode, err := o.PortMode()
	if err != nil {
		return nil, err
	}
	return mode.serialMode(), nil
}

// serial.StopBits(1) means 1.5 stop bits, so the mapping is explicit.
func (m *PortMode) serialMode() *serial.Mode {
	if m == nil {
		m = DefaultPortMode()
	}
	out := &serial.Mode{BaudRate: m.BaudRate, DataBits: m.DataBits, StopBits: serial.OneStopBit}
	switch m.Parity {
	case OddParity:
		out.Parity = serial.OddParity
	case EvenParity:
		out.Parity = serial.EvenParity
	default:
		out.Parity = serial.NoParity
	}
	if m.StopBits == TwoStopBits {
		out.StopBits = serial.TwoStopBits
	}
	return out
}

// PortFactory opens a Port. Tests substitute FakePortFactory.
type PortFactory interface {
	Open(path string, mode *PortMode) (Port, error)
}

// DevicePortFactory opens hardware ports through go.bug.st/serial.
type DevicePortFactory struct{}

func (DevicePortFactory) Open(path string, mode *PortMode) (Port, error) {
	return serial.Open(path, mode.serialMode())
}

// OpenStation validates opts, opens path through factory and wraps the port.
func OpenStation(factory PortFactory, path string, opts PortOptions) (*StationMux[Port], error) {
	mode, err := opts.PortMode()
	if err != nil {
		return nil, err
	}
	port, err := factory.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return NewStationMux(port), nil
}

// OpenSerialStation opens the sniffer station attached at path.
func OpenSerialStation(path string, opts PortOptions) (*StationMux[Port], error) {
	return OpenStation(DevicePortFactory{}, path, opts)
}
