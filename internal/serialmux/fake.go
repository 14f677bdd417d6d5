package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// FakePort is an in-memory Port for tests. Reads drain whatever was passed
// to Feed; with BlockReads set they wait for more data instead of returning
// io.EOF.
type FakePort struct {
	mu     sync.Mutex
	cond   *sync.Cond
	in     bytes.Buffer
	out    bytes.Buffer
	Closed bool

	BlockReads bool
	// ReadError and WriteError fail the next call once.
	ReadError  error
	WriteError error
}

func NewFakePort() *FakePort {
	p := &FakePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ReadError; err != nil {
		p.ReadError = nil
		return 0, err
	}
	for p.BlockReads && !p.Closed && p.in.Len() == 0 {
		p.cond.Wait()
	}
	if p.Closed {
		return 0, errPortClosed
	}
	return p.in.Read(b)
}

func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return 0, errPortClosed
	}
	if err := p.WriteError; err != nil {
		p.WriteError = nil
		return 0, err
	}
	return p.out.Write(b)
}

func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return nil
}

// Feed queues data for subsequent reads.
func (p *FakePort) Feed(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Write(data)
	p.cond.Broadcast()
}

// Written returns everything written to the port so far.
func (p *FakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.out.Bytes())
}

// OpenCall records one FakePortFactory.Open.
type OpenCall struct {
	Path string
	Mode *PortMode
}

// FakePortFactory hands out Port, or fails with Error.
type FakePortFactory struct {
	mu        sync.Mutex
	Port      Port
	Error     error
	OpenCalls []OpenCall
}

func NewFakePortFactory(port Port) *FakePortFactory {
	return &FakePortFactory{Port: port}
}

func (f *FakePortFactory) Open(path string, mode *PortMode) (Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenCalls = append(f.OpenCalls, OpenCall{Path: path, Mode: mode})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}

// LastCall returns the most recent Open, or nil.
func (f *FakePortFactory) LastCall() *OpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}

// Reset forgets recorded calls and the configured error.
func (f *FakePortFactory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenCalls = nil
	f.Error = nil
}
