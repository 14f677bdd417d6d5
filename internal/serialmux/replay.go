package serialmux

import (
	"io"
	"sync"
	"time"
)

// ReplayPort reads from a pipe fed by a replay goroutine and discards
// commands.
type ReplayPort struct {
	*io.PipeReader
	stop     chan struct{}
	stopOnce sync.Once
}

func (p *ReplayPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *ReplayPort) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	return p.PipeReader.Close()
}

// NewReplayStation returns a station that emits lines in a loop, one every
// interval, until closed. It backs --replay when no hardware is attached.
func NewReplayStation(lines []string, interval time.Duration) *StationMux[*ReplayPort] {
	r, w := io.Pipe()
	port := &ReplayPort{PipeReader: r, stop: make(chan struct{})}

	go func() {
		defer w.Close()
		if len(lines) == 0 {
			<-port.stop
			return
		}
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for i := 0; ; i = (i + 1) % len(lines) {
			select {
			case <-port.stop:
				return
			case <-tick.C:
			}
			if _, err := io.WriteString(w, lines[i]+"\n"); err != nil {
				return
			}
		}
	}()

	return NewStationMux(port)
}
