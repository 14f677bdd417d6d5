// Package serialmux multiplexes the line output of a sniffer station attached
// over a serial port. Several subscribers can read the same lines while
// commands are written back to the single device.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrWriteFailed is returned when the port accepts only part of a command.
var ErrWriteFailed = errors.New("short write to sniffer station")

// subscriberBuffer is how far a subscriber may lag before lines are dropped
// for it.
const subscriberBuffer = 64

// startupCommands follow the clock sync in Initialize.
var startupCommands = []string{
	"OJ", // one JSON object per line
	"HB", // periodic heartbeats
}

// Station is a source of sniffer station lines that also accepts commands.
type Station interface {
	// Subscribe returns an id and a channel receiving every line read after
	// the call.
	Subscribe() (string, chan string)
	// Unsubscribe closes the channel registered under id.
	Unsubscribe(string)
	SendCommand(string) error
	// Monitor reads lines until ctx ends, the port reaches EOF or Close is
	// called.
	Monitor(context.Context) error
	Close() error
	// Initialize synchronises the station clock and selects JSON output.
	Initialize() error
	// AttachAdminRoutes mounts the station console under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// StationMux fans lines from one Port out to any number of subscribers.
type StationMux[T Port] struct {
	port  T
	hub   *hub
	cmdMu sync.Mutex
}

func NewStationMux[T Port](port T) *StationMux[T] {
	return &StationMux[T]{port: port, hub: newHub(subscriberBuffer)}
}

func (s *StationMux[T]) Subscribe() (string, chan string) { return s.hub.subscribe() }

func (s *StationMux[T]) Unsubscribe(id string) { s.hub.unsubscribe(id) }

// Initialize pushes the host UNIX time to the station so frame timestamps
// line up with the locator's clock, then enables JSON frames and heartbeats.
func (s *StationMux[T]) Initialize() error {
	if err := s.SendCommand(fmt.Sprintf("T=%d", time.Now().Unix())); err != nil {
		return fmt.Errorf("sync station clock: %w", err)
	}
	for _, cmd := range startupCommands {
		if err := s.SendCommand(cmd); err != nil {
			return fmt.Errorf("send %q: %w", cmd, err)
		}
	}
	return nil
}

// SendCommand writes command to the station, newline terminated.
func (s *StationMux[T]) SendCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor scans the port on a separate goroutine so that a blocked read
// never delays cancellation.
func (s *StationMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(s.port)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if !s.hub.publish(line) {
				return nil
			}
		}
	}
}

// Close releases every subscriber and closes the port.
func (s *StationMux[T]) Close() error {
	s.hub.close()
	return s.port.Close()
}
