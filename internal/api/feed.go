package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/beacon.locator/internal/locate"
)

// feedBuffer is how many pass notices a slow client may fall behind by
// before it is disconnected.
const feedBuffer = 16

// RunFeed pushes a notice over WebSocket each time a locator pass is
// recorded, so dashboards know when to re-read /beacons/locations. It is a
// locate.Recorder.
type RunFeed struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewRunFeed() *RunFeed {
	return &RunFeed{clients: make(map[*feedClient]struct{})}
}

// RecordTickRun broadcasts r to every connected client.
func (f *RunFeed) RecordTickRun(_ context.Context, r locate.TickReport) error {
	msg, err := json.Marshal(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- msg:
		default:
			f.dropLocked(c)
		}
	}
	return nil
}

// Clients reports how many connections are attached.
func (f *RunFeed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *RunFeed) dropLocked(c *feedClient) {
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

func (f *RunFeed) drop(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropLocked(c)
}

func (f *RunFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade: %v", err)
		return
	}
	c := &feedClient{conn: conn, send: make(chan []byte, feedBuffer)}
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()

	go func() {
		defer conn.Close()
		for msg := range c.send {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				f.drop(c)
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}()

	// Clients never send anything meaningful; reading surfaces disconnects.
	go func() {
		defer f.drop(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
