package serialmux

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
)

// hub tracks line subscribers. Once closed it hands out closed channels so
// late subscribers never block.
type hub struct {
	mu     sync.Mutex
	subs   map[string]chan string
	buffer int
	closed bool
}

func newHub(buffer int) *hub {
	return &hub{subs: make(map[string]chan string), buffer: buffer}
}

func newSubscriberID() string {
	b := make([]byte, 8)
	_, _ = crand.Read(b)
	return hex.EncodeToString(b)
}

func (h *hub) subscribe() (string, chan string) {
	id := newSubscriberID()
	ch := make(chan string, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	return id, ch
}

func (h *hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// publish delivers line to every subscriber with room for it. It reports
// false once the hub has been closed.
func (h *hub) publish(line string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	for _, ch := range h.subs {
		select {
		case ch <- line:
		default:
		}
	}
	return true
}

// close closes every subscriber channel. It returns false if the hub was
// already closed.
func (h *hub) close() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	return true
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
