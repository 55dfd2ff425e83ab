package manager

import (
	"encoding/json"
	"sync"

	"github.com/tejzpr/rishvan-input/internal/document"
)

// Broker fans document changes out to streaming clients (SSE and
// websocket). Slow clients miss messages rather than block writers.
type Broker struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[chan []byte]struct{})}
}

func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends c to every client as JSON.
func (b *Broker) Publish(c document.Change) {
	msg, err := json.Marshal(c)
	if err != nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Attach publishes every change of store until the returned func is called.
func (b *Broker) Attach(store document.Store) (detach func()) {
	return store.Observe(b.Publish)
}

// Len returns the number of connected clients.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
