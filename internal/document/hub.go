package document

import "sync"

// Hub fans changes out to in-process observers. Backends embed it.
type Hub struct {
	mu        sync.RWMutex
	next      int
	observers map[int]func(Change)
}

// Observe registers fn.
func (h *Hub) Observe(fn func(Change)) func() {
	h.mu.Lock()
	if h.observers == nil {
		h.observers = make(map[int]func(Change))
	}
	id := h.next
	h.next++
	h.observers[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.observers, id)
			h.mu.Unlock()
		})
	}
}

// Notify calls every observer with a private copy of the change.
// Observers run on the caller's goroutine and must not block.
func (h *Hub) Notify(c Change) {
	h.mu.RLock()
	fns := make([]func(Change), 0, len(h.observers))
	for _, fn := range h.observers {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(Change{Kind: c.Kind, Request: c.Request.Clone(), At: c.At})
	}
}

// Len returns the number of registered observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}
