package document

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/request"
)

// MemoryStore is an in-process Store. Tests use it as the fake document.
type MemoryStore struct {
	Hub

	mu      sync.Mutex
	records map[string]*request.InputRequest
	writes  int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*request.InputRequest)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*request.InputRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Insert(_ context.Context, r *request.InputRequest) error {
	s.mu.Lock()
	if _, ok := s.records[r.ID]; ok {
		s.mu.Unlock()
		return ErrExists
	}
	s.records[r.ID] = r.Clone()
	s.writes++
	s.mu.Unlock()

	s.Notify(Change{Kind: ChangeInserted, Request: r.Clone(), At: time.Now()})
	return nil
}

func (s *MemoryStore) CompareAndTransition(_ context.Context, id string, from lifecycle.Status, t Transition) (*request.InputRequest, error) {
	s.mu.Lock()
	r, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if r.Status != from {
		current := r.Clone()
		s.mu.Unlock()
		return current, ErrConflict
	}
	t.Apply(r)
	s.writes++
	updated := r.Clone()
	s.mu.Unlock()

	s.Notify(Change{Kind: ChangeTransitioned, Request: updated, At: time.Now()})
	return updated, nil
}

func (s *MemoryStore) List(_ context.Context, status lifecycle.Status) ([]*request.InputRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*request.InputRequest, 0, len(s.records))
	for _, r := range s.records {
		if status == "" || r.Status == status {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Writes counts successful mutations, inserts included.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
