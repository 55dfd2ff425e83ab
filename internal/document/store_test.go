package document

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/rishvan-input/internal/inputtype"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/request"
)

func newPending(id string, createdAt int64) *request.InputRequest {
	return &request.InputRequest{
		ID:        id,
		Question:  request.Question{Type: inputtype.Text, Message: "Name?"},
		Status:    lifecycle.StatusPending,
		CreatedAt: createdAt,
		Timeout:   request.Seconds(30),
	}
}

func answered(by, response string) Transition {
	at := int64(1_700_000_000_000)
	return Transition{To: lifecycle.StatusAnswered, Response: &response, AnsweredAt: &at, AnsweredBy: by}
}

// testStore runs the behaviour every backend must share.
func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("InsertAndGet", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, newPending("a", 1000)))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StatusPending, got.Status)
		assert.Equal(t, "Name?", got.Message)
		assert.Nil(t, got.Response)
		require.NotNil(t, got.Timeout)
		assert.Equal(t, 30, *got.Timeout)
	})

	t.Run("InsertDuplicate", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, newPending("a", 1000)))
		assert.ErrorIs(t, s.Insert(ctx, newPending("a", 2000)), ErrExists)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("TransitionAppliesOnce", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, newPending("a", 1000)))

		got, err := s.CompareAndTransition(ctx, "a", lifecycle.StatusPending, answered("alice", "Bob"))
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StatusAnswered, got.Status)
		require.NotNil(t, got.Response)
		assert.Equal(t, "Bob", *got.Response)
		assert.Equal(t, "alice", got.AnsweredBy)
		require.NotNil(t, got.AnsweredAt)

		current, err := s.CompareAndTransition(ctx, "a", lifecycle.StatusPending, answered("bob", "Carol"))
		assert.ErrorIs(t, err, ErrConflict)
		require.NotNil(t, current)
		assert.Equal(t, "alice", current.AnsweredBy)
		assert.Equal(t, "Bob", *current.Response)
	})

	t.Run("TransitionMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CompareAndTransition(ctx, "nope", lifecycle.StatusPending, Transition{To: lifecycle.StatusCancelled})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ConcurrentTransitionsHaveOneWinner", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, newPending("a", 1000)))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				to := Transition{To: lifecycle.StatusCancelled}
				if i%2 == 0 {
					to = answered("alice", "Bob")
				}
				_, err := s.CompareAndTransition(ctx, "a", lifecycle.StatusPending, to)
				if err == nil {
					wins.Add(1)
				} else if !errors.Is(err, ErrConflict) {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("ListFiltersAndOrders", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, newPending("old", 1000)))
		require.NoError(t, s.Insert(ctx, newPending("mid", 2000)))
		require.NoError(t, s.Insert(ctx, newPending("new", 3000)))
		_, err := s.CompareAndTransition(ctx, "mid", lifecycle.StatusPending, Transition{To: lifecycle.StatusDeclined})
		require.NoError(t, err)

		all, err := s.List(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"new", "mid", "old"}, ids(all))

		pending, err := s.List(ctx, lifecycle.StatusPending)
		require.NoError(t, err)
		assert.Equal(t, []string{"new", "old"}, ids(pending))

		declined, err := s.List(ctx, lifecycle.StatusDeclined)
		require.NoError(t, err)
		assert.Equal(t, []string{"mid"}, ids(declined))
	})

	t.Run("ObserveSeesChanges", func(t *testing.T) {
		s := newStore(t)
		var mu sync.Mutex
		var seen []Change
		cancel := s.Observe(func(c Change) {
			mu.Lock()
			seen = append(seen, c)
			mu.Unlock()
		})

		require.NoError(t, s.Insert(ctx, newPending("a", 1000)))
		_, err := s.CompareAndTransition(ctx, "a", lifecycle.StatusPending, answered("alice", "Bob"))
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) == 2
		}, 2*time.Second, 10*time.Millisecond)

		mu.Lock()
		assert.Equal(t, ChangeInserted, seen[0].Kind)
		assert.Equal(t, ChangeTransitioned, seen[1].Kind)
		assert.Equal(t, lifecycle.StatusAnswered, seen[1].Request.Status)
		mu.Unlock()

		cancel()
		require.NoError(t, s.Insert(ctx, newPending("b", 2000)))
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		assert.Len(t, seen, 2)
		mu.Unlock()
	})
}

func ids(rs []*request.InputRequest) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := newPending("a", 1000)
	require.NoError(t, s.Insert(ctx, r))

	r.Message = "changed after insert"
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Name?", got.Message)

	got.Status = lifecycle.StatusCancelled
	again, _ := s.Get(ctx, "a")
	assert.Equal(t, lifecycle.StatusPending, again.Status)
}

func TestMemoryStoreCountsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Insert(ctx, newPending("a", 1000)))
	_, _ = s.CompareAndTransition(ctx, "a", lifecycle.StatusPending, Transition{To: lifecycle.StatusCancelled})
	_, _ = s.CompareAndTransition(ctx, "a", lifecycle.StatusPending, Transition{To: lifecycle.StatusCancelled})
	assert.Equal(t, 2, s.Writes())
}

func TestHubCancelIsIdempotent(t *testing.T) {
	var h Hub
	calls := 0
	cancel := h.Observe(func(Change) { calls++ })
	assert.Equal(t, 1, h.Len())

	h.Notify(Change{Kind: ChangeInserted, Request: newPending("a", 1)})
	cancel()
	cancel()
	h.Notify(Change{Kind: ChangeInserted, Request: newPending("b", 2)})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, h.Len())
}
