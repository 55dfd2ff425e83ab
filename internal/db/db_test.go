package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tejzpr/rishvan-input/internal/document"
	"github.com/tejzpr/rishvan-input/internal/events"
	"github.com/tejzpr/rishvan-input/internal/inputtype"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/logger"
	"github.com/tejzpr/rishvan-input/internal/request"
)

func answer(by, response string) document.Transition {
	at := int64(1_700_000_000_000)
	return document.Transition{To: lifecycle.StatusAnswered, Response: &response, AnsweredAt: &at, AnsweredBy: by}
}

func TestCreateAndFetchRequest(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	req := pendingRequest("r1", "test-app", "What color?", 1000)
	req.Type = inputtype.Choice
	req.Options = []request.Option{{Value: "red", Label: "Red"}, {Value: "blue", Label: "Blue"}}
	req.Timeout = request.Seconds(45)
	if err := store.Insert(ctx, req); err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	fetched, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("failed to fetch request: %v", err)
	}
	if fetched.AppName != "test-app" {
		t.Errorf("expected app_name 'test-app', got %q", fetched.AppName)
	}
	if fetched.Message != "What color?" {
		t.Errorf("expected message 'What color?', got %q", fetched.Message)
	}
	if fetched.Type != inputtype.Choice || len(fetched.Options) != 2 {
		t.Errorf("question did not round trip: %+v", fetched.Question)
	}
	if fetched.Status != lifecycle.StatusPending {
		t.Errorf("expected status 'pending', got %q", fetched.Status)
	}
	if fetched.Timeout == nil || *fetched.Timeout != 45 {
		t.Errorf("expected timeout 45, got %v", fetched.Timeout)
	}
	if fetched.Response != nil {
		t.Errorf("expected no response, got %q", *fetched.Response)
	}
}

func TestInsertDuplicate(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	if err := store.Insert(ctx, pendingRequest("r1", "app", "q", 1000)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, pendingRequest("r1", "app", "q", 1000)); !errors.Is(err, document.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestConcurrentInsertsHaveOneWinner(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	var wins, exists atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Insert(ctx, pendingRequest("r9", "app", "q", 1000))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, document.ErrExists):
				exists.Add(1)
			default:
				t.Errorf("unexpected insert error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || exists.Load() != 9 {
		t.Fatalf("expected 1 insert and 9 ErrExists, got %d and %d", wins.Load(), exists.Load())
	}
}

func TestGetMissing(t *testing.T) {
	store, _ := setupTestStore(t)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRequestResponse(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	_ = store.Insert(ctx, pendingRequest("r2", "app-2", "Pick a number", 1000))

	updated, err := store.CompareAndTransition(ctx, "r2", lifecycle.StatusPending, answer("alice", "42"))
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Status != lifecycle.StatusAnswered {
		t.Errorf("expected status 'answered', got %q", updated.Status)
	}
	if updated.Response == nil || *updated.Response != "42" {
		t.Errorf("expected response '42', got %v", updated.Response)
	}
	if updated.AnsweredBy != "alice" {
		t.Errorf("expected answered_by 'alice', got %q", updated.AnsweredBy)
	}
}

func TestUpdateAlreadyAnsweredRequest(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	_ = store.Insert(ctx, pendingRequest("r3", "app-3", "Yes or no?", 1000))
	if _, err := store.CompareAndTransition(ctx, "r3", lifecycle.StatusPending, answer("alice", "Yes")); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	current, err := store.CompareAndTransition(ctx, "r3", lifecycle.StatusPending, answer("bob", "No"))
	if !errors.Is(err, document.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if current == nil || current.AnsweredBy != "alice" || *current.Response != "Yes" {
		t.Errorf("expected the first answer to stand, got %+v", current)
	}
}

func TestTransitionMissing(t *testing.T) {
	store, _ := setupTestStore(t)
	_, err := store.CompareAndTransition(context.Background(), "nope", lifecycle.StatusPending, document.Transition{To: lifecycle.StatusCancelled})
	if !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentTransitionsHaveOneWinner(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	_ = store.Insert(ctx, pendingRequest("r4", "app", "q", 1000))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.CompareAndTransition(ctx, "r4", lifecycle.StatusPending, answer("x", "y")); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestListRequestsOrderedByCreatedAt(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	for i, q := range []string{"first", "second", "third"} {
		_ = store.Insert(ctx, pendingRequest(q, "app", q, int64(1000*(i+1))))
	}
	_, _ = store.CompareAndTransition(ctx, "second", lifecycle.StatusPending, document.Transition{To: lifecycle.StatusDeclined})

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(all))
	}
	if all[0].Message != "third" {
		t.Errorf("expected newest first, got %q", all[0].Message)
	}

	pending, _ := store.List(ctx, lifecycle.StatusPending)
	if len(pending) != 2 {
		t.Errorf("expected 2 pending requests, got %d", len(pending))
	}
}

func TestObserveReceivesChanges(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	var kinds []document.ChangeKind
	cancel := store.Observe(func(c document.Change) { kinds = append(kinds, c.Kind) })
	defer cancel()

	_ = store.Insert(ctx, pendingRequest("r5", "app", "q", 1000))
	_, _ = store.CompareAndTransition(ctx, "r5", lifecycle.StatusPending, document.Transition{To: lifecycle.StatusCancelled})

	if len(kinds) != 2 || kinds[0] != document.ChangeInserted || kinds[1] != document.ChangeTransitioned {
		t.Fatalf("unexpected changes: %v", kinds)
	}
}

// Two stores on one file and one bus model two processes.
func TestSharedFileAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	bus := events.NewMemoryBus(logger.Nop())

	open := func(source string) *Store {
		gdb, err := Open(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		s, err := NewStore(gdb, bus, source, logger.Nop())
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	primary, secondary := open("ide-a"), open("ide-b")
	ctx := context.Background()

	var seen atomic.Int32
	cancel := secondary.Observe(func(c document.Change) {
		if c.Request.Status == lifecycle.StatusAnswered {
			seen.Add(1)
		}
	})
	defer cancel()

	if err := primary.Insert(ctx, pendingRequest("r6", "app", "q", 1000)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := primary.CompareAndTransition(ctx, "r6", lifecycle.StatusPending, answer("alice", "ok")); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if seen.Load() != 1 {
		t.Errorf("secondary should observe the answer once, got %d", seen.Load())
	}
	if _, err := secondary.CompareAndTransition(ctx, "r6", lifecycle.StatusPending, document.Transition{To: lifecycle.StatusCancelled}); !errors.Is(err, document.ErrConflict) {
		t.Errorf("expected ErrConflict from secondary, got %v", err)
	}
	if err := secondary.Insert(ctx, pendingRequest("r6", "app", "again", 2000)); !errors.Is(err, document.ErrExists) {
		t.Errorf("expected ErrExists from secondary, got %v", err)
	}
}
