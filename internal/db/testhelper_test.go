package db

import (
	"testing"

	"github.com/tejzpr/rishvan-input/internal/events"
	"github.com/tejzpr/rishvan-input/internal/inputtype"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/logger"
	"github.com/tejzpr/rishvan-input/internal/request"
)

// setupTestStore opens an in-memory SQLite store on its own memory bus.
func setupTestStore(t *testing.T) (*Store, *events.MemoryBus) {
	t.Helper()
	gdb, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	bus := events.NewMemoryBus(logger.Nop())
	store, err := NewStore(gdb, bus, "test-ide", logger.Nop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, bus
}

func pendingRequest(id, app, message string, createdAt int64) *request.InputRequest {
	return &request.InputRequest{
		ID:         id,
		Question:   request.Question{Type: inputtype.Text, Message: message},
		Status:     lifecycle.StatusPending,
		CreatedAt:  createdAt,
		SourceName: "test-ide",
		AppName:    app,
	}
}
