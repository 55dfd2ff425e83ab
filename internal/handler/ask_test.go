package handler

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/rishvan-input/internal/commit"
	"github.com/tejzpr/rishvan-input/internal/document"
	"github.com/tejzpr/rishvan-input/internal/inputtype"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/logger"
	"github.com/tejzpr/rishvan-input/internal/manager"
	"github.com/tejzpr/rishvan-input/internal/request"
)

func callRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: ToolName, Arguments: args},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

// respondWhenPending resolves the first request that shows up in store.
func respondWhenPending(t *testing.T, store document.Store, resolve func(*request.InputRequest)) {
	t.Helper()
	done := make(chan struct{})
	cancel := store.Observe(func(c document.Change) {
		if c.Kind != document.ChangeInserted {
			return
		}
		select {
		case <-done:
			return
		default:
			close(done)
		}
		go resolve(c.Request)
	})
	t.Cleanup(cancel)
}

func setup(t *testing.T) (*AskHandler, *manager.RequestManager, *document.MemoryStore) {
	t.Helper()
	store := document.NewMemoryStore()
	m := manager.NewRequestManager(commit.New(store), "test-ide")
	return NewAskHandler(m, logger.Nop()), m, store
}

func TestAskAnswered(t *testing.T) {
	h, m, store := setup(t)
	var seen *request.InputRequest
	respondWhenPending(t, store, func(r *request.InputRequest) {
		seen = r
		_, err := m.Committer().Answer(context.Background(), r.ID, "Green", "alice")
		assert.NoError(t, err)
	})

	res, err := h.Handle(context.Background(), callRequest(map[string]any{
		"message":  "Pick a color",
		"type":     "dropdown",
		"options":  []any{"Red", map[string]any{"value": "Green", "description": "calm"}},
		"app_name": "painter",
		"timeout":  float64(30),
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Green", resultText(t, res))

	require.NotNil(t, seen)
	assert.Equal(t, inputtype.Choice, seen.Type)
	assert.Equal(t, request.DisplayDropdown, seen.Display)
	assert.Equal(t, "painter", seen.AppName)
	assert.Equal(t, "test-ide", seen.SourceName)
	require.NotNil(t, seen.Timeout)
	assert.Equal(t, 30, *seen.Timeout)
	require.Len(t, seen.Options, 2)
	assert.Equal(t, "calm", seen.Options[1].Description)
}

func TestAskDeclined(t *testing.T) {
	h, m, store := setup(t)
	respondWhenPending(t, store, func(r *request.InputRequest) {
		_, _ = m.Committer().Decline(context.Background(), r.ID)
	})

	res, err := h.Handle(context.Background(), callRequest(map[string]any{"message": "Anything else?"}))
	require.NoError(t, err)
	assert.Equal(t, DeclinedText, resultText(t, res))
}

func TestAskExpired(t *testing.T) {
	h, m, store := setup(t)
	respondWhenPending(t, store, func(r *request.InputRequest) {
		_, _ = m.Committer().Cancel(context.Background(), r.ID)
	})

	res, err := h.Handle(context.Background(), callRequest(map[string]any{"message": "Still there?", "type": "confirm"}))
	require.NoError(t, err)
	assert.Equal(t, CancelledText, resultText(t, res))
}

func TestAskMulti(t *testing.T) {
	h, m, store := setup(t)
	respondWhenPending(t, store, func(r *request.InputRequest) {
		_, err := m.Committer().Answer(context.Background(), r.ID, `{"0":"svc","1":"yes"}`, "bob")
		assert.NoError(t, err)
	})

	res, err := h.Handle(context.Background(), callRequest(map[string]any{
		"message": "Setup",
		"type":    "multi",
		"questions": []any{
			map[string]any{"type": "text", "label": "Name", "message": "Service name?"},
			map[string]any{"type": "confirm", "message": "Enable metrics?"},
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, "Name: svc\nEnable metrics?: yes", resultText(t, res))
}

func TestAskRejectsBadInput(t *testing.T) {
	h, _, store := setup(t)

	res, err := h.Handle(context.Background(), callRequest(map[string]any{"type": "text"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = h.Handle(context.Background(), callRequest(map[string]any{"message": "?", "type": "slider"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "slider")

	res, err = h.Handle(context.Background(), callRequest(map[string]any{"message": "?", "type": "choice"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	assert.Equal(t, 0, store.Writes())
}

func TestAskContextEndCancelsRequest(t *testing.T) {
	h, _, store := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.Handle(ctx, callRequest(map[string]any{"message": "Hello?"}))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	all, err := store.List(context.Background(), lifecycle.StatusCancelled)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestResultTextPending(t *testing.T) {
	_, err := ResultText(&request.InputRequest{ID: "r1", Status: lifecycle.StatusPending})
	assert.Error(t, err)
}

func TestToolDeclaresParameters(t *testing.T) {
	tool := Tool()
	assert.Equal(t, ToolName, tool.Name)
	assert.Contains(t, tool.InputSchema.Required, "message")
	for _, name := range []string{"type", "options", "questions", "timeout", "min", "max", "labels"} {
		assert.Contains(t, tool.InputSchema.Properties, name)
	}
}
