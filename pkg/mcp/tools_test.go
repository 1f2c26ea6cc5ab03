package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/blockflow/internal/blocks"
	"github.com/rendis/blockflow/internal/engine"
	"github.com/rendis/blockflow/internal/guards"
	"github.com/rendis/blockflow/internal/state"
	"github.com/rendis/blockflow/internal/validation"
)

// --- Harness ---

// newTestServer wires a real engine against an in-memory store; the tool
// handlers are thin enough that mocking buys nothing.
func newTestServer(t *testing.T) (*BlockflowServer, *state.MemoryManager) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := state.NewMemoryManager()

	guardRegistry, err := guards.DefaultRegistry()
	require.NoError(t, err)

	eng, err := engine.New(engine.Options{
		Blocks:     blocks.DefaultRegistry(),
		Guards:     guards.NewEvaluator(guardRegistry, logger),
		Serializer: state.NewSerializer(state.SerializerConfig{}),
		Store:      store,
		Logger:     logger,
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	parser, err := validation.NewParser()
	require.NoError(t, err)

	s := NewBlockflowServer(BlockflowServerDeps{
		Engine: eng,
		Parser: parser,
		Store:  store,
		Logger: logger,
	})
	return s, store
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

func noopDefinition() map[string]any {
	return map[string]any{
		"id":          "wf-1",
		"name":        "orders",
		"start_block": "only",
		"blocks": map[string]any{
			"only": map[string]any{"type": "noop"},
		},
		"config": map[string]any{"timeout": "10s"},
	}
}

// --- Tests ---

func TestRunTool_Wait(t *testing.T) {
	s, store := newTestServer(t)

	req := buildRequest("blockflow.run", map[string]any{
		"definition": noopDefinition(),
		"wait":       true,
	})

	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var report map[string]any
	unmarshalResult(t, result, &report)
	assert.Equal(t, "completed", report["status"])
	assert.Equal(t, "only", report["final_block"])

	rec, err := store.GetRun(context.Background(), report["run_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "wf-1", rec.WorkflowID)
}

func TestRunTool_Async(t *testing.T) {
	s, store := newTestServer(t)

	req := buildRequest("blockflow.run", map[string]any{
		"definition": noopDefinition(),
	})

	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var report map[string]any
	unmarshalResult(t, result, &report)
	runID := report["run_id"].(string)
	assert.Equal(t, "running", report["status"])

	require.Eventually(t, func() bool {
		rec, err := store.GetRun(context.Background(), runID)
		return err == nil && rec.Status.Terminal()
	}, time.Second, 5*time.Millisecond)
}

func TestRunTool_MissingDefinition(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleRun(context.Background(), buildRequest("blockflow.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusTool(t *testing.T) {
	s, store := newTestServer(t)

	now := time.Now().UTC()
	require.NoError(t, store.SaveRun(context.Background(), &state.RunRecord{
		RunID:        "run-9",
		WorkflowID:   "wf-1",
		WorkflowName: "orders",
		Status:       "running",
		CurrentBlock: "only",
		CreatedAt:    now,
	}))

	result, err := s.handleStatus(context.Background(), buildRequest("blockflow.status", map[string]any{
		"run_id": "run-9",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var status map[string]any
	unmarshalResult(t, result, &status)
	assert.Equal(t, "run-9", status["run_id"])
	assert.Equal(t, "running", status["status"])
	assert.Equal(t, "only", status["current_block"])
}

func TestStatusTool_MissingID(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleStatus(context.Background(), buildRequest("blockflow.status", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusTool_NotFound(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleStatus(context.Background(), buildRequest("blockflow.status", map[string]any{
		"run_id": "ghost",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCancelTool_InactiveRun(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleCancel(context.Background(), buildRequest("blockflow.cancel", map[string]any{
		"run_id": "ghost",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestValidateTool(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("valid definition", func(t *testing.T) {
		result, err := s.handleValidate(context.Background(), buildRequest("blockflow.validate", map[string]any{
			"definition": noopDefinition(),
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		var report map[string]any
		unmarshalResult(t, result, &report)
		assert.Equal(t, true, report["valid"])
	})

	t.Run("schema violation reported, not a tool error", func(t *testing.T) {
		def := noopDefinition()
		delete(def, "start_block")

		result, err := s.handleValidate(context.Background(), buildRequest("blockflow.validate", map[string]any{
			"definition": def,
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		var report map[string]any
		unmarshalResult(t, result, &report)
		assert.Equal(t, false, report["valid"])
		assert.Equal(t, "logical", report["kind"])
	})

	t.Run("dangling transition", func(t *testing.T) {
		def := noopDefinition()
		def["blocks"] = map[string]any{
			"only": map[string]any{"type": "noop", "next_on_success": "ghost"},
		}

		result, err := s.handleValidate(context.Background(), buildRequest("blockflow.validate", map[string]any{
			"definition": def,
		}))
		require.NoError(t, err)

		var report map[string]any
		unmarshalResult(t, result, &report)
		assert.Equal(t, false, report["valid"])
	})
}

func TestRunsTool(t *testing.T) {
	s, store := newTestServer(t)

	ctx := context.Background()
	for _, rec := range []*state.RunRecord{
		{RunID: "r1", WorkflowID: "wf-a", Status: "completed", CreatedAt: time.Now().UTC()},
		{RunID: "r2", WorkflowID: "wf-a", Status: "failed", CreatedAt: time.Now().UTC()},
		{RunID: "r3", WorkflowID: "wf-b", Status: "completed", CreatedAt: time.Now().UTC()},
	} {
		require.NoError(t, store.SaveRun(ctx, rec))
	}

	t.Run("all", func(t *testing.T) {
		result, err := s.handleRuns(ctx, buildRequest("blockflow.runs", map[string]any{}))
		require.NoError(t, err)

		var report map[string]any
		unmarshalResult(t, result, &report)
		assert.EqualValues(t, 3, report["count"])
	})

	t.Run("filter by workflow", func(t *testing.T) {
		result, err := s.handleRuns(ctx, buildRequest("blockflow.runs", map[string]any{
			"workflow_id": "wf-a",
		}))
		require.NoError(t, err)

		var report map[string]any
		unmarshalResult(t, result, &report)
		assert.EqualValues(t, 2, report["count"])
	})

	t.Run("filter by status", func(t *testing.T) {
		result, err := s.handleRuns(ctx, buildRequest("blockflow.runs", map[string]any{
			"status": "failed",
		}))
		require.NoError(t, err)

		var report map[string]any
		unmarshalResult(t, result, &report)
		assert.EqualValues(t, 1, report["count"])
	})
}
