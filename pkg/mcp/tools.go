package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/blockflow/internal/state"
	"github.com/rendis/blockflow/internal/validation"
	"github.com/rendis/blockflow/pkg/schema"
)

// handleRun parses a definition and starts a run.
func (s *BlockflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, perr := s.parseDefinition(req)
	if perr != nil {
		return mcp.NewToolResultError(perr.Error()), nil
	}

	input := mcp.ParseStringMap(req, "input", nil)
	wait := req.GetBool("wait", false)

	var in any
	if input != nil {
		in = input
	}

	if !wait {
		runID, err := s.engine.ExecuteAsync(ctx, def, in)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run failed to start: %v", err)), nil
		}
		return marshalResult(map[string]any{
			"run_id": runID,
			"status": string(schema.RunStatusRunning),
		})
	}

	result, err := s.engine.Execute(ctx, def, in)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed to start: %v", err)), nil
	}

	report := map[string]any{
		"run_id":       result.RunID,
		"workflow_id":  result.WorkflowID,
		"status":       string(result.Status),
		"final_block":  result.FinalBlock,
		"state":        result.State,
		"started_at":   result.StartedAt,
		"completed_at": result.CompletedAt,
	}
	if result.Err != nil {
		report["error"] = result.Err.Error()
	}
	return marshalResult(report)
}

// handleStatus reports the persisted state of a run.
func (s *BlockflowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	rec, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
	}

	status := map[string]any{
		"run_id":        rec.RunID,
		"workflow_id":   rec.WorkflowID,
		"workflow_name": rec.WorkflowName,
		"status":        string(rec.Status),
		"current_block": rec.CurrentBlock,
		"created_at":    rec.CreatedAt,
		"updated_at":    rec.UpdatedAt,
	}
	if rec.Error != "" {
		status["error"] = rec.Error
	}
	if rec.CompletedAt != nil {
		status["completed_at"] = *rec.CompletedAt
	}
	if history, err := s.store.History(ctx, runID); err == nil {
		status["checkpoints"] = len(history)
	}

	return marshalResult(status)
}

// handleCancel requests cancellation of an active run.
func (s *BlockflowServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	if err := s.engine.Cancel(runID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", err)), nil
	}
	return marshalResult(map[string]any{
		"run_id":    runID,
		"cancelled": true,
	})
}

// handleValidate runs the static analysis pipeline without executing.
func (s *BlockflowServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, perr := s.parseDefinition(req)
	if perr != nil {
		// Parse failures are the validation result here, not a tool error.
		report := map[string]any{
			"valid": false,
			"error": perr.Error(),
		}
		var pe *validation.ParseError
		if errors.As(perr, &pe) {
			report["kind"] = string(pe.Kind)
			if len(pe.Violations) > 0 {
				report["violations"] = pe.Violations
			}
		}
		return marshalResult(report)
	}

	result := validation.Validate(def)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleRuns lists persisted runs.
func (s *BlockflowServer) handleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := state.RunFilter{
		WorkflowID: req.GetString("workflow_id", ""),
		Limit:      req.GetInt("limit", 50),
	}
	if status := req.GetString("status", ""); status != "" {
		rs := schema.RunStatus(status)
		filter.Status = &rs
	}

	records, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list runs failed: %v", err)), nil
	}

	runs := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		runs = append(runs, map[string]any{
			"run_id":        rec.RunID,
			"workflow_id":   rec.WorkflowID,
			"status":        string(rec.Status),
			"current_block": rec.CurrentBlock,
			"created_at":    rec.CreatedAt,
		})
	}
	return marshalResult(map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// --- Helpers ---

// parseDefinition extracts and parses the "definition" object argument.
func (s *BlockflowServer) parseDefinition(req mcp.CallToolRequest) (*schema.WorkflowDefinition, error) {
	raw := mcp.ParseStringMap(req, "definition", nil)
	if raw == nil {
		return nil, fmt.Errorf("definition is required")
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode definition: %w", err)
	}
	return s.parser.ParseDefinition(encoded)
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
