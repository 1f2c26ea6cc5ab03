package guards

import (
	"github.com/rendis/blockflow/internal/execution"
	"github.com/rendis/blockflow/pkg/schema"
)

// buildScope assembles the evaluation environment for a guard expression:
//
//	state     — detached snapshot of the run state bag
//	input     — the run input
//	variables — workflow-level constants
//	workflow  — run identity (id, name, run_id, current_block)
//	result    — outcome of the block that just ran (post-phase only;
//	            empty map before execution)
func buildScope(ec *execution.Context, res *schema.ExecutionResult) map[string]any {
	result := map[string]any{}
	if res != nil {
		result["status"] = string(res.Status)
		result["output"] = res.Output
		result["logs"] = res.Metadata.Logs
		result["errors"] = res.Metadata.Errors
		if res.Err != nil {
			result["error"] = res.Err.Error()
		}
	}

	return map[string]any{
		"state":     ec.Snapshot(),
		"input":     ec.Input(),
		"variables": ec.Variables(),
		"workflow": map[string]any{
			"id":            ec.WorkflowID(),
			"name":          ec.WorkflowName(),
			"run_id":        ec.RunID(),
			"current_block": ec.CurrentBlock(),
		},
		"result": result,
	}
}
