package engine

import (
	"github.com/rendis/blockflow/pkg/schema"
)

// ValidRunTransitions defines the allowed run lifecycle transitions.
// Terminal states have no exits.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusReady:     {schema.RunStatusRunning, schema.RunStatusCancelled},
	schema.RunStatusRunning:   {schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled, schema.RunStatusTimedOut},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
	schema.RunStatusCancelled: {},
	schema.RunStatusTimedOut:  {},
}

// CanTransition reports whether the run transition is allowed.
func CanTransition(from, to schema.RunStatus) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// Transition validates a run transition and returns the new status, or an
// INVALID_TRANSITION error naming both states.
func Transition(runID string, from, to schema.RunStatus) (schema.RunStatus, error) {
	if !CanTransition(from, to) {
		return from, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}
	return to, nil
}
