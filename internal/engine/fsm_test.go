package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/blockflow/pkg/schema"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(schema.RunStatusReady, schema.RunStatusRunning))
	assert.True(t, CanTransition(schema.RunStatusReady, schema.RunStatusCancelled))
	assert.True(t, CanTransition(schema.RunStatusRunning, schema.RunStatusCompleted))
	assert.True(t, CanTransition(schema.RunStatusRunning, schema.RunStatusTimedOut))

	assert.False(t, CanTransition(schema.RunStatusReady, schema.RunStatusCompleted))
	assert.False(t, CanTransition(schema.RunStatusCompleted, schema.RunStatusRunning))
	assert.False(t, CanTransition(schema.RunStatusFailed, schema.RunStatusRunning))
}

func TestTransition_TerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []schema.RunStatus{
		schema.RunStatusCompleted, schema.RunStatusFailed,
		schema.RunStatusCancelled, schema.RunStatusTimedOut,
	} {
		assert.Empty(t, ValidRunTransitions[s], "terminal status %s must have no exits", s)
	}
}

func TestTransition_InvalidReportsBothStates(t *testing.T) {
	_, err := Transition("r1", schema.RunStatusCompleted, schema.RunStatusRunning)
	require.Error(t, err)

	var bfErr *schema.BlockflowError
	require.ErrorAs(t, err, &bfErr)
	assert.Equal(t, schema.ErrCodeInvalidTransition, bfErr.Code)
	assert.Equal(t, "completed", bfErr.Details["from"])
	assert.Equal(t, "running", bfErr.Details["to"])
}

func TestTransition_ValidReturnsNewStatus(t *testing.T) {
	got, err := Transition("r1", schema.RunStatusRunning, schema.RunStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, got)
}
