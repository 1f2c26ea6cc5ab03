package guards

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/blockflow/pkg/schema"
)

// --- Registry ---

func TestDefaultRegistry_BuiltinChecks(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	for _, typ := range []string{"cel", "expr", "state.required"} {
		check, err := reg.Get(typ)
		require.NoError(t, err, "check %q should be registered", typ)
		assert.Equal(t, typ, check.Type())
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	_, err := NewRegistry().Get("ghost")
	require.Error(t, err)
}

// --- CEL ---

func TestCELCheck_StateAccess(t *testing.T) {
	check, err := NewCELCheck()
	require.NoError(t, err)

	ec := testContext()
	ec.Set("count", int64(5))

	passed, _, err := check.Evaluate(context.Background(), schema.GuardDefinition{
		ID:     "g",
		Config: map[string]any{"expression": `state.count > 3`},
	}, ec, nil)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestCELCheck_InputAndWorkflowAccess(t *testing.T) {
	check, err := NewCELCheck()
	require.NoError(t, err)

	passed, _, err := check.Evaluate(context.Background(), schema.GuardDefinition{
		ID:     "g",
		Config: map[string]any{"expression": `input.amount >= 100 && workflow.id == "wf-1"`},
	}, testContext(), nil)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestCELCheck_FalseResultHasMessage(t *testing.T) {
	check, err := NewCELCheck()
	require.NoError(t, err)

	passed, msg, err := check.Evaluate(context.Background(), schema.GuardDefinition{
		ID:     "g",
		Config: map[string]any{"expression": "1 > 2"},
	}, testContext(), nil)
	require.NoError(t, err)
	assert.False(t, passed)
	assert.NotEmpty(t, msg)
}

func TestCELCheck_NonBooleanResult(t *testing.T) {
	check, err := NewCELCheck()
	require.NoError(t, err)

	_, _, err = check.Evaluate(context.Background(), schema.GuardDefinition{
		ID:     "g",
		Config: map[string]any{"expression": `"a string"`},
	}, testContext(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want bool")
}

func TestCELCheck_ResultAccess(t *testing.T) {
	check, err := NewCELCheck()
	require.NoError(t, err)

	res := schema.SuccessResult(map[string]any{"rows": int64(3)})

	passed, _, err := check.Evaluate(context.Background(), schema.GuardDefinition{
		ID:     "g",
		Config: map[string]any{"expression": `result.status == "success"`},
	}, testContext(), res)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestCELCheck_MissingExpression(t *testing.T) {
	check, err := NewCELCheck()
	require.NoError(t, err)

	_, _, err = check.Evaluate(context.Background(), schema.GuardDefinition{ID: "g"}, testContext(), nil)
	require.Error(t, err)
}

// --- Expr ---

func TestExprCheck_StateAccess(t *testing.T) {
	check := NewExprCheck()

	ec := testContext()
	ec.Set("ready", true)

	passed, _, err := check.Evaluate(context.Background(), schema.GuardDefinition{
		ID:     "g",
		Config: map[string]any{"expression": "state.ready"},
	}, ec, nil)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestExprCheck_FalseResult(t *testing.T) {
	check := NewExprCheck()

	passed, msg, err := check.Evaluate(context.Background(), schema.GuardDefinition{
		ID:     "g",
		Config: map[string]any{"expression": "1 == 2"},
	}, testContext(), nil)
	require.NoError(t, err)
	assert.False(t, passed)
	assert.NotEmpty(t, msg)
}

func TestExprCheck_ResultAccess(t *testing.T) {
	check := NewExprCheck()

	res := schema.SuccessResult(map[string]any{"rows": 3})

	passed, _, err := check.Evaluate(context.Background(), schema.GuardDefinition{
		ID:     "g",
		Config: map[string]any{"expression": `result.output.rows > 0`},
	}, testContext(), res)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestExprCheck_CompileError(t *testing.T) {
	check := NewExprCheck()

	_, _, err := check.Evaluate(context.Background(), schema.GuardDefinition{
		ID:     "g",
		Config: map[string]any{"expression": "1 +"},
	}, testContext(), nil)
	require.Error(t, err)
}

// --- state.required ---

func TestStateRequired_AllPresent(t *testing.T) {
	check := NewStateRequiredCheck()

	ec := testContext()
	ec.Set("a", 1)
	ec.Set("b", "x")

	passed, _, err := check.Evaluate(context.Background(), schema.GuardDefinition{
		ID:     "g",
		Config: map[string]any{"keys": []any{"a", "b"}},
	}, ec, nil)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestStateRequired_ReportsMissingKeys(t *testing.T) {
	check := NewStateRequiredCheck()

	ec := testContext()
	ec.Set("a", 1)

	passed, msg, err := check.Evaluate(context.Background(), schema.GuardDefinition{
		ID:     "g",
		Config: map[string]any{"keys": []any{"a", "b", "c"}},
	}, ec, nil)
	require.NoError(t, err)
	assert.False(t, passed)
	assert.Contains(t, msg, "b")
	assert.Contains(t, msg, "c")
	assert.NotContains(t, msg, "a,")
}

func TestStateRequired_BadConfig(t *testing.T) {
	check := NewStateRequiredCheck()

	t.Run("missing keys", func(t *testing.T) {
		_, _, err := check.Evaluate(context.Background(), schema.GuardDefinition{ID: "g"}, testContext(), nil)
		require.Error(t, err)
	})

	t.Run("non-string entry", func(t *testing.T) {
		_, _, err := check.Evaluate(context.Background(), schema.GuardDefinition{
			ID:     "g",
			Config: map[string]any{"keys": []any{"a", 7}},
		}, testContext(), nil)
		require.Error(t, err)
	})
}
