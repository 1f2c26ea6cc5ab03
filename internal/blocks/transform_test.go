package blocks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/blockflow/pkg/schema"
)

func TestTransformBlock_SingleResult(t *testing.T) {
	ec := testContext()
	ec.Set("order", map[string]any{"total": int64(120), "currency": "EUR"})

	def := schema.BlockDefinition{
		Name: "tx",
		Config: map[string]any{
			"query":  ".state.order.total",
			"target": "total",
		},
	}
	res := NewTransformBlock().Execute(context.Background(), def, ec)
	require.Equal(t, schema.StatusSuccess, res.Status)

	v, ok := ec.Get("total")
	require.True(t, ok)
	assert.Equal(t, float64(120), v, "jq works in float64")
}

func TestTransformBlock_MultipleResultsCollected(t *testing.T) {
	ec := testContext()
	ec.Set("items", []any{"a", "b", "c"})

	def := schema.BlockDefinition{
		Name: "tx",
		Config: map[string]any{
			"query":  ".state.items[]",
			"target": "each",
		},
	}
	res := NewTransformBlock().Execute(context.Background(), def, ec)
	require.Equal(t, schema.StatusSuccess, res.Status)

	v, _ := ec.Get("each")
	assert.Equal(t, []any{"a", "b", "c"}, v)
}

func TestTransformBlock_EmptyResultIsNil(t *testing.T) {
	ec := testContext()
	def := schema.BlockDefinition{
		Name: "tx",
		Config: map[string]any{
			"query":  "empty",
			"target": "nothing",
		},
	}
	res := NewTransformBlock().Execute(context.Background(), def, ec)
	require.Equal(t, schema.StatusSuccess, res.Status)

	v, ok := ec.Get("nothing")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestTransformBlock_TimeNormalized(t *testing.T) {
	ec := testContext()
	ec.Set("at", time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))

	def := schema.BlockDefinition{
		Name: "tx",
		Config: map[string]any{
			"query":  ".state.at",
			"target": "stamp",
		},
	}
	res := NewTransformBlock().Execute(context.Background(), def, ec)
	require.Equal(t, schema.StatusSuccess, res.Status)

	v, _ := ec.Get("stamp")
	assert.Equal(t, "2026-08-25T12:00:00Z", v)
}

func TestTransformBlock_ParseError(t *testing.T) {
	res := NewTransformBlock().Execute(context.Background(), schema.BlockDefinition{
		Name:   "tx",
		Config: map[string]any{"query": ".state |", "target": "x"},
	}, testContext())
	assert.Equal(t, schema.StatusFailure, res.Status)
}

func TestTransformBlock_EnvAccessSandboxed(t *testing.T) {
	t.Setenv("BLOCKFLOW_SECRET", "leak")

	ec := testContext()
	def := schema.BlockDefinition{
		Name: "tx",
		Config: map[string]any{
			"query":  `$ENV.BLOCKFLOW_SECRET`,
			"target": "leaked",
		},
	}
	res := NewTransformBlock().Execute(context.Background(), def, ec)
	if res.Status == schema.StatusSuccess {
		v, _ := ec.Get("leaked")
		assert.Nil(t, v, "environment must not be visible to queries")
	}
}

func TestTransformBlock_MissingConfig(t *testing.T) {
	res := NewTransformBlock().Execute(context.Background(), schema.BlockDefinition{
		Name:   "tx",
		Config: map[string]any{"query": "."},
	}, testContext())
	assert.Equal(t, schema.StatusFailure, res.Status)
}
