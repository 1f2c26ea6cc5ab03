package blocks

import (
	"context"
	"sync"
	"time"

	"github.com/itchyny/gojq"

	"github.com/rendis/blockflow/internal/execution"
	"github.com/rendis/blockflow/pkg/schema"
)

// TransformBlock reshapes run data with a jq expression and stores the
// result.
// Config: "query" (required), "target" — state key for the result
// (required). The query input is {"state": ..., "input": ..., "variables":
// ...} with numbers normalized to float64 the way jq expects.
//
// A query producing one output stores it directly; multiple outputs are
// collected into a list.
// Thread-safe: compiled *gojq.Code objects are cached and reused.
type TransformBlock struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

func NewTransformBlock() *TransformBlock {
	return &TransformBlock{cache: make(map[string]*gojq.Code)}
}

func (b *TransformBlock) Type() string { return "transform.jq" }
func (b *TransformBlock) Description() string {
	return "Transform run data with a jq query and store the result."
}

func (b *TransformBlock) Execute(ctx context.Context, def schema.BlockDefinition, ec *execution.Context) *schema.ExecutionResult {
	query := stringParam(def.Config, "query", "")
	if query == "" {
		return schema.FailureResult(schema.NewError(schema.ErrCodeValidation,
			"transform.jq: missing required config 'query'"))
	}
	target := stringParam(def.Config, "target", "")
	if target == "" {
		return schema.FailureResult(schema.NewError(schema.ErrCodeValidation,
			"transform.jq: missing required config 'target'"))
	}

	code, err := b.getOrCompile(query)
	if err != nil {
		return schema.FailureResult(err)
	}

	scope := normalizeForJQ(map[string]any{
		"state":     ec.Snapshot(),
		"input":     ec.Input(),
		"variables": ec.Variables(),
	})

	iter := code.RunWithContext(ctx, scope)
	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return schema.FailureResult(schema.NewErrorf(schema.ErrCodeExecution,
				"transform.jq: evaluation failed for %q: %s", query, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"query": query}))
		}
		results = append(results, val)
	}

	var out any
	switch len(results) {
	case 0:
		out = nil
	case 1:
		out = results[0]
	default:
		out = results
	}

	ec.Set(target, out)
	return schema.SuccessResult(map[string]any{target: out})
}

func (b *TransformBlock) getOrCompile(query string) (*gojq.Code, error) {
	b.mu.RLock()
	if code, ok := b.cache[query]; ok {
		b.mu.RUnlock()
		return code, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := b.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"transform.jq: parse error in %q: %s", query, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"query": query})
	}

	code, err := gojq.Compile(parsed,
		// Sandbox: block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"transform.jq: compile error in %q: %s", query, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"query": query})
	}

	b.cache[query] = code
	return code, nil
}

// normalizeForJQ converts Go native numbers to float64, which is the only
// number type jq works with. time.Time values become RFC 3339 strings.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalizeForJQ(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeForJQ(e)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return v
	}
}
