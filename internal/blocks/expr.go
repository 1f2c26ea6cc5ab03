package blocks

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/blockflow/internal/execution"
	"github.com/rendis/blockflow/pkg/schema"
)

// ExprEvalBlock evaluates an expr-lang expression against the run scope and
// writes the result into the state bag.
// Config: "expression" (required), "target" — state key for the result
// (required).
// Thread-safe: compiled programs are cached and reused across goroutines.
type ExprEvalBlock struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewExprEvalBlock() *ExprEvalBlock {
	return &ExprEvalBlock{cache: make(map[string]*vm.Program)}
}

func (b *ExprEvalBlock) Type() string { return "expr.eval" }
func (b *ExprEvalBlock) Description() string {
	return "Evaluate an expression and store the result in the run state."
}

func (b *ExprEvalBlock) Execute(_ context.Context, def schema.BlockDefinition, ec *execution.Context) *schema.ExecutionResult {
	expression := stringParam(def.Config, "expression", "")
	if expression == "" {
		return schema.FailureResult(schema.NewError(schema.ErrCodeValidation,
			"expr.eval: missing required config 'expression'"))
	}
	target := stringParam(def.Config, "target", "")
	if target == "" {
		return schema.FailureResult(schema.NewError(schema.ErrCodeValidation,
			"expr.eval: missing required config 'target'"))
	}

	prg, err := b.getOrCompile(expression)
	if err != nil {
		return schema.FailureResult(err)
	}

	scope := map[string]any{
		"state":     ec.Snapshot(),
		"input":     ec.Input(),
		"variables": ec.Variables(),
	}
	out, err := vm.Run(prg, scope)
	if err != nil {
		return schema.FailureResult(schema.NewErrorf(schema.ErrCodeExecution,
			"expr.eval: evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression}))
	}

	ec.Set(target, out)
	return schema.SuccessResult(map[string]any{target: out})
}

func (b *ExprEvalBlock) getOrCompile(expression string) (*vm.Program, error) {
	b.mu.RLock()
	if prg, ok := b.cache[expression]; ok {
		b.mu.RUnlock()
		return prg, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := b.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr.eval: compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	b.cache[expression] = prg
	return prg, nil
}
