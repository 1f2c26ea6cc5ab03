package guards

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/blockflow/internal/execution"
	"github.com/rendis/blockflow/pkg/schema"
)

// ExprCheck evaluates guard conditions with expr-lang/expr. Compared to the
// CEL check it supports nil coalescing (??), optional chaining (?.) and the
// pipe operator, which reads better for deep state lookups.
// Thread-safe: compiled *vm.Program objects are cached and reused.
type ExprCheck struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewExprCheck() *ExprCheck {
	return &ExprCheck{cache: make(map[string]*vm.Program)}
}

func (c *ExprCheck) Type() string { return "expr" }

func (c *ExprCheck) Evaluate(ctx context.Context, def schema.GuardDefinition, ec *execution.Context, res *schema.ExecutionResult) (bool, string, error) {
	expression, ok := def.Config["expression"].(string)
	if !ok || expression == "" {
		return false, "", schema.NewErrorf(schema.ErrCodeGuardUnavailable,
			"guard %q has no expression", def.ID)
	}

	prg, err := c.getOrCompile(expression)
	if err != nil {
		return false, "", err
	}

	out, err := vm.Run(prg, buildScope(ec, res))
	if err != nil {
		return false, "", schema.NewErrorf(schema.ErrCodeGuardUnavailable,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	passed, ok := out.(bool)
	if !ok {
		return false, "", schema.NewErrorf(schema.ErrCodeGuardUnavailable,
			"expr expression %q returned %T, want bool", expression, out)
	}
	if passed {
		return true, "", nil
	}
	return false, fmt.Sprintf("expression %q evaluated to false", expression), nil
}

func (c *ExprCheck) getOrCompile(expression string) (*vm.Program, error) {
	c.mu.RLock()
	if prg, ok := c.cache[expression]; ok {
		c.mu.RUnlock()
		return prg, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := c.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeGuardUnavailable,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	c.cache[expression] = prg
	return prg, nil
}
