package guards

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rendis/blockflow/internal/execution"
	"github.com/rendis/blockflow/pkg/schema"
)

// CELCheck evaluates guard conditions written in Google's Common Expression
// Language. The guard config carries the expression under "expression"; it
// must evaluate to a boolean.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELCheck struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELCheck creates the check with a sandboxed environment exposing the
// guard scope variables: state, input, variables, workflow.
func NewCELCheck() (*CELCheck, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("state", mapType),
		cel.Variable("input", cel.DynType),
		cel.Variable("variables", mapType),
		cel.Variable("workflow", mapType),
		cel.Variable("result", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELCheck{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

func (c *CELCheck) Type() string { return "cel" }

func (c *CELCheck) Evaluate(ctx context.Context, def schema.GuardDefinition, ec *execution.Context, res *schema.ExecutionResult) (bool, string, error) {
	expression, ok := def.Config["expression"].(string)
	if !ok || expression == "" {
		return false, "", schema.NewErrorf(schema.ErrCodeGuardUnavailable,
			"guard %q has no expression", def.ID)
	}

	prg, err := c.getOrCompile(expression)
	if err != nil {
		return false, "", err
	}

	out, _, err := prg.Eval(buildScope(ec, res))
	if err != nil {
		return false, "", schema.NewErrorf(schema.ErrCodeGuardUnavailable,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	passed, ok := out.Value().(bool)
	if !ok {
		return false, "", schema.NewErrorf(schema.ErrCodeGuardUnavailable,
			"CEL expression %q returned %T, want bool", expression, out.Value())
	}
	if passed {
		return true, "", nil
	}
	return false, fmt.Sprintf("expression %q evaluated to false", expression), nil
}

// getOrCompile returns a cached compiled program or compiles and caches a
// new one.
func (c *CELCheck) getOrCompile(expression string) (cel.Program, error) {
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

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeGuardUnavailable,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeGuardUnavailable,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	c.cache[expression] = prg
	return prg, nil
}
