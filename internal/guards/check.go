// Package guards evaluates pre- and post-execution checks around blocks:
// pluggable check implementations, severity aggregation, and failure
// routing.
package guards

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rendis/blockflow/internal/execution"
	"github.com/rendis/blockflow/pkg/schema"
)

// Check is one guard implementation. Evaluate reports whether the guard
// passes for the given run; an error means the check itself could not run,
// which the evaluator treats as a critical failure. res is the outcome of
// the block that just executed — nil for pre-execution guards.
type Check interface {
	Type() string
	Evaluate(ctx context.Context, def schema.GuardDefinition, ec *execution.Context, res *schema.ExecutionResult) (bool, string, error)
}

// Registry maps guard types to checks. Safe for concurrent use after
// registration; register everything at startup.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Check
}

func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

// Register adds a check; registering a duplicate type is a programming
// error.
func (r *Registry) Register(c Check) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.checks[c.Type()]; ok {
		return fmt.Errorf("guard check %q already registered", c.Type())
	}
	r.checks[c.Type()] = c
	return nil
}

// Get resolves a check by guard type.
func (r *Registry) Get(guardType string) (Check, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checks[guardType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeGuardUnavailable,
			"no guard check registered for type %q", guardType)
	}
	return c, nil
}

// Types returns the registered guard types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.checks))
	for t := range r.checks {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DefaultRegistry returns a registry with the builtin checks.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()

	celCheck, err := NewCELCheck()
	if err != nil {
		return nil, err
	}
	for _, c := range []Check{celCheck, NewExprCheck(), NewStateRequiredCheck()} {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}
