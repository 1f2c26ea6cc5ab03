// Package execution holds the per-run mutable context handed to blocks and
// guard checks: the run input, the heterogeneous state bag, and run identity.
package execution

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context is the mutable per-run bag of execution data. One Context is
// created per run by the engine; blocks mutate only the state bag, the
// engine owns CurrentBlock and the checkpoint boundaries.
//
// State values are drawn from a closed universe: string, bool, int32, int64,
// float32, float64, time.Time, map[string]any and []any (recursively). The
// persistence codec rejects anything else.
type Context struct {
	runID        string
	workflowID   string
	workflowName string
	startedAt    time.Time

	input     any
	variables map[string]any

	mu           sync.RWMutex
	state        map[string]any
	currentBlock string
	dirty        bool
}

// NewContext creates a run context with a fresh run id.
func NewContext(workflowID, workflowName string, input any, variables map[string]any) *Context {
	vars := make(map[string]any, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	return &Context{
		runID:        uuid.NewString(),
		workflowID:   workflowID,
		workflowName: workflowName,
		startedAt:    time.Now().UTC(),
		input:        input,
		variables:    vars,
		state:        make(map[string]any),
	}
}

// RunID returns the unique identity of this run.
func (c *Context) RunID() string { return c.runID }

// WorkflowID returns the definition id this run executes.
func (c *Context) WorkflowID() string { return c.workflowID }

// WorkflowName returns the definition name.
func (c *Context) WorkflowName() string { return c.workflowName }

// StartedAt returns the run start timestamp.
func (c *Context) StartedAt() time.Time { return c.startedAt }

// Input returns the run input, immutable for the duration of the run.
func (c *Context) Input() any { return c.input }

// Variable looks up a workflow-level constant.
func (c *Context) Variable(name string) (any, bool) {
	v, ok := c.variables[name]
	return v, ok
}

// Variables returns a copy of the workflow-level constants.
func (c *Context) Variables() map[string]any {
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// CurrentBlock returns the name of the block the run is positioned at.
func (c *Context) CurrentBlock() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentBlock
}

// SetCurrentBlock records the engine's position. Engine use only.
func (c *Context) SetCurrentBlock(name string) {
	c.mu.Lock()
	c.currentBlock = name
	c.mu.Unlock()
}

// Get reads a state value by name.
func (c *Context) Get(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state[name]
	return v, ok
}

// Set writes a state value.
func (c *Context) Set(name string, value any) {
	c.mu.Lock()
	c.state[name] = value
	c.dirty = true
	c.mu.Unlock()
}

// Remove deletes a state value and reports whether it existed.
func (c *Context) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.state[name]
	if ok {
		delete(c.state, name)
		c.dirty = true
	}
	return ok
}

// Dirty reports whether the state bag changed since the last checkpoint.
func (c *Context) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// MarkClean resets the dirty flag. Engine use only, after a checkpoint.
func (c *Context) MarkClean() {
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
}

// Len returns the number of state entries.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.state)
}

// Keys returns the state keys in unspecified order.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.state))
	for k := range c.state {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns a deep copy of the state bag. The copy is detached:
// mutating it never affects the live context, so it is safe to hand to the
// persistence layer or to guard checks.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deepCopyMap(c.state)
}

// Restore replaces the state bag with a deep copy of the given snapshot.
// The restored bag is considered clean: it came from persistence.
func (c *Context) Restore(snapshot map[string]any) {
	c.mu.Lock()
	c.state = deepCopyMap(snapshot)
	c.dirty = false
	c.mu.Unlock()
}

// WithInput derives a copy of the context sharing the same run identity and
// a deep copy of the state, but carrying a new input. Used when re-entering
// a run with transformed input; the original context is not mutated.
func (c *Context) WithInput(input any) *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Context{
		runID:        c.runID,
		workflowID:   c.workflowID,
		workflowName: c.workflowName,
		startedAt:    c.startedAt,
		input:        input,
		variables:    c.variables,
		state:        deepCopyMap(c.state),
		currentBlock: c.currentBlock,
		dirty:        c.dirty,
	}
}

// Restored rebuilds a context from persisted data, keeping the original run
// identity so a resumed run continues under the same key.
func Restored(workflowID, workflowName, runID string, startedAt time.Time, input any, variables, snapshot map[string]any, currentBlock string) *Context {
	c := NewContext(workflowID, workflowName, input, variables)
	c.runID = runID
	c.startedAt = startedAt
	c.state = deepCopyMap(snapshot)
	c.currentBlock = currentBlock
	return c
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		// Scalars in the supported universe are value types.
		return v
	}
}
