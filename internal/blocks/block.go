// Package blocks holds the executable units a workflow is built from and
// the registry the engine resolves them through.
package blocks

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/blockflow/internal/execution"
	"github.com/rendis/blockflow/pkg/schema"
)

// Block is one executable unit. Execute reads its configuration from the
// block definition, mutates the run context as needed, and reports the
// outcome; it must not panic (the engine recovers, but a panicking block is
// a bug) and must honor ctx cancellation on anything that blocks.
type Block interface {
	Type() string
	Execute(ctx context.Context, def schema.BlockDefinition, ec *execution.Context) *schema.ExecutionResult
}

// Info is a summary of a registered block for listing.
type Info struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Describer is optionally implemented by blocks that document themselves.
type Describer interface {
	Description() string
}

// Registry is the thread-safe block lookup table.
type Registry struct {
	mu     sync.RWMutex
	blocks map[string]Block
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{blocks: make(map[string]Block)}
}

// Register adds a block. Returns an error on nil blocks, empty types, and
// duplicates.
func (r *Registry) Register(b Block) error {
	if b == nil {
		return schema.NewError(schema.ErrCodeValidation, "block is nil")
	}
	t := b.Type()
	if t == "" {
		return schema.NewError(schema.ErrCodeValidation, "block type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.blocks[t]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "block %q already registered", t)
	}
	r.blocks[t] = b
	return nil
}

// Get retrieves a block by type.
func (r *Registry) Get(blockType string) (Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.blocks[blockType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeBlockUnavailable, "block %q not registered", blockType)
	}
	return b, nil
}

// Has checks if a block type is registered.
func (r *Registry) Has(blockType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blocks[blockType]
	return ok
}

// Count returns the number of registered blocks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blocks)
}

// List returns info for all registered blocks, sorted by type.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.blocks))
	for _, b := range r.blocks {
		info := Info{Type: b.Type()}
		if d, ok := b.(Describer); ok {
			info.Description = d.Description()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Type < infos[j].Type
	})
	return infos
}

// DefaultRegistry returns a registry with the builtin blocks.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, b := range []Block{
		NewNoopBlock(),
		NewStateSetBlock(),
		NewStateRemoveBlock(),
		NewDelayBlock(),
		NewLogBlock(),
		NewExprEvalBlock(),
		NewTransformBlock(),
		NewHTTPRequestBlock(HTTPConfig{}),
	} {
		// Builtin types are distinct; a duplicate here is a programming
		// error caught by tests.
		_ = r.Register(b)
	}
	return r
}
