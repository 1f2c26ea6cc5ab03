package validation

import (
	"fmt"

	"github.com/rendis/blockflow/pkg/schema"
)

// detectCycles checks, for every block as a traversal root, whether following
// success edges alone or failure edges alone re-enters a block already on the
// current path. Both edge kinds are walked independently; using every block
// as a root catches cycles that are only reachable from some origins.
func detectCycles(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	checkEdgeKind(def, "next_on_success", func(b schema.BlockDefinition) string {
		return b.NextOnSuccess
	}, result)
	checkEdgeKind(def, "next_on_failure", func(b schema.BlockDefinition) string {
		return b.NextOnFailure
	}, result)

	return result
}

// checkEdgeKind runs one DFS pass per root over a single edge kind.
// The cleared memo set is shared across roots so each block is fully
// explored at most once.
func checkEdgeKind(def *schema.WorkflowDefinition, edgeName string, next func(schema.BlockDefinition) string, result *schema.ValidationResult) {
	t := &traversal{
		blocks:  def.Blocks,
		next:    next,
		onPath:  make(map[string]bool, len(def.Blocks)),
		cleared: make(map[string]bool, len(def.Blocks)),
	}

	for _, root := range sortedBlockNames(def.Blocks) {
		if t.walk(root) {
			result.AddError(fmt.Sprintf("blocks[%s].%s", root, edgeName),
				schema.ErrCodeCycleDetected,
				fmt.Sprintf("circular dependency: following %s transitions from block %q re-enters the path", edgeName, root))
		}
	}
}

// traversal carries the DFS state explicitly: onPath is the current
// recursion path, cleared memoizes blocks proven cycle-free so repeated
// roots never re-walk an explored chain.
type traversal struct {
	blocks  map[string]schema.BlockDefinition
	next    func(schema.BlockDefinition) string
	onPath  map[string]bool
	cleared map[string]bool
}

// walk returns true when a cycle is reachable from name.
func (t *traversal) walk(name string) bool {
	if t.cleared[name] {
		return false
	}
	if t.onPath[name] {
		return true
	}

	block, ok := t.blocks[name]
	if !ok {
		// Dangling target; reported by the structural pass.
		return false
	}

	t.onPath[name] = true
	cyclic := false
	if target := t.next(block); target != "" {
		cyclic = t.walk(target)
	}
	delete(t.onPath, name)

	if !cyclic {
		t.cleared[name] = true
	}
	return cyclic
}
