// Package validation statically analyzes workflow definitions: structural
// and referential integrity checks plus independent success-edge and
// failure-edge cycle detection.
package validation

import "github.com/rendis/blockflow/pkg/schema"

// Validate runs the full static analysis pipeline on a definition and
// returns all errors and warnings. It is a pure function: the definition is
// never mutated and no error is raised, invalid input yields issues as data.
//
// Cycle detection runs only when referential integrity holds; on a graph
// with dangling transitions the traversal would be meaningless.
func Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := validateStructure(def)
	if result.Valid() {
		result.Merge(detectCycles(def))
	}
	return result
}
