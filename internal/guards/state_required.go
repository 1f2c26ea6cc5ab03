package guards

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/blockflow/internal/execution"
	"github.com/rendis/blockflow/pkg/schema"
)

// StateRequiredCheck passes when every key listed in the guard config under
// "keys" is present in the run state bag. The cheapest way to assert a
// block's preconditions without writing an expression.
type StateRequiredCheck struct{}

func NewStateRequiredCheck() *StateRequiredCheck { return &StateRequiredCheck{} }

func (c *StateRequiredCheck) Type() string { return "state.required" }

func (c *StateRequiredCheck) Evaluate(ctx context.Context, def schema.GuardDefinition, ec *execution.Context, _ *schema.ExecutionResult) (bool, string, error) {
	keys, err := requiredKeys(def)
	if err != nil {
		return false, "", err
	}

	var missing []string
	for _, k := range keys {
		if _, ok := ec.Get(k); !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return false, fmt.Sprintf("missing state keys: %s", strings.Join(missing, ", ")), nil
	}
	return true, "", nil
}

func requiredKeys(def schema.GuardDefinition) ([]string, error) {
	raw, ok := def.Config["keys"]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeGuardUnavailable,
			"guard %q has no keys config", def.ID)
	}

	switch t := raw.(type) {
	case []string:
		return t, nil
	case []any:
		keys := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeGuardUnavailable,
					"guard %q keys must be strings, got %T", def.ID, e)
			}
			keys = append(keys, s)
		}
		return keys, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeGuardUnavailable,
			"guard %q keys must be a string list, got %T", def.ID, raw)
	}
}
