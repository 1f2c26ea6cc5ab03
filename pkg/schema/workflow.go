package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowDefinition is the declarative description of a block graph.
// It is treated as immutable once handed to the engine; the structural
// validator enforces referential integrity before any run starts.
type WorkflowDefinition struct {
	ID           string                       `json:"id"`
	Name         string                       `json:"name"`
	Description  string                       `json:"description,omitempty"`
	StartBlock   string                       `json:"start_block"`
	Blocks       map[string]BlockDefinition   `json:"blocks"`
	GlobalGuards []GuardDefinition            `json:"global_guards,omitempty"`
	BlockGuards  map[string][]GuardDefinition `json:"block_guards,omitempty"`
	Config       ExecutionConfig              `json:"config"`
	Metadata     WorkflowMetadata             `json:"metadata,omitempty"`
	Variables    map[string]any               `json:"variables,omitempty"`
}

// BlockDefinition describes a single named unit of work in the graph.
// NextOnSuccess / NextOnFailure name the statically declared transition
// targets; an empty target terminates the run on that path.
type BlockDefinition struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	Provider      string         `json:"provider,omitempty"` // namespace hint for the block factory
	NextOnSuccess string         `json:"next_on_success,omitempty"`
	NextOnFailure string         `json:"next_on_failure,omitempty"`
	Config        map[string]any `json:"config,omitempty"`
	DisplayName   string         `json:"display_name,omitempty"`
	Description   string         `json:"description,omitempty"`
}

// ExecutionConfig carries run-level execution settings.
type ExecutionConfig struct {
	Timeout Duration    `json:"timeout,omitempty"`
	Retry   RetryPolicy `json:"retry,omitempty"`

	// MaxConcurrentBlocks declares the parallelism budget of this
	// definition. Runs currently walk the block graph sequentially, so
	// values above 1 are validated and recorded but act as a reserved
	// hint for parallel fan-out; the engine-wide pool bound governs
	// actual concurrency.
	MaxConcurrentBlocks int `json:"max_concurrent_blocks,omitempty"`

	// PersistStateAfterEachBlock forces a checkpoint after every step,
	// even when the block did not touch the state bag.
	PersistStateAfterEachBlock bool `json:"persist_state_after_each_block,omitempty"`

	// ReevaluateGuardsOnRetry controls whether pre-execution guards run
	// again on each retry attempt, or only before the first attempt.
	ReevaluateGuardsOnRetry *bool `json:"reevaluate_guards_on_retry,omitempty"`
}

// GuardsOnRetry reports whether pre-guards re-run on retry attempts.
// Defaults to true when unset.
func (c ExecutionConfig) GuardsOnRetry() bool {
	if c.ReevaluateGuardsOnRetry == nil {
		return true
	}
	return *c.ReevaluateGuardsOnRetry
}

// WorkflowMetadata is descriptive information about a definition.
type WorkflowMetadata struct {
	Author    string    `json:"author,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Duration wraps time.Duration with JSON encoding as a Go duration string
// (e.g. "30s", "5m"), matching the declarative workflow format.
type Duration time.Duration

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		dur, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", t, err)
		}
		*d = Duration(dur)
		return nil
	case float64:
		// Bare numbers are nanoseconds, as encoding/json would produce
		// for a raw time.Duration.
		*d = Duration(time.Duration(t))
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}
