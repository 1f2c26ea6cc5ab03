package blocks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/blockflow/internal/execution"
	"github.com/rendis/blockflow/pkg/schema"
)

// NoopBlock succeeds immediately. Useful as a join point or terminal marker.
type NoopBlock struct{}

func NewNoopBlock() *NoopBlock { return &NoopBlock{} }

func (b *NoopBlock) Type() string        { return "noop" }
func (b *NoopBlock) Description() string { return "Do nothing and succeed." }

func (b *NoopBlock) Execute(_ context.Context, _ schema.BlockDefinition, _ *execution.Context) *schema.ExecutionResult {
	return schema.SuccessResult(nil)
}

// StateSetBlock writes the configured values into the run state bag.
// Config: "values" — map of state key to value.
type StateSetBlock struct{}

func NewStateSetBlock() *StateSetBlock { return &StateSetBlock{} }

func (b *StateSetBlock) Type() string        { return "state.set" }
func (b *StateSetBlock) Description() string { return "Write values into the run state." }

func (b *StateSetBlock) Execute(_ context.Context, def schema.BlockDefinition, ec *execution.Context) *schema.ExecutionResult {
	values, ok := def.Config["values"].(map[string]any)
	if !ok || len(values) == 0 {
		return schema.FailureResult(schema.NewError(schema.ErrCodeValidation,
			"state.set: missing required config 'values'"))
	}
	for k, v := range values {
		ec.Set(k, v)
	}
	return schema.SuccessResult(map[string]any{"written": len(values)}).
		WithLog(fmt.Sprintf("wrote %d state values", len(values)))
}

// StateRemoveBlock deletes the configured keys from the run state bag.
// Config: "keys" — list of state keys. Missing keys are not an error.
type StateRemoveBlock struct{}

func NewStateRemoveBlock() *StateRemoveBlock { return &StateRemoveBlock{} }

func (b *StateRemoveBlock) Type() string        { return "state.remove" }
func (b *StateRemoveBlock) Description() string { return "Remove keys from the run state." }

func (b *StateRemoveBlock) Execute(_ context.Context, def schema.BlockDefinition, ec *execution.Context) *schema.ExecutionResult {
	raw, ok := def.Config["keys"].([]any)
	if !ok || len(raw) == 0 {
		return schema.FailureResult(schema.NewError(schema.ErrCodeValidation,
			"state.remove: missing required config 'keys'"))
	}
	removed := 0
	for _, e := range raw {
		k, ok := e.(string)
		if !ok {
			return schema.FailureResult(schema.NewErrorf(schema.ErrCodeValidation,
				"state.remove: keys must be strings, got %T", e))
		}
		if ec.Remove(k) {
			removed++
		}
	}
	return schema.SuccessResult(map[string]any{"removed": removed})
}

// DelayBlock asks the engine to re-enter the block after the configured
// duration on the first pass, then succeeds. The marker key keeps the two
// passes apart across checkpoints.
// Config: "duration" — Go duration string, required.
type DelayBlock struct{}

func NewDelayBlock() *DelayBlock { return &DelayBlock{} }

func (b *DelayBlock) Type() string        { return "delay" }
func (b *DelayBlock) Description() string { return "Pause the run for a configured duration." }

func (b *DelayBlock) Execute(_ context.Context, def schema.BlockDefinition, ec *execution.Context) *schema.ExecutionResult {
	d := durationParam(def.Config, "duration", 0)
	if d <= 0 {
		return schema.FailureResult(schema.NewError(schema.ErrCodeValidation,
			"delay: missing or invalid config 'duration'"))
	}

	marker := "__delay." + def.Name
	if _, waited := ec.Get(marker); waited {
		ec.Remove(marker)
		return schema.SuccessResult(map[string]any{"waited": d.String()})
	}
	ec.Set(marker, time.Now().UTC())
	return schema.WaitResult(d).WithLog(fmt.Sprintf("waiting %s", d))
}

// LogBlock emits a structured log line and succeeds.
// Config: "message" (required), "level" ("debug"|"info"|"warn"|"error",
// default "info").
type LogBlock struct {
	logger *slog.Logger
}

func NewLogBlock() *LogBlock { return &LogBlock{logger: slog.Default()} }

// NewLogBlockWith uses an explicit logger instead of slog.Default.
func NewLogBlockWith(logger *slog.Logger) *LogBlock { return &LogBlock{logger: logger} }

func (b *LogBlock) Type() string        { return "log" }
func (b *LogBlock) Description() string { return "Emit a structured log line." }

func (b *LogBlock) Execute(ctx context.Context, def schema.BlockDefinition, ec *execution.Context) *schema.ExecutionResult {
	message := stringParam(def.Config, "message", "")
	if message == "" {
		return schema.FailureResult(schema.NewError(schema.ErrCodeValidation,
			"log: missing required config 'message'"))
	}

	level := slog.LevelInfo
	switch stringParam(def.Config, "level", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	b.logger.Log(ctx, level, message,
		slog.String("run_id", ec.RunID()),
		slog.String("block", def.Name),
	)
	return schema.SuccessResult(nil).WithLog(message)
}
