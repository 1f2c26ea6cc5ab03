package guards

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/blockflow/internal/execution"
	"github.com/rendis/blockflow/pkg/schema"
)

// Evaluator runs the guards attached to a workflow around each block.
type Evaluator struct {
	registry *Registry
	logger   *slog.Logger
}

func NewEvaluator(registry *Registry, logger *slog.Logger) *Evaluator {
	return &Evaluator{registry: registry, logger: logger}
}

// Evaluate runs every guard matching the phase for the given block: global
// guards first, then the block's own guards, in declaration order. All
// guards run; a failure never short-circuits the rest, so the summary
// reflects the full picture. res carries the just-finished block's outcome
// into post-phase checks; pass nil for the pre phase.
//
// A check that cannot run (unknown type, broken expression) counts as a
// critical failure: an unverifiable precondition must not be treated as
// satisfied.
func (e *Evaluator) Evaluate(ctx context.Context, def *schema.WorkflowDefinition, block string, phase schema.GuardPhase, ec *execution.Context, res *schema.ExecutionResult) *schema.GuardSummary {
	summary := &schema.GuardSummary{
		BySeverity: make(map[schema.GuardSeverity]int),
	}

	for _, g := range def.GlobalGuards {
		e.runOne(ctx, g, phase, ec, res, summary)
	}
	for _, g := range def.BlockGuards[block] {
		e.runOne(ctx, g, phase, ec, res, summary)
	}

	if summary.MostSevereFailure != nil {
		e.logger.Warn("guard failures",
			slog.String("run_id", ec.RunID()),
			slog.String("block", block),
			slog.String("phase", string(phase)),
			slog.Int("failed", summary.Failed),
			slog.String("most_severe", string(summary.MostSevereFailure.Severity)),
		)
	}
	return summary
}

func (e *Evaluator) runOne(ctx context.Context, g schema.GuardDefinition, phase schema.GuardPhase, ec *execution.Context, res *schema.ExecutionResult, summary *schema.GuardSummary) {
	if g.Phase != phase {
		return
	}

	result := schema.GuardResult{
		GuardID:      guardID(g),
		Type:         g.Type,
		Severity:     g.Severity,
		FailureBlock: g.FailureBlock,
	}

	check, err := e.registry.Get(g.Type)
	if err == nil {
		var passed bool
		var message string
		passed, message, err = check.Evaluate(ctx, g, ec, res)
		result.Passed = passed
		result.Message = message
	}
	if err != nil {
		// The check itself broke; escalate regardless of declared severity.
		result.Passed = false
		result.Severity = schema.SeverityCritical
		result.Message = fmt.Sprintf("guard check unavailable: %s", err.Error())
	}

	summary.Add(result)
}

func guardID(g schema.GuardDefinition) string {
	if g.ID != "" {
		return g.ID
	}
	return g.Type
}
