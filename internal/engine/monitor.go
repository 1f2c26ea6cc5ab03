package engine

import (
	"log/slog"
	"time"

	"github.com/rendis/blockflow/pkg/schema"
)

// Monitor observes engine activity. Implementations must be fast and must
// not block; the engine calls them inline on the run goroutine. A panicking
// monitor never takes the run down.
type Monitor interface {
	RunStarted(runID, workflowID string)
	BlockStarted(runID, block string, attempt int)
	BlockFinished(runID, block string, status schema.ExecutionStatus, elapsed time.Duration)
	GuardsBlocked(runID, block string, phase schema.GuardPhase, summary *schema.GuardSummary)
	RunFinished(runID string, status schema.RunStatus, elapsed time.Duration)
}

// NopMonitor ignores everything.
type NopMonitor struct{}

func (NopMonitor) RunStarted(string, string)                                               {}
func (NopMonitor) BlockStarted(string, string, int)                                        {}
func (NopMonitor) BlockFinished(string, string, schema.ExecutionStatus, time.Duration)     {}
func (NopMonitor) GuardsBlocked(string, string, schema.GuardPhase, *schema.GuardSummary)   {}
func (NopMonitor) RunFinished(string, schema.RunStatus, time.Duration)                     {}

// SlogMonitor reports engine activity through structured logging.
type SlogMonitor struct {
	logger *slog.Logger
}

func NewSlogMonitor(logger *slog.Logger) *SlogMonitor {
	return &SlogMonitor{logger: logger}
}

func (m *SlogMonitor) RunStarted(runID, workflowID string) {
	m.logger.Info("run started",
		slog.String("run_id", runID),
		slog.String("workflow_id", workflowID),
	)
}

func (m *SlogMonitor) BlockStarted(runID, block string, attempt int) {
	m.logger.Debug("block started",
		slog.String("run_id", runID),
		slog.String("block", block),
		slog.Int("attempt", attempt),
	)
}

func (m *SlogMonitor) BlockFinished(runID, block string, status schema.ExecutionStatus, elapsed time.Duration) {
	m.logger.Debug("block finished",
		slog.String("run_id", runID),
		slog.String("block", block),
		slog.String("status", string(status)),
		slog.Duration("elapsed", elapsed),
	)
}

func (m *SlogMonitor) GuardsBlocked(runID, block string, phase schema.GuardPhase, summary *schema.GuardSummary) {
	m.logger.Warn("guards blocked execution",
		slog.String("run_id", runID),
		slog.String("block", block),
		slog.String("phase", string(phase)),
		slog.Int("failed", summary.Failed),
	)
}

func (m *SlogMonitor) RunFinished(runID string, status schema.RunStatus, elapsed time.Duration) {
	m.logger.Info("run finished",
		slog.String("run_id", runID),
		slog.String("status", string(status)),
		slog.Duration("elapsed", elapsed),
	)
}

// notify shields the engine from monitor panics.
func notify(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}
