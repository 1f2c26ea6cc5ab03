package schema

import "time"

// RunStatus is the lifecycle state of one workflow run.
type RunStatus string

const (
	RunStatusReady     RunStatus = "ready"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusTimedOut  RunStatus = "timed_out"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusTimedOut:
		return true
	}
	return false
}

// ExecutionStatus is the outcome kind of a single block execution.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailure ExecutionStatus = "failure"
	StatusSkip    ExecutionStatus = "skip"
	StatusWait    ExecutionStatus = "wait"
)

// ExecutionMetadata carries diagnostics for one block execution.
type ExecutionMetadata struct {
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Logs        []string        `json:"logs,omitempty"`
	Errors      []string        `json:"errors,omitempty"`
}

// Duration returns the elapsed block execution time.
func (m ExecutionMetadata) Duration() time.Duration {
	return m.CompletedAt.Sub(m.StartedAt)
}

// ExecutionResult is the immutable outcome of one block execution. Build it
// with one of the four constructors; the status is fixed by construction.
//
// NextBlock, when non-empty, overrides the block's statically declared
// transition target. Output carries the block's payload; for Wait results it
// is the requested wait duration.
type ExecutionResult struct {
	Status    ExecutionStatus   `json:"status"`
	NextBlock string            `json:"next_block,omitempty"`
	Output    any               `json:"output,omitempty"`
	Metadata  ExecutionMetadata `json:"metadata"`
	Err       error             `json:"-"`
}

// IsSuccess is true for Success, Skip and Wait results, false only for Failure.
func (r *ExecutionResult) IsSuccess() bool {
	return r.Status != StatusFailure
}

// WaitDuration returns the requested wait for a Wait result, or zero.
func (r *ExecutionResult) WaitDuration() time.Duration {
	if r.Status != StatusWait {
		return 0
	}
	if d, ok := r.Output.(time.Duration); ok {
		return d
	}
	return 0
}

// SuccessResult builds a Success outcome with an optional output payload.
func SuccessResult(output any) *ExecutionResult {
	return newResult(StatusSuccess, output, nil)
}

// FailureResult builds a Failure outcome carrying the causing error.
func FailureResult(err error) *ExecutionResult {
	r := newResult(StatusFailure, nil, err)
	if err != nil {
		r.Metadata.Errors = append(r.Metadata.Errors, err.Error())
	}
	return r
}

// SkipResult builds a Skip outcome: the block declined to run and the engine
// follows the success routing without re-running guards.
func SkipResult(reason string) *ExecutionResult {
	r := newResult(StatusSkip, nil, nil)
	if reason != "" {
		r.Metadata.Logs = append(r.Metadata.Logs, reason)
	}
	return r
}

// WaitResult builds a Wait outcome: the engine suspends for d and re-enters
// the same block without consuming a retry attempt.
func WaitResult(d time.Duration) *ExecutionResult {
	return newResult(StatusWait, d, nil)
}

func newResult(status ExecutionStatus, output any, err error) *ExecutionResult {
	now := time.Now().UTC()
	return &ExecutionResult{
		Status: status,
		Output: output,
		Err:    err,
		Metadata: ExecutionMetadata{
			Status:      status,
			StartedAt:   now,
			CompletedAt: now,
		},
	}
}

// WithNextBlock sets the transition override and returns the result for
// chaining at construction time.
func (r *ExecutionResult) WithNextBlock(name string) *ExecutionResult {
	r.NextBlock = name
	return r
}

// WithLog appends a diagnostic log entry.
func (r *ExecutionResult) WithLog(entry string) *ExecutionResult {
	r.Metadata.Logs = append(r.Metadata.Logs, entry)
	return r
}

// WithTiming records the actual start/complete timestamps of the execution.
func (r *ExecutionResult) WithTiming(started, completed time.Time) *ExecutionResult {
	r.Metadata.StartedAt = started
	r.Metadata.CompletedAt = completed
	return r
}
