// Package engine drives workflow runs: it walks the block graph, enforces
// guards, applies retry policy, and checkpoints state between blocks.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/blockflow/internal/blocks"
	"github.com/rendis/blockflow/internal/execution"
	"github.com/rendis/blockflow/internal/guards"
	"github.com/rendis/blockflow/internal/logging"
	"github.com/rendis/blockflow/internal/state"
	"github.com/rendis/blockflow/internal/validation"
	"github.com/rendis/blockflow/pkg/schema"
)

// Options wires an Engine together. Blocks, Guards, Serializer and Store
// are required; Monitor and Logger default to no-op and slog.Default.
type Options struct {
	Blocks     *blocks.Registry
	Guards     *guards.Evaluator
	Serializer *state.Serializer
	Store      state.Manager
	Monitor    Monitor
	Logger     *slog.Logger

	// MaxConcurrentBlocks bounds concurrently executing blocks across all
	// runs. Zero means 16.
	MaxConcurrentBlocks int
}

// Engine executes workflow definitions. Safe for concurrent use; each call
// to Execute runs one workflow to a terminal status.
type Engine struct {
	blocks     *blocks.Registry
	guards     *guards.Evaluator
	serializer *state.Serializer
	store      state.Manager
	monitor    Monitor
	logger     *slog.Logger
	pool       *BlockPool

	mu   sync.Mutex
	runs map[string]*runHandle
}

// runHandle tracks an in-process run: its cancel hook and its last known
// lifecycle status, which gates record updates through the run FSM.
type runHandle struct {
	cancel context.CancelFunc
	status schema.RunStatus
}

// New builds an Engine from options.
func New(opts Options) (*Engine, error) {
	if opts.Blocks == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires a block registry")
	}
	if opts.Guards == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires a guard evaluator")
	}
	if opts.Serializer == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires a state serializer")
	}
	if opts.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires a state manager")
	}
	if opts.Monitor == nil {
		opts.Monitor = NopMonitor{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxConcurrentBlocks <= 0 {
		opts.MaxConcurrentBlocks = 16
	}

	return &Engine{
		blocks:     opts.Blocks,
		guards:     opts.Guards,
		serializer: opts.Serializer,
		store:      opts.Store,
		monitor:    opts.Monitor,
		logger:     opts.Logger,
		pool:       NewBlockPool(opts.MaxConcurrentBlocks),
		runs:       make(map[string]*runHandle),
	}, nil
}

// Close shuts down the block pool, waiting for in-flight blocks.
func (e *Engine) Close() {
	e.pool.Shutdown()
}

// StepOutcome records one block execution for the run report.
type StepOutcome struct {
	Block   string                 `json:"block"`
	Attempt int                    `json:"attempt"`
	Status  schema.ExecutionStatus `json:"status"`
	Elapsed time.Duration          `json:"elapsed"`
	Logs    []string               `json:"logs,omitempty"`
}

// RunResult is the terminal report of one run.
type RunResult struct {
	RunID       string           `json:"run_id"`
	WorkflowID  string           `json:"workflow_id"`
	Status      schema.RunStatus `json:"status"`
	FinalBlock  string           `json:"final_block,omitempty"`
	State       map[string]any   `json:"state,omitempty"`
	Steps       []StepOutcome    `json:"steps,omitempty"`
	Err         error            `json:"-"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Execute validates the definition and runs it to a terminal status. The
// returned error is non-nil only when the run could not start; execution
// failures are reported through RunResult.Status and RunResult.Err.
func (e *Engine) Execute(ctx context.Context, def *schema.WorkflowDefinition, input any) (*RunResult, error) {
	if vr := validation.Validate(def); !vr.Valid() {
		return nil, vr.ToError()
	}

	ec := execution.NewContext(def.ID, def.Name, input, def.Variables)
	if err := e.createRun(ctx, def, ec, input); err != nil {
		return nil, err
	}
	return e.run(ctx, def, ec, def.StartBlock, nil), nil
}

// ExecuteAsync starts the run in the background and returns its id
// immediately. The run outlives the caller's context; cancel it with
// Cancel.
func (e *Engine) ExecuteAsync(ctx context.Context, def *schema.WorkflowDefinition, input any) (string, error) {
	if vr := validation.Validate(def); !vr.Valid() {
		return "", vr.ToError()
	}

	ec := execution.NewContext(def.ID, def.Name, input, def.Variables)
	if err := e.createRun(ctx, def, ec, input); err != nil {
		return "", err
	}

	go e.run(context.WithoutCancel(ctx), def, ec, def.StartBlock, nil)
	return ec.RunID(), nil
}

// Resume continues an interrupted run from its latest checkpoint.
func (e *Engine) Resume(ctx context.Context, def *schema.WorkflowDefinition, runID string) (*RunResult, error) {
	if vr := validation.Validate(def); !vr.Valid() {
		return nil, vr.ToError()
	}

	rec, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"run %q already finished with status %s", runID, rec.Status)
	}
	if rec.WorkflowID != def.ID {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"run %q belongs to workflow %q, not %q", runID, rec.WorkflowID, def.ID)
	}

	var input any
	if len(rec.Input) > 0 {
		if err := json.Unmarshal(rec.Input, &input); err != nil {
			return nil, schema.NewError(schema.ErrCodeState, "decode run input").WithCause(err)
		}
	}

	bag := map[string]any{}
	if cp, err := e.store.LatestCheckpoint(ctx, runID); err == nil {
		if bag, err = e.serializer.Deserialize(cp.Payload); err != nil {
			return nil, err
		}
	} else {
		var bfe *schema.BlockflowError
		if !errors.As(err, &bfe) || bfe.Code != schema.ErrCodeNotFound {
			return nil, err
		}
		// No checkpoint yet; the run restarts from the beginning.
	}

	resumeAt := rec.CurrentBlock
	if resumeAt == "" {
		resumeAt = def.StartBlock
	}
	if _, ok := def.Blocks[resumeAt]; !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDanglingTransition,
			"run %q is positioned at unknown block %q", runID, resumeAt)
	}

	ec := execution.Restored(def.ID, def.Name, runID, rec.CreatedAt, input, def.Variables, bag, resumeAt)
	return e.run(ctx, def, ec, resumeAt, rec), nil
}

// Cancel requests cancellation of an active run. Returns NOT_FOUND when the
// run is not executing in this process.
func (e *Engine) Cancel(runID string) error {
	e.mu.Lock()
	h, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %q is not active", runID)
	}
	h.cancel()
	return nil
}

// ActiveRuns returns the number of runs executing in this process.
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// createRun persists the initial run record.
func (e *Engine) createRun(ctx context.Context, def *schema.WorkflowDefinition, ec *execution.Context, input any) error {
	var encoded []byte
	if input != nil {
		b, err := json.Marshal(input)
		if err != nil {
			return schema.NewError(schema.ErrCodeSerialization, "encode run input").WithCause(err)
		}
		encoded = b
	}

	rec := &state.RunRecord{
		RunID:        ec.RunID(),
		WorkflowID:   def.ID,
		WorkflowName: def.Name,
		Status:       schema.RunStatusReady,
		CurrentBlock: def.StartBlock,
		Input:        encoded,
		CreatedAt:    ec.StartedAt(),
	}
	if err := e.store.SaveRun(ctx, rec); err != nil {
		return schema.NewError(schema.ErrCodeState, "persist run record").WithCause(err)
	}
	return nil
}

// run walks the block graph to a terminal status. It owns the run registry
// entry and the final record update.
func (e *Engine) run(ctx context.Context, def *schema.WorkflowDefinition, ec *execution.Context, startAt string, rec *state.RunRecord) *RunResult {
	runID := ec.RunID()

	// Correlation ids ride the context so every log line downstream names
	// its workflow and run.
	ctx = logging.WithWorkflowID(ctx, def.ID)
	ctx = logging.WithRunID(ctx, runID)

	timeout := def.Config.Timeout.D()
	if rec != nil {
		// A resumed run keeps its original deadline.
		if elapsed := time.Since(ec.StartedAt()); elapsed < timeout {
			timeout -= elapsed
		} else {
			timeout = time.Nanosecond
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	initial := schema.RunStatusReady
	if rec != nil {
		initial = rec.Status
	}
	e.mu.Lock()
	e.runs[runID] = &runHandle{cancel: cancel, status: initial}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.runs, runID)
		e.mu.Unlock()
	}()

	e.updateRun(ctx, def, ec, schema.RunStatusRunning, startAt, nil)
	notify(func() { e.monitor.RunStarted(runID, def.ID) })

	result := e.loop(runCtx, def, ec, startAt)

	result.RunID = runID
	result.WorkflowID = def.ID
	result.StartedAt = ec.StartedAt()
	result.CompletedAt = time.Now().UTC()
	result.State = ec.Snapshot()

	// The final record write must survive run cancellation.
	e.updateRun(context.WithoutCancel(ctx), def, ec, result.Status, result.FinalBlock, result.Err)
	notify(func() {
		e.monitor.RunFinished(runID, result.Status, result.CompletedAt.Sub(result.StartedAt))
	})
	return result
}

// loop is the block state machine.
func (e *Engine) loop(ctx context.Context, def *schema.WorkflowDefinition, ec *execution.Context, startAt string) *RunResult {
	result := &RunResult{Status: schema.RunStatusRunning}
	retries := make(map[string]int)
	current := startAt

	for current != "" {
		if err := ctx.Err(); err != nil {
			return e.interrupted(result, current, err)
		}

		blockDef, ok := def.Blocks[current]
		if !ok {
			result.Status = schema.RunStatusFailed
			result.FinalBlock = current
			result.Err = schema.NewErrorf(schema.ErrCodeDanglingTransition,
				"transition targets unknown block %q", current)
			return result
		}
		if blockDef.Name == "" {
			blockDef.Name = current
		}
		ec.SetCurrentBlock(current)
		bctx := logging.WithBlock(ctx, current)
		attempt := retries[current]

		// Pre-execution guards.
		if attempt == 0 || def.Config.GuardsOnRetry() {
			summary := e.guards.Evaluate(bctx, def, current, schema.PhasePre, ec, nil)
			if summary.ShouldBlockExecution() {
				next, done := e.routeGuardFailure(bctx, result, def, blockDef, schema.PhasePre, summary, ec)
				if done {
					return result
				}
				current = next
				continue
			}
		}

		notify(func() { e.monitor.BlockStarted(ec.RunID(), current, attempt) })
		res := e.executeBlock(bctx, blockDef, ec)
		notify(func() {
			e.monitor.BlockFinished(ec.RunID(), current, res.Status, res.Metadata.Duration())
		})
		result.Steps = append(result.Steps, StepOutcome{
			Block:   current,
			Attempt: attempt,
			Status:  res.Status,
			Elapsed: res.Metadata.Duration(),
			Logs:    res.Metadata.Logs,
		})

		switch res.Status {
		case schema.StatusWait:
			// Checkpoint before suspending so a crash resumes here.
			if err := e.checkpoint(bctx, ec, current); err != nil {
				return e.stateFailure(result, current, err)
			}
			if err := WaitForBackoff(ctx, res.WaitDuration()); err != nil {
				return e.interrupted(result, current, err)
			}
			// Re-enter the same block; a wait is not a retry.
			continue

		case schema.StatusFailure:
			if retries[current] < def.Config.Retry.MaxRetries {
				retries[current]++
				delay := ComputeBackoff(def.Config.Retry, retries[current]-1)
				e.logger.DebugContext(bctx, "retrying block",
					slog.Int("attempt", retries[current]),
					slog.Duration("backoff", delay),
				)
				if err := WaitForBackoff(ctx, delay); err != nil {
					return e.interrupted(result, current, err)
				}
				continue
			}

			// A dynamic override from the block wins over the static edge,
			// same as on the success path.
			next := res.NextBlock
			if next == "" {
				next = blockDef.NextOnFailure
			}
			if next != "" {
				if err := e.checkpointIfConfigured(bctx, def, ec, current); err != nil {
					return e.stateFailure(result, current, err)
				}
				e.advanceRun(bctx, def, ec, next)
				current = next
				continue
			}

			result.Status = schema.RunStatusFailed
			result.FinalBlock = current
			result.Err = e.failureError(blockDef, res, def.Config.Retry.MaxRetries)
			return result

		case schema.StatusSuccess, schema.StatusSkip:
			// Post-execution guards run only on real executions.
			if res.Status == schema.StatusSuccess {
				summary := e.guards.Evaluate(bctx, def, current, schema.PhasePost, ec, res)
				if summary.ShouldBlockExecution() {
					next, done := e.routeGuardFailure(bctx, result, def, blockDef, schema.PhasePost, summary, ec)
					if done {
						return result
					}
					current = next
					continue
				}
			}

			next := res.NextBlock
			if next == "" {
				next = blockDef.NextOnSuccess
			}

			if next == "" {
				// Terminal block: always checkpoint the final state.
				if err := e.checkpoint(bctx, ec, current); err != nil {
					return e.stateFailure(result, current, err)
				}
				result.Status = schema.RunStatusCompleted
				result.FinalBlock = current
				return result
			}

			if err := e.checkpointIfConfigured(bctx, def, ec, current); err != nil {
				return e.stateFailure(result, current, err)
			}
			e.advanceRun(bctx, def, ec, next)
			current = next

		default:
			result.Status = schema.RunStatusFailed
			result.FinalBlock = current
			result.Err = schema.NewErrorf(schema.ErrCodeExecution,
				"block %q returned unknown status %q", current, res.Status)
			return result
		}
	}

	// Unreachable: an empty start block is rejected by validation.
	result.Status = schema.RunStatusCompleted
	return result
}

// executeBlock resolves and runs one block through the shared pool, turning
// panics and pool rejection into failure results.
func (e *Engine) executeBlock(ctx context.Context, blockDef schema.BlockDefinition, ec *execution.Context) *schema.ExecutionResult {
	blk, err := e.blocks.Get(blockDef.Type)
	if err != nil {
		return schema.FailureResult(err)
	}

	started := time.Now().UTC()
	resCh := make(chan *schema.ExecutionResult, 1)

	submitErr := e.pool.Submit(ctx, func(ctx context.Context) error {
		defer func() {
			if r := recover(); r != nil {
				resCh <- schema.FailureResult(schema.NewErrorf(schema.ErrCodeBlockFailed,
					"block %q panicked: %v", blockDef.Name, r).WithBlock(blockDef.Name))
			}
		}()
		res := blk.Execute(ctx, blockDef, ec)
		if res == nil {
			res = schema.FailureResult(schema.NewErrorf(schema.ErrCodeBlockFailed,
				"block %q returned no result", blockDef.Name).WithBlock(blockDef.Name))
		}
		resCh <- res
		return res.Err
	})
	if submitErr != nil {
		return schema.FailureResult(schema.NewErrorf(schema.ErrCodeExecution,
			"dispatch block %q: %s", blockDef.Name, submitErr.Error()).WithCause(submitErr))
	}

	select {
	case res := <-resCh:
		return res.WithTiming(started, time.Now().UTC())
	case <-ctx.Done():
		// The block keeps running until it honors ctx; the run moves on.
		return schema.FailureResult(ctx.Err()).WithTiming(started, time.Now().UTC())
	}
}

// routeGuardFailure decides where a blocking guard failure sends the run:
// the failing guard's failure block, the block's failure transition, or a
// failed terminal status. done is true when the run terminates.
func (e *Engine) routeGuardFailure(ctx context.Context, result *RunResult, def *schema.WorkflowDefinition, blockDef schema.BlockDefinition, phase schema.GuardPhase, summary *schema.GuardSummary, ec *execution.Context) (string, bool) {
	notify(func() {
		e.monitor.GuardsBlocked(ec.RunID(), blockDef.Name, phase, summary)
	})

	next := ""
	if summary.MostSevereFailure != nil && summary.MostSevereFailure.FailureBlock != "" {
		next = summary.MostSevereFailure.FailureBlock
	} else if blockDef.NextOnFailure != "" {
		next = blockDef.NextOnFailure
	}
	if next != "" {
		e.advanceRun(context.WithoutCancel(ctx), def, ec, next)
		return next, false
	}

	msg := "guard rejected execution"
	if summary.MostSevereFailure != nil && summary.MostSevereFailure.Message != "" {
		msg = summary.MostSevereFailure.Message
	}
	result.Status = schema.RunStatusFailed
	result.FinalBlock = blockDef.Name
	result.Err = schema.NewErrorf(schema.ErrCodeGuardRejected, "%s guard failed at block %q: %s",
		phase, blockDef.Name, msg).WithBlock(blockDef.Name)
	return "", true
}

func (e *Engine) failureError(blockDef schema.BlockDefinition, res *schema.ExecutionResult, maxRetries int) error {
	cause := res.Err
	if maxRetries > 0 {
		return schema.NewErrorf(schema.ErrCodeRetryExhausted,
			"block %q failed after %d retries", blockDef.Name, maxRetries).
			WithBlock(blockDef.Name).WithCause(cause)
	}
	err := schema.NewErrorf(schema.ErrCodeBlockFailed, "block %q failed", blockDef.Name).
		WithBlock(blockDef.Name)
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}

// interrupted maps a context error to the matching terminal status.
func (e *Engine) interrupted(result *RunResult, block string, err error) *RunResult {
	result.FinalBlock = block
	if errors.Is(err, context.DeadlineExceeded) {
		result.Status = schema.RunStatusTimedOut
		result.Err = schema.NewError(schema.ErrCodeTimeout, "run exceeded its timeout").WithCause(err)
	} else {
		result.Status = schema.RunStatusCancelled
		result.Err = schema.NewError(schema.ErrCodeCancelled, "run was cancelled").WithCause(err)
	}
	return result
}

// stateFailure terminates the run when a checkpoint cannot be written. A
// run whose state cannot be persisted must not pretend to make progress.
func (e *Engine) stateFailure(result *RunResult, block string, err error) *RunResult {
	result.Status = schema.RunStatusFailed
	result.FinalBlock = block
	result.Err = schema.NewError(schema.ErrCodeState, "persist checkpoint").WithCause(err)
	return result
}

// checkpoint serializes the state bag and appends a checkpoint record.
func (e *Engine) checkpoint(ctx context.Context, ec *execution.Context, block string) error {
	payload, err := e.serializer.Serialize(ec.Snapshot())
	if err != nil {
		return err
	}
	// Persist even when the run context is already done; losing the
	// checkpoint on cancellation would defeat resumption.
	err = e.store.SaveCheckpoint(context.WithoutCancel(ctx), &state.Checkpoint{
		RunID:   ec.RunID(),
		Block:   block,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	ec.MarkClean()
	return nil
}

// checkpointIfConfigured persists between blocks when the definition asks
// for per-block persistence, and always when the state bag changed since
// the last checkpoint. Progress that mutated state must survive a crash.
func (e *Engine) checkpointIfConfigured(ctx context.Context, def *schema.WorkflowDefinition, ec *execution.Context, block string) error {
	if !def.Config.PersistStateAfterEachBlock && !ec.Dirty() {
		return nil
	}
	return e.checkpoint(ctx, ec, block)
}

// advanceRun records the new position; best-effort, the checkpoint is the
// durable artifact.
func (e *Engine) advanceRun(ctx context.Context, def *schema.WorkflowDefinition, ec *execution.Context, next string) {
	e.updateRun(ctx, def, ec, schema.RunStatusRunning, next, nil)
}

func (e *Engine) updateRun(ctx context.Context, def *schema.WorkflowDefinition, ec *execution.Context, status schema.RunStatus, block string, runErr error) {
	// Status changes go through the run FSM; an illegal transition is a
	// bug upstream and must not reach the record.
	e.mu.Lock()
	if h, ok := e.runs[ec.RunID()]; ok && h.status != status {
		next, err := Transition(ec.RunID(), h.status, status)
		if err != nil {
			e.mu.Unlock()
			e.logger.ErrorContext(ctx, "run transition rejected",
				slog.String("error", err.Error()))
			return
		}
		h.status = next
	}
	e.mu.Unlock()

	rec := &state.RunRecord{
		RunID:        ec.RunID(),
		WorkflowID:   def.ID,
		WorkflowName: def.Name,
		Status:       status,
		CurrentBlock: block,
		CreatedAt:    ec.StartedAt(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if status.Terminal() {
		now := time.Now().UTC()
		rec.CompletedAt = &now
	}
	if err := e.store.SaveRun(ctx, rec); err != nil {
		e.logger.ErrorContext(ctx, "persist run record",
			slog.String("error", err.Error()),
		)
	}
}
