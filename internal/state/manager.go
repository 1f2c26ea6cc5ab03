package state

import (
	"context"
	"time"

	"github.com/rendis/blockflow/pkg/schema"
)

// Checkpoint is one persisted snapshot of a run: the serialized state bag
// plus enough metadata to resume from it. Sequence is assigned by the
// backend, monotonically per run.
type Checkpoint struct {
	RunID     string
	Block     string
	Sequence  int64
	Payload   []byte
	SizeBytes int
	CreatedAt time.Time
}

// RunRecord is the durable identity of a run.
type RunRecord struct {
	RunID        string
	WorkflowID   string
	WorkflowName string
	Status       schema.RunStatus
	CurrentBlock string
	Input        []byte
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	WorkflowID string
	Status     *schema.RunStatus
	Since      *time.Time
	Limit      int
	Offset     int
}

// CleanupFilter narrows Cleanup beyond the age window. Zero value means
// every terminal run old enough is eligible.
type CleanupFilter struct {
	WorkflowID string
	Status     *schema.RunStatus
}

// Statistics summarizes what a backend currently holds.
type Statistics struct {
	Runs        int64            `json:"runs"`
	Checkpoints int64            `json:"checkpoints"`
	StateBytes  int64            `json:"state_bytes"`
	ByStatus    map[string]int64 `json:"by_status"`
}

// Manager is the persistence boundary for runs and checkpoints. Backends
// must be safe for concurrent use; the engine checkpoints from multiple
// runs at once.
type Manager interface {
	// SaveRun creates or updates the run record.
	SaveRun(ctx context.Context, rec *RunRecord) error
	// GetRun returns the run record or a NOT_FOUND error.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	// Exists reports whether a run record is stored, without loading it.
	Exists(ctx context.Context, runID string) (bool, error)
	// ListRuns returns run records matching the filter, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)
	// SaveCheckpoint appends a checkpoint for a run and assigns its
	// sequence number.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	// LatestCheckpoint returns the newest checkpoint for a run or a
	// NOT_FOUND error when the run has none.
	LatestCheckpoint(ctx context.Context, runID string) (*Checkpoint, error)
	// History returns all checkpoints for a run in sequence order.
	History(ctx context.Context, runID string) ([]*Checkpoint, error)
	// DeleteRun removes a run and its checkpoints.
	DeleteRun(ctx context.Context, runID string) error
	// Cleanup removes terminal runs older than the retention window,
	// optionally narrowed by workflow and status, and reports how many
	// runs were dropped. Active runs are never removed.
	Cleanup(ctx context.Context, olderThan time.Duration, filter CleanupFilter) (int64, error)
	// Statistics reports storage totals.
	Statistics(ctx context.Context) (*Statistics, error)
	// Close releases backend resources.
	Close() error
}

func notFound(resource, id string) *schema.BlockflowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}
