package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/blockflow/pkg/schema"
)

// LibSQLManager is the durable Manager backed by libSQL (embedded SQLite
// fork).
type LibSQLManager struct {
	db *sql.DB
}

// NewLibSQLManager opens a libSQL database at the given path. The path
// should be a file URI, e.g. "file:/path/to/blockflow.db".
func NewLibSQLManager(dbPath string) (*LibSQLManager, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLManager{db: db}, nil
}

// Migrate applies pending schema migrations.
func (m *LibSQLManager) Migrate(ctx context.Context) error {
	return runMigrations(ctx, m.db)
}

// Vacuum reclaims space after large cleanups.
func (m *LibSQLManager) Vacuum(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, "VACUUM")
	return err
}

func (m *LibSQLManager) Close() error { return m.db.Close() }

func (m *LibSQLManager) SaveRun(ctx context.Context, rec *RunRecord) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, workflow_id, workflow_name, status, current_block, input, error, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   status=excluded.status, current_block=excluded.current_block,
		   error=excluded.error, updated_at=CURRENT_TIMESTAMP,
		   completed_at=excluded.completed_at`,
		rec.RunID, rec.WorkflowID, rec.WorkflowName, string(rec.Status),
		nullStr(rec.CurrentBlock), rec.Input, nullStr(rec.Error),
		timeOrNow(rec.CreatedAt), nullTime(rec.CompletedAt),
	)
	return err
}

func (m *LibSQLManager) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	rec, err := scanRun(m.db.QueryRowContext(ctx,
		`SELECT run_id, workflow_id, workflow_name, status, current_block, input, error, created_at, updated_at, completed_at
		 FROM runs WHERE run_id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, notFound("run", runID)
	}
	return rec, err
}

func (m *LibSQLManager) Exists(ctx context.Context, runID string) (bool, error) {
	var n int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM runs WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (m *LibSQLManager) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT run_id, workflow_id, workflow_name, status, current_block, input, error, created_at, updated_at, completed_at FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (m *LibSQLManager) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM checkpoints WHERE run_id = ?`, cp.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	created := timeOrNow(cp.CreatedAt)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (run_id, block, sequence, payload, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cp.RunID, cp.Block, seq, cp.Payload, len(cp.Payload), created,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}

	cp.Sequence = seq
	cp.SizeBytes = len(cp.Payload)
	cp.CreatedAt = created
	return nil
}

func (m *LibSQLManager) LatestCheckpoint(ctx context.Context, runID string) (*Checkpoint, error) {
	cp := &Checkpoint{}
	err := m.db.QueryRowContext(ctx,
		`SELECT run_id, block, sequence, payload, size_bytes, created_at
		 FROM checkpoints WHERE run_id = ? ORDER BY sequence DESC LIMIT 1`, runID,
	).Scan(&cp.RunID, &cp.Block, &cp.Sequence, &cp.Payload, &cp.SizeBytes, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("checkpoint", runID)
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (m *LibSQLManager) History(ctx context.Context, runID string) ([]*Checkpoint, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT run_id, block, sequence, payload, size_bytes, created_at
		 FROM checkpoints WHERE run_id = ? ORDER BY sequence ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cps []*Checkpoint
	for rows.Next() {
		cp := &Checkpoint{}
		if err := rows.Scan(&cp.RunID, &cp.Block, &cp.Sequence, &cp.Payload, &cp.SizeBytes, &cp.CreatedAt); err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

func (m *LibSQLManager) DeleteRun(ctx context.Context, runID string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("run", runID)
	}
	return nil
}

func (m *LibSQLManager) Cleanup(ctx context.Context, olderThan time.Duration, filter CleanupFilter) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	args := []any{
		string(schema.RunStatusCompleted), string(schema.RunStatusFailed),
		string(schema.RunStatusCancelled), string(schema.RunStatusTimedOut),
		cutoff,
	}

	query := `DELETE FROM runs WHERE status IN (?, ?, ?, ?) AND updated_at < ?`
	if filter.WorkflowID != "" {
		query += " AND workflow_id = ?"
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}

	res, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (m *LibSQLManager) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{ByStatus: make(map[string]int64)}

	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&stats.Runs); err != nil {
		return nil, err
	}
	if err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM checkpoints`,
	).Scan(&stats.Checkpoints, &stats.StateBytes); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = n
	}
	return stats, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*RunRecord, error) {
	rec := &RunRecord{}
	var (
		status              string
		currentBlock, errMsg sql.NullString
		completedAt         sql.NullTime
	)
	err := s.Scan(&rec.RunID, &rec.WorkflowID, &rec.WorkflowName, &status,
		&currentBlock, &rec.Input, &errMsg, &rec.CreatedAt, &rec.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = schema.RunStatus(status)
	rec.CurrentBlock = currentBlock.String
	rec.Error = errMsg.String
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return rec, nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
