// Package auditsink persists an append-only log of terminal TaskPoll
// results to Postgres. It is explicitly not a task-state store: the
// kernel core never reads it back to resume a task, and it holds no live
// TaskState. It exists purely so an operator can ask "what happened to
// task N" after the Task Store's in-memory record has been released.
package auditsink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ipwis/kernel/internal/abi"
	"github.com/ipwis/kernel/internal/domain"
)

// Record is a single terminal task outcome.
type Record struct {
	ID             string
	TaskID         abi.TaskId
	Tenant         string
	ProtectionMode abi.ProtectionMode
	Outcome        string // "ready" or "trap"
	OutputSize     int
	ErrorMessage   string
	CreatedAt      time.Time
}

// NewRecord builds a Record from a task's terminal TaskPoll, per C9's
// "ready" and "trap" outcomes of spec.md §4.
func NewRecord(id string, taskID abi.TaskId, tenant string, mode abi.ProtectionMode, poll domain.TaskPoll) Record {
	r := Record{
		ID:             id,
		TaskID:         taskID,
		Tenant:         tenant,
		ProtectionMode: mode,
		CreatedAt:      time.Now(),
	}
	switch poll.Kind {
	case domain.PollReady:
		r.Outcome = "ready"
		r.OutputSize = len(poll.Output)
	case domain.PollTrap:
		r.Outcome = "trap"
		r.ErrorMessage = poll.Text
	}
	return r
}

// Store is the Postgres-backed audit sink, mirroring the teacher's
// PostgresStore construction (pool, Ping, ensureSchema).
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pgxpool against dsn, verifies connectivity, and ensures the
// audit log table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("audit sink DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create audit sink pool: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping audit sink: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_audit_log (
			id TEXT PRIMARY KEY,
			task_id BIGINT NOT NULL,
			tenant TEXT NOT NULL,
			protection_mode SMALLINT NOT NULL,
			outcome TEXT NOT NULL,
			output_size INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_audit_log_tenant ON task_audit_log(tenant)`,
		`CREATE INDEX IF NOT EXISTS idx_task_audit_log_created_at ON task_audit_log(created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure audit log schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Save persists a single audit record.
func (s *Store) Save(ctx context.Context, r Record) error {
	return s.SaveBatch(ctx, []Record{r})
}

// SaveBatch persists a batch of audit records in one round trip using
// pgx's CopyFrom, matching the bulk-insert guidance the teacher's
// logsink.LogSink interface documents for SaveBatch implementations.
func (s *Store) SaveBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(records))
	for i, r := range records {
		rows[i] = []interface{}{r.ID, int64(r.TaskID), r.Tenant, int16(r.ProtectionMode), r.Outcome, r.OutputSize, nullableString(r.ErrorMessage), r.CreatedAt}
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"task_audit_log"},
		[]string{"id", "task_id", "tenant", "protection_mode", "outcome", "output_size", "error_message", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("save task audit batch: %w", err)
	}
	return nil
}

// ListByTenant returns a tenant's most recent audit records.
func (s *Store) ListByTenant(ctx context.Context, tenant string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, tenant, protection_mode, outcome, output_size, error_message, created_at
		FROM task_audit_log
		WHERE tenant = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("list task audit log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var taskID int64
		var mode int16
		var errMsg *string
		if err := rows.Scan(&r.ID, &taskID, &r.Tenant, &mode, &r.Outcome, &r.OutputSize, &errMsg, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task audit log row: %w", err)
		}
		r.TaskID = abi.TaskId(taskID)
		r.ProtectionMode = abi.ProtectionMode(mode)
		if errMsg != nil {
			r.ErrorMessage = *errMsg
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list task audit log rows: %w", err)
	}
	return out, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
