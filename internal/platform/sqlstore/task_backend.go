package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phrazzld/kit/internal/database"
	"github.com/phrazzld/kit/internal/platform/logger"
	"github.com/phrazzld/kit/internal/store"
	"github.com/phrazzld/kit/internal/task"
)

// TaskBackend stores task records in the kit_tasks table. It always runs on
// the engine, outside of any session, so that records are visible to other
// processes as soon as they are saved.
type TaskBackend struct {
	engine *database.Engine
}

var (
	_ task.Backend = (*TaskBackend)(nil)
	_ task.Purger  = (*TaskBackend)(nil)
)

// NewTaskBackend returns the result backend stored in engine.
func NewTaskBackend(engine *database.Engine) *TaskBackend {
	return &TaskBackend{engine: engine}
}

const taskColumns = `id, name, queue, status, payload, result, error, retries, worker, created_at, updated_at`

// upsertTask returns the insert-or-replace statement of dialect.
func upsertTask(dialect string) string {
	insert := `INSERT INTO kit_tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	updated := []string{"status", "payload", "result", "error", "retries", "worker", "updated_at"}

	sets := make([]string, len(updated))
	if dialect == "mysql" {
		for i, c := range updated {
			sets[i] = c + " = VALUES(" + c + ")"
		}
		return insert + ` ON DUPLICATE KEY UPDATE ` + strings.Join(sets, ", ")
	}
	for i, c := range updated {
		sets[i] = c + " = excluded." + c
	}
	return insert + ` ON CONFLICT (id) DO UPDATE SET ` + strings.Join(sets, ", ")
}

// Save implements task.Backend.
func (b *TaskBackend) Save(ctx context.Context, rec *task.Record) error {
	_, err := b.engine.ExecContext(ctx, upsertTask(b.engine.Dialect().Name()),
		rec.ID, rec.Name, rec.Queue, string(rec.Status),
		string(rec.Payload), string(rec.Result), rec.Error,
		rec.Retries, rec.Worker,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		logger.FromContext(ctx).Error("failed to save task",
			"task_id", rec.ID,
			"task", rec.Name,
			"status", rec.Status,
			"error", err)
		return store.NewStoreError("task", "save", err)
	}
	return nil
}

func scanTask(row rowScanner) (*task.Record, error) {
	var (
		rec             task.Record
		status          string
		payload, result string
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.Queue, &status, &payload, &result,
		&rec.Error, &rec.Retries, &rec.Worker, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = task.Status(status)
	if payload != "" {
		rec.Payload = []byte(payload)
	}
	if result != "" {
		rec.Result = []byte(result)
	}
	return &rec, nil
}

// Get implements task.Backend.
func (b *TaskBackend) Get(ctx context.Context, id string) (*task.Record, error) {
	rec, err := scanTask(b.engine.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM kit_tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("task", "get", err)
	}
	return rec, nil
}

func (b *TaskBackend) query(ctx context.Context, op, query string, args ...any) ([]*task.Record, error) {
	rows, err := b.engine.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromContext(ctx).Error("failed to query tasks", "operation", op, "error", err)
		return nil, store.NewStoreError("task", op, err)
	}
	defer func() { _ = rows.Close() }()

	recs := make([]*task.Record, 0)
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, store.NewStoreError("task", op, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", op, err)
	}
	return recs, nil
}

// List implements task.Backend.
func (b *TaskBackend) List(ctx context.Context, opts task.ListOptions) ([]*task.Record, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Name != "" {
		where = append(where, "name = ?")
		args = append(args, opts.Name)
	}

	query := `SELECT ` + taskColumns + ` FROM kit_tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	return b.query(ctx, "list", query, args...)
}

// ByStatus implements task.Backend.
func (b *TaskBackend) ByStatus(ctx context.Context, status task.Status, olderThan time.Duration) ([]*task.Record, error) {
	if olderThan > 0 {
		return b.query(ctx, "by_status",
			`SELECT `+taskColumns+` FROM kit_tasks WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC`,
			string(status), time.Now().UTC().Add(-olderThan))
	}
	return b.query(ctx, "by_status",
		`SELECT `+taskColumns+` FROM kit_tasks WHERE status = ? ORDER BY updated_at ASC`,
		string(status))
}

// Purge deletes the finished records last updated before before.
func (b *TaskBackend) Purge(ctx context.Context, before time.Time) (int, error) {
	result, err := b.engine.ExecContext(ctx,
		`DELETE FROM kit_tasks WHERE status IN (?, ?) AND updated_at < ?`,
		string(task.StatusSuccess), string(task.StatusFailure), before.UTC())
	if err != nil {
		return 0, store.NewStoreError("task", "purge", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Close is a no-op: the engine belongs to the caller.
func (b *TaskBackend) Close() error { return nil }
