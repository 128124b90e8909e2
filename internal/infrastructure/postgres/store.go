package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/tasklock/engine/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const queryTimeout = 5 * time.Second

const taskColumns = `id, title, description, status, priority, due_date, creator_id, assignee_id, metadata, version, deleted_at, created_at, updated_at`

// Columns the conditional update may set. Field names outside this set are a
// programming error, not caller input.
var writableColumns = map[string]bool{
	"title":       true,
	"description": true,
	"status":      true,
	"priority":    true,
	"due_date":    true,
	"assignee_id": true,
	"metadata":    true,
	"deleted_at":  true,
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Postgres-backed Version Store and audit log writer. The
// version-matched conditional update is the engine's atomic boundary; no
// in-process lock is ever taken.
type Store struct {
	db     *sql.DB
	q      querier
	tracer trace.Tracer
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		q:      db,
		tracer: otel.Tracer("postgres-store"),
	}
}

// WithinTx runs fn against a transaction-scoped store. Calls on an already
// transaction-scoped store join the existing transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.TaskStore) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx, tracer: s.tracer}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ConditionalUpdate performs the atomic compare-and-swap write:
// UPDATE .. SET fields, version = version + 1 WHERE id AND version match.
// Zero affected rows means the id is gone or the version moved on; both are
// the same conflict outcome and neither is an error here.
func (s *Store) ConditionalUpdate(ctx context.Context, id, expectedVersion int64, fields map[string]any, includeTrashed bool) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "store.ConditionalUpdate")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("task.id", id),
		attribute.Int64("task.expected_version", expectedVersion),
	)

	assignments := []string{"version = version + 1", "updated_at = NOW()"}
	args := make([]any, 0, len(fields)+2)

	// Deterministic column order keeps statements cacheable.
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !writableColumns[name] {
			return 0, fmt.Errorf("column %q is not writable", name)
		}
		value := fields[name]
		if name == "metadata" && value != nil {
			encoded, err := json.Marshal(value)
			if err != nil {
				return 0, fmt.Errorf("failed to encode metadata: %w", err)
			}
			value = encoded
		}
		args = append(args, value)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", name, len(args)))
	}

	args = append(args, id)
	idArg := len(args)
	args = append(args, expectedVersion)
	versionArg := len(args)

	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE id = $%d AND version = $%d`,
		strings.Join(assignments, ", "), idArg, versionArg)
	if !includeTrashed {
		query += " AND deleted_at IS NULL"
	}

	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		span.SetAttributes(attribute.Bool("version_mismatch", true))
	}
	return rows, nil
}

func (s *Store) GetByID(ctx context.Context, id int64, includeTrashed bool) (*domain.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "store.GetByID")
	defer span.End()
	span.SetAttributes(attribute.Int64("task.id", id))

	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)
	if !includeTrashed {
		query += " AND deleted_at IS NULL"
	}

	task, err := scanTask(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			span.SetAttributes(attribute.Bool("not_found", true))
			return nil, domain.ErrTaskNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// GetByIDs bulk-fetches one chunk's tasks in a single query, keyed by id.
func (s *Store) GetByIDs(ctx context.Context, ids []int64, includeTrashed bool) (map[int64]*domain.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "store.GetByIDs")
	defer span.End()
	span.SetAttributes(attribute.Int("task.count", len(ids)))

	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = ANY($1)`, taskColumns)
	if !includeTrashed {
		query += " AND deleted_at IS NULL"
	}
	query += " ORDER BY id ASC"

	rows, err := s.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to fetch tasks: %w", err)
	}
	defer rows.Close()

	tasks := make(map[int64]*domain.Task, len(ids))
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks[task.ID] = task
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// WriteLog appends one immutable audit record. Runs on the pool, after the
// mutation's transaction has committed.
func (s *Store) WriteLog(ctx context.Context, log *domain.TaskLog) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "store.WriteLog")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("task.id", log.TaskID),
		attribute.String("operation", string(log.Operation)),
	)

	changes, err := json.Marshal(log.Changes)
	if err != nil {
		return fmt.Errorf("failed to encode changes: %w", err)
	}
	oldValues, err := json.Marshal(log.OldValues)
	if err != nil {
		return fmt.Errorf("failed to encode old values: %w", err)
	}
	newValues, err := json.Marshal(log.NewValues)
	if err != nil {
		return fmt.Errorf("failed to encode new values: %w", err)
	}

	query := `
		INSERT INTO task_logs (id, task_id, user_id, operation, changes, old_values, new_values, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		log.ID,
		log.TaskID,
		log.ActorID,
		string(log.Operation),
		changes,
		oldValues,
		newValues,
		log.PerformedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert task log: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	task := &domain.Task{}
	var status, priority string
	var metadata []byte

	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&status,
		&priority,
		&task.DueDate,
		&task.CreatorID,
		&task.AssigneeID,
		&metadata,
		&task.Version,
		&task.DeletedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	task.Priority = domain.TaskPriority(priority)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &task.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return task, nil
}
