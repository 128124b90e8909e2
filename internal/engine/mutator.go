package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/tasklock/engine/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Mutator applies one versioned mutation to one task and produces its audit
// entry. It is used standalone and as the unit of work inside bulk chunks.
// The conditional write and the post-write reload share one transaction; the
// audit entry is written after commit and is allowed to fail independently.
type Mutator struct {
	store  domain.TaskStore
	audit  domain.AuditWriter
	logger *zap.Logger
	tracer trace.Tracer
}

func NewMutator(store domain.TaskStore, audit domain.AuditWriter, logger *zap.Logger) *Mutator {
	return &Mutator{
		store:  store,
		audit:  audit,
		logger: logger,
		tracer: otel.Tracer("task-mutator"),
	}
}

// mutation is one prepared conditional write plus the audit material that
// describes it.
type mutation struct {
	op             domain.OpType
	name           string // operation name used in conflict diagnostics
	fields         map[string]any
	changes        map[string]domain.FieldChange
	includeTrashed bool // the write may target a trashed row (restore)
	reloadTrashed  bool // the post-write row is trashed (delete)
}

// Update applies a partial field update. Fields absent from the patch are
// left untouched; fields whose new value equals the old one are excluded
// from the audit changes map even when supplied. Returns the authoritative
// post-write snapshot, never a mutation of the caller's handle.
func (m *Mutator) Update(ctx context.Context, actor *domain.Actor, task *domain.Task, expectedVersion int64, patch *domain.TaskPatch) (*domain.Task, error) {
	ctx, span := m.tracer.Start(ctx, "mutator.Update")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("task.id", task.ID),
		attribute.Int64("task.expected_version", expectedVersion),
	)

	mut, err := buildUpdate(task, patch)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, actor, task, expectedVersion, mut)
}

// ToggleStatus advances the task's status along the fixed cycle
// pending -> in_progress -> completed -> pending. When callerVersion is
// supplied it becomes the expected version passed to the conditional write;
// otherwise the loaded task's own version is used.
func (m *Mutator) ToggleStatus(ctx context.Context, actor *domain.Actor, task *domain.Task, callerVersion *int64) (*domain.Task, error) {
	ctx, span := m.tracer.Start(ctx, "mutator.ToggleStatus")
	defer span.End()
	span.SetAttributes(attribute.Int64("task.id", task.ID))

	expected := task.Version
	if callerVersion != nil {
		expected = *callerVersion
	}
	return m.run(ctx, actor, task, expected, buildToggle(task))
}

// Delete soft-deletes the task. Deleting an already-trashed task fails its
// precondition check before any write is attempted.
func (m *Mutator) Delete(ctx context.Context, actor *domain.Actor, task *domain.Task, expectedVersion int64) (*domain.Task, error) {
	ctx, span := m.tracer.Start(ctx, "mutator.Delete")
	defer span.End()
	span.SetAttributes(attribute.Int64("task.id", task.ID))

	mut, err := buildDelete(task)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, actor, task, expectedVersion, mut)
}

// Restore clears the soft-delete marker. Restoring a task that is not
// trashed fails with ErrNotDeleted before any write is attempted.
func (m *Mutator) Restore(ctx context.Context, actor *domain.Actor, task *domain.Task, expectedVersion int64) (*domain.Task, error) {
	ctx, span := m.tracer.Start(ctx, "mutator.Restore")
	defer span.End()
	span.SetAttributes(attribute.Int64("task.id", task.ID))

	mut, err := buildRestore(task)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, actor, task, expectedVersion, mut)
}

// run executes a prepared mutation in its own transaction and emits the
// audit entry after commit.
func (m *Mutator) run(ctx context.Context, actor *domain.Actor, task *domain.Task, expected int64, mut *mutation) (*domain.Task, error) {
	var fresh *domain.Task
	var log *domain.TaskLog

	err := m.store.WithinTx(ctx, func(tx domain.TaskStore) error {
		var applyErr error
		fresh, log, applyErr = m.applyIn(ctx, tx, actor, task, expected, mut)
		return applyErr
	})
	if err != nil {
		if domain.IsConflict(err) {
			mutationsTotal.WithLabelValues(mut.name, outcomeConflict).Inc()
			versionConflictsTotal.WithLabelValues(mut.name).Inc()
		} else {
			mutationsTotal.WithLabelValues(mut.name, outcomeError).Inc()
		}
		return nil, err
	}

	mutationsTotal.WithLabelValues(mut.name, outcomeSuccess).Inc()
	m.writeAudit(ctx, log)
	return fresh, nil
}

// applyIn performs the conditional write and reload against an existing
// transaction scope. It returns the refreshed task and the pending audit
// entry; the caller writes the entry once the transaction has committed. A
// version conflict is reported as *ConflictError and leaves the transaction
// healthy, so sibling tasks in a bulk chunk are unaffected.
func (m *Mutator) applyIn(ctx context.Context, tx domain.TaskStore, actor *domain.Actor, task *domain.Task, expected int64, mut *mutation) (*domain.Task, *domain.TaskLog, error) {
	rows, err := tx.ConditionalUpdate(ctx, task.ID, expected, mut.fields, mut.includeTrashed)
	if err != nil {
		return nil, nil, fmt.Errorf("conditional update: %w", err)
	}
	if rows == 0 {
		return nil, nil, m.resolveMiss(ctx, tx, task.ID, mut, expected)
	}

	fresh, err := tx.GetByID(ctx, task.ID, mut.reloadTrashed)
	if err != nil {
		return nil, nil, fmt.Errorf("reload after write: %w", err)
	}

	log := domain.NewTaskLog(task.ID, actor, mut.op, mut.changes, task.Snapshot(), fresh.Snapshot())
	return fresh, log, nil
}

// resolveMiss distinguishes "row gone" from "version moved on" after a
// zero-row conditional write, re-fetching so the conflict can report the
// current version in diagnostics.
func (m *Mutator) resolveMiss(ctx context.Context, tx domain.TaskStore, taskID int64, mut *mutation, expected int64) error {
	current, err := tx.GetByID(ctx, taskID, true)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			return domain.ErrTaskNotFound
		}
		return fmt.Errorf("conflict re-fetch: %w", err)
	}
	if !mut.includeTrashed && current.Trashed() {
		// The row exists but is outside the write's visibility.
		return domain.ErrTaskNotFound
	}
	return &domain.ConflictError{
		TaskID:   taskID,
		Op:       mut.name,
		Expected: expected,
		Actual:   current.Version,
	}
}

func (m *Mutator) writeAudit(ctx context.Context, log *domain.TaskLog) {
	if err := m.audit.WriteLog(ctx, log); err != nil {
		// The committed mutation is authoritative even when the trail write
		// fails; degraded mode, never rolled back.
		auditWriteFailuresTotal.Inc()
		m.logger.Error("audit log write failed",
			zap.Error(err),
			zap.Int64("task_id", log.TaskID),
			zap.String("operation", string(log.Operation)),
		)
	}
}

func buildUpdate(task *domain.Task, patch *domain.TaskPatch) (*mutation, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	fields := make(map[string]any)
	changes := make(map[string]domain.FieldChange)

	if patch.Title != nil && *patch.Title != task.Title {
		fields["title"] = *patch.Title
		changes["title"] = domain.FieldChange{From: task.Title, To: *patch.Title}
	}
	if patch.Description != nil && *patch.Description != task.Description {
		fields["description"] = *patch.Description
		changes["description"] = domain.FieldChange{From: task.Description, To: *patch.Description}
	}
	if patch.Status != nil && *patch.Status != task.Status {
		fields["status"] = string(*patch.Status)
		changes["status"] = domain.FieldChange{From: string(task.Status), To: string(*patch.Status)}
	}
	if patch.Priority != nil && *patch.Priority != task.Priority {
		fields["priority"] = string(*patch.Priority)
		changes["priority"] = domain.FieldChange{From: string(task.Priority), To: string(*patch.Priority)}
	}
	if patch.ClearDueDate {
		if task.DueDate != nil {
			fields["due_date"] = nil
			changes["due_date"] = domain.FieldChange{From: formatTime(task.DueDate), To: nil}
		}
	} else if patch.DueDate != nil {
		if task.DueDate == nil || !patch.DueDate.Equal(*task.DueDate) {
			fields["due_date"] = patch.DueDate.UTC()
			changes["due_date"] = domain.FieldChange{From: formatTime(task.DueDate), To: formatTime(patch.DueDate)}
		}
	}
	if patch.AssigneeID != nil {
		if task.AssigneeID == nil || *task.AssigneeID != *patch.AssigneeID {
			fields["assignee_id"] = *patch.AssigneeID
			changes["assignee_id"] = domain.FieldChange{From: derefInt64(task.AssigneeID), To: *patch.AssigneeID}
		}
	}
	if patch.Metadata != nil && !reflect.DeepEqual(patch.Metadata, task.Metadata) {
		fields["metadata"] = patch.Metadata
		changes["metadata"] = domain.FieldChange{From: task.Metadata, To: patch.Metadata}
	}

	return &mutation{
		op:      domain.OpUpdate,
		name:    string(domain.OpUpdate),
		fields:  fields,
		changes: changes,
	}, nil
}

func buildToggle(task *domain.Task) *mutation {
	next := task.Status.Next()
	return &mutation{
		op:     domain.OpToggleStatus,
		name:   string(domain.OpToggleStatus),
		fields: map[string]any{"status": string(next)},
		changes: map[string]domain.FieldChange{
			"status": {From: string(task.Status), To: string(next)},
		},
	}
}

func buildSetStatus(task *domain.Task, status domain.TaskStatus) (*mutation, error) {
	if task.Trashed() {
		return nil, domain.ErrTaskNotFound
	}
	fields := make(map[string]any)
	changes := make(map[string]domain.FieldChange)
	if status != task.Status {
		fields["status"] = string(status)
		changes["status"] = domain.FieldChange{From: string(task.Status), To: string(status)}
	}
	return &mutation{
		op:      domain.OpUpdate,
		name:    string(domain.ActionUpdateStatus),
		fields:  fields,
		changes: changes,
	}, nil
}

func buildDelete(task *domain.Task) (*mutation, error) {
	if task.Trashed() {
		return nil, domain.ErrAlreadyDeleted
	}
	now := time.Now().UTC()
	return &mutation{
		op:     domain.OpDelete,
		name:   string(domain.OpDelete),
		fields: map[string]any{"deleted_at": now},
		changes: map[string]domain.FieldChange{
			"deleted_at": {From: nil, To: formatTime(&now)},
		},
		reloadTrashed: true,
	}, nil
}

func buildRestore(task *domain.Task) (*mutation, error) {
	if !task.Trashed() {
		return nil, domain.ErrNotDeleted
	}
	return &mutation{
		op:     domain.OpRestore,
		name:   string(domain.OpRestore),
		fields: map[string]any{"deleted_at": nil},
		changes: map[string]domain.FieldChange{
			"deleted_at": {From: formatTime(task.DeletedAt), To: nil},
		},
		includeTrashed: true,
	}, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func derefInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
