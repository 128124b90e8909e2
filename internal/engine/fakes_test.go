package engine

import (
	"context"
	"sync"
	"time"

	"github.com/tasklock/engine/internal/domain"
)

// memStore implements domain.TaskStore with an in-memory map and a mutex
// standing in for the database's row-level write atomicity.
type memStore struct {
	mu    sync.Mutex
	tasks map[int64]*domain.Task
}

func newMemStore(tasks ...*domain.Task) *memStore {
	s := &memStore{tasks: make(map[int64]*domain.Task)}
	for _, t := range tasks {
		s.tasks[t.ID] = copyTask(t)
	}
	return s
}

func (s *memStore) GetByID(ctx context.Context, id int64, includeTrashed bool) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || (!includeTrashed && t.Trashed()) {
		return nil, domain.ErrTaskNotFound
	}
	return copyTask(t), nil
}

func (s *memStore) GetByIDs(ctx context.Context, ids []int64, includeTrashed bool) (map[int64]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]*domain.Task, len(ids))
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok && (includeTrashed || !t.Trashed()) {
			out[id] = copyTask(t)
		}
	}
	return out, nil
}

func (s *memStore) ConditionalUpdate(ctx context.Context, id, expectedVersion int64, fields map[string]any, includeTrashed bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || (!includeTrashed && t.Trashed()) || t.Version != expectedVersion {
		return 0, nil
	}
	for name, v := range fields {
		switch name {
		case "title":
			t.Title = v.(string)
		case "description":
			t.Description = v.(string)
		case "status":
			t.Status = domain.TaskStatus(v.(string))
		case "priority":
			t.Priority = domain.TaskPriority(v.(string))
		case "due_date":
			if v == nil {
				t.DueDate = nil
			} else {
				d := v.(time.Time)
				t.DueDate = &d
			}
		case "assignee_id":
			if v == nil {
				t.AssigneeID = nil
			} else {
				a := v.(int64)
				t.AssigneeID = &a
			}
		case "metadata":
			t.Metadata = v.(map[string]any)
		case "deleted_at":
			if v == nil {
				t.DeletedAt = nil
			} else {
				d := v.(time.Time)
				t.DeletedAt = &d
			}
		}
	}
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	return 1, nil
}

func (s *memStore) WithinTx(ctx context.Context, fn func(tx domain.TaskStore) error) error {
	return fn(s)
}

// stored returns the live stored task for assertions.
func (s *memStore) stored(id int64) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTask(s.tasks[id])
}

func copyTask(t *domain.Task) *domain.Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.AssigneeID != nil {
		a := *t.AssigneeID
		c.AssigneeID = &a
	}
	if t.DeletedAt != nil {
		d := *t.DeletedAt
		c.DeletedAt = &d
	}
	if t.Metadata != nil {
		m := make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			m[k] = v
		}
		c.Metadata = m
	}
	return &c
}

// memAudit records audit writes; failErr makes every write fail.
type memAudit struct {
	mu      sync.Mutex
	logs    []*domain.TaskLog
	failErr error
}

func (a *memAudit) WriteLog(ctx context.Context, log *domain.TaskLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return a.failErr
	}
	a.logs = append(a.logs, log)
	return nil
}

func (a *memAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.logs)
}

func (a *memAudit) last() *domain.TaskLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.logs) == 0 {
		return nil
	}
	return a.logs[len(a.logs)-1]
}

// stubAuthz denies listed task ids and allows everything else.
type stubAuthz struct {
	denied map[int64]bool
}

func (s *stubAuthz) CanMutate(actor *domain.Actor, action domain.ActionKind, task *domain.Task) bool {
	return !s.denied[task.ID]
}

// recordingInvalidator captures the cache invalidation signal.
type recordingInvalidator struct {
	mu    sync.Mutex
	calls int
	ids   []int64
}

func (r *recordingInvalidator) InvalidateAssigneeAggregates(ctx context.Context, assigneeIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.ids = append(r.ids, assigneeIDs...)
	return nil
}
