package domain

import (
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 2000
	maxMetadataDepth     = 3
)

type Task struct {
	ID          int64
	Title       string
	Description string
	Status      TaskStatus
	Priority    TaskPriority
	DueDate     *time.Time
	CreatorID   int64
	AssigneeID  *int64
	Metadata    map[string]any
	Version     int64
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Trashed reports whether the task is soft-deleted.
func (t *Task) Trashed() bool {
	return t.DeletedAt != nil
}

// Next returns the following status in the fixed toggle cycle
// pending -> in_progress -> completed -> pending.
func (s TaskStatus) Next() TaskStatus {
	switch s {
	case StatusPending:
		return StatusInProgress
	case StatusInProgress:
		return StatusCompleted
	default:
		return StatusPending
	}
}

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Snapshot returns the task's audit-relevant fields as a flat map, used for
// the old/new value snapshots on TaskLog rows.
func (t *Task) Snapshot() map[string]any {
	snap := map[string]any{
		"title":       t.Title,
		"description": t.Description,
		"status":      string(t.Status),
		"priority":    string(t.Priority),
		"version":     t.Version,
	}
	if t.DueDate != nil {
		snap["due_date"] = t.DueDate.UTC().Format(time.RFC3339)
	}
	if t.AssigneeID != nil {
		snap["assignee_id"] = *t.AssigneeID
	}
	if t.DeletedAt != nil {
		snap["deleted_at"] = t.DeletedAt.UTC().Format(time.RFC3339)
	}
	if len(t.Metadata) > 0 {
		snap["metadata"] = t.Metadata
	}
	return snap
}

// TaskPatch carries a partial update. Nil pointer fields are left untouched
// on the target task; only supplied fields participate in the diff.
type TaskPatch struct {
	Title        *string
	Description  *string
	Status       *TaskStatus
	Priority     *TaskPriority
	DueDate      *time.Time
	ClearDueDate bool
	AssigneeID   *int64
	Metadata     map[string]any
}

// Validate checks the supplied fields only.
func (p *TaskPatch) Validate() error {
	if p.Title != nil {
		if *p.Title == "" {
			return ErrEmptyTitle
		}
		if len(*p.Title) > maxTitleLength {
			return ErrTitleTooLong
		}
	}
	if p.Description != nil && len(*p.Description) > maxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if p.Status != nil && !p.Status.Valid() {
		return ErrInvalidStatus
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return ErrInvalidPriority
	}
	if p.Metadata != nil {
		if err := validateMetadataDepth(p.Metadata, 1); err != nil {
			return err
		}
	}
	return nil
}

// Empty reports whether the patch supplies no fields at all.
func (p *TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.DueDate == nil && !p.ClearDueDate &&
		p.AssigneeID == nil && p.Metadata == nil
}

func validateMetadataDepth(m map[string]any, depth int) error {
	if depth > maxMetadataDepth {
		return ErrMetadataTooDeep
	}
	for _, v := range m {
		if nested, ok := v.(map[string]any); ok {
			if err := validateMetadataDepth(nested, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
