package domain

import (
	"time"

	"github.com/google/uuid"
)

// OpType enumerates the audited mutation kinds.
type OpType string

const (
	OpCreate       OpType = "create"
	OpUpdate       OpType = "update"
	OpDelete       OpType = "delete"
	OpRestore      OpType = "restore"
	OpToggleStatus OpType = "toggle_status"
)

// FieldChange records one field's before and after value.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// TaskLog is an immutable audit record of one mutation. Rows are created once
// and never updated or deleted by this engine.
type TaskLog struct {
	ID          uuid.UUID
	TaskID      int64
	ActorID     *int64
	Operation   OpType
	Changes     map[string]FieldChange
	OldValues   map[string]any
	NewValues   map[string]any
	PerformedAt time.Time
}

// NewTaskLog builds an audit record for a committed mutation. actor may be
// nil; system actions are recorded with a null actor reference.
func NewTaskLog(taskID int64, actor *Actor, op OpType, changes map[string]FieldChange, oldValues, newValues map[string]any) *TaskLog {
	log := &TaskLog{
		ID:          uuid.New(),
		TaskID:      taskID,
		Operation:   op,
		Changes:     changes,
		OldValues:   oldValues,
		NewValues:   newValues,
		PerformedAt: time.Now().UTC(),
	}
	if actor != nil {
		id := actor.UserID
		log.ActorID = &id
	}
	return log
}
