package domain

import (
	"errors"
	"fmt"
)

var (
	// Validation errors
	ErrEmptyTitle           = errors.New("title cannot be empty")
	ErrTitleTooLong         = errors.New("title exceeds 200 characters")
	ErrDescriptionTooLong   = errors.New("description exceeds 2000 characters")
	ErrInvalidStatus        = errors.New("invalid status value")
	ErrInvalidPriority      = errors.New("invalid priority value")
	ErrMetadataTooDeep      = errors.New("metadata nesting exceeds maximum depth")
	ErrInvalidAction        = errors.New("invalid bulk action")
	ErrEmptyTaskList        = errors.New("task ID list cannot be empty")
	ErrDuplicateTaskID      = errors.New("task ID list contains duplicates")
	ErrInvalidTaskID        = errors.New("task IDs must be positive integers")
	ErrTooManyTasks         = errors.New("task ID list exceeds the per-request maximum")
	ErrBulkLimitExceeded    = errors.New("task ID list exceeds the absolute operation ceiling")
	ErrMissingTargetStatus  = errors.New("update_status requires a target status")
	ErrVersionCountMismatch = errors.New("versions list length does not match task ID list length")

	// Business logic errors
	ErrTaskNotFound   = errors.New("task not found")
	ErrNotDeleted     = errors.New("task is not deleted")
	ErrAlreadyDeleted = errors.New("task is already deleted")
)

// ConflictError reports that a conditional write affected zero rows because
// the stored version no longer matched the expected one. It is an expected,
// recoverable outcome; callers re-fetch and retry explicitly if desired.
type ConflictError struct {
	TaskID   int64
	Op       string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("Task %d: Version conflict during %s. Expected version %d, but found %d.",
		e.TaskID, e.Op, e.Expected, e.Actual)
}

// IsConflict reports whether err is a version conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
