package domain

import (
	"time"
)

// ActionKind is the wire name of a bulk action.
type ActionKind string

const (
	ActionDelete       ActionKind = "delete"
	ActionRestore      ActionKind = "restore"
	ActionUpdateStatus ActionKind = "update_status"
)

// BulkAction is a closed set of bulk operations. Each variant carries exactly
// the data it needs; the orchestrator dispatches with an exhaustive type
// switch so a new action is a compile-time-checked addition.
type BulkAction interface {
	Kind() ActionKind
	isBulkAction()
}

type DeleteAction struct{}

func (DeleteAction) Kind() ActionKind { return ActionDelete }
func (DeleteAction) isBulkAction()    {}

type RestoreAction struct{}

func (RestoreAction) Kind() ActionKind { return ActionRestore }
func (RestoreAction) isBulkAction()    {}

type UpdateStatusAction struct {
	Status TaskStatus
}

func (UpdateStatusAction) Kind() ActionKind { return ActionUpdateStatus }
func (UpdateStatusAction) isBulkAction()    {}

// ParseBulkAction maps the consumed wire shape (action name plus optional
// target status) onto an action variant.
func ParseBulkAction(action string, status string) (BulkAction, error) {
	switch ActionKind(action) {
	case ActionDelete:
		return DeleteAction{}, nil
	case ActionRestore:
		return RestoreAction{}, nil
	case ActionUpdateStatus:
		if status == "" {
			return nil, ErrMissingTargetStatus
		}
		s := TaskStatus(status)
		if !s.Valid() {
			return nil, ErrInvalidStatus
		}
		return UpdateStatusAction{Status: s}, nil
	default:
		return nil, ErrInvalidAction
	}
}

// VersionSet carries optional per-task expected versions, either positionally
// (aligned with the task ID list, nil entries meaning "no check requested for
// this task") or keyed by task ID. The zero value requests no checking at all.
type VersionSet struct {
	positional []*int64
	byID       map[int64]int64
}

func VersionsByIndex(versions []*int64) VersionSet {
	return VersionSet{positional: versions}
}

func VersionsByID(versions map[int64]int64) VersionSet {
	return VersionSet{byID: versions}
}

func (v VersionSet) Empty() bool {
	return len(v.positional) == 0 && len(v.byID) == 0
}

// PositionalLen returns the length of the positional list, 0 if keyed.
func (v VersionSet) PositionalLen() int {
	return len(v.positional)
}

// Resolve returns the expected version for the task at position pos with the
// given id. A task with no supplied version is checked against fallback (its
// own stored version), which can never conflict.
func (v VersionSet) Resolve(pos int, id int64, fallback int64) int64 {
	if pos < len(v.positional) && v.positional[pos] != nil {
		return *v.positional[pos]
	}
	if ver, ok := v.byID[id]; ok {
		return ver
	}
	return fallback
}

// BulkLimits are the orchestrator's safety knobs, threaded in explicitly by
// the constructor rather than read from ambient configuration.
type BulkLimits struct {
	ChunkSize          int
	MaxOperations      int
	MaxTasksPerRequest int
	MemoryLimitMB      int
}

const (
	DefaultChunkSize          = 100
	DefaultMaxOperations      = 1000
	DefaultMaxTasksPerRequest = 100
	DefaultMemoryLimitMB      = 128
)

func DefaultBulkLimits() BulkLimits {
	return BulkLimits{
		ChunkSize:          DefaultChunkSize,
		MaxOperations:      DefaultMaxOperations,
		MaxTasksPerRequest: DefaultMaxTasksPerRequest,
		MemoryLimitMB:      DefaultMemoryLimitMB,
	}
}

// BulkRequest is the transient input of one bulk call. Not persisted.
type BulkRequest struct {
	Action   BulkAction
	TaskIDs  []int64
	Versions VersionSet
}

// Validate rejects malformed requests before any task is touched.
func (r *BulkRequest) Validate(limits BulkLimits) error {
	if r.Action == nil {
		return ErrInvalidAction
	}
	if len(r.TaskIDs) == 0 {
		return ErrEmptyTaskList
	}
	if limits.MaxTasksPerRequest > 0 && len(r.TaskIDs) > limits.MaxTasksPerRequest {
		return ErrTooManyTasks
	}
	if limits.MaxOperations > 0 && len(r.TaskIDs) > limits.MaxOperations {
		return ErrBulkLimitExceeded
	}
	seen := make(map[int64]struct{}, len(r.TaskIDs))
	for _, id := range r.TaskIDs {
		if id <= 0 {
			return ErrInvalidTaskID
		}
		if _, dup := seen[id]; dup {
			return ErrDuplicateTaskID
		}
		seen[id] = struct{}{}
	}
	if n := r.Versions.PositionalLen(); n > 0 && n != len(r.TaskIDs) {
		return ErrVersionCountMismatch
	}
	return nil
}

// BulkResult is the transient output of one bulk call. A bulk call always
// produces a result, even when every task failed; callers distinguish total
// failure from partial success by inspecting the counts.
type BulkResult struct {
	Message         string        `json:"message"`
	Processed       int           `json:"processed"`
	Total           int           `json:"total"`
	Conflicts       int           `json:"conflicts"`
	Errors          []string      `json:"errors"`
	ProcessingTime  time.Duration `json:"-"`
	ChunksProcessed int           `json:"chunks_processed"`
}

// ProcessingSeconds returns the elapsed processing time in seconds, the unit
// used at the engine boundary.
func (r *BulkResult) ProcessingSeconds() float64 {
	return r.ProcessingTime.Seconds()
}

// Truncated reports whether processing stopped before every task was
// attempted (memory ceiling or cancellation).
func (r *BulkResult) Truncated() bool {
	return r.Processed+r.Conflicts+len(r.Errors) < r.Total
}
