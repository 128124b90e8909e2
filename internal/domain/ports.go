package domain

import "context"

// Actor identifies who performs a mutation. A nil *Actor is a system action
// and is recorded in the audit trail with a null actor reference.
type Actor struct {
	UserID int64
	Roles  []string
}

// TaskStore is the persistence port: task lookup plus the atomic conditional
// write that is the engine's sole concurrency-control primitive.
type TaskStore interface {
	// GetByID retrieves one task. Trashed tasks are excluded unless
	// includeTrashed is set.
	GetByID(ctx context.Context, id int64, includeTrashed bool) (*Task, error)

	// GetByIDs bulk-fetches tasks for a chunk in a single query, keyed by id.
	// Missing ids are simply absent from the map.
	GetByIDs(ctx context.Context, ids []int64, includeTrashed bool) (map[int64]*Task, error)

	// ConditionalUpdate performs one atomic compare-and-swap write:
	// SET fields, version = expectedVersion+1 WHERE id AND version match.
	// It returns the affected-row count; 0 means the id does not exist or
	// the version no longer matches, and is a normal outcome, not an error.
	ConditionalUpdate(ctx context.Context, id, expectedVersion int64, fields map[string]any, includeTrashed bool) (int64, error)

	// WithinTx runs fn against a transaction-scoped view of the store. The
	// transaction is committed when fn returns nil and rolled back otherwise.
	WithinTx(ctx context.Context, fn func(tx TaskStore) error) error
}

// AuditWriter appends immutable operation records. Write failures are
// degraded-mode for the engine: logged, never propagated.
type AuditWriter interface {
	WriteLog(ctx context.Context, log *TaskLog) error
}

// Authorizer is the authorization oracle. The engine consumes the per-record
// allow/deny decision; it never evaluates policy itself.
type Authorizer interface {
	CanMutate(actor *Actor, action ActionKind, task *Task) bool
}

// CacheInvalidator receives the side-effect signal emitted after a bulk call
// that processed at least one task, so per-assignee read aggregates can be
// refreshed by whoever maintains them.
type CacheInvalidator interface {
	InvalidateAssigneeAggregates(ctx context.Context, assigneeIDs []int64) error
}
