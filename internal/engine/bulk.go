package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/tasklock/engine/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Orchestrator applies one action to many tasks with partial-failure
// isolation. Task IDs are partitioned into fixed-size chunks, each chunk
// processed inside its own transaction with a single bulk pre-fetch; one
// task's failure never aborts its siblings or the batch.
type Orchestrator struct {
	store   domain.TaskStore
	mutator *Mutator
	authz   domain.Authorizer
	caches  domain.CacheInvalidator
	limits  domain.BulkLimits
	logger  *zap.Logger
	tracer  trace.Tracer

	// heapInUse is swapped out in tests to drive the memory ceiling.
	heapInUse func() uint64
}

func NewOrchestrator(store domain.TaskStore, mutator *Mutator, authz domain.Authorizer, caches domain.CacheInvalidator, limits domain.BulkLimits, logger *zap.Logger) *Orchestrator {
	if limits.ChunkSize <= 0 {
		limits.ChunkSize = domain.DefaultChunkSize
	}
	return &Orchestrator{
		store:     store,
		mutator:   mutator,
		authz:     authz,
		caches:    caches,
		limits:    limits,
		logger:    logger,
		tracer:    otel.Tracer("bulk-orchestrator"),
		heapInUse: heapInUse,
	}
}

// Run validates and executes one bulk request. Validation failures abort the
// whole request before any task is touched; per-task failures are recorded
// in the result and never returned as an error.
func (o *Orchestrator) Run(ctx context.Context, actor *domain.Actor, req *domain.BulkRequest) (*domain.BulkResult, error) {
	ctx, span := o.tracer.Start(ctx, "bulk.Run")
	defer span.End()

	if err := req.Validate(o.limits); err != nil {
		return nil, err
	}

	kind := string(req.Action.Kind())
	span.SetAttributes(
		attribute.String("bulk.action", kind),
		attribute.Int("bulk.total", len(req.TaskIDs)),
	)
	bulkOperationsTotal.WithLabelValues(kind).Inc()

	o.logger.Info("bulk operation started",
		zap.String("action", kind),
		zap.Int("total", len(req.TaskIDs)),
		zap.Int("chunk_size", o.limits.ChunkSize),
	)

	start := time.Now()
	res := &domain.BulkResult{
		Total:  len(req.TaskIDs),
		Errors: make([]string, 0),
	}
	assignees := make(map[int64]struct{})

	offset := 0
	for _, chunk := range chunkIDs(req.TaskIDs, o.limits.ChunkSize) {
		if err := ctx.Err(); err != nil {
			// Committed chunks stand; the remainder is skipped cleanly.
			res.Errors = append(res.Errors,
				fmt.Sprintf("Bulk %s cancelled after %d chunks", kind, res.ChunksProcessed))
			break
		}

		chunkStart := time.Now()
		err := o.processChunk(ctx, actor, req, chunk, offset, res, assignees)
		bulkChunkDuration.WithLabelValues(kind).Observe(time.Since(chunkStart).Seconds())
		if err != nil {
			// The chunk transaction failed as a whole (infrastructure, not
			// per-task). Record and keep going with the next chunk.
			o.logger.Error("bulk chunk failed",
				zap.String("action", kind),
				zap.Int("chunk", res.ChunksProcessed),
				zap.Error(err),
			)
			res.Errors = append(res.Errors,
				fmt.Sprintf("Chunk %d: %v", res.ChunksProcessed+1, err))
		}
		res.ChunksProcessed++
		offset += len(chunk)

		if exceeded, heapMB := o.memoryExceeded(); exceeded {
			o.logger.Warn("bulk operation truncated by memory ceiling",
				zap.String("action", kind),
				zap.Int("chunks_processed", res.ChunksProcessed),
				zap.Int("heap_mb", heapMB),
				zap.Int("limit_mb", o.limits.MemoryLimitMB),
			)
			res.Errors = append(res.Errors,
				fmt.Sprintf("Bulk %s truncated after %d chunks: memory usage %d MB exceeded the %d MB limit",
					kind, res.ChunksProcessed, heapMB, o.limits.MemoryLimitMB))
			break
		}
	}

	if res.Processed > 0 {
		o.invalidateCaches(ctx, assignees)
	}

	res.ProcessingTime = time.Since(start)
	res.Message = fmt.Sprintf("Bulk %s completed: %d of %d tasks processed", kind, res.Processed, res.Total)
	bulkTasksProcessedTotal.WithLabelValues(kind).Add(float64(res.Processed))
	bulkOperationDuration.WithLabelValues(kind).Observe(res.ProcessingTime.Seconds())

	o.logger.Info("bulk operation finished",
		zap.String("action", kind),
		zap.Int("processed", res.Processed),
		zap.Int("conflicts", res.Conflicts),
		zap.Int("errors", len(res.Errors)),
		zap.Int("chunks", res.ChunksProcessed),
		zap.Duration("elapsed", res.ProcessingTime),
	)
	return res, nil
}

// processChunk runs one chunk inside its own transaction: bulk pre-fetch,
// then per-task authorize, resolve expected version, and dispatch, in the
// order the IDs were given.
func (o *Orchestrator) processChunk(ctx context.Context, actor *domain.Actor, req *domain.BulkRequest, chunk []int64, offset int, res *domain.BulkResult, assignees map[int64]struct{}) error {
	kind := req.Action.Kind()
	var pending []*domain.TaskLog

	err := o.store.WithinTx(ctx, func(tx domain.TaskStore) error {
		tasks, err := tx.GetByIDs(ctx, chunk, true)
		if err != nil {
			return fmt.Errorf("chunk pre-fetch: %w", err)
		}

		for i, id := range chunk {
			task, ok := tasks[id]
			if !ok {
				res.Errors = append(res.Errors, fmt.Sprintf("Task %d: Task not found", id))
				continue
			}
			if !o.authz.CanMutate(actor, kind, task) {
				res.Errors = append(res.Errors,
					fmt.Sprintf("Task %d: Not authorized to %s this task", id, kind))
				continue
			}

			expected := req.Versions.Resolve(offset+i, id, task.Version)
			fresh, log, err := o.applyAction(ctx, tx, actor, task, expected, req.Action)
			switch {
			case err == nil:
				res.Processed++
				pending = append(pending, log)
				if fresh.AssigneeID != nil {
					assignees[*fresh.AssigneeID] = struct{}{}
				}
			case domain.IsConflict(err):
				res.Conflicts++
				versionConflictsTotal.WithLabelValues(string(kind)).Inc()
				res.Errors = append(res.Errors, err.Error())
			default:
				res.Errors = append(res.Errors, fmt.Sprintf("Task %d: %v", id, err))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Audit entries are emitted only for writes that actually committed.
	for _, log := range pending {
		o.mutator.writeAudit(ctx, log)
	}
	return nil
}

// applyAction dispatches to the matching single-record mutation variant.
// The type switch is exhaustive over the closed BulkAction set.
func (o *Orchestrator) applyAction(ctx context.Context, tx domain.TaskStore, actor *domain.Actor, task *domain.Task, expected int64, action domain.BulkAction) (*domain.Task, *domain.TaskLog, error) {
	var mut *mutation
	var err error

	switch a := action.(type) {
	case domain.DeleteAction:
		mut, err = buildDelete(task)
	case domain.RestoreAction:
		mut, err = buildRestore(task)
	case domain.UpdateStatusAction:
		mut, err = buildSetStatus(task, a.Status)
	default:
		err = domain.ErrInvalidAction
	}
	if err != nil {
		return nil, nil, err
	}
	return o.mutator.applyIn(ctx, tx, actor, task, expected, mut)
}

func (o *Orchestrator) memoryExceeded() (bool, int) {
	if o.limits.MemoryLimitMB <= 0 {
		return false, 0
	}
	heapMB := int(o.heapInUse() / (1024 * 1024))
	return heapMB > o.limits.MemoryLimitMB, heapMB
}

func (o *Orchestrator) invalidateCaches(ctx context.Context, assignees map[int64]struct{}) {
	if o.caches == nil {
		return
	}
	ids := make([]int64, 0, len(assignees))
	for id := range assignees {
		ids = append(ids, id)
	}
	if err := o.caches.InvalidateAssigneeAggregates(ctx, ids); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn("cache invalidation failed", zap.Error(err))
	}
}

func chunkIDs(ids []int64, size int) [][]int64 {
	chunks := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}
