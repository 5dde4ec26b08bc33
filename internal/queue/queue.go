// Package queue implements the durable pending-operation queue: every local
// mutation against a synchronizable entity is recorded here until its remote
// apply is confirmed.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/motium-app/sync-agent/internal/models"
)

// Store is the subset of persistence the queue needs.
type Store interface {
	InsertPendingOperation(ctx context.Context, op *models.PendingOperation) error
	DeletePendingOperation(ctx context.Context, id string) error
	ListPendingOperations(ctx context.Context) ([]*models.PendingOperation, error)
	GetPendingOperation(ctx context.Context, id string) (*models.PendingOperation, error)
	MarkOperationFailed(ctx context.Context, id string, at time.Time) error
	CountPendingOperations(ctx context.Context) (int, error)
	MoveToDeadLetter(ctx context.Context, id, reason string, at time.Time) error
	ListDeadLetterOperations(ctx context.Context) ([]*models.DeadLetterOperation, error)
	CountDeadLetterOperations(ctx context.Context) (int, error)
}

// Queue records mutations awaiting remote confirmation. Only the sync
// orchestrator drains it, under its own single-flight guard, so the queue
// needs no locking beyond what the store provides.
type Queue struct {
	store      Store
	logger     *logrus.Logger
	maxRetries int
	now        func() time.Time
}

// New creates a pending-operation queue. maxRetries is the dead-letter
// ceiling; zero means operations are retried indefinitely.
func New(store Store, maxRetries int, logger *logrus.Logger) *Queue {
	return &Queue{
		store:      store,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Enqueue records a local mutation and returns the new operation id. It is a
// durability mechanism, not a validator: payloads are stored as given.
func (q *Queue) Enqueue(ctx context.Context, opType models.OperationType, entityType models.EntityType, entityID string, payload json.RawMessage) (string, error) {
	op := &models.PendingOperation{
		ID:         uuid.NewString(),
		Type:       opType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		Timestamp:  q.now(),
	}

	if err := q.store.InsertPendingOperation(ctx, op); err != nil {
		return "", fmt.Errorf("failed to enqueue operation: %w", err)
	}

	q.logger.WithFields(logrus.Fields{
		"operation_id": op.ID,
		"op_type":      op.Type,
		"entity_type":  op.EntityType,
		"entity_id":    op.EntityID,
	}).Debug("Enqueued pending operation")

	return op.ID, nil
}

// Dequeue removes a confirmed operation. Removing an absent id is a no-op.
func (q *Queue) Dequeue(ctx context.Context, id string) error {
	return q.store.DeletePendingOperation(ctx, id)
}

// ListPending returns all queued operations in enqueue order. Callers may
// re-list after partial processing.
func (q *Queue) ListPending(ctx context.Context) ([]*models.PendingOperation, error) {
	return q.store.ListPendingOperations(ctx)
}

// MarkFailed records a failed remote-apply attempt. When a configured retry
// ceiling is exceeded the operation moves to the dead-letter table instead
// of being retried forever; it is never silently dropped.
func (q *Queue) MarkFailed(ctx context.Context, id string) error {
	now := q.now()
	if err := q.store.MarkOperationFailed(ctx, id, now); err != nil {
		return err
	}

	if q.maxRetries <= 0 {
		return nil
	}

	op, err := q.store.GetPendingOperation(ctx, id)
	if err != nil || op == nil {
		return err
	}

	if op.RetryCount >= q.maxRetries {
		reason := fmt.Sprintf("exceeded %d retries", q.maxRetries)
		if err := q.store.MoveToDeadLetter(ctx, id, reason, now); err != nil {
			return err
		}
		q.logger.WithFields(logrus.Fields{
			"operation_id": id,
			"retry_count":  op.RetryCount,
		}).Warn("Operation moved to dead letter")
	}

	return nil
}

// PendingCount returns the backlog size; it drives interval selection.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	return q.store.CountPendingOperations(ctx)
}

// DeadLetterCount returns the number of permanently failed operations.
func (q *Queue) DeadLetterCount(ctx context.Context) (int, error) {
	return q.store.CountDeadLetterOperations(ctx)
}

// ListDeadLetter returns operations that exhausted their retry budget.
func (q *Queue) ListDeadLetter(ctx context.Context) ([]*models.DeadLetterOperation, error) {
	return q.store.ListDeadLetterOperations(ctx)
}
