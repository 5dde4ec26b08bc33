package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motium-app/sync-agent/internal/models"
)

// fakeStore is an in-memory queue.Store
type fakeStore struct {
	ops        []*models.PendingOperation
	deadLetter []*models.DeadLetterOperation
}

func (f *fakeStore) InsertPendingOperation(_ context.Context, op *models.PendingOperation) error {
	cp := *op
	f.ops = append(f.ops, &cp)
	return nil
}

func (f *fakeStore) DeletePendingOperation(_ context.Context, id string) error {
	for i, op := range f.ops {
		if op.ID == id {
			f.ops = append(f.ops[:i], f.ops[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) ListPendingOperations(_ context.Context) ([]*models.PendingOperation, error) {
	out := make([]*models.PendingOperation, len(f.ops))
	copy(out, f.ops)
	return out, nil
}

func (f *fakeStore) GetPendingOperation(_ context.Context, id string) (*models.PendingOperation, error) {
	for _, op := range f.ops {
		if op.ID == id {
			return op, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) MarkOperationFailed(_ context.Context, id string, at time.Time) error {
	for _, op := range f.ops {
		if op.ID == id {
			op.RetryCount++
			attempt := at
			op.LastAttempt = &attempt
		}
	}
	return nil
}

func (f *fakeStore) CountPendingOperations(_ context.Context) (int, error) {
	return len(f.ops), nil
}

func (f *fakeStore) MoveToDeadLetter(_ context.Context, id, reason string, at time.Time) error {
	for i, op := range f.ops {
		if op.ID == id {
			f.deadLetter = append(f.deadLetter, &models.DeadLetterOperation{
				PendingOperation: *op,
				Reason:           reason,
				FailedAt:         at,
			})
			f.ops = append(f.ops[:i], f.ops[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) ListDeadLetterOperations(_ context.Context) ([]*models.DeadLetterOperation, error) {
	return f.deadLetter, nil
}

func (f *fakeStore) CountDeadLetterOperations(_ context.Context) (int, error) {
	return len(f.deadLetter), nil
}

func newTestQueue(maxRetries int) (*Queue, *fakeStore) {
	store := &fakeStore{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(store, maxRetries, logger), store
}

func TestEnqueueThenListIncludesOperation(t *testing.T) {
	q, _ := newTestQueue(0)
	ctx := context.Background()

	payload := json.RawMessage(`{"id":"trip-1"}`)
	id, err := q.Enqueue(ctx, models.OpCreate, models.EntityTrip, "trip-1", payload)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ops, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, id, ops[0].ID)
	assert.Equal(t, models.OpCreate, ops[0].Type)
	assert.Equal(t, models.EntityTrip, ops[0].EntityType)
	assert.Equal(t, "trip-1", ops[0].EntityID)
	assert.JSONEq(t, string(payload), string(ops[0].Payload))
	assert.Zero(t, ops[0].RetryCount)
	assert.Nil(t, ops[0].LastAttempt)
}

func TestListPendingPreservesEnqueueOrder(t *testing.T) {
	q, _ := newTestQueue(0)
	ctx := context.Background()

	var ids []string
	for _, entityID := range []string{"a", "b", "c"} {
		id, err := q.Enqueue(ctx, models.OpUpdate, models.EntityVehicle, entityID, json.RawMessage(`{}`))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ops, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	for i, op := range ops {
		assert.Equal(t, ids[i], op.ID)
	}
}

func TestDequeueRemovesOperation(t *testing.T) {
	q, _ := newTestQueue(0)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, models.OpDelete, models.EntityTrip, "trip-1", nil)
	require.NoError(t, err)

	require.NoError(t, q.Dequeue(ctx, id))

	ops, err := q.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestDequeueAbsentIDIsNoOp(t *testing.T) {
	q, _ := newTestQueue(0)

	assert.NoError(t, q.Dequeue(context.Background(), "no-such-id"))
}

func TestMarkFailedIncrementsRetryCount(t *testing.T) {
	q, _ := newTestQueue(0)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, models.OpCreate, models.EntityTrip, "trip-1", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, q.MarkFailed(ctx, id))
	require.NoError(t, q.MarkFailed(ctx, id))

	ops, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 2, ops[0].RetryCount)
	assert.NotNil(t, ops[0].LastAttempt)
}

func TestMarkFailedUnboundedNeverDeadLetters(t *testing.T) {
	q, store := newTestQueue(0)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, models.OpCreate, models.EntityTrip, "trip-1", json.RawMessage(`{}`))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, q.MarkFailed(ctx, id))
	}

	assert.Len(t, store.ops, 1)
	assert.Empty(t, store.deadLetter)
}

func TestMarkFailedMovesToDeadLetterAtCeiling(t *testing.T) {
	q, store := newTestQueue(3)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, models.OpUpdate, models.EntityVehicle, "v-1", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, q.MarkFailed(ctx, id))
	require.NoError(t, q.MarkFailed(ctx, id))
	assert.Empty(t, store.deadLetter, "below the ceiling the operation stays queued")

	require.NoError(t, q.MarkFailed(ctx, id))

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	dead, err := q.ListDeadLetter(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].ID)
	assert.Equal(t, 3, dead[0].RetryCount)
	assert.Contains(t, dead[0].Reason, "3 retries")
}

func TestPendingCount(t *testing.T) {
	q, _ := newTestQueue(0)
	ctx := context.Background()

	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = q.Enqueue(ctx, models.OpCreate, models.EntityTrip, "trip-1", json.RawMessage(`{}`))
	require.NoError(t, err)

	count, err = q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
