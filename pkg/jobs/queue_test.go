package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewQueue(rdb, "webhooks"), mr
}

func TestQueueEnqueueDequeueRoundTrip(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, json.RawMessage(`{"k":"v"}`), PolicyStandard, 10)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, id, job.ID)
	assert.Equal(t, "webhooks", job.Queue)
	assert.Equal(t, 0, job.Attempt)
	assert.Equal(t, 10, job.MaxAttempts)
	assert.JSONEq(t, `{"k":"v"}`, string(job.Payload))
}

func TestQueueDequeueEmptyReturnsNil(t *testing.T) {
	q, _ := testQueue(t)

	job, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueueRetryIncrementsAttemptAndDelays(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, json.RawMessage(`{}`), PolicyStandard, 10)
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, q.Retry(ctx, *job, time.Hour))

	// Not due yet: the delayed job must not be visible.
	again, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestQueueRetryPromotesDueJobs(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, json.RawMessage(`{}`), PolicyStandard, 10)
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, q.Retry(ctx, *job, -time.Second))

	promoted, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, job.ID, promoted.ID)
	assert.Equal(t, 1, promoted.Attempt)
}
