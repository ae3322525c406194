package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
	"github.com/kirolinter/devops-orchestrator/internal/kv"
)

func TestRetryProfilesMatchSpecTable(t *testing.T) {
	cases := []struct {
		name    string
		wantMax int
		wantBase time.Duration
		backoff bool
		jitter  bool
	}{
		{"workflow_execution", 3, 60 * time.Second, true, true},
		{"analytics_processing", 5, 30 * time.Second, true, false},
		{"monitoring_collection", 2, 10 * time.Second, false, false},
		{"notification_sending", 3, 5 * time.Second, true, true},
		{"unknown_task", 3, 60 * time.Second, true, true},
	}
	for _, c := range cases {
		p := ProfileFor(c.name)
		require.Equal(t, c.wantMax, p.MaxRetries, c.name)
		require.Equal(t, c.wantBase, p.BaseDelay, c.name)
		require.Equal(t, c.backoff, p.Backoff, c.name)
		require.Equal(t, c.jitter, p.Jitter, c.name)
	}
}

func TestQueueEnqueueDequeueRoundTrip(t *testing.T) {
	store := kv.NewMemStore()
	q := NewQueue(store)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, QueueWorkflow, "workflow_execution", map[string]string{"execution_id": "exec-1"})
	require.NoError(t, err)

	task, ok, err := q.Dequeue(ctx, QueueWorkflow)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "workflow_execution", task.Name)
	require.Equal(t, 3, task.MaxRetries)

	_, ok, err = q.Dequeue(ctx, QueueWorkflow)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPoolRetriesTransientFailureThenSucceeds(t *testing.T) {
	store := kv.NewMemStore()
	q := NewQueue(store)
	pool := NewPool(q, store, nil, nil)

	var attempts int32
	done := make(chan struct{})
	pool.Handle("notification_sending", func(ctx context.Context, task Task) error {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			return apierr.TransientIO("simulated failure", nil)
		}
		close(done)
		return nil
	})

	_, err := q.Enqueue(context.Background(), QueueNotifications, "notification_sending", map[string]string{})
	require.NoError(t, err)

	// notification_sending requeues after its 5s base delay (+/-25% jitter), so the deadline
	// must leave room for one full backoff plus a poll interval.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go pool.Run(ctx, []string{QueueNotifications}, 1)

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("task was never retried to success")
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

func TestPoolRecordsPermanentFailure(t *testing.T) {
	store := kv.NewMemStore()
	q := NewQueue(store)
	pool := NewPool(q, store, nil, nil)

	pool.Handle("notification_sending", func(ctx context.Context, task Task) error {
		return apierr.Validation("bad payload")
	})

	task, err := q.Enqueue(context.Background(), QueueNotifications, "notification_sending", map[string]string{})
	require.NoError(t, err)
	task.MaxRetries = 0

	pool.process(context.Background(), task)

	count, _, err := store.Get(context.Background(), "task_failure:notification_sending")
	require.NoError(t, err)
	require.Equal(t, "1", string(count))
}
