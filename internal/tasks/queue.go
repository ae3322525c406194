// Package tasks implements the background task fabric (component H): a queue-backed worker
// pool running workflow stages, analytics processing, monitoring collection, and notification
// delivery with at-least-once semantics, exponential backoff, and per-task metrics. Grounded on
// kirolinter/workers/celery_app.py and the worker-pool construction idiom of the teacher's
// infrastructure/middleware package.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirolinter/devops-orchestrator/internal/kv"
)

// Default queue names, grounded on celery_app.py's task_routes.
const (
	QueueWorkflow      = "workflow"
	QueueAnalytics     = "analytics"
	QueueMonitoring    = "monitoring"
	QueueNotifications = "notifications"
)

// Task is one unit of work enqueued on the broker, JSON-serialized end to end.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	MaxRetries int             `json:"max_retries"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Queue is the broker-backed FIFO transport for one named queue, implemented over the
// key-value/cache abstraction (component A) per §4.H's "queue-backed worker pool".
type Queue struct {
	store kv.Store
}

// NewQueue wraps store as a task broker.
func NewQueue(store kv.Store) *Queue { return &Queue{store: store} }

func queueKey(name string) string { return fmt.Sprintf("tasks:queue:%s", name) }

// Enqueue serializes payload and pushes a new task onto the named queue.
func (q *Queue) Enqueue(ctx context.Context, queue, name string, payload interface{}) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, err
	}
	profile := ProfileFor(name)
	task := Task{
		ID:         uuid.NewString(),
		Name:       name,
		Queue:      queue,
		Payload:    raw,
		MaxRetries: profile.MaxRetries,
		EnqueuedAt: time.Now().UTC(),
	}
	return task, q.push(ctx, task)
}

func (q *Queue) push(ctx context.Context, task Task) error {
	encoded, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.store.LPush(ctx, queueKey(task.Queue), string(encoded))
}

// Dequeue pops the oldest task from the named queue, if any.
func (q *Queue) Dequeue(ctx context.Context, queue string) (Task, bool, error) {
	raw, ok, err := q.store.RPop(ctx, queueKey(queue))
	if err != nil || !ok {
		return Task{}, false, err
	}
	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return Task{}, false, err
	}
	return task, true, nil
}

// Requeue re-enqueues task after delay, incrementing its attempt counter. Used by the retry path.
func (q *Queue) Requeue(ctx context.Context, task Task, delay time.Duration) {
	task.Attempt++
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		_ = q.push(context.Background(), task)
	}()
}
