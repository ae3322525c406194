package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
	"github.com/kirolinter/devops-orchestrator/internal/kv"
	"github.com/kirolinter/devops-orchestrator/internal/platform/logging"
	"github.com/kirolinter/devops-orchestrator/internal/platform/metrics"
)

func encodeRecord(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// Task time bounds (§4.H): soft limit is advisory (handlers are expected to subdivide long work),
// the hard limit is enforced by the pool as a timeout error, which is retried like any other
// retryable error and reaches the failure path once the task's retries are exhausted.
const (
	SoftTimeLimit = 300 * time.Second
	HardTimeLimit = 600 * time.Second

	failureListMax = 100
	counterTTL     = 24 * time.Hour
)

// Handler processes one task's payload. Errors are classified through apierr to decide
// retryability; any other error type is treated as internal_error (not retried).
type Handler func(ctx context.Context, task Task) error

// Pool is a set of worker goroutines consuming from one or more named queues.
type Pool struct {
	queue   *Queue
	store   kv.Store
	log     *logging.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	handlers map[string]Handler

	pollInterval time.Duration
}

// NewPool builds a worker pool backed by queue. store is used for lifecycle-hook bookkeeping
// (task_success/task_failure/task_retry counters and the task_failures list).
func NewPool(queue *Queue, store kv.Store, log *logging.Logger, m *metrics.Metrics) *Pool {
	return &Pool{
		queue:        queue,
		store:        store,
		log:          log,
		metrics:      m,
		handlers:     make(map[string]Handler),
		pollInterval: 250 * time.Millisecond,
	}
}

// Handle registers the handler invoked for tasks named name.
func (p *Pool) Handle(name string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = h
}

// Run starts workersPerQueue goroutines for each of queues, blocking until ctx is cancelled. Worker
// init/teardown of the KV and relational pools happens once at process startup (in cmd/orchestrator),
// not per worker, but this call itself is idempotent across restarts since it holds no local state
// beyond the handler registry.
func (p *Pool) Run(ctx context.Context, queues []string, workersPerQueue int) {
	var wg sync.WaitGroup
	for _, q := range queues {
		for i := 0; i < workersPerQueue; i++ {
			wg.Add(1)
			go func(queue string) {
				defer wg.Done()
				p.worker(ctx, queue)
			}(q)
		}
	}
	wg.Wait()
}

func (p *Pool) worker(ctx context.Context, queue string) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, ok, err := p.queue.Dequeue(ctx, queue)
			if err != nil {
				if p.log != nil {
					p.log.WithContext(ctx).WithError(err).Warn("dequeue failed")
				}
				continue
			}
			if !ok {
				continue
			}
			p.process(ctx, task)
		}
	}
}

func (p *Pool) process(ctx context.Context, task Task) {
	p.mu.RLock()
	handler, ok := p.handlers[task.Name]
	p.mu.RUnlock()
	if !ok {
		if p.log != nil {
			p.log.WithContext(ctx).Warn(fmt.Sprintf("no handler registered for task %q", task.Name))
		}
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, HardTimeLimit)
	defer cancel()

	start := time.Now()
	err := handler(runCtx, task)
	duration := time.Since(start)
	if p.metrics != nil {
		p.metrics.TaskDuration.WithLabelValues(task.Name).Observe(duration.Seconds())
	}

	if runCtx.Err() == context.DeadlineExceeded {
		err = apierr.Timeout(fmt.Sprintf("task %s exceeded hard time limit", task.Name))
	}

	if err == nil {
		p.onSuccess(ctx, task)
		return
	}

	if apierr.IsRetryable(err) && task.Attempt < task.MaxRetries {
		p.onRetry(ctx, task)
		policy := ProfileFor(task.Name)
		p.queue.Requeue(context.Background(), task, policy.Delay(task.Attempt+1))
		return
	}

	p.onFailure(ctx, task, err)
}

func (p *Pool) onSuccess(ctx context.Context, task Task) {
	if p.metrics != nil {
		p.metrics.TaskSuccessTotal.WithLabelValues(task.Name).Inc()
	}
	if p.store == nil {
		return
	}
	key := fmt.Sprintf("task_success:%s", task.Name)
	if _, err := p.store.Incr(ctx, key); err == nil {
		_ = p.store.Expire(ctx, key, counterTTL)
	}
}

func (p *Pool) onRetry(ctx context.Context, task Task) {
	if p.metrics != nil {
		p.metrics.TaskRetryTotal.WithLabelValues(task.Name).Inc()
	}
	if p.store == nil {
		return
	}
	key := fmt.Sprintf("task_retry:%s", task.Name)
	if _, err := p.store.Incr(ctx, key); err == nil {
		_ = p.store.Expire(ctx, key, counterTTL)
	}
}

func (p *Pool) onFailure(ctx context.Context, task Task, taskErr error) {
	if p.metrics != nil {
		p.metrics.TaskFailureTotal.WithLabelValues(task.Name).Inc()
	}
	if p.log != nil {
		p.log.WithContext(ctx).WithError(taskErr).Error(fmt.Sprintf("task %s failed permanently", task.Name))
	}
	if p.store == nil {
		return
	}
	key := fmt.Sprintf("task_failure:%s", task.Name)
	if _, err := p.store.Incr(ctx, key); err == nil {
		_ = p.store.Expire(ctx, key, counterTTL)
	}
	record := map[string]interface{}{
		"task_id": task.ID,
		"error":   taskErr.Error(),
		"attempt": task.Attempt,
		"at":      time.Now().UTC(),
	}
	listKey := fmt.Sprintf("task_failures:%s", task.Name)
	_ = p.store.LPush(ctx, listKey, encodeRecord(record))
	_ = p.store.LTrim(ctx, listKey, 0, failureListMax-1)
	_ = p.store.Expire(ctx, listKey, counterTTL)
}
