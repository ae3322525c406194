package tasks

import (
	"math/rand"
	"time"
)

// RetryPolicy governs how many times a task is retried and the backoff between attempts.
// Profiles are verbatim from kirolinter/workers/celery_app.py::get_retry_config.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Backoff    bool
	Jitter     bool
}

// DefaultRetryPolicy is used for any task name without a specialized profile.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: 60 * time.Second, Backoff: true, Jitter: true}

var profiles = map[string]RetryPolicy{
	"workflow_execution":    {MaxRetries: 3, BaseDelay: 60 * time.Second, Backoff: true, Jitter: true},
	"analytics_processing":  {MaxRetries: 5, BaseDelay: 30 * time.Second, Backoff: true, Jitter: false},
	"monitoring_collection": {MaxRetries: 2, BaseDelay: 10 * time.Second, Backoff: false, Jitter: false},
	"notification_sending":  {MaxRetries: 3, BaseDelay: 5 * time.Second, Backoff: true, Jitter: true},
}

// ProfileFor resolves a task name to its specialized retry profile, falling back to the default.
func ProfileFor(taskName string) RetryPolicy {
	if p, ok := profiles[taskName]; ok {
		return p
	}
	return DefaultRetryPolicy
}

// Delay computes the countdown before attempt number attempt (1-based) is retried.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	if p.Backoff {
		for i := 1; i < attempt; i++ {
			d *= 2
		}
	}
	if p.Jitter {
		// up to +/-25% jitter, grounded on celery's countdown jitter.
		jitter := time.Duration(rand.Int63n(int64(d)/2)) - d/4
		d += jitter
		if d < 0 {
			d = 0
		}
	}
	return d
}
