package tasks

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/kirolinter/devops-orchestrator/internal/platform/logging"
)

// ScheduleEntry is one deploy-time scheduled task, resolving Open Question 3 (§9) by making this
// table the single source of schedules rather than a runtime-mutable beat_schedule.
type ScheduleEntry struct {
	Name     string
	CronSpec string
	Queue    string
	Task     string
	Payload  interface{}
}

// DefaultSchedule is the built-in schedule: retention cleanup once every 24h on the analytics
// queue, per §4.H.
var DefaultSchedule = []ScheduleEntry{
	{Name: "data-retention-cleanup", CronSpec: "0 3 * * *", Queue: QueueAnalytics, Task: "data_retention_cleanup", Payload: map[string]interface{}{"dry_run": false}},
}

// Scheduler drives ScheduleEntry enqueueing on a cron runner.
type Scheduler struct {
	cron  *cron.Cron
	queue *Queue
	log   *logging.Logger
}

// NewScheduler builds a Scheduler backed by queue.
func NewScheduler(queue *Queue, log *logging.Logger) *Scheduler {
	return &Scheduler{cron: cron.New(), queue: queue, log: log}
}

// Load registers every entry's cron spec. Returns an error if any spec is invalid.
func (s *Scheduler) Load(entries []ScheduleEntry) error {
	for _, entry := range entries {
		e := entry
		if _, err := s.cron.AddFunc(e.CronSpec, func() {
			ctx := context.Background()
			if _, err := s.queue.Enqueue(ctx, e.Queue, e.Task, e.Payload); err != nil && s.log != nil {
				s.log.WithContext(ctx).WithError(err).Error("scheduled enqueue failed")
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

// Start begins running the cron scheduler in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for in-flight scheduling to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
