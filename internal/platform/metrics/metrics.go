// Package metrics exposes the process-wide Prometheus registry and metric groups.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every collector the orchestrator registers.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	EventsIngestedTotal *prometheus.CounterVec
	WebhooksTotal       *prometheus.CounterVec

	TaskSuccessTotal *prometheus.CounterVec
	TaskFailureTotal *prometheus.CounterVec
	TaskRetryTotal   *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec

	ConnectorTriggerTotal *prometheus.CounterVec
	ResourceLockConflicts prometheus.Counter

	WorkflowExecutionsTotal *prometheus.CounterVec

	NotificationsSentTotal *prometheus.CounterVec
}

// New builds and registers all collectors against a fresh registry.
func New(serviceName string) (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(serviceName, reg), reg
}

// NewWithRegistry builds and registers all collectors against an existing registerer.
func NewWithRegistry(serviceName string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "http_requests_total", Help: "Total HTTP requests.",
		}, []string{"path", "method", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName, Name: "http_request_duration_seconds", Help: "HTTP request latency.",
		}, []string{"path", "method"}),
		EventsIngestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "events_ingested_total", Help: "Normalized events ingested.",
		}, []string{"source", "kind"}),
		WebhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "webhooks_total", Help: "Webhook deliveries received.",
		}, []string{"source", "status"}),
		TaskSuccessTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "task_success_total", Help: "Successful task executions.",
		}, []string{"task"}),
		TaskFailureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "task_failure_total", Help: "Failed task executions.",
		}, []string{"task"}),
		TaskRetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "task_retry_total", Help: "Task retry attempts.",
		}, []string{"task"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName, Name: "task_duration_seconds", Help: "Task execution duration.",
		}, []string{"task"}),
		ConnectorTriggerTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "connector_trigger_total", Help: "CI/CD trigger attempts.",
		}, []string{"platform", "result"}),
		ResourceLockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName, Name: "resource_lock_conflicts_total", Help: "Cross-platform coordination conflicts.",
		}),
		WorkflowExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "workflow_executions_total", Help: "Workflow executions by terminal status.",
		}, []string{"status"}),
		NotificationsSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "notifications_sent_total", Help: "Notification dispatch attempts.",
		}, []string{"platform", "status"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.EventsIngestedTotal, m.WebhooksTotal,
		m.TaskSuccessTotal, m.TaskFailureTotal, m.TaskRetryTotal, m.TaskDuration,
		m.ConnectorTriggerTotal, m.ResourceLockConflicts, m.WorkflowExecutionsTotal,
		m.NotificationsSentTotal,
	)
	return m
}
