package dashboard

import "fmt"

// AlertLevel enumerates derived-alert severities.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
	AlertError    AlertLevel = "error"
)

const (
	cpuWarningPercent    = 80.0
	memWarningPercent    = 85.0
	diskCriticalPercent  = 90.0
	successRateWarning   = 0.8
)

// Alert is one derived threshold breach.
type Alert struct {
	Name    string     `json:"name"`
	Level   AlertLevel `json:"level"`
	Detail  string     `json:"detail"`
}

// DeriveAlerts evaluates a Snapshot against the fixed threshold rules and returns every breach
// found, in a stable order (system, cache, workflow, git).
func DeriveAlerts(snap Snapshot) []Alert {
	var alerts []Alert

	if snap.System.CPUPercent > cpuWarningPercent {
		alerts = append(alerts, Alert{
			Name: "high_cpu", Level: AlertWarning,
			Detail: fmt.Sprintf("CPU usage at %.1f%%, above %.0f%% threshold", snap.System.CPUPercent, cpuWarningPercent),
		})
	}
	if snap.System.MemPercent > memWarningPercent {
		alerts = append(alerts, Alert{
			Name: "high_memory", Level: AlertWarning,
			Detail: fmt.Sprintf("Memory usage at %.1f%%, above %.0f%% threshold", snap.System.MemPercent, memWarningPercent),
		})
	}
	if snap.System.DiskPercent > diskCriticalPercent {
		alerts = append(alerts, Alert{
			Name: "high_disk", Level: AlertCritical,
			Detail: fmt.Sprintf("Disk usage at %.1f%%, above %.0f%% threshold", snap.System.DiskPercent, diskCriticalPercent),
		})
	}

	if !snap.CacheConnected {
		alerts = append(alerts, Alert{
			Name: "cache_store_disconnected", Level: AlertError,
			Detail: "cache store is unreachable",
		})
	}

	if snap.Workflow.SuccessRate < successRateWarning && snap.Workflow.ActiveExecutions > 0 {
		alerts = append(alerts, Alert{
			Name: "low_workflow_success_rate", Level: AlertWarning,
			Detail: fmt.Sprintf("workflow success rate at %.0f%%, below %.0f%% threshold", snap.Workflow.SuccessRate*100, successRateWarning*100),
		})
	}

	if !snap.Git.MonitoringActive {
		alerts = append(alerts, Alert{
			Name: "git_monitoring_inactive", Level: AlertWarning,
			Detail: "git event monitoring is not active",
		})
	}

	return alerts
}
