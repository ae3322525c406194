package notify

import (
	"context"
	"fmt"

	"github.com/kirolinter/devops-orchestrator/internal/domain"
	"github.com/kirolinter/devops-orchestrator/internal/notify/formatters"
)

// WorkflowNotification composes a Message for one workflow execution's terminal status and fans
// it out to every configured platform.
func (d *Dispatcher) WorkflowNotification(ctx context.Context, configs map[Platform]PlatformConfig, exec domain.Execution) MultiResult {
	severity := formatters.SeverityInfo
	switch exec.Status {
	case domain.ExecFailed, domain.ExecTimeout:
		severity = formatters.SeverityError
	case domain.ExecCancelled:
		severity = formatters.SeverityWarning
	case domain.ExecCompleted:
		severity = formatters.SeveritySuccess
	}

	msg := formatters.Message{
		Title:    fmt.Sprintf("Workflow %s %s", exec.DefinitionID, exec.Status),
		Body:     fmt.Sprintf("Execution %s triggered by %s in %s finished with status %s.", exec.ExecutionID, exec.TriggeredBy, exec.Environment, exec.Status),
		Severity: severity,
		Fields: map[string]string{
			"execution_id": exec.ExecutionID,
			"environment":  exec.Environment,
			"duration":     exec.Duration().String(),
		},
	}
	return d.SendMultiPlatform(ctx, configs, msg)
}

// alertSeverity maps a dashboard alert's level to notification severity.
func alertSeverity(level string) formatters.Severity {
	switch level {
	case "critical":
		return formatters.SeverityCritical
	case "warning":
		return formatters.SeverityWarning
	default:
		return formatters.SeverityInfo
	}
}

// AlertNotification composes a Message for one derived dashboard alert (§4.K's threshold rules).
func (d *Dispatcher) AlertNotification(ctx context.Context, configs map[Platform]PlatformConfig, alertName, level, detail string) MultiResult {
	msg := formatters.Message{
		Title:    fmt.Sprintf("Alert: %s", alertName),
		Body:     detail,
		Severity: alertSeverity(level),
	}
	return d.SendMultiPlatform(ctx, configs, msg)
}

// DigestNotification composes a periodic summary Message from a set of named figures (e.g.
// executions_today, success_rate, active_pipelines).
func (d *Dispatcher) DigestNotification(ctx context.Context, configs map[Platform]PlatformConfig, title string, figures map[string]string) MultiResult {
	msg := formatters.Message{
		Title:    title,
		Body:     "Summary of recent orchestrator activity.",
		Severity: formatters.SeverityInfo,
		Fields:   figures,
	}
	return d.SendMultiPlatform(ctx, configs, msg)
}
