package domain

import (
	"fmt"
	"time"
)

// Platform enumerates the CI/CD platforms a connector may speak for.
type Platform string

const (
	PlatformGitHubActions Platform = "github_actions"
	PlatformGitLabCI      Platform = "gitlab_ci"
	PlatformJenkins       Platform = "jenkins"
	PlatformAzureDevOps   Platform = "azure_devops"
	PlatformCircleCI      Platform = "circleci"
	PlatformGeneric       Platform = "generic"
)

// WorkflowStatus enumerates the universal status a connector reports for a platform workflow.
type WorkflowStatus string

const (
	StatusQueued    WorkflowStatus = "queued"
	StatusRunning   WorkflowStatus = "running"
	StatusSuccess   WorkflowStatus = "success"
	StatusFailed    WorkflowStatus = "failed"
	StatusCancelled WorkflowStatus = "cancelled"
	StatusSkipped   WorkflowStatus = "skipped"
	StatusTimeout   WorkflowStatus = "timeout"
	StatusUnknown   WorkflowStatus = "unknown"
)

// UniversalWorkflow is the connector-reported descriptor of a platform workflow/pipeline run.
type UniversalWorkflow struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Platform   Platform               `json:"platform"`
	Status     WorkflowStatus         `json:"status"`
	Repository string                 `json:"repository"`
	Branch     string                 `json:"branch"`
	CommitSHA  string                 `json:"commit_sha"`
	URL        string                 `json:"url"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// TriggerResult is returned from every trigger_workflow invocation.
type TriggerResult struct {
	Success    bool                   `json:"success"`
	WorkflowID string                 `json:"workflow_id,omitempty"`
	RunID      string                 `json:"run_id,omitempty"`
	URL        string                 `json:"url,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// PipelineID composes the globally unique pipeline identifier.
func PipelineID(platform Platform, repository, workflowID string) string {
	return fmt.Sprintf("%s:%s:%s", platform, repository, workflowID)
}

// PipelineEntry is one row of the pipeline registry.
type PipelineEntry struct {
	PipelineID  string
	Platform    Platform
	Repository  string
	WorkflowID  string
	Name        string
	LastStatus  WorkflowStatus
	LastRun     *time.Time
	SuccessRate float64 // rolling EMA, alpha=0.1, bounded [0,1]
	AvgDuration float64 // rolling EMA, seconds, >= 0
	Metadata    map[string]interface{}
}

// emaAlpha is the smoothing factor for rolling success_rate and avg_duration (§9 open question).
const emaAlpha = 0.1

// UpdateStats folds one run's outcome into the entry's rolling statistics.
func (p *PipelineEntry) UpdateStats(success bool, durationSeconds float64, at time.Time) {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	if p.LastRun == nil {
		p.SuccessRate = outcome
		p.AvgDuration = durationSeconds
	} else {
		p.SuccessRate = emaAlpha*outcome + (1-emaAlpha)*p.SuccessRate
		p.AvgDuration = emaAlpha*durationSeconds + (1-emaAlpha)*p.AvgDuration
	}
	if p.SuccessRate < 0 {
		p.SuccessRate = 0
	}
	if p.SuccessRate > 1 {
		p.SuccessRate = 1
	}
	if p.AvgDuration < 0 {
		p.AvgDuration = 0
	}
	t := at
	p.LastRun = &t
	if success {
		p.LastStatus = StatusSuccess
	} else {
		p.LastStatus = StatusFailed
	}
}

// OperationStatus enumerates the lifecycle of a cross-platform operation.
type OperationStatus string

const (
	OpInProgress     OperationStatus = "in_progress"
	OpSuccess        OperationStatus = "success"
	OpFailed         OperationStatus = "failed"
	OpPartialSuccess OperationStatus = "partial_success"
	OpCancelled      OperationStatus = "cancelled"
)

// CrossPlatformOperation tracks one coordinated multi-platform action.
type CrossPlatformOperation struct {
	OperationID   string
	OperationType string
	Platforms     []Platform
	Repository    string
	Status        OperationStatus
	StartedAt     time.Time
	CompletedAt   *time.Time
	Results       map[Platform]interface{}
	Errors        map[Platform]string
}

// Complete marks the operation terminal, enforcing the CompletedAt-iff-terminal invariant.
func (op *CrossPlatformOperation) Complete(status OperationStatus, at time.Time) {
	op.Status = status
	t := at
	op.CompletedAt = &t
}

// CoordinationRule is a condition/action pair evaluated against a cross-platform operation; it
// names no platforms of its own.
type CoordinationRule struct {
	Name      string
	Condition RuleCondition
	Action    RuleAction
}

// RuleCondition is one of the two built-in condition types named in §4.F.
type RuleCondition struct {
	Type  string // "platform_count" | "repository_match"
	Count int    // for platform_count: minimum platform count to match
	Repo  string // for repository_match: exact repository to match
}

// RuleAction is one of the two built-in action types named in §4.F.
type RuleAction struct {
	Type    string // "delay" | "log"
	Seconds int    // for delay
	Message string // for log
}
