package domain

import (
	"time"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
)

// MetricType classifies a DevOps metric's origin.
type MetricType string

const (
	MetricGit      MetricType = "git"
	MetricWebhook  MetricType = "webhook"
	MetricWorkflow MetricType = "workflow"
	MetricSystem   MetricType = "system"
	MetricPipeline MetricType = "pipeline"
)

// Metric is one recorded DevOps measurement; exactly one of Numeric/String is set.
type Metric struct {
	Type       MetricType
	Name       string
	SourceType string
	SourceName string
	Timestamp  time.Time
	Numeric    *float64
	String     *string
	Dimensions map[string]string
	Tags       map[string]string
}

// Validate enforces the "exactly one of numeric or string value" invariant.
func (m *Metric) Validate() error {
	if m.Numeric == nil && m.String == nil {
		return apierr.Validation("metric must carry a numeric or string value").WithDetail("metric", m.Name)
	}
	if m.Numeric != nil && m.String != nil {
		return apierr.Validation("metric must not carry both a numeric and string value").WithDetail("metric", m.Name)
	}
	return nil
}

// GateType enumerates when a quality gate is evaluated in the deployment lifecycle.
type GateType string

const (
	GatePreCommit GateType = "pre_commit"
	GatePreMerge  GateType = "pre_merge"
	GatePreDeploy GateType = "pre_deploy"
	GatePostDeploy GateType = "post_deploy"
)

// Gate is a named, criteria-driven quality check.
type Gate struct {
	Name       string
	Type       GateType
	Criteria   map[string]Criterion
	Config     map[string]interface{}
	IsActive   bool
	Bypassable bool
}

// Criterion is a threshold expression evaluated against a stage output field.
type Criterion struct {
	Operator string // ">=" | "<=" | "=="
	Value    float64
}

// Validate enforces "non-empty criteria mapping".
func (g *Gate) Validate() error {
	if len(g.Criteria) == 0 {
		return apierr.Validation("quality gate must declare at least one criterion").WithDetail("gate", g.Name)
	}
	return nil
}

// GateExecutionStatus enumerates the lifecycle of one gate evaluation.
type GateExecutionStatus string

const (
	GateExecPending  GateExecutionStatus = "pending"
	GateExecRunning  GateExecutionStatus = "running"
	GateExecPassed   GateExecutionStatus = "passed"
	GateExecFailed   GateExecutionStatus = "failed"
	GateExecBypassed GateExecutionStatus = "bypassed"
)

// GateExecution records one evaluation of a Gate against a stage's output.
type GateExecution struct {
	GateName     string
	Status       GateExecutionStatus
	Score        float64 // in [0,100]
	Passed       bool
	BypassReason string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

func (e *GateExecution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// RiskLevel enumerates the supplemented risk-assessment severity.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment is the supplemented entity scoring a commit's change risk.
type RiskAssessment struct {
	Repository string
	CommitHash string
	Score      float64
	Level      RiskLevel
	Factors    []string
	CreatedAt  time.Time
}

// DeploymentStatus enumerates the supplemented deployment record lifecycle.
type DeploymentStatus string

const (
	DeployPending    DeploymentStatus = "pending"
	DeployInProgress DeploymentStatus = "in_progress"
	DeploySucceeded  DeploymentStatus = "succeeded"
	DeployFailed     DeploymentStatus = "failed"
	DeployRolledBack DeploymentStatus = "rolled_back"
)

// Deployment is the supplemented record of one deploy-stage outcome.
type Deployment struct {
	Environment string
	Repository  string
	CommitHash  string
	ExecutionID string
	Status      DeploymentStatus
	StartedAt   time.Time
	CompletedAt *time.Time
}

// AuditLogEntry is the supplemented traceability record written by every mutating operation.
type AuditLogEntry struct {
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	Timestamp  time.Time
	Detail     map[string]interface{}
}
