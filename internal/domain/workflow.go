package domain

import (
	"time"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
)

// RetryPolicy governs per-node retry behavior within a workflow definition.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      bool
}

// Node is one stage of a workflow DAG.
type Node struct {
	ID          string
	Name        string
	TaskType    string
	Parameters  map[string]interface{}
	Retry       *RetryPolicy
	Timeout     time.Duration
	RunsAfter   []string // node ids this node depends on
	NonFatal    bool     // a failure here does not fail the whole execution
	Gate        string   // optional quality gate name evaluated after this stage runs
}

// Definition is an acyclic graph of Nodes reachable by topological scheduling.
type Definition struct {
	ID    string
	Name  string
	Nodes map[string]*Node
}

// Validate rejects cycles and dangling dependencies at creation time.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return apierr.Validation("workflow definition id must not be empty")
	}
	for id, n := range d.Nodes {
		if n.ID != id {
			return apierr.Validation("node map key must equal node id").WithDetail("node_id", id)
		}
		for _, dep := range n.RunsAfter {
			if _, ok := d.Nodes[dep]; !ok {
				return apierr.Validation("dangling dependency").WithDetail("node_id", id).WithDetail("depends_on", dep)
			}
		}
	}
	if cyc := findCycle(d.Nodes); cyc != "" {
		return apierr.Validation("workflow definition contains a cycle").WithDetail("node_id", cyc)
	}
	return nil
}

func findCycle(nodes map[string]*Node) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range nodes[id].RunsAfter {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}
	for id := range nodes {
		if color[id] == white {
			if c := visit(id); c != "" {
				return c
			}
		}
	}
	return ""
}

// TopoOrder returns node ids in a valid topological order. Definition must already be validated.
func (d *Definition) TopoOrder() []string {
	visited := make(map[string]bool, len(d.Nodes))
	order := make([]string, 0, len(d.Nodes))
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range d.Nodes[id].RunsAfter {
			visit(dep)
		}
		order = append(order, id)
	}
	for id := range d.Nodes {
		visit(id)
	}
	return order
}

// ExecutionStatus enumerates the lifecycle of a workflow execution.
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
	ExecTimeout   ExecutionStatus = "timeout"
)

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecCompleted, ExecFailed, ExecCancelled, ExecTimeout:
		return true
	}
	return false
}

// Execution is one run of a Definition.
type Execution struct {
	ExecutionID  string
	DefinitionID string
	Status       ExecutionStatus
	TriggeredBy  string
	Environment  string
	Input        map[string]interface{}
	Output       map[string]interface{}
	ErrorData    map[string]interface{}
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// Duration returns CompletedAt-StartedAt, or 0 if not yet completed.
func (e *Execution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// Complete transitions the execution to a terminal status and stamps CompletedAt with at,
// clamped to StartedAt so that completed_at >= started_at holds.
func (e *Execution) Complete(status ExecutionStatus, at time.Time) {
	e.Status = status
	if at.Before(e.StartedAt) {
		at = e.StartedAt
	}
	t := at
	e.CompletedAt = &t
}

// StageStatus enumerates the lifecycle of a single stage result.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
	StageTimeout   StageStatus = "timeout"
)

func (s StageStatus) Terminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageSkipped, StageTimeout:
		return true
	}
	return false
}

// StageResult records the outcome of one executed node.
type StageResult struct {
	ExecutionID string
	StageID     string
	StageName   string
	StageType   string
	Status      StageStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Output      map[string]interface{}
	Error       string
	RetryCount  int
}

// ValidateExecutionID rejects an empty caller-provided execution id.
func ValidateExecutionID(id string) error {
	if id == "" {
		return apierr.Validation("execution_id must not be empty")
	}
	return nil
}
