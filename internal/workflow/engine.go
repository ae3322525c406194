package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
	"github.com/kirolinter/devops-orchestrator/internal/domain"
	"github.com/kirolinter/devops-orchestrator/internal/platform/logging"
	"github.com/kirolinter/devops-orchestrator/internal/platform/metrics"
	"github.com/kirolinter/devops-orchestrator/internal/tasks"
)

// Recorder persists workflow executions and stage results to the authoritative store (component
// B owns workflow_executions/workflow_stage_results per §3's ownership rules).
type Recorder interface {
	SaveExecution(ctx context.Context, exec *domain.Execution) error
	SaveStage(ctx context.Context, stage *domain.StageResult) error
}

// MemRecorder is an in-process Recorder, used when no relational store is configured (tests,
// local runs without Postgres).
type MemRecorder struct {
	mu         sync.Mutex
	Executions map[string]*domain.Execution
	Stages     map[string][]*domain.StageResult
}

// NewMemRecorder builds an empty MemRecorder.
func NewMemRecorder() *MemRecorder {
	return &MemRecorder{Executions: make(map[string]*domain.Execution), Stages: make(map[string][]*domain.StageResult)}
}

func (r *MemRecorder) SaveExecution(_ context.Context, exec *domain.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *exec
	r.Executions[exec.ExecutionID] = &copied
	return nil
}

func (r *MemRecorder) SaveStage(_ context.Context, stage *domain.StageResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *stage
	r.Stages[stage.ExecutionID] = append(r.Stages[stage.ExecutionID], &copied)
	return nil
}

// execState tracks the in-flight bookkeeping of one execution: per-stage status and a
// cancellation token checked at yield points (§5: stage cancel is cooperative).
type execState struct {
	mu        sync.Mutex
	cancelled bool
	stages    map[string]domain.StageStatus
}

// Engine is the workflow orchestrator (component G): validates DAGs, schedules nodes in
// topological order onto the task fabric, records stage results, applies retry policy, and
// supports cooperative cancellation. Grounded on the orchestrator referenced but not fully shown
// by the distilled spec; built fresh from the documented contract in §4.G.
type Engine struct {
	recorder Recorder
	queue    *tasks.Queue
	gates    *GateRegistry
	log      *logging.Logger
	metrics  *metrics.Metrics

	mu          sync.Mutex
	definitions map[string]*domain.Definition
	states      map[string]*execState

	// maxConcurrent bounds how many nodes of one execution run at once (§4.G: "implementation
	// defined maximum").
	maxConcurrent int
}

// NewEngine builds an Engine. recorder persists execution/stage state; queue submits ready nodes
// onto the task fabric's "workflow" queue; gates may be nil if no workflow declares gate nodes.
func NewEngine(recorder Recorder, queue *tasks.Queue, gates *GateRegistry, log *logging.Logger, m *metrics.Metrics) *Engine {
	if gates == nil {
		gates = NewGateRegistry()
	}
	return &Engine{
		recorder:      recorder,
		queue:         queue,
		gates:         gates,
		log:           log,
		metrics:       m,
		definitions:   make(map[string]*domain.Definition),
		states:        make(map[string]*execState),
		maxConcurrent: 4,
	}
}

// RegisterDefinition validates and stores a workflow definition for later execution.
func (e *Engine) RegisterDefinition(def *domain.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.definitions[def.ID] = def
	return nil
}

// StageRunner executes one node's task_type against its parameters, returning its output
// payload. Registered per task_type by the caller (cmd/orchestrator wires these to the CI/CD
// connectors, notification dispatcher, etc.).
type StageRunner func(ctx context.Context, node *domain.Node, execCtx map[string]interface{}) (map[string]interface{}, error)

// Execute runs definitionID's DAG for execution executionID, honoring triggeredBy/environment and
// the event/trigger context supplied in input. Nodes run inline against the StageRunner registered
// for their task_type, concurrently where the DAG allows, bounded by maxConcurrent.
func (e *Engine) Execute(ctx context.Context, definitionID, executionID, triggeredBy, environment string, input map[string]interface{}, runners map[string]StageRunner) (*domain.Execution, error) {
	if err := domain.ValidateExecutionID(executionID); err != nil {
		return nil, err
	}
	e.mu.Lock()
	def, ok := e.definitions[definitionID]
	e.mu.Unlock()
	if !ok {
		return nil, apierr.NotFound("workflow definition not found").WithDetail("definition_id", definitionID)
	}

	exec := &domain.Execution{
		ExecutionID:  executionID,
		DefinitionID: definitionID,
		Status:       domain.ExecPending,
		TriggeredBy:  triggeredBy,
		Environment:  environment,
		Input:        input,
		StartedAt:    time.Now().UTC(),
	}
	if err := e.recorder.SaveExecution(ctx, exec); err != nil {
		return nil, err
	}

	state := &execState{stages: make(map[string]domain.StageStatus, len(def.Nodes))}
	for id := range def.Nodes {
		state.stages[id] = domain.StagePending
	}
	e.mu.Lock()
	e.states[executionID] = state
	e.mu.Unlock()

	exec.Status = domain.ExecRunning
	_ = e.recorder.SaveExecution(ctx, exec)

	failed, failure := e.runDAG(ctx, def, exec, state, runners)

	if state.cancelled {
		exec.Complete(domain.ExecCancelled, time.Now().UTC())
	} else if failed {
		exec.Complete(domain.ExecFailed, time.Now().UTC())
		if failure != nil {
			exec.ErrorData = map[string]interface{}{
				"kind":     string(apierr.CodeOf(failure.err)),
				"message":  failure.err.Error(),
				"stage_id": failure.stageID,
			}
		}
	} else {
		exec.Complete(domain.ExecCompleted, time.Now().UTC())
	}
	if err := e.recorder.SaveExecution(ctx, exec); err != nil {
		return exec, err
	}
	if e.metrics != nil {
		e.metrics.WorkflowExecutionsTotal.WithLabelValues(string(exec.Status)).Inc()
	}
	return exec, nil
}

// stageFailure names the first fatal stage failure encountered while running a DAG, for
// populating the execution's error_data.
type stageFailure struct {
	stageID string
	err     error
}

// runDAG launches one goroutine per node; each waits on its dependencies' completion channels
// before running, so concurrency respects the DAG's edges rather than map/slice iteration order.
// def must already be validated (acyclic), which guarantees this wait graph cannot deadlock.
func (e *Engine) runDAG(ctx context.Context, def *domain.Definition, exec *domain.Execution, state *execState, runners map[string]StageRunner) (bool, *stageFailure) {
	done := make(map[string]chan struct{}, len(def.Nodes))
	for id := range def.Nodes {
		done[id] = make(chan struct{})
	}

	sem := make(chan struct{}, e.maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := false
	var failure *stageFailure

	for id, node := range def.Nodes {
		wg.Add(1)
		go func(nodeID string, n *domain.Node) {
			defer wg.Done()
			defer close(done[nodeID])

			skip := false
			for _, dep := range n.RunsAfter {
				<-done[dep]
				state.mu.Lock()
				depStatus := state.stages[dep]
				state.mu.Unlock()
				if depStatus != domain.StageCompleted && depStatus != domain.StageSkipped {
					skip = true
				}
			}

			state.mu.Lock()
			cancelled := state.cancelled
			state.mu.Unlock()

			if skip || cancelled {
				skipped := domain.StageResult{
					ExecutionID: exec.ExecutionID,
					StageID:     nodeID,
					StageName:   n.Name,
					StageType:   n.TaskType,
					Status:      domain.StageSkipped,
					StartedAt:   time.Now().UTC(),
				}
				e.finish(ctx, state, n, &skipped)
				return
			}

			sem <- struct{}{}
			defer func() { <-sem }()

			result, stageErr := e.runStage(ctx, exec, state, n, runners)

			mu.Lock()
			if result.Status == domain.StageFailed && !n.NonFatal {
				failed = true
				if failure == nil {
					failure = &stageFailure{stageID: nodeID, err: stageErr}
				}
			}
			mu.Unlock()
		}(id, node)
	}
	wg.Wait()
	return failed, failure
}

// runStage executes one node with its retry policy, records the terminal StageResult, and
// evaluates the node's quality gate (if declared). The second return value is the classified
// error behind a StageFailed result, used to populate the execution's error_data; it is nil
// otherwise.
func (e *Engine) runStage(ctx context.Context, exec *domain.Execution, state *execState, node *domain.Node, runners map[string]StageRunner) (domain.StageResult, error) {
	state.mu.Lock()
	state.stages[node.ID] = domain.StageRunning
	state.mu.Unlock()

	result := domain.StageResult{
		ExecutionID: exec.ExecutionID,
		StageID:     node.ID,
		StageName:   node.Name,
		StageType:   node.TaskType,
		Status:      domain.StageRunning,
		StartedAt:   time.Now().UTC(),
	}

	if e.queue != nil {
		_, _ = e.queue.Enqueue(ctx, tasks.QueueWorkflow, "workflow_execution", map[string]string{
			"execution_id": exec.ExecutionID,
			"stage_id":     node.ID,
			"task_type":    node.TaskType,
		})
	}

	runner, ok := runners[node.TaskType]
	if !ok {
		stageErr := apierr.Internal(fmt.Sprintf("no stage runner registered for task_type %q", node.TaskType), nil)
		result.Status = domain.StageFailed
		result.Error = stageErr.Error()
		e.finish(ctx, state, node, &result)
		return result, stageErr
	}

	maxAttempts := 1
	if node.Retry != nil && node.Retry.MaxAttempts > 0 {
		maxAttempts = node.Retry.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		state.mu.Lock()
		cancelled := state.cancelled
		state.mu.Unlock()
		if cancelled {
			result.Status = domain.StageSkipped
			e.finish(ctx, state, node, &result)
			return result, nil
		}

		stageCtx := ctx
		cancel := func() {}
		if node.Timeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, node.Timeout)
		}
		output, err := runner(stageCtx, node, exec.Input)
		cancel()
		if err == nil {
			result.Output = output
			result.Status = domain.StageCompleted
			lastErr = nil
			break
		}
		lastErr = err
		result.RetryCount = attempt - 1
		if attempt < maxAttempts {
			delay := tasks.ProfileFor("workflow_execution").Delay(attempt)
			if node.Retry != nil {
				delay = node.Retry.BaseDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}
	}

	var stageErr error
	if lastErr != nil {
		stageErr = lastErr
		result.Status = domain.StageFailed
		result.Error = stageErr.Error()
	} else if node.Gate != "" {
		gateExec, gateErr := e.gates.Evaluate(node.Gate, result.Output)
		if gateErr == nil && !gateExec.Passed {
			stageErr = apierr.Validation(fmt.Sprintf("quality gate %q failed (score %.1f)", node.Gate, gateExec.Score))
			result.Status = domain.StageFailed
			result.Error = stageErr.Error()
		}
	}

	e.finish(ctx, state, node, &result)
	return result, stageErr
}

func (e *Engine) finish(ctx context.Context, state *execState, node *domain.Node, result *domain.StageResult) {
	now := time.Now().UTC()
	result.CompletedAt = &now
	state.mu.Lock()
	state.stages[node.ID] = result.Status
	state.mu.Unlock()
	if err := e.recorder.SaveStage(ctx, result); err != nil && e.log != nil {
		e.log.WithContext(ctx).WithError(err).Warn("save stage result failed")
	}
}

// Cancel marks executionID cancelled: stages that have not started are skipped, and a running
// stage checks the mark before each retry attempt; a runner call already in progress is not
// interrupted.
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	state, ok := e.states[executionID]
	e.mu.Unlock()
	if !ok {
		return apierr.NotFound("execution not found").WithDetail("execution_id", executionID)
	}
	state.mu.Lock()
	state.cancelled = true
	state.mu.Unlock()
	return nil
}

// DefaultDefinitionFromEvent derives a workflow definition from event context (files_changed
// heuristics), per §4.G's "dynamic workflow generation" — policy, not contract.
func DefaultDefinitionFromEvent(event domain.Event) *domain.Definition {
	id := fmt.Sprintf("auto:%s:%s", event.Repository, event.ID)
	nodes := map[string]*domain.Node{
		"build": {ID: "build", Name: "build", TaskType: "build"},
		"test":  {ID: "test", Name: "test", TaskType: "test", RunsAfter: []string{"build"}},
	}
	if hasFile(event.FilesChanged, "Dockerfile") || hasFile(event.FilesChanged, "docker-compose.yml") {
		nodes["deploy"] = &domain.Node{ID: "deploy", Name: "deploy", TaskType: "deploy", RunsAfter: []string{"test"}}
	}
	return &domain.Definition{ID: id, Name: fmt.Sprintf("auto-%s", event.Kind), Nodes: nodes}
}

func hasFile(files []string, name string) bool {
	for _, f := range files {
		if f == name {
			return true
		}
	}
	return false
}

// MarshalContext is a small helper used by stage runners to round-trip node parameters through
// JSON when a typed decode is required.
func MarshalContext(params map[string]interface{}) ([]byte, error) {
	return json.Marshal(params)
}
