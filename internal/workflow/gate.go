// Package workflow implements the workflow orchestrator (component G) and its quality gate
// evaluator (component M), dispatching DAG nodes as background tasks (component H) with
// retries, stage results, and cancellation. Grounded on the orchestrator referenced but not
// fully shown by the distilled spec, and on the gate entity shape in §3.
package workflow

import (
	"fmt"

	"github.com/kirolinter/devops-orchestrator/internal/domain"
)

// GateRegistry holds every declared quality gate by name.
type GateRegistry struct {
	gates map[string]domain.Gate
}

// NewGateRegistry builds an empty registry.
func NewGateRegistry() *GateRegistry {
	return &GateRegistry{gates: make(map[string]domain.Gate)}
}

// Register adds or replaces a gate definition.
func (r *GateRegistry) Register(gate domain.Gate) error {
	if err := gate.Validate(); err != nil {
		return err
	}
	r.gates[gate.Name] = gate
	return nil
}

// Evaluate runs the named gate's criteria against a stage's output payload, producing a
// GateExecution. A criterion extracts a numeric or boolean value from output by key and compares
// it against the configured threshold with the criterion's operator.
func (r *GateRegistry) Evaluate(name string, output map[string]interface{}) (domain.GateExecution, error) {
	gate, ok := r.gates[name]
	if !ok {
		return domain.GateExecution{}, fmt.Errorf("quality gate %q is not registered", name)
	}

	total := len(gate.Criteria)
	passedCount := 0
	for key, criterion := range gate.Criteria {
		if evaluateCriterion(criterion, output[key]) {
			passedCount++
		}
	}

	score := 0.0
	if total > 0 {
		score = float64(passedCount) / float64(total) * 100
	}
	passed := passedCount == total

	exec := domain.GateExecution{
		GateName: name,
		Score:    score,
		Passed:   passed,
	}
	if passed {
		exec.Status = domain.GateExecPassed
	} else {
		exec.Status = domain.GateExecFailed
	}
	return exec, nil
}

// Bypassable reports whether a failed evaluation of the named gate may proceed given reason.
func (r *GateRegistry) Bypassable(name, reason string) bool {
	gate, ok := r.gates[name]
	return ok && gate.Bypassable && reason != ""
}

func evaluateCriterion(c domain.Criterion, raw interface{}) bool {
	value, ok := toFloat(raw)
	if !ok {
		return false
	}
	switch c.Operator {
	case ">=":
		return value >= c.Value
	case "<=":
		return value <= c.Value
	case "==":
		return value == c.Value
	default:
		return false
	}
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
