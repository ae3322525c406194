package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
	"github.com/kirolinter/devops-orchestrator/internal/domain"
	"github.com/kirolinter/devops-orchestrator/internal/platform/logging"
	"github.com/kirolinter/devops-orchestrator/internal/platform/metrics"
)

// Coordinator serializes cross-platform operations per repository+platform pair using an
// in-process resource lock, grounded on CrossPlatformCoordinator._reserve_resources /
// _release_resources.
type Coordinator struct {
	registry *Registry
	log      *logging.Logger
	metrics  *metrics.Metrics

	mu            sync.Mutex
	rules         map[string]domain.CoordinationRule
	resourceLocks map[string]map[string]bool // "repo:<repository>:<platform>" -> set of operation ids
}

// NewCoordinator builds a Coordinator over registry.
func NewCoordinator(registry *Registry, log *logging.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		registry:      registry,
		log:           log,
		metrics:       m,
		rules:         make(map[string]domain.CoordinationRule),
		resourceLocks: make(map[string]map[string]bool),
	}
}

// AddRule registers a coordination rule, keyed by name.
func (c *Coordinator) AddRule(rule domain.CoordinationRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[rule.Name] = rule
}

func resourceKey(repository string, platform domain.Platform) string {
	return fmt.Sprintf("repo:%s:%s", repository, platform)
}

// checkAndReserve atomically reports conflicts against platforms already held by another
// in-flight operation and, if none exist, reserves the resource for operationID. Conflict
// detection and reservation must share one critical section: checking and reserving under
// separate locks would let two concurrent calls both observe a clear resource before either
// claims it.
func (c *Coordinator) checkAndReserve(operationID, repository string, platforms []domain.Platform) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var conflicts []string
	for _, p := range platforms {
		key := resourceKey(repository, p)
		if locks, ok := c.resourceLocks[key]; ok && len(locks) > 0 {
			conflicts = append(conflicts, fmt.Sprintf("%s platform busy", p))
		}
	}
	if len(conflicts) > 0 {
		return conflicts
	}
	for _, p := range platforms {
		key := resourceKey(repository, p)
		if c.resourceLocks[key] == nil {
			c.resourceLocks[key] = make(map[string]bool)
		}
		c.resourceLocks[key][operationID] = true
	}
	return nil
}

func (c *Coordinator) release(operationID, repository string, platforms []domain.Platform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range platforms {
		key := resourceKey(repository, p)
		if locks, ok := c.resourceLocks[key]; ok {
			delete(locks, operationID)
			if len(locks) == 0 {
				delete(c.resourceLocks, key)
			}
		}
	}
}

// Coordinate runs operationType against platforms for repository, honoring resource locks and
// applying every registered coordination rule whose condition matches the operation. Rules carry
// no platform set of their own, so they are not filtered by the operation's platforms.
// Grounded on coordinate_cross_platform_operation.
func (c *Coordinator) Coordinate(ctx context.Context, operationType string, platforms []domain.Platform, repository string, at time.Time) *domain.CrossPlatformOperation {
	op := &domain.CrossPlatformOperation{
		OperationID:   fmt.Sprintf("%s_%s_%d", operationType, repository, at.UnixNano()),
		OperationType: operationType,
		Platforms:     platforms,
		Status:        domain.OpInProgress,
		StartedAt:     at,
		Results:       make(map[domain.Platform]interface{}),
		Errors:        make(map[domain.Platform]string),
	}

	conflicts := c.checkAndReserve(op.OperationID, repository, platforms)
	if len(conflicts) > 0 {
		op.Complete(domain.OpFailed, at)
		op.Errors["resource_conflicts"] = fmt.Sprintf("resource conflicts detected: %v", conflicts)
		if c.metrics != nil {
			c.metrics.ResourceLockConflicts.Inc()
		}
		return op
	}
	defer c.release(op.OperationID, repository, platforms)

	if err := c.applyRules(ctx, op, repository); err != nil {
		op.Complete(domain.OpFailed, time.Now().UTC())
		op.Errors["coordination_error"] = err.Error()
		if c.log != nil {
			c.log.WithContext(ctx).WithError(err).Error("cross-platform operation failed")
		}
		return op
	}

	op.Complete(domain.OpSuccess, time.Now().UTC())
	return op
}

// applyRules evaluates every registered rule and executes its action when the condition matches.
// A rule with an unrecognized condition type never matches, and a failing or unrecognized action
// is logged and skipped; neither aborts the operation.
func (c *Coordinator) applyRules(ctx context.Context, op *domain.CrossPlatformOperation, repository string) error {
	c.mu.Lock()
	rules := make([]domain.CoordinationRule, 0, len(c.rules))
	for _, r := range c.rules {
		rules = append(rules, r)
	}
	c.mu.Unlock()

	for _, rule := range rules {
		if !conditionMet(rule.Condition, op, repository) {
			continue
		}
		if err := executeAction(ctx, rule.Action); err != nil {
			if c.log != nil {
				c.log.WithContext(ctx).WithError(err).Warn("coordination rule action failed")
			}
			continue
		}
		if c.log != nil {
			c.log.WithContext(ctx).Info("applied coordination rule: " + rule.Name)
		}
	}
	return nil
}

func conditionMet(cond domain.RuleCondition, op *domain.CrossPlatformOperation, repository string) bool {
	switch cond.Type {
	case "platform_count":
		return len(op.Platforms) >= cond.Count
	case "repository_match":
		return repository == cond.Repo
	default:
		return false // unrecognized condition types fail closed (§9 resolution)
	}
}

func executeAction(ctx context.Context, action domain.RuleAction) error {
	switch action.Type {
	case "delay":
		select {
		case <-time.After(time.Duration(action.Seconds) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	case "log":
		return nil
	default:
		return apierr.Validation(fmt.Sprintf("unrecognized coordination action type %q", action.Type))
	}
}
