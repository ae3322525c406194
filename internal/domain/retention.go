package domain

import (
	"fmt"
	"strings"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
)

// RetentionPolicy declares how long rows of one table are kept.
type RetentionPolicy struct {
	TableName     string
	RetentionDays int
	DateColumn    string
	// PredicateTemplate is an optional SQL predicate fragment in which the literal token "%d"
	// expands to the effective retention horizon in days.
	PredicateTemplate string
}

// Validate enforces "retention_days > 0".
func (p *RetentionPolicy) Validate() error {
	if p.RetentionDays <= 0 {
		return apierr.Validation("retention_days must be positive").WithDetail("table", p.TableName)
	}
	if p.TableName == "" || p.DateColumn == "" {
		return apierr.Validation("retention policy must name a table and date column")
	}
	return nil
}

// ExpandPredicate substitutes the effective horizon into the "%d" token.
func (p *RetentionPolicy) ExpandPredicate(horizonDays int) string {
	if p.PredicateTemplate == "" {
		return ""
	}
	return strings.ReplaceAll(p.PredicateTemplate, "%d", fmt.Sprintf("%d", horizonDays))
}

// ConfigKey is the system_configuration override key for this policy's retention_days.
func (p *RetentionPolicy) ConfigKey() string {
	return fmt.Sprintf("data_retention_%s_days", p.TableName)
}

// AnalyticsAggregationType enumerates the aggregation kinds of the supplemented durable
// counterpart of an in-memory analytics result.
type AnalyticsAggregationType string

const (
	AggSum   AnalyticsAggregationType = "sum"
	AggAvg   AnalyticsAggregationType = "avg"
	AggP95   AnalyticsAggregationType = "p95"
	AggP99   AnalyticsAggregationType = "p99"
	AggCount AnalyticsAggregationType = "count"
)
