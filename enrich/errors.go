// Package enrich implements the alert normalization and enrichment
// pipeline: fingerprinting, deduplication statistics, mapping-rule
// lookups, extraction rules, and blackout suppression.
package enrich

import "fmt"

// RuleKind identifies which rule family produced an error or enrichment.
type RuleKind string

const (
	RuleKindDeduplication RuleKind = "deduplication"
	RuleKindMapping       RuleKind = "mapping"
	RuleKindExtraction    RuleKind = "extraction"
	RuleKindBlackout      RuleKind = "blackout"
)

// RuleEvaluationError reports a failure while evaluating one rule against
// one alert. Recoverable failures (missing fields, regex timeouts,
// row-lookup misses) skip the offending rule and let the pipeline
// continue; non-recoverable failures abort the current alert's enrichment.
type RuleEvaluationError struct {
	Kind        RuleKind
	RuleID      string
	TenantID    string
	Recoverable bool
	Err         error
}

func (e *RuleEvaluationError) Error() string {
	mode := "fatal"
	if e.Recoverable {
		mode = "recoverable"
	}
	return fmt.Sprintf("%s rule %s (tenant %s): %s evaluation error: %v", e.Kind, e.RuleID, e.TenantID, mode, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

func recoverableError(kind RuleKind, ruleID, tenantID string, err error) *RuleEvaluationError {
	return &RuleEvaluationError{Kind: kind, RuleID: ruleID, TenantID: tenantID, Recoverable: true, Err: err}
}

func fatalError(kind RuleKind, ruleID, tenantID string, err error) *RuleEvaluationError {
	return &RuleEvaluationError{Kind: kind, RuleID: ruleID, TenantID: tenantID, Err: err}
}
