package enrich

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"alertpipe/core"
	"alertpipe/metrics"
)

// MappingRuleStore provides tenant-scoped access to mapping rules.
type MappingRuleStore interface {
	ListMappingRules(ctx context.Context, tenantID string) ([]core.MappingRule, error)
}

// MappingRowStore provides access to a rule's lookup-table rows. Row
// tables may hold thousands of entries, so QueryRowsByFieldValues must
// push the IN-set filter down to the storage layer instead of scanning
// rows client-side.
type MappingRowStore interface {
	ListRows(ctx context.Context, ruleID string) ([]core.MappingRow, error)
	QueryRowsByFieldValues(ctx context.Context, ruleID, field string, values []string) ([]core.MappingRow, error)
}

// MappingRuleMatcher resolves tenant lookup tables against alert
// attributes.
type MappingRuleMatcher struct {
	rules  MappingRuleStore
	rows   MappingRowStore
	logger *zap.SugaredLogger
}

// NewMappingRuleMatcher creates a mapping-rule matcher.
func NewMappingRuleMatcher(rules MappingRuleStore, rows MappingRowStore, logger *zap.SugaredLogger) *MappingRuleMatcher {
	return &MappingRuleMatcher{rules: rules, rows: rows, logger: logger}
}

// GetMatchingRow finds the first row satisfying the first matcher group
// that has any match. A row matches a group when, for every field in the
// group, the row's value equals the alert's value or is the wildcard
// sentinel. Evaluation stops at the first success: wildcard rows act as
// catch-alls only because they are declared after specific rows, match
// order decides the winner, not specificity.
//
// Returns the row's enrichment values (row fields beyond the matcher
// fields) or ok=false when nothing matched.
func (mm *MappingRuleMatcher) GetMatchingRow(ctx context.Context, rule *core.MappingRule, alert *core.Alert) (map[string]string, bool, error) {
	rows, err := mm.rows.ListRows(ctx, rule.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load rows for mapping rule %s: %w", rule.ID, err)
	}

	for _, group := range rule.Matchers {
		for i := range rows {
			if rowMatchesGroup(&rows[i], group, alert) {
				return rows[i].EnrichmentValues(group), true, nil
			}
		}
	}
	return nil, false, nil
}

// GetMatchingRowsMultiLevel resolves many candidate values for a single
// field in one storage query, returning each matched value mapped to its
// row's extra attributes. Unmatched values are absent from the result.
func (mm *MappingRuleMatcher) GetMatchingRowsMultiLevel(ctx context.Context, rule *core.MappingRule, field string, values []string) (map[string]map[string]string, error) {
	if len(values) == 0 {
		return map[string]map[string]string{}, nil
	}

	rows, err := mm.rows.QueryRowsByFieldValues(ctx, rule.ID, field, values)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows for mapping rule %s: %w", rule.ID, err)
	}

	wanted := make(map[string]bool, len(values))
	for _, v := range values {
		wanted[v] = true
	}

	result := make(map[string]map[string]string, len(rows))
	for i := range rows {
		key := rows[i].Values[field]
		if !wanted[key] {
			continue
		}
		if _, seen := result[key]; seen {
			// First row per value wins, consistent with single-row
			// matching order.
			continue
		}
		result[key] = rows[i].EnrichmentValues([]string{field})
	}
	return result, nil
}

// Apply evaluates all of a tenant's enabled mapping rules against the
// alert in descending priority order, merging matched row attributes into
// the alert. Attributes applied by a higher-priority rule are not
// overwritten by later rules in the same run.
func (mm *MappingRuleMatcher) Apply(ctx context.Context, tenantID string, alert *core.Alert) ([]*RuleEvaluationError, error) {
	rules, err := mm.rules.ListMappingRules(ctx, tenantID)
	if err != nil {
		return nil, fatalError(RuleKindMapping, "", tenantID, fmt.Errorf("failed to list mapping rules: %w", err))
	}

	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})

	var failures []*RuleEvaluationError
	applied := make(map[string]bool)

	for i := range rules {
		rule := &rules[i]
		if rule.Disabled {
			continue
		}

		if rule.IsMultiLevel {
			if err := mm.applyMultiLevel(ctx, rule, alert, applied); err != nil {
				failures = append(failures, recoverableError(RuleKindMapping, rule.ID, tenantID, err))
				mm.ruleFailure(rule, err)
			}
			continue
		}

		enrichment, ok, err := mm.GetMatchingRow(ctx, rule, alert)
		if err != nil {
			failures = append(failures, recoverableError(RuleKindMapping, rule.ID, tenantID, err))
			mm.ruleFailure(rule, err)
			continue
		}
		if !ok {
			continue
		}
		for k, v := range enrichment {
			if applied[k] {
				continue
			}
			alert.SetAttribute(k, v)
			applied[k] = true
		}
	}
	return failures, nil
}

func (mm *MappingRuleMatcher) applyMultiLevel(ctx context.Context, rule *core.MappingRule, alert *core.Alert, applied map[string]bool) error {
	if len(rule.Matchers) == 0 || len(rule.Matchers[0]) == 0 {
		return fmt.Errorf("multi-level mapping rule %s has no matcher field", rule.ID)
	}
	field := rule.Matchers[0][0]

	values := candidateValues(alert, field)
	if len(values) == 0 {
		return nil
	}

	matched, err := mm.GetMatchingRowsMultiLevel(ctx, rule, field, values)
	if err != nil {
		return err
	}
	if len(matched) == 0 || applied[rule.NewPropertyName] {
		return nil
	}
	alert.SetAttribute(rule.NewPropertyName, matched)
	applied[rule.NewPropertyName] = true
	return nil
}

func (mm *MappingRuleMatcher) ruleFailure(rule *core.MappingRule, err error) {
	metrics.RuleEvalFailures.WithLabelValues(string(RuleKindMapping), "recoverable").Inc()
	mm.logger.Warnw("Mapping rule evaluation failed",
		"rule_id", rule.ID, "tenant_id", rule.TenantID, "error", err)
}

// rowMatchesGroup reports whether a row satisfies every field of a
// matcher group against the alert.
func rowMatchesGroup(row *core.MappingRow, group []string, alert *core.Alert) bool {
	for _, field := range group {
		rowValue, ok := row.Values[field]
		if !ok {
			return false
		}
		if rowValue == core.WildcardValue {
			continue
		}
		if rowValue != alert.StringField(field) {
			return false
		}
	}
	return true
}

// candidateValues extracts the list of lookup values an alert carries for
// a field: a string list, a delimited string, or a single scalar.
func candidateValues(alert *core.Alert, field string) []string {
	v, ok := alert.Field(field)
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprintf("%v", e))
		}
		return out
	case string:
		if strings.Contains(t, ",") {
			parts := strings.Split(t, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts
		}
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}
