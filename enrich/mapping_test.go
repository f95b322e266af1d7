package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"alertpipe/core"
)

type memMappingStore struct {
	rules []core.MappingRule
	rows  map[string][]core.MappingRow
}

func (m *memMappingStore) ListMappingRules(_ context.Context, tenantID string) ([]core.MappingRule, error) {
	var out []core.MappingRule
	for _, r := range m.rules {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memMappingStore) ListRows(_ context.Context, ruleID string) ([]core.MappingRow, error) {
	return m.rows[ruleID], nil
}

func (m *memMappingStore) QueryRowsByFieldValues(_ context.Context, ruleID, field string, values []string) ([]core.MappingRow, error) {
	wanted := make(map[string]bool, len(values))
	for _, v := range values {
		wanted[v] = true
	}
	var out []core.MappingRow
	for _, row := range m.rows[ruleID] {
		if wanted[row.Values[field]] {
			out = append(out, row)
		}
	}
	return out, nil
}

func newTestMatcher(store *memMappingStore) *MappingRuleMatcher {
	return NewMappingRuleMatcher(store, store, zap.NewNop().Sugar())
}

func hostRule(id string, priority int, createdAt time.Time) core.MappingRule {
	return core.MappingRule{
		ID:        id,
		TenantID:  "t1",
		Type:      core.MappingRuleTypeCSV,
		Matchers:  [][]string{{"host"}},
		Priority:  priority,
		CreatedAt: createdAt,
	}
}

func TestGetMatchingRowExact(t *testing.T) {
	rule := hostRule("r1", 0, time.Now())
	store := &memMappingStore{rows: map[string][]core.MappingRow{
		"r1": {
			{RuleID: "r1", Position: 0, Values: map[string]string{"host": "prod-host-1", "env": "prod", "owner": "platform"}},
			{RuleID: "r1", Position: 1, Values: map[string]string{"host": "stage-host-1", "env": "staging", "owner": "qa"}},
		},
	}}
	matcher := newTestMatcher(store)

	alert := &core.Alert{Payload: map[string]any{"host": "stage-host-1"}}
	values, ok, err := matcher.GetMatchingRow(context.Background(), &rule, alert)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"env": "staging", "owner": "qa"}, values)
}

func TestGetMatchingRowNoMatch(t *testing.T) {
	rule := hostRule("r1", 0, time.Now())
	store := &memMappingStore{rows: map[string][]core.MappingRow{
		"r1": {{RuleID: "r1", Values: map[string]string{"host": "prod-host-1", "env": "prod"}}},
	}}
	matcher := newTestMatcher(store)

	alert := &core.Alert{Payload: map[string]any{"host": "unknown-host"}}
	_, ok, err := matcher.GetMatchingRow(context.Background(), &rule, alert)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetMatchingRowWildcardCatchAll(t *testing.T) {
	rule := hostRule("r1", 0, time.Now())
	store := &memMappingStore{rows: map[string][]core.MappingRow{
		"r1": {
			{RuleID: "r1", Position: 0, Values: map[string]string{"host": "prod-host-1", "env": "prod"}},
			{RuleID: "r1", Position: 1, Values: map[string]string{"host": core.WildcardValue, "env": "unknown"}},
		},
	}}
	matcher := newTestMatcher(store)

	// Specific row wins when it comes first.
	alert := &core.Alert{Payload: map[string]any{"host": "prod-host-1"}}
	values, ok, err := matcher.GetMatchingRow(context.Background(), &rule, alert)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "prod", values["env"])

	// Unknown host falls through to the wildcard row.
	alert = &core.Alert{Payload: map[string]any{"host": "other"}}
	values, ok, err = matcher.GetMatchingRow(context.Background(), &rule, alert)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "unknown", values["env"])
}

func TestGetMatchingRowMatchOrderNotSpecificity(t *testing.T) {
	rule := hostRule("r1", 0, time.Now())
	// Wildcard row declared before the specific row shadows it: match
	// order decides, not specificity.
	store := &memMappingStore{rows: map[string][]core.MappingRow{
		"r1": {
			{RuleID: "r1", Position: 0, Values: map[string]string{"host": core.WildcardValue, "env": "unknown"}},
			{RuleID: "r1", Position: 1, Values: map[string]string{"host": "prod-host-1", "env": "prod"}},
		},
	}}
	matcher := newTestMatcher(store)

	alert := &core.Alert{Payload: map[string]any{"host": "prod-host-1"}}
	values, ok, err := matcher.GetMatchingRow(context.Background(), &rule, alert)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "unknown", values["env"])
}

func TestGetMatchingRowGroupAndSemantics(t *testing.T) {
	rule := core.MappingRule{
		ID:       "r1",
		TenantID: "t1",
		Matchers: [][]string{{"host", "severity"}},
	}
	store := &memMappingStore{rows: map[string][]core.MappingRow{
		"r1": {{RuleID: "r1", Values: map[string]string{"host": "prod-host-1", "severity": "critical", "page": "yes"}}},
	}}
	matcher := newTestMatcher(store)

	alert := &core.Alert{Severity: "critical", Payload: map[string]any{"host": "prod-host-1"}}
	values, ok, err := matcher.GetMatchingRow(context.Background(), &rule, alert)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"page": "yes"}, values)

	// One field of the group off → no match.
	alert.Severity = "warning"
	_, ok, err = matcher.GetMatchingRow(context.Background(), &rule, alert)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetMatchingRowAlternativeGroups(t *testing.T) {
	rule := core.MappingRule{
		ID:       "r1",
		TenantID: "t1",
		Matchers: [][]string{{"host"}, {"service"}},
	}
	store := &memMappingStore{rows: map[string][]core.MappingRow{
		"r1": {{RuleID: "r1", Values: map[string]string{"service": "checkout", "owner": "payments"}}},
	}}
	matcher := newTestMatcher(store)

	// The host group cannot match (row has no host field); the service
	// group does.
	alert := &core.Alert{Payload: map[string]any{"host": "x", "service": "checkout"}}
	values, ok, err := matcher.GetMatchingRow(context.Background(), &rule, alert)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payments", values["owner"])
}

func TestApplyPriorityAndNoOverwrite(t *testing.T) {
	now := time.Now()
	high := hostRule("high", 10, now)
	low := hostRule("low", 1, now)
	store := &memMappingStore{
		rules: []core.MappingRule{low, high},
		rows: map[string][]core.MappingRow{
			"high": {{RuleID: "high", Values: map[string]string{"host": "h1", "owner": "platform"}}},
			"low":  {{RuleID: "low", Values: map[string]string{"host": "h1", "owner": "fallback", "tier": "2"}}},
		},
	}
	matcher := newTestMatcher(store)

	alert := &core.Alert{Payload: map[string]any{"host": "h1"}}
	failures, err := matcher.Apply(context.Background(), "t1", alert)
	require.NoError(t, err)
	assert.Empty(t, failures)

	// High-priority rule set owner; the low-priority rule must not
	// overwrite it but still contributes new attributes.
	assert.Equal(t, "platform", alert.Attributes["owner"])
	assert.Equal(t, "2", alert.Attributes["tier"])
}

func TestApplySkipsDisabledRules(t *testing.T) {
	rule := hostRule("r1", 0, time.Now())
	rule.Disabled = true
	store := &memMappingStore{
		rules: []core.MappingRule{rule},
		rows: map[string][]core.MappingRow{
			"r1": {{RuleID: "r1", Values: map[string]string{"host": "h1", "owner": "x"}}},
		},
	}
	matcher := newTestMatcher(store)

	alert := &core.Alert{Payload: map[string]any{"host": "h1"}}
	failures, err := matcher.Apply(context.Background(), "t1", alert)
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Empty(t, alert.Attributes)
}

func TestMultiLevelMatching(t *testing.T) {
	rule := core.MappingRule{
		ID:              "topo",
		TenantID:        "t1",
		Type:            core.MappingRuleTypeTopology,
		Matchers:        [][]string{{"host"}},
		IsMultiLevel:    true,
		NewPropertyName: "topology",
	}
	store := &memMappingStore{
		rules: []core.MappingRule{rule},
		rows: map[string][]core.MappingRow{
			"topo": {
				{RuleID: "topo", Position: 0, Values: map[string]string{"host": "h1", "rack": "r1"}},
				{RuleID: "topo", Position: 1, Values: map[string]string{"host": "h2", "rack": "r2"}},
			},
		},
	}
	matcher := newTestMatcher(store)

	alert := &core.Alert{Payload: map[string]any{"host": []string{"h1", "h2", "h3"}}}
	failures, err := matcher.Apply(context.Background(), "t1", alert)
	require.NoError(t, err)
	assert.Empty(t, failures)

	topo, ok := alert.Attributes["topology"].(map[string]map[string]string)
	require.True(t, ok)
	// Exactly the matched values appear as keys; h3 is absent.
	assert.Equal(t, map[string]map[string]string{
		"h1": {"rack": "r1"},
		"h2": {"rack": "r2"},
	}, topo)
}

func TestMultiLevelCommaSeparatedString(t *testing.T) {
	rule := core.MappingRule{
		ID:              "topo",
		TenantID:        "t1",
		Matchers:        [][]string{{"host"}},
		IsMultiLevel:    true,
		NewPropertyName: "topology",
	}
	store := &memMappingStore{
		rules: []core.MappingRule{rule},
		rows: map[string][]core.MappingRow{
			"topo": {{RuleID: "topo", Values: map[string]string{"host": "h2", "rack": "r2"}}},
		},
	}
	matcher := newTestMatcher(store)

	alert := &core.Alert{Payload: map[string]any{"host": "h1, h2"}}
	_, err := matcher.Apply(context.Background(), "t1", alert)
	require.NoError(t, err)

	topo := alert.Attributes["topology"].(map[string]map[string]string)
	assert.Contains(t, topo, "h2")
	assert.NotContains(t, topo, "h1")
}

func TestApplyCollectsRecoverableFailures(t *testing.T) {
	rule := core.MappingRule{
		ID:              "bad",
		TenantID:        "t1",
		IsMultiLevel:    true,
		NewPropertyName: "x",
		// No matcher field: the rule fails recoverably, the run continues.
		Matchers: [][]string{},
	}
	good := hostRule("good", 0, time.Now())
	store := &memMappingStore{
		rules: []core.MappingRule{rule, good},
		rows: map[string][]core.MappingRow{
			"good": {{RuleID: "good", Values: map[string]string{"host": "h1", "owner": "x"}}},
		},
	}
	matcher := newTestMatcher(store)

	alert := &core.Alert{Payload: map[string]any{"host": "h1"}}
	failures, err := matcher.Apply(context.Background(), "t1", alert)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.True(t, failures[0].Recoverable)
	assert.Equal(t, "x", alert.Attributes["owner"], "later rules still run after a recoverable failure")
}
