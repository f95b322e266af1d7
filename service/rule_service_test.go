package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"alertpipe/core"
	"alertpipe/enrich"
	"alertpipe/storage"
)

type serviceFixture struct {
	svc   *RuleService
	cache *enrich.ArtifactCache
	stats *storage.SQLiteStatsStorage
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()
	sqlite, err := storage.NewSQLite(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	evaluator, err := enrich.NewExpressionEvaluator(500*time.Millisecond, logger)
	require.NoError(t, err)
	cache := enrich.NewArtifactCache(64, time.Minute)
	stats := storage.NewSQLiteStatsStorage(sqlite, logger)

	svc := NewRuleService(
		storage.NewSQLiteDedupRuleStorage(sqlite, logger),
		storage.NewSQLiteMappingRuleStorage(sqlite, logger),
		storage.NewSQLiteExtractionRuleStorage(sqlite, logger),
		storage.NewSQLiteBlackoutRuleStorage(sqlite, logger),
		stats,
		evaluator,
		cache,
		logger,
	)
	return &serviceFixture{svc: svc, cache: cache, stats: stats}
}

func TestCreateDeduplicationRuleValidation(t *testing.T) {
	fix := newServiceFixture(t)
	ctx := context.Background()

	// No fingerprint fields and not full dedup: rejected.
	err := fix.svc.CreateDeduplicationRule(ctx, &core.DeduplicationRule{
		TenantID:     "t1",
		ProviderType: "prometheus",
	})
	assert.Error(t, err)

	// Full dedup without fields is fine.
	err = fix.svc.CreateDeduplicationRule(ctx, &core.DeduplicationRule{
		TenantID:          "t1",
		ProviderType:      "prometheus",
		FullDeduplication: true,
		IgnoreFields:      []string{"ts"},
	})
	require.NoError(t, err)

	rules, err := fix.svc.ListDeduplicationRules(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.NotEmpty(t, rules[0].ID, "create stamps an id")
}

func TestCreateExtractionRuleValidation(t *testing.T) {
	fix := newServiceFixture(t)
	ctx := context.Background()

	base := func() *core.ExtractionRule {
		return &core.ExtractionRule{
			TenantID:  "t1",
			Attribute: "{{ .name }}",
			Regex:     `(?P<service_name>\w+)`,
		}
	}

	require.NoError(t, fix.svc.CreateExtractionRule(ctx, base()))

	bad := base()
	bad.Regex = `(?P<broken`
	err := fix.svc.CreateExtractionRule(ctx, bad)
	require.Error(t, err, "malformed regex rejected at definition time")
	var cfgErr *core.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	noGroups := base()
	noGroups.Regex = `\w+`
	assert.Error(t, fix.svc.CreateExtractionRule(ctx, noGroups), "named capture groups are required")

	redos := base()
	redos.Regex = `(?P<x>(a+)+*)`
	assert.Error(t, fix.svc.CreateExtractionRule(ctx, redos))

	badCond := base()
	badCond.Condition = `severity == `
	assert.Error(t, fix.svc.CreateExtractionRule(ctx, badCond), "malformed condition rejected at definition time")
}

func TestCreateBlackoutRuleValidation(t *testing.T) {
	fix := newServiceFixture(t)
	ctx := context.Background()

	start := time.Now().UTC()
	require.NoError(t, fix.svc.CreateBlackoutRule(ctx, &core.BlackoutRule{
		TenantID:  "t1",
		CELQuery:  `source == "test-source"`,
		StartTime: start,
		Enabled:   true,
	}))

	assert.Error(t, fix.svc.CreateBlackoutRule(ctx, &core.BlackoutRule{
		TenantID:  "t1",
		CELQuery:  `source == `,
		StartTime: start,
	}), "malformed query rejected at definition time")

	before := start.Add(-time.Hour)
	assert.Error(t, fix.svc.CreateBlackoutRule(ctx, &core.BlackoutRule{
		TenantID:  "t1",
		CELQuery:  `true`,
		StartTime: start,
		EndTime:   &before,
	}))
}

func TestCreateMappingRuleValidation(t *testing.T) {
	fix := newServiceFixture(t)
	ctx := context.Background()

	assert.Error(t, fix.svc.CreateMappingRule(ctx, &core.MappingRule{
		TenantID:        "t1",
		Matchers:        [][]string{{"host"}},
		IsMultiLevel:    true,
		NewPropertyName: "",
	}, nil), "multi-level rules require new_property_name")

	require.NoError(t, fix.svc.CreateMappingRule(ctx, &core.MappingRule{
		TenantID: "t1",
		Matchers: [][]string{{"host"}},
	}, []core.MappingRow{
		{Values: map[string]string{"host": "h1", "owner": "x"}},
	}))
}

func TestUpdateInvalidatesCompiledArtifacts(t *testing.T) {
	fix := newServiceFixture(t)
	ctx := context.Background()

	rule := &core.ExtractionRule{
		TenantID:  "t1",
		Attribute: "{{ .name }}",
		Regex:     `(?P<service_name>\w+)`,
	}
	require.NoError(t, fix.svc.CreateExtractionRule(ctx, rule))

	// Simulate the runtime caching an artifact for the current version.
	key := enrich.ArtifactKey(rule.ID, rule.UpdatedAt)
	_, err := fix.cache.GetOrCompile(key, func() (any, error) { return "compiled", nil })
	require.NoError(t, err)
	require.Equal(t, 1, fix.cache.Len())

	rule.Regex = `(?P<alert_type>\w+)`
	require.NoError(t, fix.svc.UpdateExtractionRule(ctx, rule))
	assert.Equal(t, 0, fix.cache.Len(), "update drops the stale compiled artifact")
}

func TestGetDeduplicationStatsTenantScoped(t *testing.T) {
	fix := newServiceFixture(t)
	ctx := context.Background()

	rule := &core.DeduplicationRule{
		TenantID:          "t1",
		ProviderType:      "prometheus",
		FingerprintFields: []string{"name"},
	}
	require.NoError(t, fix.svc.CreateDeduplicationRule(ctx, rule))
	require.NoError(t, fix.stats.IncrementIngested(ctx, rule.ID))

	stats, err := fix.svc.GetDeduplicationStats(ctx, "t1", rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Ingested)

	// Another tenant cannot read the stats through the rule id.
	_, err = fix.svc.GetDeduplicationStats(ctx, "t2", rule.ID)
	assert.ErrorIs(t, err, storage.ErrRuleNotFound)
}

func TestPreviewDeduplicationRule(t *testing.T) {
	fix := newServiceFixture(t)

	rule := &core.DeduplicationRule{
		TenantID:          "t1",
		ProviderType:      "prometheus",
		FingerprintFields: []string{"name", "severity"},
	}
	sample := &core.Alert{Name: "HighCPU", Severity: "critical"}

	fp1, err := fix.svc.PreviewDeduplicationRule(rule, sample)
	require.NoError(t, err)
	fp2, err := fix.svc.PreviewDeduplicationRule(rule, sample)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)

	// Previews never touch statistics.
	stats, err := fix.stats.GetStats(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.Ingested)
}

func TestPreviewMappingRule(t *testing.T) {
	fix := newServiceFixture(t)

	rule := &core.MappingRule{
		TenantID: "t1",
		Matchers: [][]string{{"host"}},
	}
	rows := []core.MappingRow{
		{Values: map[string]string{"host": "h1", "owner": "platform"}},
	}
	sample := &core.Alert{Payload: map[string]any{"host": "h1"}}

	values, ok, err := fix.svc.PreviewMappingRule(context.Background(), rule, rows, sample)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "platform", values["owner"])

	sample = &core.Alert{Payload: map[string]any{"host": "h2"}}
	_, ok, err = fix.svc.PreviewMappingRule(context.Background(), rule, rows, sample)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPreviewExtractionRule(t *testing.T) {
	fix := newServiceFixture(t)

	rule := &core.ExtractionRule{
		TenantID:  "t1",
		Attribute: "{{ .name }}",
		Regex:     `(?P<service_name>Test) (?P<alert_type>Alert)`,
	}
	sample := &core.Alert{Name: "Test Alert"}

	preview, err := fix.svc.PreviewExtractionRule(context.Background(), rule, sample)
	require.NoError(t, err)
	assert.True(t, preview.Matched)
	assert.Equal(t, "Test", preview.Alert.Attributes["service_name"])
	assert.Equal(t, "Alert", preview.Alert.Attributes["alert_type"])

	// The sample itself is untouched.
	assert.Empty(t, sample.Attributes)
	// Preview compiles never land in the runtime cache.
	assert.Equal(t, 0, fix.cache.Len())
}

func TestPreviewBlackoutRule(t *testing.T) {
	fix := newServiceFixture(t)

	now := time.Now().UTC()
	rule := &core.BlackoutRule{
		TenantID:  "t1",
		CELQuery:  `source == "test-source"`,
		StartTime: now.Add(-time.Minute),
		Enabled:   true,
	}
	sample := &core.Alert{Source: []string{"test-source"}}

	preview, err := fix.svc.PreviewBlackoutRule(context.Background(), rule, sample)
	require.NoError(t, err)
	assert.True(t, preview.QueryMatched)
	assert.True(t, preview.WindowActive)
	assert.True(t, preview.WouldSuppress)

	rule.StartTime = now.Add(time.Hour)
	rule.ID = ""
	preview, err = fix.svc.PreviewBlackoutRule(context.Background(), rule, sample)
	require.NoError(t, err)
	assert.True(t, preview.QueryMatched)
	assert.False(t, preview.WindowActive)
	assert.False(t, preview.WouldSuppress)
}
