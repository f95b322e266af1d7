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

type pipelineFixture struct {
	pipeline *Pipeline
	stats    *memStatsStore
}

func newPipelineFixture(t *testing.T, mapping *memMappingStore, extraction memExtractionStore, blackout memBlackoutStore) *pipelineFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()
	ev, err := NewExpressionEvaluator(500*time.Millisecond, logger)
	require.NoError(t, err)
	cache := NewArtifactCache(64, time.Minute)
	stats := newMemStatsStore()

	dedup := NewDeduplicationEngine(&memDedupStore{}, stats, newMemTracker(), nil, logger)
	extractionEngine := NewExtractionRuleEngine(extraction, ev, cache, 100*time.Millisecond, logger)
	matcher := NewMappingRuleMatcher(mapping, mapping, logger)
	blackoutEval := NewBlackoutEvaluator(blackout, ev, cache, func() time.Time { return blackoutNow }, logger)

	return &pipelineFixture{
		pipeline: NewPipeline(dedup, extractionEngine, matcher, blackoutEval, logger),
		stats:    stats,
	}
}

func pipelineAlert() *core.Alert {
	return &core.Alert{
		ID:           "a-1",
		Name:         "Test Alert",
		Status:       core.AlertStatusFiring,
		Severity:     "critical",
		Source:       []string{"test-source"},
		ProviderType: "prometheus",
		Payload: map[string]any{
			"name": "Test Alert",
			"host": "prod-host-1",
		},
	}
}

func TestEnrichComplete(t *testing.T) {
	mapping := &memMappingStore{
		rules: []core.MappingRule{{
			ID:       "map-1",
			TenantID: "t1",
			Matchers: [][]string{{"host"}},
		}},
		rows: map[string][]core.MappingRow{
			"map-1": {{RuleID: "map-1", Values: map[string]string{"host": "prod-host-1", "owner": "platform"}}},
		},
	}
	extraction := memExtractionStore{extractionRule("ex-1")}
	fix := newPipelineFixture(t, mapping, extraction, nil)

	alert := pipelineAlert()
	result, err := fix.pipeline.Enrich(context.Background(), "t1", alert)
	require.NoError(t, err)

	assert.Equal(t, EnrichmentComplete, result.Status)
	assert.False(t, result.Suppressed)
	assert.Empty(t, result.Failures)
	assert.NotEmpty(t, result.Alert.Fingerprint)
	assert.Equal(t, "Test", result.Alert.Attributes["service_name"])
	assert.Equal(t, "platform", result.Alert.Attributes["owner"])
}

func TestEnrichRecordsDedupStats(t *testing.T) {
	fix := newPipelineFixture(t, &memMappingStore{}, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := fix.pipeline.Enrich(context.Background(), "t1", pipelineAlert())
		require.NoError(t, err)
	}

	// Both runs resolve the same lazily created default rule.
	var ruleID string
	for id := range fix.stats.ingested {
		ruleID = id
	}
	require.NotEmpty(t, ruleID)
	assert.Equal(t, int64(2), fix.stats.ingested[ruleID])
	assert.Equal(t, int64(1), fix.stats.unique[ruleID])
}

func TestEnrichSuppressed(t *testing.T) {
	blackout := memBlackoutStore{blackoutRule("b1", `source == "test-source"`)}
	fix := newPipelineFixture(t, &memMappingStore{}, nil, blackout)

	result, err := fix.pipeline.Enrich(context.Background(), "t1", pipelineAlert())
	require.NoError(t, err)
	assert.True(t, result.Suppressed)
	assert.Equal(t, EnrichmentComplete, result.Status)
	assert.NotEmpty(t, result.Alert.Fingerprint, "suppressed alerts are still fingerprinted and counted")
}

func TestEnrichPartialOnRecoverableFailure(t *testing.T) {
	bad := extractionRule("bad")
	bad.Regex = `(?P<broken`
	fix := newPipelineFixture(t, &memMappingStore{}, memExtractionStore{bad, extractionRule("good")}, nil)

	result, err := fix.pipeline.Enrich(context.Background(), "t1", pipelineAlert())
	require.NoError(t, err)
	assert.Equal(t, EnrichmentPartial, result.Status)
	require.Len(t, result.Failures, 1)
	assert.True(t, result.Failures[0].Recoverable)
	assert.Equal(t, "Test", result.Alert.Attributes["service_name"], "the good rule still applied")
}

func TestEnrichAbortedReturnsSnapshot(t *testing.T) {
	extraction := memExtractionStore{extractionRule("ex-1")}
	// A blackout rule returning a non-boolean aborts enrichment after
	// extraction already mutated the working alert.
	blackout := memBlackoutStore{blackoutRule("b1", `severity`)}
	fix := newPipelineFixture(t, &memMappingStore{}, extraction, blackout)

	result, err := fix.pipeline.Enrich(context.Background(), "t1", pipelineAlert())
	require.Error(t, err)
	assert.Equal(t, EnrichmentAborted, result.Status)

	// The result carries the pre-enrichment alert with an error marker,
	// not the partially mutated one.
	assert.NotContains(t, result.Alert.Attributes, "service_name")
	assert.Contains(t, result.Alert.Annotations, "enrichment_error")
}

func TestEnrichIdempotent(t *testing.T) {
	mapping := &memMappingStore{
		rules: []core.MappingRule{{
			ID:       "map-1",
			TenantID: "t1",
			Matchers: [][]string{{"host"}},
		}},
		rows: map[string][]core.MappingRow{
			"map-1": {{RuleID: "map-1", Values: map[string]string{"host": "prod-host-1", "owner": "platform"}}},
		},
	}
	fix := newPipelineFixture(t, mapping, memExtractionStore{extractionRule("ex-1")}, nil)

	alert := pipelineAlert()
	first, err := fix.pipeline.Enrich(context.Background(), "t1", alert)
	require.NoError(t, err)

	// Re-running the already-enriched alert with the same rules changes
	// nothing.
	fingerprint := first.Alert.Fingerprint
	attrs := make(map[string]any, len(first.Alert.Attributes))
	for k, v := range first.Alert.Attributes {
		attrs[k] = v
	}

	second, err := fix.pipeline.Enrich(context.Background(), "t1", first.Alert)
	require.NoError(t, err)
	assert.Equal(t, fingerprint, second.Alert.Fingerprint)
	assert.Equal(t, attrs, second.Alert.Attributes)
	assert.Equal(t, EnrichmentComplete, second.Status)
}

func TestWorkerPoolProcessesJobs(t *testing.T) {
	fix := newPipelineFixture(t, &memMappingStore{}, nil, nil)

	results := make(chan *EnrichmentResult, 4)
	pool := NewWorkerPool(context.Background(), 2, 8, fix.pipeline, func(result *EnrichmentResult, err error) {
		assert.NoError(t, err)
		results <- result
	}, zap.NewNop().Sugar())

	pool.Start()
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Submit(context.Background(), Job{TenantID: "t1", Alert: pipelineAlert()}))
	}

	for i := 0; i < 4; i++ {
		select {
		case result := <-results:
			assert.Equal(t, EnrichmentComplete, result.Status)
			assert.NotEmpty(t, result.Alert.Fingerprint)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for enrichment results")
		}
	}

	pool.Stop()
	assert.ErrorIs(t, pool.Submit(context.Background(), Job{TenantID: "t1", Alert: pipelineAlert()}), ErrPoolStopped)
}
