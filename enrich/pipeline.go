package enrich

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"alertpipe/core"
	"alertpipe/metrics"
)

// EnrichmentStatus classifies how far the pipeline got. Callers can always
// distinguish "fully enriched", "partially enriched with N rule failures",
// and "enrichment aborted"; partial enrichment is never presented as
// complete.
type EnrichmentStatus string

const (
	EnrichmentComplete EnrichmentStatus = "complete"
	EnrichmentPartial  EnrichmentStatus = "partial"
	EnrichmentAborted  EnrichmentStatus = "aborted"
)

// enrichmentErrorAnnotation marks an alert whose enrichment aborted; the
// alert is still handed downstream in its pre-enrichment form.
const enrichmentErrorAnnotation = "enrichment_error"

// EnrichmentResult is the pipeline's output for one inbound alert.
type EnrichmentResult struct {
	Alert      *core.Alert
	Suppressed bool
	Status     EnrichmentStatus
	Failures   []*RuleEvaluationError
}

// Pipeline sequences fingerprinting, deduplication accounting, extraction
// (pre), mapping, extraction (post), and blackout evaluation over one
// inbound alert. Re-running it on an already-enriched alert with the same
// rule set yields the same result: each step reads from and writes to
// explicit named fields rather than accumulating side effects.
type Pipeline struct {
	dedup      *DeduplicationEngine
	extraction *ExtractionRuleEngine
	mapping    *MappingRuleMatcher
	blackout   *BlackoutEvaluator
	logger     *zap.SugaredLogger
}

// NewPipeline creates the orchestrator over the four engines.
func NewPipeline(dedup *DeduplicationEngine, extraction *ExtractionRuleEngine, mapping *MappingRuleMatcher, blackout *BlackoutEvaluator, logger *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		dedup:      dedup,
		extraction: extraction,
		mapping:    mapping,
		blackout:   blackout,
		logger:     logger,
	}
}

// Enrich runs one alert through the full pipeline. The returned error is
// non-nil only when enrichment aborted; the result still carries the
// pre-enrichment alert with an error marker so it can be persisted rather
// than dropped.
func (p *Pipeline) Enrich(ctx context.Context, tenantID string, alert *core.Alert) (*EnrichmentResult, error) {
	start := time.Now()
	snapshot := alert.Clone()
	var failures []*RuleEvaluationError

	// Fingerprint + deduplication accounting.
	rule, err := p.dedup.ResolveRule(ctx, tenantID, alert.ProviderType, alert.ProviderID)
	if err != nil {
		return p.abort(snapshot, start, fatalError(RuleKindDeduplication, "", tenantID, err))
	}
	alert.Fingerprint = p.dedup.Fingerprint(alert, rule)
	p.dedup.RecordIngestion(ctx, rule, alert.Fingerprint)

	// Extraction, pre phase.
	phaseFailures, err := p.extraction.Apply(ctx, tenantID, alert, true)
	failures = append(failures, phaseFailures...)
	if err != nil {
		return p.abort(snapshot, start, err)
	}

	// Mapping enrichment.
	mapFailures, err := p.mapping.Apply(ctx, tenantID, alert)
	failures = append(failures, mapFailures...)
	if err != nil {
		return p.abort(snapshot, start, err)
	}

	// Extraction, post phase.
	phaseFailures, err = p.extraction.Apply(ctx, tenantID, alert, false)
	failures = append(failures, phaseFailures...)
	if err != nil {
		return p.abort(snapshot, start, err)
	}

	// Blackout suppression.
	suppressed, err := p.blackout.IsBlackedOut(ctx, tenantID, alert)
	if err != nil {
		return p.abort(snapshot, start, err)
	}
	if suppressed {
		metrics.AlertsSuppressed.Inc()
	}

	status := EnrichmentComplete
	if len(failures) > 0 {
		status = EnrichmentPartial
	}
	metrics.AlertsEnriched.WithLabelValues(string(status)).Inc()
	metrics.EnrichmentDuration.Observe(time.Since(start).Seconds())

	return &EnrichmentResult{
		Alert:      alert,
		Suppressed: suppressed,
		Status:     status,
		Failures:   failures,
	}, nil
}

// abort hands back the pre-enrichment alert with an error marker so the
// caller can persist it instead of dropping it.
func (p *Pipeline) abort(snapshot *core.Alert, start time.Time, err error) (*EnrichmentResult, error) {
	var ruleErr *RuleEvaluationError
	if errors.As(err, &ruleErr) {
		metrics.RuleEvalFailures.WithLabelValues(string(ruleErr.Kind), "fatal").Inc()
		p.logger.Errorw("Enrichment aborted",
			"rule_id", ruleErr.RuleID, "tenant_id", ruleErr.TenantID, "kind", ruleErr.Kind, "error", ruleErr.Err)
	} else {
		p.logger.Errorw("Enrichment aborted", "error", err)
	}

	if snapshot.Annotations == nil {
		snapshot.Annotations = make(map[string]string)
	}
	snapshot.Annotations[enrichmentErrorAnnotation] = err.Error()

	metrics.AlertsEnriched.WithLabelValues(string(EnrichmentAborted)).Inc()
	metrics.EnrichmentDuration.Observe(time.Since(start).Seconds())

	return &EnrichmentResult{
		Alert:  snapshot,
		Status: EnrichmentAborted,
	}, err
}
