package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"alertpipe/core"
	"alertpipe/enrich"
)

// Preview operations evaluate a candidate rule against a sample alert
// without persisting anything and without mutating statistics. They run
// on throwaway engine instances with a private artifact cache so preview
// compiles never pollute the runtime cache.

// ExtractionPreview is the result of previewing an extraction rule.
type ExtractionPreview struct {
	// Matched is true when the rule produced at least one attribute or
	// replaced the source sequence.
	Matched bool `json:"matched"`
	// Alert is the sample after applying the rule.
	Alert *core.Alert `json:"alert"`
	// Skipped carries the reason when the rule was skipped as a
	// recoverable failure.
	Skipped string `json:"skipped,omitempty"`
}

// BlackoutPreview is the result of previewing a blackout rule.
type BlackoutPreview struct {
	QueryMatched  bool `json:"query_matched"`
	WindowActive  bool `json:"window_active"`
	WouldSuppress bool `json:"would_suppress"`
}

// previewStamp fills the identity fields a candidate rule does not carry
// yet, so definition-time validation applies to previews unchanged.
func previewStamp(id *string, updatedAt *time.Time) {
	if *id == "" {
		*id = "preview-" + uuid.NewString()
	}
	if updatedAt.IsZero() {
		*updatedAt = time.Now().UTC()
	}
}

// PreviewDeduplicationRule returns the fingerprint the candidate rule
// would assign to the sample alert.
func (s *RuleService) PreviewDeduplicationRule(rule *core.DeduplicationRule, sample *core.Alert) (string, error) {
	previewStamp(&rule.ID, &rule.UpdatedAt)
	if err := s.validator.ValidateDeduplicationRule(rule); err != nil {
		return "", err
	}
	calc := core.NewFingerprintCalculatorWithLogger(s.logger)
	return calc.Calculate(sample, rule), nil
}

// PreviewMappingRule returns the row enrichment the candidate rule would
// apply to the sample alert, with ok=false when no row matches.
func (s *RuleService) PreviewMappingRule(ctx context.Context, rule *core.MappingRule, rows []core.MappingRow, sample *core.Alert) (map[string]string, bool, error) {
	previewStamp(&rule.ID, &rule.UpdatedAt)
	if rule.Type == "" {
		rule.Type = core.MappingRuleTypeCSV
	}
	if err := s.validator.ValidateMappingRule(rule); err != nil {
		return nil, false, err
	}
	matcher := enrich.NewMappingRuleMatcher(nil, staticRowStore(rows), s.logger)
	return matcher.GetMatchingRow(ctx, rule, sample)
}

// PreviewExtractionRule applies the candidate rule to a copy of the
// sample alert and reports what it would produce.
func (s *RuleService) PreviewExtractionRule(ctx context.Context, rule *core.ExtractionRule, sample *core.Alert) (*ExtractionPreview, error) {
	previewStamp(&rule.ID, &rule.UpdatedAt)
	if err := s.validateExtraction(rule); err != nil {
		return nil, err
	}

	candidate := *rule
	candidate.Disabled = false
	candidate.UpdatedAt = time.Now().UTC()

	engine := enrich.NewExtractionRuleEngine(
		staticExtractionStore{candidate},
		s.evaluator,
		enrich.NewArtifactCache(4, time.Minute),
		0,
		s.logger,
	)

	enriched := sample.Clone()
	before := len(enriched.Attributes)
	beforeSource := fmt.Sprintf("%v", enriched.Source)

	failures, err := engine.Apply(ctx, candidate.TenantID, enriched, candidate.Pre)
	if err != nil {
		return nil, err
	}

	preview := &ExtractionPreview{
		Matched: len(enriched.Attributes) > before || fmt.Sprintf("%v", enriched.Source) != beforeSource,
		Alert:   enriched,
	}
	if len(failures) > 0 {
		preview.Skipped = failures[0].Err.Error()
	}
	return preview, nil
}

// PreviewBlackoutRule evaluates the candidate rule's query and window
// against the sample alert.
func (s *RuleService) PreviewBlackoutRule(ctx context.Context, rule *core.BlackoutRule, sample *core.Alert) (*BlackoutPreview, error) {
	previewStamp(&rule.ID, &rule.UpdatedAt)
	if err := s.validateBlackout(rule); err != nil {
		return nil, err
	}

	prg, err := s.evaluator.Compile(rule.CELQuery)
	if err != nil {
		return nil, err
	}
	outcome, err := s.evaluator.Evaluate(ctx, prg, sample.FieldMap())
	if outcome == enrich.EvalFailed {
		return nil, err
	}

	matched := outcome == enrich.EvalMatched
	active := rule.ActiveAt(time.Now().UTC())
	return &BlackoutPreview{
		QueryMatched:  matched,
		WindowActive:  active,
		WouldSuppress: matched && active,
	}, nil
}

// staticRowStore serves a fixed row set for preview evaluation.
type staticRowStore []core.MappingRow

func (s staticRowStore) ListRows(_ context.Context, _ string) ([]core.MappingRow, error) {
	return s, nil
}

func (s staticRowStore) QueryRowsByFieldValues(_ context.Context, _ string, field string, values []string) ([]core.MappingRow, error) {
	wanted := make(map[string]bool, len(values))
	for _, v := range values {
		wanted[v] = true
	}
	var out []core.MappingRow
	for i := range s {
		if wanted[s[i].Values[field]] {
			out = append(out, s[i])
		}
	}
	return out, nil
}

// staticExtractionStore serves a single candidate rule for preview.
type staticExtractionStore struct {
	rule core.ExtractionRule
}

func (s staticExtractionStore) ListExtractionRules(_ context.Context, _ string) ([]core.ExtractionRule, error) {
	return []core.ExtractionRule{s.rule}, nil
}
