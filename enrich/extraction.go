package enrich

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/google/cel-go/cel"
	"go.uber.org/zap"

	"alertpipe/core"
	"alertpipe/metrics"
)

// ExtractionRuleStore provides tenant-scoped access to extraction rules.
type ExtractionRuleStore interface {
	ListExtractionRules(ctx context.Context, tenantID string) ([]core.ExtractionRule, error)
}

// compiledExtraction holds every per-version artifact of one extraction
// rule. A regex that fails to compile at runtime is remembered as a no-op
// rather than recompiled per alert.
type compiledExtraction struct {
	tmpl      *template.Template
	tmplErr   error
	regex     *regexp2.Regexp
	regexErr  error
	condition cel.Program
	condErr   error
}

// ExtractionRuleEngine applies regex+template attribute extraction gated
// by boolean conditions, in a pre phase (before mapping) and a post phase
// (after mapping).
type ExtractionRuleEngine struct {
	rules       ExtractionRuleStore
	evaluator   *ExpressionEvaluator
	cache       *ArtifactCache
	regexBudget time.Duration
	logger      *zap.SugaredLogger
}

// NewExtractionRuleEngine creates an extraction engine.
func NewExtractionRuleEngine(rules ExtractionRuleStore, evaluator *ExpressionEvaluator, cache *ArtifactCache, regexBudget time.Duration, logger *zap.SugaredLogger) *ExtractionRuleEngine {
	return &ExtractionRuleEngine{
		rules:       rules,
		evaluator:   evaluator,
		cache:       cache,
		regexBudget: regexBudget,
		logger:      logger,
	}
}

// Apply runs the tenant's enabled extraction rules for one phase against
// the alert, highest priority first. Recoverable per-rule failures are
// collected and returned; a fatal expression failure aborts immediately.
func (ee *ExtractionRuleEngine) Apply(ctx context.Context, tenantID string, alert *core.Alert, pre bool) ([]*RuleEvaluationError, error) {
	rules, err := ee.rules.ListExtractionRules(ctx, tenantID)
	if err != nil {
		return nil, fatalError(RuleKindExtraction, "", tenantID, fmt.Errorf("failed to list extraction rules: %w", err))
	}

	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})

	var failures []*RuleEvaluationError
	for i := range rules {
		rule := &rules[i]
		if rule.Disabled || rule.Pre != pre {
			continue
		}

		failure, err := ee.applyRule(ctx, rule, alert)
		if err != nil {
			return failures, err
		}
		if failure != nil {
			failures = append(failures, failure)
		}
	}
	return failures, nil
}

// applyRule evaluates one rule. The returned failure is recoverable and
// non-nil when the rule was skipped; the returned error is fatal.
func (ee *ExtractionRuleEngine) applyRule(ctx context.Context, rule *core.ExtractionRule, alert *core.Alert) (*RuleEvaluationError, error) {
	compiled, err := ee.compiledFor(rule)
	if err != nil {
		return nil, fatalError(RuleKindExtraction, rule.ID, rule.TenantID, err)
	}

	if rule.Condition != "" {
		if compiled.condErr != nil {
			// Conditions are validated at definition time; a parse
			// failure here is an engine fault, not missing data.
			return nil, fatalError(RuleKindExtraction, rule.ID, rule.TenantID, compiled.condErr)
		}
		outcome, evalErr := ee.evaluator.Evaluate(ctx, compiled.condition, alert.FieldMap())
		switch outcome {
		case EvalNotMatched:
			// Condition does not apply (including missing fields).
			return nil, nil
		case EvalFailed:
			if errors.Is(evalErr, ErrEvaluationBudget) {
				metrics.EvaluationBudgetExceeded.WithLabelValues("expression").Inc()
				return ee.skip(rule, evalErr), nil
			}
			return nil, fatalError(RuleKindExtraction, rule.ID, rule.TenantID, evalErr)
		}
	}

	// An attribute without template markers is a literal that cannot be
	// rendered; the rule is a no-op.
	if !strings.Contains(rule.Attribute, "{{") {
		return nil, nil
	}
	if compiled.tmplErr != nil {
		return ee.skip(rule, compiled.tmplErr), nil
	}

	var rendered strings.Builder
	if err := compiled.tmpl.Execute(&rendered, alert.FieldMap()); err != nil {
		return ee.skip(rule, fmt.Errorf("failed to render attribute template: %w", err)), nil
	}

	// A regex that fails to compile at runtime is a logged no-op, never a
	// pipeline abort.
	if compiled.regexErr != nil {
		return ee.skip(rule, compiled.regexErr), nil
	}

	captures, matched, err := NamedCaptures(compiled.regex, rendered.String())
	if err != nil {
		if errors.Is(err, ErrRegexBudget) {
			metrics.EvaluationBudgetExceeded.WithLabelValues("regex").Inc()
		}
		return ee.skip(rule, err), nil
	}
	if !matched {
		return nil, nil
	}

	for name, value := range captures {
		if name == "source" {
			// Extracted sources replace the origin sequence instead of
			// landing as a scalar attribute.
			if value != "" {
				alert.Source = []string{value}
			}
			continue
		}
		alert.SetAttribute(name, value)
	}
	return nil, nil
}

func (ee *ExtractionRuleEngine) compiledFor(rule *core.ExtractionRule) (*compiledExtraction, error) {
	key := ArtifactKey(rule.ID, rule.UpdatedAt)
	v, err := ee.cache.GetOrCompile(key, func() (any, error) {
		c := &compiledExtraction{}
		// missingkey=error: a template over a field the alert does not
		// carry must skip the rule, not extract from the literal
		// "<no value>" placeholder.
		c.tmpl, c.tmplErr = template.New("attribute").Option("missingkey=error").Parse(rule.Attribute)
		c.regex, c.regexErr = CompileExtractionRegex(rule.Regex, ee.regexBudget)
		if rule.Condition != "" {
			c.condition, c.condErr = ee.evaluator.Compile(rule.Condition)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	compiled, ok := v.(*compiledExtraction)
	if !ok {
		return nil, fmt.Errorf("unexpected cached artifact type %T for rule %s", v, rule.ID)
	}
	return compiled, nil
}

func (ee *ExtractionRuleEngine) skip(rule *core.ExtractionRule, err error) *RuleEvaluationError {
	metrics.RuleEvalFailures.WithLabelValues(string(RuleKindExtraction), "recoverable").Inc()
	ee.logger.Warnw("Extraction rule skipped",
		"rule_id", rule.ID, "tenant_id", rule.TenantID, "error", err)
	return recoverableError(RuleKindExtraction, rule.ID, rule.TenantID, err)
}
