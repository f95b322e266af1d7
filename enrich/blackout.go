package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"

	"alertpipe/core"
	"alertpipe/metrics"
)

// BlackoutRuleStore provides tenant-scoped access to blackout rules whose
// suppression window covers the given instant.
type BlackoutRuleStore interface {
	ListActiveBlackoutRules(ctx context.Context, tenantID string, now time.Time) ([]core.BlackoutRule, error)
}

// BlackoutEvaluator checks an alert against the tenant's active
// suppression windows.
type BlackoutEvaluator struct {
	rules     BlackoutRuleStore
	evaluator *ExpressionEvaluator
	cache     *ArtifactCache
	now       func() time.Time
	logger    *zap.SugaredLogger
}

// NewBlackoutEvaluator creates a blackout evaluator. nowFn may be nil to
// use the wall clock; tests inject a fixed clock.
func NewBlackoutEvaluator(rules BlackoutRuleStore, evaluator *ExpressionEvaluator, cache *ArtifactCache, nowFn func() time.Time, logger *zap.SugaredLogger) *BlackoutEvaluator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &BlackoutEvaluator{rules: rules, evaluator: evaluator, cache: cache, now: nowFn, logger: logger}
}

// IsBlackedOut reports whether any active blackout rule matches the
// alert. Returns on the first match. A rule whose expression references a
// member the alert does not carry simply does not match; an expression
// that exceeds its budget is skipped and logged; any other evaluation
// error aborts suppression checking — an alert is never silently treated
// as blacked out on unexpected errors.
func (be *BlackoutEvaluator) IsBlackedOut(ctx context.Context, tenantID string, alert *core.Alert) (bool, error) {
	now := be.now().UTC()
	rules, err := be.rules.ListActiveBlackoutRules(ctx, tenantID, now)
	if err != nil {
		return false, fatalError(RuleKindBlackout, "", tenantID, fmt.Errorf("failed to list blackout rules: %w", err))
	}

	fields := alert.FieldMap()
	for i := range rules {
		rule := &rules[i]
		if !rule.ActiveAt(now) {
			continue
		}

		prg, err := be.compiledFor(rule)
		if err != nil {
			return false, fatalError(RuleKindBlackout, rule.ID, tenantID, err)
		}

		outcome, evalErr := be.evaluator.Evaluate(ctx, prg, fields)
		switch outcome {
		case EvalMatched:
			return true, nil
		case EvalNotMatched:
			continue
		case EvalFailed:
			if errors.Is(evalErr, ErrEvaluationBudget) {
				metrics.EvaluationBudgetExceeded.WithLabelValues("expression").Inc()
				metrics.RuleEvalFailures.WithLabelValues(string(RuleKindBlackout), "recoverable").Inc()
				be.logger.Warnw("Blackout rule skipped: budget exceeded",
					"rule_id", rule.ID, "tenant_id", tenantID, "error", evalErr)
				continue
			}
			return false, fatalError(RuleKindBlackout, rule.ID, tenantID, evalErr)
		}
	}
	return false, nil
}

func (be *BlackoutEvaluator) compiledFor(rule *core.BlackoutRule) (cel.Program, error) {
	key := ArtifactKey(rule.ID, rule.UpdatedAt)
	v, err := be.cache.GetOrCompile(key, func() (any, error) {
		return be.evaluator.Compile(rule.CELQuery)
	})
	if err != nil {
		return nil, err
	}
	prg, ok := v.(cel.Program)
	if !ok {
		return nil, fmt.Errorf("unexpected cached artifact type %T for rule %s", v, rule.ID)
	}
	return prg, nil
}
