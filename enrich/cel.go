package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
)

// EvalOutcome is the tri-state result of evaluating a boolean expression
// against an alert. A missing-member error maps to EvalNotMatched; every
// other evaluation failure maps to EvalFailed.
type EvalOutcome int

const (
	EvalMatched EvalOutcome = iota
	EvalNotMatched
	EvalFailed
)

// ErrEvaluationBudget marks an expression that exceeded its execution
// budget. Callers treat it as a recoverable per-rule failure.
var ErrEvaluationBudget = errors.New("expression evaluation budget exceeded")

// ExpressionEvaluator compiles and evaluates sandboxed boolean expressions
// over alert fields. Expressions are parsed without type-checking so that
// rules may reference arbitrary alert attributes; identifiers that resolve
// to nothing at runtime surface as missing-member errors, which evaluate
// as "not matched" rather than failures.
type ExpressionEvaluator struct {
	env    *cel.Env
	budget time.Duration
	logger *zap.SugaredLogger
}

// NewExpressionEvaluator creates an evaluator with the given per-rule
// execution budget.
func NewExpressionEvaluator(budget time.Duration, logger *zap.SugaredLogger) (*ExpressionEvaluator, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}
	if budget <= 0 {
		budget = 500 * time.Millisecond
	}
	return &ExpressionEvaluator{env: env, budget: budget, logger: logger}, nil
}

// CheckSyntax validates expression syntax at rule-definition time.
func (ee *ExpressionEvaluator) CheckSyntax(expr string) error {
	if _, iss := ee.env.Parse(expr); iss != nil && iss.Err() != nil {
		return fmt.Errorf("invalid expression: %w", iss.Err())
	}
	return nil
}

// Compile parses an expression into an evaluable program. Compilation is
// expected to happen at most once per rule version; callers hold the
// result in the artifact cache.
func (ee *ExpressionEvaluator) Compile(expr string) (cel.Program, error) {
	ast, iss := ee.env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid expression: %w", iss.Err())
	}
	prg, err := ee.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build expression program: %w", err)
	}
	return prg, nil
}

// Evaluate runs a compiled program against the alert field map under the
// execution budget.
func (ee *ExpressionEvaluator) Evaluate(ctx context.Context, prg cel.Program, fields map[string]any) (EvalOutcome, error) {
	evalCtx, cancel := context.WithTimeout(ctx, ee.budget)
	defer cancel()

	val, _, err := prg.ContextEval(evalCtx, fields)
	if err != nil {
		if isMissingMember(err) {
			return EvalNotMatched, nil
		}
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return EvalFailed, fmt.Errorf("%w after %v", ErrEvaluationBudget, ee.budget)
		}
		return EvalFailed, fmt.Errorf("expression evaluation failed: %w", err)
	}

	matched, ok := val.Value().(bool)
	if !ok {
		return EvalFailed, fmt.Errorf("expression returned %T, expected bool", val.Value())
	}
	if matched {
		return EvalMatched, nil
	}
	return EvalNotMatched, nil
}

// isMissingMember identifies runtime errors caused by an expression
// referencing a field the alert does not carry.
func isMissingMember(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such attribute") ||
		strings.Contains(msg, "no such key") ||
		strings.Contains(msg, "no such member")
}
