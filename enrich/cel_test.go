package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEvaluator(t *testing.T) *ExpressionEvaluator {
	t.Helper()
	ev, err := NewExpressionEvaluator(500*time.Millisecond, zap.NewNop().Sugar())
	require.NoError(t, err)
	return ev
}

func TestCheckSyntax(t *testing.T) {
	ev := newTestEvaluator(t)

	assert.NoError(t, ev.CheckSyntax(`source == "test-source"`))
	assert.NoError(t, ev.CheckSyntax(`severity == "critical" && name.contains("CPU")`))
	assert.Error(t, ev.CheckSyntax(`source == `))
	assert.Error(t, ev.CheckSyntax(`&&&`))
}

func TestEvaluateMatched(t *testing.T) {
	ev := newTestEvaluator(t)
	prg, err := ev.Compile(`source == "test-source"`)
	require.NoError(t, err)

	outcome, err := ev.Evaluate(context.Background(), prg, map[string]any{"source": "test-source"})
	require.NoError(t, err)
	assert.Equal(t, EvalMatched, outcome)

	outcome, err = ev.Evaluate(context.Background(), prg, map[string]any{"source": "other"})
	require.NoError(t, err)
	assert.Equal(t, EvalNotMatched, outcome)
}

func TestEvaluateMissingFieldNotMatched(t *testing.T) {
	ev := newTestEvaluator(t)
	prg, err := ev.Compile(`customer_tier == "gold"`)
	require.NoError(t, err)

	// The field is absent from the activation entirely; the expression
	// must evaluate as "not matched", never as a failure.
	outcome, err := ev.Evaluate(context.Background(), prg, map[string]any{"source": "x"})
	require.NoError(t, err)
	assert.Equal(t, EvalNotMatched, outcome)
}

func TestEvaluateNonBooleanFails(t *testing.T) {
	ev := newTestEvaluator(t)
	prg, err := ev.Compile(`severity`)
	require.NoError(t, err)

	outcome, err := ev.Evaluate(context.Background(), prg, map[string]any{"severity": "critical"})
	assert.Equal(t, EvalFailed, outcome)
	assert.Error(t, err)
}

func TestEvaluateArbitraryAttributes(t *testing.T) {
	ev := newTestEvaluator(t)

	// Rules may reference fields no schema knows about; parsing without
	// type-checking makes this work.
	prg, err := ev.Compile(`k8s_namespace == "payments" && pod_restarts > 3`)
	require.NoError(t, err)

	outcome, err := ev.Evaluate(context.Background(), prg, map[string]any{
		"k8s_namespace": "payments",
		"pod_restarts":  int64(5),
	})
	require.NoError(t, err)
	assert.Equal(t, EvalMatched, outcome)
}
