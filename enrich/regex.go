package enrich

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// ErrRegexBudget marks a regex match that exceeded its execution budget.
// Callers treat it as a recoverable per-rule failure.
var ErrRegexBudget = errors.New("regex match budget exceeded")

// CompileExtractionRegex compiles an extraction pattern with a hard match
// timeout. Patterns use RE2-compatible syntax (the same syntax validated
// at rule-definition time) but run on an engine that enforces the budget,
// so a pathological pattern cannot stall the pipeline.
func CompileExtractionRegex(pattern string, budget time.Duration) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(pattern, regexp2.RE2)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex: %w", err)
	}
	if budget <= 0 {
		budget = 100 * time.Millisecond
	}
	re.MatchTimeout = budget
	return re, nil
}

// NamedCaptures applies a compiled pattern to the input and returns the
// named capture groups of the first match. The second return is false
// when the pattern does not match.
func NamedCaptures(re *regexp2.Regexp, input string) (map[string]string, bool, error) {
	m, err := re.FindStringMatch(input)
	if err != nil {
		if strings.Contains(err.Error(), "timeout") {
			return nil, false, fmt.Errorf("%w: %v", ErrRegexBudget, err)
		}
		return nil, false, fmt.Errorf("regex match failed: %w", err)
	}
	if m == nil {
		return nil, false, nil
	}

	captures := make(map[string]string)
	for _, g := range m.Groups() {
		if g.Name == "" || isNumericName(g.Name) {
			continue
		}
		if len(g.Captures) == 0 {
			continue
		}
		captures[g.Name] = g.String()
	}
	return captures, true, nil
}

func isNumericName(name string) bool {
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
