// Package util holds small shared helpers with no domain dependencies.
package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"
)

const (
	// MaxRegexLength is the maximum allowed regex pattern length.
	MaxRegexLength = 500
	// MaxAlternations caps `|` branches to bound pattern complexity.
	MaxAlternations = 50
	// MaxRepetition caps bounded repetition counts like {999}.
	MaxRepetition = 999
)

var (
	namedGroupRe = regexp.MustCompile(`\(\?P?<[A-Za-z_][A-Za-z0-9_]*>`)
	repetitionRe = regexp.MustCompile(`\{(\d+)(?:,\d*)?\}`)
)

// RegexValidator validates regex patterns at rule-definition time so that
// malformed or pathological patterns never reach the runtime pipeline.
type RegexValidator struct {
	maxLength int
}

// NewRegexValidator creates a RegexValidator with default limits.
func NewRegexValidator() *RegexValidator {
	return &RegexValidator{maxLength: MaxRegexLength}
}

// ValidatePattern checks a pattern for syntax errors, length, and known
// catastrophic-backtracking shapes.
func (rv *RegexValidator) ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("regex pattern cannot be empty")
	}
	if len(pattern) > rv.maxLength {
		return fmt.Errorf("regex pattern too long: %d characters (max %d)", len(pattern), rv.maxLength)
	}
	if err := checkNestedQuantifiers(pattern); err != nil {
		return err
	}
	if n := strings.Count(pattern, "|"); n > MaxAlternations {
		return fmt.Errorf("too many alternations: %d (max %d)", n, MaxAlternations)
	}
	if err := checkRepetition(pattern); err != nil {
		return err
	}

	// Compile with the same engine and syntax mode the pipeline uses.
	if _, err := regexp2.Compile(pattern, regexp2.RE2); err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}
	return nil
}

// HasNamedGroups reports whether the pattern declares at least one named
// capture group.
func HasNamedGroups(pattern string) bool {
	return namedGroupRe.MatchString(pattern)
}

func checkNestedQuantifiers(pattern string) error {
	dangerous := []string{
		")+*", ")*+", ")+{", ")*{",
		"}+*", "}*+", "}+{", "}*{",
		"++", "**", "*+", "+*",
	}
	for _, d := range dangerous {
		if strings.Contains(pattern, d) {
			return fmt.Errorf("pattern contains nested quantifiers which may cause ReDoS: found %q", d)
		}
	}
	return nil
}

func checkRepetition(pattern string) error {
	for _, match := range repetitionRe.FindAllStringSubmatch(pattern, -1) {
		var count int
		fmt.Sscanf(match[1], "%d", &count)
		if count > MaxRepetition {
			return fmt.Errorf("excessive repetition: %s (max %d)", match[0], MaxRepetition)
		}
	}
	return nil
}
