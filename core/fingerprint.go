package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// FingerprintCalculator derives the deduplication identity of an alert
// from the fields selected by a resolved DeduplicationRule. Calculation is
// a pure function of (alert, rule): identical inputs always yield the same
// fingerprint, and fields listed in IgnoreFields never influence it.
type FingerprintCalculator struct {
	logger *zap.SugaredLogger
}

// NewFingerprintCalculator creates a calculator with a no-op logger.
func NewFingerprintCalculator() *FingerprintCalculator {
	return &FingerprintCalculator{logger: zap.NewNop().Sugar()}
}

// NewFingerprintCalculatorWithLogger creates a calculator with a logger.
func NewFingerprintCalculatorWithLogger(logger *zap.SugaredLogger) *FingerprintCalculator {
	return &FingerprintCalculator{logger: logger}
}

// Calculate returns the fingerprint for an alert under the given rule.
func (fc *FingerprintCalculator) Calculate(alert *Alert, rule *DeduplicationRule) string {
	if rule.FullDeduplication {
		return fc.fullFingerprint(alert, rule.IgnoreFields)
	}

	if len(rule.FingerprintFields) == 0 {
		// Degenerate rule; fall back to identity fields so two distinct
		// alerts still have a stable, non-empty fingerprint.
		return hashString(alert.Name + "|" + alert.StringField("source"))
	}

	parts := make([]string, 0, len(rule.FingerprintFields))
	for _, field := range rule.FingerprintFields {
		// Missing fields serialize as empty string, never an abort.
		parts = append(parts, field+"="+alert.StringField(field))
	}
	return hashString(strings.Join(parts, "|"))
}

// fullFingerprint canonicalizes the alert payload (stable key order,
// stringified values), drops ignored fields, and hashes the remainder.
func (fc *FingerprintCalculator) fullFingerprint(alert *Alert, ignoreFields []string) string {
	source := alert.Payload
	if len(source) == 0 {
		source = alert.FieldMap()
	}
	canonical := copyAnyMap(source)
	for _, field := range ignoreFields {
		removePath(canonical, field)
	}

	var b strings.Builder
	writeCanonical(&b, canonical)
	return hashString(b.String())
}

// removePath deletes a dot-path from a nested map. A flat key containing
// dots is removed in preference to a nested descent.
func removePath(m map[string]any, path string) {
	if _, ok := m[path]; ok {
		delete(m, path)
		return
	}
	parts := strings.Split(path, ".")
	cur := m
	for i, p := range parts {
		if i == len(parts)-1 {
			delete(cur, p)
			return
		}
		next, ok := cur[p].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
}

// writeCanonical renders a value deterministically: map keys sorted,
// sequences in declared order, scalars stringified.
func writeCanonical(b *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte(':')
			writeCanonical(b, t[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, e)
		}
		b.WriteByte(']')
	case []string:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(e)
		}
		b.WriteByte(']')
	case nil:
		b.WriteString("null")
	default:
		fmt.Fprintf(b, "%v", t)
	}
}

func hashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
