package core

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"alertpipe/util"
)

// ConfigurationError marks a rule definition as structurally invalid.
// These surface only at definition time (create, update, preview, import)
// and never reach the runtime pipeline.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return e.Err.Error() }

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError wraps a definition-time validation failure.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Err: fmt.Errorf(format, args...)}
}

// RuleValidator rejects malformed rule definitions before they can reach
// the runtime pipeline. Expression syntax is checked separately by the
// service layer, which owns the expression environment.
type RuleValidator struct {
	validate *validator.Validate
	regex    *util.RegexValidator
}

// NewRuleValidator creates a validator with default safety limits.
func NewRuleValidator() *RuleValidator {
	return &RuleValidator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		regex:    util.NewRegexValidator(),
	}
}

// ValidateDeduplicationRule checks structural validity of a dedup rule.
func (rv *RuleValidator) ValidateDeduplicationRule(rule *DeduplicationRule) error {
	if err := rv.validate.Struct(rule); err != nil {
		return NewConfigurationError("invalid deduplication rule: %w", err)
	}
	if !rule.FullDeduplication && len(rule.FingerprintFields) == 0 {
		return NewConfigurationError("invalid deduplication rule: fingerprint_fields required unless full_deduplication is set")
	}
	return nil
}

// ValidateMappingRule checks structural validity of a mapping rule.
func (rv *RuleValidator) ValidateMappingRule(rule *MappingRule) error {
	if err := rv.validate.Struct(rule); err != nil {
		return NewConfigurationError("invalid mapping rule: %w", err)
	}
	if rule.IsMultiLevel && rule.NewPropertyName == "" {
		return NewConfigurationError("invalid mapping rule: multi-level rules require new_property_name")
	}
	return nil
}

// ValidateExtractionRule checks structural validity of an extraction rule,
// including regex syntax and safety limits.
func (rv *RuleValidator) ValidateExtractionRule(rule *ExtractionRule) error {
	if err := rv.validate.Struct(rule); err != nil {
		return NewConfigurationError("invalid extraction rule: %w", err)
	}
	if err := rv.regex.ValidatePattern(rule.Regex); err != nil {
		return NewConfigurationError("invalid extraction rule regex: %w", err)
	}
	if !util.HasNamedGroups(rule.Regex) {
		return NewConfigurationError("invalid extraction rule regex: at least one named capture group is required")
	}
	return nil
}

// ValidateBlackoutRule checks structural validity of a blackout rule.
func (rv *RuleValidator) ValidateBlackoutRule(rule *BlackoutRule) error {
	if err := rv.validate.Struct(rule); err != nil {
		return NewConfigurationError("invalid blackout rule: %w", err)
	}
	if rule.EndTime != nil && rule.EndTime.Before(rule.StartTime) {
		return NewConfigurationError("invalid blackout rule: end_time precedes start_time")
	}
	if rule.DurationSeconds < 0 {
		return NewConfigurationError("invalid blackout rule: negative duration")
	}
	return nil
}
