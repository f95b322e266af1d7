package storage

import (
	"context"
	"time"

	"alertpipe/core"
)

// DedupRuleStorageInterface defines the full dedup-rule contract consumed
// by the rule service; the enrichment engine uses the narrower read/create
// subset it declares itself.
type DedupRuleStorageInterface interface {
	ListDeduplicationRules(ctx context.Context, tenantID, providerType string) ([]core.DeduplicationRule, error)
	ListAllDeduplicationRules(ctx context.Context, tenantID string) ([]core.DeduplicationRule, error)
	GetDeduplicationRule(ctx context.Context, tenantID, id string) (*core.DeduplicationRule, error)
	CreateDeduplicationRule(ctx context.Context, rule *core.DeduplicationRule) error
	CreateDefaultDeduplicationRule(ctx context.Context, rule *core.DeduplicationRule) (*core.DeduplicationRule, error)
	UpdateDeduplicationRule(ctx context.Context, rule *core.DeduplicationRule) error
	DeleteDeduplicationRule(ctx context.Context, tenantID, id string) error
}

// MappingRuleStorageInterface defines the mapping-rule contract.
type MappingRuleStorageInterface interface {
	ListMappingRules(ctx context.Context, tenantID string) ([]core.MappingRule, error)
	GetMappingRule(ctx context.Context, tenantID, id string) (*core.MappingRule, error)
	CreateMappingRule(ctx context.Context, rule *core.MappingRule, rows []core.MappingRow) error
	UpdateMappingRule(ctx context.Context, rule *core.MappingRule, rows []core.MappingRow) error
	DeleteMappingRule(ctx context.Context, tenantID, id string) error
	ListRows(ctx context.Context, ruleID string) ([]core.MappingRow, error)
	QueryRowsByFieldValues(ctx context.Context, ruleID, field string, values []string) ([]core.MappingRow, error)
}

// ExtractionRuleStorageInterface defines the extraction-rule contract.
type ExtractionRuleStorageInterface interface {
	ListExtractionRules(ctx context.Context, tenantID string) ([]core.ExtractionRule, error)
	GetExtractionRule(ctx context.Context, tenantID, id string) (*core.ExtractionRule, error)
	CreateExtractionRule(ctx context.Context, rule *core.ExtractionRule) error
	UpdateExtractionRule(ctx context.Context, rule *core.ExtractionRule) error
	DeleteExtractionRule(ctx context.Context, tenantID, id string) error
}

// BlackoutRuleStorageInterface defines the blackout-rule contract.
type BlackoutRuleStorageInterface interface {
	ListBlackoutRules(ctx context.Context, tenantID string) ([]core.BlackoutRule, error)
	ListActiveBlackoutRules(ctx context.Context, tenantID string, now time.Time) ([]core.BlackoutRule, error)
	GetBlackoutRule(ctx context.Context, tenantID, id string) (*core.BlackoutRule, error)
	CreateBlackoutRule(ctx context.Context, rule *core.BlackoutRule) error
	UpdateBlackoutRule(ctx context.Context, rule *core.BlackoutRule) error
	DeleteBlackoutRule(ctx context.Context, tenantID, id string) error
}

// StatsStorageInterface defines the statistics contract.
type StatsStorageInterface interface {
	IncrementIngested(ctx context.Context, ruleID string) error
	IncrementUnique(ctx context.Context, ruleID string) error
	IncrementHourlyDuplicates(ctx context.Context, ruleID string, at time.Time) error
	GetStats(ctx context.Context, ruleID string) (*core.DeduplicationStats, error)
}
