// Package service provides the rule-management layer between the HTTP
// handlers and storage: definition-time validation, cache invalidation,
// preview evaluation, and statistics reads.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"alertpipe/core"
	"alertpipe/enrich"
	"alertpipe/storage"
)

// RuleService owns create/update/delete/list for every rule kind. All
// mutations validate first — invalid expressions and regexes are rejected
// here and never reach the runtime pipeline — and invalidate the compiled
// artifact cache on success.
type RuleService struct {
	dedupRules      storage.DedupRuleStorageInterface
	mappingRules    storage.MappingRuleStorageInterface
	extractionRules storage.ExtractionRuleStorageInterface
	blackoutRules   storage.BlackoutRuleStorageInterface
	stats           storage.StatsStorageInterface

	validator *core.RuleValidator
	evaluator *enrich.ExpressionEvaluator
	cache     *enrich.ArtifactCache
	logger    *zap.SugaredLogger
}

// NewRuleService wires the rule service.
func NewRuleService(
	dedupRules storage.DedupRuleStorageInterface,
	mappingRules storage.MappingRuleStorageInterface,
	extractionRules storage.ExtractionRuleStorageInterface,
	blackoutRules storage.BlackoutRuleStorageInterface,
	stats storage.StatsStorageInterface,
	evaluator *enrich.ExpressionEvaluator,
	cache *enrich.ArtifactCache,
	logger *zap.SugaredLogger,
) *RuleService {
	return &RuleService{
		dedupRules:      dedupRules,
		mappingRules:    mappingRules,
		extractionRules: extractionRules,
		blackoutRules:   blackoutRules,
		stats:           stats,
		validator:       core.NewRuleValidator(),
		evaluator:       evaluator,
		cache:           cache,
		logger:          logger,
	}
}

func (s *RuleService) stamp(id *string, createdAt, updatedAt *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	now := time.Now().UTC()
	if createdAt.IsZero() {
		*createdAt = now
	}
	*updatedAt = now
}

// --- Deduplication rules ---

// CreateDeduplicationRule validates and persists a dedup rule.
func (s *RuleService) CreateDeduplicationRule(ctx context.Context, rule *core.DeduplicationRule) error {
	s.stamp(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err := s.validator.ValidateDeduplicationRule(rule); err != nil {
		return err
	}
	if err := s.dedupRules.CreateDeduplicationRule(ctx, rule); err != nil {
		return err
	}
	s.logger.Infow("Created deduplication rule", "rule_id", rule.ID, "tenant_id", rule.TenantID)
	return nil
}

// UpdateDeduplicationRule validates and persists changes to a dedup rule.
func (s *RuleService) UpdateDeduplicationRule(ctx context.Context, rule *core.DeduplicationRule) error {
	if err := s.validator.ValidateDeduplicationRule(rule); err != nil {
		return err
	}
	return s.dedupRules.UpdateDeduplicationRule(ctx, rule)
}

// DeleteDeduplicationRule removes a dedup rule and its statistics.
func (s *RuleService) DeleteDeduplicationRule(ctx context.Context, tenantID, id string) error {
	return s.dedupRules.DeleteDeduplicationRule(ctx, tenantID, id)
}

// ListDeduplicationRules returns every dedup rule for a tenant.
func (s *RuleService) ListDeduplicationRules(ctx context.Context, tenantID string) ([]core.DeduplicationRule, error) {
	return s.dedupRules.ListAllDeduplicationRules(ctx, tenantID)
}

// GetDeduplicationStats returns ingested, dedup ratio, and the 24-hour
// duplicate distribution for one rule. The rule must belong to the
// tenant.
func (s *RuleService) GetDeduplicationStats(ctx context.Context, tenantID, ruleID string) (*core.DeduplicationStats, error) {
	if _, err := s.dedupRules.GetDeduplicationRule(ctx, tenantID, ruleID); err != nil {
		return nil, err
	}
	return s.stats.GetStats(ctx, ruleID)
}

// --- Mapping rules ---

// CreateMappingRule validates and persists a mapping rule with its rows.
func (s *RuleService) CreateMappingRule(ctx context.Context, rule *core.MappingRule, rows []core.MappingRow) error {
	s.stamp(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if rule.Type == "" {
		rule.Type = core.MappingRuleTypeCSV
	}
	if err := s.validator.ValidateMappingRule(rule); err != nil {
		return err
	}
	if err := s.mappingRules.CreateMappingRule(ctx, rule, rows); err != nil {
		return err
	}
	s.logger.Infow("Created mapping rule", "rule_id", rule.ID, "tenant_id", rule.TenantID, "rows", len(rows))
	return nil
}

// UpdateMappingRule validates and persists changes; the compiled cache
// entry for the old version is dropped.
func (s *RuleService) UpdateMappingRule(ctx context.Context, rule *core.MappingRule, rows []core.MappingRow) error {
	if err := s.validator.ValidateMappingRule(rule); err != nil {
		return err
	}
	if err := s.mappingRules.UpdateMappingRule(ctx, rule, rows); err != nil {
		return err
	}
	s.cache.InvalidateRule(rule.ID)
	return nil
}

// DeleteMappingRule removes a mapping rule and its rows.
func (s *RuleService) DeleteMappingRule(ctx context.Context, tenantID, id string) error {
	if err := s.mappingRules.DeleteMappingRule(ctx, tenantID, id); err != nil {
		return err
	}
	s.cache.InvalidateRule(id)
	return nil
}

// ListMappingRules returns every mapping rule for a tenant.
func (s *RuleService) ListMappingRules(ctx context.Context, tenantID string) ([]core.MappingRule, error) {
	return s.mappingRules.ListMappingRules(ctx, tenantID)
}

// --- Extraction rules ---

// CreateExtractionRule validates (structure, regex safety, condition
// syntax) and persists an extraction rule.
func (s *RuleService) CreateExtractionRule(ctx context.Context, rule *core.ExtractionRule) error {
	s.stamp(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err := s.validateExtraction(rule); err != nil {
		return err
	}
	if err := s.extractionRules.CreateExtractionRule(ctx, rule); err != nil {
		return err
	}
	s.logger.Infow("Created extraction rule", "rule_id", rule.ID, "tenant_id", rule.TenantID)
	return nil
}

// UpdateExtractionRule validates and persists changes; compiled artifacts
// for the old version are dropped.
func (s *RuleService) UpdateExtractionRule(ctx context.Context, rule *core.ExtractionRule) error {
	if err := s.validateExtraction(rule); err != nil {
		return err
	}
	if err := s.extractionRules.UpdateExtractionRule(ctx, rule); err != nil {
		return err
	}
	s.cache.InvalidateRule(rule.ID)
	return nil
}

// DeleteExtractionRule removes an extraction rule.
func (s *RuleService) DeleteExtractionRule(ctx context.Context, tenantID, id string) error {
	if err := s.extractionRules.DeleteExtractionRule(ctx, tenantID, id); err != nil {
		return err
	}
	s.cache.InvalidateRule(id)
	return nil
}

// ListExtractionRules returns every extraction rule for a tenant.
func (s *RuleService) ListExtractionRules(ctx context.Context, tenantID string) ([]core.ExtractionRule, error) {
	return s.extractionRules.ListExtractionRules(ctx, tenantID)
}

func (s *RuleService) validateExtraction(rule *core.ExtractionRule) error {
	if err := s.validator.ValidateExtractionRule(rule); err != nil {
		return err
	}
	if rule.Condition != "" {
		if err := s.evaluator.CheckSyntax(rule.Condition); err != nil {
			return core.NewConfigurationError("invalid extraction rule condition: %w", err)
		}
	}
	return nil
}

// --- Blackout rules ---

// CreateBlackoutRule validates (structure, expression syntax) and
// persists a blackout rule.
func (s *RuleService) CreateBlackoutRule(ctx context.Context, rule *core.BlackoutRule) error {
	s.stamp(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err := s.validateBlackout(rule); err != nil {
		return err
	}
	if err := s.blackoutRules.CreateBlackoutRule(ctx, rule); err != nil {
		return err
	}
	s.logger.Infow("Created blackout rule", "rule_id", rule.ID, "tenant_id", rule.TenantID)
	return nil
}

// UpdateBlackoutRule validates and persists changes; the compiled
// expression for the old version is dropped.
func (s *RuleService) UpdateBlackoutRule(ctx context.Context, rule *core.BlackoutRule) error {
	if err := s.validateBlackout(rule); err != nil {
		return err
	}
	if err := s.blackoutRules.UpdateBlackoutRule(ctx, rule); err != nil {
		return err
	}
	s.cache.InvalidateRule(rule.ID)
	return nil
}

// DeleteBlackoutRule removes a blackout rule.
func (s *RuleService) DeleteBlackoutRule(ctx context.Context, tenantID, id string) error {
	if err := s.blackoutRules.DeleteBlackoutRule(ctx, tenantID, id); err != nil {
		return err
	}
	s.cache.InvalidateRule(id)
	return nil
}

// ListBlackoutRules returns every blackout rule for a tenant.
func (s *RuleService) ListBlackoutRules(ctx context.Context, tenantID string) ([]core.BlackoutRule, error) {
	return s.blackoutRules.ListBlackoutRules(ctx, tenantID)
}

func (s *RuleService) validateBlackout(rule *core.BlackoutRule) error {
	if err := s.validator.ValidateBlackoutRule(rule); err != nil {
		return err
	}
	if err := s.evaluator.CheckSyntax(rule.CELQuery); err != nil {
		return core.NewConfigurationError("invalid blackout rule query: %w", err)
	}
	return nil
}
