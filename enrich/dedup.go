package enrich

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"alertpipe/core"
	"alertpipe/metrics"
)

// DedupRuleStore provides tenant-scoped access to deduplication rules.
type DedupRuleStore interface {
	ListDeduplicationRules(ctx context.Context, tenantID, providerType string) ([]core.DeduplicationRule, error)

	// CreateDefaultDeduplicationRule is an idempotent create-if-absent:
	// when a default rule already exists for (tenant, provider_type) the
	// existing rule is returned and no duplicate is created, even under
	// concurrent first-alert races.
	CreateDefaultDeduplicationRule(ctx context.Context, rule *core.DeduplicationRule) (*core.DeduplicationRule, error)
}

// StatsStore persists per-rule ingestion counters. Every method must be
// safe under concurrent ingestion of the same rule.
type StatsStore interface {
	IncrementIngested(ctx context.Context, ruleID string) error
	IncrementUnique(ctx context.Context, ruleID string) error
	IncrementHourlyDuplicates(ctx context.Context, ruleID string, at time.Time) error
	GetStats(ctx context.Context, ruleID string) (*core.DeduplicationStats, error)
}

// FingerprintTracker decides whether a fingerprint is new within a rule's
// observation window. Observe must be atomic per (rule, fingerprint).
type FingerprintTracker interface {
	Observe(ctx context.Context, ruleID, fingerprint string) (first bool, err error)
}

// DefaultFieldsFunc supplies the provider-declared default fingerprint
// fields used when a tenant's first alert from an unseen provider type
// materializes its default rule.
type DefaultFieldsFunc func(providerType string) []string

// fallbackFingerprintFields is used when a provider declares no defaults.
var fallbackFingerprintFields = []string{"name", "source", "severity"}

// DeduplicationEngine resolves the effective dedup rule for an alert and
// maintains per-rule ingestion and duplicate statistics.
type DeduplicationEngine struct {
	rules         DedupRuleStore
	stats         StatsStore
	tracker       FingerprintTracker
	calc          *core.FingerprintCalculator
	defaultFields DefaultFieldsFunc
	logger        *zap.SugaredLogger
}

// NewDeduplicationEngine creates a deduplication engine. defaultFields may
// be nil, in which case a generic field set is used for lazily created
// default rules.
func NewDeduplicationEngine(rules DedupRuleStore, stats StatsStore, tracker FingerprintTracker, defaultFields DefaultFieldsFunc, logger *zap.SugaredLogger) *DeduplicationEngine {
	return &DeduplicationEngine{
		rules:         rules,
		stats:         stats,
		tracker:       tracker,
		calc:          core.NewFingerprintCalculatorWithLogger(logger),
		defaultFields: defaultFields,
		logger:        logger,
	}
}

// ResolveRule returns the single effective rule for an inbound alert:
// provider_id rule > provider_type rule > tenant default. When no rule
// exists for the provider type, a default rule is materialized using the
// provider-supplied default fields.
func (de *DeduplicationEngine) ResolveRule(ctx context.Context, tenantID, providerType, providerID string) (*core.DeduplicationRule, error) {
	candidates, err := de.rules.ListDeduplicationRules(ctx, tenantID, providerType)
	if err != nil {
		return nil, fmt.Errorf("failed to list deduplication rules: %w", err)
	}

	// Most specific first; ties by priority then creation order.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Specificity() != candidates[j].Specificity() {
			return candidates[i].Specificity() > candidates[j].Specificity()
		}
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	for i := range candidates {
		r := &candidates[i]
		if r.ProviderID != "" && r.ProviderID != providerID {
			continue
		}
		return r, nil
	}

	return de.createDefaultRule(ctx, tenantID, providerType)
}

// createDefaultRule materializes the per-tenant fallback rule. The store
// guarantees at-most-once creation; a concurrent creator gets the winner's
// rule back.
func (de *DeduplicationEngine) createDefaultRule(ctx context.Context, tenantID, providerType string) (*core.DeduplicationRule, error) {
	fields := fallbackFingerprintFields
	if de.defaultFields != nil {
		if pf := de.defaultFields(providerType); len(pf) > 0 {
			fields = pf
		}
	}

	now := time.Now().UTC()
	rule := &core.DeduplicationRule{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		ProviderType:      providerType,
		FingerprintFields: append([]string(nil), fields...),
		IsDefault:         true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	created, err := de.rules.CreateDefaultDeduplicationRule(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("failed to create default deduplication rule: %w", err)
	}
	if created.ID == rule.ID {
		metrics.DefaultRulesCreated.Inc()
		de.logger.Infow("Created default deduplication rule",
			"tenant_id", tenantID, "provider_type", providerType, "rule_id", created.ID)
	}
	return created, nil
}

// Fingerprint computes the alert's fingerprint under the resolved rule.
func (de *DeduplicationEngine) Fingerprint(alert *core.Alert, rule *core.DeduplicationRule) string {
	return de.calc.Calculate(alert, rule)
}

// RecordIngestion updates the rule's counters for one inbound alert.
// Statistics updates are best-effort: failures are logged and counted but
// never block the alert from proceeding.
func (de *DeduplicationEngine) RecordIngestion(ctx context.Context, rule *core.DeduplicationRule, fingerprint string) {
	if err := de.stats.IncrementIngested(ctx, rule.ID); err != nil {
		de.statsFailure(rule, "ingested", err)
	}

	first, err := de.tracker.Observe(ctx, rule.ID, fingerprint)
	if err != nil {
		de.statsFailure(rule, "observe", err)
		return
	}

	if first {
		if err := de.stats.IncrementUnique(ctx, rule.ID); err != nil {
			de.statsFailure(rule, "unique", err)
		}
		return
	}
	if err := de.stats.IncrementHourlyDuplicates(ctx, rule.ID, time.Now().UTC()); err != nil {
		de.statsFailure(rule, "hourly", err)
	}
}

// GetStats returns the rule's ingestion count, dedup ratio, and 24-hour
// duplicate distribution.
func (de *DeduplicationEngine) GetStats(ctx context.Context, ruleID string) (*core.DeduplicationStats, error) {
	return de.stats.GetStats(ctx, ruleID)
}

func (de *DeduplicationEngine) statsFailure(rule *core.DeduplicationRule, counter string, err error) {
	metrics.StatsUpdateFailures.Inc()
	de.logger.Warnw("Deduplication stats update failed",
		"rule_id", rule.ID, "tenant_id", rule.TenantID, "counter", counter, "error", err)
}
