package storage

import "fmt"

// migrate creates the schema. Statements are idempotent so startup can
// re-run them safely.
func (s *SQLite) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS dedup_rules (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			provider_type TEXT NOT NULL,
			provider_id TEXT NOT NULL DEFAULT '',
			fingerprint_fields TEXT NOT NULL DEFAULT '[]',
			full_deduplication INTEGER NOT NULL DEFAULT 0,
			ignore_fields TEXT NOT NULL DEFAULT '[]',
			is_default INTEGER NOT NULL DEFAULT 0,
			priority INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		// At most one lazily created default rule per (tenant, provider
		// type); concurrent first-alert creators race on this index.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_dedup_rules_default
			ON dedup_rules(tenant_id, provider_type) WHERE is_default = 1`,
		`CREATE INDEX IF NOT EXISTS idx_dedup_rules_tenant
			ON dedup_rules(tenant_id, provider_type)`,

		`CREATE TABLE IF NOT EXISTS mapping_rules (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'csv',
			priority INTEGER NOT NULL DEFAULT 0,
			matchers TEXT NOT NULL,
			is_multi_level INTEGER NOT NULL DEFAULT 0,
			new_property_name TEXT NOT NULL DEFAULT '',
			disabled INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mapping_rules_tenant
			ON mapping_rules(tenant_id, priority)`,

		`CREATE TABLE IF NOT EXISTS mapping_rows (
			rule_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			values_json TEXT NOT NULL,
			PRIMARY KEY (rule_id, position),
			FOREIGN KEY (rule_id) REFERENCES mapping_rules(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS extraction_rules (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0,
			attribute TEXT NOT NULL,
			regex TEXT NOT NULL,
			condition TEXT NOT NULL DEFAULT '',
			pre INTEGER NOT NULL DEFAULT 0,
			disabled INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_extraction_rules_tenant
			ON extraction_rules(tenant_id, priority)`,

		`CREATE TABLE IF NOT EXISTS blackout_rules (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			cel_query TEXT NOT NULL,
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP,
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_blackout_rules_tenant
			ON blackout_rules(tenant_id, enabled)`,

		`CREATE TABLE IF NOT EXISTS dedup_stats (
			rule_id TEXT PRIMARY KEY,
			ingested INTEGER NOT NULL DEFAULT 0,
			unique_fingerprints INTEGER NOT NULL DEFAULT 0
		)`,

		// Duplicate counts per hour-of-epoch; reads window the last 24
		// hours, stale buckets are pruned lazily.
		`CREATE TABLE IF NOT EXISTS dedup_hourly_stats (
			rule_id TEXT NOT NULL,
			epoch_hour INTEGER NOT NULL,
			duplicates INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (rule_id, epoch_hour)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.DB.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
