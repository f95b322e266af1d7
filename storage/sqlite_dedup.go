package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"alertpipe/core"
)

// SQLiteDedupRuleStorage persists deduplication rules.
type SQLiteDedupRuleStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteDedupRuleStorage creates a dedup-rule storage handler.
func NewSQLiteDedupRuleStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteDedupRuleStorage {
	return &SQLiteDedupRuleStorage{sqlite: sqlite, logger: logger}
}

const dedupRuleColumns = `id, tenant_id, provider_type, provider_id, fingerprint_fields,
	full_deduplication, ignore_fields, is_default, priority, created_at, updated_at`

// ListDeduplicationRules returns all rules for (tenant, provider type),
// including the default rule.
func (s *SQLiteDedupRuleStorage) ListDeduplicationRules(ctx context.Context, tenantID, providerType string) ([]core.DeduplicationRule, error) {
	query := `SELECT ` + dedupRuleColumns + `
		FROM dedup_rules
		WHERE tenant_id = ? AND provider_type = ?
		ORDER BY priority DESC, created_at ASC`

	rows, err := s.sqlite.DB.QueryContext(ctx, query, tenantID, providerType)
	if err != nil {
		return nil, fmt.Errorf("failed to query dedup rules: %w", err)
	}
	defer rows.Close()
	return scanDedupRules(rows)
}

// ListAllDeduplicationRules returns every rule for a tenant.
func (s *SQLiteDedupRuleStorage) ListAllDeduplicationRules(ctx context.Context, tenantID string) ([]core.DeduplicationRule, error) {
	query := `SELECT ` + dedupRuleColumns + `
		FROM dedup_rules
		WHERE tenant_id = ?
		ORDER BY provider_type ASC, priority DESC, created_at ASC`

	rows, err := s.sqlite.DB.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dedup rules: %w", err)
	}
	defer rows.Close()
	return scanDedupRules(rows)
}

// GetDeduplicationRule fetches one rule by id within a tenant.
func (s *SQLiteDedupRuleStorage) GetDeduplicationRule(ctx context.Context, tenantID, id string) (*core.DeduplicationRule, error) {
	query := `SELECT ` + dedupRuleColumns + ` FROM dedup_rules WHERE tenant_id = ? AND id = ?`
	row := s.sqlite.DB.QueryRowContext(ctx, query, tenantID, id)
	rule, err := scanDedupRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

// CreateDeduplicationRule inserts a new rule.
func (s *SQLiteDedupRuleStorage) CreateDeduplicationRule(ctx context.Context, rule *core.DeduplicationRule) error {
	fields, ignore, err := marshalDedupFields(rule)
	if err != nil {
		return err
	}
	_, err = s.sqlite.DB.ExecContext(ctx, `
		INSERT INTO dedup_rules (`+dedupRuleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.TenantID, rule.ProviderType, rule.ProviderID, fields,
		rule.FullDeduplication, ignore, rule.IsDefault, rule.Priority,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert dedup rule: %w", err)
	}
	return nil
}

// CreateDefaultDeduplicationRule lazily materializes the per-tenant
// fallback rule. The insert is create-if-absent against the partial
// unique index on (tenant_id, provider_type) WHERE is_default=1, so a
// concurrent creator loses cleanly and reads the winner's rule back.
func (s *SQLiteDedupRuleStorage) CreateDefaultDeduplicationRule(ctx context.Context, rule *core.DeduplicationRule) (*core.DeduplicationRule, error) {
	fields, ignore, err := marshalDedupFields(rule)
	if err != nil {
		return nil, err
	}
	_, err = s.sqlite.DB.ExecContext(ctx, `
		INSERT INTO dedup_rules (`+dedupRuleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		rule.ID, rule.TenantID, rule.ProviderType, rule.ProviderID, fields,
		rule.FullDeduplication, ignore, rule.Priority,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert default dedup rule: %w", err)
	}

	query := `SELECT ` + dedupRuleColumns + `
		FROM dedup_rules
		WHERE tenant_id = ? AND provider_type = ? AND is_default = 1`
	row := s.sqlite.DB.QueryRowContext(ctx, query, rule.TenantID, rule.ProviderType)
	created, err := scanDedupRule(row)
	if err != nil {
		return nil, fmt.Errorf("failed to read back default dedup rule: %w", err)
	}
	return created, nil
}

// UpdateDeduplicationRule replaces a rule's mutable fields and bumps its
// version stamp.
func (s *SQLiteDedupRuleStorage) UpdateDeduplicationRule(ctx context.Context, rule *core.DeduplicationRule) error {
	fields, ignore, err := marshalDedupFields(rule)
	if err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()
	res, err := s.sqlite.DB.ExecContext(ctx, `
		UPDATE dedup_rules
		SET provider_id = ?, fingerprint_fields = ?, full_deduplication = ?,
		    ignore_fields = ?, priority = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		rule.ProviderID, fields, rule.FullDeduplication, ignore,
		rule.Priority, rule.UpdatedAt, rule.TenantID, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update dedup rule: %w", err)
	}
	return requireRow(res)
}

// DeleteDeduplicationRule removes a rule and its statistics.
func (s *SQLiteDedupRuleStorage) DeleteDeduplicationRule(ctx context.Context, tenantID, id string) error {
	res, err := s.sqlite.DB.ExecContext(ctx,
		`DELETE FROM dedup_rules WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete dedup rule: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := s.sqlite.DB.ExecContext(ctx, `DELETE FROM dedup_stats WHERE rule_id = ?`, id); err != nil {
		s.logger.Warnw("Failed to delete dedup stats", "rule_id", id, "error", err)
	}
	if _, err := s.sqlite.DB.ExecContext(ctx, `DELETE FROM dedup_hourly_stats WHERE rule_id = ?`, id); err != nil {
		s.logger.Warnw("Failed to delete hourly dedup stats", "rule_id", id, "error", err)
	}
	return nil
}

func marshalDedupFields(rule *core.DeduplicationRule) (string, string, error) {
	fields, err := json.Marshal(rule.FingerprintFields)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal fingerprint fields: %w", err)
	}
	ignore, err := json.Marshal(rule.IgnoreFields)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal ignore fields: %w", err)
	}
	return string(fields), string(ignore), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDedupRule(row rowScanner) (*core.DeduplicationRule, error) {
	var rule core.DeduplicationRule
	var fields, ignore string
	err := row.Scan(&rule.ID, &rule.TenantID, &rule.ProviderType, &rule.ProviderID,
		&fields, &rule.FullDeduplication, &ignore, &rule.IsDefault, &rule.Priority,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &rule.FingerprintFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fingerprint fields: %w", err)
	}
	if err := json.Unmarshal([]byte(ignore), &rule.IgnoreFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ignore fields: %w", err)
	}
	return &rule, nil
}

func scanDedupRules(rows *sql.Rows) ([]core.DeduplicationRule, error) {
	var out []core.DeduplicationRule
	for rows.Next() {
		rule, err := scanDedupRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dedup rule: %w", err)
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrRuleNotFound
	}
	return nil
}
