package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"alertpipe/core"
)

// SQLiteExtractionRuleStorage persists extraction rules.
type SQLiteExtractionRuleStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteExtractionRuleStorage creates an extraction-rule storage
// handler.
func NewSQLiteExtractionRuleStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteExtractionRuleStorage {
	return &SQLiteExtractionRuleStorage{sqlite: sqlite, logger: logger}
}

const extractionRuleColumns = `id, tenant_id, name, priority, attribute, regex,
	condition, pre, disabled, created_at, updated_at`

// ListExtractionRules returns the tenant's rules ordered for evaluation.
func (s *SQLiteExtractionRuleStorage) ListExtractionRules(ctx context.Context, tenantID string) ([]core.ExtractionRule, error) {
	query := `SELECT ` + extractionRuleColumns + `
		FROM extraction_rules
		WHERE tenant_id = ?
		ORDER BY priority DESC, created_at ASC`

	rows, err := s.sqlite.DB.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query extraction rules: %w", err)
	}
	defer rows.Close()

	var out []core.ExtractionRule
	for rows.Next() {
		var rule core.ExtractionRule
		if err := rows.Scan(&rule.ID, &rule.TenantID, &rule.Name, &rule.Priority,
			&rule.Attribute, &rule.Regex, &rule.Condition, &rule.Pre, &rule.Disabled,
			&rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan extraction rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// GetExtractionRule fetches one rule by id within a tenant.
func (s *SQLiteExtractionRuleStorage) GetExtractionRule(ctx context.Context, tenantID, id string) (*core.ExtractionRule, error) {
	query := `SELECT ` + extractionRuleColumns + ` FROM extraction_rules WHERE tenant_id = ? AND id = ?`
	var rule core.ExtractionRule
	err := s.sqlite.DB.QueryRowContext(ctx, query, tenantID, id).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Priority,
		&rule.Attribute, &rule.Regex, &rule.Condition, &rule.Pre, &rule.Disabled,
		&rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extraction rule: %w", err)
	}
	return &rule, nil
}

// CreateExtractionRule inserts a new rule.
func (s *SQLiteExtractionRuleStorage) CreateExtractionRule(ctx context.Context, rule *core.ExtractionRule) error {
	_, err := s.sqlite.DB.ExecContext(ctx, `
		INSERT INTO extraction_rules (`+extractionRuleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.TenantID, rule.Name, rule.Priority, rule.Attribute, rule.Regex,
		rule.Condition, rule.Pre, rule.Disabled, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert extraction rule: %w", err)
	}
	return nil
}

// UpdateExtractionRule replaces a rule's mutable fields and bumps its
// version stamp.
func (s *SQLiteExtractionRuleStorage) UpdateExtractionRule(ctx context.Context, rule *core.ExtractionRule) error {
	rule.UpdatedAt = time.Now().UTC()
	res, err := s.sqlite.DB.ExecContext(ctx, `
		UPDATE extraction_rules
		SET name = ?, priority = ?, attribute = ?, regex = ?, condition = ?,
		    pre = ?, disabled = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		rule.Name, rule.Priority, rule.Attribute, rule.Regex, rule.Condition,
		rule.Pre, rule.Disabled, rule.UpdatedAt, rule.TenantID, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update extraction rule: %w", err)
	}
	return requireRow(res)
}

// DeleteExtractionRule removes a rule.
func (s *SQLiteExtractionRuleStorage) DeleteExtractionRule(ctx context.Context, tenantID, id string) error {
	res, err := s.sqlite.DB.ExecContext(ctx,
		`DELETE FROM extraction_rules WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete extraction rule: %w", err)
	}
	return requireRow(res)
}
