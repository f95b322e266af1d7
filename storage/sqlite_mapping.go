package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"alertpipe/core"
)

// SQLiteMappingRuleStorage persists mapping rules and their lookup-table
// rows.
type SQLiteMappingRuleStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteMappingRuleStorage creates a mapping-rule storage handler.
func NewSQLiteMappingRuleStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteMappingRuleStorage {
	return &SQLiteMappingRuleStorage{sqlite: sqlite, logger: logger}
}

const mappingRuleColumns = `id, tenant_id, name, type, priority, matchers,
	is_multi_level, new_property_name, disabled, created_at, updated_at`

// ListMappingRules returns the tenant's rules ordered for evaluation:
// priority descending, ties by creation order.
func (s *SQLiteMappingRuleStorage) ListMappingRules(ctx context.Context, tenantID string) ([]core.MappingRule, error) {
	query := `SELECT ` + mappingRuleColumns + `
		FROM mapping_rules
		WHERE tenant_id = ?
		ORDER BY priority DESC, created_at ASC`

	rows, err := s.sqlite.DB.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mapping rules: %w", err)
	}
	defer rows.Close()

	var out []core.MappingRule
	for rows.Next() {
		rule, err := scanMappingRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

// GetMappingRule fetches one rule by id within a tenant.
func (s *SQLiteMappingRuleStorage) GetMappingRule(ctx context.Context, tenantID, id string) (*core.MappingRule, error) {
	query := `SELECT ` + mappingRuleColumns + ` FROM mapping_rules WHERE tenant_id = ? AND id = ?`
	rule, err := scanMappingRule(s.sqlite.DB.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

// CreateMappingRule inserts a rule together with its rows in one
// transaction.
func (s *SQLiteMappingRuleStorage) CreateMappingRule(ctx context.Context, rule *core.MappingRule, rows []core.MappingRow) error {
	matchers, err := json.Marshal(rule.Matchers)
	if err != nil {
		return fmt.Errorf("failed to marshal matchers: %w", err)
	}

	tx, err := s.sqlite.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mapping_rules (`+mappingRuleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.TenantID, rule.Name, rule.Type, rule.Priority, string(matchers),
		rule.IsMultiLevel, rule.NewPropertyName, rule.Disabled, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert mapping rule: %w", err)
	}

	if err := insertMappingRows(ctx, tx, rule.ID, rows); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateMappingRule replaces a rule and, when rows is non-nil, its entire
// row table. The version stamp bumps so cached artifacts invalidate.
func (s *SQLiteMappingRuleStorage) UpdateMappingRule(ctx context.Context, rule *core.MappingRule, rows []core.MappingRow) error {
	matchers, err := json.Marshal(rule.Matchers)
	if err != nil {
		return fmt.Errorf("failed to marshal matchers: %w", err)
	}
	rule.UpdatedAt = time.Now().UTC()

	tx, err := s.sqlite.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE mapping_rules
		SET name = ?, type = ?, priority = ?, matchers = ?, is_multi_level = ?,
		    new_property_name = ?, disabled = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		rule.Name, rule.Type, rule.Priority, string(matchers), rule.IsMultiLevel,
		rule.NewPropertyName, rule.Disabled, rule.UpdatedAt, rule.TenantID, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update mapping rule: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	if rows != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mapping_rows WHERE rule_id = ?`, rule.ID); err != nil {
			return fmt.Errorf("failed to clear mapping rows: %w", err)
		}
		if err := insertMappingRows(ctx, tx, rule.ID, rows); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteMappingRule removes a rule; rows cascade.
func (s *SQLiteMappingRuleStorage) DeleteMappingRule(ctx context.Context, tenantID, id string) error {
	res, err := s.sqlite.DB.ExecContext(ctx,
		`DELETE FROM mapping_rules WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete mapping rule: %w", err)
	}
	return requireRow(res)
}

// ListRows returns a rule's rows in declared order.
func (s *SQLiteMappingRuleStorage) ListRows(ctx context.Context, ruleID string) ([]core.MappingRow, error) {
	rows, err := s.sqlite.DB.QueryContext(ctx,
		`SELECT rule_id, position, values_json FROM mapping_rows WHERE rule_id = ? ORDER BY position ASC`,
		ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mapping rows: %w", err)
	}
	defer rows.Close()
	return scanMappingRows(rows)
}

// QueryRowsByFieldValues pushes the multi-level IN-set filter into SQL so
// large row tables are never scanned client-side.
func (s *SQLiteMappingRuleStorage) QueryRowsByFieldValues(ctx context.Context, ruleID, field string, values []string) ([]core.MappingRow, error) {
	if len(values) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(values))
	placeholders = placeholders[:len(placeholders)-1]

	// Field names come from validated rule matchers, but the JSON path is
	// still bound as a parameter rather than spliced into the query.
	query := `SELECT rule_id, position, values_json
		FROM mapping_rows
		WHERE rule_id = ? AND json_extract(values_json, '$.' || ?) IN (` + placeholders + `)
		ORDER BY position ASC`

	args := make([]any, 0, len(values)+2)
	args = append(args, ruleID, field)
	for _, v := range values {
		args = append(args, v)
	}

	rows, err := s.sqlite.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mapping rows by field values: %w", err)
	}
	defer rows.Close()
	return scanMappingRows(rows)
}

func insertMappingRows(ctx context.Context, tx *sql.Tx, ruleID string, rows []core.MappingRow) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO mapping_rows (rule_id, position, values_json) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		values, err := json.Marshal(rows[i].Values)
		if err != nil {
			return fmt.Errorf("failed to marshal row values: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ruleID, i, string(values)); err != nil {
			return fmt.Errorf("failed to insert mapping row %d: %w", i, err)
		}
	}
	return nil
}

func scanMappingRule(row rowScanner) (*core.MappingRule, error) {
	var rule core.MappingRule
	var matchers string
	err := row.Scan(&rule.ID, &rule.TenantID, &rule.Name, &rule.Type, &rule.Priority,
		&matchers, &rule.IsMultiLevel, &rule.NewPropertyName, &rule.Disabled,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(matchers), &rule.Matchers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal matchers: %w", err)
	}
	return &rule, nil
}

func scanMappingRows(rows *sql.Rows) ([]core.MappingRow, error) {
	var out []core.MappingRow
	for rows.Next() {
		var row core.MappingRow
		var values string
		if err := rows.Scan(&row.RuleID, &row.Position, &values); err != nil {
			return nil, fmt.Errorf("failed to scan mapping row: %w", err)
		}
		if err := json.Unmarshal([]byte(values), &row.Values); err != nil {
			return nil, fmt.Errorf("failed to unmarshal row values: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
