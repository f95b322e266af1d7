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

// SQLiteBlackoutRuleStorage persists blackout rules.
type SQLiteBlackoutRuleStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteBlackoutRuleStorage creates a blackout-rule storage handler.
func NewSQLiteBlackoutRuleStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteBlackoutRuleStorage {
	return &SQLiteBlackoutRuleStorage{sqlite: sqlite, logger: logger}
}

const blackoutRuleColumns = `id, tenant_id, name, cel_query, start_time, end_time,
	duration_seconds, enabled, created_at, updated_at`

// ListActiveBlackoutRules returns enabled rules whose suppression window
// covers now. The window filter runs in SQL; ActiveAt re-checks on the
// evaluator side for the duration-based bound.
func (s *SQLiteBlackoutRuleStorage) ListActiveBlackoutRules(ctx context.Context, tenantID string, now time.Time) ([]core.BlackoutRule, error) {
	query := `SELECT ` + blackoutRuleColumns + `
		FROM blackout_rules
		WHERE tenant_id = ? AND enabled = 1 AND start_time <= ?
		  AND (end_time IS NULL OR end_time >= ?)
		ORDER BY created_at ASC`

	rows, err := s.sqlite.DB.QueryContext(ctx, query, tenantID, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query blackout rules: %w", err)
	}
	defer rows.Close()
	return scanBlackoutRules(rows)
}

// ListBlackoutRules returns every rule for a tenant.
func (s *SQLiteBlackoutRuleStorage) ListBlackoutRules(ctx context.Context, tenantID string) ([]core.BlackoutRule, error) {
	query := `SELECT ` + blackoutRuleColumns + `
		FROM blackout_rules WHERE tenant_id = ? ORDER BY created_at ASC`

	rows, err := s.sqlite.DB.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query blackout rules: %w", err)
	}
	defer rows.Close()
	return scanBlackoutRules(rows)
}

// GetBlackoutRule fetches one rule by id within a tenant.
func (s *SQLiteBlackoutRuleStorage) GetBlackoutRule(ctx context.Context, tenantID, id string) (*core.BlackoutRule, error) {
	query := `SELECT ` + blackoutRuleColumns + ` FROM blackout_rules WHERE tenant_id = ? AND id = ?`
	rule, err := scanBlackoutRule(s.sqlite.DB.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

// CreateBlackoutRule inserts a new rule.
func (s *SQLiteBlackoutRuleStorage) CreateBlackoutRule(ctx context.Context, rule *core.BlackoutRule) error {
	_, err := s.sqlite.DB.ExecContext(ctx, `
		INSERT INTO blackout_rules (`+blackoutRuleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.TenantID, rule.Name, rule.CELQuery, rule.StartTime, rule.EndTime,
		rule.DurationSeconds, rule.Enabled, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert blackout rule: %w", err)
	}
	return nil
}

// UpdateBlackoutRule replaces a rule's mutable fields and bumps its
// version stamp.
func (s *SQLiteBlackoutRuleStorage) UpdateBlackoutRule(ctx context.Context, rule *core.BlackoutRule) error {
	rule.UpdatedAt = time.Now().UTC()
	res, err := s.sqlite.DB.ExecContext(ctx, `
		UPDATE blackout_rules
		SET name = ?, cel_query = ?, start_time = ?, end_time = ?,
		    duration_seconds = ?, enabled = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		rule.Name, rule.CELQuery, rule.StartTime, rule.EndTime,
		rule.DurationSeconds, rule.Enabled, rule.UpdatedAt, rule.TenantID, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update blackout rule: %w", err)
	}
	return requireRow(res)
}

// DeleteBlackoutRule removes a rule.
func (s *SQLiteBlackoutRuleStorage) DeleteBlackoutRule(ctx context.Context, tenantID, id string) error {
	res, err := s.sqlite.DB.ExecContext(ctx,
		`DELETE FROM blackout_rules WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete blackout rule: %w", err)
	}
	return requireRow(res)
}

func scanBlackoutRule(row rowScanner) (*core.BlackoutRule, error) {
	var rule core.BlackoutRule
	var endTime sql.NullTime
	err := row.Scan(&rule.ID, &rule.TenantID, &rule.Name, &rule.CELQuery,
		&rule.StartTime, &endTime, &rule.DurationSeconds, &rule.Enabled,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time
		rule.EndTime = &t
	}
	return &rule, nil
}

func scanBlackoutRules(rows *sql.Rows) ([]core.BlackoutRule, error) {
	var out []core.BlackoutRule
	for rows.Next() {
		rule, err := scanBlackoutRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blackout rule: %w", err)
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}
