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

// SQLiteStatsStorage maintains per-rule deduplication counters. All
// increments are single-statement upserts so concurrent ingestion of the
// same rule stays consistent without application-level locking.
type SQLiteStatsStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteStatsStorage creates a statistics storage handler.
func NewSQLiteStatsStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteStatsStorage {
	return &SQLiteStatsStorage{sqlite: sqlite, logger: logger}
}

// IncrementIngested bumps the monotonic ingestion counter.
func (s *SQLiteStatsStorage) IncrementIngested(ctx context.Context, ruleID string) error {
	_, err := s.sqlite.DB.ExecContext(ctx, `
		INSERT INTO dedup_stats (rule_id, ingested, unique_fingerprints)
		VALUES (?, 1, 0)
		ON CONFLICT(rule_id) DO UPDATE SET ingested = ingested + 1`,
		ruleID)
	if err != nil {
		return fmt.Errorf("failed to increment ingested counter: %w", err)
	}
	return nil
}

// IncrementUnique bumps the unique-fingerprint counter.
func (s *SQLiteStatsStorage) IncrementUnique(ctx context.Context, ruleID string) error {
	_, err := s.sqlite.DB.ExecContext(ctx, `
		INSERT INTO dedup_stats (rule_id, ingested, unique_fingerprints)
		VALUES (?, 0, 1)
		ON CONFLICT(rule_id) DO UPDATE SET unique_fingerprints = unique_fingerprints + 1`,
		ruleID)
	if err != nil {
		return fmt.Errorf("failed to increment unique counter: %w", err)
	}
	return nil
}

// IncrementHourlyDuplicates bumps the duplicate bucket for the hour
// containing at, and prunes buckets that fell out of the 24-hour window.
func (s *SQLiteStatsStorage) IncrementHourlyDuplicates(ctx context.Context, ruleID string, at time.Time) error {
	epochHour := at.UTC().Unix() / 3600
	_, err := s.sqlite.DB.ExecContext(ctx, `
		INSERT INTO dedup_hourly_stats (rule_id, epoch_hour, duplicates)
		VALUES (?, ?, 1)
		ON CONFLICT(rule_id, epoch_hour) DO UPDATE SET duplicates = duplicates + 1`,
		ruleID, epochHour)
	if err != nil {
		return fmt.Errorf("failed to increment hourly duplicates: %w", err)
	}

	// Lazy pruning keeps the table bounded; failure here is harmless.
	if _, err := s.sqlite.DB.ExecContext(ctx,
		`DELETE FROM dedup_hourly_stats WHERE rule_id = ? AND epoch_hour < ?`,
		ruleID, epochHour-core.HourlyBucketCount); err != nil {
		s.logger.Debugw("Failed to prune hourly dedup stats", "rule_id", ruleID, "error", err)
	}
	return nil
}

// GetStats returns the rule's counters and its 24-bucket duplicate
// distribution. A rule with no recorded ingestion yields zeroed stats.
func (s *SQLiteStatsStorage) GetStats(ctx context.Context, ruleID string) (*core.DeduplicationStats, error) {
	stats := &core.DeduplicationStats{RuleID: ruleID}

	err := s.sqlite.DB.QueryRowContext(ctx,
		`SELECT ingested, unique_fingerprints FROM dedup_stats WHERE rule_id = ?`,
		ruleID).Scan(&stats.Ingested, &stats.UniqueFingerprints)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read dedup stats: %w", err)
	}

	nowHour := time.Now().UTC().Unix() / 3600
	rows, err := s.sqlite.DB.QueryContext(ctx, `
		SELECT epoch_hour, duplicates
		FROM dedup_hourly_stats
		WHERE rule_id = ? AND epoch_hour > ?`,
		ruleID, nowHour-core.HourlyBucketCount)
	if err != nil {
		return nil, fmt.Errorf("failed to read hourly dedup stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var epochHour, duplicates int64
		if err := rows.Scan(&epochHour, &duplicates); err != nil {
			return nil, fmt.Errorf("failed to scan hourly bucket: %w", err)
		}
		stats.HourlyDuplicates[epochHour%core.HourlyBucketCount] = duplicates
	}
	return stats, rows.Err()
}
