package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/j-veylop/limitwatch/internal/logger"
	"github.com/j-veylop/limitwatch/internal/models"
)

// FormatTimestamp renders t in the stored timestamp layout (UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// HourBucket returns the "YYYY-MM-DD HH" bucket t falls into (UTC).
func HourBucket(t time.Time) string {
	return t.UTC().Format(hourBucketLayout)
}

// RecordSnapshots upserts one row per non-error record into the hour bucket
// of ts, replacing any earlier row for the same account, quota and hour.
// All rows are written in one transaction. It returns the number of rows written.
func (db *DB) RecordSnapshots(ctx context.Context, accountEmail, providerType string, records []models.QuotaRecord, ts time.Time) (int, error) {
	if ts.IsZero() {
		ts = time.Now()
	}
	timestamp := FormatTimestamp(ts)
	bucket := HourBucket(ts)

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqlInsertSnapshot)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	written := 0
	for _, rec := range records {
		if rec.IsError {
			continue
		}

		name := rec.Name
		if name == "" {
			name = "unknown"
		}

		_, err := stmt.ExecContext(ctx,
			accountEmail,
			providerType,
			name,
			nullString(rec.DisplayName),
			nullFloat(rec.RemainingPct),
			nullFloat(rec.Used),
			nullFloat(rec.Limit),
			rec.Reset,
			timestamp,
			bucket,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert snapshot %q: %w", name, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshots: %w", err)
	}

	logger.Debug("recorded snapshots", "account", accountEmail, "count", written, "hour", bucket)
	return written, nil
}

// QuerySnapshots returns snapshots matching filter, newest first.
func (db *DB) QuerySnapshots(ctx context.Context, filter models.HistoryFilter) ([]models.HistorySnapshot, error) {
	where, args := filterClause(filter, true)
	query := "SELECT " + sqlSnapshotColumns + " FROM quota_snapshots WHERE 1=1" + where + sqlSnapshotOrder

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer closeRows(rows)

	var snapshots []models.HistorySnapshot
	for rows.Next() {
		var (
			s                    models.HistorySnapshot
			display, reset       sql.NullString
			remaining, used, lim sql.NullFloat64
			timestamp, createdAt string
		)
		if err := rows.Scan(
			&s.ID, &s.AccountEmail, &s.ProviderType, &s.QuotaName, &display,
			&remaining, &used, &lim, &reset, &timestamp, &s.HourBucket, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		s.DisplayName = display.String
		s.ResetTime = reset.String
		s.RemainingPct = floatPtr(remaining)
		s.Used = floatPtr(used)
		s.Limit = floatPtr(lim)
		s.CreatedAt = createdAt
		if t, ok := parseTimeString(timestamp); ok {
			s.Timestamp = t
		}
		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}

// AggregateSnapshots returns min/max/avg statistics per account, provider and
// quota over the filtered window. QuotaName in filter is ignored.
func (db *DB) AggregateSnapshots(ctx context.Context, filter models.HistoryFilter) ([]models.AggregationResult, error) {
	where, args := filterClause(filter, false)
	query := `
		SELECT
			account_email,
			provider_type,
			quota_name,
			display_name,
			MIN(remaining_pct),
			MAX(remaining_pct),
			AVG(remaining_pct),
			MIN(used),
			MAX(used),
			AVG(used),
			COUNT(*),
			MIN(timestamp),
			MAX(timestamp)
		FROM quota_snapshots
		WHERE 1=1` + where + sqlAggregateGroup

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate snapshots: %w", err)
	}
	defer closeRows(rows)

	var results []models.AggregationResult
	for rows.Next() {
		var (
			r                         models.AggregationResult
			display                   sql.NullString
			minRem, maxRem, avgRem    sql.NullFloat64
			minUsed, maxUsed, avgUsed sql.NullFloat64
			first, last               string
		)
		if err := rows.Scan(
			&r.AccountEmail, &r.ProviderType, &r.QuotaName, &display,
			&minRem, &maxRem, &avgRem, &minUsed, &maxUsed, &avgUsed,
			&r.DataPoints, &first, &last,
		); err != nil {
			return nil, fmt.Errorf("failed to scan aggregation: %w", err)
		}

		r.DisplayName = display.String
		r.MinRemaining = floatPtr(minRem)
		r.MaxRemaining = floatPtr(maxRem)
		r.AvgRemaining = floatPtr(avgRem)
		r.MinUsed = floatPtr(minUsed)
		r.MaxUsed = floatPtr(maxUsed)
		r.AvgUsed = floatPtr(avgUsed)
		r.FirstSeen, _ = parseTimeString(first)
		r.LastSeen, _ = parseTimeString(last)
		results = append(results, r)
	}

	return results, rows.Err()
}

// PurgeBefore deletes every snapshot with a timestamp strictly before cutoff.
func (db *DB) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	result, err := db.ExecContext(ctx,
		"DELETE FROM quota_snapshots WHERE timestamp < ?",
		FormatTimestamp(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge snapshots: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	logger.Info("purged old quota records", "deleted", deleted, "before", cutoff.Format(time.RFC3339))
	return deleted, nil
}

// DistinctAccounts returns every recorded account email, sorted.
func (db *DB) DistinctAccounts(ctx context.Context) ([]string, error) {
	return db.distinct(ctx, "SELECT DISTINCT account_email FROM quota_snapshots ORDER BY account_email")
}

// DistinctProviders returns every recorded provider type, sorted.
func (db *DB) DistinctProviders(ctx context.Context) ([]string, error) {
	return db.distinct(ctx, "SELECT DISTINCT provider_type FROM quota_snapshots ORDER BY provider_type")
}

// DistinctQuotas returns every recorded quota name, optionally for one account.
func (db *DB) DistinctQuotas(ctx context.Context, accountEmail string) ([]string, error) {
	if accountEmail == "" {
		return db.distinct(ctx, "SELECT DISTINCT quota_name FROM quota_snapshots ORDER BY quota_name")
	}
	return db.distinct(ctx,
		"SELECT DISTINCT quota_name FROM quota_snapshots WHERE account_email = ? ORDER BY quota_name",
		accountEmail,
	)
}

// TimeRange returns the oldest and newest snapshot timestamps. ok is false
// when the table is empty.
func (db *DB) TimeRange(ctx context.Context) (oldest, newest time.Time, ok bool, err error) {
	var minTS, maxTS sql.NullString
	err = db.QueryRowContext(ctx,
		"SELECT MIN(timestamp), MAX(timestamp) FROM quota_snapshots",
	).Scan(&minTS, &maxTS)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("failed to get time range: %w", err)
	}
	if !minTS.Valid || !maxTS.Valid {
		return time.Time{}, time.Time{}, false, nil
	}

	oldest, _ = parseTimeString(minTS.String)
	newest, _ = parseTimeString(maxTS.String)
	return oldest, newest, true, nil
}

// CountSnapshots returns the number of stored rows.
func (db *DB) CountSnapshots(ctx context.Context) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM quota_snapshots").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

func (db *DB) distinct(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct values: %w", err)
	}
	defer closeRows(rows)

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// filterClause builds the AND conditions for filter. Every condition starts
// with " AND " so the result appends to "WHERE 1=1".
func filterClause(filter models.HistoryFilter, withQuota bool) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)

	if !filter.Since.IsZero() {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, FormatTimestamp(filter.Since))
	}
	if !filter.Until.IsZero() {
		sb.WriteString(" AND timestamp <= ?")
		args = append(args, FormatTimestamp(filter.Until))
	}
	if filter.AccountEmail != "" {
		sb.WriteString(" AND account_email = ?")
		args = append(args, filter.AccountEmail)
	}
	if filter.ProviderType != "" {
		sb.WriteString(" AND provider_type = ?")
		args = append(args, filter.ProviderType)
	}
	if withQuota && filter.QuotaName != "" {
		sb.WriteString(" AND quota_name = ?")
		args = append(args, filter.QuotaName)
	}

	return sb.String(), args
}
