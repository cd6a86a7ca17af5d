// Package history records quota snapshots and answers queries over them.
//
// Read paths never fail: storage errors are logged and produce empty
// results, so a broken history file never blocks the live quota view.
package history

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/j-veylop/limitwatch/internal/db"
	"github.com/j-veylop/limitwatch/internal/logger"
	"github.com/j-veylop/limitwatch/internal/models"
)

// Query selects snapshots by time range and optional exact-match filters.
type Query struct {
	Range
	Account  string
	Provider string
	Quota    string
}

// Filter resolves the query into store filter values at now.
func (q Query) Filter(now time.Time) models.HistoryFilter {
	since, until := q.Resolve(now)
	return models.HistoryFilter{
		Since:        since,
		Until:        until,
		AccountEmail: q.Account,
		ProviderType: q.Provider,
		QuotaName:    q.Quota,
	}
}

// Filters lists the values present in the store.
type Filters struct {
	Accounts  []string `json:"accounts"`
	Providers []string `json:"providers"`
}

// Service wraps the history database.
type Service struct {
	db  *db.DB
	now func() time.Time
}

// New creates a history service over an open database.
func New(database *db.DB) *Service {
	return &Service{db: database, now: time.Now}
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Service, error) {
	database, err := db.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return New(database), nil
}

// Close closes the underlying database.
func (s *Service) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Service) Path() string {
	return s.db.Path()
}

// Record stores one fetch of one account. Failures are logged and dropped;
// the number of rows written is returned.
func (s *Service) Record(ctx context.Context, email, providerType string, records []models.QuotaRecord, ts time.Time) int {
	n, err := s.db.RecordSnapshots(ctx, email, providerType, records, ts)
	if err != nil {
		logger.Error("failed to record history", "account", email, "error", err)
		return 0
	}
	return n
}

// History returns matching snapshots, newest first.
func (s *Service) History(ctx context.Context, q Query) []models.HistorySnapshot {
	rows, err := s.db.QuerySnapshots(ctx, q.Filter(s.now()))
	if err != nil {
		logger.Error("failed to query history", "error", err)
		return nil
	}
	return rows
}

// Aggregate returns per-quota statistics. The quota filter is not applied.
func (s *Service) Aggregate(ctx context.Context, q Query) []models.AggregationResult {
	rows, err := s.db.AggregateSnapshots(ctx, q.Filter(s.now()))
	if err != nil {
		logger.Error("failed to aggregate history", "error", err)
		return nil
	}
	return rows
}

// TimeSeries returns the remaining percentage of one quota in ascending time
// order. Snapshots without a percentage are skipped.
func (s *Service) TimeSeries(ctx context.Context, quota, account string, r Range) []models.TimePoint {
	rows := s.History(ctx, Query{Range: r, Account: account, Quota: quota})
	slices.SortStableFunc(rows, func(a, b models.HistorySnapshot) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	points := make([]models.TimePoint, 0, len(rows))
	for _, row := range rows {
		if row.RemainingPct == nil {
			continue
		}
		points = append(points, models.TimePoint{Timestamp: row.Timestamp, RemainingPct: *row.RemainingPct})
	}
	return points
}

// AvailableFilters returns the distinct accounts and providers on record.
func (s *Service) AvailableFilters(ctx context.Context) Filters {
	return Filters{
		Accounts:  s.distinct(ctx, s.db.DistinctAccounts),
		Providers: s.distinct(ctx, s.db.DistinctProviders),
	}
}

// Quotas returns the distinct quota names, optionally for one account.
func (s *Service) Quotas(ctx context.Context, account string) []string {
	return s.distinct(ctx, func(ctx context.Context) ([]string, error) {
		return s.db.DistinctQuotas(ctx, account)
	})
}

func (s *Service) distinct(ctx context.Context, fn func(context.Context) ([]string, error)) []string {
	values, err := fn(ctx)
	if err != nil {
		logger.Error("failed to list history values", "error", err)
		return nil
	}
	return values
}

// Info describes the database contents.
func (s *Service) Info(ctx context.Context) models.DatabaseInfo {
	info := models.DatabaseInfo{Path: s.db.Path()}

	oldest, newest, ok, err := s.db.TimeRange(ctx)
	if err != nil {
		logger.Error("failed to read history time range", "error", err)
	} else if ok {
		info.Oldest, info.Newest = oldest, newest
	}

	if info.Records, err = s.db.CountSnapshots(ctx); err != nil {
		logger.Error("failed to count history rows", "error", err)
	}

	filters := s.AvailableFilters(ctx)
	info.Accounts, info.Providers = filters.Accounts, filters.Providers
	return info
}

// Purge deletes snapshots taken strictly before the given time, which may be
// absolute or relative. It returns ErrInvalidTime for unparseable input.
func (s *Service) Purge(ctx context.Context, before string) (int64, error) {
	cutoff, err := ParseBound(before, s.now())
	if err != nil {
		return 0, err
	}
	if cutoff.IsZero() {
		return 0, fmt.Errorf("%w: empty cutoff", ErrInvalidTime)
	}
	n, err := s.db.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge history: %w", err)
	}
	if n > 0 {
		if err := s.db.Vacuum(ctx); err != nil {
			logger.Warn("failed to compact history after purge", "error", err)
		}
	}
	return n, nil
}
