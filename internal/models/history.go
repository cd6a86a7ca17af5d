package models

import "time"

// Preset is a named relative time window for history queries.
type Preset int

const (
	// Preset24Hours covers the last 24 hours.
	Preset24Hours Preset = iota
	// Preset7Days covers the last 7 days.
	Preset7Days
	// Preset30Days covers the last 30 days.
	Preset30Days
	// Preset90Days covers the last 90 days.
	Preset90Days
)

// Presets lists every preset in cycling order.
var Presets = []Preset{Preset24Hours, Preset7Days, Preset30Days, Preset90Days}

// String returns the short preset name used on the command line.
func (p Preset) String() string {
	switch p {
	case Preset24Hours:
		return "24h"
	case Preset7Days:
		return "7d"
	case Preset30Days:
		return "30d"
	case Preset90Days:
		return "90d"
	default:
		return "unknown"
	}
}

// Duration returns the length of the window.
func (p Preset) Duration() time.Duration {
	switch p {
	case Preset24Hours:
		return 24 * time.Hour
	case Preset7Days:
		return 7 * 24 * time.Hour
	case Preset30Days:
		return 30 * 24 * time.Hour
	case Preset90Days:
		return 90 * 24 * time.Hour
	default:
		return 0
	}
}

// HistorySnapshot is one persisted quota reading. At most one row exists per
// account, quota name and hour bucket.
type HistorySnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	RemainingPct *float64  `json:"remaining_pct"`
	Used         *float64  `json:"used"`
	Limit        *float64  `json:"limit"`
	AccountEmail string    `json:"account_email"`
	ProviderType string    `json:"provider_type"`
	QuotaName    string    `json:"quota_name"`
	DisplayName  string    `json:"display_name"`
	ResetTime    string    `json:"reset_time"`
	HourBucket   string    `json:"hour_bucket"`
	CreatedAt    string    `json:"created_at"`
	ID           int64     `json:"id"`
}

// Label returns the display name, or the quota name when none was stored.
func (s HistorySnapshot) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.QuotaName
}

// AggregationResult summarizes one quota of one account over a window.
type AggregationResult struct {
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	MinRemaining *float64  `json:"min_remaining"`
	MaxRemaining *float64  `json:"max_remaining"`
	AvgRemaining *float64  `json:"avg_remaining"`
	MinUsed      *float64  `json:"min_used"`
	MaxUsed      *float64  `json:"max_used"`
	AvgUsed      *float64  `json:"avg_used"`
	AccountEmail string    `json:"account_email"`
	ProviderType string    `json:"provider_type"`
	QuotaName    string    `json:"quota_name"`
	DisplayName  string    `json:"display_name"`
	DataPoints   int       `json:"data_points"`
}

// HistoryFilter narrows history queries. Zero values mean "no filter";
// time bounds are inclusive.
type HistoryFilter struct {
	Since        time.Time
	Until        time.Time
	AccountEmail string
	ProviderType string
	QuotaName    string
}

// TimePoint is one sample of a quota time series.
type TimePoint struct {
	Timestamp    time.Time `json:"timestamp"`
	RemainingPct float64   `json:"remaining_pct"`
}

// DatabaseInfo describes the contents of the history store.
type DatabaseInfo struct {
	Oldest    time.Time `json:"oldest_record"`
	Newest    time.Time `json:"newest_record"`
	Path      string    `json:"path"`
	Accounts  []string  `json:"accounts"`
	Providers []string  `json:"providers"`
	Records   int64     `json:"records"`
}

// HasData reports whether any snapshot has been recorded.
func (d *DatabaseInfo) HasData() bool {
	return d.Records > 0
}
