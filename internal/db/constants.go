package db

// dsnParams applies per-connection pragmas for every pooled connection and
// makes write transactions take the reserved lock up front.
const dsnParams = "?_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"

// schema matches the layout older limitwatch releases wrote, so existing
// history files open unchanged.
const schema = `
CREATE TABLE IF NOT EXISTS quota_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_email TEXT NOT NULL,
	provider_type TEXT NOT NULL,
	quota_name TEXT NOT NULL,
	display_name TEXT,
	remaining_pct REAL,
	used REAL,
	limit_val REAL,
	reset_time TEXT,
	timestamp TEXT NOT NULL,
	hour_bucket TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(account_email, quota_name, hour_bucket)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_account ON quota_snapshots(account_email);
CREATE INDEX IF NOT EXISTS idx_snapshots_provider ON quota_snapshots(provider_type);
CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON quota_snapshots(timestamp);
CREATE INDEX IF NOT EXISTS idx_snapshots_name ON quota_snapshots(quota_name);
CREATE INDEX IF NOT EXISTS idx_snapshots_hour ON quota_snapshots(hour_bucket);
`

// SQL fragments shared by the snapshot queries.
const (
	sqlInsertSnapshot = `
		INSERT OR REPLACE INTO quota_snapshots
			(account_email, provider_type, quota_name, display_name,
			 remaining_pct, used, limit_val, reset_time, timestamp, hour_bucket)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	sqlSnapshotColumns = `
		id, account_email, provider_type, quota_name, display_name,
		remaining_pct, used, limit_val, reset_time, timestamp, hour_bucket, created_at
	`

	sqlSnapshotOrder = " ORDER BY timestamp DESC, account_email, quota_name"

	sqlAggregateGroup = " GROUP BY account_email, provider_type, quota_name ORDER BY account_email, quota_name"
)

// timestampLayout is fixed width so that string comparison in SQL orders
// timestamps chronologically.
const timestampLayout = "2006-01-02T15:04:05.000000-07:00"

// hourBucketLayout is the deduplication granularity.
const hourBucketLayout = "2006-01-02 15"
