package db

import (
	"context"
	"fmt"
)

// FixLegacyTimeFormats rewrites timestamps written without fractional seconds
// or with a "Z" suffix into the fixed-width layout, so that range filters,
// which compare strings, stay chronological.
func (db *DB) FixLegacyTimeFormats() error {
	queries := []string{
		// "2024-01-02T03:04:05Z"
		`UPDATE quota_snapshots
		 SET timestamp = SUBSTR(timestamp, 1, 19) || '.000000+00:00'
		 WHERE length(timestamp) = 20 AND SUBSTR(timestamp, 20, 1) = 'Z'`,

		// "2024-01-02T03:04:05.123456Z"
		`UPDATE quota_snapshots
		 SET timestamp = SUBSTR(timestamp, 1, 26) || '+00:00'
		 WHERE length(timestamp) = 27 AND SUBSTR(timestamp, 27, 1) = 'Z'`,

		// "2024-01-02T03:04:05+00:00"
		`UPDATE quota_snapshots
		 SET timestamp = SUBSTR(timestamp, 1, 19) || '.000000' || SUBSTR(timestamp, 20)
		 WHERE length(timestamp) = 25 AND SUBSTR(timestamp, 20, 1) IN ('+', '-')`,
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	for _, query := range queries {
		if _, err := db.ExecContext(context.Background(), query); err != nil {
			return fmt.Errorf("failed to fix legacy time formats: %w", err)
		}
	}

	return nil
}
