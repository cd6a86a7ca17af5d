package providers

import (
	"strings"
	"time"
)

// creditPct returns remaining/limit as a clamped percentage; 100 when there
// is no positive limit.
func creditPct(remaining, limit float64) float64 {
	if limit <= 0 {
		return 100
	}
	return max(0, min(100, remaining/limit*100))
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// isoUTC formats t the way reset times are shown: second precision, Z suffix.
func isoUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
