package models

// QuotaRecord is one normalized measurement of remaining or used capacity for
// one named resource on one account. Providers build records fresh on every
// fetch and never modify them afterwards.
type QuotaRecord struct {
	RemainingPct *float64 `json:"remaining_pct,omitempty"`
	UsedPct      *float64 `json:"used_pct,omitempty"`
	Used         *float64 `json:"used,omitempty"`
	Limit        *float64 `json:"limit,omitempty"`
	Remaining    *float64 `json:"remaining,omitempty"`
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	Reset        string   `json:"reset,omitempty"`
	SourceType   string   `json:"source_type,omitempty"`
	Endpoint     string   `json:"endpoint,omitempty"`
	Message      string   `json:"message,omitempty"`
	HideProgress bool     `json:"hide_progress,omitempty"`
	IsError      bool     `json:"is_error,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// ErrorRecord builds an is_error record carrying a user-facing message.
func ErrorRecord(name, displayName, sourceType, message string) QuotaRecord {
	return QuotaRecord{
		Name:        name,
		DisplayName: displayName,
		SourceType:  sourceType,
		Message:     message,
		IsError:     true,
	}
}

// Percent returns the remaining percentage, derived from UsedPct when only
// the consumed share is known. ok is false when neither is set.
func (q QuotaRecord) Percent() (pct float64, ok bool) {
	switch {
	case q.RemainingPct != nil:
		return clampPct(*q.RemainingPct), true
	case q.UsedPct != nil:
		return clampPct(100 - *q.UsedPct), true
	default:
		return 0, false
	}
}

// Label returns the display name, or the machine name when none is set.
func (q QuotaRecord) Label() string {
	if q.DisplayName != "" {
		return q.DisplayName
	}
	return q.Name
}

func clampPct(v float64) float64 {
	return max(0, min(100, v))
}
