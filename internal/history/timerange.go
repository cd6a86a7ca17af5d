package history

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/j-veylop/limitwatch/internal/logger"
	"github.com/j-veylop/limitwatch/internal/models"
)

// ErrInvalidTime is returned when a time bound cannot be parsed.
var ErrInvalidTime = errors.New("invalid time")

// absoluteLayouts are tried in order. Values without an offset are UTC.
var absoluteLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParsePreset returns the start of the named window ending at now.
func ParsePreset(name string, now time.Time) (time.Time, bool) {
	p, ok := LookupPreset(name)
	if !ok {
		return time.Time{}, false
	}
	return now.Add(-p.Duration()), true
}

// LookupPreset maps a name such as "7d" to its preset.
func LookupPreset(name string) (models.Preset, bool) {
	for _, p := range models.Presets {
		if p.String() == name {
			return p, true
		}
	}
	return 0, false
}

// ParseBound parses an absolute ISO-8601 time, or a relative "<N>d" / "<N>h"
// offset back from now. An empty value yields the zero time.
func ParseBound(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}

	if n, unit, ok := splitRelative(value); ok {
		switch unit {
		case 'd':
			if t := now.AddDate(0, 0, -n); !t.After(now) {
				return t, nil
			}
		case 'h':
			if int64(n) <= math.MaxInt64/int64(time.Hour) {
				return now.Add(-time.Duration(n) * time.Hour), nil
			}
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, value)
}

func splitRelative(value string) (int, byte, bool) {
	if len(value) < 2 {
		return 0, 0, false
	}
	unit := value[len(value)-1]
	digits := value[:len(value)-1]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, 0, false
	}
	return n, unit, true
}

// Range selects a time window: a preset, or since/until bounds. Relative
// values are resolved against the instant the query runs.
type Range struct {
	Preset string
	Since  string
	Until  string
}

// Resolve returns the inclusive bounds of the range at now. A preset wins over
// Since. Unparseable values are logged and treated as unbounded.
func (r Range) Resolve(now time.Time) (since, until time.Time) {
	switch {
	case r.Preset != "":
		if start, ok := ParsePreset(r.Preset, now); ok {
			since = start
		} else {
			logger.Warn("unknown time preset", "preset", r.Preset)
		}
	case r.Since != "":
		since = r.bound(r.Since, now)
	}

	if r.Until != "" {
		until = r.bound(r.Until, now)
	}
	return since, until
}

func (r Range) bound(value string, now time.Time) time.Time {
	t, err := ParseBound(value, now)
	if err != nil {
		logger.Warn("could not parse datetime", "value", value)
		return time.Time{}
	}
	return t
}

// IsZero reports whether the range is unbounded.
func (r Range) IsZero() bool {
	return r.Preset == "" && r.Since == "" && r.Until == ""
}
