package history

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func TestParseBound(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    time.Time
		wantErr bool
	}{
		{"Empty", "", time.Time{}, false},
		{"ZuluSuffix", "2024-01-01T10:00:00Z", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), false},
		{"Offset", "2024-01-01T10:00:00+02:00", time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), false},
		{"NaiveIsUTC", "2024-01-01T10:00:00", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), false},
		{"DateOnly", "2024-01-05", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), false},
		{"RelativeDays", "7d", testNow.Add(-7 * 24 * time.Hour), false},
		{"RelativeHours", "48h", testNow.Add(-48 * time.Hour), false},
		{"Garbage", "yesterday", time.Time{}, true},
		{"BareUnit", "d", time.Time{}, true},
		{"UnknownUnit", "5w", time.Time{}, true},
		{"LargeDays", "200000d", testNow.AddDate(0, 0, -200000), false},
		{"HoursOverflow", "9999999h", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBound(tt.value, testNow)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTime) {
					t.Fatalf("ParseBound(%q) error = %v, want ErrInvalidTime", tt.value, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBound(%q) error = %v", tt.value, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseBound(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseBound_NeverInFuture(t *testing.T) {
	for _, value := range []string{"200000d", "106752d", "2562047h", "9223372036854775807d"} {
		got, err := ParseBound(value, testNow)
		if err == nil && got.After(testNow) {
			t.Errorf("ParseBound(%q) = %v, after now", value, got)
		}
	}
}

func TestParsePreset(t *testing.T) {
	tests := map[string]time.Duration{
		"24h": 24 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"30d": 30 * 24 * time.Hour,
		"90d": 90 * 24 * time.Hour,
	}
	for name, d := range tests {
		got, ok := ParsePreset(name, testNow)
		if !ok || !got.Equal(testNow.Add(-d)) {
			t.Errorf("ParsePreset(%q) = %v, %v", name, got, ok)
		}
	}
	if _, ok := ParsePreset("1y", testNow); ok {
		t.Error("unknown preset should not parse")
	}
}

func TestRange_Resolve(t *testing.T) {
	tests := []struct {
		name      string
		r         Range
		wantSince time.Time
		wantUntil time.Time
	}{
		{"Unbounded", Range{}, time.Time{}, time.Time{}},
		{"PresetWinsOverSince", Range{Preset: "24h", Since: "7d"}, testNow.Add(-24 * time.Hour), time.Time{}},
		{"SinceAndUntil", Range{Since: "2024-01-01", Until: "2024-01-02"}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"InvalidSinceIgnored", Range{Since: "soon"}, time.Time{}, time.Time{}},
		{"UnknownPresetIgnored", Range{Preset: "1y", Since: "7d"}, time.Time{}, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			since, until := tt.r.Resolve(testNow)
			if !since.Equal(tt.wantSince) || !until.Equal(tt.wantUntil) {
				t.Errorf("Resolve() = %v, %v, want %v, %v", since, until, tt.wantSince, tt.wantUntil)
			}
		})
	}
}

func TestRange_RelativeEvaluatedAtQueryTime(t *testing.T) {
	r := Range{Since: "1h"}
	a, _ := r.Resolve(testNow)
	b, _ := r.Resolve(testNow.Add(time.Hour))
	if b.Sub(a) != time.Hour {
		t.Errorf("relative bound should move with now: %v then %v", a, b)
	}
}
