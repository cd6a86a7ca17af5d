// Package components renders quota records, history and charts for the
// terminal.
package components

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/j-veylop/limitwatch/internal/models"
	"github.com/j-veylop/limitwatch/internal/ui/styles"
)

const (
	nameWidth        = 22
	compactNameWidth = 18
	compactAcctWidth = 10
)

var partialBlocks = []string{"", "▏", "▎", "▍", "▌", "▋", "▊", "▉"}

var slotSuffix = regexp.MustCompile(`\s*\(\d+/\d+\)\s*$`)

// Percentages returns the percentage a bar shows, whether it is a used share,
// and the remaining percentage (100 when unknown).
func Percentages(q models.QuotaRecord) (shown float64, used bool, remaining float64) {
	remaining, ok := q.Percent()
	if !ok {
		remaining = 100
	}
	if q.UsedPct != nil {
		return *q.UsedPct, true, remaining
	}
	return remaining, false, remaining
}

// Bar renders a bar width cells wide filled to shown percent. Fractional bars
// use eighth blocks for the partially filled cell.
func Bar(shown float64, width int, color lipgloss.Color, fractional bool) string {
	shown = max(0, min(100, shown))
	style := lipgloss.NewStyle().Foreground(color)

	total := shown / 100 * float64(width)
	whole := int(total)
	if whole >= width {
		return style.Render(strings.Repeat("█", width))
	}

	filled := strings.Repeat("█", whole)
	cells := whole
	if fractional {
		if idx := int((total - float64(whole)) * 8); idx > 0 {
			filled += partialBlocks[idx]
			cells++
		}
	}
	return style.Render(filled) + strings.Repeat(" ", width-cells)
}

func percentSuffix(shown float64, used bool) string {
	if used {
		return fmt.Sprintf("%5.1f%% used", shown)
	}
	return fmt.Sprintf("%5.1f%%", shown)
}

// QuotaLine renders one record as a full-width bar line. nameColor is the
// provider's color name for the record.
func QuotaLine(q models.QuotaRecord, nameColor string, width int, now time.Time) string {
	name := styles.Foreground(nameColor).Render(fmt.Sprintf("%-*s", nameWidth, q.Label()))

	if q.IsError {
		msg := q.Message
		if msg == "" {
			msg = "Validation Required"
		}
		return ansi.Truncate(name+" "+styles.ErrorTextStyle.Render("⚠️ "+msg), width, "…")
	}
	if q.HideProgress {
		return name
	}

	shown, used, remaining := Percentages(q)
	barWidth := max(10, min(60, width-50))
	bar := Bar(shown, barWidth, styles.BarColor(shown, used), true)

	line := name + " " + bar + " " + percentSuffix(shown, used) + ResetCountdown(q.Reset, remaining, now)
	return ansi.Truncate(line, width, "…")
}

// CompactLine renders one record on a single line prefixed by the provider
// indicator and a fixed-width account column.
func CompactLine(q models.QuotaRecord, indicator, indicatorColor, account string, width int, now time.Time) string {
	if _, rest, ok := strings.Cut(account, ": "); ok {
		account = rest
	}
	account = fmt.Sprintf("%-*s", compactAcctWidth, ansi.Truncate(account, compactAcctWidth, ""))
	prefix := styles.Foreground(indicatorColor).Render(indicator) + " " + account + ": "

	name := q.Label()
	if indicator == "G" && strings.HasPrefix(strings.ToLower(name), "gemini ") {
		name = name[len("gemini "):]
	}
	name = slotSuffix.ReplaceAllString(name, "")

	if q.IsError {
		msg := q.Message
		if msg == "" {
			msg = "Error"
		}
		return prefix + styles.ErrorTextStyle.Render(name+": "+msg)
	}
	if q.HideProgress {
		return prefix + name
	}

	shown, used, remaining := Percentages(q)
	barWidth := max(5, min(30, width-(ansi.StringWidth(prefix)+30)))
	bar := Bar(shown, barWidth, styles.BarColor(shown, used), false)

	label := fmt.Sprintf("%-*s", compactNameWidth, ansi.Truncate(name, compactNameWidth, ""))
	return prefix + label + " " + bar + " " + percentSuffix(shown, used) + ResetCountdown(q.Reset, remaining, now)
}

// CompactError renders an account-level failure in compact mode.
func CompactError(indicator, indicatorColor, account string, err error) string {
	return styles.Foreground(indicatorColor).Render(indicator) + " " + account + ": " +
		styles.WarningTextStyle.Render("Warning: "+err.Error())
}

// AccountHeader renders the line introducing one account. With an alias the
// email moves into the trailing metadata.
func AccountHeader(provider, email, alias, group string) string {
	display, meta := email, group
	if alias != "" {
		display = alias
		meta = email
		if group != "" {
			meta = email + "|" + group
		}
	}

	header := display
	if provider != "" {
		header = provider + ": " + display
	}
	if meta != "" {
		header += " (" + meta + ")"
	}
	return styles.HeaderStyle.Render("📧 " + header)
}

// EmptyMessage explains why an account shows no records.
func EmptyMessage(hadRecords, showAll bool) string {
	if hadRecords && !showAll {
		return styles.MutedStyle.Render("No premium models found (use --show-all to see all models).")
	}
	return styles.WarningTextStyle.Render("No active quota information found.")
}

// ParseReset interprets a reset field as an RFC 3339 time or a Unix
// timestamp in seconds or milliseconds.
func ParseReset(reset string) (time.Time, bool) {
	if reset == "" || reset == "Unknown" {
		return time.Time{}, false
	}
	if strings.Contains(reset, "T") {
		t, err := time.Parse(time.RFC3339, reset)
		return t, err == nil
	}
	v, err := strconv.ParseFloat(reset, 64)
	if err != nil {
		return time.Time{}, false
	}
	if v > 1e11 {
		return time.UnixMilli(int64(v)).UTC(), true
	}
	return time.Unix(int64(v), 0).UTC(), true
}

// ResetCountdown returns " (1d 2h 30m)" until the reset, or "" when the reset
// is unknown, already passed, or the quota is full.
func ResetCountdown(reset string, remaining float64, now time.Time) string {
	if remaining >= 100 {
		return ""
	}
	t, ok := ParseReset(reset)
	if !ok {
		return ""
	}
	delta := FormatDelta(t.Sub(now))
	if delta == "" {
		return ""
	}
	return styles.MutedStyle.Render(" (" + delta + ")")
}

// FormatDelta formats a positive duration as "1d 2h 30m", omitting zero units.
func FormatDelta(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return ""
	}
	days := secs / 86400
	hours := secs % 86400 / 3600
	minutes := secs % 3600 / 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	return strings.Join(parts, " ")
}

// TimeUntilReset returns the time left until reset, zero once it has passed.
func TimeUntilReset(reset, now time.Time) time.Duration {
	if reset.IsZero() || !reset.After(now) {
		return 0
	}
	return reset.Sub(now)
}

// FormatResetTime renders the time until reset in the short form used by the
// watch view.
func FormatResetTime(reset, now time.Time) string {
	if reset.IsZero() {
		return "Unknown"
	}
	d := TimeUntilReset(reset, now)
	switch {
	case d <= 0:
		return "Now"
	case d < time.Minute:
		return "< 1m"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh%dm", hours, minutes)
}
