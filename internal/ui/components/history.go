package components

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/j-veylop/limitwatch/internal/models"
	"github.com/j-veylop/limitwatch/internal/ui/styles"
)

// HistoryRowLimit caps the rows HistoryTable prints.
const HistoryRowLimit = 100

const sparkWidth = 20

// ShortAccount returns the local part of an email address.
func ShortAccount(email string) string {
	if local, _, ok := strings.Cut(email, "@"); ok {
		return local
	}
	return email
}

// column is one table column: a header and a fixed width.
type column struct {
	title string
	width int
	right bool
}

func cell(s string, c column) string {
	s = ansi.Truncate(s, c.width, "…")
	pad := strings.Repeat(" ", max(0, c.width-ansi.StringWidth(s)))
	if c.right {
		return pad + s
	}
	return s + pad
}

func renderTable(title string, cols []column, rows [][]string) string {
	var b strings.Builder
	if title != "" {
		b.WriteString(styles.TitleStyle.Render(title))
		b.WriteString("\n")
	}

	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = cell(c.title, c)
	}
	b.WriteString(styles.TableHeaderStyle.Render(strings.Join(headers, "  ")))
	b.WriteString("\n")

	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			cells[i] = cell(v, c)
		}
		b.WriteString(strings.TrimRight(strings.Join(cells, "  "), " "))
		b.WriteString("\n")
	}
	return b.String()
}

func optional(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.0f", *v)
}

// HistoryTable renders snapshots as a time-series table, newest first,
// showing at most HistoryRowLimit rows.
func HistoryTable(rows []models.HistorySnapshot) string {
	if len(rows) == 0 {
		return styles.WarningTextStyle.Render("No historical data found.") + "\n"
	}

	cols := []column{
		{title: "Time", width: 12},
		{title: "Account", width: 16},
		{title: "Provider", width: 14},
		{title: "Quota", width: 28},
		{title: "Remaining", width: 9, right: true},
		{title: "Bar", width: 10},
		{title: "Used", width: 10, right: true},
		{title: "Limit", width: 10, right: true},
	}

	shown := rows[:min(len(rows), HistoryRowLimit)]
	table := make([][]string, 0, len(shown)+1)
	for _, r := range shown {
		remaining, bar := styles.MutedStyle.Render("N/A"), styles.MutedStyle.Render(strings.Repeat("░", 10))
		if r.RemainingPct != nil {
			pct := *r.RemainingPct
			remaining = Percent(pct, 1)
			filled := max(0, min(10, int(pct/10)))
			bar = lipgloss.NewStyle().Foreground(styles.PercentColor(pct)).Render(strings.Repeat("█", filled)) +
				styles.MutedStyle.Render(strings.Repeat("░", 10-filled))
		}
		table = append(table, []string{
			r.Timestamp.Local().Format("Jan 02 15:04"),
			ShortAccount(r.AccountEmail),
			r.ProviderType,
			r.Label(),
			remaining,
			bar,
			optional(r.Used),
			optional(r.Limit),
		})
	}
	title := fmt.Sprintf("Quota History (%d of %d records)", len(shown), len(rows))
	out := renderTable(title, cols, table)
	if len(rows) > HistoryRowLimit {
		out += styles.MutedStyle.Render(fmt.Sprintf("... %d more records", len(rows)-HistoryRowLimit)) + "\n"
	}
	return out
}

type seriesKey struct {
	account, provider, quota string
}

type series struct {
	label  string
	values []float64
}

// SparklineTable groups snapshots by account, provider and quota and renders
// one sparkline row per group in chronological order.
func SparklineTable(rows []models.HistorySnapshot) string {
	if len(rows) == 0 {
		return styles.WarningTextStyle.Render("No historical data found.") + "\n"
	}

	ordered := slices.Clone(rows)
	slices.SortStableFunc(ordered, func(a, b models.HistorySnapshot) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	groups := make(map[seriesKey]*series)
	for _, r := range ordered {
		k := seriesKey{r.AccountEmail, r.ProviderType, r.QuotaName}
		g, ok := groups[k]
		if !ok {
			g = &series{label: r.Label()}
			groups[k] = g
		}
		if r.RemainingPct != nil {
			g.values = append(g.values, *r.RemainingPct)
		}
	}

	keys := make([]seriesKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b seriesKey) int {
		return cmp.Or(cmp.Compare(a.account, b.account), cmp.Compare(a.provider, b.provider), cmp.Compare(a.quota, b.quota))
	})

	cols := []column{
		{title: "Account", width: 16},
		{title: "Provider", width: 14},
		{title: "Quota", width: 28},
		{title: "Trend", width: sparkWidth},
		{title: "Current", width: 7, right: true},
		{title: "Min", width: 5, right: true},
		{title: "Max", width: 5, right: true},
		{title: "Direction", width: 10},
	}

	var table [][]string
	for _, k := range keys {
		g := groups[k]
		if len(g.values) == 0 {
			continue
		}
		table = append(table, []string{
			ShortAccount(k.account),
			k.provider,
			g.label,
			RenderSparkline(g.values, sparkWidth),
			Percent(g.values[len(g.values)-1], 1),
			Percent(slices.Min(g.values), 0),
			Percent(slices.Max(g.values), 0),
			Trend(g.values),
		})
	}

	footer := styles.MutedStyle.Render(fmt.Sprintf("  %d quotas tracked across %d snapshots", len(groups), len(rows)))
	return renderTable("Quota History", cols, table) + footer + "\n"
}

// AggregationTable renders per-quota statistics.
func AggregationTable(results []models.AggregationResult) string {
	if len(results) == 0 {
		return styles.WarningTextStyle.Render("No historical data found.") + "\n"
	}

	cols := []column{
		{title: "Account", width: 16},
		{title: "Provider", width: 14},
		{title: "Quota", width: 28},
		{title: "Min", width: 6, right: true},
		{title: "Avg", width: 6, right: true},
		{title: "Max", width: 6, right: true},
		{title: "Points", width: 6, right: true},
		{title: "Last Seen", width: 12},
	}

	pct := func(v *float64) string {
		if v == nil {
			return styles.MutedStyle.Render("N/A")
		}
		return Percent(*v, 0)
	}

	table := make([][]string, 0, len(results))
	for _, r := range results {
		label := r.DisplayName
		if label == "" {
			label = r.QuotaName
		}
		table = append(table, []string{
			ShortAccount(r.AccountEmail),
			r.ProviderType,
			label,
			pct(r.MinRemaining),
			pct(r.AvgRemaining),
			pct(r.MaxRemaining),
			fmt.Sprintf("%d", r.DataPoints),
			r.LastSeen.Local().Format("Jan 02 15:04"),
		})
	}
	return renderTable("Quota Statistics", cols, table)
}

// SummaryPanel renders a description of the history database.
func SummaryPanel(info models.DatabaseInfo) string {
	none := styles.MutedStyle.Render("None")
	stamp := func(t time.Time) string {
		if t.IsZero() {
			return none
		}
		return t.Local().Format(time.RFC3339)
	}
	list := func(items []string) string {
		if len(items) == 0 {
			return none
		}
		return strings.Join(items, ", ")
	}

	key := lipgloss.NewStyle().Bold(true).Foreground(styles.Current.Primary).Width(16)
	lines := []string{
		key.Render("Database") + info.Path,
		key.Render("Records") + fmt.Sprintf("%d", info.Records),
		key.Render("Oldest Record") + stamp(info.Oldest),
		key.Render("Newest Record") + stamp(info.Newest),
		key.Render("Accounts") + fmt.Sprintf("%d", len(info.Accounts)),
		key.Render("Providers") + list(info.Providers),
	}
	if len(info.Accounts) > 0 {
		lines = append(lines, key.Render("Account List")+list(info.Accounts))
	}
	if !info.HasData() {
		lines = append(lines, "", styles.MutedStyle.Render("No snapshots recorded yet. Every successful fetch adds one."))
	}

	title := styles.TitleStyle.Render("History Database Summary")
	return title + "\n" + styles.CardStyle.Render(strings.Join(lines, "\n")) + "\n"
}
