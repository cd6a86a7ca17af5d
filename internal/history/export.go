package history

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/j-veylop/limitwatch/internal/db"
	"github.com/j-veylop/limitwatch/internal/logger"
	"github.com/j-veylop/limitwatch/internal/models"
)

var csvHeader = []string{
	"timestamp", "account_email", "provider_type", "quota_name", "display_name",
	"remaining_pct", "used", "limit", "reset_time",
}

// ExportInfo describes what an export would contain.
type ExportInfo struct {
	Start   time.Time `json:"start,omitzero"`
	End     time.Time `json:"end,omitzero"`
	Records int       `json:"record_count"`
}

// Exporter writes history snapshots as CSV or Markdown.
type Exporter struct {
	history *Service
}

// NewExporter creates an exporter reading from h.
func NewExporter(h *Service) *Exporter {
	return &Exporter{history: h}
}

// CSV writes matching snapshots to w and returns the number written.
// Nothing is written when no snapshot matches.
func (e *Exporter) CSV(ctx context.Context, w io.Writer, q Query) (int, error) {
	rows := e.history.History(ctx, q)
	if len(rows) == 0 {
		logger.Warn("no data to export")
		return 0, nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			db.FormatTimestamp(r.Timestamp),
			r.AccountEmail,
			r.ProviderType,
			r.QuotaName,
			r.DisplayName,
			csvFloat(r.RemainingPct),
			csvFloat(r.Used),
			csvFloat(r.Limit),
			r.ResetTime,
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush csv: %w", err)
	}
	return len(rows), nil
}

func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Markdown writes matching snapshots as a Markdown report.
func (e *Exporter) Markdown(ctx context.Context, w io.Writer, q Query) (int, error) {
	rows := e.history.History(ctx, q)
	if len(rows) == 0 {
		logger.Warn("no data to export")
		return 0, nil
	}

	var b strings.Builder
	b.WriteString("# Quota History Export\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", e.history.now().Format(time.RFC3339))

	if filters := filterLines(q); len(filters) > 0 {
		b.WriteString("## Filters\n")
		for _, line := range filters {
			fmt.Fprintf(&b, "- %s\n", line)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Data\n\n")
	b.WriteString("| Timestamp | Account | Provider | Quota | Remaining % | Used | Limit |\n")
	b.WriteString("|-----------|---------|----------|-------|-------------|------|-------|\n")
	for _, r := range rows {
		account, _, _ := strings.Cut(r.AccountEmail, "@")
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
			r.Timestamp.UTC().Format("2006-01-02T15:04"),
			account,
			r.ProviderType,
			r.Label(),
			mdFloat(r.RemainingPct, "%.1f%%"),
			mdFloat(r.Used, "%.0f"),
			mdFloat(r.Limit, "%.0f"),
		)
	}
	fmt.Fprintf(&b, "\n*Total records: %d*\n", len(rows))

	if _, err := io.WriteString(w, b.String()); err != nil {
		return 0, fmt.Errorf("failed to write markdown: %w", err)
	}
	return len(rows), nil
}

func filterLines(q Query) []string {
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	add("Time Range", q.Preset)
	add("Since", q.Since)
	add("Until", q.Until)
	add("Account", q.Account)
	add("Provider", q.Provider)
	add("Quota", q.Quota)
	return lines
}

func mdFloat(v *float64, format string) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf(format, *v)
}

// Info reports the record count and time span an export of q would cover.
func (e *Exporter) Info(ctx context.Context, q Query) ExportInfo {
	rows := e.history.History(ctx, q)
	info := ExportInfo{Records: len(rows)}
	info.Start, info.End = span(rows)
	return info
}

// WriteFile runs export into the file at path, creating parent directories.
// An export that matched nothing leaves no file behind.
func WriteFile(path string, export func(io.Writer) (int, error)) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}

	n, err := export(f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close export file: %w", cerr)
	}
	if err != nil || n == 0 {
		_ = os.Remove(path)
		return 0, err
	}

	logger.Info("exported history", "records", n, "path", path)
	return n, nil
}

func span(rows []models.HistorySnapshot) (start, end time.Time) {
	for i, r := range rows {
		if i == 0 || r.Timestamp.Before(start) {
			start = r.Timestamp
		}
		if i == 0 || r.Timestamp.After(end) {
			end = r.Timestamp
		}
	}
	return start, end
}
