package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/j-veylop/limitwatch/internal/history"
	"github.com/j-veylop/limitwatch/internal/models"
	"github.com/j-veylop/limitwatch/internal/services/projection"
	"github.com/j-veylop/limitwatch/internal/ui/components"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded quota history",
	Long: `Query the local history database.

Time ranges take a preset (--range 24h, 7d, 30d or 90d) or explicit bounds.
Bounds accept ISO-8601 times ("2026-03-01", "2026-03-01T12:00") or offsets
back from now ("3d", "12h"), resolved when the command runs.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show min, average and max remaining per quota",
	Args:  cobra.NoArgs,
	RunE:  runHistoryStats,
}

var historySeriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Plot one quota over time and project when it runs out",
	Args:  cobra.NoArgs,
	RunE:  runHistorySeries,
}

var historyInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Summarize the history database",
	Args:  cobra.NoArgs,
	RunE:  runHistoryInfo,
}

var historyPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete snapshots older than a date",
	Example: `  limitwatch history purge --before 2026-01-01
  limitwatch history purge --before 90d`,
	Args: cobra.NoArgs,
	RunE: runHistoryPurge,
}

func init() {
	addQueryFlags(historyCmd.PersistentFlags())

	historyListCmd.Flags().Bool("sparkline", false, "Show one trend line per quota instead of every snapshot")
	historyListCmd.Flags().Bool("json", false, "Print snapshots as JSON")
	historyStatsCmd.Flags().Bool("json", false, "Print statistics as JSON")
	historySeriesCmd.Flags().Bool("json", false, "Print the series as JSON")
	historySeriesCmd.Flags().Int("height", 10, "Chart height in lines")
	historyInfoCmd.Flags().Bool("json", false, "Print the summary as JSON")
	historyPurgeCmd.Flags().String("before", "", "Delete snapshots taken before this time (required)")
	_ = historyPurgeCmd.MarkFlagRequired("before")

	historyCmd.AddCommand(historyListCmd, historyStatsCmd, historySeriesCmd, historyInfoCmd, historyPurgeCmd)
	rootCmd.AddCommand(historyCmd)
}

// addQueryFlags registers the time range and exact-match filters of history
// queries.
func addQueryFlags(f *pflag.FlagSet) {
	f.String("range", "", "Preset window: 24h, 7d, 30d or 90d")
	f.String("since", "", "Start of the window (ISO-8601 or offset such as 3d)")
	f.String("until", "", "End of the window (ISO-8601 or offset such as 12h)")
	f.String("account", "", "Only this account email")
	f.String("provider", "", "Only this provider type")
	f.String("quota", "", "Only this quota name")
}

// readQuery builds a history query from the flags, rejecting bounds that
// would otherwise be ignored.
func readQuery(cmd *cobra.Command, now time.Time) (history.Query, error) {
	f := cmd.Flags()
	var q history.Query
	q.Preset, _ = f.GetString("range")
	q.Since, _ = f.GetString("since")
	q.Until, _ = f.GetString("until")
	q.Account, _ = f.GetString("account")
	q.Provider, _ = f.GetString("provider")
	q.Quota, _ = f.GetString("quota")
	return q, validateQuery(q, now)
}

func validateQuery(q history.Query, now time.Time) error {
	if q.Preset != "" {
		if q.Since != "" {
			return errors.New("--range and --since cannot be combined")
		}
		if _, ok := history.LookupPreset(q.Preset); !ok {
			names := make([]string, len(models.Presets))
			for i, p := range models.Presets {
				names[i] = p.String()
			}
			return fmt.Errorf("unknown range %q (use %s)", q.Preset, strings.Join(names, ", "))
		}
	}
	for _, bound := range []string{q.Since, q.Until} {
		if _, err := history.ParseBound(bound, now); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	q, err := readQuery(cmd, time.Now())
	if err != nil {
		return err
	}
	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	rows := h.History(cmd.Context(), q)
	out := cmd.OutOrStdout()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if rows == nil {
			rows = []models.HistorySnapshot{}
		}
		return writeJSON(out, rows)
	}
	if sparkline, _ := cmd.Flags().GetBool("sparkline"); sparkline {
		_, err = fmt.Fprint(out, components.SparklineTable(rows))
		return err
	}
	_, err = fmt.Fprint(out, components.HistoryTable(rows))
	return err
}

func runHistoryStats(cmd *cobra.Command, args []string) error {
	q, err := readQuery(cmd, time.Now())
	if err != nil {
		return err
	}
	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	results := h.Aggregate(cmd.Context(), q)
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if results == nil {
			results = []models.AggregationResult{}
		}
		return writeJSON(cmd.OutOrStdout(), results)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), components.AggregationTable(results))
	return err
}

func runHistorySeries(cmd *cobra.Command, args []string) error {
	now := time.Now()
	q, err := readQuery(cmd, now)
	if err != nil {
		return err
	}
	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	ctx := cmd.Context()
	if q.Quota == "" {
		if names := h.Quotas(ctx, q.Account); len(names) > 0 {
			return fmt.Errorf("--quota is required, recorded quotas: %s", strings.Join(names, ", "))
		}
		return errors.New("--quota is required")
	}
	out := cmd.OutOrStdout()
	points := h.TimeSeries(ctx, q.Quota, q.Account, q.Range)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if points == nil {
			points = []models.TimePoint{}
		}
		return writeJSON(out, points)
	}
	if len(points) == 0 {
		_, err = fmt.Fprintln(out, "No historical data found.")
		return err
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.RemainingPct
	}
	height, _ := cmd.Flags().GetInt("height")
	caption := fmt.Sprintf("%s remaining %% (%d points, %s to %s)", q.Quota, len(points),
		points[0].Timestamp.Local().Format("Jan 02 15:04"),
		points[len(points)-1].Timestamp.Local().Format("Jan 02 15:04"))
	fmt.Fprintln(out, components.RenderLineChart(values, terminalWidth()-10, height, caption))

	// Resets are per account, so only a single-account series can be projected.
	if q.Account == "" {
		return nil
	}
	reset := latestReset(h.History(ctx, history.Query{Account: q.Account, Quota: q.Quota}))
	if proj, ok := projection.New(h).Project(ctx, q.Account, q.Quota, reset); ok {
		fmt.Fprintln(out)
		fmt.Fprintln(out, describeProjection(proj, now))
	}
	return nil
}

// latestReset returns the reset time recorded with the newest snapshot.
func latestReset(rows []models.HistorySnapshot) time.Time {
	var newest *models.HistorySnapshot
	for i := range rows {
		if newest == nil || rows[i].Timestamp.After(newest.Timestamp) {
			newest = &rows[i]
		}
	}
	if newest == nil {
		return time.Time{}
	}
	t, _ := components.ParseReset(newest.ResetTime)
	return t
}

func describeProjection(p projection.Projection, now time.Time) string {
	detail := fmt.Sprintf(" [%s confidence, %d points]", p.Confidence, p.DataPoints)
	if p.RatePerHour <= 0 {
		return fmt.Sprintf("Projection: no consumption since the last reset, %.1f%% left", p.Current) + detail
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Projection: using %.1f%%/h, ", p.RatePerHour)
	if left := components.FormatDelta(p.DepleteAt.Sub(now)); left != "" {
		fmt.Fprintf(&b, "runs out in %s", left)
	} else {
		b.WriteString("already exhausted")
	}
	if untilReset := components.FormatDelta(components.TimeUntilReset(p.Reset, now)); untilReset != "" {
		if p.WillDepleteBefore {
			fmt.Fprintf(&b, ", %s before the reset in %s", p.Status, untilReset)
		} else {
			fmt.Fprintf(&b, ", resets first in %s", untilReset)
		}
	}
	b.WriteString(detail)
	return b.String()
}

func runHistoryInfo(cmd *cobra.Command, args []string) error {
	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	info := h.Info(cmd.Context())
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd.OutOrStdout(), info)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), components.SummaryPanel(info))
	return err
}

func runHistoryPurge(cmd *cobra.Command, args []string) error {
	before, _ := cmd.Flags().GetString("before")
	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	n, err := h.Purge(cmd.Context(), before)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d snapshots taken before %s\n", n, before)
	return err
}
