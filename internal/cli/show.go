package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/j-veylop/limitwatch/internal/app"
	"github.com/j-veylop/limitwatch/internal/services/quota"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Fetch and print quotas for the configured accounts",
	Long: `Fetch the quotas of every selected account concurrently and print them.

Accounts that fail to fetch are shown with their error; a slow provider
never delays the others beyond the per-account timeout.`,
	Args: cobra.NoArgs,
	RunE: runShow,
}

func init() {
	addShowFlags(showCmd)
	rootCmd.AddCommand(showCmd)
}

func addShowFlags(cmd *cobra.Command) {
	addSelectionFlags(cmd)
	cmd.Flags().Bool("json", false, "Print results as JSON")
	cmd.Flags().Bool("compact", false, "Print one line per quota")
}

// showOptions controls how fetched results are printed.
type showOptions struct {
	Query   []string
	Width   int
	JSON    bool
	Compact bool
	ShowAll bool
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mgr, err := openManager(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	if mgr.Accounts().Count() == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "No accounts configured. Add them to %s\n", cfg.AccountsPath)
		return nil
	}

	sel, query, showAll := readSelection(cmd)
	jsonOut, _ := cmd.Flags().GetBool("json")
	compact, _ := cmd.Flags().GetBool("compact")

	results := mgr.Refresh(cmd.Context(), sel, showAll)
	return printResults(cmd.OutOrStdout(), results, showOptions{
		Query:   query,
		Width:   terminalWidth(),
		JSON:    jsonOut,
		Compact: compact,
		ShowAll: showAll,
	}, time.Now())
}

func printResults(w io.Writer, results []quota.Result, opts showOptions, now time.Time) error {
	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(app.ToJSON(results, opts.Query)); err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		return nil
	}

	_, err := fmt.Fprintln(w, app.RenderResults(results, app.RenderOptions{
		Now:     now,
		Query:   opts.Query,
		Width:   opts.Width,
		Compact: opts.Compact,
		ShowAll: opts.ShowAll,
	}))
	return err
}
