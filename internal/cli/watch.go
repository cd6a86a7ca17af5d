package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/j-veylop/limitwatch/internal/app"
	"github.com/j-veylop/limitwatch/internal/logger"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of quotas, refreshed periodically",
	Long: `Open a full-screen view that refreshes every refreshInterval (5m by default)
and whenever accounts.json changes. Alerts for low or reset quotas appear as
notifications. Logs go to limitwatch.log in the config directory.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	addSelectionFlags(watchCmd)
	watchCmd.Flags().Bool("compact", false, "Start in compact mode")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logFile, err := os.OpenFile(filepath.Join(cfg.Dir, "limitwatch.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		logger.SetOutput(io.Discard)
	} else {
		logger.SetOutput(logFile)
		defer func() { _ = logFile.Close() }()
	}

	mgr, err := openManager(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	if err := mgr.Watch(); err != nil {
		logger.Warn("not watching accounts file", "error", err)
	}

	sel, query, showAll := readSelection(cmd)
	compact, _ := cmd.Flags().GetBool("compact")

	ctx := cmd.Context()
	model := app.NewModel(ctx, mgr, app.Options{
		Selection: sel,
		Query:     query,
		Interval:  cfg.RefreshInterval,
		ShowAll:   showAll,
		Compact:   compact,
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
