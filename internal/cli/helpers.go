package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/j-veylop/limitwatch/internal/config"
	"github.com/j-veylop/limitwatch/internal/history"
	"github.com/j-veylop/limitwatch/internal/services"
	"github.com/j-veylop/limitwatch/internal/services/accounts"
	"github.com/j-veylop/limitwatch/internal/ui/styles"
)

const defaultWidth = 100

// loadConfig resolves the configuration, honoring --config-dir and --theme,
// and makes sure its directories exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, _ := cmd.Flags().GetString("config-dir")
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if theme, _ := cmd.Flags().GetString("theme"); theme != "" {
		cfg.Theme = theme
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	styles.SetTheme(cfg.Theme)
	return cfg, nil
}

// openManager creates the service manager for commands that fetch quotas.
func openManager(cmd *cobra.Command, cfg *config.Config) (*services.Manager, error) {
	noHistory, _ := cmd.Flags().GetBool("no-history")
	mgr, err := services.NewManager(cmd.Context(), cfg, services.Options{NoHistory: noHistory})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return mgr, nil
}

// openHistory opens the history database named by the configuration.
func openHistory(cmd *cobra.Command) (*history.Service, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if !cfg.EnableHistory {
		return nil, fmt.Errorf("history is disabled in %s", cfg.Dir)
	}
	return history.Open(cfg.HistoryDBPath)
}

// addSelectionFlags registers the account and quota filters of the commands
// that fetch quotas.
func addSelectionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("account", "", "Only the account with this email or alias")
	f.String("provider", "", "Only accounts of this provider (google, github_copilot, openai, openrouter, chutes)")
	f.String("group", "", "Only accounts in this group (ignored with --account)")
	f.StringSlice("query", nil, "Only quotas whose name contains every term (repeatable, comma separated)")
	f.Bool("show-all", false, "Include quotas that are normally hidden")
	f.Bool("no-history", false, "Do not record fetched quotas in the history database")
}

func readSelection(cmd *cobra.Command) (sel accounts.Selection, query []string, showAll bool) {
	f := cmd.Flags()
	sel.Account, _ = f.GetString("account")
	sel.Provider, _ = f.GetString("provider")
	sel.Group, _ = f.GetString("group")
	raw, _ := f.GetStringSlice("query")
	showAll, _ = f.GetBool("show-all")
	return sel, splitQuery(raw), showAll
}

// splitQuery lower-cases query terms and splits them on whitespace.
func splitQuery(raw []string) []string {
	var terms []string
	for _, r := range raw {
		for _, word := range strings.Fields(r) {
			terms = append(terms, strings.ToLower(word))
		}
	}
	return terms
}

// terminalWidth returns the width of stdout, or defaultWidth when it is not a
// terminal.
func terminalWidth() int {
	if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		return w
	}
	return defaultWidth
}
