// Package cli implements the limitwatch command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/j-veylop/limitwatch/internal/logger"
	"github.com/j-veylop/limitwatch/internal/ui/styles"
)

var rootCmd = &cobra.Command{
	Use:   "limitwatch",
	Short: "Track usage quotas across AI provider accounts",
	Long: `limitwatch polls the usage limits of your Google (Gemini CLI and Antigravity),
GitHub Copilot, OpenAI Codex, OpenRouter and Chutes accounts and prints how
much of each quota is left and when it resets.

Accounts are read from accounts.json in the config directory
(~/.config/limitwatch by default). Every successful fetch is recorded in a
local SQLite history, one snapshot per quota per hour.

Examples:
  limitwatch                          Fetch and show every account
  limitwatch --provider chutes        Only Chutes accounts
  limitwatch --compact --query pro    One line per quota matching "pro"
  limitwatch watch                    Live view, refreshed periodically
  limitwatch history stats --range 7d Min/avg/max over the last week
  limitwatch serve                    Poll in the background, expose /metrics`,
	RunE:          runShow,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.String("config-dir", "", "Configuration directory (default $LIMITWATCH_CONFIG_DIR or ~/.config/limitwatch)")
	pf.String("theme", "", "Color theme: default, dark or light (overrides the config file)")
	pf.Bool("no-color", false, "Disable colored output")
	pf.BoolP("verbose", "v", false, "Enable debug logging")

	addShowFlags(rootCmd)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logger.SetVerbose(verbose)

		noColor, _ := cmd.Flags().GetBool("no-color")
		if noColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd()) {
			styles.DisableColor()
		}
		return nil
	}
}

// Execute runs the root command with a context cancelled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
