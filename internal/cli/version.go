package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/j-veylop/limitwatch/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if short, _ := cmd.Flags().GetBool("short"); short {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetVersion())
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("short", false, "Print only the version number")
	rootCmd.AddCommand(versionCmd)
}
