package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/j-veylop/limitwatch/internal/history"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded history as CSV or Markdown",
	Long: `Export history snapshots matching the query flags.

Output goes to stdout unless --output names a file. An export that matches
nothing leaves no file behind.`,
}

var exportCSVCmd = &cobra.Command{
	Use:   "csv",
	Short: "Export snapshots as CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd, (*history.Exporter).CSV)
	},
}

var exportMarkdownCmd = &cobra.Command{
	Use:     "markdown",
	Aliases: []string{"md"},
	Short:   "Export snapshots as a Markdown report",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd, (*history.Exporter).Markdown)
	},
}

func init() {
	addQueryFlags(exportCmd.PersistentFlags())
	exportCmd.PersistentFlags().StringP("output", "o", "", "Write to this file instead of stdout")

	exportCmd.AddCommand(exportCSVCmd, exportMarkdownCmd)
	rootCmd.AddCommand(exportCmd)
}

type exportFunc func(*history.Exporter, context.Context, io.Writer, history.Query) (int, error)

func runExport(cmd *cobra.Command, export exportFunc) error {
	q, err := readQuery(cmd, time.Now())
	if err != nil {
		return err
	}
	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	ctx := cmd.Context()
	exp := history.NewExporter(h)
	write := func(w io.Writer) (int, error) { return export(exp, ctx, w, q) }

	path, _ := cmd.Flags().GetString("output")
	if path == "" {
		_, err = write(cmd.OutOrStdout())
		return err
	}

	n, err := history.WriteFile(path, write)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No records matched; nothing exported.")
		return nil
	}
	info := exp.Info(ctx, q)
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d records (%s to %s) to %s\n", n,
		info.Start.Local().Format(time.DateTime), info.End.Local().Format(time.DateTime), path)
	return nil
}
