package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/basetrack/internal/presence"
	"github.com/spf13/cobra"
)

var (
	topCount     int
	exportOutput string
)

var totalCmd = &cobra.Command{
	Use:   "total USER_ID",
	Short: "Show the weekly total of a user",
	Long:  `Show the time a user has accumulated in the monitored channels this week, including an open session.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTotal,
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the weekly leaderboard",
	Args:  cobra.NoArgs,
	RunE:  runTop,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the weekly totals as CSV",
	Long:  `Export one "name;hours" row per user with time this week, in the order users were first counted.`,
	Example: `  basetrack export > relatorio_sede.csv
  basetrack export --output /tmp/relatorio_sede.csv`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	topCmd.Flags().IntVarP(&topCount, "count", "n", presence.DefaultLeaderboardSize, "Number of entries to show")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write the CSV to a file instead of stdout")

	rootCmd.AddCommand(totalCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(exportCmd)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func runTotal(cmd *cobra.Command, args []string) error {
	tracker, store, err := openTracker()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := commandContext()
	defer cancel()

	total, err := tracker.GetTotal(ctx, args[0], tracker.Now())
	if err != nil {
		return fmt.Errorf("failed to read total: %w", err)
	}

	bold := color.New(color.Bold)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ", args[0])
	_, _ = bold.Fprintln(cmd.OutOrStdout(), presence.FormatDuration(total))
	return nil
}

func runTop(cmd *cobra.Command, args []string) error {
	tracker, store, err := openTracker()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := commandContext()
	defer cancel()

	top, err := tracker.GetTop(ctx, topCount)
	if err != nil {
		return fmt.Errorf("failed to read leaderboard: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(top) == 0 {
		_, _ = fmt.Fprintln(out, "Nobody on the leaderboard this week yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tUSER\tNAME\tTIME")
	for i, record := range top {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, record.UserID, record.DisplayName, presence.FormatHoursMinutes(record.TotalMs))
	}
	return w.Flush()
}

func runExport(cmd *cobra.Command, args []string) error {
	tracker, store, err := openTracker()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := commandContext()
	defer cancel()

	rows, err := tracker.Export(ctx)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	var out io.Writer = cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", exportOutput, err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	if err := presence.WriteCSV(out, rows); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}

	if exportOutput != "" {
		_, _ = color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), "Exported %d rows to %s\n", len(rows), exportOutput)
	}
	return nil
}
