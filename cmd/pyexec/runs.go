package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/pyexec/internal/storage"
)

var (
	outcomeFilter string
	limitFlag     int
	exportFormat  string
	exportOutput  string
	showFormat    string
)

var runsCmd = &cobra.Command{
	Use:     "runs",
	Aliases: []string{"history"},
	Short:   "Inspect recorded executions",
	Long: `Inspect execution history. Only metadata is recorded: outcome, exit code,
duration and sizes. Script text and output are never stored.

History lives in history.db_path, which must be a file for these commands
to see anything the server recorded.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export runs as markdown or JSON",
	RunE:  runRunsExport,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsExportCmd)

	for _, c := range []*cobra.Command{runsListCmd, runsExportCmd} {
		c.Flags().StringVar(&outcomeFilter, "outcome", "", "Filter by outcome (success, application_error, timeout, sandbox_unavailable, internal_error)")
		c.Flags().IntVar(&limitFlag, "limit", 20, "Max runs to include")
	}

	runsShowCmd.Flags().StringVar(&showFormat, "format", "", "Output format: json or yaml (default: text)")

	runsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	runsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), storage.RunListOptions{
		Outcome: outcomeFilter,
		Limit:   limitFlag,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return nil
	}

	fmt.Fprintf(w, "%-10s %-20s %-5s %-10s %-40s %s\n", "ID", "OUTCOME", "EXIT", "DURATION", "MESSAGE", "STARTED")
	fmt.Fprintln(w, strings.Repeat("─", 100))

	for _, r := range runs {
		fmt.Fprintf(w, "%-10s %-20s %-5d %-10s %-40s %s\n",
			shortID(r.ID), r.Outcome, r.ExitCode, formatMs(r.DurationMs),
			truncate(r.Message, 38), timeAgo(r.CreatedAt))
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(context.Background(), args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if showFormat != "" {
		return writeFormatted(w, showFormat, run)
	}

	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Outcome:  %s\n", run.Outcome)
	fmt.Fprintf(w, "Exit:     %d\n", run.ExitCode)
	fmt.Fprintf(w, "Duration: %s\n", formatMs(run.DurationMs))
	fmt.Fprintf(w, "Script:   %d bytes\n", run.ScriptBytes)
	fmt.Fprintf(w, "Stdout:   %d bytes\n", run.StdoutBytes)
	fmt.Fprintf(w, "Started:  %s\n", run.CreatedAt.Format(time.RFC3339))
	if run.Message != "" {
		fmt.Fprintf(w, "Message:  %s\n", run.Message)
	}
	return nil
}

func runRunsExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), storage.RunListOptions{
		Outcome: outcomeFilter,
		Limit:   limitFlag,
	})
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(runs)
		if err != nil {
			return err
		}
		output = string(data) + "\n"
	default:
		output = storage.ExportMarkdown(runs)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Fprint(cmd.OutOrStdout(), output)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen] + ".."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
