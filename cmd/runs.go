package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ribera-group/coordina-cli/internal/artifacts"
	"github.com/ribera-group/coordina-cli/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect execution run history",
	Long:  "Commands for listing, viewing, summarizing, and pruning the per-run artifact records.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List finished execution runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		platform, _ := cmd.Flags().GetString("platform")
		limit, _ := cmd.Flags().GetInt("limit")

		art := artifacts.NewDir(cfg.Artifacts.Dir)
		summaries, err := art.ListRunSummaries(platform, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(summaries) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunSummaries(os.Stdout, summaries)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full summary of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		art := artifacts.NewDir(cfg.Artifacts.Dir)
		summary, err := art.ReadRunSummary(args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		platform, _ := cmd.Flags().GetString("platform")

		art := artifacts.NewDir(cfg.Artifacts.Dir)
		summaries, err := art.ListRunSummaries(platform, 0)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		stats := computeRunStats(summaries)
		formatRunStats(os.Stdout, stats)
		return nil
	},
}

// -- runs prune --

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete run artifacts older than the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		days, _ := cmd.Flags().GetInt("retention-days")
		if days == 0 {
			days = cfg.Artifacts.RetentionDays
		}
		if days <= 0 {
			return eris.Errorf("retention must be positive, got %d days", days)
		}

		art := artifacts.NewDir(cfg.Artifacts.Dir)
		removed, err := art.PruneOlderThan(time.Duration(days)*24*time.Hour, time.Now())
		if err != nil {
			return eris.Wrap(err, "runs prune")
		}

		fmt.Printf("Pruned %d run(s) older than %d days.\n", removed, days)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("platform", "", "filter by coordination platform")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().String("platform", "", "filter by coordination platform")

	runsPruneCmd.Flags().Int("retention-days", 0, "delete runs older than this many days (default from config)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	runsCmd.AddCommand(runsPruneCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Runs       int
	DryRuns    int
	FailedRuns int
	Items      int
	Succeeded  int
	Failed     int
	Skipped    int
	AvgDurSecs float64
}

// computeRunStats aggregates item counts and durations across runs.
func computeRunStats(summaries []model.RunSummary) runStats {
	var s runStats
	s.Runs = len(summaries)

	var totalDur time.Duration
	var durCount int

	for _, sum := range summaries {
		if sum.Execution.DryRun {
			s.DryRuns++
		}
		if sum.Counts.Failed > 0 {
			s.FailedRuns++
		}
		s.Items += sum.Counts.Total
		s.Succeeded += sum.Counts.Success
		s.Failed += sum.Counts.Failed
		s.Skipped += sum.Counts.Skipped

		if sum.Execution.StartedAt != nil && sum.Execution.FinishedAt != nil {
			totalDur += sum.Execution.FinishedAt.Sub(*sum.Execution.StartedAt)
			durCount++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunSummaries writes a tabular list of runs to w.
func formatRunSummaries(out io.Writer, summaries []model.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tPLATFORM\tMODE\tTOTAL\tOK\tFAIL\tSKIP\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "---\t--------\t----\t-----\t--\t----\t----\t-------\t--------")

	for _, s := range summaries {
		mode := "real"
		if s.Execution.DryRun {
			mode = "dry"
		}

		dur := ""
		if s.Execution.StartedAt != nil && s.Execution.FinishedAt != nil {
			dur = s.Execution.FinishedAt.Sub(*s.Execution.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(s.RunID),
			s.Platform,
			mode,
			s.Counts.Total,
			s.Counts.Success,
			s.Counts.Failed,
			s.Counts.Skipped,
			s.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Runs)
	_, _ = fmt.Fprintf(w, "Dry runs:\t%d\n", s.DryRuns)
	_, _ = fmt.Fprintf(w, "Runs with failures:\t%d\n", s.FailedRuns)
	_, _ = fmt.Fprintf(w, "Items planned:\t%d\n", s.Items)
	_, _ = fmt.Fprintf(w, "  Uploaded:\t%d\n", s.Succeeded)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "  Skipped:\t%d\n", s.Skipped)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a run ID for compact
// display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
