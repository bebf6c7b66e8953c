package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ribera-group/coordina-cli/internal/guard"
	"github.com/ribera-group/coordina-cli/internal/jobs"
	"github.com/ribera-group/coordina-cli/internal/model"
)

var executeCmd = &cobra.Command{
	Use:   "execute <plan-id>",
	Short: "Execute a submission plan against the platform",
	Long:  "Runs the guardrail checklist for a previously built plan and, when every check passes, uploads the plan's documents. Without --real the request stops at the first guardrail; with --dry-run the plan is walked without touching the platform.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initRuntime(ctx, "execute")
		if err != nil {
			return err
		}
		defer env.Close()

		req := jobs.Request{
			Coord:  coordFromFlags(cmd),
			PlanID: args[0],
		}
		req.DryRun, _ = cmd.Flags().GetBool("dry-run")
		req.RealRequested, _ = cmd.Flags().GetBool("real")
		req.Confirmation.Token, _ = cmd.Flags().GetString("confirm-token")
		req.Confirmation.HumanText, _ = cmd.Flags().GetString("confirm-text")

		// Configured limits apply unless the flag narrows them for this
		// run.
		req.Limits = guard.Limits{
			MaxUploads:       cfg.Execution.MaxUploads,
			AllowlistTypeIDs: cfg.Execution.AllowlistTypes,
			MinConfidence:    cfg.Execution.MinConfidence,
		}
		if cmd.Flags().Changed("max-uploads") {
			req.Limits.MaxUploads, _ = cmd.Flags().GetInt("max-uploads")
		}
		if cmd.Flags().Changed("allow-type") {
			req.Limits.AllowlistTypeIDs, _ = cmd.Flags().GetStringSlice("allow-type")
		}
		if cmd.Flags().Changed("min-confidence") {
			req.Limits.MinConfidence, _ = cmd.Flags().GetFloat64("min-confidence")
		}

		req.RateLimitSeconds = cfg.Execution.RateLimitSeconds
		if cmd.Flags().Changed("rate-limit-seconds") {
			req.RateLimitSeconds, _ = cmd.Flags().GetInt("rate-limit-seconds")
		}
		req.StopOnFirstError = cfg.Execution.StopOnFirstError
		if cmd.Flags().Changed("stop-on-first-error") {
			req.StopOnFirstError, _ = cmd.Flags().GetBool("stop-on-first-error")
		}

		job, err := env.Runner.Execute(ctx, req)
		if err != nil {
			if se, ok := model.AsStructured(err); ok && se.Hint != "" {
				fmt.Fprintln(os.Stderr, "hint: "+se.Hint)
			}
			return err
		}

		zap.L().Info("execution accepted",
			zap.String("job_id", job.JobID),
			zap.String("run_id", job.RunID),
			zap.Bool("dry_run", req.DryRun),
		)

		env.Runner.Wait()

		// A replayed confirmation can resolve to a job from an earlier
		// process; in that case show the outcome Execute returned.
		final, err := env.Runner.JobStatus(job.JobID)
		if err != nil {
			final = job
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(final)
	},
}

func init() {
	addCoordFlags(executeCmd)
	executeCmd.Flags().Bool("real", false, "request real execution against the platform")
	executeCmd.Flags().Bool("dry-run", false, "walk the plan without uploading anything")
	executeCmd.Flags().String("confirm-token", "", "single-use confirmation token from the plan")
	executeCmd.Flags().String("confirm-text", "", "typed challenge phrase (EXECUTE <plan-id>)")
	executeCmd.Flags().Int("max-uploads", 0, "cap on uploads for this run (default from config)")
	executeCmd.Flags().StringSlice("allow-type", nil, "document type IDs allowed to upload (default from config)")
	executeCmd.Flags().Float64("min-confidence", 0, "minimum match confidence to upload (default from config)")
	executeCmd.Flags().Int("rate-limit-seconds", 0, "pause between uploads (default from config)")
	executeCmd.Flags().Bool("stop-on-first-error", false, "abort the run at the first failed upload (default from config)")
	rootCmd.AddCommand(executeCmd)
}
