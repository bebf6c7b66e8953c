package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ribera-group/coordina-cli/internal/confirm"
	"github.com/ribera-group/coordina-cli/internal/model"
	"github.com/ribera-group/coordina-cli/internal/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Read the pending grid and build a submission plan",
	Long:  "Scrapes the platform's pending-documents grid through the browser bridge, matches every obligation against the local catalog, and persists a decided plan. Building a plan never touches the platform beyond reading the grid.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initRuntime(ctx, "plan")
		if err != nil {
			return err
		}
		defer env.Close()

		scopeStr, _ := cmd.Flags().GetString("scope")
		scope := model.Scope(scopeStr)
		if !scope.Valid() {
			return eris.Errorf("invalid scope %q: use worker or company", scopeStr)
		}

		coord := coordFromFlags(cmd)
		companyKey, _ := cmd.Flags().GetString("company-key")
		if companyKey == "" {
			companyKey = coord.CoordinatedCompany
		}
		personKey, _ := cmd.Flags().GetString("person")
		limit, _ := cmd.Flags().GetInt("limit")
		onlyTarget, _ := cmd.Flags().GetBool("only-target")

		plan, err := env.Planner.Build(ctx, planner.Request{
			Coord:      coord,
			CompanyKey: companyKey,
			PersonKey:  personKey,
			Scope:      scope,
			Limit:      limit,
			OnlyTarget: onlyTarget,
		})
		if err != nil {
			return err
		}

		zap.L().Info("plan built",
			zap.String("plan_id", plan.PlanID),
			zap.String("decision", string(plan.Decision)),
			zap.Int("items", len(plan.Decisions)),
			zap.Int("auto_upload", plan.Summary.AutoUpload),
			zap.Int("review_required", plan.Summary.ReviewRequired),
			zap.Int("no_match", plan.Summary.NoMatch),
		)

		if plan.Summary.AutoUpload > 0 {
			fmt.Fprintf(os.Stderr, "To execute for real, type the challenge %q.\n",
				confirm.ChallengePhrase(plan.PlanID))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	},
}

func init() {
	addCoordFlags(planCmd)
	planCmd.Flags().String("company-key", "", "portal search key for the company (defaults to --company)")
	planCmd.Flags().String("person", "", "person key to narrow the grid search")
	planCmd.Flags().String("scope", "worker", "obligation scope to search: worker or company")
	planCmd.Flags().Int("limit", 0, "max pending items to plan (0 = snapshot bounds only)")
	planCmd.Flags().Bool("only-target", false, "drop rows whose subject is not the requested person")
	rootCmd.AddCommand(planCmd)
}
