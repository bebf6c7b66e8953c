package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ribera-group/coordina-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "coordina-cli",
	Short: "Pending-document reconciliation for contractor coordination platforms",
	Long:  "Reads the pending-obligations grid from a coordination platform through the browser bridge, matches each obligation against the local document catalog, and uploads matched documents behind explicit human confirmation and hard guardrails.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
