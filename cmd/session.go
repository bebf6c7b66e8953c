package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ribera-group/coordina-cli/internal/portal"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage saved platform login sessions",
	Long:  "Real execution refuses to start without a fresh saved session for the target platform. These commands record and probe the session artifacts the browser bridge produces after a login.",
}

var sessionSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Record a fresh browser login for a platform",
	RunE: func(cmd *cobra.Command, _ []string) error {
		platform, _ := cmd.Flags().GetString("platform")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		cookiesFile, _ := cmd.Flags().GetString("cookies-file")

		st := portal.SessionState{
			Platform:  platform,
			ExpiresAt: time.Now().Add(ttl),
		}
		if cookiesFile != "" {
			data, err := os.ReadFile(cookiesFile)
			if err != nil {
				return eris.Wrap(err, "read cookies file")
			}
			if !json.Valid(data) {
				return eris.Errorf("cookies file %s is not valid JSON", cookiesFile)
			}
			st.Cookies = data
		}

		sessions := portal.NewFileSessions(cfg.Sessions.Dir)
		if err := sessions.SaveSession(st); err != nil {
			return err
		}

		zap.L().Info("session saved",
			zap.String("platform", platform),
			zap.Time("expires_at", st.ExpiresAt),
		)
		return nil
	},
}

var sessionCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify a saved session exists and has not expired",
	RunE: func(cmd *cobra.Command, _ []string) error {
		platform, _ := cmd.Flags().GetString("platform")

		sessions := portal.NewFileSessions(cfg.Sessions.Dir)
		if err := sessions.HasValidSession(platform); err != nil {
			return err
		}

		fmt.Printf("Session for %s is valid.\n", platform)
		return nil
	},
}

func init() {
	sessionSaveCmd.Flags().String("platform", "", "coordination platform the login belongs to")
	sessionSaveCmd.Flags().Duration("ttl", 8*time.Hour, "how long the session stays usable")
	sessionSaveCmd.Flags().String("cookies-file", "", "JSON cookie jar exported by the browser bridge")
	_ = sessionSaveCmd.MarkFlagRequired("platform")

	sessionCheckCmd.Flags().String("platform", "", "coordination platform to probe")
	_ = sessionCheckCmd.MarkFlagRequired("platform")

	sessionCmd.AddCommand(sessionSaveCmd)
	sessionCmd.AddCommand(sessionCheckCmd)
	rootCmd.AddCommand(sessionCmd)
}
