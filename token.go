package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fleetguardian/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		orgID, branchID, role, subject string
		ttl                            time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a dashboard bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is required")
			}
			tenant, err := auth.NewTenant(orgID, branchID)
			if err != nil {
				return err
			}
			normalized, ok := auth.NormalizeRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), tenant, normalized, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&orgID, "org", "", "organization id")
	flags.StringVar(&branchID, "branch", "", "branch id")
	flags.StringVar(&role, "role", string(auth.RoleViewer), "viewer, operator or admin")
	flags.StringVar(&subject, "subject", "cli", "token subject")
	flags.DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("branch")
	return cmd
}
