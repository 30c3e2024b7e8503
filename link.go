package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleetguardian/internal/logging"
)

func newLinkCmd() *cobra.Command {
	var plate string
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Resolve a plate to a device identifier and cache it for the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if plate != "" {
				cfg.Agent.Plate = plate
			}
			tenant, err := cfg.Agent.tenant()
			if err != nil {
				return err
			}
			logger := logging.NewWithService("fleetguardian-link")
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			st, err := newStores(db, cfg, logger)
			if err != nil {
				return err
			}
			rec, err := resolveLink(cmd.Context(), cfg.Agent, tenant, st.deviceSvc, true, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", rec.DeviceID, rec.Plate, cfg.Agent.StateFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&plate, "plate", "", "vehicle plate number (default AGENT_PLATE)")
	return cmd
}
