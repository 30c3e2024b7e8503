package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fleetguardian/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fleetguardian",
		Short:         "FleetGuardian vehicle tracking and tactical relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadEnv(logging.New())
		},
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newAgentCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newLinkCmd())
	root.AddCommand(newTokenCmd())
	return root
}
