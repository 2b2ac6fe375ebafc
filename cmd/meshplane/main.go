// Command meshplane runs the control plane's registry, gateway and worker processes.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "meshplane",
		Short:         "Service mesh control plane: node registry, liveness monitor and gateway router",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(
		newRegistryCmd(&configPath),
		newGatewayCmd(&configPath),
		newWorkerCmd(&configPath),
	)
	return root
}
