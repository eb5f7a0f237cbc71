// Command vadd runs the hands-free voice activity daemon. It calibrates a
// speaker profile, cuts utterances out of the capture stream and forwards
// them to the voice service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/handsfree-vad/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "handsfree-vad"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "vadd",
		Short:        "Hands-free voice activity detection daemon",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to configuration file")

	cmd.AddCommand(
		newServeCmd(&configPath),
		newReplayCmd(&configPath),
		newVersionCmd(),
	)

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, server.Version)
		},
	}
}
