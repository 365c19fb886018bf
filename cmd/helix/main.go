package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"Helix/internal/telemetry"
)

var (
	configPath string
	debug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "helix",
		Short:   "Helix - chat, notebooks and messages on top of a local backend",
		Version: telemetry.ServiceVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd.Context())
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml (default ~/.config/helix/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(probeCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(runsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
