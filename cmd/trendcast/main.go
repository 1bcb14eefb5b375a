// Command trendcast runs the trend scanner and its HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/trendcast/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "trendcast",
		Short: "Cross-platform trend scanner and replication planner",
		Long: `trendcast polls trending content from several platforms, clusters
matching signals into trend signatures, scores their virality and plans
platform-specific copies of the best ones.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			// Load reads the file named by TRENDCAST_CONFIG.
			if configPath != "" {
				return os.Setenv(config.EnvConfigFile, configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (overrides "+config.EnvConfigFile+")")

	root.AddCommand(newServeCmd(), newScanCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "trendcast", version)
		},
	}
}
