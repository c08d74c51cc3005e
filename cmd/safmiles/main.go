// safmiles runs the SAF Miles loyalty engine.
//
// Usage:
//
//	safmiles serve                 Run the session API against the scoring service
//	safmiles scoring               Run the scoring service
//	safmiles predict --premium 25  Score one flight and print the loyalty view
//	safmiles version               Print the version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/safmiles/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "safmiles",
	Short: "SAF Miles loyalty engine",
	Long: `safmiles derives SAF loyalty state from flight predictions.

Configuration is read from safmiles.yaml (see --config). SAFMILES_SCORING_URL,
SAFMILES_WEBHOOK_URL, SAFMILES_WEBHOOK_SECRET and PORT override the file.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "safmiles %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFile, "Path to the config file")
	rootCmd.AddCommand(serveCmd, scoringCmd, predictCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
