package main

import (
	"fmt"
	"os"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - Fleet control for proxy nodes",
	Long: `Burrow manages a fleet of proxy nodes from a single coordinator.

The coordinator hands out node credentials and tracks liveness. Each node
runs an agent that registers, heartbeats and executes signed commands
against its local proxy service through a fixed command whitelist.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	api.Version = Version

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs; overrides config")

	rootCmd.AddCommand(coordinatorCmd)
	rootCmd.AddCommand(agentCmd)
}

// initLogging sets up the global logger from config values, letting the
// global flags win when given
func initLogging(cmd *cobra.Command, level string, jsonOutput bool) {
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		level = v
	}
	if cmd.Flags().Changed("log-json") {
		jsonOutput, _ = cmd.Flags().GetBool("log-json")
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(level),
		JSONOutput: jsonOutput,
		Output:     os.Stderr,
	})
}
