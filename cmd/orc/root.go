package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentkanban/orchestrator/internal/config"
)

var (
	// Global flags
	dataRoot string
	execMode string
	output   string
	cfgFile  string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "orc",
	Short: "Orchestrator CLI for the task dispatch kernel",
	Long: `orc operates the task orchestrator: a fixed pool of CLI-driven
coding agents dispatched against a project's pending tasks.

Core Commands:
  task       Create, list, and inspect tasks
  project    Create and list projects
  worker     Inspect the fixed worker pool
  dispatch   Run dispatch cycles outside the server
  serve      Run the kernel and its HTTP/WebSocket gateway
  version    Show version information`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataRoot, "data-root", "", "Data root directory (default: config/env default)")
	rootCmd.PersistentFlags().StringVar(&execMode, "exec-mode", "", "Worker exec mode: real|dry-run (default: config/env default)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json, jsonl)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .orchestrator/config.yaml, ~/.orchestrator/config.yaml)")
}

// loadConfig resolves configuration with the standard precedence
// (flags > env > project config > home config > defaults), applying this
// invocation's --data-root/--exec-mode/--config overrides on top.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		if err := os.Setenv("ORC_CONFIG", cfgFile); err != nil {
			return nil, fmt.Errorf("set config override: %w", err)
		}
	}

	var overrides *config.Config
	if dataRoot != "" || execMode != "" {
		overrides = &config.Config{DataRoot: dataRoot, ExecMode: execMode}
	}
	return config.Load(overrides)
}
