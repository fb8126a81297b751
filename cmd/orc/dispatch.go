package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentkanban/orchestrator/internal/kernel"
)

var dispatchManifestPath string

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run dispatch cycles outside the server",
}

var dispatchRunOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Run a single dispatch cycle across every project and exit",
	RunE:  runDispatchOnce,
}

func init() {
	dispatchRunOnceCmd.Flags().StringVar(&dispatchManifestPath, "manifest", "workers.yaml", "Path to the worker pool manifest")
	dispatchCmd.AddCommand(dispatchRunOnceCmd)
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatchOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	k, err := kernel.New(cfg)
	if err != nil {
		return fmt.Errorf("construct kernel: %w", err)
	}
	if err := k.LoadWorkers(dispatchManifestPath); err != nil {
		return err
	}

	if err := k.Dispatch.Tick(context.Background()); err != nil {
		return fmt.Errorf("dispatch cycle failed: %w", err)
	}
	fmt.Println("dispatch cycle complete")
	return nil
}
