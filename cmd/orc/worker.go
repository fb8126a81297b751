package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentkanban/orchestrator/internal/formatter"
	"github.com/agentkanban/orchestrator/internal/kernel"
)

var workersManifestPath string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Inspect the fixed worker pool",
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workers loaded from the manifest",
	RunE:  runWorkerList,
}

func init() {
	workerListCmd.Flags().StringVar(&workersManifestPath, "manifest", "workers.yaml", "Path to the worker pool manifest")
	workerCmd.AddCommand(workerListCmd)
	rootCmd.AddCommand(workerCmd)
}

// runWorkerList loads the manifest into a scratch kernel just long enough
// to report the fixed pool's static shape; it never talks to the data
// root's live worker state, which only exists inside a running `orc serve`
// process.
func runWorkerList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	k, err := kernel.New(cfg)
	if err != nil {
		return fmt.Errorf("construct kernel: %w", err)
	}
	if err := k.LoadWorkers(workersManifestPath); err != nil {
		return err
	}
	workers := k.Dispatch.Workers()

	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(workers)
	}

	t := formatter.NewTable(os.Stdout, "ID", "ENGINE", "STATUS", "WORKTREE_PATH")
	for _, w := range workers {
		t.AddRow(w.ID, string(w.Engine), string(w.Status), w.WorktreePath)
	}
	return t.Render()
}
