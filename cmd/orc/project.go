package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentkanban/orchestrator/internal/formatter"
	"github.com/agentkanban/orchestrator/internal/project"
	"github.com/agentkanban/orchestrator/internal/store"
	"github.com/agentkanban/orchestrator/internal/types"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create and list projects",
}

var (
	projectName        string
	projectDescription string
	projectRepoPath    string
)

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new project",
	RunE:  runProjectCreate,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE:  runProjectList,
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "Project name (required)")
	projectCreateCmd.Flags().StringVar(&projectDescription, "description", "", "Project description")
	projectCreateCmd.Flags().StringVar(&projectRepoPath, "repo-path", "", "Absolute path to the project's git working tree (required)")
	_ = projectCreateCmd.MarkFlagRequired("name")
	_ = projectCreateCmd.MarkFlagRequired("repo-path")

	projectCmd.AddCommand(projectCreateCmd, projectListCmd)
	rootCmd.AddCommand(projectCmd)
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	abs, err := project.ValidateGitRepo(projectRepoPath)
	if err != nil {
		return err
	}

	st := store.New(cfg.DataRoot)
	now := time.Now().UTC()
	var result projectResult
	err = st.MutateRegistry(func(reg *types.Registry) error {
		np, err := project.New(reg, projectName, projectDescription, abs, now)
		if err != nil {
			return err
		}
		result = projectResult{ID: np.ID, Name: np.Name, RepoPath: np.RepoPath, Status: string(np.Status)}
		return nil
	})
	if err != nil {
		return err
	}

	return printResult(result)
}

type projectResult struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RepoPath string `json:"repo_path"`
	Status   string `json:"status"`
}

func runProjectList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st := store.New(cfg.DataRoot)
	reg, err := st.ReadRegistry()
	if err != nil {
		return fmt.Errorf("read project registry: %w", err)
	}

	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reg.Projects)
	}

	t := formatter.NewTable(os.Stdout, "ID", "NAME", "STATUS", "REPO_PATH")
	for _, p := range reg.Projects {
		t.AddRow(p.ID, p.Name, string(p.Status), p.RepoPath)
	}
	return t.Render()
}

func printResult(v any) error {
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	fmt.Printf("%+v\n", v)
	return nil
}
