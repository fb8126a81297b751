package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentkanban/orchestrator/internal/formatter"
	"github.com/agentkanban/orchestrator/internal/router"
	"github.com/agentkanban/orchestrator/internal/store"
	"github.com/agentkanban/orchestrator/internal/task"
	"github.com/agentkanban/orchestrator/internal/types"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, list, and inspect tasks",
}

var (
	taskProjectID   string
	taskTitle       string
	taskDescription string
	taskType        string
	taskPriority    string
	taskSLATier     string
	taskRiskLevel   string
	taskEngine      string
	taskAcceptance  []string
	taskDependsOn   []string
	taskMaxRetries  int
	taskListStatus  string
)

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new task",
	RunE:  runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in a project",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a single task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

func init() {
	for _, c := range []*cobra.Command{taskCreateCmd, taskListCmd, taskShowCmd} {
		c.Flags().StringVar(&taskProjectID, "project", types.DefaultProjectID, "Project id")
	}

	taskCreateCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (required)")
	taskCreateCmd.Flags().StringVar(&taskDescription, "description", "", "Task description")
	taskCreateCmd.Flags().StringVar(&taskType, "type", "", "Task type (feature, bugfix, review, refactor, analysis, plan, audit); classified from title/description if omitted")
	taskCreateCmd.Flags().StringVar(&taskPriority, "priority", string(types.PriorityMedium), "Priority (high, medium, low)")
	taskCreateCmd.Flags().StringVar(&taskSLATier, "sla-tier", string(types.SLAStandard), "SLA tier (urgent, expedite, standard)")
	taskCreateCmd.Flags().StringVar(&taskRiskLevel, "risk", string(types.RiskLow), "Risk level (low, medium, high)")
	taskCreateCmd.Flags().StringVar(&taskEngine, "engine", string(types.EngineAuto), "Engine (auto, A, B)")
	taskCreateCmd.Flags().StringSliceVar(&taskAcceptance, "acceptance", nil, "Acceptance criteria, one --acceptance flag per item")
	taskCreateCmd.Flags().StringSliceVar(&taskDependsOn, "depends-on", nil, "Task ids this task depends on")
	taskCreateCmd.Flags().IntVar(&taskMaxRetries, "max-retries", types.DefaultMaxRetries, "Auto-retry ceiling")
	_ = taskCreateCmd.MarkFlagRequired("title")

	taskListCmd.Flags().StringVar(&taskListStatus, "status", "", "Filter by status")

	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskShowCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	title := strings.TrimSpace(taskTitle)
	if title == "" {
		return fmt.Errorf("title is required")
	}

	resolvedType := types.TaskType(taskType)
	if resolvedType == "" {
		resolvedType = router.Classify(title, taskDescription)
	}

	st := store.New(cfg.DataRoot)
	now := time.Now().UTC()
	var created types.Task
	err = st.MutateTasks(taskProjectID, func(doc *types.Document) error {
		if err := task.ValidateDependsOn(doc, taskDependsOn); err != nil {
			return err
		}
		created = types.Task{
			ID:                 task.NextID(doc),
			ProjectID:          taskProjectID,
			DependsOn:          taskDependsOn,
			SubTasks:           []string{},
			Title:              title,
			Description:        taskDescription,
			TaskType:           resolvedType,
			Priority:           types.Priority(taskPriority),
			SLATier:            types.SLATier(taskSLATier),
			RiskLevel:          types.RiskLevel(taskRiskLevel),
			AcceptanceCriteria: taskAcceptance,
			Engine:             types.Engine(taskEngine),
			Status:             types.StatusPending,
			MaxRetries:         taskMaxRetries,
			CommitIDs:          []string{},
			Attempts:           []types.Attempt{},
			Timeline:           []types.TimelineEntry{},
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		doc.Tasks = append(doc.Tasks, created)
		return nil
	})
	if err != nil {
		return err
	}

	return printResult(created)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st := store.New(cfg.DataRoot)
	doc, err := st.ReadTasks(taskProjectID)
	if err != nil {
		return fmt.Errorf("read tasks: %w", err)
	}

	filtered := make([]types.Task, 0, len(doc.Tasks))
	for _, t := range doc.Tasks {
		if taskListStatus != "" && string(t.Status) != taskListStatus {
			continue
		}
		filtered = append(filtered, t)
	}

	switch output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(filtered)
	case "jsonl":
		return formatter.NewTaskJSONLFormatter().FormatAll(os.Stdout, filtered)
	}

	t := formatter.NewTable(os.Stdout, "ID", "TITLE", "TYPE", "STATUS", "ENGINE", "WORKER")
	t.SetMaxWidth(1, 40)
	for _, tk := range filtered {
		t.AddRow(tk.ID, tk.Title, string(tk.TaskType), string(tk.Status), string(tk.RoutedEngine), tk.AssignedWorker)
	}
	return t.Render()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st := store.New(cfg.DataRoot)
	doc, err := st.ReadTasks(taskProjectID)
	if err != nil {
		return fmt.Errorf("read tasks: %w", err)
	}

	found := doc.FindTask(args[0])
	if found == nil {
		return fmt.Errorf("task %s not found in project %s", args[0], taskProjectID)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(found)
}
