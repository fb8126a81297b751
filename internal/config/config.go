// Package config provides configuration management for the orchestrator.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (ORC_*)
// 3. Project config (.orchestrator/config.yaml in cwd)
// 4. Home config (~/.orchestrator/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all orchestrator configuration.
type Config struct {
	// DataRoot is the directory holding projects.json and projects/<id>/tasks.json.
	DataRoot string `yaml:"data_root" json:"data_root"`

	Verbose bool `yaml:"verbose" json:"verbose"`

	// ExecMode controls whether the worker runner spawns real CLIs or returns
	// synthetic success (real|dry-run).
	ExecMode string `yaml:"exec_mode" json:"exec_mode"`

	// EngineACommand and EngineBCommand are the CLI executables resolved from PATH.
	EngineACommand string `yaml:"engine_a_command" json:"engine_a_command"`
	EngineBCommand string `yaml:"engine_b_command" json:"engine_b_command"`

	Dispatch  DispatchConfig  `yaml:"dispatch" json:"dispatch"`
	Worker    WorkerConfig    `yaml:"worker" json:"worker"`
	Review    ReviewConfig    `yaml:"review" json:"review"`
	Worktree  WorktreeConfig  `yaml:"worktree" json:"worktree"`
	Gateway   GatewayConfig   `yaml:"gateway" json:"gateway"`
	Intake    IntakeConfig    `yaml:"intake" json:"intake"`
}

// DispatchConfig holds the dispatch and health loop intervals.
type DispatchConfig struct {
	IntervalSec      int `yaml:"interval_sec" json:"interval_sec"`
	HealthIntervalSec int `yaml:"health_interval_sec" json:"health_interval_sec"`
}

// WorkerConfig holds worker lifecycle timing.
type WorkerConfig struct {
	HeartbeatTimeoutSec    int `yaml:"heartbeat_timeout_sec" json:"heartbeat_timeout_sec"`
	CooldownSec            int `yaml:"cooldown_sec" json:"cooldown_sec"`
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
}

// ReviewConfig holds auto-retry and review-loop bounds.
type ReviewConfig struct {
	AutoRetryDelaySec      int `yaml:"auto_retry_delay_sec" json:"auto_retry_delay_sec"`
	RateLimitRetryDelaySec int `yaml:"rate_limit_retry_delay_sec" json:"rate_limit_retry_delay_sec"`
	MaxReviewRounds        int `yaml:"max_review_rounds" json:"max_review_rounds"`
}

// WorktreeConfig controls worktree provider selection.
type WorktreeConfig struct {
	// Provider is one of "git", "external", "auto".
	Provider        string `yaml:"provider" json:"provider"`
	CommandTemplate string `yaml:"command_template" json:"command_template"`
}

// GatewayConfig holds the thin HTTP/WebSocket adapter's settings.
type GatewayConfig struct {
	Addr        string   `yaml:"addr" json:"addr"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// IntakeConfig holds the AI-assisted intake's model and timeout.
type IntakeConfig struct {
	Model      string `yaml:"model" json:"model"`
	TimeoutSec int    `yaml:"timeout_sec" json:"timeout_sec"`
}

const (
	defaultDataRoot = "data"
	defaultExecMode = "real"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataRoot:       defaultDataRoot,
		Verbose:        false,
		ExecMode:       defaultExecMode,
		EngineACommand: "claude",
		EngineBCommand: "codex",
		Dispatch: DispatchConfig{
			IntervalSec:       5,
			HealthIntervalSec: 30,
		},
		Worker: WorkerConfig{
			HeartbeatTimeoutSec:    120,
			CooldownSec:            60,
			MaxConsecutiveFailures: 5,
		},
		Review: ReviewConfig{
			AutoRetryDelaySec:      30,
			RateLimitRetryDelaySec: 900,
			MaxReviewRounds:        3,
		},
		Worktree: WorktreeConfig{
			Provider: "auto",
		},
		Gateway: GatewayConfig{
			Addr:        ":8723",
			CORSOrigins: []string{"*"},
		},
		Intake: IntakeConfig{
			Model:      "claude-sonnet-4-5",
			TimeoutSec: 45,
		},
	}
}

// DispatchInterval returns the dispatch loop tick as a time.Duration.
func (c *Config) DispatchInterval() time.Duration {
	return time.Duration(c.Dispatch.IntervalSec) * time.Second
}

// HealthInterval returns the health probe tick as a time.Duration.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Dispatch.HealthIntervalSec) * time.Second
}

// HeartbeatTimeout returns the busy-worker stall window.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Worker.HeartbeatTimeoutSec) * time.Second
}

// Cooldown returns the error-worker recovery window.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Worker.CooldownSec) * time.Second
}

// AutoRetryDelay returns the short backoff for ordinary transient failures.
func (c *Config) AutoRetryDelay() time.Duration {
	return time.Duration(c.Review.AutoRetryDelaySec) * time.Second
}

// RateLimitRetryDelay returns the long backoff for rate-limited failures.
func (c *Config) RateLimitRetryDelay() time.Duration {
	return time.Duration(c.Review.RateLimitRetryDelaySec) * time.Second
}

// Load loads configuration with proper precedence: flags > env > project > home > defaults.
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if homeConfig, _ := loadFromPath(homeConfigPath()); homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}
	if projectConfig, _ := loadFromPath(projectConfigPath()); projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".orchestrator", "config.yaml")
}

func projectConfigPath() string {
	if override := os.Getenv("ORC_CONFIG"); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".orchestrator", "config.yaml")
}

func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// merge merges src into dst, with non-zero src values taking precedence.
func merge(dst, src *Config) *Config {
	if src.DataRoot != "" {
		dst.DataRoot = src.DataRoot
	}
	if src.Verbose {
		dst.Verbose = true
	}
	if src.ExecMode != "" {
		dst.ExecMode = src.ExecMode
	}
	if src.EngineACommand != "" {
		dst.EngineACommand = src.EngineACommand
	}
	if src.EngineBCommand != "" {
		dst.EngineBCommand = src.EngineBCommand
	}
	if src.Dispatch.IntervalSec != 0 {
		dst.Dispatch.IntervalSec = src.Dispatch.IntervalSec
	}
	if src.Dispatch.HealthIntervalSec != 0 {
		dst.Dispatch.HealthIntervalSec = src.Dispatch.HealthIntervalSec
	}
	if src.Worker.HeartbeatTimeoutSec != 0 {
		dst.Worker.HeartbeatTimeoutSec = src.Worker.HeartbeatTimeoutSec
	}
	if src.Worker.CooldownSec != 0 {
		dst.Worker.CooldownSec = src.Worker.CooldownSec
	}
	if src.Worker.MaxConsecutiveFailures != 0 {
		dst.Worker.MaxConsecutiveFailures = src.Worker.MaxConsecutiveFailures
	}
	if src.Review.AutoRetryDelaySec != 0 {
		dst.Review.AutoRetryDelaySec = src.Review.AutoRetryDelaySec
	}
	if src.Review.RateLimitRetryDelaySec != 0 {
		dst.Review.RateLimitRetryDelaySec = src.Review.RateLimitRetryDelaySec
	}
	if src.Review.MaxReviewRounds != 0 {
		dst.Review.MaxReviewRounds = src.Review.MaxReviewRounds
	}
	if src.Worktree.Provider != "" {
		dst.Worktree.Provider = src.Worktree.Provider
	}
	if src.Worktree.CommandTemplate != "" {
		dst.Worktree.CommandTemplate = src.Worktree.CommandTemplate
	}
	if src.Gateway.Addr != "" {
		dst.Gateway.Addr = src.Gateway.Addr
	}
	if len(src.Gateway.CORSOrigins) > 0 {
		dst.Gateway.CORSOrigins = src.Gateway.CORSOrigins
	}
	if src.Intake.Model != "" {
		dst.Intake.Model = src.Intake.Model
	}
	if src.Intake.TimeoutSec != 0 {
		dst.Intake.TimeoutSec = src.Intake.TimeoutSec
	}
	return dst
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.orchestrator/config.yaml"
	SourceProject Source = ".orchestrator/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// applyEnv applies ORC_* environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("ORC_DATA_ROOT"); v != "" {
		cfg.DataRoot = v
	}
	if v := os.Getenv("ORC_VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("ORC_EXEC_MODE"); v != "" {
		cfg.ExecMode = v
	}
	if v := os.Getenv("ORC_ENGINE_A_COMMAND"); v != "" {
		cfg.EngineACommand = v
	}
	if v := os.Getenv("ORC_ENGINE_B_COMMAND"); v != "" {
		cfg.EngineBCommand = v
	}
	if v := envInt("ORC_DISPATCH_INTERVAL_SEC"); v != 0 {
		cfg.Dispatch.IntervalSec = v
	}
	if v := envInt("ORC_HEALTH_INTERVAL_SEC"); v != 0 {
		cfg.Dispatch.HealthIntervalSec = v
	}
	if v := envInt("ORC_HEARTBEAT_TIMEOUT_SEC"); v != 0 {
		cfg.Worker.HeartbeatTimeoutSec = v
	}
	if v := envInt("ORC_WORKER_COOLDOWN_SEC"); v != 0 {
		cfg.Worker.CooldownSec = v
	}
	if v := envInt("ORC_MAX_CONSECUTIVE_FAILURES"); v != 0 {
		cfg.Worker.MaxConsecutiveFailures = v
	}
	if v := envInt("ORC_AUTO_RETRY_DELAY_SEC"); v != 0 {
		cfg.Review.AutoRetryDelaySec = v
	}
	if v := envInt("ORC_RATE_LIMIT_RETRY_DELAY_SEC"); v != 0 {
		cfg.Review.RateLimitRetryDelaySec = v
	}
	if v := envInt("ORC_MAX_REVIEW_ROUNDS"); v != 0 {
		cfg.Review.MaxReviewRounds = v
	}
	if v := os.Getenv("ORC_WORKTREE_PROVIDER"); v != "" {
		cfg.Worktree.Provider = v
	}
	if v := os.Getenv("ORC_WORKTREE_COMMAND_TEMPLATE"); v != "" {
		cfg.Worktree.CommandTemplate = v
	}
	if v := os.Getenv("ORC_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("ORC_INTAKE_MODEL"); v != "" {
		cfg.Intake.Model = v
	}
	if v := envInt("ORC_INTAKE_TIMEOUT_SEC"); v != 0 {
		cfg.Intake.TimeoutSec = v
	}
	return cfg
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
