package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Agent         AgentConfig         `toml:"agent"`
	Budget        BudgetConfig        `toml:"budget"`
	Verification  VerificationConfig  `toml:"verification"`
	Notifications NotificationsConfig `toml:"notifications"`
	Batches       []BatchConfig       `toml:"batch"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DataDir      string `toml:"data_dir"`      // run state database + logs + reports
	WorkspaceDir string `toml:"workspace_dir"` // parent directory for cloned workspaces
	TemplateRepo string `toml:"template_repo"` // template repository for bootstrap
}

// AgentConfig holds external-agent settings
type AgentConfig struct {
	Engine               string `toml:"engine"` // claude-code or opencode
	OpenCodeModel        string `toml:"opencode_model"`
	InvokeTimeoutMinutes int    `toml:"invoke_timeout_minutes"`
	EnableWeb            bool   `toml:"enable_web_search"`
	HeartbeatSeconds     int    `toml:"heartbeat_seconds"`
}

// InvokeTimeout returns the per-invocation timeout
func (a AgentConfig) InvokeTimeout() time.Duration {
	return time.Duration(a.InvokeTimeoutMinutes) * time.Minute
}

// HeartbeatInterval returns the heartbeat period
func (a AgentConfig) HeartbeatInterval() time.Duration {
	return time.Duration(a.HeartbeatSeconds) * time.Second
}

// BudgetConfig holds the budget ceiling and the injectable cost model.
// The per-million-token rates are an estimation fallback only; they never
// replace a cost the agent actually reported.
type BudgetConfig struct {
	LimitUSD         float64 `toml:"limit_usd"`
	InputUSDPerMTok  float64 `toml:"input_usd_per_mtok"`
	OutputUSDPerMTok float64 `toml:"output_usd_per_mtok"`
}

// VerificationConfig holds per-stage timeouts
type VerificationConfig struct {
	IntegrationTimeoutMinutes int `toml:"integration_timeout_minutes"`
	E2ETimeoutMinutes         int `toml:"e2e_timeout_minutes"`
}

// IntegrationTimeout returns the integration-stage timeout
func (v VerificationConfig) IntegrationTimeout() time.Duration {
	return time.Duration(v.IntegrationTimeoutMinutes) * time.Minute
}

// E2ETimeout returns the end-to-end-stage timeout
func (v VerificationConfig) E2ETimeout() time.Duration {
	return time.Duration(v.E2ETimeoutMinutes) * time.Minute
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// BatchConfig describes one scheduled unattended run
type BatchConfig struct {
	Name     string  `toml:"name"`
	Cron     string  `toml:"cron"`
	IdeaFile string  `toml:"idea_file"`
	Budget   float64 `toml:"budget_usd"`
}

// Validate checks a batch entry for required fields
func (b BatchConfig) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("batch entry missing name")
	}
	if b.Cron == "" {
		return fmt.Errorf("batch %s: missing cron expression", b.Name)
	}
	if b.IdeaFile == "" {
		return fmt.Errorf("batch %s: missing idea_file", b.Name)
	}
	return nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DataDir:      filepath.Join(home, ".appforge"),
			WorkspaceDir: filepath.Join(home, ".appforge", "workspaces"),
		},
		Agent: AgentConfig{
			Engine:               "claude-code",
			InvokeTimeoutMinutes: 45,
			HeartbeatSeconds:     30,
		},
		Budget: BudgetConfig{
			LimitUSD:         25.0,
			InputUSDPerMTok:  3.0,
			OutputUSDPerMTok: 15.0,
		},
		Verification: VerificationConfig{
			IntegrationTimeoutMinutes: 15,
			E2ETimeoutMinutes:         30,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.WorkspaceDir = ExpandPath(cfg.General.WorkspaceDir)
	cfg.applyEnv()

	return cfg, nil
}

// applyEnv overrides cost-model and budget parameters from the environment.
// Rates are injectable rather than hardcoded so operators can track pricing
// changes without a new build.
func (c *Config) applyEnv() {
	if v, ok := envFloat("APPFORGE_COST_INPUT_PER_MTOK"); ok {
		c.Budget.InputUSDPerMTok = v
	}
	if v, ok := envFloat("APPFORGE_COST_OUTPUT_PER_MTOK"); ok {
		c.Budget.OutputUSDPerMTok = v
	}
	if v, ok := envFloat("APPFORGE_BUDGET_USD"); ok {
		c.Budget.LimitUSD = v
	}
}

func envFloat(key string) (float64, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "appforge", "config.toml")
}
