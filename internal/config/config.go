// Package config handles configuration loading for warren. It supports XDG
// config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/warrenlabs/warren/internal/epic"
	"github.com/warrenlabs/warren/pkg/permission"
)

// Config holds all configuration for warren.
type Config struct {
	Anthropic     AnthropicConfig     `mapstructure:"anthropic"`
	Bedrock       BedrockConfig       `mapstructure:"bedrock"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Agents        AgentsConfig        `mapstructure:"agents"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Debug         DebugConfig         `mapstructure:"debug"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. ${VAR} references are expanded.
	APIKey string `mapstructure:"api_key"`
	// Model is the Claude model used by the work-function runner.
	Model string `mapstructure:"model"`
	// MaxAttempts bounds retries of a single API call.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// BedrockConfig holds AWS Bedrock settings. When enabled, the runner reaches
// Claude through Bedrock instead of the direct API.
type BedrockConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

// OrchestrationConfig holds coordinator settings.
type OrchestrationConfig struct {
	BranchPrefix          string `mapstructure:"branch_prefix"`
	AgentPoolPrefix       string `mapstructure:"agent_pool_prefix"`
	AutoCreateBranches    bool   `mapstructure:"auto_create_branches"`
	AutoAssignAgents      bool   `mapstructure:"auto_assign_agents"`
	MaxConcurrentSubTasks int    `mapstructure:"max_concurrent_sub_tasks"`
}

// AgentsConfig holds agent pool settings.
type AgentsConfig struct {
	DefaultCapabilities    []string      `mapstructure:"default_capabilities"`
	DefaultPermissionLevel string        `mapstructure:"default_permission_level"`
	HeartbeatInterval      time.Duration `mapstructure:"heartbeat_interval"`
	LivenessTimeout        time.Duration `mapstructure:"liveness_timeout"`
}

// RetrievalConfig holds branch archive settings.
type RetrievalConfig struct {
	// DBPath is the sqlite file branches are archived to. Empty disables
	// archiving.
	DBPath string `mapstructure:"db_path"`
	// SourceDir is the root directory exposed to branches as a data source.
	SourceDir string `mapstructure:"source_dir"`
}

// DebugConfig holds debug logging settings.
type DebugConfig struct {
	LogPath string `mapstructure:"log_path"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// Load loads configuration for a project directory.
// Precedence (highest to lowest):
// 1. Environment variables (WARREN_*, ANTHROPIC_API_KEY, AWS_REGION)
// 2. Project config ({projectDir}/.warren.yaml)
// 3. User config (~/.config/warren/config.yaml)
// 4. Built-in defaults
func Load(projectDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectDir != "" {
		projectConfig := filepath.Join(projectDir, ".warren.yaml")
		if _, err := os.Stat(projectConfig); err == nil {
			pv := viper.New()
			pv.SetConfigFile(projectConfig)
			if err := pv.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading project config: %w", err)
			}
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("WARREN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("bedrock.region", "AWS_REGION")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// Validate checks the loaded configuration for values the coordinator would
// reject.
func (c *Config) Validate() error {
	if _, ok := permission.Parse(c.Agents.DefaultPermissionLevel); !ok {
		return fmt.Errorf("config: unknown permission level %q", c.Agents.DefaultPermissionLevel)
	}
	if c.Orchestration.MaxConcurrentSubTasks < 1 {
		return fmt.Errorf("config: max_concurrent_sub_tasks must be >= 1, got %d", c.Orchestration.MaxConcurrentSubTasks)
	}
	if c.Agents.HeartbeatInterval < 0 {
		return fmt.Errorf("config: negative heartbeat_interval %s", c.Agents.HeartbeatInterval)
	}
	return nil
}

// EpicConfig converts the loaded settings into a coordinator Config.
func (c *Config) EpicConfig() epic.Config {
	level, _ := permission.Parse(c.Agents.DefaultPermissionLevel)
	return epic.Config{
		BranchPrefix:           c.Orchestration.BranchPrefix,
		AgentPoolPrefix:        c.Orchestration.AgentPoolPrefix,
		AutoCreateBranches:     c.Orchestration.AutoCreateBranches,
		AutoAssignAgents:       c.Orchestration.AutoAssignAgents,
		MaxConcurrentSubTasks:  c.Orchestration.MaxConcurrentSubTasks,
		DefaultCapabilities:    c.Agents.DefaultCapabilities,
		DefaultPermissionLevel: level,
		HeartbeatInterval:      c.Agents.HeartbeatInterval,
		LivenessTimeout:        c.Agents.LivenessTimeout,
	}
}

// UserConfigPath returns the path to the user config file.
func UserConfigPath() string {
	return filepath.Join(userConfigDir(), "config.yaml")
}

// DefaultDebugLogPath returns the default debug log location.
func DefaultDebugLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".warren", "debug.log")
	}
	return filepath.Join(home, ".warren", "debug.log")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.max_attempts", 3)

	v.SetDefault("bedrock.enabled", false)
	v.SetDefault("bedrock.region", "")
	v.SetDefault("bedrock.profile", "")

	v.SetDefault("orchestration.branch_prefix", "epic")
	v.SetDefault("orchestration.agent_pool_prefix", "warren")
	v.SetDefault("orchestration.auto_create_branches", true)
	v.SetDefault("orchestration.auto_assign_agents", true)
	v.SetDefault("orchestration.max_concurrent_sub_tasks", 4)

	v.SetDefault("agents.default_capabilities", []string{})
	v.SetDefault("agents.default_permission_level", string(permission.Sandboxed))
	v.SetDefault("agents.heartbeat_interval", "0s")
	v.SetDefault("agents.liveness_timeout", "30s")

	v.SetDefault("retrieval.db_path", "")
	v.SetDefault("retrieval.source_dir", "")

	v.SetDefault("debug.log_path", "")
	v.SetDefault("metrics.addr", "")
}

// userConfigDir returns the XDG config directory for warren.
func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "warren")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "warren")
	}
	return filepath.Join(home, ".config", "warren")
}
