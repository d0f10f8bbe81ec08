package epic

import (
	"fmt"
	"time"

	"github.com/warrenlabs/warren/pkg/permission"
)

// Config contains the coordinator's construction-time settings. It is
// immutable for the coordinator's lifetime.
type Config struct {
	// BranchPrefix heads every branch name: "{prefix}-{epic}/sub-task-{id}".
	BranchPrefix string
	// AgentPoolPrefix heads every auto-created agent name: "{prefix}-{epic}-{id}".
	AgentPoolPrefix string
	// AutoCreateBranches creates each sub-task's branch at epic registration.
	AutoCreateBranches bool
	// AutoAssignAgents attaches a pool agent to each sub-task at registration.
	AutoAssignAgents bool
	// MaxConcurrentSubTasks bounds how many work functions run at once.
	MaxConcurrentSubTasks int
	// DefaultCapabilities seed agents created through the auto-assign path.
	DefaultCapabilities []string
	// DefaultPermissionLevel is the tier for auto-created agents.
	DefaultPermissionLevel permission.Level
	// HeartbeatInterval drives a per-execution heartbeat pulser for the
	// assigned agent. Zero disables pulsing.
	HeartbeatInterval time.Duration
	// LivenessTimeout is the staleness window reported to callers asking
	// about agent health.
	LivenessTimeout time.Duration
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		BranchPrefix:           "epic",
		AgentPoolPrefix:        "warren",
		AutoCreateBranches:     true,
		AutoAssignAgents:       true,
		MaxConcurrentSubTasks:  4,
		DefaultPermissionLevel: permission.Sandboxed,
		LivenessTimeout:        30 * time.Second,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BranchPrefix == "" {
		c.BranchPrefix = def.BranchPrefix
	}
	if c.AgentPoolPrefix == "" {
		c.AgentPoolPrefix = def.AgentPoolPrefix
	}
	if c.MaxConcurrentSubTasks < 1 {
		c.MaxConcurrentSubTasks = def.MaxConcurrentSubTasks
	}
	if c.DefaultPermissionLevel == "" {
		c.DefaultPermissionLevel = def.DefaultPermissionLevel
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = def.LivenessTimeout
	}
	return c
}

// Validate checks the fields withDefaults cannot repair.
func (c Config) Validate() error {
	if !c.DefaultPermissionLevel.Valid() {
		return fmt.Errorf("config: invalid default permission level %q", c.DefaultPermissionLevel)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("config: negative heartbeat interval %s", c.HeartbeatInterval)
	}
	return nil
}

// BranchName returns the conventional branch name for a sub-task.
func (c Config) BranchName(epicID, subTaskID string) string {
	return fmt.Sprintf("%s-%s/sub-task-%s", c.BranchPrefix, epicID, subTaskID)
}

// AgentName returns the conventional pool agent name for a sub-task.
func (c Config) AgentName(epicID, subTaskID string) string {
	return fmt.Sprintf("%s-%s-%s", c.AgentPoolPrefix, epicID, subTaskID)
}
