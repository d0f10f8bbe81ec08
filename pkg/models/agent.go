package models

import (
	"time"

	"github.com/warrenlabs/warren/pkg/permission"
)

// Agent represents a logical worker identity. Agents are in-process: an
// agent is a name, a capability set, and a permission level, not an OS
// process. LastHeartbeat is the only field the registry mutates after
// registration.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Capabilities are the skills the agent advertises, deduplicated and sorted.
	Capabilities []string `json:"capabilities,omitempty"`
	// PermissionLevel is the sandboxing tier assigned at registration.
	PermissionLevel permission.Level `json:"permission_level"`
	// LastHeartbeat is the most recent liveness signal.
	LastHeartbeat time.Time `json:"last_heartbeat"`
	// RegisteredAt is when the agent was registered.
	RegisteredAt time.Time `json:"registered_at"`
}

// HasCapability returns true if the agent advertises the named capability.
func (a Agent) HasCapability(name string) bool {
	for _, c := range a.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}
