// Package agents tracks the logical workers sub-tasks are assigned to:
// registration, capability sets, permission levels, and liveness heartbeats.
package agents

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warrenlabs/warren/pkg/models"
	"github.com/warrenlabs/warren/pkg/permission"
)

var (
	// ErrDuplicateAgent is returned by Register when the id is taken.
	// Callers may treat it as "already present" and read the existing agent.
	ErrDuplicateAgent = errors.New("agent already registered")
	// ErrUnknownAgent is returned when an agent id is not registered.
	ErrUnknownAgent = errors.New("unknown agent")
)

// entry holds one registration. Everything in agent is immutable after
// Register; lastSeen is unix nanoseconds written atomically so heartbeats on
// independent agents never contend on a shared lock.
type entry struct {
	agent    models.Agent
	lastSeen atomic.Int64
}

// snapshot materializes the entry into a standalone Agent value.
func (e *entry) snapshot() models.Agent {
	a := e.agent
	a.LastHeartbeat = time.Unix(0, e.lastSeen.Load())
	caps := make([]string, len(a.Capabilities))
	copy(caps, a.Capabilities)
	a.Capabilities = caps
	return a
}

// Registry provides thread-safe registration and liveness tracking for
// agents. It is the only writer to agent state.
type Registry struct {
	// mu protects the map shape; per-agent heartbeats bypass it.
	mu sync.RWMutex
	// agents maps agent IDs to their registrations.
	agents map[string]*entry
	// now returns the current time; replaced in tests.
	now func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithNowFunc replaces the registry's clock. Intended for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		agents: make(map[string]*entry),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a new agent. It fails with ErrDuplicateAgent if the id is
// taken and rejects empty ids and unknown permission levels. The returned
// agent's LastHeartbeat equals its registration time, so a fresh agent is
// healthy for one liveness window without beating.
func (r *Registry) Register(id string, capabilities []string, level permission.Level) (models.Agent, error) {
	if id == "" {
		return models.Agent{}, fmt.Errorf("register agent: empty id")
	}
	if !level.Valid() {
		return models.Agent{}, fmt.Errorf("register agent %s: invalid permission level %q", id, level)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; exists {
		return models.Agent{}, fmt.Errorf("register agent %s: %w", id, ErrDuplicateAgent)
	}

	now := r.now()
	e := &entry{agent: models.Agent{
		ID:              id,
		Capabilities:    normalizeCapabilities(capabilities),
		PermissionLevel: level,
		RegisteredAt:    now,
	}}
	e.lastSeen.Store(now.UnixNano())
	r.agents[id] = e
	return e.snapshot(), nil
}

// Heartbeat records a liveness signal for the agent. Fails with
// ErrUnknownAgent if the id is not registered.
func (r *Registry) Heartbeat(id string) error {
	r.mu.RLock()
	e, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("heartbeat agent %s: %w", id, ErrUnknownAgent)
	}
	e.lastSeen.Store(r.now().UnixNano())
	return nil
}

// GetOrCreate returns the agent if registered, creating it otherwise. It
// never fails: an invalid default level falls back to Isolated, the most
// restrictive tier. Existing agents are returned as-is, whatever defaults
// are passed.
func (r *Registry) GetOrCreate(id string, defaultCapabilities []string, defaultLevel permission.Level) models.Agent {
	r.mu.RLock()
	e, ok := r.agents[id]
	r.mu.RUnlock()
	if ok {
		return e.snapshot()
	}

	if !defaultLevel.Valid() {
		defaultLevel = permission.Isolated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have created it between the locks.
	if e, ok := r.agents[id]; ok {
		return e.snapshot()
	}

	now := r.now()
	e = &entry{agent: models.Agent{
		ID:              id,
		Capabilities:    normalizeCapabilities(defaultCapabilities),
		PermissionLevel: defaultLevel,
		RegisteredAt:    now,
	}}
	e.lastSeen.Store(now.UnixNano())
	r.agents[id] = e
	return e.snapshot()
}

// IsHealthy reports whether the agent heartbeated within livenessTimeout.
// Unknown agents are never healthy.
func (r *Registry) IsHealthy(id string, livenessTimeout time.Duration) bool {
	r.mu.RLock()
	e, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	last := time.Unix(0, e.lastSeen.Load())
	return r.now().Sub(last) <= livenessTimeout
}

// Get retrieves an agent snapshot by ID.
func (r *Registry) Get(id string) (models.Agent, bool) {
	r.mu.RLock()
	e, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return models.Agent{}, false
	}
	return e.snapshot(), true
}

// All returns snapshots of every registered agent, sorted by ID.
func (r *Registry) All() []models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Agent, 0, len(r.agents))
	for _, e := range r.agents {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// normalizeCapabilities drops empties and duplicates and sorts the rest so
// capability sets compare predictably.
func normalizeCapabilities(caps []string) []string {
	seen := make(map[string]bool, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
