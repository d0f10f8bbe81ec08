package epic

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warrenlabs/warren/internal/agents"
	"github.com/warrenlabs/warren/internal/metrics"
	"github.com/warrenlabs/warren/pkg/branch"
	"github.com/warrenlabs/warren/pkg/models"
)

// assignmentKey identifies one assignment in the coordinator's table.
type assignmentKey struct {
	epicID    string
	subTaskID string
}

// Coordinator registers epics, binds sub-tasks to agents and branches,
// enforces the assignment lifecycle, and executes work functions under a
// bounded-parallelism policy. It exclusively owns the epic and assignment
// tables; every stored assignment is a value replaced whole on change.
type Coordinator struct {
	cfg      Config
	registry *agents.Registry

	// mu protects epics and assignments.
	mu          sync.RWMutex
	epics       map[string]models.Epic
	assignments map[assignmentKey]models.SubIssueAssignment

	emitter *Emitter
	logger  *DebugLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// CoordinatorOption configures a Coordinator at construction.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithEmitter sets the event emitter subscribers receive on.
func WithEmitter(e *Emitter) CoordinatorOption {
	return func(c *Coordinator) { c.emitter = e }
}

// WithMetrics sets the metrics handle.
func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithNowFunc replaces the coordinator's clock. Intended for tests.
func WithNowFunc(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator over the given registry. Unset config fields
// take defaults; an unrepairable config is rejected.
func New(registry *agents.Registry, cfg Config, opts ...CoordinatorOption) (*Coordinator, error) {
	if registry == nil {
		return nil, fmt.Errorf("coordinator: nil agent registry")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:         cfg,
		registry:    registry,
		epics:       make(map[string]models.Epic),
		assignments: make(map[assignmentKey]models.SubIssueAssignment),
		logger:      NopLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the coordinator's effective configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// Registry returns the agent registry the coordinator assigns from.
func (c *Coordinator) Registry() *agents.Registry { return c.registry }

// emit forwards an event to the emitter, stamping the time. Callers must
// not hold c.mu: a full emitter buffer can stall up to its grace period.
func (c *Coordinator) emit(ev Event) {
	if c.emitter == nil {
		return
	}
	ev.Timestamp = c.now()
	c.emitter.Emit(ev)
}

// RegisterEpic registers a named unit of work and creates one assignment per
// sub-task id. With AutoAssignAgents each assignment gets a pool agent named
// "{AgentPoolPrefix}-{epicID}-{subTaskID}"; with AutoCreateBranches it gets
// a branch named "{BranchPrefix}-{epicID}/sub-task-{subTaskID}" and moves to
// branch_created. Without the flags assignments stay pending until
// AssignSubTask.
func (c *Coordinator) RegisterEpic(epicID, title, description string, subTaskIDs []string) (models.Epic, error) {
	if epicID == "" {
		return models.Epic{}, fmt.Errorf("register epic: empty id")
	}
	if len(subTaskIDs) == 0 {
		return models.Epic{}, fmt.Errorf("register epic %s: %w", epicID, ErrEmptySubTaskList)
	}
	seen := make(map[string]bool, len(subTaskIDs))
	for _, id := range subTaskIDs {
		if id == "" {
			return models.Epic{}, fmt.Errorf("register epic %s: empty sub-task id", epicID)
		}
		if seen[id] {
			return models.Epic{}, fmt.Errorf("register epic %s: sub-task %s: %w", epicID, id, ErrDuplicateSubTask)
		}
		seen[id] = true
	}

	var pending []Event

	c.mu.Lock()
	if _, exists := c.epics[epicID]; exists {
		c.mu.Unlock()
		return models.Epic{}, fmt.Errorf("register epic %s: %w", epicID, ErrDuplicateEpic)
	}

	now := c.now()
	ids := make([]string, len(subTaskIDs))
	copy(ids, subTaskIDs)
	e := models.Epic{
		ID:          epicID,
		Title:       title,
		Description: description,
		SubTaskIDs:  ids,
		CreatedAt:   now,
	}
	c.epics[epicID] = e

	for _, subTaskID := range subTaskIDs {
		a := models.SubIssueAssignment{
			EpicID:    epicID,
			SubTaskID: subTaskID,
			Status:    models.StatusPending,
			CreatedAt: now,
		}
		if c.cfg.AutoAssignAgents {
			agentID := c.cfg.AgentName(epicID, subTaskID)
			c.registry.GetOrCreate(agentID, c.cfg.DefaultCapabilities, c.cfg.DefaultPermissionLevel)
			a.AssignedAgentID = agentID
			pending = append(pending, Event{
				Type: EventSubTaskAssigned, EpicID: epicID, SubTaskID: subTaskID, AgentID: agentID,
			})
		}
		if c.cfg.AutoCreateBranches {
			name := c.cfg.BranchName(epicID, subTaskID)
			b := branch.New(name)
			a.BranchName = name
			a.Branch = &b
			a.Status = models.StatusBranchCreated
			pending = append(pending, Event{
				Type: EventBranchCreated, EpicID: epicID, SubTaskID: subTaskID,
				BranchName: name, Status: a.Status,
			})
		}
		c.assignments[assignmentKey{epicID, subTaskID}] = a
	}
	c.mu.Unlock()

	c.logger.Log("registered epic %s with %d sub-tasks", epicID, len(subTaskIDs))
	c.metrics.EpicRegistered()
	c.emit(Event{Type: EventEpicRegistered, EpicID: epicID, Message: title})
	for _, ev := range pending {
		c.emit(ev)
	}
	return e, nil
}

// AssignSubTask is the manual assignment path, used when auto-assignment is
// off or an assignment must be redone. An empty preferredAgentID selects the
// conventional pool agent. The branch is created if missing and a pending
// assignment advances to branch_created. Terminal assignments are immutable.
func (c *Coordinator) AssignSubTask(epicID, subTaskID, preferredAgentID string) (models.SubIssueAssignment, error) {
	var pending []Event

	c.mu.Lock()
	e, ok := c.epics[epicID]
	if !ok {
		c.mu.Unlock()
		return models.SubIssueAssignment{}, fmt.Errorf("assign %s/%s: %w", epicID, subTaskID, ErrUnknownEpic)
	}
	if !containsID(e.SubTaskIDs, subTaskID) {
		c.mu.Unlock()
		return models.SubIssueAssignment{}, fmt.Errorf("assign %s/%s: %w", epicID, subTaskID, ErrUnknownSubTask)
	}

	k := assignmentKey{epicID, subTaskID}
	a := c.assignments[k]
	if a.Status.Terminal() {
		c.mu.Unlock()
		return a, &InvalidTransitionError{
			EpicID: epicID, SubTaskID: subTaskID,
			From: a.Status, To: models.StatusBranchCreated,
		}
	}

	agentID := preferredAgentID
	if agentID == "" {
		agentID = c.cfg.AgentName(epicID, subTaskID)
	}
	c.registry.GetOrCreate(agentID, c.cfg.DefaultCapabilities, c.cfg.DefaultPermissionLevel)
	a.AssignedAgentID = agentID
	pending = append(pending, Event{
		Type: EventSubTaskAssigned, EpicID: epicID, SubTaskID: subTaskID, AgentID: agentID,
	})

	if a.Branch == nil {
		name := c.cfg.BranchName(epicID, subTaskID)
		b := branch.New(name)
		a.BranchName = name
		a.Branch = &b
		pending = append(pending, Event{
			Type: EventBranchCreated, EpicID: epicID, SubTaskID: subTaskID, BranchName: name,
		})
	}
	if a.Status == models.StatusPending {
		a.Status = models.StatusBranchCreated
	}
	c.assignments[k] = a
	c.mu.Unlock()

	c.logger.Log("assigned %s/%s to agent %s", epicID, subTaskID, agentID)
	for _, ev := range pending {
		c.emit(ev)
	}
	return a, nil
}

// GetAssignments returns snapshot copies of the epic's assignments in the
// epic's sub-task order. Unknown epics yield an empty slice.
func (c *Coordinator) GetAssignments(epicID string) []models.SubIssueAssignment {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.epics[epicID]
	if !ok {
		return nil
	}
	out := make([]models.SubIssueAssignment, 0, len(e.SubTaskIDs))
	for _, subTaskID := range e.SubTaskIDs {
		if a, ok := c.assignments[assignmentKey{epicID, subTaskID}]; ok {
			out = append(out, a)
		}
	}
	return out
}

// GetAssignment returns one assignment by its pair key.
func (c *Coordinator) GetAssignment(epicID, subTaskID string) (models.SubIssueAssignment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.assignments[assignmentKey{epicID, subTaskID}]
	return a, ok
}

// GetEpic returns a registered epic by id.
func (c *Coordinator) GetEpic(epicID string) (models.Epic, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.epics[epicID]
	return e, ok
}

// Epics returns every registered epic, sorted by id.
func (c *Coordinator) Epics() []models.Epic {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Epic, 0, len(c.epics))
	for _, e := range c.epics {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateStatus applies a lifecycle move to an assignment. Moves the state
// machine rejects return an InvalidTransitionError and leave the stored
// value untouched. A move to failed requires an error message; a move to
// completed stamps CompletedAt.
func (c *Coordinator) UpdateStatus(epicID, subTaskID string, newStatus models.SubIssueStatus, errorMessage string) (models.SubIssueAssignment, error) {
	if !newStatus.Valid() {
		return models.SubIssueAssignment{}, fmt.Errorf("update %s/%s: unknown status %q", epicID, subTaskID, newStatus)
	}
	if newStatus == models.StatusFailed && errorMessage == "" {
		return models.SubIssueAssignment{}, fmt.Errorf("update %s/%s: failed status requires an error message", epicID, subTaskID)
	}

	c.mu.Lock()
	a, err := c.applyStatusLocked(assignmentKey{epicID, subTaskID}, newStatus, errorMessage)
	c.mu.Unlock()
	if err != nil {
		return a, err
	}

	c.logger.Log("sub-task %s/%s -> %s", epicID, subTaskID, newStatus)
	if ev, ok := statusEvent(a); ok {
		c.emit(ev)
	}
	return a, nil
}

// applyStatusLocked validates and applies one lifecycle move. Callers hold
// c.mu. On rejection the stored assignment is returned unchanged alongside
// the error.
func (c *Coordinator) applyStatusLocked(k assignmentKey, to models.SubIssueStatus, errorMessage string) (models.SubIssueAssignment, error) {
	a, ok := c.assignments[k]
	if !ok {
		return models.SubIssueAssignment{}, fmt.Errorf("sub-task %s/%s: %w", k.epicID, k.subTaskID, ErrUnknownAssignment)
	}
	if !a.Status.CanTransitionTo(to) {
		return a, &InvalidTransitionError{
			EpicID: k.epicID, SubTaskID: k.subTaskID,
			From: a.Status, To: to,
		}
	}

	a.Status = to
	switch to {
	case models.StatusCompleted:
		t := c.now()
		a.CompletedAt = &t
	case models.StatusFailed:
		a.ErrorMessage = errorMessage
	}
	c.assignments[k] = a
	return a, nil
}

// statusEvent maps an assignment's status to the event announcing it.
func statusEvent(a models.SubIssueAssignment) (Event, bool) {
	ev := Event{
		EpicID: a.EpicID, SubTaskID: a.SubTaskID, AgentID: a.AssignedAgentID,
		BranchName: a.BranchName, Status: a.Status, Message: a.ErrorMessage,
	}
	switch a.Status {
	case models.StatusBranchCreated:
		ev.Type = EventBranchCreated
	case models.StatusInProgress:
		ev.Type = EventSubTaskStarted
	case models.StatusCompleted:
		ev.Type = EventSubTaskCompleted
	case models.StatusFailed:
		ev.Type = EventSubTaskFailed
	default:
		return Event{}, false
	}
	return ev, true
}

func containsID(ids []string, id string) bool {
	for _, have := range ids {
		if have == id {
			return true
		}
	}
	return false
}
