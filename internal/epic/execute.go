package epic

import (
	"context"
	"fmt"
	"sync"

	"github.com/warrenlabs/warren/internal/agents"
	"github.com/warrenlabs/warren/pkg/models"
	"github.com/warrenlabs/warren/pkg/permission"
)

// WorkFunc is the caller-supplied closure run against an assignment. It
// receives a snapshot of the current assignment, including its branch, and
// returns an updated assignment or an error. What the function computes is
// opaque to the coordinator.
type WorkFunc func(ctx context.Context, a models.SubIssueAssignment) (models.SubIssueAssignment, error)

// Work pairs a work function with the operation kinds it intends to
// perform. Declared operations are checked against the assigned agent's
// permission level before the function runs.
type Work struct {
	// Requires lists the operations the function may perform. Empty means
	// the function promises to be side-effect-free.
	Requires []permission.Operation
	// Fn is the function executed against the assignment.
	Fn WorkFunc
}

// ExecResult is one sub-task's outcome from ExecuteManyConcurrently.
type ExecResult struct {
	// SubTaskID identifies which sub-task the result belongs to.
	SubTaskID string
	// Assignment is the stored assignment after execution, when one exists.
	Assignment models.SubIssueAssignment
	// Err is the execution error, nil on success.
	Err error
}

// workResult carries a work function's return across the completion channel.
type workResult struct {
	assignment models.SubIssueAssignment
	err        error
}

// ExecuteSubTask runs a work function against one assignment. The sub-task
// moves branch_created -> in_progress -> completed on success; any failure
// (work error, permission denial, cancellation) moves it to failed with the
// reason recorded and the branch left at its pre-call value. Concurrent
// calls for different sub-tasks are safe; callers serialize calls for the
// same (epic, sub-task) pair themselves.
func (c *Coordinator) ExecuteSubTask(ctx context.Context, epicID, subTaskID string, work Work) (models.SubIssueAssignment, error) {
	if work.Fn == nil {
		return models.SubIssueAssignment{}, fmt.Errorf("execute %s/%s: nil work function", epicID, subTaskID)
	}
	k := assignmentKey{epicID, subTaskID}

	c.mu.Lock()
	a, ok := c.assignments[k]
	if !ok {
		c.mu.Unlock()
		return models.SubIssueAssignment{}, fmt.Errorf("execute %s/%s: %w", epicID, subTaskID, ErrUnknownAssignment)
	}

	// Cancellation before any state change: skip the sub-task without ever
	// reaching in_progress.
	select {
	case <-ctx.Done():
		return c.failSkippedLocked(k, a, fmt.Sprintf("cancelled before start: %v", ctx.Err()))
	default:
	}

	if !a.Status.CanTransitionTo(models.StatusInProgress) {
		c.mu.Unlock()
		return a, &InvalidTransitionError{
			EpicID: epicID, SubTaskID: subTaskID,
			From: a.Status, To: models.StatusInProgress,
		}
	}

	if a.AssignedAgentID == "" {
		c.mu.Unlock()
		return a, fmt.Errorf("execute %s/%s: no agent assigned: %w", epicID, subTaskID, agents.ErrUnknownAgent)
	}
	agent, ok := c.registry.Get(a.AssignedAgentID)
	if !ok {
		c.mu.Unlock()
		return a, fmt.Errorf("execute %s/%s: agent %s: %w", epicID, subTaskID, a.AssignedAgentID, agents.ErrUnknownAgent)
	}

	// Permission gate: a denied work function fails the sub-task directly,
	// never reaching in_progress.
	if op, denied := permission.FirstDenied(agent.PermissionLevel, work.Requires); denied {
		perr := &PermissionDeniedError{AgentID: agent.ID, Level: agent.PermissionLevel, Op: op}
		stored, ferr := c.applyStatusLocked(k, models.StatusFailed, perr.Error())
		c.mu.Unlock()
		if ferr != nil {
			return stored, ferr
		}
		c.metrics.SubTaskFailedBeforeStart()
		c.logger.Log("sub-task %s/%s denied: %v", epicID, subTaskID, perr)
		if ev, ok := statusEvent(stored); ok {
			c.emit(ev)
		}
		return stored, perr
	}

	snapshot, err := c.applyStatusLocked(k, models.StatusInProgress, "")
	c.mu.Unlock()
	if err != nil {
		return snapshot, err
	}

	c.metrics.SubTaskStarted()
	c.logger.Log("sub-task %s/%s started on agent %s", epicID, subTaskID, agent.ID)
	if ev, ok := statusEvent(snapshot); ok {
		c.emit(ev)
	}

	// Keep the agent's heartbeat fresh while its work runs.
	var pulser *agents.Pulser
	if c.cfg.HeartbeatInterval > 0 {
		pulser = agents.NewPulser(c.registry, agent.ID, c.cfg.HeartbeatInterval)
		pulser.Start()
	}

	start := c.now()
	resultCh := make(chan workResult, 1)
	go func() {
		updated, err := work.Fn(ctx, snapshot)
		resultCh <- workResult{updated, err}
	}()

	var res workResult
	cancelled := false
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		cancelled = true
	}
	if pulser != nil {
		pulser.Stop()
	}
	elapsed := c.now().Sub(start)

	c.mu.Lock()
	if cancelled {
		stored, ferr := c.applyStatusLocked(k, models.StatusFailed, fmt.Sprintf("cancelled: %v", ctx.Err()))
		c.mu.Unlock()
		if ferr != nil {
			return stored, ferr
		}
		c.metrics.SubTaskFailed(elapsed)
		c.logger.Log("sub-task %s/%s cancelled after %s", epicID, subTaskID, elapsed)
		if ev, ok := statusEvent(stored); ok {
			c.emit(ev)
		}
		return stored, fmt.Errorf("execute %s/%s: %w", epicID, subTaskID, ErrCancelled)
	}

	if res.err != nil {
		stored, ferr := c.applyStatusLocked(k, models.StatusFailed, res.err.Error())
		c.mu.Unlock()
		if ferr != nil {
			return stored, ferr
		}
		c.metrics.SubTaskFailed(elapsed)
		c.logger.Log("sub-task %s/%s failed after %s: %v", epicID, subTaskID, elapsed, res.err)
		if ev, ok := statusEvent(stored); ok {
			c.emit(ev)
		}
		return stored, &WorkError{EpicID: epicID, SubTaskID: subTaskID, Err: res.err}
	}

	// Adopt the work function's result, pinning the coordinator-owned
	// fields, then complete. Nothing is stored unless the completion
	// transition is legal.
	cur := c.assignments[k]
	if !cur.Status.CanTransitionTo(models.StatusCompleted) {
		c.mu.Unlock()
		return cur, &InvalidTransitionError{
			EpicID: epicID, SubTaskID: subTaskID,
			From: cur.Status, To: models.StatusCompleted,
		}
	}
	stored := mergeWorkResult(cur, res.assignment)
	stored.Status = models.StatusCompleted
	completedAt := c.now()
	stored.CompletedAt = &completedAt
	stored.ErrorMessage = ""
	c.assignments[k] = stored
	c.mu.Unlock()

	c.metrics.SubTaskCompleted(elapsed)
	c.logger.Log("sub-task %s/%s completed in %s", epicID, subTaskID, elapsed)
	if ev, ok := statusEvent(stored); ok {
		c.emit(ev)
	}
	return stored, nil
}

// failSkippedLocked fails a not-yet-started assignment on cancellation.
// Called with c.mu held; releases it. Terminal assignments are returned
// as-is since the skip has nothing left to record.
func (c *Coordinator) failSkippedLocked(k assignmentKey, a models.SubIssueAssignment, msg string) (models.SubIssueAssignment, error) {
	if a.Status.Terminal() {
		c.mu.Unlock()
		return a, fmt.Errorf("execute %s/%s: %w", k.epicID, k.subTaskID, ErrCancelled)
	}
	stored, ferr := c.applyStatusLocked(k, models.StatusFailed, msg)
	c.mu.Unlock()
	if ferr != nil {
		return stored, ferr
	}
	c.metrics.SubTaskFailedBeforeStart()
	c.logger.Log("sub-task %s/%s skipped: %s", k.epicID, k.subTaskID, msg)
	if ev, ok := statusEvent(stored); ok {
		c.emit(ev)
	}
	return stored, fmt.Errorf("execute %s/%s: %w", k.epicID, k.subTaskID, ErrCancelled)
}

// mergeWorkResult adopts the fields a work function may legitimately change
// while pinning the ones the coordinator owns.
func mergeWorkResult(cur, updated models.SubIssueAssignment) models.SubIssueAssignment {
	next := cur
	next.Title = updated.Title
	next.Description = updated.Description
	next.Branch = updated.Branch
	return next
}

// ExecuteManyConcurrently runs the work function against each listed
// sub-task, admitting at most MaxConcurrentSubTasks at a time. Every id
// yields a result at its input position; one sub-task's failure never
// aborts the others. A cancelled context fails queued sub-tasks with
// ErrCancelled without running them.
func (c *Coordinator) ExecuteManyConcurrently(ctx context.Context, epicID string, subTaskIDs []string, work Work) []ExecResult {
	results := make([]ExecResult, len(subTaskIDs))
	gate := make(chan struct{}, c.cfg.MaxConcurrentSubTasks)

	var wg sync.WaitGroup
	for i, subTaskID := range subTaskIDs {
		wg.Add(1)
		go func(i int, subTaskID string) {
			defer wg.Done()

			select {
			case gate <- struct{}{}:
				defer func() { <-gate }()
			case <-ctx.Done():
				// Skip without consuming a slot; ExecuteSubTask records the
				// cancellation.
			}

			a, err := c.ExecuteSubTask(ctx, epicID, subTaskID, work)
			results[i] = ExecResult{SubTaskID: subTaskID, Assignment: a, Err: err}
		}(i, subTaskID)
	}
	wg.Wait()
	return results
}
