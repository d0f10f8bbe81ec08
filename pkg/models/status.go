package models

// SubIssueStatus represents where a sub-task is in its lifecycle.
type SubIssueStatus string

const (
	// StatusPending indicates the sub-task is registered but not yet assigned.
	StatusPending SubIssueStatus = "pending"
	// StatusBranchCreated indicates the sub-task has a branch and is ready to run.
	StatusBranchCreated SubIssueStatus = "branch_created"
	// StatusInProgress indicates a work function is running against the sub-task.
	StatusInProgress SubIssueStatus = "in_progress"
	// StatusCompleted indicates the sub-task finished successfully. Terminal.
	StatusCompleted SubIssueStatus = "completed"
	// StatusFailed indicates the sub-task failed or was cancelled. Terminal.
	StatusFailed SubIssueStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s SubIssueStatus) Valid() bool {
	switch s {
	case StatusPending, StatusBranchCreated, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if no transition may leave the status. A failed
// sub-task is retried by registering a new assignment, never by resurrecting
// the old one.
func (s SubIssueStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// statusTransitions is the single source of truth for the lifecycle.
// Completion requires an in-progress run; failure is reachable from any
// non-terminal state so cancellation and permission denial can skip straight
// past execution.
var statusTransitions = map[SubIssueStatus][]SubIssueStatus{
	StatusPending:       {StatusBranchCreated, StatusFailed},
	StatusBranchCreated: {StatusInProgress, StatusFailed},
	StatusInProgress:    {StatusCompleted, StatusFailed},
	StatusCompleted:     {},
	StatusFailed:        {},
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// step. Every status write goes through this check.
func (s SubIssueStatus) CanTransitionTo(next SubIssueStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}
