package models

import (
	"time"

	"github.com/warrenlabs/warren/pkg/branch"
)

// SubIssueAssignment binds one sub-task to an agent and a branch and tracks
// its lifecycle. Assignments are values: every change produces a new value
// that replaces the old one in the coordinator's table, never an in-place
// mutation. A Failed assignment always carries an ErrorMessage; a Completed
// one always carries CompletedAt.
type SubIssueAssignment struct {
	// EpicID is the owning epic.
	EpicID string `json:"epic_id"`
	// SubTaskID identifies the sub-task within the epic.
	SubTaskID string `json:"sub_task_id"`
	// Title is the sub-task's short name.
	Title string `json:"title,omitempty"`
	// Description explains the sub-task.
	Description string `json:"description,omitempty"`
	// AssignedAgentID is the agent working the sub-task, if assigned.
	AssignedAgentID string `json:"assigned_agent_id,omitempty"`
	// BranchName is the execution branch's name, if created.
	BranchName string `json:"branch_name,omitempty"`
	// Branch is the sub-task's execution record, owned exclusively by this
	// assignment. Nil until a branch is created.
	Branch *branch.Branch `json:"-"`
	// Status is the sub-task's position in the lifecycle.
	Status SubIssueStatus `json:"status"`
	// CreatedAt is when the assignment was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the sub-task completed, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// ErrorMessage records why the sub-task failed, if it did.
	ErrorMessage string `json:"error_message,omitempty"`
}

// Key returns the assignment's identity, unique within a coordinator.
func (a SubIssueAssignment) Key() (epicID, subTaskID string) {
	return a.EpicID, a.SubTaskID
}
