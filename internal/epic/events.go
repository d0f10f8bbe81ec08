// Package epic implements the orchestration entry point: epic registration,
// sub-task assignment, the status lifecycle, and bounded concurrent
// execution of caller-supplied work functions.
package epic

import (
	"time"

	"github.com/warrenlabs/warren/pkg/models"
)

// EventType represents the type of coordinator event.
type EventType string

const (
	// EventEpicRegistered indicates a new epic was registered.
	EventEpicRegistered EventType = "epic_registered"
	// EventSubTaskAssigned indicates an agent was attached to a sub-task.
	EventSubTaskAssigned EventType = "sub_task_assigned"
	// EventBranchCreated indicates a sub-task received its execution branch.
	EventBranchCreated EventType = "branch_created"
	// EventSubTaskStarted indicates a work function began running.
	EventSubTaskStarted EventType = "sub_task_started"
	// EventSubTaskCompleted indicates a sub-task finished successfully.
	EventSubTaskCompleted EventType = "sub_task_completed"
	// EventSubTaskFailed indicates a sub-task failed or was cancelled.
	EventSubTaskFailed EventType = "sub_task_failed"
)

// Event represents a coordinator state change. Events feed the TUI and any
// other subscriber on the emitter's channel.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// EpicID is the related epic.
	EpicID string
	// SubTaskID is the related sub-task, if applicable.
	SubTaskID string
	// AgentID is the related agent, if applicable.
	AgentID string
	// BranchName is the related branch, if applicable.
	BranchName string
	// Status is the assignment's status after the change, if applicable.
	Status models.SubIssueStatus
	// Message provides additional context about the event.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
