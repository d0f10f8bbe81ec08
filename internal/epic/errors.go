package epic

import (
	"errors"
	"fmt"

	"github.com/warrenlabs/warren/pkg/models"
	"github.com/warrenlabs/warren/pkg/permission"
)

var (
	// ErrDuplicateEpic is returned when an epic id is already registered.
	// Callers may treat it as "already present" and read the existing epic.
	ErrDuplicateEpic = errors.New("epic already registered")
	// ErrUnknownEpic is returned when an epic id is not registered.
	ErrUnknownEpic = errors.New("unknown epic")
	// ErrUnknownSubTask is returned when a sub-task id is not part of the epic.
	ErrUnknownSubTask = errors.New("unknown sub-task")
	// ErrUnknownAssignment is returned when no assignment exists for the pair.
	ErrUnknownAssignment = errors.New("unknown assignment")
	// ErrEmptySubTaskList is returned when an epic is registered without sub-tasks.
	ErrEmptySubTaskList = errors.New("epic has no sub-tasks")
	// ErrDuplicateSubTask is returned when a sub-task id repeats within one epic.
	ErrDuplicateSubTask = errors.New("duplicate sub-task id")
	// ErrCancelled is returned when the cancellation signal fired before or
	// during a sub-task's execution.
	ErrCancelled = errors.New("execution cancelled")
	// ErrInvalidStatusTransition matches any InvalidTransitionError.
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	// ErrPermissionDenied matches any PermissionDeniedError.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrWorkFailure matches any WorkError.
	ErrWorkFailure = errors.New("work function failed")
)

// InvalidTransitionError reports a lifecycle move the state machine rejects.
// The stored assignment is left untouched when one is returned.
type InvalidTransitionError struct {
	// EpicID and SubTaskID identify the assignment.
	EpicID    string
	SubTaskID string
	// From and To are the rejected transition's endpoints.
	From models.SubIssueStatus
	To   models.SubIssueStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("sub-task %s/%s: invalid status transition %s -> %s",
		e.EpicID, e.SubTaskID, e.From, e.To)
}

// Is lets errors.Is match against ErrInvalidStatusTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}

// PermissionDeniedError reports a work function requesting an operation
// outside its agent's permission level. The sub-task is failed without ever
// reaching in_progress.
type PermissionDeniedError struct {
	// AgentID is the agent whose level was insufficient.
	AgentID string
	// Level is the agent's assigned tier.
	Level permission.Level
	// Op is the denied operation.
	Op permission.Operation
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("agent %s at level %s may not perform %s", e.AgentID, e.Level, e.Op)
}

// Is lets errors.Is match against ErrPermissionDenied.
func (e *PermissionDeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// WorkError wraps whatever a caller-supplied work function reported. The
// cause is preserved for errors.Is/As and recorded on the assignment.
type WorkError struct {
	// EpicID and SubTaskID identify the assignment that failed.
	EpicID    string
	SubTaskID string
	// Err is the work function's error.
	Err error
}

func (e *WorkError) Error() string {
	return fmt.Sprintf("sub-task %s/%s: work function failed: %v", e.EpicID, e.SubTaskID, e.Err)
}

// Unwrap exposes the work function's error.
func (e *WorkError) Unwrap() error { return e.Err }

// Is lets errors.Is match against ErrWorkFailure.
func (e *WorkError) Is(target error) bool {
	return target == ErrWorkFailure
}
