// Package models defines the value types shared across the orchestration
// core: agents, epics, sub-task assignments, and the assignment lifecycle.
package models

import "time"

// Epic is a named unit of work decomposed into independent sub-tasks.
// Immutable once registered.
type Epic struct {
	// ID is the unique identifier for this epic.
	ID string `json:"id"`
	// Title is the short human-readable name.
	Title string `json:"title"`
	// Description explains the unit of work.
	Description string `json:"description,omitempty"`
	// SubTaskIDs lists the epic's sub-tasks in registration order.
	SubTaskIDs []string `json:"sub_task_ids"`
	// CreatedAt is when the epic was registered.
	CreatedAt time.Time `json:"created_at"`
}
